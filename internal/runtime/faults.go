package runtime

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
)

// FaultHandler receives every contained error; no error silently vanishes.
type FaultHandler interface {
	// ModuleError reports a module failure that aborted one tick of one
	// cycler. Other cyclers keep running.
	ModuleError(cycler, module string, tick uint64, err error)
	// Stale reports that a cycler's published output exceeded the maximum
	// allowed age.
	Stale(cycler string, age time.Duration)
}

// ActuationGuard is the default fault policy: partially computed control
// state is unsafe to act on, so any fault halts actuation for the whole robot
// while last-good state stays visible for diagnostics.
type ActuationGuard struct {
	halted  atomic.Bool
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewActuationGuard creates the default fault handler.
func NewActuationGuard(logger *logging.Logger, metrics *monitoring.Metrics) *ActuationGuard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ActuationGuard{logger: logger.Named("faults"), metrics: metrics}
}

// Halted reports whether actuation is currently held halted. The actuation
// layer must check this before commanding hardware.
func (g *ActuationGuard) Halted() bool {
	return g.halted.Load()
}

// Resume clears the halt after an operator intervention.
func (g *ActuationGuard) Resume() {
	if g.halted.Swap(false) {
		g.logger.Warn("actuation resumed by operator")
		if g.metrics != nil {
			g.metrics.ActuationHalted.Set(0)
		}
	}
}

// ModuleError implements FaultHandler.
func (g *ActuationGuard) ModuleError(cycler, module string, tick uint64, err error) {
	g.logger.Error("module fault, halting actuation",
		zap.String("cycler", cycler),
		zap.String("module", module),
		zap.Uint64("tick", tick),
		zap.Error(err))
	g.halt()
}

// Stale implements FaultHandler.
func (g *ActuationGuard) Stale(cycler string, age time.Duration) {
	g.logger.Error("cycler output stale, halting actuation",
		zap.String("cycler", cycler),
		zap.Duration("age", age))
	if g.metrics != nil {
		g.metrics.StalenessTrips.WithLabelValues(cycler).Inc()
	}
	g.halt()
}

func (g *ActuationGuard) halt() {
	if !g.halted.Swap(true) && g.metrics != nil {
		g.metrics.ActuationHalted.Set(1)
	}
}
