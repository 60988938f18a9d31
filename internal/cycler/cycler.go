// Package cycler drives one execution context through repeated ticks,
// executing its compiled module plan and publishing the resulting database.
package cycler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/channel"
	"github.com/striderobotics/cyclekit/internal/historic"
	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
	"github.com/striderobotics/cyclekit/internal/params"
	"github.com/striderobotics/cyclekit/internal/pipeline"
	"github.com/striderobotics/cyclekit/internal/types"
)

// Phase is the cycler's state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhasePublishing Phase = "publishing"
)

// TelemetrySink receives each published database. Offer must never block.
type TelemetrySink interface {
	Offer(db *types.Database)
}

// FaultSink receives contained module execution errors.
type FaultSink interface {
	ModuleError(cycler, module string, tick uint64, err error)
}

// Config wires one cycler to its compiled plan and shared resources.
type Config struct {
	Plan    *pipeline.CyclerPlan
	Trigger Trigger

	Out              *channel.Slot[*types.Database]
	Buffer           *historic.Buffer // nil when the plan has no historic buffer
	Upstream         map[string]*channel.Slot[*types.Database]
	UpstreamHistoric map[string]*historic.Buffer

	Params    *params.Store
	Telemetry TelemetrySink // optional
	Faults    FaultSink     // optional
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics // optional
}

// Cycler executes a compiled plan once per trigger. All tick work happens on
// the single goroutine running Run; cross-cycler interaction goes exclusively
// through channels, historic buffers, and the parameter store.
type Cycler struct {
	name    string
	plan    *pipeline.CyclerPlan
	trigger Trigger

	out              *channel.Slot[*types.Database]
	buffer           *historic.Buffer
	upstream         map[string]*channel.Slot[*types.Database]
	upstreamHistoric map[string]*historic.Buffer

	params    *params.Store
	telemetry TelemetrySink
	faults    FaultSink
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	states map[string]any
	tick   uint64
	phase  atomic.Value // Phase
}

// New builds a cycler from its compiled plan. Persistent module state is
// initialized here, once, and survives until process shutdown.
func New(cfg Config) (*Cycler, error) {
	if cfg.Plan == nil {
		return nil, errors.New("cycler: plan is required")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("cycler: %s: trigger is required", cfg.Plan.Name)
	}
	if cfg.Out == nil {
		return nil, fmt.Errorf("cycler: %s: output slot is required", cfg.Plan.Name)
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("cycler: %s: parameter store is required", cfg.Plan.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	c := &Cycler{
		name:             cfg.Plan.Name,
		plan:             cfg.Plan,
		trigger:          cfg.Trigger,
		out:              cfg.Out,
		buffer:           cfg.Buffer,
		upstream:         cfg.Upstream,
		upstreamHistoric: cfg.UpstreamHistoric,
		params:           cfg.Params,
		telemetry:        cfg.Telemetry,
		faults:           cfg.Faults,
		logger:           cfg.Logger.Named(cfg.Plan.Name),
		metrics:          cfg.Metrics,
		states:           make(map[string]any),
	}
	c.phase.Store(PhaseIdle)

	for _, mp := range c.plan.Modules {
		if !mp.Desc.State {
			continue
		}
		if stateful, ok := mp.Module.(types.Stateful); ok {
			c.states[mp.Desc.Name] = stateful.InitialState()
		}
	}
	return c, nil
}

// Name returns the cycler's name.
func (c *Cycler) Name() string {
	return c.name
}

// Phase returns the current state machine position.
func (c *Cycler) Phase() Phase {
	return c.phase.Load().(Phase)
}

// Tick returns the number of started ticks.
func (c *Cycler) Tick() uint64 {
	return atomic.LoadUint64(&c.tick)
}

// Run executes ticks until the context is cancelled or the trigger closes.
// A tick in flight when cancellation arrives still completes its publishing
// phase; the slot never holds a partial snapshot.
func (c *Cycler) Run(ctx context.Context) error {
	c.logger.Info("cycler started", zap.Int("modules", len(c.plan.Modules)))
	for {
		timestamp, err := c.trigger.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrTriggerClosed) {
				c.logger.Info("cycler stopped", zap.Uint64("ticks", c.Tick()))
				return nil
			}
			return err
		}
		c.RunTick(timestamp)
	}
}

// RunTick executes one full tick: Running, then Publishing, then back to
// Idle. A module error aborts the tick without publishing, so consumers keep
// observing the previous snapshot.
func (c *Cycler) RunTick(timestamp time.Time) {
	start := time.Now()
	c.phase.Store(PhaseRunning)
	defer c.phase.Store(PhaseIdle)

	tick := atomic.AddUint64(&c.tick, 1)
	db := types.NewDatabase(c.name, tick, timestamp)

	// One snapshot per upstream channel per tick: every module in this tick
	// sees the same cross-cycler state.
	snapshots := make(map[string]*types.Database, len(c.upstream))
	for producer, slot := range c.upstream {
		if snapshot, _, ok := slot.Read(); ok {
			snapshots[producer] = snapshot
		}
	}
	view := c.params.View()

	for _, mp := range c.plan.Modules {
		mctx := c.resolve(mp, db, snapshots, view)

		if err := mp.Module.Step(mctx); err != nil {
			c.abortTick(mp.Desc.Name, tick, err)
			return
		}
		if missing := mctx.MissingOutputs(); len(missing) > 0 {
			c.abortTick(mp.Desc.Name, tick,
				fmt.Errorf("missing declared outputs: %s", strings.Join(missing, ", ")))
			return
		}

		for path, value := range mctx.Outputs() {
			db.Set(path, value)
		}
		if mp.Desc.State {
			c.states[mp.Desc.Name] = mctx.State()
		}
	}

	c.phase.Store(PhasePublishing)
	c.out.Publish(db, tick, timestamp)
	if c.buffer != nil {
		if err := c.buffer.Push(timestamp, db); err != nil {
			c.logger.Error("historic push failed", zap.Uint64("tick", tick), zap.Error(err))
			if c.faults != nil {
				c.faults.ModuleError(c.name, "", tick, err)
			}
		}
	}
	if c.telemetry != nil {
		c.telemetry.Offer(db)
	}

	if c.metrics != nil {
		c.metrics.TicksTotal.WithLabelValues(c.name).Inc()
		c.metrics.TickDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}
}

// resolve binds one module's wired inputs for this tick.
func (c *Cycler) resolve(mp pipeline.ModulePlan, db *types.Database, snapshots map[string]*types.Database, view *params.View) *types.Context {
	inputs := make(map[string]any, len(mp.Wires))
	var historicReaders map[string]types.HistoricReader

	for _, wire := range mp.Wires {
		switch wire.Kind {
		case pipeline.SourceSelf:
			if v, ok := db.Get(wire.Path); ok {
				inputs[wire.Path] = v
			}
		case pipeline.SourceChannel:
			if snapshot, ok := snapshots[wire.Producer]; ok {
				if v, ok := snapshot.Get(wire.Path); ok {
					inputs[wire.Path] = v
				}
			}
		case pipeline.SourceHistoric:
			if buffer, ok := c.upstreamHistoric[wire.Producer]; ok {
				if historicReaders == nil {
					historicReaders = make(map[string]types.HistoricReader)
				}
				historicReaders[wire.Path] = buffer
			}
		}
	}

	return types.NewContext(types.ContextConfig{
		Timestamp: db.Timestamp,
		Inputs:    inputs,
		Historic:  historicReaders,
		Params:    view,
		State:     c.states[mp.Desc.Name],
		Outputs:   mp.Desc.Outputs,
	})
}

// abortTick contains a module failure to this tick: nothing is published and
// the fault is escalated.
func (c *Cycler) abortTick(module string, tick uint64, err error) {
	c.logger.Error("tick aborted",
		zap.Uint64("tick", tick),
		zap.String("module", module),
		zap.Error(err))
	if c.metrics != nil {
		c.metrics.ModuleErrors.WithLabelValues(c.name, module).Inc()
		c.metrics.SkippedPublishes.WithLabelValues(c.name).Inc()
	}
	if c.faults != nil {
		c.faults.ModuleError(c.name, module, tick, err)
	}
}
