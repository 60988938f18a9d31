// Package runtime is the process-wide ownership root: it compiles the
// pipeline, instantiates every cycler with its channels and buffers, and
// supervises their concurrent execution.
package runtime

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/channel"
	"github.com/striderobotics/cyclekit/internal/cycler"
	"github.com/striderobotics/cyclekit/internal/historic"
	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
	"github.com/striderobotics/cyclekit/internal/params"
	"github.com/striderobotics/cyclekit/internal/pipeline"
	"github.com/striderobotics/cyclekit/internal/telemetry"
	"github.com/striderobotics/cyclekit/internal/types"
)

// Spec declares one cycler to the runtime.
type Spec struct {
	Name             string
	Modules          []types.Module
	Trigger          cycler.Trigger
	HistoricCapacity int // 0 means no historic buffer
}

// Options carries the shared resources and policies.
type Options struct {
	Params    *params.Store        // required
	Telemetry *telemetry.Publisher // optional
	Faults    FaultHandler         // optional, defaults to an ActuationGuard
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
	// MaxStaleness bounds how old any cycler's published output may grow
	// before the watchdog escalates to the fault handler. Zero disables the
	// watchdog.
	MaxStaleness time.Duration
}

// Runtime owns the compiled plan and all cyclers. It is constructed once at
// startup; cyclers receive read-only references to the shared wiring.
type Runtime struct {
	plan    *pipeline.Plan
	cyclers []*cycler.Cycler
	slots   map[string]*channel.Slot[*types.Database]
	buffers map[string]*historic.Buffer

	params       *params.Store
	faults       FaultHandler
	guard        *ActuationGuard // set when the default fault policy is used
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	maxStaleness time.Duration
}

// New compiles the declarations and wires every cycler. All wiring errors
// surface here, before anything runs.
func New(specs []Spec, opts Options) (*Runtime, error) {
	if opts.Params == nil {
		return nil, fmt.Errorf("runtime: parameter store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	decls := make([]pipeline.CyclerDecl, len(specs))
	for i, spec := range specs {
		decls[i] = pipeline.CyclerDecl{
			Name:             spec.Name,
			Modules:          spec.Modules,
			HistoricCapacity: spec.HistoricCapacity,
		}
	}
	plan, err := pipeline.Compile(decls)
	if err != nil {
		return nil, err
	}

	for _, path := range plan.ParamPaths {
		if !opts.Params.Has(path) {
			return nil, fmt.Errorf("runtime: declared parameter path %q not present in store", path)
		}
	}

	r := &Runtime{
		plan:         plan,
		slots:        make(map[string]*channel.Slot[*types.Database], len(specs)),
		buffers:      make(map[string]*historic.Buffer),
		params:       opts.Params,
		faults:       opts.Faults,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		maxStaleness: opts.MaxStaleness,
	}
	if r.faults == nil {
		r.guard = NewActuationGuard(opts.Logger, opts.Metrics)
		r.faults = r.guard
	}

	for _, spec := range specs {
		r.slots[spec.Name] = channel.NewSlot[*types.Database]()
		if spec.HistoricCapacity > 0 {
			buffer, err := historic.New(spec.HistoricCapacity)
			if err != nil {
				return nil, fmt.Errorf("runtime: %s: %w", spec.Name, err)
			}
			r.buffers[spec.Name] = buffer
		}
	}

	for _, spec := range specs {
		cyclerPlan, _ := plan.Cycler(spec.Name)

		upstream := make(map[string]*channel.Slot[*types.Database], len(cyclerPlan.Channels))
		for _, producer := range cyclerPlan.Channels {
			upstream[producer] = r.slots[producer]
		}
		upstreamHistoric := make(map[string]*historic.Buffer, len(cyclerPlan.Historics))
		for _, producer := range cyclerPlan.Historics {
			upstreamHistoric[producer] = r.buffers[producer]
		}

		var sink cycler.TelemetrySink
		if opts.Telemetry != nil {
			sink = opts.Telemetry.Register(spec.Name)
		}

		c, err := cycler.New(cycler.Config{
			Plan:             cyclerPlan,
			Trigger:          spec.Trigger,
			Out:              r.slots[spec.Name],
			Buffer:           r.buffers[spec.Name],
			Upstream:         upstream,
			UpstreamHistoric: upstreamHistoric,
			Params:           opts.Params,
			Telemetry:        sink,
			Faults:           r.faults,
			Logger:           opts.Logger,
			Metrics:          opts.Metrics,
		})
		if err != nil {
			return nil, err
		}
		r.cyclers = append(r.cyclers, c)
	}

	return r, nil
}

// Run executes all cyclers concurrently until the context is cancelled or a
// cycler fails fatally. Contained module errors do not end Run.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, c := range r.cyclers {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}
	if r.maxStaleness > 0 {
		g.Go(func() error { return r.watchdog(ctx) })
	}
	g.Go(func() error { return r.housekeeping(ctx) })

	r.logger.Info("runtime started",
		zap.Int("cyclers", len(r.cyclers)),
		zap.Duration("max_staleness", r.maxStaleness))
	return g.Wait()
}

// Latest returns a cycler's most recently published database.
func (r *Runtime) Latest(cycler string) (*types.Database, bool) {
	slot, ok := r.slots[cycler]
	if !ok {
		return nil, false
	}
	db, _, ok := slot.Read()
	return db, ok
}

// Guard returns the default actuation guard, or nil when a custom fault
// handler was supplied.
func (r *Runtime) Guard() *ActuationGuard {
	return r.guard
}

// watchdog escalates when any cycler's published output grows older than the
// configured maximum staleness. Each stalled publish is reported once.
func (r *Runtime) watchdog(ctx context.Context) error {
	interval := r.maxStaleness / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reported := make(map[string]time.Time, len(r.slots))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for name, slot := range r.slots {
				info, ok := slot.LastPublish()
				if !ok {
					continue // not started yet
				}
				age := time.Since(info.At)
				if age <= r.maxStaleness || reported[name].Equal(info.At) {
					continue
				}
				reported[name] = info.At
				r.faults.Stale(name, age)
			}
		}
	}
}

// housekeeping refreshes slow-moving gauges.
func (r *Runtime) housekeeping(ctx context.Context) error {
	if r.metrics == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.metrics.UpdateUptime()
			r.metrics.ParameterGeneration.Set(float64(r.params.View().Generation()))
		}
	}
}
