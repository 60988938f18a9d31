package cycler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/striderobotics/cyclekit/internal/channel"
	"github.com/striderobotics/cyclekit/internal/params"
	"github.com/striderobotics/cyclekit/internal/pipeline"
	"github.com/striderobotics/cyclekit/internal/types"
)

// stepModule is a test module whose behavior is supplied as a function.
type stepModule struct {
	desc    types.Descriptor
	step    func(*types.Context) error
	initial any
}

func (m *stepModule) Descriptor() types.Descriptor { return m.desc }
func (m *stepModule) Step(ctx *types.Context) error {
	if m.step == nil {
		return nil
	}
	return m.step(ctx)
}
func (m *stepModule) InitialState() any { return m.initial }

type faultRecord struct {
	cycler string
	module string
	tick   uint64
	err    error
}

type faultRecorder struct {
	mu     sync.Mutex
	faults []faultRecord
}

func (r *faultRecorder) ModuleError(cycler, module string, tick uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, faultRecord{cycler, module, tick, err})
}

func (r *faultRecorder) all() []faultRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]faultRecord(nil), r.faults...)
}

func compileOne(t *testing.T, decl pipeline.CyclerDecl) *pipeline.CyclerPlan {
	t.Helper()
	plan, err := pipeline.Compile([]pipeline.CyclerDecl{decl})
	require.NoError(t, err)
	cp, ok := plan.Cycler(decl.Name)
	require.True(t, ok)
	return cp
}

func TestTickExecutesInCompiledOrderAndPublishes(t *testing.T) {
	var executed []string

	sensor := &stepModule{
		desc: types.Descriptor{Name: "sensor_receiver", Outputs: []string{"sensor_data.acceleration"}},
		step: func(ctx *types.Context) error {
			executed = append(executed, "sensor_receiver")
			return ctx.SetOutput("sensor_data.acceleration", 9.81)
		},
	}
	filter := &stepModule{
		desc: types.Descriptor{
			Name:    "imu_filter",
			Inputs:  []types.Input{{Path: "sensor_data.acceleration", Access: types.AccessLatest}},
			Outputs: []string{"filtered_imu.acceleration"},
		},
		step: func(ctx *types.Context) error {
			executed = append(executed, "imu_filter")
			v, ok := ctx.Input("sensor_data.acceleration")
			require.True(t, ok)
			return ctx.SetOutput("filtered_imu.acceleration", v.(float64)/2)
		},
	}

	// Declared consumer-first; compiled order must still run the producer first.
	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{filter, sensor}})

	out := channel.NewSlot[*types.Database]()
	c, err := New(Config{
		Plan:    plan,
		Trigger: Every(time.Second),
		Out:     out,
		Params:  params.NewStore(nil),
	})
	require.NoError(t, err)

	stamp := time.UnixMilli(100)
	c.RunTick(stamp)

	assert.Equal(t, []string{"sensor_receiver", "imu_filter"}, executed)
	assert.Equal(t, PhaseIdle, c.Phase())

	db, info, ok := out.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.Tick)
	assert.Equal(t, stamp, info.Timestamp)

	v, ok := db.Get("filtered_imu.acceleration")
	require.True(t, ok)
	assert.InDelta(t, 4.905, v.(float64), 1e-9)
}

func TestModuleErrorSkipsPublication(t *testing.T) {
	boom := errors.New("estimation diverged")
	failOnTick := uint64(5)

	var tick uint64
	m := &stepModule{
		desc: types.Descriptor{Name: "estimator", Outputs: []string{"state.value"}},
		step: func(ctx *types.Context) error {
			tick++
			if tick == failOnTick {
				return boom
			}
			return ctx.SetOutput("state.value", tick)
		},
	}

	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{m}})
	out := channel.NewSlot[*types.Database]()
	faults := &faultRecorder{}
	c, err := New(Config{
		Plan:    plan,
		Trigger: Every(time.Second),
		Out:     out,
		Params:  params.NewStore(nil),
		Faults:  faults,
	})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		c.RunTick(time.UnixMilli(int64(i * 10)))
	}

	// Tick 5 failed: the slot still holds tick 4's snapshot.
	db, info, ok := out.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(4), info.Tick)
	v, _ := db.Get("state.value")
	assert.Equal(t, uint64(4), v)

	recorded := faults.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, "control", recorded[0].cycler)
	assert.Equal(t, "estimator", recorded[0].module)
	assert.Equal(t, uint64(5), recorded[0].tick)
	assert.ErrorIs(t, recorded[0].err, boom)

	// The cycler keeps ticking after a contained fault.
	c.RunTick(time.UnixMilli(60))
	_, info, _ = out.Read()
	assert.Equal(t, uint64(6), info.Tick)
}

func TestMissingDeclaredOutputAbortsTick(t *testing.T) {
	m := &stepModule{
		desc: types.Descriptor{Name: "lazy", Outputs: []string{"a.out", "b.out"}},
		step: func(ctx *types.Context) error {
			return ctx.SetOutput("a.out", 1)
		},
	}

	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{m}})
	out := channel.NewSlot[*types.Database]()
	faults := &faultRecorder{}
	c, err := New(Config{
		Plan:    plan,
		Trigger: Every(time.Second),
		Out:     out,
		Params:  params.NewStore(nil),
		Faults:  faults,
	})
	require.NoError(t, err)

	c.RunTick(time.Now())

	_, _, ok := out.Read()
	assert.False(t, ok)
	recorded := faults.all()
	require.Len(t, recorded, 1)
	assert.Contains(t, recorded[0].err.Error(), "b.out")
}

func TestPersistentStateSurvivesTicks(t *testing.T) {
	m := &stepModule{
		desc:    types.Descriptor{Name: "odometry", Outputs: []string{"odometry.distance"}, State: true},
		initial: 0.0,
		step: func(ctx *types.Context) error {
			total := ctx.State().(float64) + 0.5
			ctx.SetState(total)
			return ctx.SetOutput("odometry.distance", total)
		},
	}

	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{m}})
	out := channel.NewSlot[*types.Database]()
	c, err := New(Config{
		Plan:    plan,
		Trigger: Every(time.Second),
		Out:     out,
		Params:  params.NewStore(nil),
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.RunTick(time.UnixMilli(int64(i)))
	}

	db, _, ok := out.Read()
	require.True(t, ok)
	v, _ := db.Get("odometry.distance")
	assert.Equal(t, 2.0, v)
}

func TestUpstreamSnapshotBinding(t *testing.T) {
	consumer := &stepModule{
		desc: types.Descriptor{
			Name:    "ball_detection",
			Inputs:  []types.Input{{Path: "odometry.position", Access: types.AccessLatest}},
			Outputs: []string{"ball.seen"},
		},
		step: func(ctx *types.Context) error {
			_, ok := ctx.Input("odometry.position")
			return ctx.SetOutput("ball.seen", ok)
		},
	}
	producer := &stepModule{
		desc: types.Descriptor{Name: "odometry", Outputs: []string{"odometry.position"}},
		step: func(ctx *types.Context) error {
			return ctx.SetOutput("odometry.position", []float64{1, 2})
		},
	}

	plan, err := pipeline.Compile([]pipeline.CyclerDecl{
		{Name: "control", Modules: []types.Module{producer}},
		{Name: "vision", Modules: []types.Module{consumer}},
	})
	require.NoError(t, err)

	controlPlan, _ := plan.Cycler("control")
	visionPlan, _ := plan.Cycler("vision")

	controlOut := channel.NewSlot[*types.Database]()
	visionOut := channel.NewSlot[*types.Database]()
	store := params.NewStore(nil)

	control, err := New(Config{Plan: controlPlan, Trigger: Every(time.Second), Out: controlOut, Params: store})
	require.NoError(t, err)
	vision, err := New(Config{
		Plan:     visionPlan,
		Trigger:  Every(time.Second),
		Out:      visionOut,
		Params:   store,
		Upstream: map[string]*channel.Slot[*types.Database]{"control": controlOut},
	})
	require.NoError(t, err)

	// Before the producer's first publish the input is well-defined absent.
	vision.RunTick(time.UnixMilli(10))
	db, _, ok := visionOut.Read()
	require.True(t, ok)
	seen, _ := db.Get("ball.seen")
	assert.Equal(t, false, seen)

	control.RunTick(time.UnixMilli(20))
	vision.RunTick(time.UnixMilli(30))
	db, _, _ = visionOut.Read()
	seen, _ = db.Get("ball.seen")
	assert.Equal(t, true, seen)
}

func TestRunStopsCleanlyFromAnyPhase(t *testing.T) {
	m := &stepModule{
		desc: types.Descriptor{Name: "noop", Outputs: []string{"noop.out"}},
		step: func(ctx *types.Context) error {
			return ctx.SetOutput("noop.out", 1)
		},
	}
	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{m}})

	source := make(chan time.Time)
	out := channel.NewSlot[*types.Database]()
	c, err := New(Config{
		Plan:    plan,
		Trigger: OnEvents(source),
		Out:     out,
		Params:  params.NewStore(nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	source <- time.UnixMilli(1)
	source <- time.UnixMilli(2)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycler did not stop after cancellation")
	}

	// The last completed tick was published in full.
	_, info, ok := out.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(2), info.Tick)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestRunStopsWhenTriggerCloses(t *testing.T) {
	m := &stepModule{desc: types.Descriptor{Name: "noop"}}
	plan := compileOne(t, pipeline.CyclerDecl{Name: "control", Modules: []types.Module{m}})

	source := make(chan time.Time)
	c, err := New(Config{
		Plan:    plan,
		Trigger: OnEvents(source),
		Out:     channel.NewSlot[*types.Database](),
		Params:  params.NewStore(nil),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	close(source)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cycler did not stop after trigger close")
	}
}
