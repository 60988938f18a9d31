package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/striderobotics/cyclekit/internal/types"
)

// declModule is a test module defined purely by its descriptor.
type declModule struct {
	desc types.Descriptor
}

func (m *declModule) Descriptor() types.Descriptor { return m.desc }
func (m *declModule) Step(*types.Context) error    { return nil }

func module(name string, inputs []types.Input, outputs ...string) types.Module {
	return &declModule{desc: types.Descriptor{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
	}}
}

func latest(paths ...string) []types.Input {
	inputs := make([]types.Input, len(paths))
	for i, p := range paths {
		inputs[i] = types.Input{Path: p, Access: types.AccessLatest}
	}
	return inputs
}

func historicInput(path string) []types.Input {
	return []types.Input{{Path: path, Access: types.AccessHistoric}}
}

func moduleNames(plan *CyclerPlan) []string {
	names := make([]string, len(plan.Modules))
	for i, mp := range plan.Modules {
		names[i] = mp.Desc.Name
	}
	return names
}

func TestCompileOrdersProducersFirst(t *testing.T) {
	// Declared consumer-first on purpose; the compiler must reorder.
	plan, err := Compile([]CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("odometry", latest("filtered_imu.orientation"), "odometry.position"),
			module("imu_filter", latest("sensor_data.acceleration"), "filtered_imu.orientation"),
			module("sensor_receiver", nil, "sensor_data.acceleration"),
		},
	}})
	require.NoError(t, err)

	control, ok := plan.Cycler("control")
	require.True(t, ok)
	assert.Equal(t, []string{"sensor_receiver", "imu_filter", "odometry"}, moduleNames(control))
}

func TestCompileTieBreakIsDeclarationOrder(t *testing.T) {
	// b, a, c are mutually independent: every topological order is valid, so
	// declaration order must win and repeated compiles must agree.
	decls := []CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("b", nil, "b.out"),
			module("a", nil, "a.out"),
			module("c", latest("a.out", "b.out"), "c.out"),
		},
	}}

	first, err := Compile(decls)
	require.NoError(t, err)
	control, _ := first.Cycler("control")
	assert.Equal(t, []string{"b", "a", "c"}, moduleNames(control))

	for i := 0; i < 10; i++ {
		again, err := Compile(decls)
		require.NoError(t, err)
		c, _ := again.Cycler("control")
		assert.Equal(t, moduleNames(control), moduleNames(c))
	}
}

func TestCompileRejectsCycle(t *testing.T) {
	_, err := Compile([]CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("m1", latest("m2.out"), "m1.out"),
			module("m2", latest("m1.out"), "m2.out"),
		},
	}})
	require.Error(t, err)

	var cycleErr *DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "control", cycleErr.Cycler)
	assert.ElementsMatch(t, []string{"m1", "m2"}, cycleErr.Cycle)
	assert.Contains(t, err.Error(), "m1")
	assert.Contains(t, err.Error(), "m2")
}

func TestCompileRejectsSelfDependency(t *testing.T) {
	_, err := Compile([]CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("m1", latest("m1.out"), "m1.out"),
		},
	}})
	require.Error(t, err)

	var cycleErr *DependencyCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"m1"}, cycleErr.Cycle)
}

func TestCompileRejectsUnresolvedInput(t *testing.T) {
	_, err := Compile([]CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("consumer", latest("ghost.value"), "consumer.out"),
		},
	}})
	require.Error(t, err)

	var unresolved *UnresolvedInputError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "consumer", unresolved.Module)
	assert.Equal(t, "ghost.value", unresolved.Path)
	assert.Empty(t, unresolved.Candidates)
}

func TestCompileRejectsAmbiguousInput(t *testing.T) {
	_, err := Compile([]CyclerDecl{
		{
			Name: "control",
			Modules: []types.Module{
				module("producer_a", nil, "shared.value"),
				module("consumer", latest("shared.value")),
			},
		},
		{
			Name: "vision",
			Modules: []types.Module{
				module("producer_b", nil, "shared.value"),
			},
		},
	})
	require.Error(t, err)

	var unresolved *UnresolvedInputError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"control/producer_a", "vision/producer_b"}, unresolved.Candidates)
}

func TestCompileWiresCrossCyclerChannel(t *testing.T) {
	plan, err := Compile([]CyclerDecl{
		{
			Name: "control",
			Modules: []types.Module{
				module("odometry", nil, "odometry.position"),
			},
		},
		{
			Name: "vision",
			Modules: []types.Module{
				module("ball_detection", latest("odometry.position"), "ball.position"),
			},
		},
	})
	require.NoError(t, err)

	vision, _ := plan.Cycler("vision")
	assert.Equal(t, []string{"control"}, vision.Channels)
	require.Len(t, vision.Modules, 1)
	require.Len(t, vision.Modules[0].Wires, 1)
	wire := vision.Modules[0].Wires[0]
	assert.Equal(t, SourceChannel, wire.Kind)
	assert.Equal(t, "control", wire.Producer)
}

func TestCompileHistoricRequiresBuffer(t *testing.T) {
	producerDecl := CyclerDecl{
		Name: "control",
		Modules: []types.Module{
			module("odometry", nil, "odometry.position"),
		},
	}
	consumerDecl := CyclerDecl{
		Name: "network",
		Modules: []types.Module{
			module("message_fuser", historicInput("odometry.position"), "team_ball.position"),
		},
	}

	_, err := Compile([]CyclerDecl{producerDecl, consumerDecl})
	require.Error(t, err)

	var missing *MissingHistoricBufferError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "message_fuser", missing.Module)
	assert.Equal(t, "control", missing.Producer)
	assert.Equal(t, "odometry.position", missing.Path)

	// With a buffer on the producer the same declarations compile.
	producerDecl.HistoricCapacity = 16
	plan, err := Compile([]CyclerDecl{producerDecl, consumerDecl})
	require.NoError(t, err)

	network, _ := plan.Cycler("network")
	assert.Equal(t, []string{"control"}, network.Historics)
	assert.Equal(t, SourceHistoric, network.Modules[0].Wires[0].Kind)
}

func TestCompileCollectsParamPaths(t *testing.T) {
	withParams := &declModule{desc: types.Descriptor{
		Name:    "step_planner",
		Outputs: []string{"step_plan.next"},
		Params:  []string{"walking.max_step_size", "walking.enabled"},
	}}

	plan, err := Compile([]CyclerDecl{{
		Name:    "control",
		Modules: []types.Module{withParams},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"walking.enabled", "walking.max_step_size"}, plan.ParamPaths)
}

func TestCompileRejectsDuplicateModules(t *testing.T) {
	_, err := Compile([]CyclerDecl{{
		Name: "control",
		Modules: []types.Module{
			module("dup", nil, "a.out"),
			module("dup", nil, "b.out"),
		},
	}})
	assert.Error(t, err)
}
