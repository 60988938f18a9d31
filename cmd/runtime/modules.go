package main

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/striderobotics/cyclekit/internal/types"
)

// sensorReceiver simulates the inertial sensor source: a slow sinusoid with
// a per-tick phase, standing in for hardware the demo does not have.
type sensorReceiver struct{}

func (m *sensorReceiver) Descriptor() types.Descriptor {
	return types.Descriptor{
		Name:    "sensor_receiver",
		Outputs: []string{"sensor_data.acceleration"},
		State:   true,
	}
}

func (m *sensorReceiver) InitialState() any { return 0 }

func (m *sensorReceiver) Step(ctx *types.Context) error {
	phase := ctx.State().(int) + 1
	ctx.SetState(phase)
	sample := 9.81 + 0.3*math.Sin(float64(phase)/50)
	return ctx.SetOutput("sensor_data.acceleration", sample)
}

// imuFilter smooths the raw acceleration with a windowed mean; the window
// size is a hot-reloadable parameter.
type imuFilter struct{}

func (m *imuFilter) Descriptor() types.Descriptor {
	return types.Descriptor{
		Name:    "imu_filter",
		Inputs:  []types.Input{{Path: "sensor_data.acceleration", Access: types.AccessLatest}},
		Outputs: []string{"filtered_imu.acceleration"},
		Params:  []string{"imu_filter.window_size"},
		State:   true,
	}
}

func (m *imuFilter) InitialState() any { return []float64(nil) }

func (m *imuFilter) Step(ctx *types.Context) error {
	raw, ok := ctx.Input("sensor_data.acceleration")
	if !ok {
		return ctx.SetOutput("filtered_imu.acceleration", 0.0)
	}

	window := ctx.State().([]float64)
	window = append(window, raw.(float64))

	size := 5
	if v, ok := ctx.Param("imu_filter.window_size"); ok {
		size = toInt(v)
	}
	if size < 1 {
		size = 1
	}
	if len(window) > size {
		window = window[len(window)-size:]
	}
	ctx.SetState(window)

	return ctx.SetOutput("filtered_imu.acceleration", stat.Mean(window, nil))
}

// odometry integrates filtered acceleration into a scalar travelled distance.
// Deliberately crude; it exists to give downstream cyclers state to consume.
type odometry struct{}

func (m *odometry) Descriptor() types.Descriptor {
	return types.Descriptor{
		Name:    "odometry",
		Inputs:  []types.Input{{Path: "filtered_imu.acceleration", Access: types.AccessLatest}},
		Outputs: []string{"odometry.x"},
		Params:  []string{"odometry.scale"},
		State:   true,
	}
}

func (m *odometry) InitialState() any { return 0.0 }

func (m *odometry) Step(ctx *types.Context) error {
	scale := 0.01
	if v, ok := ctx.Param("odometry.scale"); ok {
		scale = v.(float64)
	}

	x := ctx.State().(float64)
	if accel, ok := ctx.Input("filtered_imu.acceleration"); ok {
		x += accel.(float64) * scale
	}
	ctx.SetState(x)
	return ctx.SetOutput("odometry.x", x)
}

// ballDetection pretends to find a ball relative to the robot's current
// odometry, exercising the cross-cycler latest path.
type ballDetection struct{}

func (m *ballDetection) Descriptor() types.Descriptor {
	return types.Descriptor{
		Name:    "ball_detection",
		Inputs:  []types.Input{{Path: "odometry.x", Access: types.AccessLatest}},
		Outputs: []string{"ball.x", "ball.seen"},
	}
}

func (m *ballDetection) Step(ctx *types.Context) error {
	x, ok := ctx.Input("odometry.x")
	if !ok {
		// Control has not published yet; report nothing seen.
		if err := ctx.SetOutput("ball.x", 0.0); err != nil {
			return err
		}
		return ctx.SetOutput("ball.seen", false)
	}
	if err := ctx.SetOutput("ball.x", x.(float64)+1.5); err != nil {
		return err
	}
	return ctx.SetOutput("ball.seen", true)
}

// messageFuser fuses a delayed team message against the odometry state that
// existed at the message's timestamp, not the current one.
type messageFuser struct {
	delay time.Duration
}

func (m *messageFuser) Descriptor() types.Descriptor {
	return types.Descriptor{
		Name:    "message_fuser",
		Inputs:  []types.Input{{Path: "odometry.x", Access: types.AccessHistoric}},
		Outputs: []string{"team_ball.x", "team_ball.valid"},
	}
}

func (m *messageFuser) Step(ctx *types.Context) error {
	// The tick timestamp is the message's send time; the message content
	// itself is simulated.
	sentAt := ctx.Timestamp().Add(-m.delay)
	past, ok := ctx.Historic("odometry.x", sentAt)
	if !ok {
		if err := ctx.SetOutput("team_ball.x", 0.0); err != nil {
			return err
		}
		return ctx.SetOutput("team_ball.valid", false)
	}
	if err := ctx.SetOutput("team_ball.x", past.(float64)+3.0); err != nil {
		return err
	}
	return ctx.SetOutput("team_ball.valid", true)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
