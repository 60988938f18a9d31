// Package main is the entry point for the cyclekit demo robot runtime.
//
// It wires three cyclers the way the real robot does:
//
//	control  (periodic, 10ms)  sensor_receiver → imu_filter → odometry
//	vision   (event, camera)   ball_detection
//	network  (event, messages) message_fuser (historic access to control)
//
// Sensor frames and network messages are simulated by feeder goroutines, so
// the full dataflow (cross-cycler channels, historic fusion of delayed
// messages, parameter hot reload, telemetry streaming) runs without hardware.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./runtime -addr 0.0.0.0:9870 -params etc/params.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
