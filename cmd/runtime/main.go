package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/config"
	"github.com/striderobotics/cyclekit/internal/cycler"
	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
	"github.com/striderobotics/cyclekit/internal/params"
	"github.com/striderobotics/cyclekit/internal/runtime"
	"github.com/striderobotics/cyclekit/internal/telemetry"
	"github.com/striderobotics/cyclekit/internal/types"
)

func main() {
	addr := flag.String("addr", "", "Telemetry bind address (overrides TELEMETRY_ADDR)")
	paramsFile := flag.String("params", "", "Parameter file (overrides PARAMS_FILE)")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *addr != "" {
		cfg.Telemetry.Addr = *addr
	}
	if *paramsFile != "" {
		cfg.Params.File = *paramsFile
	}
	if *dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("invalid logging config, using defaults", zap.Error(err))
	}
	defer logger.Sync()

	store, err := buildStore(cfg.Params.File)
	if err != nil {
		logger.Fatal("Failed to load parameters", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()
	publisher := telemetry.NewPublisher(telemetry.Config{
		Logger:       logger,
		Metrics:      metrics,
		MaxFrameRate: cfg.Telemetry.MaxFrameRate,
	})

	cameraFrames := make(chan time.Time, 1)
	teamMessages := make(chan time.Time, 1)

	maxStaleness := cfg.Watchdog.MaxStaleness
	if !cfg.Watchdog.Enabled {
		maxStaleness = 0
	}

	rt, err := runtime.New([]runtime.Spec{
		{
			Name: "control",
			Modules: []types.Module{
				&sensorReceiver{},
				&imuFilter{},
				&odometry{},
			},
			Trigger:          cycler.Every(10 * time.Millisecond),
			HistoricCapacity: 128,
		},
		{
			Name:    "vision",
			Modules: []types.Module{&ballDetection{}},
			Trigger: cycler.OnEvents(cameraFrames),
		},
		{
			Name:    "network",
			Modules: []types.Module{&messageFuser{delay: 50 * time.Millisecond}},
			Trigger: cycler.OnEvents(teamMessages),
		},
	}, runtime.Options{
		Params:       store,
		Telemetry:    publisher,
		Logger:       logger,
		Metrics:      metrics,
		MaxStaleness: maxStaleness,
	})
	if err != nil {
		logger.Fatal("Failed to build runtime", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := rt.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	if cfg.Telemetry.Enabled {
		server := telemetry.NewServer(telemetry.ServerConfig{
			Publisher:     publisher,
			Params:        store,
			Logger:        logger,
			EnableMetrics: cfg.Telemetry.Metrics,
		})
		go func() {
			if err := server.Run(ctx, cfg.Telemetry.Addr); err != nil {
				errChan <- err
			}
		}()
	}

	if cfg.Params.File != "" && cfg.Params.Watch {
		watcher := params.NewWatcher(store, cfg.Params.File, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("parameter watcher exited", zap.Error(err))
			}
		}()
	}

	go feedCamera(ctx, cameraFrames)
	go feedTeamMessages(ctx, teamMessages)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutting down gracefully")
		cancel()
	case err := <-errChan:
		logger.Fatal("Runtime error", zap.Error(err))
	}
}

// buildStore loads the parameter tree from a file, or falls back to built-in
// defaults so the demo runs without any configuration.
func buildStore(file string) (*params.Store, error) {
	if file == "" {
		return params.NewStore(map[string]any{
			"imu_filter.window_size": 5,
			"odometry.scale":         0.01,
		}), nil
	}
	leaves, err := params.LoadFile(file)
	if err != nil {
		return nil, err
	}
	return params.NewStore(leaves), nil
}

// feedCamera simulates a 30fps camera.
func feedCamera(ctx context.Context, frames chan<- time.Time) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			select {
			case frames <- t:
			default: // vision still busy, frame dropped at the source
			}
		}
	}
}

// feedTeamMessages simulates team communication arriving at 10Hz.
func feedTeamMessages(ctx context.Context, messages chan<- time.Time) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			select {
			case messages <- t:
			default:
			}
		}
	}
}
