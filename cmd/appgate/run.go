package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_gate/internal/bridge"
	"github.com/eliteGoblin/focusd/app_gate/internal/config"
	"github.com/eliteGoblin/focusd/app_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
	"github.com/eliteGoblin/focusd/app_gate/internal/infra"
	"github.com/eliteGoblin/focusd/app_gate/internal/usecase"
)

// Key derivation labels.
const (
	stateKeyLabel  = "state-db"
	bridgeKeyLabel = "bridge-token"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gate in the foreground",
	Long: `Runs the event pipeline, the process detector and the bridge in the
foreground until interrupted. State is restored on startup and persisted
in the background.`,
	RunE: runForeground,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gate in the background",
	Long:  `Spawns 'appgate run' detached from the terminal and records its PID.`,
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background gate",
	RunE:  runStop,
}

func runForeground(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	paths := resolvePaths(settings)
	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := createLogger(paths.LogPath, settings.LogLevel)
	defer func() { _ = logger.Sync() }()

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(paths.DataDir))
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}

	kv, err := openKV(settings, paths.DataDir, infra.DeriveSubkey(key, stateKeyLabel))
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	clock := infra.SystemClock{}
	store := usecase.NewStateStore(kv, clock, settings.StoreConfig(), logger)
	if err := store.Restore(); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	defer store.Close()

	policies := settings.Policies()
	hub := bridge.NewHub(logger)
	pipeline := daemon.NewPipeline(settings.PipelineConfig(), daemon.PipelineDeps{
		Store:       store,
		Evaluator:   usecase.NewEvaluator(settings.EvaluatorConfig()),
		Coordinator: usecase.NewCoordinator(settings.CoordinatorConfig(), infra.UUIDGenerator{}, logger),
		Flow:        usecase.NewFlowMachine(settings.FlowConfig(), logger),
		Policies:    policies,
		Sink:        hub,
		Clock:       clock,
		Logger:      logger,
	})

	if err := daemon.WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", zap.Error(err))
	}
	defer os.Remove(paths.PIDPath)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("appgate starting",
		zap.String("version", Version),
		zap.String("mode", string(paths.Mode)),
		zap.String("storage", kv.Location()),
		zap.Int("targets", len(policies.List())))

	errCh := make(chan error, 3)
	workers := 1
	go func() { errCh <- pipeline.Run(ctx) }()

	if settings.Detector.Enabled {
		workers++
		detector := daemon.NewProcessDetector(settings.DetectorConfig(), policies, infra.NewProcessManager(), pipeline, clock, logger)
		go func() { errCh <- detector.Run(ctx) }()
	}

	if settings.Bridge.Listen != "" {
		workers++
		tokens := bridge.NewTokenManager(infra.DeriveSubkey(key, bridgeKeyLabel), settings.Bridge.TokenTTL, clock)
		server := bridge.NewServer(pipeline, hub, tokens, clock, logger)
		go func() { errCh <- server.ListenAndServe(ctx, settings.Bridge.Listen) }()
	}

	// The first worker to fail stops the rest.
	var firstErr error
	for i := 0; i < workers; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			logger.Error("worker failed", zap.Error(err))
		}
		cancel()
	}

	if err := store.Flush(); err != nil {
		logger.Error("final flush failed", zap.Error(err))
	}
	logger.Info("appgate stopped")
	return firstErr
}

// openKV selects the persistence backend.
func openKV(settings *config.Settings, dataDir string, key []byte) (domain.KVStore, error) {
	switch settings.Storage {
	case config.StorageSQLCipher:
		return infra.NewEncryptedKV(dataDir, key)
	case config.StorageFile:
		return infra.NewFileKV(dataDir)
	case config.StorageMemory:
		return infra.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", settings.Storage)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	paths := resolvePaths(settings)
	pm := infra.NewProcessManager()

	if pid, err := daemon.ReadPIDFile(paths.PIDPath); err == nil && pm.IsRunning(pid) {
		fmt.Printf("appgate is already running (pid %d)\n", pid)
		return nil
	}

	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	pid, err := daemon.StartDaemon(cfgFile)
	if err != nil {
		return err
	}
	if err := daemon.WritePIDFile(paths.PIDPath, pid); err != nil {
		fmt.Printf("Warning: could not write pid file: %v\n", err)
	}

	// Wait a moment for the child to come up
	time.Sleep(500 * time.Millisecond)
	if !pm.IsRunning(pid) {
		return fmt.Errorf("appgate exited right after start; see %s", paths.LogPath)
	}

	fmt.Println("\n=== appgate Started ===")
	fmt.Printf("Mode: %s\n", paths.Mode)
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Log: %s\n", paths.LogPath)
	if settings.Bridge.Listen != "" {
		fmt.Printf("Bridge: %s\n", settings.Bridge.Listen)
	}
	fmt.Println("=======================")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	paths := resolvePaths(settings)

	pid, err := daemon.ReadPIDFile(paths.PIDPath)
	if err != nil {
		fmt.Println("appgate is not running")
		return nil
	}
	if !infra.NewProcessManager().IsRunning(pid) {
		_ = os.Remove(paths.PIDPath)
		fmt.Println("appgate is not running (removed stale pid file)")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	fmt.Printf("Sent SIGTERM to appgate (pid %d)\n", pid)
	return nil
}
