package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-registry-kit/config"
	"github.com/c0deZ3R0/go-registry-kit/lifecycle"
	"github.com/c0deZ3R0/go-registry-kit/logging"
	"github.com/c0deZ3R0/go-registry-kit/metrics"
	"github.com/c0deZ3R0/go-registry-kit/registry"
	"github.com/c0deZ3R0/go-registry-kit/storage/sqlite"
	syncmgr "github.com/c0deZ3R0/go-registry-kit/sync"
	"github.com/c0deZ3R0/go-registry-kit/transport/httpapi"
	"github.com/c0deZ3R0/go-registry-kit/transport/ws"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	return cmd
}

func runServe(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	logging.Init(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		Environment: cfg.Logging.Environment,
	})
	logger := logging.Default().Logger

	var collector metrics.Collector = &metrics.NoOpCollector{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(metrics.PrometheusConfig{
			Namespace: cfg.Metrics.Namespace,
		})
		metricsHandler = promhttp.Handler()
	}

	var backup registry.BackupStore
	if cfg.Database.Path != "" {
		store, err := sqlite.New(&sqlite.Config{
			DataSourceName: cfg.Database.Path,
			EnableWAL:      cfg.Database.WALMode,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("open backup store: %w", err)
		}
		backup = store
	}

	reg, err := registry.New(registry.Options{
		CacheSize:   cfg.Registry.CacheSize,
		MaxVersions: cfg.Registry.MaxVersions,
		EventBuffer: cfg.Registry.EventBuffer,
		Logger:      logger,
		Metrics:     collector,
		Backup:      backup,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lc := lifecycle.NewManager(reg, lifecycle.Options{
		Logger:              logger,
		Metrics:             collector,
		AutoRecovery:        cfg.Lifecycle.AutoRecovery,
		RecoveryDelay:       cfg.Lifecycle.RecoveryDelay.Std(),
		MaxRecoveryAttempts: cfg.Lifecycle.MaxRecoveryAttempts,
		ErrorLogLimit:       cfg.Lifecycle.ErrorLogLimit,
		ErrorRetention:      cfg.Lifecycle.ErrorRetention.Std(),
		CleanupInterval:     cfg.Lifecycle.CleanupInterval.Std(),
		OperationTimeout:    cfg.Lifecycle.OperationTimeout.Std(),
	})
	defer lc.Close()
	lc.StartCleanup(ctx)

	sm := syncmgr.NewManager(reg, syncmgr.Options{
		Logger:             logger,
		Metrics:            collector,
		Policy:             syncmgr.Policy(cfg.Sync.Policy),
		ConcurrencyCeiling: cfg.Sync.ConcurrencyCeiling,
		QueueLimit:         cfg.Sync.QueueLimit,
		HistoryLimit:       cfg.Sync.HistoryLimit,
		OperationTimeout:   cfg.Sync.OperationTimeout.Std(),
		ManualRetention:    cfg.Sync.ManualRetention.Std(),
		GCInterval:         cfg.Sync.GCInterval.Std(),
	})
	defer sm.Close()
	sm.StartGC(ctx)

	// Registry mutations reach WebSocket subscribers as registry_event pushes.
	regEvents, cancelEvents := reg.Subscribe()
	defer cancelEvents()
	go func() {
		for ev := range regEvents {
			payload := map[string]interface{}{"event": string(ev.Type)}
			if ev.SnapshotID != "" {
				payload["snapshot_id"] = ev.SnapshotID
			}
			if ev.ComponentID != "" {
				sm.NotifyComponent("registry_event", ev.ComponentID, payload)
			} else {
				sm.NotifySystem("registry_event", payload)
			}
		}
	}()

	wsServer := ws.NewServer(sm, ws.Options{
		Logger:         logger,
		MaxMessageSize: int64(cfg.WebSocket.MaxMessageSize),
		PingInterval:   time.Duration(cfg.WebSocket.PingInterval) * time.Second,
		PongTimeout:    time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	})
	defer wsServer.Close()
	wsServer.WireLifecycle(lc, reg)

	apiServer := httpapi.NewServer(reg, lc, sm, httpapi.Options{
		Logger:           logger,
		MetricsHandler:   metricsHandler,
		WebSocketHandler: wsServer,
		WebSocketPath:    cfg.WebSocket.Path,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", httpServer.Addr,
			"ws_path", cfg.WebSocket.Path,
			"metrics", cfg.Metrics.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <path>",
		Short: "Validate a config file and print the effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("config OK\n")
			fmt.Printf("  listen:    %s\n", cfg.ListenAddr())
			fmt.Printf("  ws path:   %s\n", cfg.WebSocket.Path)
			fmt.Printf("  database:  %s\n", orNone(cfg.Database.Path))
			fmt.Printf("  policy:    %s\n", cfg.Sync.Policy)
			fmt.Printf("  metrics:   %v\n", cfg.Metrics.Enabled)
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}
