// opsbot is the chat operations bot: it watches deployment indexers and
// starts, stops and resizes the machines behind them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"opsbot/internal/api"
	"opsbot/internal/command"
	"opsbot/internal/config"
	"opsbot/internal/console"
	"opsbot/internal/dispatcher"
	"opsbot/internal/health"
	"opsbot/internal/indexer"
	"opsbot/internal/job"
	"opsbot/internal/machine"
	"opsbot/internal/machine/docker"
	"opsbot/internal/machine/ec2"
	"opsbot/internal/notify"
	"opsbot/internal/observability"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	svcCfg := config.LoadServiceConfig()
	botCfg := command.LoadConfigFromEnv()
	slog.SetDefault(observability.NewLogger(os.Stdout, svcCfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	machines, err := newMachines(ctx, svcCfg, metrics)
	if err != nil {
		return err
	}
	defer machines.Close()

	// Job messages go to the webhook when one is configured, else to the log.
	var (
		sink            notify.Sink = notify.NewLogSink(botCfg.MaxMessageSize)
		events          job.Publisher
		eventDispatcher *dispatcher.MemoryDispatcher
	)
	if svcCfg.NotifyURL != "" {
		eventDispatcher = dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)
		callbacks := notify.NewCallbackSink(eventDispatcher, notify.CallbackConfig{
			URL:        svcCfg.NotifyURL,
			SigningKey: svcCfg.NotifyKey,
			MaxSize:    botCfg.MaxMessageSize,
			Events:     svcCfg.NotifyEvents,
		})
		sink, events = callbacks, callbacks
		slog.Info("Notifications enabled", "url", svcCfg.NotifyURL, "signed", svcCfg.NotifyKey != "")
	} else {
		slog.Warn("Notifications disabled - no NOTIFY_URL configured, job messages are logged")
	}

	bot := command.New(botCfg, command.Deps{
		Status:   indexer.NewClient(svcCfg.StatusTimeout),
		Machines: machines,
		Sink:     sink,
		Polls:    metrics,
	})

	loop := job.NewLoop(job.NewSupervisor(job.Config{
		CompletionBuffer: svcCfg.CompletionBuffer,
		Metrics:          metrics,
		Events:           events,
	}), job.LoopConfig{
		ReapInterval:    svcCfg.ReapInterval,
		ShutdownTimeout: svcCfg.ShutdownTimeout,
	})

	healthChecker := health.NewChecker(machines)
	healthChecker.Register(health.CheckJobs, func(ctx context.Context) error {
		_, err := loop.List(ctx)
		return err
	})
	router := api.NewRouter(api.RouterConfig{
		Messages:      console.NewRouter(console.Config{Mention: svcCfg.BotMention}, bot, loop, metrics),
		Jobs:          loop,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// The loop outlives the servers so in-flight requests can still reach it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(loopCtx)
	})
	g.Go(func() error {
		slog.Info("Starting API server", "port", svcCfg.Port)
		return serve(apiServer)
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		return serve(metricsServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("Received shutdown signal")
		}

		// Phase 1: fail readiness so load balancers stop sending messages.
		healthChecker.SetShuttingDown()
		if ctx.Err() != nil && svcCfg.ShutdownDrainWait > 0 {
			slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
			time.Sleep(svcCfg.ShutdownDrainWait)
		}

		// Phase 2: finish in-flight requests.
		slog.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}

		// Phase 3: cancel running jobs and wait for them to unwind.
		stopLoop()
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("Shutdown after failure", "error", err)
	}

	// Phase 4: deliver the last notifications.
	if eventDispatcher != nil {
		slog.Info("Draining callback dispatcher")
		dispatcherCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eventDispatcher.Close(dispatcherCtx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}
		stats := eventDispatcher.Stats()
		slog.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("Jobs still running at exit", "timeout", svcCfg.ShutdownTimeout)
		err = nil
	}
	slog.Info("Shutdown complete")
	return err
}

// serve runs srv until Shutdown is called.
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return nil
}

// newMachines connects the machine backend named by MACHINE_BACKEND.
func newMachines(ctx context.Context, cfg *config.ServiceConfig, metrics machine.MetricsRecorder) (machine.Provider, error) {
	var (
		p   machine.Provider
		err error
	)
	switch cfg.MachineBackend {
	case config.BackendEC2:
		p, err = ec2.New(ctx, ec2.Config{Region: cfg.AWSRegion})
	case config.BackendDocker:
		dockerCfg, cfgErr := docker.LoadConfigFromEnv()
		if cfgErr != nil {
			return nil, cfgErr
		}
		p, err = docker.New(ctx, dockerCfg)
	default:
		return nil, fmt.Errorf("unknown MACHINE_BACKEND %q (want %s or %s)", cfg.MachineBackend, config.BackendEC2, config.BackendDocker)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Machine backend ready", "backend", cfg.MachineBackend)
	return machine.NewInstrumented(p, cfg.MachineBackend, metrics), nil
}
