package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wvh-ops/watchdogd/internal/config"
	"github.com/wvh-ops/watchdogd/internal/discord"
	"github.com/wvh-ops/watchdogd/internal/dispatch"
	"github.com/wvh-ops/watchdogd/internal/dockerapi"
	"github.com/wvh-ops/watchdogd/internal/hostinfo"
	"github.com/wvh-ops/watchdogd/internal/httpapi"
	"github.com/wvh-ops/watchdogd/internal/lifecycle"
	"github.com/wvh-ops/watchdogd/internal/otelx"
	"github.com/wvh-ops/watchdogd/internal/playertrack"
	"github.com/wvh-ops/watchdogd/internal/poller"
	"github.com/wvh-ops/watchdogd/internal/sleepctl"
)

const version = "1.0.0"

func main() {
	otelExporter := flag.String("otel-exporter", "none", "OpenTelemetry exporter: none, stdout, otlp-grpc, otlp-http")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint (e.g., localhost:4317)")
	otelInsecure := flag.Bool("otel-insecure", false, "Disable TLS for OTLP connections")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := setupTelemetry(ctx, *otelExporter, *otelEndpoint, *otelInsecure)
	defer shutdownTelemetry()

	// Workload runtime.
	dockerClient := dockerapi.NewClient(dockerapi.ClientConfig{
		SocketPath:       cfg.DockerSocket,
		OperationTimeout: cfg.OperationTimeout,
		InspectTimeout:   cfg.InspectTimeout,
	})

	// Probe the runtime once so the coordinator starts from observed reality.
	initialState := lifecycle.RunStateOffline
	probeCtx, probeCancel := context.WithTimeout(ctx, cfg.InspectTimeout)
	if state, err := dockerClient.Inspect(probeCtx, cfg.ContainerName); err != nil {
		log.Printf("[Main] Initial inspect of %s failed, assuming offline: %v", cfg.ContainerName, err)
	} else {
		initialState = state
	}
	probeCancel()

	coordinator := lifecycle.NewCoordinator(dockerClient, lifecycle.CoordinatorConfig{
		WorkloadID:   cfg.ContainerName,
		InitialState: initialState,
	})

	// Discord.
	discordClient := discord.NewClient(ctx, cfg.DiscordToken, nil, discord.DefaultRetryConfig())
	notifier := discord.NewNotifier(discordClient, cfg.AnnounceChannels)
	notifier.Run(coordinator.Events())

	// Player presence from the game server log.
	var tracker *playertrack.Tracker
	var follower *playertrack.Follower
	if cfg.GameLogPath != "" {
		tracker = playertrack.New()
		follower = playertrack.NewFollower(cfg.GameLogPath, tracker, 0)
		follower.Start()
	}

	// Command dispatch.
	dispatcher := dispatch.New(cfg.CommandPrefix, coordinator)
	dispatcher.SetStatusEnricher(func() string {
		extra := hostinfo.Sample().String()
		if tracker != nil {
			extra += fmt.Sprintf("\nplayers online: %d", tracker.Count())
		}
		return extra
	})

	// Sleep control.
	var scheduler *sleepctl.Scheduler
	if cfg.SleepEnabled() {
		manager := sleepctl.NewManager(sleepctl.Config{
			TriggerDir:  cfg.SleepTriggerDir,
			TriggerFile: cfg.SleepTriggerFile,
		}, coordinator, presenceOrNil(tracker), notifier)
		dispatcher.SetSleeper(manager)

		scheduler = sleepctl.NewScheduler(manager, coordinator, notifier)
		scheduler.Start()
	}

	monitor := discord.NewMonitor(discordClient, cfg.ConsoleChannel, cfg.MonitorInterval, func(text string, reply func(string)) {
		dispatcher.Dispatch(ctx, dispatch.Message{Text: text, Reply: reply})
	})
	monitor.Start()

	// Runtime state poller.
	var observer poller.Observer = coordinator
	if tracker != nil {
		observer = &presenceResetObserver{coordinator: coordinator, tracker: tracker}
	}
	statePoller := poller.New(dockerClient, observer, cfg.ContainerName, cfg.PollInterval, 0)
	statePoller.SetOnWarn(notifier.Warn)
	statePoller.Start()

	// Local status endpoint.
	statusServer := httpapi.NewServer(cfg.StatusAddr, coordinator, presenceSnapshotterOrNil(tracker))
	if err := statusServer.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting status server: %v\n", err)
		os.Exit(1)
	}

	log.Printf("[Main] watchdogd %s managing container %s (state: %s), status on %s",
		version, cfg.ContainerName, initialState, statusServer.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Restart periodically so a wedged Discord session or leaked resource
	// never outlives a day; the process supervisor brings us back up.
	restartTimer := time.NewTimer(cfg.RestartAfter)
	defer restartTimer.Stop()

	select {
	case sig := <-sigChan:
		log.Printf("[Main] Received %s, shutting down", sig)
	case <-restartTimer.C:
		log.Printf("[Main] Scheduled self-restart after %s", cfg.RestartAfter)
	}

	monitor.Stop()
	statePoller.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
	if follower != nil {
		follower.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}

	coordinator.Shutdown()
	notifier.Wait()
	cancel()
	log.Printf("[Main] Stopped")
}

// setupTelemetry configures the global metrics and tracer singletons and
// returns a combined shutdown function.
func setupTelemetry(ctx context.Context, exporter, endpoint string, insecure bool) func() {
	enabled := exporter != "" && exporter != string(otelx.ExporterNone)

	metricsCfg := otelx.DefaultMetricsConfig()
	metricsCfg.Enabled = enabled
	metricsCfg.ServiceVersion = version
	metricsCfg.ExporterType = otelx.ExporterType(exporter)
	metricsCfg.OTLPEndpoint = endpoint
	metricsCfg.OTLPInsecure = insecure

	metrics, err := otelx.NewMetrics(ctx, metricsCfg)
	if err != nil {
		log.Printf("[Main] Metrics setup failed, continuing without: %v", err)
		metrics = otelx.NoopMetrics()
	}
	otelx.SetGlobalMetrics(metrics)

	tracerCfg := otelx.DefaultConfig()
	tracerCfg.Enabled = enabled
	tracerCfg.ServiceVersion = version
	tracerCfg.ExporterType = otelx.ExporterType(exporter)
	tracerCfg.OTLPEndpoint = endpoint
	tracerCfg.OTLPInsecure = insecure

	tracer, err := otelx.NewTracer(ctx, tracerCfg)
	if err != nil {
		log.Printf("[Main] Tracer setup failed, continuing without: %v", err)
		tracer = otelx.NoopTracer()
	}
	otelx.SetGlobalTracer(tracer)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] Metrics shutdown: %v", err)
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] Tracer shutdown: %v", err)
		}
	}
}

// presenceOrNil converts a possibly-nil tracker to the sleep manager's
// presence interface without producing a typed nil.
func presenceOrNil(tracker *playertrack.Tracker) sleepctl.Presence {
	if tracker == nil {
		return nil
	}
	return tracker
}

func presenceSnapshotterOrNil(tracker *playertrack.Tracker) httpapi.Presence {
	if tracker == nil {
		return nil
	}
	return tracker
}

// presenceResetObserver feeds observations to the coordinator and clears
// stale presence entries once the workload is observed offline.
type presenceResetObserver struct {
	coordinator *lifecycle.Coordinator
	tracker     *playertrack.Tracker
}

func (o *presenceResetObserver) Observe(state lifecycle.RunState) {
	o.coordinator.Observe(state)
	if state == lifecycle.RunStateOffline {
		o.tracker.Reset()
	}
}
