package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"beat-hard/server/internal/battle"
	"beat-hard/server/internal/combat"
	servernet "beat-hard/server/internal/net"
	"beat-hard/server/internal/net/ws"
	"beat-hard/server/internal/stats"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingSinks "beat-hard/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger telemetry.Logger
	// Settings defaults to DefaultSettings overlaid with the environment.
	Settings *Settings
	// Ready, when set, receives the bound address once the server accepts
	// connections.
	Ready func(addr string)
}

// Run serves the control surface until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	var settings Settings
	if cfg.Settings != nil {
		settings = *cfg.Settings
	} else {
		settings = LoadSettings(DefaultSettings(), os.Getenv, telemetryLogger)
	}

	logConfig := logging.DefaultConfig()
	logConfig.MinimumSeverity = settings.LogMinSeverity
	sinks := []logging.NamedSink{{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)}}
	if settings.LogJSONPath != "" {
		file, err := os.OpenFile(settings.LogJSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open json log %s: %w", settings.LogJSONPath, err)
		}
		defer file.Close()
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		logConfig.JSON.FilePath = settings.LogJSONPath
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := telemetry.NewPrometheusMetrics()

	hubCfg := ws.DefaultHubConfig()
	hubCfg.QueueSize = settings.SubscriberQueue
	hubCfg.Logger = telemetryLogger
	hubCfg.Publisher = router
	hubCfg.Metrics = metrics
	hub := ws.NewHub(hubCfg)
	defer hub.Close()

	machine := battle.NewMachine(battle.Options{
		Aggregator: combat.NewAggregator(combat.Config{
			TTL:          settings.HitTTL,
			HistoryLimit: settings.HitHistoryLimit,
		}),
		Tracker:                  stats.NewTracker(),
		Broadcaster:              hub,
		Publisher:                router,
		Metrics:                  metrics,
		ResetMaxStatsOnNewBattle: settings.ResetMaxStatsOnNewBattle,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go machine.Run(runCtx)

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{})
	handler := servernet.NewHTTPHandler(machine, hub, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		Metrics:       metrics.Handler(),
		WebSocket:     wsHandler.Handle,
		RouterStats:   router.Stats,
		Observability: settings.Observability,
	})

	listener, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.ListenAddr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	telemetryLogger.Printf("server listening on %s", listener.Addr())
	if cfg.Ready != nil {
		cfg.Ready(listener.Addr().String())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	telemetryLogger.Printf("shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
