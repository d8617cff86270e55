package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/admission"
	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/compliance"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/handlers"
	"github.com/gatewarden/gatewarden/internal/server"
	"github.com/gatewarden/gatewarden/internal/sourcestats"
	"github.com/gatewarden/gatewarden/internal/storage"
	"github.com/gatewarden/gatewarden/internal/threat"
	"github.com/gatewarden/gatewarden/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("gatewarden"))
	logging.SetDefault(logger)

	slog.Info("Starting ingestion gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("admission_strategy", cfg.Admission.Strategy),
		slog.Bool("strict_mode", cfg.Threat.StrictMode),
	)

	// Pattern library. A compile failure here is fatal: the process must
	// not accept traffic with a partial pattern table.
	var overlays []*threat.Overlay
	if cfg.Threat.OverlayPath != "" {
		overlay, err := threat.LoadOverlay(cfg.Threat.OverlayPath)
		if err != nil {
			log.Fatalf("Failed to load pattern overlay: %v", err)
		}
		overlays = append(overlays, overlay)
		log.Printf("Loaded pattern overlay from %s", cfg.Threat.OverlayPath)
	}
	library, err := threat.NewLibrary(overlays...)
	if err != nil {
		log.Fatalf("Failed to compile pattern library: %v", err)
	}
	detector := threat.NewDetector(library, cfg.Threat.StrictMode)

	policy := compliance.NewEngine(cfg.Compliance.AuditLogCap)

	controller, err := admission.New(cfg.Admission)
	if err != nil {
		log.Fatalf("Failed to initialize admission controller: %v", err)
	}
	defer controller.Close()
	log.Printf("Admission control enabled: strategy=%s rps=%.0f burst=%.1fx",
		cfg.Admission.Strategy, cfg.Admission.RequestsPerSecond, cfg.Admission.BurstMultiplier)

	// Storage collaborators. Unreachable collaborators degrade the service
	// instead of blocking startup; writes to them fail as WRITE_ERROR and
	// show up in the health check.
	var timeseries storage.TimeSeriesStore
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ts, err := storage.NewPostgresTimeSeriesStore(startCtx, cfg.TimeSeries.URL)
	cancel()
	if err != nil {
		log.Printf("WARNING: time-series store unavailable: %v", err)
	} else {
		timeseries = ts
		defer ts.Close()
	}

	var logs storage.LogStore
	ls, err := storage.NewOpenSearchLogStore(storage.OpenSearchConfig{
		URL:           cfg.LogStore.URL,
		Username:      cfg.LogStore.Username,
		Password:      cfg.LogStore.Password,
		TLSSkipVerify: cfg.LogStore.TLSSkipVerify,
		IndexPrefix:   cfg.LogStore.IndexPrefix,
	})
	if err != nil {
		log.Printf("WARNING: log store unavailable: %v", err)
	} else {
		logs = ls
	}

	var events storage.EventBus
	var recorder *sourcestats.Recorder
	if cfg.Redis.Enabled {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		client := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("WARNING: redis unavailable, event bus and source stats disabled: %v", err)
		} else {
			events = storage.NewRedisEventBusFromClient(client, cfg.EventBus.RingSize)
			recorder = sourcestats.NewRecorder(client, 30*time.Second, logger.Logger)
			defer recorder.Stop()
			defer client.Close()
		}
	} else {
		log.Println("Redis disabled - event bus and source stats not available")
	}

	var auditSink storage.AuditSink = storage.NoOpAuditSink{}
	if cfg.Audit.Enabled {
		sink, err := storage.NewNATSAuditSink(cfg.Audit.NatsURL)
		if err != nil {
			log.Printf("WARNING: audit sink unavailable, audit entries will be dropped: %v", err)
		} else {
			auditSink = sink
			defer sink.Close()
			log.Printf("Audit sink enabled (nats: %s)", cfg.Audit.NatsURL)
		}
	}

	var signer *audit.Signer
	if cfg.Audit.SigningKey != "" {
		signer = audit.NewSigner(cfg.Audit.SigningKey)
	} else {
		log.Println("WARNING: audit signing key not set, entries will be unsigned")
	}

	gw := gateway.New(gateway.Options{
		Admission:      controller,
		Detector:       detector,
		Policy:         policy,
		TimeSeries:     timeseries,
		Logs:           logs,
		Events:         events,
		AuditSink:      auditSink,
		Signer:         signer,
		Recorder:       recorder,
		Logger:         logger,
		WriteTimeout:   cfg.Server.WriteDeadline,
		FlushThreshold: cfg.Audit.FlushThreshold,
		FlushInterval:  cfg.Audit.FlushInterval,
	})
	defer gw.Stop()

	handler := handlers.NewIngestHandler(gw)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Gateway stopped")
}
