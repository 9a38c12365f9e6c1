package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/wachiwi/potboy/cmd/booth/handlers"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/booth"
	"github.com/wachiwi/potboy/pkg/camera"
	"github.com/wachiwi/potboy/pkg/config"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/indicator"
	"github.com/wachiwi/potboy/pkg/logger"
	"github.com/wachiwi/potboy/pkg/telemetry"
	"github.com/wachiwi/potboy/pkg/uplink"
)

const defaultPort = 5001

func main() {
	configPath := flag.String("config", os.Getenv("POTBOY_CONFIG"), "path to the YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides the config file)")
	server := flag.String("server", "", "relay uplink URL, e.g. ws://relay:5000/uplink")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *server != "" {
		cfg.Uplink.URL = *server
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Uplink.URL == "" {
		logger.Fatal("No relay configured, set uplink.url or -server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "potboy-booth"
	}
	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Fatal("Failed to set up telemetry", "error", err)
	}

	camCfg := cameraConfig(cfg)
	store := archive.New(cfg.Archive.DataDir, cfg.Retention())
	hub := event.NewHub()

	ind := indicator.New(indicator.Config{
		Chip:      cfg.Indicator.Chip,
		LightPin:  cfg.Indicator.LightPin,
		BuzzerPin: cfg.Indicator.BuzzerPin,
		SoundDir:  cfg.Indicator.SoundDir,
	})
	defer ind.Close()

	arbiterOpts := []camera.ArbiterOption{camera.WithResumeTimeout(cfg.ResumeTimeout())}
	if !cfg.ResumeAfterCapture() {
		arbiterOpts = append(arbiterOpts, camera.WithoutResume())
	}

	link := uplink.New(uplink.Config{
		URL:              cfg.Uplink.URL,
		AttemptTimeout:   cfg.AttemptTimeout(),
		RetryDelay:       cfg.RetryDelay(),
		MaxAttempts:      cfg.Uplink.MaxAttempts,
		ControlThreshold: cfg.Uplink.ControlThreshold,
	},
		uplink.WithRecorder(store),
		uplink.WithControlHandler(func(data []byte) {
			slog.Debug("Control message from relay", "bytes", len(data))
		}),
	)
	go func() {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout())
		defer cancel()
		if err := link.Connect(connectCtx); err != nil {
			slog.Warn("Relay not reachable yet, will connect on first capture", "url", cfg.Uplink.URL, "error", err)
		}
	}()

	orch := booth.New(booth.Config{
		Cooldown:       cfg.Cooldown(),
		CountdownTicks: cfg.CountdownTicks(),
		CountdownTick:  cfg.CountdownTick(),
		TickOn:         cfg.TickOn(),
		ShutterBeep:    cfg.ShutterBeep(),
		FrameMaxAge:    cfg.FrameMaxAge(),
		Camera:         camCfg,
	}, booth.Deps{
		Arbiter:     camera.NewArbiter(cfg.ReleaseTimeout(), arbiterOpts...),
		NewSource:   func() camera.Source { return camera.NewSource(camCfg) },
		Snapshotter: snapshotter(camCfg),
		Uplink:      link,
		Printer:     receiptPrinter(cfg),
		Signal:      ind,
		Hub:         hub,
	})

	c := cron.New(
		cron.WithChain(cron.SkipIfStillRunning(&logger.CronLogger{Logger: slog.Default()})),
	)
	if _, err := c.AddFunc(cfg.Archive.PruneSchedule, func() { pruneArchive(store) }); err != nil {
		logger.Fatal("Invalid prune schedule", "schedule", cfg.Archive.PruneSchedule, "error", err)
	}
	c.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})

	trigger := &handlers.TriggerHandler{Booth: orch}
	router.POST("/preview/start", trigger.StartPreview)
	router.POST("/preview/stop", trigger.StopPreview)
	router.POST("/capture", trigger.Capture)
	router.GET("/capture", trigger.Capture)

	stream := &handlers.StreamHandler{Booth: orch}
	router.GET("/stream", stream.Stream)

	health := &handlers.HealthHandler{Booth: orch, Uplink: link, GPIO: ind.Kind()}
	router.GET("/health", health.Health)

	events := &handlers.EventsHandler{Hub: hub}
	router.GET("/events", events.Events)

	srv := &http.Server{
		Addr:    cfg.Addr(defaultPort),
		Handler: router,
	}
	go func() {
		slog.Info("Booth listening", "addr", srv.Addr, "relay", cfg.Uplink.URL, "gpio", ind.Kind())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-c.Stop().Done()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Capture did not finish before shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Failed to shut down telemetry", "error", err)
	}
}
