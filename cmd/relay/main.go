package main

import (
	"context"
	"crypto/rand"
	"embed"
	"errors"
	"flag"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/wachiwi/potboy/cmd/relay/handlers"
	"github.com/wachiwi/potboy/cmd/relay/middleware"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/boothclient"
	"github.com/wachiwi/potboy/pkg/config"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/logger"
	"github.com/wachiwi/potboy/pkg/telemetry"
	"github.com/wachiwi/potboy/pkg/uplink"
)

const defaultPort = 5000

//go:embed templates/*
var templateFS embed.FS

func main() {
	configPath := flag.String("config", os.Getenv("POTBOY_CONFIG"), "path to the YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides the config file)")
	boothURL := flag.String("booth", "", "booth base URL, e.g. http://booth:5001")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *boothURL != "" {
		cfg.Relay.BoothURL = *boothURL
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Relay.BoothURL == "" {
		logger.Fatal("No booth configured, set relay.booth_url or -booth")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "potboy-relay"
	}
	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Fatal("Failed to set up telemetry", "error", err)
	}

	store := archive.New(cfg.Archive.DataDir, cfg.Retention())
	hub := event.NewHub()
	uplinkServer := uplink.NewServer(store, hub,
		uplink.WithServerControlThreshold(cfg.Uplink.ControlThreshold),
	)
	booth := boothclient.NewClient(cfg.Relay.BoothURL)

	c := cron.New(
		cron.WithChain(cron.SkipIfStillRunning(&logger.CronLogger{Logger: slog.Default()})),
	)
	if _, err := c.AddFunc(cfg.Archive.PruneSchedule, func() {
		if n, err := store.Prune(); err != nil {
			slog.Error("Failed to prune capture ledger", "error", err)
		} else if n > 0 {
			slog.Info("Pruned capture ledger", "removed", n)
		}
	}); err != nil {
		logger.Fatal("Invalid prune schedule", "schedule", cfg.Archive.PruneSchedule, "error", err)
	}
	c.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/index.html")))

	// The booth connects here; it is not an operator route.
	router.GET("/uplink", gin.WrapH(uplinkServer))

	events := &handlers.EventsHandler{Hub: hub}
	router.GET("/ws", events.Spectate)

	operator := router.Group("/")
	authEnabled := cfg.Relay.Username != ""
	if authEnabled {
		router.Use(sessions.Sessions("potboy_session", cookie.NewStore(sessionSecret(cfg.Relay.SessionSecret))))
		auth := &handlers.AuthHandler{User: cfg.Relay.Username, Password: cfg.Relay.Password, TemplateFS: templateFS}
		router.GET("/login", auth.LoginPage)
		router.POST("/login", auth.Login)
		router.GET("/logout", auth.Logout)
		operator = router.Group("/", middleware.AuthRequired)
	} else {
		slog.Warn("Operator login disabled, relay API is open")
	}

	operator.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{"auth": authEnabled})
	})
	trigger := &handlers.TriggerHandler{Booth: booth}
	operator.POST("/api/preview/start", trigger.StartPreview)
	operator.POST("/api/preview/stop", trigger.StopPreview)
	operator.POST("/api/capture", trigger.Capture)
	operator.GET("/api/stream", trigger.Stream)
	operator.POST("/api/notify", events.Notify)
	status := &handlers.StatusHandler{Booth: booth, Hub: hub, Uplink: uplinkServer, Ledger: store}
	operator.GET("/api/status", status.Status)

	srv := &http.Server{
		Addr:    cfg.Addr(defaultPort),
		Handler: router,
	}
	go func() {
		slog.Info("Relay listening", "addr", srv.Addr, "booth", cfg.Relay.BoothURL, "data_dir", store.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-c.Stop().Done()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Failed to shut down telemetry", "error", err)
	}
}

// sessionSecret returns the configured key or a random one, which logs
// everyone out on restart.
func sessionSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	slog.Warn("No session secret configured, generating one")
	key := make([]byte, 32)
	rand.Read(key)
	return key
}
