package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/services"
	"streamrelay/internal/handlers/chat"
	httphandlers "streamrelay/internal/handlers/http"
	"streamrelay/internal/infrastructure/distributed"
	"streamrelay/internal/infrastructure/middleware"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/process"
	"streamrelay/internal/infrastructure/repositories"
	chatsignal "streamrelay/internal/infrastructure/signal"
	"streamrelay/pkg/config"
	"streamrelay/pkg/logger"
	"streamrelay/pkg/retry"
	"streamrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const limiterPruneInterval = 10 * time.Minute

func main() {
	flags := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	configPath := flags.String("config", "configs/config.yaml", "path to the YAML configuration file")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync(zapLogger)
	log := zapLogger.Sugar()

	if err := run(cfg, zapLogger); err != nil {
		log.Errorw("relayd stopped with error", "error", err)
		logger.Sync(zapLogger)
		os.Exit(1)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()
	startTime := time.Now()
	instanceID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "streamrelay",
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	if err := process.CheckBinary(cfg.Relay.Binary); err != nil {
		log.Warnw("relay binary not found, /stream will fail until it is installed", "binary", cfg.Relay.Binary, "error", err)
	}

	// Repositories and event bus
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, instanceID, logger.Named(zapLogger, "repositories"))
	registry := repoFactory.CreateSessionRegistry()
	eventBus := repoFactory.CreateEventBus()

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRelayBinaryCheck(cfg.Relay.Binary)
	repoFactory.RegisterHealthChecks(healthChecker)

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	// Relay manager
	launcher := process.NewLauncher(process.Config{
		StopGracePeriod:        cfg.Relay.StopGracePeriod,
		DiagnosticsBufferBytes: cfg.Relay.DiagnosticsBufferBytes,
	}, logger.Named(zapLogger, "process"))

	manager := services.NewRelayManager(registry, launcher, relayConfig(cfg), logger.Named(zapLogger, "relays"),
		services.WithEventPublisher(repoFactory.CreateEventPublisher()),
		services.WithMetrics(collector),
	)

	// Chat transport
	dispatcher := chat.NewDispatcher(manager, chat.Config{
		RateLimitEnabled:          cfg.RateLimiting.Enabled,
		CommandsPerSecond:         cfg.RateLimiting.Commands.PerSecond,
		CommandBurst:              cfg.RateLimiting.Commands.Burst,
		AllowedSourceSchemes:      cfg.Relay.AllowedSourceSchemes,
		AllowedDestinationSchemes: cfg.Relay.AllowedDestinationSchemes,
	}, collector, logger.Named(zapLogger, "chat"))

	chatServer := chatsignal.NewChatServer(dispatcher, chatsignal.ChatConfig{
		Token:          cfg.Chat.Token,
		PingInterval:   cfg.Chat.PingInterval,
		PongTimeout:    cfg.Chat.PongTimeout,
		WriteTimeout:   cfg.Chat.WriteTimeout,
		AllowedOrigins: cfg.Chat.AllowedOrigins,
	}, logger.Named(zapLogger, "chat"))
	manager.SetNotifier(chatServer)

	chatHTTP := &http.Server{
		Addr:    cfg.Chat.Address,
		Handler: chatServer.Handler(),
	}

	// Admin API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpLog := logger.Named(zapLogger, "http")
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(httpLog),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(httpLog),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	httphandlers.NewRelayHandler(manager, healthChecker, cfg.Chat.Token).SetupRoutes(router)
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"instance_id": instanceID,
			"uptime":      time.Since(startTime).String(),
			"redis":       repoFactory.UsingRedis(),
		})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	adminHTTP := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting chat server", "address", cfg.Chat.Address)
		return listen(chatHTTP)
	})
	g.Go(func() error {
		log.Infow("starting admin server", "address", cfg.Server.Address, "instance_id", instanceID)
		return listen(adminHTTP)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx, limiterPruneInterval)
	})
	if eventBus != nil {
		eventsLog := logger.Named(zapLogger, "events")
		g.Go(func() error {
			err := eventBus.Subscribe(gctx, func(event *distributed.Event) error {
				eventsLog.Infow("relay event from peer instance",
					"type", event.Type,
					"user_id", event.UserID,
					"session_id", event.SessionID,
					"instance_id", event.InstanceID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				// Losing the peer feed must not take local relays down.
				eventsLog.Warnw("event subscription ended", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return shutdown(cfg, log, manager, chatServer, chatHTTP, adminHTTP, repoFactory, tracer)
	})

	err = g.Wait()
	log.Infow("relayd stopped", "uptime", time.Since(startTime).String())
	return err
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return nil
}

// shutdown closes the listeners first so no command can start a relay, then
// stops the relays, then the backing services.
func shutdown(
	cfg *config.Config,
	log *zap.SugaredLogger,
	manager *services.RelayManager,
	chatServer *chatsignal.ChatServer,
	chatHTTP, adminHTTP *http.Server,
	repoFactory *repositories.RepositoryFactory,
	tracer *tracing.TracerProvider,
) error {
	var errs []error

	chatCtx, cancelChat := context.WithTimeout(context.Background(), cfg.Chat.ShutdownTimeout)
	defer cancelChat()
	if err := chatHTTP.Shutdown(chatCtx); err != nil {
		errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
		_ = chatHTTP.Close()
	}
	if err := chatServer.Shutdown(chatCtx); err != nil {
		errs = append(errs, fmt.Errorf("close chat connections: %w", err))
	}

	adminCtx, cancelAdmin := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelAdmin()
	if err := adminHTTP.Shutdown(adminCtx); err != nil {
		errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		_ = adminHTTP.Close()
	}

	relayCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.StopGracePeriod+5*time.Second)
	defer cancel()
	if err := manager.Shutdown(relayCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop relays: %w", err))
	}

	if err := repoFactory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repositories: %w", err))
	}
	if err := tracer.Shutdown(adminCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}

	if len(errs) == 0 {
		log.Info("shutdown complete")
	}
	return errors.Join(errs...)
}

func relayConfig(cfg *config.Config) services.RelayConfig {
	notifyRetry := retry.DefaultConfig()
	notifyRetry.MaxAttempts = cfg.Notifications.MaxAttempts
	notifyRetry.InitialDelay = cfg.Notifications.InitialDelay

	return services.RelayConfig{
		Profile: domain.RelayProfile{
			Binary:     cfg.Relay.Binary,
			VideoCodec: cfg.Relay.VideoCodec,
			AudioCodec: cfg.Relay.AudioCodec,
			Format:     cfg.Relay.Format,
		},
		AllowedSourceSchemes:      cfg.Relay.AllowedSourceSchemes,
		AllowedDestinationSchemes: cfg.Relay.AllowedDestinationSchemes,
		DiagnosticsPreviewChars:   cfg.Relay.DiagnosticsPreviewChars,
		NotifyTimeout:             cfg.Notifications.Timeout,
		NotifyRetry:               notifyRetry,
		EventTimeout:              services.DefaultRelayConfig().EventTimeout,
	}
}
