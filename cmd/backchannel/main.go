package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/victorivanov/backchannel/internal/api"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/config"
	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/feed/memfeed"
	"github.com/victorivanov/backchannel/internal/feed/natsfeed"
	"github.com/victorivanov/backchannel/internal/feed/redisfeed"
	"github.com/victorivanov/backchannel/internal/gateway"
	"github.com/victorivanov/backchannel/internal/metrics"
	redisclient "github.com/victorivanov/backchannel/internal/redis"
	"github.com/victorivanov/backchannel/internal/service"
	"github.com/victorivanov/backchannel/internal/snowflake"
)

func main() {
	config.LoadEnvFile()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("backchannel stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	bus, closeBus, err := openBus(cfg, rdb)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	defer closeBus()
	pub := metrics.InstrumentPublisher(bus)

	sf, err := snowflake.NewGenerator(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	tokenSvc := auth.NewTokenService(cfg.JWTSecret)

	// --- Repositories ---

	profiles := database.NewProfileRepository(pool)
	channels := database.NewChannelRepository(pool)
	messages := database.NewMessageRepository(pool)
	reactions := database.NewReactionRepository(pool)
	receipts := database.NewReceiptRepository(pool)
	typing := database.NewTypingRepository(pool)

	// --- Services ---

	channelSvc := service.NewChannelService(channels)
	messageSvc := service.NewMessageService(messages, channels, sf, pub)
	profileSvc := service.NewProfileService(profiles, rdb, pub)
	reactionSvc := service.NewReactionService(reactions, messages, pub)
	receiptSvc := service.NewReceiptService(receipts, pub)
	typingSvc := service.NewTypingService(typing, profiles, rdb, pub)

	// --- Gateway ---

	gwManager := gateway.NewManager(tokenSvc, profileSvc, gateway.DefaultOptions())

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, &api.Dependencies{
		Channels:     api.NewChannelHandler(channelSvc),
		Messages:     api.NewMessageHandler(messageSvc),
		Reactions:    api.NewReactionHandler(reactionSvc),
		Typing:       api.NewTypingHandler(typingSvc),
		Receipts:     api.NewReceiptHandler(receiptSvc),
		Users:        api.NewUserHandler(profileSvc),
		Gateway:      gwManager,
		TokenService: tokenSvc,
		Redis:        rdb,
	})

	// --- Supervision ---

	root := suture.New("backchannel", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logger}).MustHook(),
		FailureThreshold: 5,
		FailureBackoff:   5 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(gateway.NewRelay(gwManager, bus))
	root.Add(&httpService{echo: e, addr: cfg.ServerAddr})

	slog.Info("backchannel starting", "addr", cfg.ServerAddr, "feed", cfg.FeedDriver)
	err = root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("shutting down")
		return nil
	}
	return err
}

// openBus connects the change feed selected by FEED_DRIVER. NATS_URL
// "embedded" starts an in-process NATS server, stopped by the returned
// close function. The memory driver only reaches this process's gateway,
// so it suits a single instance.
func openBus(cfg *config.Config, rdb *redisclient.Client) (feed.Bus, func(), error) {
	switch cfg.FeedDriver {
	case config.FeedRedis:
		bus := redisfeed.New(rdb)
		return bus, func() { _ = bus.Close() }, nil
	case config.FeedMemory:
		bus := memfeed.New(slog.Default())
		return bus, func() { _ = bus.Close() }, nil
	}

	url := cfg.NATSURL
	shutdown := func() {}
	if strings.EqualFold(url, "embedded") {
		ns, err := natsfeed.RunEmbedded("127.0.0.1", -1)
		if err != nil {
			return nil, nil, err
		}
		url = ns.ClientURL()
		shutdown = ns.Shutdown
		slog.Info("embedded nats started", "url", url)
	}

	bus, err := natsfeed.Connect(url)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return bus, func() {
		_ = bus.Close()
		shutdown()
	}, nil
}

// httpService runs echo under the supervisor.
type httpService struct {
	echo *echo.Echo
	addr string
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *httpService) String() string { return "http-server" }
