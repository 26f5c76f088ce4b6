package bootstrap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/veltrix/sessiongate/internal/adapters/cache"
	eventadapter "github.com/veltrix/sessiongate/internal/adapters/events"
	grpcadapter "github.com/veltrix/sessiongate/internal/adapters/grpc"
	httpadapter "github.com/veltrix/sessiongate/internal/adapters/http"
	"github.com/veltrix/sessiongate/internal/adapters/postgres"
	"github.com/veltrix/sessiongate/internal/adapters/security"
	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/authz"
	"github.com/veltrix/sessiongate/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping sessiongate", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort, "context_key", cfg.ContextKey)

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	sealer, err := newSealer(cfg, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	refresher, err := security.NewTokenClient(security.TokenClientConfig{
		EndpointURL: cfg.RefreshEndpointURL,
		HTTPClient:  &http.Client{Timeout: cfg.RefreshTimeout},
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token refresher: %w", err)
	}

	policies, err := LoadPolicies(cfg.PolicyFile)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	if cfg.PolicyFile == "" {
		logger.Warn("no policy file configured, every access check will deny")
	}

	var audit ports.AuditRepository
	var closeDB func()
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := pool.DB()
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("gorm sql db: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		audit = postgres.NewAuditRepository(pool)
		closeDB = func() { _ = sqlDB.Close() }
	} else {
		logger.Info("audit trail disabled, no postgres url configured")
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ContextKey:                  cfg.ContextKey,
			SessionTimeout:              cfg.SessionTimeout,
			IdleTimeout:                 cfg.IdleTimeout,
			SessionWarningTime:          cfg.SessionWarningTime,
			RefreshTimeout:              cfg.RefreshTimeout,
			MaxRefreshAttempts:          cfg.MaxRefreshAttempts,
			SuspiciousActivityThreshold: cfg.SuspiciousActivityThreshold,
			MaxConcurrentSessions:       cfg.MaxConcurrentSessions,
			FailedOperationCeiling:      cfg.FailedOperationCeiling,
			InvalidateOnSuspicious:      cfg.InvalidateOnSuspicious,
		},
		Records:       cacheadapter.NewRedisSessionRecordStore(redisClient, cfg.RecordGrace),
		RefreshTokens: cacheadapter.NewRedisRefreshTokenStore(redisClient, sealer, cfg.RefreshTokenRetention),
		Metadata:      cacheadapter.NewRedisSessionMetadataStore(redisClient, cfg.RefreshTokenRetention),
		Handshakes:    cacheadapter.NewRedisHandshakeStore(redisClient),
		Fingerprints:  cacheadapter.NewRedisFingerprintStore(redisClient, cfg.SessionTimeout),
		Refresher:     refresher,
		Broadcaster:   cacheadapter.NewRedisActivityBroadcaster(redisClient),
		Parser:        security.NewJWTIdentityParser(),
		Authorizer:    authz.NewEngine(policies),
	})

	if audit != nil {
		eventadapter.NewAuditObserver(audit).Attach(svc.Events())
	}
	publishers := []ports.EventPublisher{eventadapter.NewLoggingPublisher(logger)}
	var kafkaPub *eventadapter.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err = eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			if closeDB != nil {
				closeDB()
			}
			_ = redisClient.Close()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		publishers = append(publishers, kafkaPub)
	}
	eventadapter.NewStreamForwarder(publishers...).Attach(svc.Events())

	handler := httpadapter.NewHandler(svc, audit)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewSessionInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		if kafkaPub != nil {
			_ = kafkaPub.Close()
		}
		if closeDB != nil {
			closeDB()
		}
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		cleanupFn: func(context.Context) {
			if kafkaPub != nil {
				_ = kafkaPub.Close()
			}
			if closeDB != nil {
				closeDB()
			}
			_ = redisClient.Close()
		},
	}, nil
}

// newSealer builds the refresh-token sealer from the configured secret, or
// from a per-boot random key when running without one. With an ephemeral
// key, sealed tokens from a previous run fail to open and the session
// degrades to access-token lifetime.
func newSealer(cfg Config, logger *slog.Logger) (ports.TokenSealer, error) {
	if cfg.SealSecret != "" {
		sealer, err := security.NewChaChaSealerFromSecret(cfg.SealSecret)
		if err != nil {
			return nil, fmt.Errorf("init token sealer: %w", err)
		}
		return sealer, nil
	}
	logger.Warn("using ephemeral seal key, sealed refresh tokens will not survive a restart")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate seal key: %w", err)
	}
	sealer, err := security.NewChaChaSealer(key)
	if err != nil {
		return nil, fmt.Errorf("init token sealer: %w", err)
	}
	return sealer, nil
}

// Run serves the HTTP and gRPC APIs until a shutdown signal or a server
// failure, then drains connections and releases the backing stores. The
// held session is deliberately left in place: it must survive restarts so
// the next boot can restore it.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}
