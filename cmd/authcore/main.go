package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/authcore/internal/adapter/cache"
	socialadapter "github.com/smallbiznis/authcore/internal/adapter/social"
	"github.com/smallbiznis/authcore/internal/bootstrap"
	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	httptransport "github.com/smallbiznis/authcore/internal/http"
	"github.com/smallbiznis/authcore/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/authcore/internal/http/middleware"
	"github.com/smallbiznis/authcore/internal/login"
	apimiddleware "github.com/smallbiznis/authcore/internal/middleware"
	"github.com/smallbiznis/authcore/internal/notify"
	"github.com/smallbiznis/authcore/internal/password"
	"github.com/smallbiznis/authcore/internal/repository"
	"github.com/smallbiznis/authcore/internal/secrets"
	"github.com/smallbiznis/authcore/internal/server"
	"github.com/smallbiznis/authcore/internal/service"
	"github.com/smallbiznis/authcore/internal/session"
	"github.com/smallbiznis/authcore/internal/telemetry"
	"github.com/smallbiznis/authcore/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			session.NewManager,
			newDirectory,
			newRedisClient,
			newCodeStore,
			newCipher,
			newHasher,
			newNotifier,
			newSocialClient,
			newRotationStore,
			newTokenService,
			newPasswordStrategy,
			newSocialStrategy,
			newPasswordlessStrategy,
			newDispatcher,
			service.NewAuthService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newDirectory(sessions *session.Manager, node *snowflake.Node) directory.Directory {
	return repository.NewPostgresDirectory(sessions, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCodeStore(client redis.UniversalClient) login.CodeStore {
	return cacheadapter.NewRedisCodeStore(client)
}

func newCipher(cfg config.Config) (*secrets.Cipher, error) {
	return secrets.NewCipher(cfg.EncryptionKey)
}

func newHasher(cfg config.Config) *password.Hasher {
	return password.NewHasher(password.Params{
		Time:    cfg.HashTime,
		Memory:  cfg.HashMemory,
		Threads: cfg.HashThreads,
	})
}

func newNotifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	return notify.New(cfg, logger)
}

func newSocialClient() socialadapter.Client {
	return socialadapter.NewHTTPClient(nil)
}

func newRotationStore(sessions *session.Manager) token.Store {
	return repository.NewPostgresRotationStore(sessions)
}

func newTokenService(cfg config.Config, store token.Store, logger *zap.Logger) (*token.Service, error) {
	return token.New(cfg, store, logger)
}

func newPasswordStrategy(dir directory.Directory) *login.PasswordStrategy {
	return login.NewPasswordStrategy(dir)
}

func newSocialStrategy(dir directory.Directory, client socialadapter.Client, cfg config.Config) *login.SocialStrategy {
	return login.NewSocialStrategy(dir, client, cfg)
}

func newPasswordlessStrategy(dir directory.Directory, codes login.CodeStore, cipher *secrets.Cipher, notifier notify.Notifier, cfg config.Config, logger *zap.Logger) *login.PasswordlessStrategy {
	return login.NewPasswordlessStrategy(dir, codes, cipher, notifier, cfg, logger)
}

func newDispatcher(passwordStrategy *login.PasswordStrategy, socialStrategy *login.SocialStrategy, passwordlessStrategy *login.PasswordlessStrategy, logger *zap.Logger, provider *telemetry.Provider) *login.Dispatcher {
	return login.NewDispatcher(passwordStrategy, socialStrategy, passwordlessStrategy, logger, provider.Tracer())
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
