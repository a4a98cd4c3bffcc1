package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatline/internal/auth"
	"github.com/kirinyoku/seatline/internal/codegen"
	"github.com/kirinyoku/seatline/internal/config"
	"github.com/kirinyoku/seatline/internal/metrics"
	"github.com/kirinyoku/seatline/internal/notify"
	"github.com/kirinyoku/seatline/internal/postgres"
	"github.com/kirinyoku/seatline/internal/redis"
	"github.com/kirinyoku/seatline/internal/repository"
	"github.com/kirinyoku/seatline/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/seatline/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
	"github.com/kirinyoku/seatline/internal/service"
	"github.com/kirinyoku/seatline/internal/service/query"
	"github.com/kirinyoku/seatline/internal/service/reservation"
	httpgin "github.com/kirinyoku/seatline/internal/transport/http/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	idempotencyTTL = 24 * time.Hour
	tokenTTL       = time.Hour
)

type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	pubsub     *redisrepo.SeatsPubSub
	notifier   *notify.Notifier
	closers    []func()
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	deps := service.Deps{
		Store:   store,
		Metrics: m,
		Logger:  logger,
	}

	var (
		cache *redisrepo.Cache
		idem  httpgin.Idempotency
	)

	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		cache = redisrepo.New(rdb)
		a.pubsub = redisrepo.NewSeatsPubSub(rdb)
		deps.Locker = redisrepo.NewLegLocker(rdb)
		if cfg.Reservation.RateLimitPerMinute > 0 {
			deps.Limiter = redisrepo.NewSlidingWindowLimiter(rdb, "reserve", cfg.Reservation.RateLimitPerMinute, time.Minute)
		}
		idem = redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
	} else {
		logger.Warn("redis disabled: seat maps uncached, leg locks and idempotency are process-local or off")
		deps.Locker = memory.NewLegLocker()
	}

	a.notifier = notify.New(cache, a.pubsub, logger)
	deps.Cache = cache
	deps.Notifier = a.notifier

	services := service.NewServices(deps, service.Config{
		Location: cfg.Location,
		Reservation: reservation.Config{
			ClaimLockTTL: cfg.Reservation.ClaimLockTTL,
			Codegen: codegen.Config{
				Length:      cfg.Reservation.CodeLength,
				MaxAttempts: cfg.Reservation.CodeAttempts,
			},
		},
		Query: query.Config{
			SeatMapTTL: cfg.SeatMapTTL,
		},
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpgin.NewRouter(services, httpgin.Options{
		Tokens:         auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer, tokenTTL),
		Logger:         logger,
		Metrics:        m,
		Idempotency:    idem,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	switch a.cfg.Storage {
	case config.StorageMemory:
		inv, err := memory.LoadInventoryFile(a.cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load seed file: %w", err)
		}

		store := memory.New()
		if err := store.Load(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to load inventory: %w", err)
		}

		a.logger.Info("using in-memory storage",
			zap.String("seed_file", a.cfg.SeedFile),
			zap.Int("routes", len(inv.Routes)),
			zap.Int("vehicles", len(inv.Vehicles)),
			zap.Int("seats", len(inv.Seats)),
		)

		return store, nil
	default:
		pool, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Postgres.DSN()})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		return postgresrepo.NewStore(pool, postgresrepo.Options{
			LockTimeout: a.cfg.Postgres.LockTimeout,
		}), nil
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening",
			zap.String("host", a.cfg.Server.Host),
			zap.Int("port", a.cfg.Server.Port),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Seat changes made by other instances
	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, a.notifier.Apply)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("seats subscription: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
