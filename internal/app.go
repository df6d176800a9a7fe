package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/event"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/kafka"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/rest"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/services"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/Codetivate/social-trading-webapp-sub000/libs/go/routine"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type eventSink interface {
	services.EventPublisher
	io.Closer
}

// App centralizes dependency wiring for the copy-trading engine.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	db            *sqlx.DB
	repo          store.Repository
	redis         *redis.Client
	subscriptions *store.SubscriptionStore
	events        eventSink
	consumer      *kafka.SignalConsumer
	execPublisher *kafka.ExecutionRequestPublisher

	queue   *services.ReconcileQueue
	subs    *services.SubscriptionService
	scoring *services.ScoringService
	expiry  *services.ExpiryService
	matcher *services.MatcherService

	routines *routine.Manager
	expected []string
}

// NewApp builds an App with all required dependencies.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if err := a.openStore(ctx); err != nil {
		a.cleanup()
		return nil, err
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.subscriptions = store.NewSubscriptionStore(a.redis, cfg.SubscriptionKeyPrefix)
	feed := store.NewBrokerFeed(a.redis, cfg.BrokerKeyPrefix, a.repo)

	events, err := a.openEvents()
	if err != nil {
		a.cleanup()
		return nil, err
	}
	a.events = events

	clk := clock.System{}
	a.queue = services.NewReconcileQueue(a.repo, cfg.ReconcileRetryAttempts, cfg.ReconcileRetryBackoff, logger)
	a.subs = services.NewSubscriptionService(services.SubscriptionServiceParams{
		Repo:          a.repo,
		Gate:          services.NewEntitlementGate(clk, cfg.DailyResetOffset),
		Queue:         a.queue,
		Mirror:        a.subscriptions,
		Events:        a.events,
		Clock:         clk,
		Logger:        logger,
		BalancePolicy: cfg.BalancePolicy,
		ShardCount:    cfg.ShardCount,
	})
	a.queue.OnReconciled(a.subs.OnReconciled)
	a.scoring = services.NewScoringService(a.repo, feed, a.events, clk, logger)
	a.expiry = services.NewExpiryService(a.repo, a.subs, clk, cfg.BalancePolicy, logger)

	if cfg.MatcherEnabled {
		a.consumer = kafka.NewSignalConsumer(cfg, logger)
		a.execPublisher = kafka.NewExecutionRequestPublisher(cfg)
		a.matcher = services.NewMatcherService(a.subscriptions, feed, a.consumer, a.execPublisher, clk, cfg.MinLot, logger)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.StoreDriver == "memory" {
		a.logger.Warn("using in-memory store, state is lost on restart")
		a.repo = store.NewMemory()
		return nil
	}

	db, err := store.OpenPostgres(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	a.db = db
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.repo = pg
	return nil
}

func (a *App) openEvents() (eventSink, error) {
	if a.cfg.EventTransport == "rabbitmq" {
		p, err := event.DialRabbit(a.cfg.RabbitMQURL, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open rabbitmq publisher: %w", err)
		}
		return p, nil
	}
	return kafka.NewEventPublisher(a.cfg), nil
}

// Run starts background services and blocks until ctx cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	routines := routine.NewManager(gctx)
	a.routines = routines
	defer func() {
		if err := routines.ShutdownAll(); err != nil {
			a.logger.Warn("routine shutdown failed", zap.Error(err))
		}
	}()
	routineErr := make(chan error, 1)
	if err := a.startRoutines(routines, func(err error) {
		select {
		case routineErr <- err:
		default:
		}
		cancel()
	}); err != nil {
		return err
	}

	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case err := <-routineErr:
		return err
	default:
	}
	return ctx.Err()
}

// startRoutines launches the long-running workers. A worker that exits with
// an error stops the whole app.
func (a *App) startRoutines(m *routine.Manager, fail func(error)) error {
	handlers := map[string]routine.Handler{
		"reconcile-retry": a.queue.Run,
		"score-refresh":   services.ScoreScheduler(a.scoring, a.cfg.ScoreRefreshInterval, a.logger).Run,
		"expiry-sweep":    services.ExpiryScheduler(a.expiry, a.cfg.ExpirySweepInterval, a.logger).Run,
	}
	if a.matcher != nil {
		handlers["matcher"] = a.matcher.Start
	}
	a.expected = a.expected[:0]
	for id := range handlers {
		a.expected = append(a.expected, id)
	}

	for id, handler := range handlers {
		task := &routine.Task{
			ID:      id,
			Handler: handler,
			OnStart: func(id string) { a.logger.Info("routine started", zap.String("routine", id)) },
			OnError: func(id string, err error) {
				if errors.Is(err, context.Canceled) {
					return
				}
				a.logger.Error("routine failed", zap.String("routine", id), zap.Error(err))
				fail(fmt.Errorf("routine %s: %w", id, err))
			},
		}
		if err := m.RunTask(task); err != nil {
			return fmt.Errorf("start %s: %w", id, err)
		}
	}
	return nil
}

func (a *App) runHTTPServer(ctx context.Context) error {
	r, srv := rest.NewServer(a.cfg, routineHealth(a.routines, a.expected))
	rest.NewSubscriptionController(a.subs, a.logger).RegisterSubscriptionRoutes(r.Group(""))
	rest.NewMasterController(a.scoring, a.logger).RegisterMasterRoutes(r.Group(""))

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	// App context shutdown:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		err := <-serverErr
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	// HTTP server error:
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// routineHealth fails the check once any expected routine has exited.
func routineHealth(m *routine.Manager, expected []string) rest.HealthCheck {
	return func() (bool, gin.H) {
		var missing []string
		for _, id := range expected {
			if !m.Running(id) {
				missing = append(missing, id)
			}
		}
		details := gin.H{"routines": m.IDs()}
		if len(missing) > 0 {
			sort.Strings(missing)
			details["missing"] = missing
			return false, details
		}
		return true, details
	}
}

func (a *App) cleanup() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("error closing Kafka consumer", zap.Error(err))
		}
	}
	if a.execPublisher != nil {
		if err := a.execPublisher.Close(); err != nil {
			a.logger.Warn("error closing Kafka execution publisher", zap.Error(err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("error closing event publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("error closing Postgres", zap.Error(err))
		}
	}
}
