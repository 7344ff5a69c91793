package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/api"
	"github.com/nexus-app/nexus/internal/app/engagement"
	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/health"
	"github.com/nexus-app/nexus/internal/infra/catalog"
	"github.com/nexus-app/nexus/internal/infra/memory"
	"github.com/nexus-app/nexus/internal/infra/postgres"
	"github.com/nexus-app/nexus/internal/infra/sqlite"
)

// Daemon is the Nexus runtime. It wires the store, the engines and the
// HTTP server together.
type Daemon struct {
	Config  Config
	Log     *zap.Logger
	Store   domain.Store
	Service *engagement.Service
	Server  *api.Server
	Health  *health.Checker
	Limiter *api.RateLimiter
	Catalog []domain.AchievementDefinition

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New loads the config and creates a Daemon.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig creates a Daemon with the given configuration. A nil
// logger disables logging.
func NewWithConfig(ctx context.Context, cfg Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	store, dataDir, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	defs, err := loadCatalog(cfg.Catalog)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := catalog.Sync(ctx, store, defs); err != nil {
		store.Close()
		return nil, fmt.Errorf("sync catalog: %w", err)
	}

	svc := engagement.NewService(store,
		engagement.WithPolicy(policy),
		engagement.WithLogger(log.Named("engine")),
	)

	d := &Daemon{
		Config:  cfg,
		Log:     log,
		Store:   store,
		Service: svc,
		Catalog: defs,
	}

	d.Health = health.NewChecker(store, defs, dataDir, log.Named("health"))
	d.Health.SetInterval(parseDuration(cfg.Jobs.HealthInterval, time.Minute))

	d.Server = api.NewServer(svc, log.Named("api"))
	d.Server.SetHealthChecker(d.Health)
	d.Server.SetTimeout(parseDuration(cfg.API.RequestTimeout, 30*time.Second))
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}
	if cfg.API.RateLimitRPS > 0 {
		d.Limiter = api.NewRateLimiter(cfg.API.RateLimitRPS, cfg.API.RateBurst)
		d.Server.SetRateLimiter(d.Limiter)
	}

	log.Info("daemon initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("achievements", len(defs)),
		zap.String("timezone", policy.Location.String()),
		zap.Bool("grace_day", policy.GraceDay))
	return d, nil
}

// openStore opens the configured backend. The returned directory is the
// on-disk data location, empty for network and in-memory stores.
func openStore(ctx context.Context, sc StoreConfig) (domain.Store, string, error) {
	switch sc.Driver {
	case DriverMemory:
		return memory.New(), "", nil
	case DriverPostgres:
		pc := postgres.DefaultPoolConfig()
		if sc.MaxConns > 0 {
			pc.MaxConns = sc.MaxConns
		}
		db, err := postgres.Open(ctx, sc.DSN, pc)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return db, "", nil
	default:
		dir := Home()
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, dir, nil
	}
}

func loadCatalog(cc CatalogConfig) ([]domain.AchievementDefinition, error) {
	defs, err := catalog.Load(cc.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return defs, nil
}

// StartJobs schedules the inactive-streak sweep on the configured cron
// expression, evaluated in the streak timezone. The returned scheduler is
// already running; nil means no jobs are configured.
func (d *Daemon) StartJobs(ctx context.Context) (gocron.Scheduler, error) {
	if d.Config.Jobs.SweepCron == "" {
		return nil, nil
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(d.Service.Policy().Location))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.CronJob(d.Config.Jobs.SweepCron, false),
		gocron.NewTask(func() {
			broken, err := d.Service.SweepInactive(ctx)
			if err != nil {
				d.Log.Warn("streak sweep failed", zap.Int("broken", broken), zap.Error(err))
			}
		}),
		gocron.WithName("streak-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	sched.Start()
	return sched, nil
}

// Serve starts the HTTP server and background jobs and blocks until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	go d.Health.Run(ctx)
	if d.Limiter != nil {
		go d.Limiter.Cleanup(ctx)
	}

	sched, err := d.StartJobs(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.Log.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if sched != nil {
			if err := sched.Shutdown(); err != nil {
				d.Log.Warn("scheduler shutdown", zap.Error(err))
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.Log.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}()

	d.Log.Info("nexus serving",
		zap.String("addr", "http://"+addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus),
		zap.String("sweep_cron", d.Config.Jobs.SweepCron))

	err = httpServer.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-done
		return err
	}
	<-done
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.Store != nil {
			if err := d.Store.Close(); err != nil {
				d.Log.Warn("close store", zap.Error(err))
			}
		}
		_ = d.Log.Sync()
	})
}
