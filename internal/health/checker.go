// Package health runs periodic checks against the store and the achievement
// catalog, with an optional recovery action per check.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/catalog"
	"github.com/nexus-app/nexus/internal/infra/metrics"
)

var errEmptyCatalog = errors.New("no achievement definitions loaded")

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
}

// NewChecker creates a checker with the standard checks: store
// connectivity, catalog presence (recovered by re-syncing defs) and the
// data directory.
func NewChecker(store domain.Store, defs []domain.AchievementDefinition, dataDir string, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		interval: 60 * time.Second,
		log:      log,
		checks: []Check{
			{
				Name:    "store",
				CheckFn: store.Ping,
			},
			{
				Name: "catalog",
				CheckFn: func(ctx context.Context) error {
					return checkCatalog(ctx, store)
				},
				RecoverFn: func(ctx context.Context) error {
					return catalog.Sync(ctx, store, defs)
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
			},
		},
	}
}

// SetInterval overrides the 60s default.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Add appends a custom check.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check once and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		err := check.CheckFn(ctx)
		if err != nil && check.RecoverFn != nil {
			if rerr := check.RecoverFn(ctx); rerr != nil {
				c.log.Warn("health recovery failed", zap.String("check", check.Name), zap.Error(rerr))
			} else if err = check.CheckFn(ctx); err == nil {
				s.Recovered = true
				c.log.Info("health check recovered", zap.String("check", check.Name))
			}
		}
		if err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkCatalog(ctx context.Context, store domain.Store) error {
	return store.View(ctx, func(r domain.Repos) error {
		defs, err := r.ListDefinitions(ctx)
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}
		if len(defs) == 0 {
			return errEmptyCatalog
		}
		return nil
	})
}

func checkDataDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
