package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/catalog"
	"github.com/nexus-app/nexus/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func defaultDefs(t *testing.T) []domain.AchievementDefinition {
	t.Helper()
	defs, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default() error: %v", err)
	}
	return defs
}

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("check %q not found in statuses", name)
	return Status{}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	c := NewChecker(newTestDB(t), nil, t.TempDir(), nil)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(newTestDB(t), nil, t.TempDir(), nil)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_CatalogRecovered(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, defaultDefs(t), t.TempDir(), zap.NewNop())
	c.RunOnce(context.Background())

	s := statusOf(t, c, "catalog")
	if !s.Healthy || !s.Recovered {
		t.Errorf("catalog status = %+v, want healthy after recovery", s)
	}
	if !c.IsHealthy() {
		t.Errorf("IsHealthy() = false, statuses %+v", c.Statuses())
	}

	// Second run finds the synced catalog without recovering.
	c.RunOnce(context.Background())
	if s := statusOf(t, c, "catalog"); !s.Healthy || s.Recovered {
		t.Errorf("second run catalog status = %+v", s)
	}
}

func TestChecker_CatalogEmptyWithoutDefs(t *testing.T) {
	c := NewChecker(newTestDB(t), nil, t.TempDir(), zap.NewNop())
	c.RunOnce(context.Background())

	s := statusOf(t, c, "catalog")
	if s.Healthy {
		t.Error("catalog should be unhealthy with nothing to sync")
	}
	if s.Error != errEmptyCatalog.Error() {
		t.Errorf("error = %q", s.Error)
	}
}

func TestChecker_StoreClosed(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, defaultDefs(t), t.TempDir(), zap.NewNop())
	db.Close()
	c.RunOnce(context.Background())

	if s := statusOf(t, c, "store"); s.Healthy {
		t.Error("store check should fail on a closed database")
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false")
	}
}

func TestChecker_DataDir(t *testing.T) {
	tests := []struct {
		name    string
		dir     func(t *testing.T) string
		healthy bool
	}{
		{"exists", func(t *testing.T) string { return t.TempDir() }, true},
		{"unset", func(t *testing.T) string { return "" }, true},
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }, false},
		{"file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "home")
			if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
			return p
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(newTestDB(t), defaultDefs(t), tt.dir(t), zap.NewNop())
			c.RunOnce(context.Background())
			if s := statusOf(t, c, "data_dir"); s.Healthy != tt.healthy {
				t.Errorf("data_dir healthy = %v, want %v (%s)", s.Healthy, tt.healthy, s.Error)
			}
		})
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{log: zap.NewNop()}
	c.Add(Check{
		Name:    "always_pass",
		CheckFn: func(ctx context.Context) error { return nil },
	})
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingRecovery(t *testing.T) {
	recovered := 0
	c := &Checker{log: zap.NewNop()}
	c.Add(Check{
		Name:    "always_fail",
		CheckFn: func(ctx context.Context) error { return os.ErrPermission },
		RecoverFn: func(ctx context.Context) error {
			recovered++
			return nil
		},
	})
	c.RunOnce(context.Background())

	s := c.Statuses()[0]
	if s.Healthy || s.Recovered {
		t.Errorf("status = %+v, want unhealthy", s)
	}
	if s.Error == "" {
		t.Error("error message should be populated")
	}
	if recovered != 1 {
		t.Errorf("recover calls = %d, want 1", recovered)
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	c := NewChecker(newTestDB(t), defaultDefs(t), t.TempDir(), zap.NewNop())
	c.RunOnce(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()
	s1[0].Healthy = false
	if !s2[0].Healthy {
		t.Error("Statuses() should return a copy, not a reference")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker(newTestDB(t), defaultDefs(t), t.TempDir(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if len(c.Statuses()) != 3 {
		t.Errorf("statuses = %d, want 3 after initial run", len(c.Statuses()))
	}
}
