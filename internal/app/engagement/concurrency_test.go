package engagement

import (
	"context"
	"sync"
	"testing"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/memory"
	"github.com/nexus-app/nexus/internal/infra/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// Concurrent writers against the real stores
// ═══════════════════════════════════════════════════════════════════════════

var stores = []struct {
	name string
	open func(t *testing.T) domain.Store
}{
	{"memory", func(t *testing.T) domain.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) domain.Store {
		db, err := sqlite.Open(t.TempDir())
		if err != nil {
			t.Fatalf("sqlite.Open() error: %v", err)
		}
		return db
	}},
}

func openService(t *testing.T, open func(t *testing.T) domain.Store) (*Service, domain.Store) {
	t.Helper()
	store := open(t)
	t.Cleanup(func() { store.Close() })
	seedDefs(t, store, testDefs...)
	clk := newClock(day1)
	// Enough retries that every writer eventually wins a version race.
	return NewService(store, WithClock(clk.Now), WithPolicy(Policy{MaxRetries: 100})), store
}

// parallel runs fn from n goroutines and returns the errors they report.
func parallel(n int, fn func(i int) error) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestAwardXP_ConcurrentNoLostUpdates(t *testing.T) {
	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			svc, _ := openService(t, st.open)
			ctx := context.Background()

			const workers, amount = 50, 10
			errs := parallel(workers, func(int) error {
				_, err := svc.AwardXP(ctx, "u1", amount, "bonus", "")
				return err
			})
			if len(errs) > 0 {
				t.Fatalf("AwardXP() errors: %v", errs)
			}

			lvl, err := svc.Levels.Current(ctx, "u1")
			if err != nil {
				t.Fatalf("Current() error: %v", err)
			}
			if lvl.TotalXP != workers*amount {
				t.Errorf("totalXP = %d, want %d", lvl.TotalXP, workers*amount)
			}
			if want := RebuildLevel("u1", workers*amount); lvl.Level != want.Level || lvl.CurrentXP != want.CurrentXP {
				t.Errorf("level = %+v, want level %d currentXP %d", lvl, want.Level, want.CurrentXP)
			}
			ledger, err := svc.Ledger(ctx, "u1", 0)
			if err != nil {
				t.Fatalf("Ledger() error: %v", err)
			}
			if len(ledger) != workers {
				t.Errorf("ledger entries = %d, want %d", len(ledger), workers)
			}
		})
	}
}

func TestAwardXP_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			svc, _ := openService(t, st.open)
			ctx := context.Background()

			var (
				mu      sync.Mutex
				applied int
			)
			errs := parallel(20, func(int) error {
				got, err := svc.AwardXP(ctx, "u1", 75, "welcome", "welcome:u1")
				if err != nil {
					return err
				}
				if !got.Replayed {
					mu.Lock()
					applied++
					mu.Unlock()
				}
				return nil
			})
			if len(errs) > 0 {
				t.Fatalf("AwardXP() errors: %v", errs)
			}
			if applied != 1 {
				t.Errorf("applied %d times, want 1", applied)
			}
			lvl, _ := svc.Levels.Current(ctx, "u1")
			if lvl.TotalXP != 75 {
				t.Errorf("totalXP = %d, want 75", lvl.TotalXP)
			}
		})
	}
}

func TestCheckAchievements_ConcurrentGrantsOnce(t *testing.T) {
	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			svc, store := openService(t, st.open)
			ctx := context.Background()

			err := store.Atomic(ctx, func(r domain.Repos) error {
				if err := r.EnsureUser(ctx, domain.User{ID: "u1", CreatedAt: day1}); err != nil {
					return err
				}
				return r.AppendActivity(ctx, domain.ActivityEvent{
					ID: "ev1", UserID: "u1", Kind: domain.ActivityJournalEntry,
					Status: domain.StatusCompleted, OccurredAt: day1,
				})
			})
			if err != nil {
				t.Fatalf("seed activity: %v", err)
			}

			var (
				mu     sync.Mutex
				earned int
			)
			errs := parallel(10, func(int) error {
				res, err := svc.CheckAchievements(ctx, "u1")
				if err != nil {
					return err
				}
				mu.Lock()
				earned += res.AwardedCount
				mu.Unlock()
				return nil
			})
			if len(errs) > 0 {
				t.Fatalf("CheckAchievements() errors: %v", errs)
			}
			if earned != 1 {
				t.Errorf("first_journal reported earned %d times, want 1", earned)
			}

			_ = store.View(ctx, func(r domain.Repos) error {
				held, err := r.ListUserAchievements(ctx, "u1")
				if err != nil {
					t.Fatalf("ListUserAchievements() error: %v", err)
				}
				if len(held) != 1 {
					t.Errorf("user achievements = %d, want 1", len(held))
				}
				sum, err := r.SumAwards(ctx, "u1")
				if err != nil {
					t.Fatalf("SumAwards() error: %v", err)
				}
				if sum != 25 {
					t.Errorf("xp from achievements = %d, want 25", sum)
				}
				return nil
			})
		})
	}
}
