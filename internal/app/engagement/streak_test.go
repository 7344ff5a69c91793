package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/memory"
)

func dayN(n int) time.Time {
	return time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestWalkBack(t *testing.T) {
	today := dayN(0)
	set := func(offsets ...int) map[time.Time]bool {
		m := make(map[time.Time]bool)
		for _, o := range offsets {
			m[dayN(o)] = true
		}
		return m
	}

	tests := []struct {
		name      string
		days      map[time.Time]bool
		grace     bool
		window    int
		wantCount int
		wantStart time.Time
	}{
		{"three consecutive", set(0, -1, -2), false, 365, 3, today},
		{"gap stops walk", set(0, -1, -3, -4), false, 365, 2, today},
		{"yesterday only", set(-1), false, 365, 0, today},
		{"yesterday only with grace", set(-1), true, 365, 1, dayN(-1)},
		{"grace ignored when today present", set(0, -1), true, 365, 2, today},
		{"empty", set(), false, 365, 0, today},
		{"window bounds walk", set(0, -1, -2, -3, -4), false, 2, 3, today},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, start := walkBack(tt.days, today, tt.window, tt.grace)
			if count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
		})
	}
}

func events(user string, kind domain.ActivityKind, at ...time.Time) []domain.ActivityEvent {
	out := make([]domain.ActivityEvent, len(at))
	for i, ts := range at {
		out[i] = domain.ActivityEvent{UserID: user, Kind: kind, Status: domain.StatusCompleted, OccurredAt: ts}
	}
	return out
}

func TestComputeStreak(t *testing.T) {
	scope := domain.StreakScope{Type: domain.StreakJournal}
	p := DefaultPolicy()
	today := dayN(0)

	evs := events("u1", domain.ActivityJournalEntry,
		dayN(-2).Add(8*time.Hour),
		dayN(-1).Add(23*time.Hour),
		dayN(0).Add(time.Hour),
		dayN(0).Add(2*time.Hour), // same day counts once
	)
	got := ComputeStreak(nil, "u1", scope, evs, today, p)
	want := domain.Streak{
		UserID: "u1", Type: domain.StreakJournal,
		CurrentStreak: 3, LongestStreak: 3,
		LastActivityDate: today, StreakStartDate: dayN(-2), IsActive: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ComputeStreak() mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeStreak_LongestRatchets(t *testing.T) {
	scope := domain.StreakScope{Type: domain.StreakMood}
	prev := &domain.Streak{
		UserID: "u1", Type: domain.StreakMood, CurrentStreak: 9, LongestStreak: 9,
		LastActivityDate: dayN(-3), StreakStartDate: dayN(-11), IsActive: true, Version: 4,
	}
	got := ComputeStreak(prev, "u1", scope, nil, dayN(0), DefaultPolicy())
	if got.CurrentStreak != 0 || got.IsActive {
		t.Errorf("broken streak = %+v", got)
	}
	if got.LongestStreak != 9 {
		t.Errorf("longest = %d, want 9", got.LongestStreak)
	}
	if !got.LastActivityDate.Equal(dayN(-3)) || !got.StreakStartDate.Equal(dayN(-11)) {
		t.Errorf("dates changed on break: %+v", got)
	}
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
}

func TestComputeStreak_IgnoresIncompleteAndFuture(t *testing.T) {
	scope := domain.StreakScope{Type: domain.StreakJournal}
	evs := events("u1", domain.ActivityJournalEntry, dayN(0), dayN(1))
	evs[0].Status = domain.StatusPartial
	got := ComputeStreak(nil, "u1", scope, evs, dayN(0), DefaultPolicy())
	if got.CurrentStreak != 0 || !got.LastActivityDate.IsZero() {
		t.Errorf("ComputeStreak() = %+v, want empty", got)
	}
}

func TestComputeStreak_Timezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	p := DefaultPolicy()
	p.Location = tokyo

	// 16:00 UTC on the 9th is already the 10th in Tokyo.
	evs := events("u1", domain.ActivityMoodEntry,
		time.Date(2025, 7, 9, 16, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 9, 1, 0, 0, 0, time.UTC),
	)
	today := domain.DayOf(time.Date(2025, 7, 10, 3, 0, 0, 0, tokyo), tokyo)
	got := ComputeStreak(nil, "u1", domain.StreakScope{Type: domain.StreakMood}, evs, today, p)
	if got.CurrentStreak != 2 {
		t.Errorf("current = %d, want 2 in JST", got.CurrentStreak)
	}

	got = ComputeStreak(nil, "u1", domain.StreakScope{Type: domain.StreakMood}, evs, dayN(0), DefaultPolicy())
	if got.CurrentStreak != 0 {
		t.Errorf("current = %d, want 0 in UTC (latest day is the 9th)", got.CurrentStreak)
	}
}

func TestRecompute_Validation(t *testing.T) {
	svc, _ := newTestService(t, newClock(day1))
	ctx := context.Background()

	tests := []struct {
		name  string
		user  string
		scope domain.StreakScope
		want  error
	}{
		{"missing user", "", domain.StreakScope{Type: domain.StreakJournal}, domain.ErrMissingUser},
		{"unknown type", "u1", domain.StreakScope{Type: "sleep"}, domain.ErrInvalidScope},
		{"habit without target", "u1", domain.StreakScope{Type: domain.StreakHabitSpecific}, domain.ErrInvalidScope},
		{"target on aggregate", "u1", domain.StreakScope{Type: domain.StreakJournal, TargetID: "h1"}, domain.ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Streaks.Recompute(ctx, tt.user, tt.scope)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecompute_NoActivityCreatesNothing(t *testing.T) {
	svc, store := newTestService(t, newClock(day1))
	ctx := context.Background()

	got, err := svc.RecomputeStreak(ctx, "u1", domain.StreakJournal, "")
	if err != nil {
		t.Fatalf("RecomputeStreak() error: %v", err)
	}
	if got.CurrentStreak != 0 || got.IsActive {
		t.Errorf("streak = %+v", got)
	}
	_ = store.View(ctx, func(r domain.Repos) error {
		list, _ := r.ListStreaks(ctx, "u1")
		if len(list) != 0 {
			t.Errorf("expected no stored streaks, got %d", len(list))
		}
		return nil
	})
}

func TestRecordActivity_HabitScopes(t *testing.T) {
	clk := newClock(day1)
	svc, _ := newTestService(t, clk)

	for i := 0; i < 3; i++ {
		record(t, svc, domain.ActivityEvent{
			UserID: "u1", TargetID: "h1", Kind: domain.ActivityHabitCompletion, OccurredAt: clk.Now(),
		})
		clk.AddDays(1)
	}
	clk.AddDays(-1)
	out := record(t, svc, domain.ActivityEvent{
		UserID: "u1", TargetID: "h2", Kind: domain.ActivityHabitCompletion, OccurredAt: clk.Now(),
	})

	if len(out.Streaks) != 2 {
		t.Fatalf("expected 2 affected streaks, got %d", len(out.Streaks))
	}
	if s := out.Streaks[0]; s.Type != domain.StreakHabitSpecific || s.TargetID != "h2" || s.CurrentStreak != 1 {
		t.Errorf("habit streak = %+v", s)
	}
	if s := out.Streaks[1]; s.Type != domain.StreakOverallHabits || s.CurrentStreak != 3 {
		t.Errorf("overall streak = %+v", s)
	}
}

func TestRecordActivity_SkippedDoesNotCount(t *testing.T) {
	svc, _ := newTestService(t, newClock(day1))
	out := record(t, svc, domain.ActivityEvent{
		UserID: "u1", Kind: domain.ActivityMoodEntry, Status: domain.StatusSkipped, OccurredAt: day1,
	})
	if len(out.Streaks) != 1 || out.Streaks[0].CurrentStreak != 0 {
		t.Errorf("skipped entry streak = %+v", out.Streaks)
	}
}

func TestRecompute_GraceDay(t *testing.T) {
	clk := newClock(day1)
	p := DefaultPolicy()
	p.GraceDay = true
	svc, _ := newTestService(t, clk, WithPolicy(p))
	ctx := context.Background()

	record(t, svc, journal("u1", clk.Now()))
	clk.AddDays(1)

	got, err := svc.RecomputeStreak(ctx, "u1", domain.StreakJournal, "")
	if err != nil {
		t.Fatalf("RecomputeStreak() error: %v", err)
	}
	if got.CurrentStreak != 1 || !got.IsActive {
		t.Errorf("with grace, yesterday-only streak = %+v", got)
	}
}

func TestRecompute_RetriesOnConflict(t *testing.T) {
	mem := memory.New()
	store := &flakyStore{Store: mem}
	clk := newClock(day1)
	svc := NewService(store, WithClock(clk.Now))
	ctx := context.Background()

	if _, err := svc.RecordActivity(ctx, journal("u1", day1)); err != nil {
		t.Fatalf("RecordActivity() error: %v", err)
	}

	store.mu.Lock()
	store.failures, store.attempts = 1, 0
	store.mu.Unlock()

	got, err := svc.RecomputeStreak(ctx, "u1", domain.StreakJournal, "")
	if err != nil {
		t.Fatalf("RecomputeStreak() error: %v", err)
	}
	if got.CurrentStreak != 1 {
		t.Errorf("streak = %+v", got)
	}
	if store.attempts != 2 {
		t.Errorf("attempts = %d, want 2", store.attempts)
	}
}

func TestSweepInactive(t *testing.T) {
	clk := newClock(day1)
	svc, _ := newTestService(t, clk)
	ctx := context.Background()

	record(t, svc, journal("u1", clk.Now()))
	record(t, svc, domain.ActivityEvent{UserID: "u2", Kind: domain.ActivityMoodEntry, OccurredAt: clk.Now()})

	clk.AddDays(1)
	record(t, svc, journal("u1", clk.Now()))

	clk.AddDays(1)
	broken, err := svc.SweepInactive(ctx)
	if err != nil {
		t.Fatalf("SweepInactive() error: %v", err)
	}
	if broken != 2 {
		t.Errorf("broken = %d, want 2", broken)
	}

	st, err := svc.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	want := []domain.Streak{{
		UserID: "u1", Type: domain.StreakJournal, CurrentStreak: 0, LongestStreak: 2,
		LastActivityDate: domain.DayOf(day1, time.UTC).AddDate(0, 0, 1),
		StreakStartDate:  domain.DayOf(day1, time.UTC),
	}}
	opts := cmpopts.IgnoreFields(domain.Streak{}, "UpdatedAt", "Version")
	if diff := cmp.Diff(want, st.Streaks, opts); diff != "" {
		t.Errorf("streaks mismatch (-want +got):\n%s", diff)
	}

	again, _ := svc.SweepInactive(ctx)
	if again != 0 {
		t.Errorf("second sweep broke %d, want 0", again)
	}
}
