// Package engagement implements the Nexus gamification engines.
// Activity drives streaks, streaks and counts drive achievements,
// achievements and direct awards drive XP and levels.
package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/metrics"
)

// StreakEngine derives consecutive-day streaks from the activity log.
// A day counts if it holds at least one completed event in scope.
// Streaks are recomputed from history each time, never incremented.
type StreakEngine struct {
	store  domain.Store
	policy Policy
	now    func() time.Time
	log    *zap.Logger
}

// NewStreakEngine creates a streak engine.
func NewStreakEngine(store domain.Store, policy Policy, now func() time.Time, log *zap.Logger) *StreakEngine {
	return &StreakEngine{store: store, policy: policy, now: now, log: log}
}

// Today returns the reference calendar day in the configured timezone.
func (e *StreakEngine) Today() time.Time {
	return domain.DayOf(e.now(), e.policy.Location)
}

// Recompute rebuilds the streak for one scope and persists it. A scope that
// has never been active returns a zero streak without creating a record.
func (e *StreakEngine) Recompute(ctx context.Context, userID string, scope domain.StreakScope) (domain.Streak, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Streak{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	if err := scope.Validate(); err != nil {
		return domain.Streak{}, err
	}

	today := e.Today()
	var out domain.Streak
	var broke bool
	err := retryOnConflict(ctx, e.policy.MaxRetries, "recompute_streak", func() error {
		return e.store.Atomic(ctx, func(r domain.Repos) error {
			prev, err := r.GetStreak(ctx, userID, scope)
			if err != nil {
				return fmt.Errorf("get streak: %w", err)
			}

			q := scope.Query(userID)
			q.Since = domain.DayStart(today.AddDate(0, 0, -e.policy.LookbackDays), e.policy.Location)
			q.Until = domain.DayStart(today.AddDate(0, 0, 1), e.policy.Location)
			events, err := r.ListActivity(ctx, q)
			if err != nil {
				return fmt.Errorf("list activity: %w", err)
			}

			next := ComputeStreak(prev, userID, scope, events, today, e.policy)
			next.UpdatedAt = e.now()
			out = next
			broke = prev != nil && prev.IsActive && !next.IsActive

			if prev == nil && next.CurrentStreak == 0 {
				return nil
			}
			if err := r.SaveStreak(ctx, &next); err != nil {
				return fmt.Errorf("save streak: %w", err)
			}
			out = next
			return nil
		})
	})
	if err != nil {
		return domain.Streak{}, err
	}

	metrics.StreakRecomputes.WithLabelValues(string(scope.Type)).Inc()
	if broke {
		metrics.StreaksBroken.WithLabelValues(string(scope.Type)).Inc()
	}
	e.log.Debug("streak recomputed",
		zap.String("user", userID),
		zap.String("type", string(scope.Type)),
		zap.String("target", scope.TargetID),
		zap.Int("current", out.CurrentStreak),
		zap.Int("longest", out.LongestStreak))
	return out, nil
}

// RecomputeForEvent recomputes every streak scope ev can affect.
func (e *StreakEngine) RecomputeForEvent(ctx context.Context, ev domain.ActivityEvent) ([]domain.Streak, error) {
	scopes := domain.ScopesFor(ev)
	out := make([]domain.Streak, 0, len(scopes))
	for _, scope := range scopes {
		s, err := e.Recompute(ctx, ev.UserID, scope)
		if err != nil {
			return out, fmt.Errorf("recompute %s streak: %w", scope.Type, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ComputeStreak is the pure streak derivation. prev may be nil.
// today is a calendar day produced by domain.DayOf.
func ComputeStreak(prev *domain.Streak, userID string, scope domain.StreakScope, events []domain.ActivityEvent, today time.Time, p Policy) domain.Streak {
	next := domain.Streak{UserID: userID, Type: scope.Type, TargetID: scope.TargetID}
	if prev != nil {
		next = *prev
	}

	days := make(map[time.Time]bool, len(events))
	var latest time.Time
	for _, ev := range events {
		if ev.Status != domain.StatusCompleted {
			continue
		}
		d := domain.DayOf(ev.OccurredAt, p.Location)
		if d.After(today) {
			continue
		}
		days[d] = true
		if d.After(latest) {
			latest = d
		}
	}

	count, start := walkBack(days, today, p.LookbackDays, p.GraceDay)
	next.CurrentStreak = count
	if count > next.LongestStreak {
		next.LongestStreak = count
	}
	if count > 0 {
		next.StreakStartDate = start.AddDate(0, 0, -(count - 1))
	}
	if !latest.IsZero() && latest.After(next.LastActivityDate) {
		next.LastActivityDate = latest
	}
	next.IsActive = count > 0
	return next
}

// walkBack counts consecutive non-empty days ending at today, or at
// yesterday when grace is on and today is empty. It never walks past
// the look-back window. start is the first day counted.
func walkBack(days map[time.Time]bool, today time.Time, window int, grace bool) (count int, start time.Time) {
	start = today
	if grace && !days[today] {
		start = today.AddDate(0, 0, -1)
	}
	earliest := today.AddDate(0, 0, -window)
	for d := start; !d.Before(earliest) && days[d]; d = d.AddDate(0, 0, -1) {
		count++
	}
	return count, start
}
