package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/metrics"
)

// Policy holds the tunables shared by the engines.
type Policy struct {
	// Location defines calendar-day boundaries for every user.
	Location *time.Location
	// LookbackDays bounds how far back a streak walk reads activity.
	LookbackDays int
	// GraceDay lets an empty today start the walk at yesterday.
	GraceDay bool
	// MaxRetries bounds optimistic-concurrency retries per operation.
	MaxRetries int
	// Parallelism bounds concurrent users in batch jobs.
	Parallelism int
}

// DefaultPolicy returns UTC days, a 365-day window, no grace, 5 retries.
func DefaultPolicy() Policy {
	return Policy{
		Location:     time.UTC,
		LookbackDays: 365,
		MaxRetries:   5,
		Parallelism:  4,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Location == nil {
		p.Location = d.Location
	}
	if p.LookbackDays <= 0 {
		p.LookbackDays = d.LookbackDays
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.Parallelism <= 0 {
		p.Parallelism = d.Parallelism
	}
	return p
}

// retryOnConflict runs fn until it stops failing with domain.ErrConflict,
// at most attempts times. fn must reload whatever it writes.
func retryOnConflict(ctx context.Context, attempts int, op string, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, domain.ErrConflict) {
			return err
		}
		metrics.ConflictRetries.WithLabelValues(op).Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRegistry replaces the requirement evaluator registry.
func WithRegistry(r *Registry) Option { return func(s *Service) { s.registry = r } }

// Service wires the three engines into the activity → streak →
// achievement → XP control flow.
type Service struct {
	store    domain.Store
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
	registry *Registry

	Streaks       *StreakEngine
	Levels        *LevelEngine
	Achievements  *AchievementEngine
	Notifications *NotificationService
}

// NewService creates the gamification service over store.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{store: store, policy: DefaultPolicy(), log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.policy = s.policy.normalized()
	if s.registry == nil {
		s.registry = NewRegistry(s.log)
	}

	s.Streaks = NewStreakEngine(store, s.policy, s.now, s.log.Named("streak"))
	s.Levels = NewLevelEngine(store, s.now, s.log.Named("level"), s.policy.MaxRetries)
	s.Achievements = NewAchievementEngine(store, s.Levels, s.registry, s.now, s.log.Named("achievement"), s.policy.MaxRetries)
	s.Notifications = NewNotificationService(store)
	return s
}

// Policy returns the effective policy.
func (s *Service) Policy() Policy { return s.policy }

// ActivityOutcome is the result of recording one activity event.
type ActivityOutcome struct {
	Event        domain.ActivityEvent `json:"event"`
	Streaks      []domain.Streak      `json:"streaks"`
	Achievements domain.CheckResult   `json:"achievements"`
}

// RecordActivity appends ev to the activity log and runs the full control
// flow: affected streaks are recomputed, then achievements are checked.
// Once the event is committed the call succeeds; streak and achievement
// failures after that point are logged and left to the recompute jobs.
func (s *Service) RecordActivity(ctx context.Context, ev domain.ActivityEvent) (ActivityOutcome, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return ActivityOutcome{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	if !ev.Kind.IsValid() {
		return ActivityOutcome{}, domain.Invalid("kind", domain.ErrInvalidActivity)
	}
	if ev.Status == "" {
		ev.Status = domain.StatusCompleted
	}
	if !ev.Status.IsValid() {
		return ActivityOutcome{}, domain.Invalid("status", domain.ErrInvalidActivity)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}

	err := s.store.Atomic(ctx, func(r domain.Repos) error {
		if err := r.EnsureUser(ctx, domain.User{ID: ev.UserID, CreatedAt: s.now()}); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		if err := r.AppendActivity(ctx, ev); err != nil {
			return fmt.Errorf("append activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return ActivityOutcome{}, err
	}
	metrics.ActivitiesRecorded.WithLabelValues(string(ev.Kind)).Inc()

	out := ActivityOutcome{Event: ev}
	out.Streaks, err = s.Streaks.RecomputeForEvent(ctx, ev)
	if err != nil {
		s.followUpFailed("recompute streaks", ev.UserID, err)
	}
	out.Achievements, err = s.Achievements.Check(ctx, ev.UserID)
	if err != nil {
		s.followUpFailed("check achievements", ev.UserID, err)
	}
	return out, nil
}

// followUpFailed logs a failure that happened after the triggering write
// committed. Returning it would invite client retries that duplicate the
// write.
func (s *Service) followUpFailed(step, userID string, err error) {
	s.log.Warn("follow-up after commit failed",
		zap.String("step", step),
		zap.String("user", userID),
		zap.Error(err))
}

// TrackEntity records a habit, dream, decision or insight created by the
// user and checks achievements that count them. Like RecordActivity it
// does not fail once the entity is stored.
func (s *Service) TrackEntity(ctx context.Context, e domain.TrackedEntity) (domain.CheckResult, error) {
	if strings.TrimSpace(e.UserID) == "" {
		return domain.CheckResult{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	if !e.Kind.IsValid() {
		return domain.CheckResult{}, domain.Invalid("kind", domain.ErrInvalidEntity)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	err := s.store.Atomic(ctx, func(r domain.Repos) error {
		if err := r.EnsureUser(ctx, domain.User{ID: e.UserID, CreatedAt: s.now()}); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		if err := r.AddEntity(ctx, e); err != nil {
			return fmt.Errorf("add entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CheckResult{}, err
	}
	res, err := s.Achievements.Check(ctx, e.UserID)
	if err != nil {
		s.followUpFailed("check achievements", e.UserID, err)
	}
	return res, nil
}

// RecomputeStreak rebuilds one streak. targetID is required only for
// habit_specific streaks.
func (s *Service) RecomputeStreak(ctx context.Context, userID string, t domain.StreakType, targetID string) (domain.Streak, error) {
	return s.Streaks.Recompute(ctx, userID, domain.StreakScope{Type: t, TargetID: targetID})
}

// CheckAchievements evaluates and awards achievements for userID.
func (s *Service) CheckAchievements(ctx context.Context, userID string) (domain.CheckResult, error) {
	return s.Achievements.Check(ctx, userID)
}

// GrantAchievement awards an achievement by code.
func (s *Service) GrantAchievement(ctx context.Context, userID, code string) (bool, error) {
	return s.Achievements.Grant(ctx, userID, code)
}

// AwardXP grants amount XP to userID. A non-empty idempotencyKey makes
// repeated calls return the original outcome.
func (s *Service) AwardXP(ctx context.Context, userID string, amount int, reason, idempotencyKey string) (domain.XPAward, error) {
	return s.Levels.Award(ctx, XPGrant{
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
}

// Status is the user's complete gamification state.
type Status struct {
	UserID       string                       `json:"userId"`
	Level        domain.UserLevel             `json:"level"`
	ProgressPct  float64                      `json:"progressPct"`
	Streaks      []domain.Streak              `json:"streaks"`
	Achievements []domain.AchievementProgress `json:"achievements"`
	Earned       int                          `json:"earned"`
	Total        int                          `json:"total"`
}

// Status returns level, streaks and achievement progress for userID.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	if strings.TrimSpace(userID) == "" {
		return Status{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	lvl, err := s.Levels.Current(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	var streaks []domain.Streak
	err = s.store.View(ctx, func(r domain.Repos) error {
		var err error
		streaks, err = r.ListStreaks(ctx, userID)
		return err
	})
	if err != nil {
		return Status{}, fmt.Errorf("list streaks: %w", err)
	}
	progress, err := s.Achievements.Progress(ctx, userID)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		UserID:       userID,
		Level:        lvl,
		ProgressPct:  ProgressPct(lvl),
		Streaks:      streaks,
		Achievements: progress,
		Total:        len(progress),
	}
	if st.Streaks == nil {
		st.Streaks = []domain.Streak{}
	}
	for _, p := range progress {
		if p.Earned {
			st.Earned++
		}
	}
	return st, nil
}

// RecomputeUser rebuilds every streak the user has, plus the aggregate
// scopes, then checks achievements.
func (s *Service) RecomputeUser(ctx context.Context, userID string) error {
	var existing []domain.Streak
	err := s.store.View(ctx, func(r domain.Repos) error {
		var err error
		existing, err = r.ListStreaks(ctx, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list streaks: %w", err)
	}

	scopes := []domain.StreakScope{
		{Type: domain.StreakOverallHabits},
		{Type: domain.StreakJournal},
		{Type: domain.StreakMood},
	}
	for _, st := range existing {
		if st.Type == domain.StreakHabitSpecific {
			scopes = append(scopes, st.Scope())
		}
	}
	for _, scope := range scopes {
		if _, err := s.Streaks.Recompute(ctx, userID, scope); err != nil {
			return fmt.Errorf("recompute %s: %w", scope.Type, err)
		}
	}
	_, err = s.Achievements.Check(ctx, userID)
	return err
}

// RecomputeAll runs RecomputeUser for every known user with bounded
// parallelism. Each user is processed by a single goroutine.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	var ids []string
	err := s.store.View(ctx, func(r domain.Repos) error {
		var err error
		ids, err = r.ListUserIDs(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Parallelism)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.RecomputeUser(gctx, id); err != nil {
				return fmt.Errorf("user %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SweepInactive recomputes every active streak so that streaks whose owners
// skipped a day flip to inactive. It returns the number of streaks broken.
func (s *Service) SweepInactive(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var active []domain.Streak
	err := s.store.View(ctx, func(r domain.Repos) error {
		var err error
		active, err = r.ListActiveStreaks(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list active streaks: %w", err)
	}

	var errs []error
	broken := 0
	for _, st := range active {
		next, err := s.Streaks.Recompute(ctx, st.UserID, st.Scope())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !next.IsActive {
			broken++
		}
	}
	s.log.Info("streak sweep finished",
		zap.Int("checked", len(active)),
		zap.Int("broken", broken),
		zap.Int("errors", len(errs)))
	return broken, errors.Join(errs...)
}

// RebuildLevels repairs level records whose derived fields drifted from
// their totalXP.
func (s *Service) RebuildLevels(ctx context.Context) (int, error) {
	return s.Levels.Rebuild(ctx)
}

// Definitions returns the achievement catalog.
func (s *Service) Definitions(ctx context.Context) ([]domain.AchievementDefinition, error) {
	var defs []domain.AchievementDefinition
	err := s.store.View(ctx, func(r domain.Repos) error {
		var err error
		defs, err = r.ListDefinitions(ctx)
		return err
	})
	return defs, err
}

// Ledger returns the user's XP history, newest first.
func (s *Service) Ledger(ctx context.Context, userID string, limit int) ([]domain.XPLedgerEntry, error) {
	var out []domain.XPLedgerEntry
	err := s.store.View(ctx, func(r domain.Repos) error {
		var err error
		out, err = r.ListAwards(ctx, userID, limit)
		return err
	})
	return out, err
}
