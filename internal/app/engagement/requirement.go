package engagement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
)

var (
	errMissingTarget = errors.New("requirement has no target")
	errMissingCutoff = errors.New("requirement has no cutoff")
)

// Evaluator computes progress in [0,1] for one requirement kind.
type Evaluator interface {
	Progress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error)

// Progress implements Evaluator.
func (f EvaluatorFunc) Progress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	return f(ctx, s, def)
}

// Registry maps requirement kinds to evaluators. New kinds are added by
// registering an evaluator; the achievement engine never switches on kind.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[domain.RequirementKind]Evaluator
	log        *zap.Logger
}

// NewRegistry returns a registry with the built-in requirement kinds.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{evaluators: make(map[domain.RequirementKind]Evaluator), log: log}
	r.Register(domain.RequireCount, EvaluatorFunc(countProgress))
	r.Register(domain.RequireStreak, EvaluatorFunc(streakProgress))
	r.Register(domain.RequireExistence, EvaluatorFunc(existenceProgress))
	r.Register(domain.RequireTemporalCutoff, EvaluatorFunc(cutoffProgress))
	return r
}

// Register installs or replaces the evaluator for kind.
func (r *Registry) Register(kind domain.RequirementKind, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[kind] = ev
}

// Kinds returns the registered requirement kinds.
func (r *Registry) Kinds() []domain.RequirementKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.RequirementKind, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	return kinds
}

// Evaluate returns progress for def clamped to [0,1]. Unknown kinds yield
// 0 and a warning. The value is exact; callers round only for display.
func (r *Registry) Evaluate(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	r.mu.RLock()
	ev, ok := r.evaluators[def.Requirement.Kind]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("unknown requirement kind",
			zap.String("code", def.Code),
			zap.String("kind", string(def.Requirement.Kind)))
		return 0, nil
	}
	p, err := ev.Progress(ctx, s, def)
	if err != nil {
		return 0, fmt.Errorf("evaluate %s: %w", def.Code, err)
	}
	return math.Min(math.Max(p, 0), 1), nil
}

// roundProgress rounds p to three decimals for display. A value below 1
// never rounds up to 1, so a displayed 1 always means earned.
func roundProgress(p float64) float64 {
	p = math.Min(math.Max(p, 0), 1)
	r := math.Round(p*1000) / 1000
	if r >= 1 && p < 1 {
		return 0.999
	}
	return r
}

// TargetFor returns the numeric threshold of def.
func TargetFor(def domain.AchievementDefinition) int { return def.Target() }

// TargetFromCode parses the trailing "_<n>" of code; 0 if absent.
func TargetFromCode(code string) int { return domain.TargetFromCode(code) }

func countProgress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	target := TargetFor(def)
	if target <= 0 {
		return 0, errMissingTarget
	}
	n, err := s.Count(ctx, def.Requirement.Metric)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(target), nil
}

func streakProgress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	target := TargetFor(def)
	if target <= 0 {
		return 0, errMissingTarget
	}
	best, err := s.MaxCurrentStreak(ctx, def.Requirement.StreakType)
	if err != nil {
		return 0, err
	}
	return float64(best) / float64(target), nil
}

func existenceProgress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	n, err := s.Count(ctx, def.Requirement.Metric)
	if err != nil {
		return 0, err
	}
	if n >= 1 {
		return 1, nil
	}
	return 0, nil
}

func cutoffProgress(ctx context.Context, s *Snapshot, def domain.AchievementDefinition) (float64, error) {
	if def.Requirement.Cutoff.IsZero() {
		return 0, errMissingCutoff
	}
	u, err := s.User(ctx)
	if err != nil || u == nil {
		return 0, err
	}
	if !u.CreatedAt.After(def.Requirement.Cutoff) {
		return 1, nil
	}
	return 0, nil
}

// Snapshot is a per-check, lazily populated view of one user's state.
// Each count or streak list is read at most once per check pass.
type Snapshot struct {
	repos  domain.Repos
	userID string

	counts     map[domain.Metric]int
	streaks    []domain.Streak
	streaksSet bool
	user       *domain.User
	userSet    bool
}

// NewSnapshot binds a snapshot to repositories and a user.
func NewSnapshot(r domain.Repos, userID string) *Snapshot {
	return &Snapshot{repos: r, userID: userID, counts: make(map[domain.Metric]int)}
}

// Count returns the user's count for m.
func (s *Snapshot) Count(ctx context.Context, m domain.Metric) (int, error) {
	if n, ok := s.counts[m]; ok {
		return n, nil
	}
	if _, ok := m.Source(); !ok {
		return 0, fmt.Errorf("unknown metric %q", m)
	}
	n, err := s.repos.CountMetric(ctx, s.userID, m)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", m, err)
	}
	s.counts[m] = n
	return n, nil
}

// MaxCurrentStreak returns the highest currentStreak across the user's
// streaks of type t. Aggregate types have one record; habit_specific may
// have many.
func (s *Snapshot) MaxCurrentStreak(ctx context.Context, t domain.StreakType) (int, error) {
	if !s.streaksSet {
		list, err := s.repos.ListStreaks(ctx, s.userID)
		if err != nil {
			return 0, fmt.Errorf("list streaks: %w", err)
		}
		s.streaks, s.streaksSet = list, true
	}
	best := 0
	for _, st := range s.streaks {
		if st.Type == t && st.CurrentStreak > best {
			best = st.CurrentStreak
		}
	}
	return best, nil
}

// User returns the account record, or nil if the user is unknown.
func (s *Snapshot) User(ctx context.Context) (*domain.User, error) {
	if !s.userSet {
		u, err := s.repos.GetUser(ctx, s.userID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		s.user, s.userSet = u, true
	}
	return s.user, nil
}
