package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/metrics"
)

// AchievementEngine evaluates the definition catalog against a user and
// awards newly satisfied achievements together with their XP reward.
type AchievementEngine struct {
	store    domain.Store
	levels   *LevelEngine
	registry *Registry
	now      func() time.Time
	log      *zap.Logger
	retries  int
}

// NewAchievementEngine creates an achievement engine.
func NewAchievementEngine(store domain.Store, levels *LevelEngine, registry *Registry, now func() time.Time, log *zap.Logger, retries int) *AchievementEngine {
	return &AchievementEngine{
		store:    store,
		levels:   levels,
		registry: registry,
		now:      now,
		log:      log,
		retries:  retries,
	}
}

// Registry returns the evaluator registry.
func (a *AchievementEngine) Registry() *Registry { return a.registry }

// Check evaluates every unearned definition for userID and awards those at
// full progress. Already-earned definitions are skipped before evaluation.
// A failing definition does not stop the others; failures are joined.
func (a *AchievementEngine) Check(ctx context.Context, userID string) (domain.CheckResult, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CheckResult{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	start := time.Now()
	defer func() { metrics.AchievementCheckLatency.Observe(time.Since(start).Seconds()) }()

	var (
		ready []domain.AchievementDefinition
		errs  []error
	)
	err := a.store.View(ctx, func(r domain.Repos) error {
		defs, err := r.ListDefinitions(ctx)
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}
		earned, err := earnedSet(ctx, r, userID)
		if err != nil {
			return err
		}

		snap := NewSnapshot(r, userID)
		for _, def := range defs {
			if earned[def.ID] {
				continue
			}
			p, err := a.registry.Evaluate(ctx, snap, def)
			if err != nil {
				metrics.AchievementEvalErrors.WithLabelValues(string(def.Requirement.Kind)).Inc()
				a.log.Warn("achievement evaluation failed",
					zap.String("user", userID),
					zap.String("code", def.Code),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			if p >= 1 {
				ready = append(ready, def)
			}
		}
		return nil
	})
	if err != nil {
		return domain.CheckResult{}, err
	}

	result := domain.CheckResult{NewlyEarned: []string{}}
	for _, def := range ready {
		awarded, err := a.award(ctx, userID, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("award %s: %w", def.Code, err))
			continue
		}
		if awarded {
			result.AwardedCount++
			result.NewlyEarned = append(result.NewlyEarned, def.Code)
		}
	}
	return result, errors.Join(errs...)
}

// Grant awards the achievement identified by code directly. It reports
// false when the user already holds it.
func (a *AchievementEngine) Grant(ctx context.Context, userID, code string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, domain.Invalid("userId", domain.ErrMissingUser)
	}
	var def *domain.AchievementDefinition
	err := a.store.View(ctx, func(r domain.Repos) error {
		var err error
		def, err = r.GetDefinition(ctx, code)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("get definition: %w", err)
	}
	if def == nil {
		return false, domain.Invalid("code", domain.ErrUnknownAchievement)
	}
	return a.award(ctx, userID, *def)
}

// award records the achievement and applies its XP reward in one
// transaction. The earned row is re-checked inside the transaction so a
// concurrent check cannot grant it twice.
func (a *AchievementEngine) award(ctx context.Context, userID string, def domain.AchievementDefinition) (bool, error) {
	var (
		awarded bool
		xp      domain.XPAward
	)
	err := retryOnConflict(ctx, a.retries, "award_achievement", func() error {
		awarded = false
		return a.store.Atomic(ctx, func(r domain.Repos) error {
			have, err := r.GetUserAchievement(ctx, userID, def.ID)
			if err != nil {
				return fmt.Errorf("get user achievement: %w", err)
			}
			if have != nil {
				return nil
			}

			now := a.now()
			ua := domain.UserAchievement{
				ID:            uuid.NewString(),
				UserID:        userID,
				AchievementID: def.ID,
				Progress:      1,
				EarnedAt:      now,
			}
			if err := r.CreateUserAchievement(ctx, ua); err != nil {
				if errors.Is(err, domain.ErrAlreadyEarned) {
					return nil
				}
				return fmt.Errorf("create user achievement: %w", err)
			}

			xp, err = a.levels.awardIn(ctx, r, XPGrant{
				UserID:         userID,
				Amount:         def.XPReward,
				Reason:         "achievement:" + def.Code,
				IdempotencyKey: achievementKey(userID, def.Code),
				Source:         "achievement",
			})
			if err != nil {
				return err
			}
			if err := r.InsertNotification(ctx, achievementNotice(userID, def, now)); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
			awarded = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if awarded {
		metrics.AchievementsAwarded.WithLabelValues(def.Rarity).Inc()
		a.levels.observe(XPGrant{UserID: userID, Amount: def.XPReward, Source: "achievement"}, xp)
		a.log.Info("achievement earned",
			zap.String("user", userID),
			zap.String("code", def.Code),
			zap.Int("xp", def.XPReward))
	}
	return awarded, nil
}

// Progress lists every definition with the user's progress. Secret
// definitions are hidden until earned.
func (a *AchievementEngine) Progress(ctx context.Context, userID string) ([]domain.AchievementProgress, error) {
	var out []domain.AchievementProgress
	err := a.store.View(ctx, func(r domain.Repos) error {
		defs, err := r.ListDefinitions(ctx)
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}
		held, err := r.ListUserAchievements(ctx, userID)
		if err != nil {
			return fmt.Errorf("list user achievements: %w", err)
		}
		byDef := make(map[string]domain.UserAchievement, len(held))
		for _, ua := range held {
			byDef[ua.AchievementID] = ua
		}

		snap := NewSnapshot(r, userID)
		out = make([]domain.AchievementProgress, 0, len(defs))
		for _, def := range defs {
			if ua, ok := byDef[def.ID]; ok {
				earnedAt := ua.EarnedAt
				out = append(out, domain.AchievementProgress{
					Definition: def, Progress: 1, Earned: true, EarnedAt: &earnedAt,
				})
				continue
			}
			if def.IsSecret {
				continue
			}
			p, err := a.registry.Evaluate(ctx, snap, def)
			if err != nil {
				a.log.Warn("achievement progress failed",
					zap.String("user", userID),
					zap.String("code", def.Code),
					zap.Error(err))
				p = 0
			}
			out = append(out, domain.AchievementProgress{Definition: def, Progress: roundProgress(p)})
		}
		return nil
	})
	return out, err
}

func earnedSet(ctx context.Context, r domain.Repos, userID string) (map[string]bool, error) {
	held, err := r.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}
	set := make(map[string]bool, len(held))
	for _, ua := range held {
		set[ua.AchievementID] = true
	}
	return set, nil
}

func achievementKey(userID, code string) string {
	return "achievement:" + userID + ":" + code
}
