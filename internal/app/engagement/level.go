package engagement

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-app/nexus/internal/domain"
	"github.com/nexus-app/nexus/internal/infra/metrics"
)

// XPToNextLevel returns the XP needed to clear level: floor(100 * 1.2^(level-1)).
// 100, 120, 144, 172, 207, ...
func XPToNextLevel(level int) int {
	if level < 1 {
		level = 1
	}
	// The epsilon keeps exact products like 100*1.44 from flooring to 143.
	return int(math.Floor(100*math.Pow(1.2, float64(level-1)) + 1e-9))
}

// TitleFor returns the display title for level.
func TitleFor(level int) string {
	switch {
	case level >= 50:
		return "Grandmaster"
	case level >= 35:
		return "Master"
	case level >= 20:
		return "Expert"
	case level >= 10:
		return "Achiever"
	case level >= 5:
		return "Explorer"
	default:
		return "Beginner"
	}
}

// NewUserLevel returns the initial level record for a user.
func NewUserLevel(userID string) domain.UserLevel {
	return domain.UserLevel{
		UserID:        userID,
		Level:         1,
		XPToNextLevel: XPToNextLevel(1),
		Title:         TitleFor(1),
	}
}

// ApplyXP adds amount to l and cascades level-ups while currentXP reaches
// the threshold. It returns the new state and the number of levels gained.
// amount must be non-negative and the resulting total at most
// domain.MaxTotalXP; LevelEngine enforces both.
func ApplyXP(l domain.UserLevel, amount int) (domain.UserLevel, int) {
	if l.Level < 1 {
		l.Level = 1
	}
	l.TotalXP += amount
	l.CurrentXP += amount

	gained := 0
	for l.CurrentXP >= XPToNextLevel(l.Level) {
		l.CurrentXP -= XPToNextLevel(l.Level)
		l.Level++
		gained++
	}
	l.XPToNextLevel = XPToNextLevel(l.Level)
	l.Title = TitleFor(l.Level)
	return l, gained
}

// RebuildLevel derives a consistent level record from a lifetime XP total.
func RebuildLevel(userID string, totalXP int) domain.UserLevel {
	l, _ := ApplyXP(NewUserLevel(userID), totalXP)
	return l
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func ProgressPct(l domain.UserLevel) float64 {
	if l.XPToNextLevel <= 0 {
		return 0
	}
	p := float64(l.CurrentXP) / float64(l.XPToNextLevel) * 100
	return math.Min(math.Max(p, 0), 100)
}

// LevelEngine manages the XP and level record of each user.
type LevelEngine struct {
	store   domain.Store
	now     func() time.Time
	log     *zap.Logger
	retries int
}

// NewLevelEngine creates a level engine.
func NewLevelEngine(store domain.Store, now func() time.Time, log *zap.Logger, retries int) *LevelEngine {
	return &LevelEngine{store: store, now: now, log: log, retries: retries}
}

// Current returns the user's level, or the initial record if none exists.
func (e *LevelEngine) Current(ctx context.Context, userID string) (domain.UserLevel, error) {
	var out domain.UserLevel
	err := e.store.View(ctx, func(r domain.Repos) error {
		l, err := r.GetUserLevel(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user level: %w", err)
		}
		if l == nil {
			out = NewUserLevel(userID)
			return nil
		}
		out = *l
		return nil
	})
	return out, err
}

// XPGrant describes one award request.
type XPGrant struct {
	UserID string
	Amount int
	Reason string
	// IdempotencyKey, when set, makes repeated grants return the first outcome.
	IdempotencyKey string
	// Source labels the award for metrics ("direct", "achievement").
	Source string
}

// Award applies a grant atomically, retrying on version conflicts.
func (e *LevelEngine) Award(ctx context.Context, g XPGrant) (domain.XPAward, error) {
	if strings.TrimSpace(g.UserID) == "" {
		return domain.XPAward{}, domain.Invalid("userId", domain.ErrMissingUser)
	}
	if g.Amount < 0 {
		return domain.XPAward{}, domain.Invalid("amount", domain.ErrInvalidAmount)
	}
	if g.Amount > domain.MaxXPAward {
		return domain.XPAward{}, domain.Invalid("amount", domain.ErrAmountTooLarge)
	}
	if g.Source == "" {
		g.Source = "direct"
	}

	var out domain.XPAward
	err := retryOnConflict(ctx, e.retries, "award_xp", func() error {
		return e.store.Atomic(ctx, func(r domain.Repos) error {
			award, err := e.awardIn(ctx, r, g)
			out = award
			return err
		})
	})
	if err != nil {
		return domain.XPAward{}, err
	}
	e.observe(g, out)
	return out, nil
}

// awardIn applies g using repositories bound to the caller's transaction.
func (e *LevelEngine) awardIn(ctx context.Context, r domain.Repos, g XPGrant) (domain.XPAward, error) {
	if g.IdempotencyKey != "" {
		prev, err := r.FindAward(ctx, g.IdempotencyKey)
		if err != nil {
			return domain.XPAward{}, fmt.Errorf("find award: %w", err)
		}
		if prev != nil {
			cur, err := r.GetUserLevel(ctx, g.UserID)
			if err != nil {
				return domain.XPAward{}, fmt.Errorf("get user level: %w", err)
			}
			return domain.XPAward{
				XPAwarded: prev.Amount,
				NewLevel:  prev.LevelAfter,
				LeveledUp: prev.LevelAfter > prev.LevelBefore,
				Reason:    prev.Reason,
				Replayed:  true,
				Level:     cur,
			}, nil
		}
	}

	cur, err := r.GetUserLevel(ctx, g.UserID)
	if err != nil {
		return domain.XPAward{}, fmt.Errorf("get user level: %w", err)
	}
	if cur == nil {
		fresh := NewUserLevel(g.UserID)
		cur = &fresh
	}
	if g.Amount < 0 || g.Amount > domain.MaxXPAward || cur.TotalXP > domain.MaxTotalXP-g.Amount {
		return domain.XPAward{}, domain.Invalid("amount", domain.ErrXPOverflow)
	}

	now := e.now()
	next, gained := ApplyXP(*cur, g.Amount)
	next.UpdatedAt = now
	if err := r.SaveUserLevel(ctx, &next); err != nil {
		return domain.XPAward{}, fmt.Errorf("save user level: %w", err)
	}

	entry := domain.XPLedgerEntry{
		ID:             uuid.NewString(),
		UserID:         g.UserID,
		Amount:         g.Amount,
		Reason:         g.Reason,
		IdempotencyKey: g.IdempotencyKey,
		LevelBefore:    cur.Level,
		LevelAfter:     next.Level,
		CreatedAt:      now,
	}
	if err := r.InsertAward(ctx, entry); err != nil {
		return domain.XPAward{}, fmt.Errorf("insert xp ledger: %w", err)
	}

	if gained > 0 {
		if err := r.InsertNotification(ctx, levelUpNotice(g.UserID, next, now)); err != nil {
			return domain.XPAward{}, fmt.Errorf("insert notification: %w", err)
		}
	}

	return domain.XPAward{
		XPAwarded: g.Amount,
		NewLevel:  next.Level,
		LeveledUp: gained > 0,
		Reason:    g.Reason,
		Level:     &next,
	}, nil
}

func (e *LevelEngine) observe(g XPGrant, a domain.XPAward) {
	if a.Replayed {
		metrics.XPReplays.Inc()
		e.log.Debug("xp award replayed",
			zap.String("user", g.UserID),
			zap.String("key", g.IdempotencyKey))
		return
	}
	metrics.XPAwarded.WithLabelValues(g.Source).Add(float64(g.Amount))
	if a.LeveledUp && a.Level != nil {
		metrics.LevelUps.Inc()
		e.log.Info("level up",
			zap.String("user", g.UserID),
			zap.Int("level", a.NewLevel),
			zap.String("title", a.Level.Title))
	}
}

// Rebuild recomputes every stored level record from its lifetime XP and
// saves the ones that drifted. Lifetime XP is the larger of the stored
// totalXP and the ledger sum, so totalXP never decreases. It returns the
// number of records repaired.
func (e *LevelEngine) Rebuild(ctx context.Context) (int, error) {
	var levels []domain.UserLevel
	err := e.store.View(ctx, func(r domain.Repos) error {
		var err error
		levels, err = r.ListUserLevels(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list user levels: %w", err)
	}

	fixed := 0
	for _, l := range levels {
		var want domain.UserLevel
		err := retryOnConflict(ctx, e.retries, "rebuild_level", func() error {
			want = domain.UserLevel{}
			return e.store.Atomic(ctx, func(r domain.Repos) error {
				cur, err := r.GetUserLevel(ctx, l.UserID)
				if err != nil || cur == nil {
					return err
				}
				sum, err := r.SumAwards(ctx, cur.UserID)
				if err != nil {
					return fmt.Errorf("sum awards: %w", err)
				}
				next := RebuildLevel(cur.UserID, max(cur.TotalXP, sum))
				if sameLevel(next, *cur) {
					return nil
				}
				next.Version = cur.Version
				next.UpdatedAt = e.now()
				if err := r.SaveUserLevel(ctx, &next); err != nil {
					return err
				}
				want = next
				return nil
			})
		})
		if err != nil {
			return fixed, fmt.Errorf("rebuild level for %s: %w", l.UserID, err)
		}
		if want.UserID == "" {
			continue
		}
		e.log.Info("level repaired",
			zap.String("user", l.UserID),
			zap.Int("from", l.Level),
			zap.Int("to", want.Level))
		fixed++
	}
	return fixed, nil
}

func sameLevel(a, b domain.UserLevel) bool {
	return a.Level == b.Level && a.CurrentXP == b.CurrentXP && a.TotalXP == b.TotalXP &&
		a.XPToNextLevel == b.XPToNextLevel && a.Title == b.Title
}
