package domain

import "context"

// ─── Repository Interfaces ──────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the engines depend on them.

// ActivityEventReader queries the append-only activity log.
type ActivityEventReader interface {
	ListActivity(ctx context.Context, q ActivityQuery) ([]ActivityEvent, error)
}

// ActivityWriter appends to the activity log. Owned by the surrounding
// application; the engines never call it.
type ActivityWriter interface {
	AppendActivity(ctx context.Context, ev ActivityEvent) error
	AddEntity(ctx context.Context, e TrackedEntity) error
}

// UserReader reads account data and simple per-user counts.
type UserReader interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)
	EnsureUser(ctx context.Context, u User) error
	ListUserIDs(ctx context.Context) ([]string, error)
	CountMetric(ctx context.Context, userID string, m Metric) (int, error)
}

// StreakStore persists streak records, one per (user, type, target).
type StreakStore interface {
	// GetStreak returns nil, nil when no record exists.
	GetStreak(ctx context.Context, userID string, scope StreakScope) (*Streak, error)
	// SaveStreak inserts when s.Version == 0, otherwise updates only if the
	// stored version still equals s.Version. Returns ErrConflict on a lost race.
	SaveStreak(ctx context.Context, s *Streak) error
	ListStreaks(ctx context.Context, userID string) ([]Streak, error)
	ListActiveStreaks(ctx context.Context) ([]Streak, error)
}

// AchievementCatalog is the static definition catalog.
type AchievementCatalog interface {
	ListDefinitions(ctx context.Context) ([]AchievementDefinition, error)
	// GetDefinition returns nil, nil when code is unknown.
	GetDefinition(ctx context.Context, code string) (*AchievementDefinition, error)
	UpsertDefinition(ctx context.Context, def AchievementDefinition) error
}

// UserAchievementStore persists earned achievements.
type UserAchievementStore interface {
	// GetUserAchievement returns nil, nil when not earned.
	GetUserAchievement(ctx context.Context, userID, achievementID string) (*UserAchievement, error)
	// CreateUserAchievement returns ErrAlreadyEarned if the pair exists.
	CreateUserAchievement(ctx context.Context, ua UserAchievement) error
	ListUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error)
}

// UserLevelStore persists XP/level state.
type UserLevelStore interface {
	// GetUserLevel returns nil, nil when the user has never been awarded XP.
	GetUserLevel(ctx context.Context, userID string) (*UserLevel, error)
	// SaveUserLevel follows the same version protocol as SaveStreak.
	SaveUserLevel(ctx context.Context, l *UserLevel) error
	ListUserLevels(ctx context.Context) ([]UserLevel, error)
}

// XPLedger records XP awards and enforces idempotency keys.
type XPLedger interface {
	// FindAward returns nil, nil when key has not been used.
	FindAward(ctx context.Context, key string) (*XPLedgerEntry, error)
	InsertAward(ctx context.Context, e XPLedgerEntry) error
	// ListAwards returns the user's entries, newest first.
	ListAwards(ctx context.Context, userID string, limit int) ([]XPLedgerEntry, error)
	SumAwards(ctx context.Context, userID string) (int, error)
}

// NotificationStore persists user-facing gamification notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]Notification, error)
	MarkNotificationShown(ctx context.Context, userID, id string) error
}

// Repos bundles every repository bound to one connection or transaction.
type Repos interface {
	ActivityEventReader
	ActivityWriter
	UserReader
	StreakStore
	AchievementCatalog
	UserAchievementStore
	UserLevelStore
	XPLedger
	NotificationStore
}

// Store hands out repositories. View runs fn outside a transaction;
// Atomic runs fn inside one and commits only if fn returns nil.
// Atomic callbacks must not call back into the Store.
type Store interface {
	View(ctx context.Context, fn func(Repos) error) error
	Atomic(ctx context.Context, fn func(Repos) error) error
	Ping(ctx context.Context) error
	Close() error
}
