// Package domain holds the gamification types.
// Activity events feed streaks; streaks and counts feed achievements;
// achievements and direct awards feed the XP/level record.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// DayLayout is the canonical calendar-day encoding used in storage and JSON.
const DayLayout = "2006-01-02"

// ─── Activity ───────────────────────────────────────────────────────────────

// ActivityKind identifies what the user logged.
type ActivityKind string

const (
	ActivityHabitCompletion ActivityKind = "habit_completion"
	ActivityMoodEntry       ActivityKind = "mood_entry"
	ActivityJournalEntry    ActivityKind = "journal_entry"
	ActivityDreamEntry      ActivityKind = "dream_entry"
	ActivityDecision        ActivityKind = "decision"
	ActivityInsight         ActivityKind = "insight"
)

// IsValid reports whether k is a known activity kind.
func (k ActivityKind) IsValid() bool {
	switch k {
	case ActivityHabitCompletion, ActivityMoodEntry, ActivityJournalEntry,
		ActivityDreamEntry, ActivityDecision, ActivityInsight:
		return true
	default:
		return false
	}
}

// ActivityStatus is the outcome recorded with an activity.
type ActivityStatus string

const (
	StatusCompleted ActivityStatus = "completed"
	StatusSkipped   ActivityStatus = "skipped"
	StatusPartial   ActivityStatus = "partial"
)

// IsValid reports whether s is a known status.
func (s ActivityStatus) IsValid() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusPartial
}

// ActivityEvent is an immutable, timestamped record of something the user did.
// TargetID is empty when the event is not tied to a specific entity.
type ActivityEvent struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	TargetID   string         `json:"targetId,omitempty"`
	Kind       ActivityKind   `json:"kind"`
	Status     ActivityStatus `json:"status"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// ActivityQuery filters activity events. Zero values mean "no filter".
// Since is inclusive, Until is exclusive.
type ActivityQuery struct {
	UserID   string
	Kinds    []ActivityKind
	TargetID string
	Status   ActivityStatus
	Since    time.Time
	Until    time.Time
}

// Matches reports whether ev satisfies the query.
func (q ActivityQuery) Matches(ev ActivityEvent) bool {
	if q.UserID != "" && ev.UserID != q.UserID {
		return false
	}
	if len(q.Kinds) > 0 {
		ok := false
		for _, k := range q.Kinds {
			if ev.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if q.TargetID != "" && ev.TargetID != q.TargetID {
		return false
	}
	if q.Status != "" && ev.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && ev.OccurredAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !ev.OccurredAt.Before(q.Until) {
		return false
	}
	return true
}

// ─── Users & tracked entities ──────────────────────────────────────────────

// User is the slice of the account record the gamification core reads.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// EntityKind identifies an object the user created in the surrounding app.
type EntityKind string

const (
	EntityHabit    EntityKind = "habit"
	EntityDream    EntityKind = "dream"
	EntityDecision EntityKind = "decision"
	EntityInsight  EntityKind = "insight"
)

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityHabit, EntityDream, EntityDecision, EntityInsight:
		return true
	default:
		return false
	}
}

// TrackedEntity is a habit, dream, decision or insight owned by a user.
type TrackedEntity struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Kind      EntityKind `json:"kind"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Metric names a countable quantity used by count-based achievements.
type Metric string

const (
	MetricJournalEntries   Metric = "journal_entries"
	MetricMoodEntries      Metric = "mood_entries"
	MetricHabitCompletions Metric = "habit_completions"
	MetricHabits           Metric = "habits"
	MetricDreams           Metric = "dreams"
	MetricDecisions        Metric = "decisions"
	MetricInsights         Metric = "insights"
)

// MetricSource describes where a metric is counted from. Exactly one of
// Activity or Entity is set.
type MetricSource struct {
	Activity ActivityKind
	Entity   EntityKind
}

// Source resolves the backing source for m. ok is false for unknown metrics.
func (m Metric) Source() (src MetricSource, ok bool) {
	switch m {
	case MetricJournalEntries:
		return MetricSource{Activity: ActivityJournalEntry}, true
	case MetricMoodEntries:
		return MetricSource{Activity: ActivityMoodEntry}, true
	case MetricHabitCompletions:
		return MetricSource{Activity: ActivityHabitCompletion}, true
	case MetricHabits:
		return MetricSource{Entity: EntityHabit}, true
	case MetricDreams:
		return MetricSource{Entity: EntityDream}, true
	case MetricDecisions:
		return MetricSource{Entity: EntityDecision}, true
	case MetricInsights:
		return MetricSource{Entity: EntityInsight}, true
	default:
		return MetricSource{}, false
	}
}

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakType categorises a streak.
type StreakType string

const (
	StreakHabitSpecific StreakType = "habit_specific"
	StreakOverallHabits StreakType = "overall_habits"
	StreakJournal       StreakType = "journal"
	StreakMood          StreakType = "mood"
)

// ActivityKind returns the activity kind that qualifies for streaks of type t.
func (t StreakType) ActivityKind() (ActivityKind, bool) {
	switch t {
	case StreakHabitSpecific, StreakOverallHabits:
		return ActivityHabitCompletion, true
	case StreakJournal:
		return ActivityJournalEntry, true
	case StreakMood:
		return ActivityMoodEntry, true
	default:
		return "", false
	}
}

// StreakScope identifies which activity stream a streak tracks.
// An empty TargetID denotes an aggregate streak.
type StreakScope struct {
	Type     StreakType `json:"type"`
	TargetID string     `json:"targetId,omitempty"`
}

// Validate checks that the scope names a known type and carries a target
// exactly when the type needs one.
func (s StreakScope) Validate() error {
	if _, ok := s.Type.ActivityKind(); !ok {
		return Invalid("type", ErrInvalidScope)
	}
	needsTarget := s.Type == StreakHabitSpecific
	hasTarget := strings.TrimSpace(s.TargetID) != ""
	if needsTarget != hasTarget {
		return Invalid("targetId", ErrInvalidScope)
	}
	return nil
}

// Query builds the activity filter for this scope.
func (s StreakScope) Query(userID string) ActivityQuery {
	kind, _ := s.Type.ActivityKind()
	return ActivityQuery{
		UserID:   userID,
		Kinds:    []ActivityKind{kind},
		TargetID: s.TargetID,
		Status:   StatusCompleted,
	}
}

// ScopesFor returns every streak scope an activity event can affect.
func ScopesFor(ev ActivityEvent) []StreakScope {
	switch ev.Kind {
	case ActivityHabitCompletion:
		scopes := []StreakScope{{Type: StreakOverallHabits}}
		if ev.TargetID != "" {
			scopes = append([]StreakScope{{Type: StreakHabitSpecific, TargetID: ev.TargetID}}, scopes...)
		}
		return scopes
	case ActivityJournalEntry:
		return []StreakScope{{Type: StreakJournal}}
	case ActivityMoodEntry:
		return []StreakScope{{Type: StreakMood}}
	default:
		return nil
	}
}

// Streak is a consecutive-day run of qualifying activity.
// Dates are calendar days encoded as midnight UTC; zero means unset.
type Streak struct {
	UserID           string     `json:"userId"`
	Type             StreakType `json:"type"`
	TargetID         string     `json:"targetId,omitempty"`
	CurrentStreak    int        `json:"currentStreak"`
	LongestStreak    int        `json:"longestStreak"`
	LastActivityDate time.Time  `json:"lastActivityDate"`
	StreakStartDate  time.Time  `json:"streakStartDate"`
	IsActive         bool       `json:"isActive"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Version          int64      `json:"-"` // 0 = not yet persisted
}

// Scope returns the streak's (type, target) pair.
func (s Streak) Scope() StreakScope {
	return StreakScope{Type: s.Type, TargetID: s.TargetID}
}

// ─── Level / XP Types ───────────────────────────────────────────────────────

// UserLevel is a user's XP and level state.
type UserLevel struct {
	UserID        string    `json:"userId"`
	Level         int       `json:"level"`
	CurrentXP     int       `json:"currentXP"`
	TotalXP       int       `json:"totalXP"`
	XPToNextLevel int       `json:"xpToNextLevel"`
	Title         string    `json:"title"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Version       int64     `json:"-"`
}

// XPAward is the outcome of an XP award.
type XPAward struct {
	XPAwarded int    `json:"xpAwarded"`
	NewLevel  int    `json:"newLevel"`
	LeveledUp bool   `json:"leveledUp"`
	Reason    string `json:"reason,omitempty"`
	// Replayed is true when the idempotency key matched an earlier award
	// and no XP was applied this time.
	Replayed bool       `json:"replayed,omitempty"`
	Level    *UserLevel `json:"level,omitempty"`
}

// XP bounds. A single award may not exceed MaxXPAward and a user's lifetime
// total may not exceed MaxTotalXP, which keeps level arithmetic in range.
const (
	MaxXPAward = 1_000_000
	MaxTotalXP = 1 << 40
)

// XPLedgerEntry records a single XP award.
type XPLedgerEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Amount         int       `json:"amount"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	LevelBefore    int       `json:"levelBefore"`
	LevelAfter     int       `json:"levelAfter"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ─── Achievement Types ──────────────────────────────────────────────────────

// RequirementKind tags how an achievement's progress is evaluated.
type RequirementKind string

const (
	RequireCount          RequirementKind = "count_threshold"
	RequireStreak         RequirementKind = "streak_threshold"
	RequireExistence      RequirementKind = "existence"
	RequireTemporalCutoff RequirementKind = "temporal_cutoff"
)

// Requirement is the criteria attached to an achievement definition.
// Only the fields relevant to Kind are read.
type Requirement struct {
	Kind       RequirementKind `json:"kind" yaml:"kind"`
	Metric     Metric          `json:"metric,omitempty" yaml:"metric,omitempty"`
	StreakType StreakType      `json:"streakType,omitempty" yaml:"streak_type,omitempty"`
	Target     int             `json:"target,omitempty" yaml:"target,omitempty"`
	Cutoff     time.Time       `json:"cutoff,omitempty" yaml:"cutoff,omitempty"`
}

// AchievementDefinition is a catalog entry.
type AchievementDefinition struct {
	ID          string      `json:"id" yaml:"-"`
	Code        string      `json:"code" yaml:"code"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	XPReward    int         `json:"xpReward" yaml:"xp_reward"`
	Category    string      `json:"category" yaml:"category"`
	Rarity      string      `json:"rarity" yaml:"rarity"`
	Icon        string      `json:"icon,omitempty" yaml:"icon,omitempty"`
	Requirement Requirement `json:"requirement" yaml:"requirement"`
	IsSecret    bool        `json:"isSecret" yaml:"secret"`
}

// Target returns the numeric threshold of a count or streak requirement.
// Definitions that omit target fall back to the trailing number of the
// code ("streak_30" → 30). Zero means the definition has no threshold.
func (d AchievementDefinition) Target() int {
	if d.Requirement.Target > 0 {
		return d.Requirement.Target
	}
	return TargetFromCode(d.Code)
}

// TargetFromCode parses the trailing "_<n>" of code; 0 if absent.
func TargetFromCode(code string) int {
	i := strings.LastIndexByte(code, '_')
	if i < 0 || i == len(code)-1 {
		return 0
	}
	n, err := strconv.Atoi(code[i+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// UserAchievement records that a user earned an achievement.
type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Progress      float64   `json:"progress"`
	EarnedAt      time.Time `json:"earnedAt"`
}

// CheckResult summarises one achievement check pass.
type CheckResult struct {
	AwardedCount int      `json:"awardedCount"`
	NewlyEarned  []string `json:"newlyEarned"`
}

// AchievementProgress is a definition paired with the user's progress on it.
type AchievementProgress struct {
	Definition AchievementDefinition `json:"definition"`
	Progress   float64               `json:"progress"`
	Earned     bool                  `json:"earned"`
	EarnedAt   *time.Time            `json:"earnedAt,omitempty"`
}

// ─── Notification Types ─────────────────────────────────────────────────────

// NotificationType categorizes notifications.
type NotificationType string

const (
	NotifyAchievement NotificationType = "achievement"
	NotifyLevelUp     NotificationType = "level_up"
)

// Notification is a user-facing message produced by the gamification core.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	CreatedAt time.Time        `json:"createdAt"`
	Shown     bool             `json:"shown"`
}

// ─── Calendar days ──────────────────────────────────────────────────────────

// DayOf returns the calendar day of t in loc, encoded as midnight UTC.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayStart returns the instant day begins in loc. day must be a value
// produced by DayOf.
func DayStart(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FormatDay encodes a calendar day; zero yields "".
func FormatDay(day time.Time) string {
	if day.IsZero() {
		return ""
	}
	return day.Format(DayLayout)
}

// ParseDay decodes a calendar day; "" yields the zero time.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DayLayout, s)
}
