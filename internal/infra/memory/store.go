// Package memory provides an in-process domain.Store.
// Atomic runs against a copy of the state and swaps it in on success,
// so a failed callback leaves nothing behind.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/nexus-app/nexus/internal/domain"
)

var errClosed = errors.New("memory store closed")

type streakKey struct {
	userID   string
	kind     domain.StreakType
	targetID string
}

type earnedKey struct {
	userID        string
	achievementID string
}

type state struct {
	users    map[string]domain.User
	activity []domain.ActivityEvent
	entities []domain.TrackedEntity
	streaks  map[streakKey]domain.Streak
	defs     map[string]domain.AchievementDefinition // by code
	earned   map[earnedKey]domain.UserAchievement
	levels   map[string]domain.UserLevel
	ledger   []domain.XPLedgerEntry
	notes    []domain.Notification
}

func newState() *state {
	return &state{
		users:   make(map[string]domain.User),
		streaks: make(map[streakKey]domain.Streak),
		defs:    make(map[string]domain.AchievementDefinition),
		earned:  make(map[earnedKey]domain.UserAchievement),
		levels:  make(map[string]domain.UserLevel),
	}
}

func (s *state) clone() *state {
	return &state{
		users:    maps.Clone(s.users),
		activity: slices.Clone(s.activity),
		entities: slices.Clone(s.entities),
		streaks:  maps.Clone(s.streaks),
		defs:     maps.Clone(s.defs),
		earned:   maps.Clone(s.earned),
		levels:   maps.Clone(s.levels),
		ledger:   slices.Clone(s.ledger),
		notes:    slices.Clone(s.notes),
	}
}

// Store is a mutex-guarded in-memory store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// View runs fn against the live state.
func (s *Store) View(ctx context.Context, fn func(domain.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repos{st: s.st})
}

// Atomic runs fn against a copy and commits it only if fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(domain.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.st.clone()
	if err := fn(&repos{st: tx}); err != nil {
		return err
	}
	s.st = tx
	return nil
}

// Ping always succeeds until Close.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// repos implements domain.Repos over one state value.
type repos struct {
	st *state
}

var _ domain.Repos = (*repos)(nil)

// ─── Activity ───────────────────────────────────────────────────────────────

func (r *repos) ListActivity(_ context.Context, q domain.ActivityQuery) ([]domain.ActivityEvent, error) {
	var out []domain.ActivityEvent
	for _, ev := range r.st.activity {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (r *repos) AppendActivity(_ context.Context, ev domain.ActivityEvent) error {
	r.st.activity = append(r.st.activity, ev)
	return nil
}

func (r *repos) AddEntity(_ context.Context, e domain.TrackedEntity) error {
	r.st.entities = append(r.st.entities, e)
	return nil
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (r *repos) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *repos) EnsureUser(_ context.Context, u domain.User) error {
	if _, ok := r.st.users[u.ID]; !ok {
		r.st.users[u.ID] = u
	}
	return nil
}

func (r *repos) ListUserIDs(_ context.Context) ([]string, error) {
	ids := slices.Collect(maps.Keys(r.st.users))
	slices.Sort(ids)
	return ids, nil
}

func (r *repos) CountMetric(_ context.Context, userID string, m domain.Metric) (int, error) {
	src, ok := m.Source()
	if !ok {
		return 0, nil
	}
	n := 0
	if src.Activity != "" {
		for _, ev := range r.st.activity {
			if ev.UserID == userID && ev.Kind == src.Activity && ev.Status == domain.StatusCompleted {
				n++
			}
		}
		return n, nil
	}
	for _, e := range r.st.entities {
		if e.UserID == userID && e.Kind == src.Entity {
			n++
		}
	}
	return n, nil
}

// ─── Streaks ────────────────────────────────────────────────────────────────

func keyOf(userID string, scope domain.StreakScope) streakKey {
	return streakKey{userID: userID, kind: scope.Type, targetID: scope.TargetID}
}

func (r *repos) GetStreak(_ context.Context, userID string, scope domain.StreakScope) (*domain.Streak, error) {
	s, ok := r.st.streaks[keyOf(userID, scope)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *repos) SaveStreak(_ context.Context, s *domain.Streak) error {
	k := keyOf(s.UserID, s.Scope())
	cur, exists := r.st.streaks[k]
	switch {
	case s.Version == 0 && exists:
		return domain.ErrConflict
	case s.Version != 0 && (!exists || cur.Version != s.Version):
		return domain.ErrConflict
	}
	s.Version++
	r.st.streaks[k] = *s
	return nil
}

func (r *repos) ListStreaks(_ context.Context, userID string) ([]domain.Streak, error) {
	var out []domain.Streak
	for _, s := range r.st.streaks {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortStreaks(out)
	return out, nil
}

func (r *repos) ListActiveStreaks(_ context.Context) ([]domain.Streak, error) {
	var out []domain.Streak
	for _, s := range r.st.streaks {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sortStreaks(out)
	return out, nil
}

func sortStreaks(list []domain.Streak) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.TargetID < b.TargetID
	})
}

// ─── Achievements ───────────────────────────────────────────────────────────

func (r *repos) ListDefinitions(_ context.Context) ([]domain.AchievementDefinition, error) {
	out := slices.Collect(maps.Values(r.st.defs))
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *repos) GetDefinition(_ context.Context, code string) (*domain.AchievementDefinition, error) {
	d, ok := r.st.defs[code]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *repos) UpsertDefinition(_ context.Context, def domain.AchievementDefinition) error {
	if prev, ok := r.st.defs[def.Code]; ok {
		def.ID = prev.ID
	}
	if def.ID == "" {
		def.ID = def.Code
	}
	r.st.defs[def.Code] = def
	return nil
}

func (r *repos) GetUserAchievement(_ context.Context, userID, achievementID string) (*domain.UserAchievement, error) {
	ua, ok := r.st.earned[earnedKey{userID, achievementID}]
	if !ok {
		return nil, nil
	}
	return &ua, nil
}

func (r *repos) CreateUserAchievement(_ context.Context, ua domain.UserAchievement) error {
	k := earnedKey{ua.UserID, ua.AchievementID}
	if _, ok := r.st.earned[k]; ok {
		return domain.ErrAlreadyEarned
	}
	r.st.earned[k] = ua
	return nil
}

func (r *repos) ListUserAchievements(_ context.Context, userID string) ([]domain.UserAchievement, error) {
	var out []domain.UserAchievement
	for k, ua := range r.st.earned {
		if k.userID == userID {
			out = append(out, ua)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

// ─── Levels & XP ledger ─────────────────────────────────────────────────────

func (r *repos) GetUserLevel(_ context.Context, userID string) (*domain.UserLevel, error) {
	l, ok := r.st.levels[userID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r *repos) SaveUserLevel(_ context.Context, l *domain.UserLevel) error {
	cur, exists := r.st.levels[l.UserID]
	switch {
	case l.Version == 0 && exists:
		return domain.ErrConflict
	case l.Version != 0 && (!exists || cur.Version != l.Version):
		return domain.ErrConflict
	}
	l.Version++
	r.st.levels[l.UserID] = *l
	return nil
}

func (r *repos) ListUserLevels(_ context.Context) ([]domain.UserLevel, error) {
	out := slices.Collect(maps.Values(r.st.levels))
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *repos) FindAward(_ context.Context, key string) (*domain.XPLedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	for _, e := range r.st.ledger {
		if e.IdempotencyKey == key {
			return &e, nil
		}
	}
	return nil, nil
}

func (r *repos) InsertAward(ctx context.Context, e domain.XPLedgerEntry) error {
	if prev, _ := r.FindAward(ctx, e.IdempotencyKey); prev != nil {
		return domain.ErrConflict
	}
	r.st.ledger = append(r.st.ledger, e)
	return nil
}

func (r *repos) ListAwards(_ context.Context, userID string, limit int) ([]domain.XPLedgerEntry, error) {
	var out []domain.XPLedgerEntry
	for i := len(r.st.ledger) - 1; i >= 0; i-- {
		if e := r.st.ledger[i]; e.UserID == userID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *repos) SumAwards(_ context.Context, userID string) (int, error) {
	total := 0
	for _, e := range r.st.ledger {
		if e.UserID == userID {
			total += e.Amount
		}
	}
	return total, nil
}

// ─── Notifications ──────────────────────────────────────────────────────────

func (r *repos) InsertNotification(_ context.Context, n domain.Notification) error {
	r.st.notes = append(r.st.notes, n)
	return nil
}

func (r *repos) ListNotifications(_ context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for i := len(r.st.notes) - 1; i >= 0; i-- {
		n := r.st.notes[i]
		if n.UserID != userID || (pendingOnly && n.Shown) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *repos) MarkNotificationShown(_ context.Context, userID, id string) error {
	for i := range r.st.notes {
		if r.st.notes[i].ID == id && r.st.notes[i].UserID == userID {
			r.st.notes[i].Shown = true
			return nil
		}
	}
	return domain.ErrNotFound
}
