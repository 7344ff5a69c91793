package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nexus-app/nexus/internal/domain"
)

// repos implements domain.Repos. lock adds FOR UPDATE to the reads that
// precede a conditional write.
type repos struct {
	q    querier
	lock bool
}

var _ domain.Repos = (*repos)(nil)

func (r *repos) forUpdate() string {
	if r.lock {
		return " FOR UPDATE"
	}
	return ""
}

// ─── Activity ───────────────────────────────────────────────────────────────

func (r *repos) ListActivity(ctx context.Context, q domain.ActivityQuery) ([]domain.ActivityEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", kinds)
	}
	if q.TargetID != "" {
		add("target_id = $%d", q.TargetID)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("occurred_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("occurred_at < $%d", q.Until)
	}

	query := `SELECT id, user_id, target_id, kind, status, occurred_at FROM activity_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at ASC"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.TargetID, &ev.Kind, &ev.Status, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *repos) AppendActivity(ctx context.Context, ev domain.ActivityEvent) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO activity_events (id, user_id, target_id, kind, status, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.UserID, ev.TargetID, string(ev.Kind), string(ev.Status), ev.OccurredAt,
	)
	return asConflict(err)
}

func (r *repos) AddEntity(ctx context.Context, e domain.TrackedEntity) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO tracked_entities (id, user_id, kind, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.UserID, string(e.Kind), e.CreatedAt,
	)
	return asConflict(err)
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (r *repos) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.q.QueryRow(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id).Scan(&u.ID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (r *repos) EnsureUser(ctx context.Context, u domain.User) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO users (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.CreatedAt,
	)
	return err
}

func (r *repos) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repos) CountMetric(ctx context.Context, userID string, m domain.Metric) (int, error) {
	src, ok := m.Source()
	if !ok {
		return 0, nil
	}
	var n int
	var err error
	if src.Activity != "" {
		err = r.q.QueryRow(ctx,
			`SELECT COUNT(*) FROM activity_events WHERE user_id = $1 AND kind = $2 AND status = $3`,
			userID, string(src.Activity), string(domain.StatusCompleted),
		).Scan(&n)
	} else {
		err = r.q.QueryRow(ctx,
			`SELECT COUNT(*) FROM tracked_entities WHERE user_id = $1 AND kind = $2`,
			userID, string(src.Entity),
		).Scan(&n)
	}
	return n, err
}

// ─── Streaks ────────────────────────────────────────────────────────────────

const streakColumns = `user_id, type, target_id, current_streak, longest_streak,
	last_activity_date, streak_start_date, is_active, updated_at, version`

func (r *repos) GetStreak(ctx context.Context, userID string, scope domain.StreakScope) (*domain.Streak, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id = $1 AND type = $2 AND target_id = $3`+r.forUpdate(),
		userID, string(scope.Type), scope.TargetID,
	)
	return scanStreak(row)
}

func (r *repos) SaveStreak(ctx context.Context, s *domain.Streak) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if s.Version == 0 {
		tag, err = r.q.Exec(ctx,
			`INSERT INTO streaks (`+streakColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			 ON CONFLICT (user_id, type, target_id) DO NOTHING`,
			s.UserID, string(s.Type), s.TargetID, s.CurrentStreak, s.LongestStreak,
			nullDay(s.LastActivityDate), nullDay(s.StreakStartDate), s.IsActive, s.UpdatedAt,
		)
	} else {
		tag, err = r.q.Exec(ctx,
			`UPDATE streaks SET current_streak = $1, longest_streak = $2, last_activity_date = $3,
				streak_start_date = $4, is_active = $5, updated_at = $6, version = version + 1
			 WHERE user_id = $7 AND type = $8 AND target_id = $9 AND version = $10`,
			s.CurrentStreak, s.LongestStreak, nullDay(s.LastActivityDate), nullDay(s.StreakStartDate),
			s.IsActive, s.UpdatedAt, s.UserID, string(s.Type), s.TargetID, s.Version,
		)
	}
	if err := checkOne(tag, err); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *repos) ListStreaks(ctx context.Context, userID string) ([]domain.Streak, error) {
	return r.queryStreaks(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id = $1 ORDER BY type, target_id`, userID)
}

func (r *repos) ListActiveStreaks(ctx context.Context) ([]domain.Streak, error) {
	return r.queryStreaks(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE is_active ORDER BY user_id, type, target_id`)
}

func (r *repos) queryStreaks(ctx context.Context, query string, args ...any) ([]domain.Streak, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streaks []domain.Streak
	for rows.Next() {
		s, err := scanStreak(rows)
		if err != nil {
			return nil, err
		}
		streaks = append(streaks, *s)
	}
	return streaks, rows.Err()
}

func scanStreak(row pgx.Row) (*domain.Streak, error) {
	var s domain.Streak
	var last, start *time.Time
	err := row.Scan(&s.UserID, &s.Type, &s.TargetID, &s.CurrentStreak, &s.LongestStreak,
		&last, &start, &s.IsActive, &s.UpdatedAt, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if last != nil {
		s.LastActivityDate = domain.DayOf(*last, time.UTC)
	}
	if start != nil {
		s.StreakStartDate = domain.DayOf(*start, time.UTC)
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// ─── Achievements ───────────────────────────────────────────────────────────

const defColumns = `id, code, name, description, xp_reward, category, rarity, icon, requirement, is_secret`

func (r *repos) ListDefinitions(ctx context.Context) ([]domain.AchievementDefinition, error) {
	rows, err := r.q.Query(ctx, `SELECT `+defColumns+` FROM achievement_definitions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.AchievementDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

func (r *repos) GetDefinition(ctx context.Context, code string) (*domain.AchievementDefinition, error) {
	return scanDefinition(r.q.QueryRow(ctx, `SELECT `+defColumns+` FROM achievement_definitions WHERE code = $1`, code))
}

func (r *repos) UpsertDefinition(ctx context.Context, def domain.AchievementDefinition) error {
	req, err := json.Marshal(def.Requirement)
	if err != nil {
		return fmt.Errorf("encode requirement: %w", err)
	}
	if def.ID == "" {
		def.ID = def.Code
	}
	_, err = r.q.Exec(ctx,
		`INSERT INTO achievement_definitions (`+defColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			xp_reward = EXCLUDED.xp_reward,
			category = EXCLUDED.category,
			rarity = EXCLUDED.rarity,
			icon = EXCLUDED.icon,
			requirement = EXCLUDED.requirement,
			is_secret = EXCLUDED.is_secret`,
		def.ID, def.Code, def.Name, def.Description, def.XPReward,
		def.Category, def.Rarity, def.Icon, string(req), def.IsSecret,
	)
	return err
}

func scanDefinition(row pgx.Row) (*domain.AchievementDefinition, error) {
	var d domain.AchievementDefinition
	var req []byte
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.XPReward,
		&d.Category, &d.Rarity, &d.Icon, &req, &d.IsSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(req, &d.Requirement); err != nil {
		return nil, fmt.Errorf("decode requirement: %w", err)
	}
	return &d, nil
}

func (r *repos) GetUserAchievement(ctx context.Context, userID, achievementID string) (*domain.UserAchievement, error) {
	var ua domain.UserAchievement
	err := r.q.QueryRow(ctx,
		`SELECT id, user_id, achievement_id, progress, earned_at
		 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2`,
		userID, achievementID,
	).Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &ua.EarnedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ua.EarnedAt = ua.EarnedAt.UTC()
	return &ua, nil
}

func (r *repos) CreateUserAchievement(ctx context.Context, ua domain.UserAchievement) error {
	tag, err := r.q.Exec(ctx,
		`INSERT INTO user_achievements (id, user_id, achievement_id, progress, earned_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		ua.ID, ua.UserID, ua.AchievementID, ua.Progress, ua.EarnedAt,
	)
	if err := checkOne(tag, err); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrAlreadyEarned
		}
		return err
	}
	return nil
}

func (r *repos) ListUserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, user_id, achievement_id, progress, earned_at
		 FROM user_achievements WHERE user_id = $1 ORDER BY earned_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.UserAchievement
	for rows.Next() {
		var ua domain.UserAchievement
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &ua.EarnedAt); err != nil {
			return nil, err
		}
		ua.EarnedAt = ua.EarnedAt.UTC()
		list = append(list, ua)
	}
	return list, rows.Err()
}

// ─── Levels & XP ────────────────────────────────────────────────────────────

const levelColumns = `user_id, level, current_xp, total_xp, xp_to_next_level, title, updated_at, version`

func (r *repos) GetUserLevel(ctx context.Context, userID string) (*domain.UserLevel, error) {
	return scanLevel(r.q.QueryRow(ctx,
		`SELECT `+levelColumns+` FROM user_levels WHERE user_id = $1`+r.forUpdate(), userID))
}

func (r *repos) SaveUserLevel(ctx context.Context, l *domain.UserLevel) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if l.Version == 0 {
		tag, err = r.q.Exec(ctx,
			`INSERT INTO user_levels (`+levelColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			 ON CONFLICT (user_id) DO NOTHING`,
			l.UserID, l.Level, l.CurrentXP, l.TotalXP, l.XPToNextLevel, l.Title, l.UpdatedAt,
		)
	} else {
		tag, err = r.q.Exec(ctx,
			`UPDATE user_levels SET level = $1, current_xp = $2, total_xp = $3, xp_to_next_level = $4,
				title = $5, updated_at = $6, version = version + 1
			 WHERE user_id = $7 AND version = $8`,
			l.Level, l.CurrentXP, l.TotalXP, l.XPToNextLevel, l.Title, l.UpdatedAt, l.UserID, l.Version,
		)
	}
	if err := checkOne(tag, err); err != nil {
		return err
	}
	l.Version++
	return nil
}

func (r *repos) ListUserLevels(ctx context.Context) ([]domain.UserLevel, error) {
	rows, err := r.q.Query(ctx, `SELECT `+levelColumns+` FROM user_levels ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []domain.UserLevel
	for rows.Next() {
		l, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, *l)
	}
	return levels, rows.Err()
}

func scanLevel(row pgx.Row) (*domain.UserLevel, error) {
	var l domain.UserLevel
	err := row.Scan(&l.UserID, &l.Level, &l.CurrentXP, &l.TotalXP, &l.XPToNextLevel,
		&l.Title, &l.UpdatedAt, &l.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

const ledgerColumns = `id, user_id, amount, reason, idempotency_key, level_before, level_after, created_at`

func (r *repos) FindAward(ctx context.Context, key string) (*domain.XPLedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	return scanLedger(r.q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM xp_ledger WHERE idempotency_key = $1`, key))
}

// InsertAward appends a ledger entry. A reused idempotency key yields
// domain.ErrConflict, whether the other row is committed or still in flight.
func (r *repos) InsertAward(ctx context.Context, e domain.XPLedgerEntry) error {
	var key *string
	if e.IdempotencyKey != "" {
		key = &e.IdempotencyKey
	}
	tag, err := r.q.Exec(ctx,
		`INSERT INTO xp_ledger (`+ledgerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING`,
		e.ID, e.UserID, e.Amount, e.Reason, key, e.LevelBefore, e.LevelAfter, e.CreatedAt,
	)
	return checkOne(tag, err)
}

func (r *repos) ListAwards(ctx context.Context, userID string, limit int) ([]domain.XPLedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM xp_ledger WHERE user_id = $1 ORDER BY created_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.XPLedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *repos) SumAwards(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

func scanLedger(row pgx.Row) (*domain.XPLedgerEntry, error) {
	var e domain.XPLedgerEntry
	var key *string
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &key,
		&e.LevelBefore, &e.LevelAfter, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if key != nil {
		e.IdempotencyKey = *key
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// ─── Notifications ──────────────────────────────────────────────────────────

func (r *repos) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, created_at, shown)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, n.CreatedAt, n.Shown,
	)
	return err
}

func (r *repos) ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id, user_id, type, title, body, created_at, shown FROM notifications WHERE user_id = $1`
	if pendingOnly {
		query += ` AND NOT shown`
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.CreatedAt, &n.Shown); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

func (r *repos) MarkNotificationShown(ctx context.Context, userID, id string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE notifications SET shown = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err := checkOne(tag, err); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// checkOne maps "no row touched" and unique violations to domain.ErrConflict.
func checkOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return asConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// asConflict turns a unique violation (SQLSTATE 23505) into
// domain.ErrConflict so callers reload and replay instead of failing. A
// concurrent writer that commits the same key first surfaces this way.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullDay(d time.Time) *time.Time {
	if d.IsZero() {
		return nil
	}
	return &d
}
