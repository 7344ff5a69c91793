package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexus-app/nexus/internal/domain"
)

// ─── Achievement Definitions ────────────────────────────────────────────────

const defColumns = `id, code, name, description, xp_reward, category, rarity, icon, requirement, is_secret`

// ListDefinitions returns the catalog ordered by code.
func (r *repos) ListDefinitions(ctx context.Context) ([]domain.AchievementDefinition, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+defColumns+` FROM achievement_definitions ORDER BY code`)
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

// GetDefinition retrieves a definition by code.
func (r *repos) GetDefinition(ctx context.Context, code string) (*domain.AchievementDefinition, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+defColumns+` FROM achievement_definitions WHERE code = ?`, code)
	return scanDefinition(row)
}

// UpsertDefinition inserts or updates a definition by code. The row id of
// an existing code is kept so earned achievements stay attached.
func (r *repos) UpsertDefinition(ctx context.Context, def domain.AchievementDefinition) error {
	req, err := encodeRequirement(def.Requirement)
	if err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = def.Code
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO achievement_definitions (`+defColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			xp_reward=excluded.xp_reward,
			category=excluded.category,
			rarity=excluded.rarity,
			icon=excluded.icon,
			requirement=excluded.requirement,
			is_secret=excluded.is_secret`,
		def.ID, def.Code, def.Name, def.Description, def.XPReward,
		def.Category, def.Rarity, def.Icon, req, def.IsSecret,
	)
	return err
}

func scanDefinition(s scanner) (*domain.AchievementDefinition, error) {
	var d domain.AchievementDefinition
	var req string
	err := s.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.XPReward,
		&d.Category, &d.Rarity, &d.Icon, &req, &d.IsSecret)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Requirement, err = decodeRequirement(req); err != nil {
		return nil, err
	}
	return &d, nil
}

// ─── User Achievements ──────────────────────────────────────────────────────

// GetUserAchievement returns the earned row, or nil.
func (r *repos) GetUserAchievement(ctx context.Context, userID, achievementID string) (*domain.UserAchievement, error) {
	var ua domain.UserAchievement
	var earnedAt int64
	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, achievement_id, progress, earned_at
		 FROM user_achievements WHERE user_id = ? AND achievement_id = ?`,
		userID, achievementID,
	).Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &earnedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ua.EarnedAt = time.Unix(earnedAt, 0).UTC()
	return &ua, nil
}

// CreateUserAchievement records an earned achievement.
// Returns domain.ErrAlreadyEarned if the pair exists.
func (r *repos) CreateUserAchievement(ctx context.Context, ua domain.UserAchievement) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO user_achievements (id, user_id, achievement_id, progress, earned_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		ua.ID, ua.UserID, ua.AchievementID, ua.Progress, ua.EarnedAt.Unix(),
	)
	if err := checkOne(res, err); err != nil {
		if err == domain.ErrConflict {
			return domain.ErrAlreadyEarned
		}
		return err
	}
	return nil
}

// ListUserAchievements returns a user's earned achievements, oldest first.
func (r *repos) ListUserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, user_id, achievement_id, progress, earned_at
		 FROM user_achievements WHERE user_id = ? ORDER BY earned_at, id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.UserAchievement
	for rows.Next() {
		var ua domain.UserAchievement
		var earnedAt int64
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &earnedAt); err != nil {
			return nil, err
		}
		ua.EarnedAt = time.Unix(earnedAt, 0).UTC()
		list = append(list, ua)
	}
	return list, rows.Err()
}

// ─── User Levels ────────────────────────────────────────────────────────────

const levelColumns = `user_id, level, current_xp, total_xp, xp_to_next_level, title, updated_at, version`

// GetUserLevel returns the level row, or nil.
func (r *repos) GetUserLevel(ctx context.Context, userID string) (*domain.UserLevel, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+levelColumns+` FROM user_levels WHERE user_id = ?`, userID)
	return scanLevel(row)
}

// SaveUserLevel inserts (Version 0) or conditionally updates a level row.
func (r *repos) SaveUserLevel(ctx context.Context, l *domain.UserLevel) error {
	var (
		res sql.Result
		err error
	)
	if l.Version == 0 {
		res, err = r.q.ExecContext(ctx,
			`INSERT INTO user_levels (`+levelColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(user_id) DO NOTHING`,
			l.UserID, l.Level, l.CurrentXP, l.TotalXP, l.XPToNextLevel, l.Title, l.UpdatedAt.Unix(),
		)
	} else {
		res, err = r.q.ExecContext(ctx,
			`UPDATE user_levels SET level = ?, current_xp = ?, total_xp = ?, xp_to_next_level = ?,
				title = ?, updated_at = ?, version = version + 1
			 WHERE user_id = ? AND version = ?`,
			l.Level, l.CurrentXP, l.TotalXP, l.XPToNextLevel, l.Title, l.UpdatedAt.Unix(),
			l.UserID, l.Version,
		)
	}
	if err := checkOne(res, err); err != nil {
		return err
	}
	l.Version++
	return nil
}

// ListUserLevels returns every level row.
func (r *repos) ListUserLevels(ctx context.Context) ([]domain.UserLevel, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+levelColumns+` FROM user_levels ORDER BY user_id`)
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

func scanLevel(s scanner) (*domain.UserLevel, error) {
	var l domain.UserLevel
	var updatedAt int64
	err := s.Scan(&l.UserID, &l.Level, &l.CurrentXP, &l.TotalXP, &l.XPToNextLevel,
		&l.Title, &updatedAt, &l.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &l, nil
}

// ─── XP Ledger ──────────────────────────────────────────────────────────────

const ledgerColumns = `id, user_id, amount, reason, idempotency_key, level_before, level_after, created_at`

// FindAward returns the ledger entry recorded under key, or nil.
func (r *repos) FindAward(ctx context.Context, key string) (*domain.XPLedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	row := r.q.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM xp_ledger WHERE idempotency_key = ?`, key)
	return scanLedger(row)
}

// InsertAward appends a ledger entry. A reused idempotency key yields
// domain.ErrConflict.
func (r *repos) InsertAward(ctx context.Context, e domain.XPLedgerEntry) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO xp_ledger (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		e.ID, e.UserID, e.Amount, e.Reason, nullStr(e.IdempotencyKey),
		e.LevelBefore, e.LevelAfter, e.CreatedAt.Unix(),
	)
	return checkOne(res, err)
}

// ListAwards returns a user's ledger, newest first.
func (r *repos) ListAwards(ctx context.Context, userID string, limit int) ([]domain.XPLedgerEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM xp_ledger WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit,
	)
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

// SumAwards returns the lifetime XP recorded for a user.
func (r *repos) SumAwards(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE user_id = ?`, userID,
	).Scan(&total)
	return total, err
}

func scanLedger(s scanner) (*domain.XPLedgerEntry, error) {
	var e domain.XPLedgerEntry
	var key sql.NullString
	var createdAt int64
	err := s.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &key,
		&e.LevelBefore, &e.LevelAfter, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.IdempotencyKey = key.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &e, nil
}

// ─── Notifications ──────────────────────────────────────────────────────────

// InsertNotification creates a new notification.
func (r *repos) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, created_at, shown)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, n.CreatedAt.Unix(), n.Shown,
	)
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (r *repos) ListNotifications(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, user_id, type, title, body, created_at, shown FROM notifications WHERE user_id = ?`
	if pendingOnly {
		query += ` AND shown = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := r.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &createdAt, &n.Shown); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkNotificationShown marks a notification as shown.
func (r *repos) MarkNotificationShown(ctx context.Context, userID, id string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE notifications SET shown = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err := checkOne(res, err); err != nil {
		if err == domain.ErrConflict {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}
