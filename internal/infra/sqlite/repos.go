package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-app/nexus/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repos implements domain.Repos over a connection or transaction.
type repos struct {
	q querier
}

var _ domain.Repos = (*repos)(nil)

// ─── Activity ───────────────────────────────────────────────────────────────

// ListActivity returns matching events in chronological order.
func (r *repos) ListActivity(ctx context.Context, q domain.ActivityQuery) ([]domain.ActivityEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where, args = append(where, "user_id = ?"), append(args, q.UserID)
	}
	if len(q.Kinds) > 0 {
		marks := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ",")+")")
	}
	if q.TargetID != "" {
		where, args = append(where, "target_id = ?"), append(args, q.TargetID)
	}
	if q.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		where, args = append(where, "occurred_at >= ?"), append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		where, args = append(where, "occurred_at < ?"), append(args, q.Until.Unix())
	}

	query := `SELECT id, user_id, target_id, kind, status, occurred_at FROM activity_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		var occurredAt int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.TargetID, &ev.Kind, &ev.Status, &occurredAt); err != nil {
			return nil, err
		}
		ev.OccurredAt = time.Unix(occurredAt, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendActivity inserts an activity event.
func (r *repos) AppendActivity(ctx context.Context, ev domain.ActivityEvent) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO activity_events (id, user_id, target_id, kind, status, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.TargetID, string(ev.Kind), string(ev.Status), ev.OccurredAt.Unix(),
	)
	return err
}

// AddEntity inserts a tracked entity.
func (r *repos) AddEntity(ctx context.Context, e domain.TrackedEntity) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO tracked_entities (id, user_id, kind, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Kind), e.CreatedAt.Unix(),
	)
	return err
}

// ─── Users ──────────────────────────────────────────────────────────────────

// GetUser retrieves a user by id.
func (r *repos) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	var createdAt int64
	err := r.q.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// EnsureUser inserts u unless a user with that id exists.
func (r *repos) EnsureUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		u.ID, u.CreatedAt.Unix(),
	)
	return err
}

// ListUserIDs returns every user id.
func (r *repos) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMetric counts completed activity or created entities behind m.
func (r *repos) CountMetric(ctx context.Context, userID string, m domain.Metric) (int, error) {
	src, ok := m.Source()
	if !ok {
		return 0, nil
	}
	var n int
	var err error
	if src.Activity != "" {
		err = r.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_events WHERE user_id = ? AND kind = ? AND status = ?`,
			userID, string(src.Activity), string(domain.StatusCompleted),
		).Scan(&n)
	} else {
		err = r.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tracked_entities WHERE user_id = ? AND kind = ?`,
			userID, string(src.Entity),
		).Scan(&n)
	}
	return n, err
}

// ─── Streaks ────────────────────────────────────────────────────────────────

const streakColumns = `user_id, type, target_id, current_streak, longest_streak,
	last_activity_date, streak_start_date, is_active, updated_at, version`

// GetStreak retrieves the streak for a scope.
func (r *repos) GetStreak(ctx context.Context, userID string, scope domain.StreakScope) (*domain.Streak, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id = ? AND type = ? AND target_id = ?`,
		userID, string(scope.Type), scope.TargetID,
	)
	return scanStreak(row)
}

// SaveStreak inserts a new streak (Version 0) or updates one whose stored
// version still matches.
func (r *repos) SaveStreak(ctx context.Context, s *domain.Streak) error {
	var (
		res sql.Result
		err error
	)
	if s.Version == 0 {
		res, err = r.q.ExecContext(ctx,
			`INSERT INTO streaks (`+streakColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(user_id, type, target_id) DO NOTHING`,
			s.UserID, string(s.Type), s.TargetID, s.CurrentStreak, s.LongestStreak,
			domain.FormatDay(s.LastActivityDate), domain.FormatDay(s.StreakStartDate),
			s.IsActive, s.UpdatedAt.Unix(),
		)
	} else {
		res, err = r.q.ExecContext(ctx,
			`UPDATE streaks SET current_streak = ?, longest_streak = ?, last_activity_date = ?,
				streak_start_date = ?, is_active = ?, updated_at = ?, version = version + 1
			 WHERE user_id = ? AND type = ? AND target_id = ? AND version = ?`,
			s.CurrentStreak, s.LongestStreak,
			domain.FormatDay(s.LastActivityDate), domain.FormatDay(s.StreakStartDate),
			s.IsActive, s.UpdatedAt.Unix(),
			s.UserID, string(s.Type), s.TargetID, s.Version,
		)
	}
	if err := checkOne(res, err); err != nil {
		return err
	}
	s.Version++
	return nil
}

// ListStreaks returns every streak of a user.
func (r *repos) ListStreaks(ctx context.Context, userID string) ([]domain.Streak, error) {
	return r.queryStreaks(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id = ? ORDER BY type, target_id`, userID)
}

// ListActiveStreaks returns every active streak across users.
func (r *repos) ListActiveStreaks(ctx context.Context) ([]domain.Streak, error) {
	return r.queryStreaks(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE is_active = 1 ORDER BY user_id, type, target_id`)
}

func (r *repos) queryStreaks(ctx context.Context, query string, args ...any) ([]domain.Streak, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
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

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStreak(s scanner) (*domain.Streak, error) {
	var st domain.Streak
	var lastDay, startDay string
	var updatedAt int64
	err := s.Scan(&st.UserID, &st.Type, &st.TargetID, &st.CurrentStreak, &st.LongestStreak,
		&lastDay, &startDay, &st.IsActive, &updatedAt, &st.Version)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}
	if st.LastActivityDate, err = domain.ParseDay(lastDay); err != nil {
		return nil, fmt.Errorf("parse last_activity_date: %w", err)
	}
	if st.StreakStartDate, err = domain.ParseDay(startDay); err != nil {
		return nil, fmt.Errorf("parse streak_start_date: %w", err)
	}
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &st, nil
}

// checkOne maps "no row touched" to domain.ErrConflict.
func checkOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func encodeRequirement(req domain.Requirement) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode requirement: %w", err)
	}
	return string(b), nil
}

func decodeRequirement(s string) (domain.Requirement, error) {
	var req domain.Requirement
	if err := json.Unmarshal([]byte(s), &req); err != nil {
		return req, fmt.Errorf("decode requirement: %w", err)
	}
	return req, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
