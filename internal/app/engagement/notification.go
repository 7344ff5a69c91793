package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-app/nexus/internal/domain"
)

// NotificationService exposes the notifications the engines produce.
// Only two events notify: achievement earned and level up.
// A broken streak never notifies.
type NotificationService struct {
	store domain.Store
}

// NewNotificationService creates a notification service.
func NewNotificationService(store domain.Store) *NotificationService {
	return &NotificationService{store: store}
}

// Pending returns unshown notifications, newest first.
func (n *NotificationService) Pending(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return n.list(ctx, userID, true, limit)
}

// Recent returns notifications regardless of shown state, newest first.
func (n *NotificationService) Recent(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return n.list(ctx, userID, false, limit)
}

func (n *NotificationService) list(ctx context.Context, userID string, pendingOnly bool, limit int) ([]domain.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalid("userId", domain.ErrMissingUser)
	}
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Notification
	err := n.store.View(ctx, func(r domain.Repos) error {
		var err error
		out, err = r.ListNotifications(ctx, userID, pendingOnly, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// MarkShown marks a notification as shown. Returns domain.ErrNotFound if
// the user owns no notification with that id.
func (n *NotificationService) MarkShown(ctx context.Context, userID, id string) error {
	return n.store.Atomic(ctx, func(r domain.Repos) error {
		return r.MarkNotificationShown(ctx, userID, id)
	})
}

func achievementNotice(userID string, def domain.AchievementDefinition, now time.Time) domain.Notification {
	body := def.Description
	if def.XPReward > 0 {
		body = fmt.Sprintf("%s (+%d XP)", strings.TrimSpace(def.Description), def.XPReward)
	}
	return domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.NotifyAchievement,
		Title:     "Achievement unlocked: " + def.Name,
		Body:      body,
		CreatedAt: now,
	}
}

func levelUpNotice(userID string, l domain.UserLevel, now time.Time) domain.Notification {
	return domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.NotifyLevelUp,
		Title:     fmt.Sprintf("Level %d reached", l.Level),
		Body:      fmt.Sprintf("You are now %s. %d XP to the next level.", articled(l.Title), l.XPToNextLevel),
		CreatedAt: now,
	}
}

func articled(title string) string {
	if title == "" {
		return title
	}
	switch strings.ToLower(title[:1]) {
	case "a", "e", "i", "o", "u":
		return "an " + title
	}
	return "a " + title
}
