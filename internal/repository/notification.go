package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	var projectID, userID *string
	if n.ProjectID != "" {
		projectID = &n.ProjectID
	}
	if n.UserID != "" {
		userID = &n.UserID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, project_id, user_id, title, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, projectID, userID, n.Title, n.Body, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

// MarkRead records that the user has seen the notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notification_reads (notification_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (notification_id, user_id) DO NOTHING`,
		notificationID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	return nil
}

// UnreadSystemCount recomputes the `system` channel counter: notifications
// addressed to the user directly or to any project they belong to, minus
// the ones they have read.
func (r *NotificationRepository) UnreadSystemCount(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("notif.UnreadSystemCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM notifications n
		 WHERE (
		     n.user_id = $1
		     OR (n.user_id IS NULL AND n.project_id IN (
		        SELECT project_id FROM project_members WHERE user_id = $1))
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM notification_reads nr
		     WHERE nr.notification_id = n.id AND nr.user_id = $1
		   )`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.UnreadSystemCount: %w", err)
	}
	return count, nil
}
