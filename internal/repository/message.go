package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, status, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.Status, m.ReplyToID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.conversation_id, c.kind, m.sender_id, m.content, m.type, m.status,
		        m.reply_to_id, m.is_deleted, m.created_at,
		        u.id, u.email, u.name, u.avatar_url, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ConversationID, &m.Kind, &m.SenderID, &m.Content, &m.Type, &m.Status,
		&m.ReplyToID, &m.IsDeleted, &m.CreatedAt,
		&sender.ID, &sender.Email, &sender.Name, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// MarkRead advances the reader's per-conversation read mark. Messages are
// immutable; read state lives next to them, not on them.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID, conversationID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_reads (conversation_id, user_id, last_read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET last_read_at = GREATEST(conversation_reads.last_read_at, EXCLUDED.last_read_at)`,
		conversationID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

// SoftDelete hides a message without destroying the authoritative record.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE messages SET is_deleted = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// UnreadIMCount recomputes the `im` channel counter from persisted read
// state: messages newer than the user's read mark across both private
// conversations they participate in and project chats they belong to.
func (r *MessageRepository) UnreadIMCount(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("msg.UnreadIMCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 LEFT JOIN conversation_reads r ON r.conversation_id = m.conversation_id AND r.user_id = $1
		 WHERE m.sender_id <> $1
		   AND NOT m.is_deleted
		   AND m.created_at > COALESCE(r.last_read_at, 'epoch'::timestamptz)
		   AND (
		     (c.kind = 'private' AND EXISTS (
		        SELECT 1 FROM conversation_participants p
		        WHERE p.conversation_id = c.id AND p.user_id = $1))
		     OR
		     (c.kind = 'project' AND EXISTS (
		        SELECT 1 FROM project_members pm
		        WHERE pm.project_id = c.project_id AND pm.user_id = $1))
		   )`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadIMCount: %w", err)
	}
	return count, nil
}
