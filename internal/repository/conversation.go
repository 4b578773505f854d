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

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// CanAccessConversation implements the gateway's access authority. A private
// conversation admits only its two persisted participants; a project chat
// admits whoever is currently a member of the owning project (checked here
// at join time, never cached in the gateway).
func (r *ConversationRepository) CanAccessConversation(ctx context.Context, kind model.ConversationKind, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.CanAccessConversation", time.Now())()
	switch kind {
	case model.KindPrivate:
		var ok bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM conversation_participants
			   WHERE conversation_id = $1 AND user_id = $2
			 )`, conversationID, userID,
		).Scan(&ok)
		if err != nil {
			return false, fmt.Errorf("convRepo.CanAccessConversation private: %w", err)
		}
		return ok, nil
	case model.KindProject:
		var ok bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM conversations c
			   JOIN project_members pm ON pm.project_id = c.project_id
			   WHERE c.id = $1 AND pm.user_id = $2
			 )`, conversationID, userID,
		).Scan(&ok)
		if err != nil {
			return false, fmt.Errorf("convRepo.CanAccessConversation project: %w", err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

// IsProjectMember reports current membership in a project.
func (r *ConversationRepository) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsProjectMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2
		 )`, projectID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsProjectMember: %w", err)
	}
	return ok, nil
}

// ParticipantIDs returns the persisted participants of a private
// conversation, or the owning project's current members for a project chat.
func (r *ConversationRepository) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.ParticipantIDs", time.Now())()
	var kind model.ConversationKind
	var projectID *string
	err := r.pool.QueryRow(ctx,
		`SELECT kind, project_id FROM conversations WHERE id = $1`, conversationID,
	).Scan(&kind, &projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.ParticipantIDs lookup: %w", err)
	}
	var rows pgx.Rows
	if kind == model.KindProject && projectID != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT user_id FROM project_members WHERE project_id = $1`, *projectID)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

// ProjectMemberIDs returns the current member ids of a project.
func (r *ConversationRepository) ProjectMemberIDs(ctx context.Context, projectID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.ProjectMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM project_members WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ProjectMemberIDs query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.ProjectMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ProjectMemberIDs rows: %w", err)
	}
	return ids, nil
}
