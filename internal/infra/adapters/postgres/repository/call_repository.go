package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vantu-dev/pairlink/internal/domain/models"
)

type CallRepository interface {
	Start(ctx context.Context, roomID string, userID uuid.UUID) (*models.CallSession, error)
	End(ctx context.Context, id uuid.UUID) (*models.CallSession, error)
	GetByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.CallSession, error)
}

type callRepo struct {
	db *sqlx.DB
}

func NewCallRepo(db *sqlx.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) Start(ctx context.Context, roomID string, userID uuid.UUID) (*models.CallSession, error) {
	var session models.CallSession
	query := `INSERT INTO call_sessions (room_id, user_id)
	          VALUES ($1, $2)
	          RETURNING id, room_id, user_id, started_at, ended_at, duration`
	if err := r.db.GetContext(ctx, &session, query, roomID, userID); err != nil {
		return nil, err
	}
	return &session, nil
}

// End finalizes a session, computing duration in whole seconds server-side.
func (r *callRepo) End(ctx context.Context, id uuid.UUID) (*models.CallSession, error) {
	var session models.CallSession
	query := `UPDATE call_sessions
	          SET ended_at = CURRENT_TIMESTAMP,
	              duration = EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - started_at))::INTEGER
	          WHERE id = $1
	          RETURNING id, room_id, user_id, started_at, ended_at, duration`
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *callRepo) GetByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.CallSession, error) {
	var sessions []models.CallSession
	query := `SELECT id, room_id, user_id, started_at, ended_at, duration
	          FROM call_sessions
	          WHERE user_id = $1
	          ORDER BY started_at DESC
	          LIMIT $2`
	if err := r.db.SelectContext(ctx, &sessions, query, userID, limit); err != nil {
		return nil, err
	}
	return sessions, nil
}
