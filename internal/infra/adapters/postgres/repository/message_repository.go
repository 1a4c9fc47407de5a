package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vantu-dev/pairlink/internal/domain/models"
)

type MessageRepository interface {
	Append(ctx context.Context, roomID, userID, text string) error
	GetByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Append(ctx context.Context, roomID, userID, text string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return err
	}

	query := "INSERT INTO messages (room_id, user_id, text) VALUES ($1, $2, $3)"
	_, err = r.db.ExecContext(ctx, query, roomID, uid, text)
	return err
}

// GetByRoom returns up to limit most recent messages in chronological order.
func (r *messageRepo) GetByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := `SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, '') AS username, m.text, m.created_at
	          FROM messages m
	          LEFT JOIN users u ON m.user_id = u.id
	          WHERE m.room_id = $1
	          ORDER BY m.created_at DESC
	          LIMIT $2`
	if err := r.db.SelectContext(ctx, &messages, query, roomID, limit); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
