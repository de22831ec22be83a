package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db    *pgxpool.Pool
	table string
}

func NewMessageRepository(db *pgxpool.Pool, kind string) *MessageRepository {
	return &MessageRepository{db: db, table: TablesFor(kind).Messages}
}

const messageColumns = "id, conversation_id, customer_id, platform_message_id, content, attachment_type, attachment_url, direction, created_at"

func (r *MessageRepository) FindByPlatformMessage(ctx context.Context, conversationID, platformMessageID string) (*entities.Message, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE conversation_id = $1 AND platform_message_id = $2",
		messageColumns, r.table), conversationID, platformMessageID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateIfAbsent is the idempotency anchor against webhook redelivery: a second
// insert with the same (conversation_id, platform_message_id) leaves the table
// untouched and loads the stored row into m.
func (r *MessageRepository) CreateIfAbsent(ctx context.Context, m *entities.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var attType, attURL *string
	if m.Attachment != nil {
		attType, attURL = &m.Attachment.Type, &m.Attachment.URL
	}

	var id string
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (conversation_id, platform_message_id) DO NOTHING
		RETURNING id
	`, r.table, messageColumns),
		m.ID, m.ConversationID, m.CustomerID, m.PlatformMessageID, m.Content, attType, attURL, string(m.Direction), m.CreatedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert message: %w", err)
	}

	existing, err := r.FindByPlatformMessage(ctx, m.ConversationID, m.PlatformMessageID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("message %s/%s vanished after conflict", m.ConversationID, m.PlatformMessageID)
	}
	*m = *existing
	return false, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE conversation_id = $1 ORDER BY created_at ASC",
		messageColumns, r.table), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []entities.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*entities.Message, error) {
	var (
		m               entities.Message
		attType, attURL *string
		direction       string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.CustomerID, &m.PlatformMessageID, &m.Content, &attType, &attURL, &direction, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = entities.Direction(direction)
	if attType != nil || attURL != nil {
		m.Attachment = &entities.Attachment{}
		if attType != nil {
			m.Attachment.Type = *attType
		}
		if attURL != nil {
			m.Attachment.URL = *attURL
		}
	}
	return &m, nil
}
