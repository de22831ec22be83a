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

type ConversationRepository struct {
	db    *pgxpool.Pool
	table string
}

func NewConversationRepository(db *pgxpool.Pool, kind string) *ConversationRepository {
	return &ConversationRepository{db: db, table: TablesFor(kind).Conversations}
}

func (r *ConversationRepository) FindByPlatformConversation(ctx context.Context, integrationID, platformConversationID string) (*entities.Conversation, error) {
	return r.findOne(ctx, "integration_id = $1 AND platform_conversation_id = $2", integrationID, platformConversationID)
}

func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*entities.Conversation, error) {
	return r.findOne(ctx, "id = $1", id)
}

// CreateIfAbsent never updates an existing row, so customer_id keeps its first value.
func (r *ConversationRepository) CreateIfAbsent(ctx context.Context, c *entities.Conversation) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var id string
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, integration_id, platform_conversation_id, customer_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (integration_id, platform_conversation_id) DO NOTHING
		RETURNING id
	`, r.table), c.ID, c.IntegrationID, c.PlatformConversationID, c.CustomerID, c.RecipientID, c.CreatedAt).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert conversation: %w", err)
	}

	existing, err := r.FindByPlatformConversation(ctx, c.IntegrationID, c.PlatformConversationID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("conversation %s/%s vanished after conflict", c.IntegrationID, c.PlatformConversationID)
	}
	*c = *existing
	return false, nil
}

func (r *ConversationRepository) findOne(ctx context.Context, where string, args ...any) (*entities.Conversation, error) {
	var c entities.Conversation
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, integration_id, platform_conversation_id, customer_id, recipient_id, created_at
		FROM %s WHERE %s LIMIT 1
	`, r.table, where), args...).Scan(&c.ID, &c.IntegrationID, &c.PlatformConversationID, &c.CustomerID, &c.RecipientID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
