package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IntegrationRepository struct {
	db *pgxpool.Pool
}

func NewIntegrationRepository(db *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = "id, kind, erxes_api_id, aggregator_integration_id, display_name, credentials, created_at"

func (r *IntegrationRepository) Create(ctx context.Context, in *entities.Integration) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	creds, err := json.Marshal(in.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO integrations (id, kind, erxes_api_id, aggregator_integration_id, display_name, credentials, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, in.ID, in.Kind, in.ErxesAPIID, in.AggregatorIntegrationID, in.DisplayName, string(creds), in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return nil
}

func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM integrations WHERE id = $1", id)
	return err
}

func (r *IntegrationRepository) FindByErxesAPIID(ctx context.Context, erxesAPIID string) (*entities.Integration, error) {
	return r.findOne(ctx, "erxes_api_id = $1", erxesAPIID)
}

func (r *IntegrationRepository) FindByAggregatorID(ctx context.Context, aggregatorID string) (*entities.Integration, error) {
	return r.findOne(ctx, "aggregator_integration_id = $1", aggregatorID)
}

func (r *IntegrationRepository) FindByInstanceID(ctx context.Context, kind, instanceID string) (*entities.Integration, error) {
	return r.findOne(ctx, "kind = $1 AND credentials->'whatsapp_instance_ids' ? $2", kind, instanceID)
}

func (r *IntegrationRepository) SetAggregatorID(ctx context.Context, id, aggregatorID string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE integrations SET aggregator_integration_id = $1 WHERE id = $2",
		aggregatorID, id)
	return err
}

// UpdateCredentials rotates the stored credentials. It is the only mutation
// allowed on an integration after creation.
func (r *IntegrationRepository) UpdateCredentials(ctx context.Context, id string, creds entities.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	_, err = r.db.Exec(ctx, "UPDATE integrations SET credentials = $1::jsonb WHERE id = $2", string(data), id)
	return err
}

func (r *IntegrationRepository) findOne(ctx context.Context, where string, args ...any) (*entities.Integration, error) {
	var (
		in    entities.Integration
		creds []byte
	)
	err := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM integrations WHERE %s LIMIT 1", integrationColumns, where),
		args...).Scan(&in.ID, &in.Kind, &in.ErxesAPIID, &in.AggregatorIntegrationID, &in.DisplayName, &creds, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(creds, &in.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials of integration %s: %w", in.ID, err)
	}
	return &in, nil
}
