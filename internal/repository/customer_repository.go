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

type CustomerRepository struct {
	db    *pgxpool.Pool
	table string
}

// NewCustomerRepository returns the customer store of one integration kind.
func NewCustomerRepository(db *pgxpool.Pool, kind string) *CustomerRepository {
	return &CustomerRepository{db: db, table: TablesFor(kind).Customers}
}

func (r *CustomerRepository) FindByPlatformUser(ctx context.Context, integrationID, platformUserID string) (*entities.Customer, error) {
	return r.findOne(ctx, "integration_id = $1 AND platform_user_id = $2", integrationID, platformUserID)
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*entities.Customer, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *CustomerRepository) CreateIfAbsent(ctx context.Context, c *entities.Customer) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var id string
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, integration_id, platform_user_id, given_name, surname, phone, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (integration_id, platform_user_id) DO NOTHING
		RETURNING id
	`, r.table), c.ID, c.IntegrationID, c.PlatformUserID, c.GivenName, c.Surname, c.Phone, c.AvatarURL, c.CreatedAt).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert customer: %w", err)
	}

	// Lost the race: hand back the row that won.
	existing, err := r.FindByPlatformUser(ctx, c.IntegrationID, c.PlatformUserID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("customer %s/%s vanished after conflict", c.IntegrationID, c.PlatformUserID)
	}
	*c = *existing
	return false, nil
}

func (r *CustomerRepository) findOne(ctx context.Context, where string, args ...any) (*entities.Customer, error) {
	var c entities.Customer
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, integration_id, platform_user_id, given_name, surname, phone, avatar_url, created_at
		FROM %s WHERE %s LIMIT 1
	`, r.table, where), args...).Scan(&c.ID, &c.IntegrationID, &c.PlatformUserID, &c.GivenName, &c.Surname, &c.Phone, &c.AvatarURL, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
