package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

// Migrate creates the shared tables. Per-kind customer, conversation and
// message tables are created by repository.TableManager.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS integrations (
			id VARCHAR(36) PRIMARY KEY,
			kind VARCHAR(30) NOT NULL,
			erxes_api_id VARCHAR(255) UNIQUE NOT NULL,
			aggregator_integration_id VARCHAR(255),
			display_name VARCHAR(255),
			credentials JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create integrations table: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS integrations_aggregator_id_idx
		ON integrations (aggregator_integration_id)
		WHERE aggregator_integration_id IS NOT NULL AND aggregator_integration_id <> '';
	`)
	if err != nil {
		return fmt.Errorf("create integrations aggregator index: %w", err)
	}

	// Runtime overrides for aggregator credentials
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS integration_configs (
			key VARCHAR(50) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create integration_configs table: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
