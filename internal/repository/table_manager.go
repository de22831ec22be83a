package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KindTables names the per-kind model set tables.
type KindTables struct {
	Customers     string
	Conversations string
	Messages      string
}

var unsafeTableChars = regexp.MustCompile("[^a-zA-Z0-9_]+")

// sanitizeTableName cleans strings to be safe for SQL table names (alphanumeric + underscore)
func sanitizeTableName(name string) string {
	return strings.ToLower(unsafeTableChars.ReplaceAllString(name, "_"))
}

// TablesFor returns the table names holding the model set of an integration kind.
func TablesFor(kind string) KindTables {
	prefix := sanitizeTableName(kind)
	return KindTables{
		Customers:     prefix + "_customers",
		Conversations: prefix + "_conversations",
		Messages:      prefix + "_messages",
	}
}

type TableManager struct {
	db *pgxpool.Pool
}

func NewTableManager(db *pgxpool.Pool) *TableManager {
	return &TableManager{db: db}
}

// EnsureKindTables creates the customer/conversation/message tables of a kind
// with the unique indexes backing compare-and-create inserts.
func (m *TableManager) EnsureKindTables(ctx context.Context, kind string) (KindTables, error) {
	t := TablesFor(kind)

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return t, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				integration_id TEXT NOT NULL,
				platform_user_id TEXT NOT NULL,
				given_name TEXT NOT NULL DEFAULT '',
				surname TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (integration_id, platform_user_id)
			)
		`, t.Customers),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				integration_id TEXT NOT NULL,
				platform_conversation_id TEXT NOT NULL,
				customer_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (integration_id, platform_conversation_id)
			)
		`, t.Conversations),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				customer_id TEXT NOT NULL DEFAULT '',
				platform_message_id TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				attachment_type TEXT,
				attachment_url TEXT,
				direction VARCHAR(10) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (conversation_id, platform_message_id)
			)
		`, t.Messages),
	}

	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return t, fmt.Errorf("failed to create %s tables: %w", kind, err)
		}
	}

	return t, tx.Commit(ctx)
}
