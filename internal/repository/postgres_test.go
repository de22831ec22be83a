package repository

import (
	"context"
	"os"
	"testing"

	"chatrelay/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a disposable database given in TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresModelSetIsIdempotent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	kind := "test_" + uuid.NewString()[:8]

	tables, err := NewTableManager(pool).EnsureKindTables(ctx, kind)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, table := range []string{tables.Messages, tables.Conversations, tables.Customers} {
			_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		}
	})

	customers := NewCustomerRepository(pool, kind)
	first := &entities.Customer{IntegrationID: "i1", PlatformUserID: "u1", GivenName: "Ann"}
	created, err := customers.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	require.True(t, created)
	second := &entities.Customer{IntegrationID: "i1", PlatformUserID: "u1"}
	created, err = customers.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	conversations := NewConversationRepository(pool, kind)
	conv := &entities.Conversation{IntegrationID: "i1", PlatformConversationID: "c1", CustomerID: first.ID}
	_, err = conversations.CreateIfAbsent(ctx, conv)
	require.NoError(t, err)

	messages := NewMessageRepository(pool, kind)
	for i := 0; i < 2; i++ {
		_, err := messages.CreateIfAbsent(ctx, &entities.Message{
			ConversationID:    conv.ID,
			CustomerID:        first.ID,
			PlatformMessageID: "m1",
			Content:           "hi",
			Attachment:        &entities.Attachment{Type: "image", URL: "https://x.example/1.png"},
			Direction:         entities.DirectionInbound,
		})
		require.NoError(t, err)
	}
	msgs, err := messages.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "https://x.example/1.png", msgs[0].Attachment.URL)
}
