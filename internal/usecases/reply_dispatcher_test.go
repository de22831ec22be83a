package usecases

import (
	"context"
	"testing"

	"chatrelay/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedConversation runs one inbound message so a conversation and customer exist.
func seedConversation(t *testing.T, env *testEnv) InboundResult {
	t.Helper()
	env.addIntegration(t, telegramIntegration())
	res := env.inbound.Process(context.Background(), telegramBatch("m1"))
	require.Equal(t, StateAcknowledged, res.State)
	return res
}

func TestReplySendsTextAndRecordsOutbound(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	ctx := context.Background()
	sender := env.senders[entities.KindTelegram]

	id, err := env.replies.Reply(ctx, ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Content:        "hello back",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, sender.texts, 1)
	assert.Equal(t, "hello back", sender.texts[0].Content)
	assert.Equal(t, "u1", sender.texts[0].Customer.PlatformUserID)
	assert.Empty(t, sender.files)

	msgs, err := env.models[entities.KindTelegram].messages.ListByConversation(ctx, seeded.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, entities.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "platform-msg-1", msgs[1].PlatformMessageID)
	assert.Equal(t, id, msgs[1].ID)
}

func TestReplyWithAttachmentSendsFile(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	sender := env.senders[entities.KindTelegram]

	_, err := env.replies.Reply(context.Background(), ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Content:        "see attached",
		Attachments:    []entities.Attachment{{Type: "image/png", URL: "https://files.example/a.png"}},
	})
	require.NoError(t, err)
	require.Len(t, sender.files, 1)
	assert.Equal(t, "https://files.example/a.png", sender.files[0].Attachment.URL)
	assert.Empty(t, sender.texts)
}

func TestReplyRejectsTwoAttachmentsWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	before := env.models[entities.KindTelegram].messages.Len()

	_, err := env.replies.Reply(context.Background(), ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Attachments: []entities.Attachment{
			{URL: "https://files.example/1.png"},
			{URL: "https://files.example/2.png"},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrTooManyAttachments)
	assert.Equal(t, 0, env.senders[entities.KindTelegram].calls())
	assert.Equal(t, before, env.models[entities.KindTelegram].messages.Len())
}

func TestReplyRejectsAttachmentWithoutURL(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	before := env.models[entities.KindTelegram].messages.Len()

	_, err := env.replies.Reply(context.Background(), ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Attachments:    []entities.Attachment{{Type: "image", URL: " "}},
	})
	assert.ErrorIs(t, err, &entities.Error{Kind: entities.KindValidation, Code: entities.CodeInvalidPayload})
	assert.Equal(t, 0, env.senders[entities.KindTelegram].calls())
	assert.Equal(t, before, env.models[entities.KindTelegram].messages.Len())
}

func TestReplySendFailureIsUpstream(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	env.senders[entities.KindTelegram].err = errBoom
	before := env.models[entities.KindTelegram].messages.Len()

	_, err := env.replies.Reply(context.Background(), ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Content:        "x",
	})
	require.Error(t, err)
	assert.Equal(t, entities.KindUpstream, entities.KindOf(err))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, before, env.models[entities.KindTelegram].messages.Len())
}

func TestReplyNotConfiguredPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	env.senders[entities.KindTelegram].err = entities.ErrNotConfigured

	_, err := env.replies.Reply(context.Background(), ReplyRequest{
		IntegrationID:  "erxes-tg",
		ConversationID: seeded.ConversationID,
		Content:        "x",
	})
	assert.Equal(t, entities.KindNotConfigured, entities.KindOf(err))
}

func TestReplyNotFound(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	ctx := context.Background()

	_, err := env.replies.Reply(ctx, ReplyRequest{IntegrationID: "missing", ConversationID: seeded.ConversationID})
	assert.Equal(t, entities.KindNotFound, entities.KindOf(err))

	_, err = env.replies.Reply(ctx, ReplyRequest{IntegrationID: "erxes-tg", ConversationID: "missing"})
	assert.Equal(t, entities.KindNotFound, entities.KindOf(err))

	assert.Equal(t, 0, env.senders[entities.KindTelegram].calls())
}

func TestReplyIsIdempotentPerPlatformMessageID(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedConversation(t, env)
	req := ReplyRequest{IntegrationID: "erxes-tg", ConversationID: seeded.ConversationID, Content: "again"}

	first, err := env.replies.Reply(context.Background(), req)
	require.NoError(t, err)
	second, err := env.replies.Reply(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, env.models[entities.KindTelegram].messages.Len())
}
