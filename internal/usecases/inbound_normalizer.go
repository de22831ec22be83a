package usecases

import (
	"context"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/rs/zerolog"
)

// InboundState is the lifecycle of one webhook call.
type InboundState string

const (
	StateReceivedPayload      InboundState = "received_payload"
	StateValidated            InboundState = "validated"
	StateCustomerResolved     InboundState = "customer_resolved"
	StateConversationResolved InboundState = "conversation_resolved"
	StateMessagesPersisted    InboundState = "messages_persisted"
	StateAcknowledged         InboundState = "acknowledged"
	StateFailedNonFatal       InboundState = "failed_non_fatal"
)

// InboundResult reports what one batch did. The webhook caller is acknowledged
// regardless; the result only feeds logs and tests.
type InboundResult struct {
	State          InboundState
	Skipped        bool
	IntegrationID  string
	CustomerID     string
	ConversationID string
	MessageIDs     []string
	Created        int
	Failures       []error
}

func (r *InboundResult) fail(err error) InboundResult {
	r.State = StateFailedNonFatal
	r.Failures = append(r.Failures, err)
	return *r
}

// InboundNormalizer turns a normalized webhook batch into persisted customer,
// conversation and message records.
type InboundNormalizer struct {
	registry      *Registry
	integrations  interfaces.IntegrationStore
	customers     *CustomerResolver
	conversations *ConversationManager
	messages      *MessageRecorder
	log           zerolog.Logger
}

func NewInboundNormalizer(
	registry *Registry,
	integrations interfaces.IntegrationStore,
	customers *CustomerResolver,
	conversations *ConversationManager,
	messages *MessageRecorder,
	log zerolog.Logger,
) *InboundNormalizer {
	return &InboundNormalizer{
		registry:      registry,
		integrations:  integrations,
		customers:     customers,
		conversations: conversations,
		messages:      messages,
		log:           log.With().Str("component", "inbound").Logger(),
	}
}

// Process runs the batch to completion. It is detached from ctx cancellation
// so a caller hanging up mid-batch cannot leave it half-persisted. Messages are
// persisted in order; one failing does not stop the rest.
func (n *InboundNormalizer) Process(ctx context.Context, batch entities.InboundBatch) InboundResult {
	ctx = context.WithoutCancel(ctx)
	res := InboundResult{State: StateReceivedPayload}

	if batch.Trigger != entities.TriggerNewUserMessage {
		n.log.Debug().Str("trigger", batch.Trigger).Msg("ignoring webhook trigger")
		res.State = StateAcknowledged
		res.Skipped = true
		return res
	}
	if err := validateBatch(batch); err != nil {
		n.log.Warn().Err(err).Msg("invalid inbound payload")
		return res.fail(err)
	}

	integration, err := n.findIntegration(ctx, batch.Integration)
	if err != nil {
		n.log.Warn().Err(err).
			Str("aggregator_id", batch.Integration.AggregatorID).
			Str("instance_id", batch.Integration.InstanceID).
			Msg("resolve integration")
		return res.fail(err)
	}
	res.IntegrationID = integration.ID

	platform, err := n.registry.Lookup(integration.Kind)
	if err != nil {
		n.log.Error().Err(err).Str("integration_id", integration.ID).Msg("integration kind not registered")
		return res.fail(err)
	}
	res.State = StateValidated

	customerID, err := n.customers.ResolveCustomer(ctx, platform, integration, batch.User, batch.Client)
	if err != nil {
		n.log.Error().Err(err).Str("integration_id", integration.ID).Msg("resolve customer")
		return res.fail(err)
	}
	res.CustomerID = customerID
	res.State = StateCustomerResolved

	conv, created, err := n.conversations.ResolveConversation(ctx, platform, integration.ID, batch.Thread, customerID)
	if err != nil {
		n.log.Error().Err(err).Str("integration_id", integration.ID).Msg("resolve conversation")
		return res.fail(err)
	}
	if created {
		n.messages.notify(ctx, EventConversationCreated, conv)
	}
	res.ConversationID = conv.ID
	res.State = StateConversationResolved

	for _, ev := range batch.Events {
		msg, created, err := n.messages.RecordMessage(ctx, platform.Models.Messages, RecordInput{
			ConversationID:    conv.ID,
			CustomerID:        customerID,
			PlatformMessageID: ev.PlatformMessageID,
			Content:           ev.Text,
			Attachment:        ev.Attachment(),
			Direction:         entities.DirectionInbound,
		})
		if err != nil {
			n.log.Error().Err(err).
				Str("conversation_id", conv.ID).
				Str("platform_message_id", ev.PlatformMessageID).
				Msg("persist inbound message")
			res.Failures = append(res.Failures, err)
			continue
		}
		res.MessageIDs = append(res.MessageIDs, msg.ID)
		if created {
			res.Created++
		}
	}
	res.State = StateMessagesPersisted

	if len(res.Failures) > 0 {
		res.State = StateFailedNonFatal
		return res
	}
	res.State = StateAcknowledged
	n.log.Debug().
		Str("conversation_id", conv.ID).
		Int("messages", len(batch.Events)).
		Int("created", res.Created).
		Msg("inbound batch processed")
	return res
}

func (n *InboundNormalizer) findIntegration(ctx context.Context, ref entities.IntegrationRef) (*entities.Integration, error) {
	var (
		integration *entities.Integration
		err         error
	)
	if ref.AggregatorID != "" {
		integration, err = n.integrations.FindByAggregatorID(ctx, ref.AggregatorID)
	} else {
		integration, err = n.integrations.FindByInstanceID(ctx, NormalizeKind(ref.Kind), ref.InstanceID)
	}
	if err != nil {
		return nil, entities.NewPersistenceError(err, "find integration")
	}
	if integration == nil {
		return nil, entities.NewNotFoundError("integration not found")
	}
	return integration, nil
}

func validateBatch(batch entities.InboundBatch) error {
	switch {
	case batch.Integration.AggregatorID == "" && batch.Integration.InstanceID == "":
		return entities.NewValidationError(entities.CodeInvalidPayload, "integration reference is required")
	case batch.User.ID == "":
		return entities.NewValidationError(entities.CodeInvalidPayload, "platform user id is required")
	case batch.Thread.ID == "":
		return entities.NewValidationError(entities.CodeInvalidPayload, "conversation id is required")
	case len(batch.Events) == 0:
		return entities.NewValidationError(entities.CodeInvalidPayload, "no messages in payload")
	}
	return nil
}
