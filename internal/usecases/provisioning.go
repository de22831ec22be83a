package usecases

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/rs/zerolog"
)

// CreateIntegrationRequest is the main API's request to bind a platform account.
// Data is a JSON object of platform props. When Transports is set, kinds using
// any other transport are rejected as unknown.
type CreateIntegrationRequest struct {
	Kind          string
	IntegrationID string
	Data          string
	Transports    []Transport
}

// Provisioner creates integrations locally and on the remote side, undoing the
// local record when the remote step fails.
type Provisioner struct {
	registry     *Registry
	integrations interfaces.IntegrationStore
	aggregator   interfaces.AggregatorClient
	devices      interfaces.DeviceConnector
	tokens       interfaces.TokenCache
	log          zerolog.Logger
}

func NewProvisioner(
	registry *Registry,
	integrations interfaces.IntegrationStore,
	aggregator interfaces.AggregatorClient,
	devices interfaces.DeviceConnector,
	tokens interfaces.TokenCache,
	log zerolog.Logger,
) *Provisioner {
	return &Provisioner{
		registry:     registry,
		integrations: integrations,
		aggregator:   aggregator,
		devices:      devices,
		tokens:       tokens,
		log:          log.With().Str("component", "provisioning").Logger(),
	}
}

func (p *Provisioner) CreateIntegration(ctx context.Context, req CreateIntegrationRequest) (*entities.Integration, error) {
	if strings.TrimSpace(req.IntegrationID) == "" {
		return nil, entities.NewValidationError(entities.CodeInvalidPayload, "integrationId is required")
	}
	props, err := parseProps(req.Data)
	if err != nil {
		return nil, err
	}
	platform, err := p.registry.Lookup(req.Kind)
	if err != nil {
		return nil, err
	}
	if len(req.Transports) > 0 && !slices.Contains(req.Transports, platform.Variant.Transport()) {
		return nil, entities.NewValidationError(entities.CodeUnknownIntegrationKind, "integration kind %q is not served by this route", req.Kind)
	}
	creds, err := platform.Variant.BuildCredentials(props)
	if err != nil {
		return nil, err
	}

	existing, err := p.integrations.FindByErxesAPIID(ctx, req.IntegrationID)
	if err != nil {
		return nil, entities.NewPersistenceError(err, "find integration")
	}
	if existing != nil {
		return nil, entities.NewValidationError(entities.CodeInvalidPayload, "integration %s already exists", req.IntegrationID)
	}
	for _, instanceID := range creds.WhatsAppInstanceIDs {
		bound, err := p.integrations.FindByInstanceID(ctx, platform.Kind, instanceID)
		if err != nil {
			return nil, entities.NewPersistenceError(err, "find integration by instance")
		}
		if bound != nil {
			return nil, entities.NewValidationError(entities.CodeInstanceAlreadyBound, "instance %s is already bound to an integration", instanceID)
		}
	}

	integration := &entities.Integration{
		Kind:        platform.Kind,
		ErxesAPIID:  req.IntegrationID,
		DisplayName: stringProp(props, "displayName"),
		Credentials: creds,
	}
	if err := p.integrations.Create(ctx, integration); err != nil {
		return nil, entities.NewPersistenceError(err, "create integration")
	}

	switch platform.Variant.Transport() {
	case TransportAggregator:
		err = p.createRemote(ctx, integration, props)
	case TransportDevice:
		err = p.connectDevices(ctx, integration)
	}
	if err != nil {
		p.compensate(integration)
		return nil, err
	}

	p.log.Info().
		Str("integration_id", integration.ID).
		Str("erxes_api_id", integration.ErxesAPIID).
		Str("kind", integration.Kind).
		Msg("integration created")
	return integration, nil
}

// RotateCredentials replaces the stored credentials of an integration. Instance
// bindings of WhatsApp kinds cannot change this way.
func (p *Provisioner) RotateCredentials(ctx context.Context, integrationID, data string) error {
	props, err := parseProps(data)
	if err != nil {
		return err
	}
	integration, err := p.integrations.FindByErxesAPIID(ctx, integrationID)
	if err != nil {
		return entities.NewPersistenceError(err, "find integration")
	}
	if integration == nil {
		return entities.NewNotFoundError("integration %s not found", integrationID)
	}
	platform, err := p.registry.Lookup(integration.Kind)
	if err != nil {
		return err
	}
	creds, err := platform.Variant.BuildCredentials(props)
	if err != nil {
		return err
	}
	for _, instanceID := range creds.WhatsAppInstanceIDs {
		if !integration.HasInstance(instanceID) {
			return entities.NewValidationError(entities.CodeMalformedCredentials, "instance %s is not bound to this integration", instanceID)
		}
	}
	if len(creds.WhatsAppInstanceIDs) > 0 {
		creds.WhatsAppInstanceIDs = integration.Credentials.WhatsAppInstanceIDs
		tokens := maps.Clone(integration.Credentials.WhatsAppTokens)
		if tokens == nil {
			tokens = map[string]string{}
		}
		maps.Copy(tokens, creds.WhatsAppTokens)
		creds.WhatsAppTokens = tokens
	}
	if err := p.integrations.UpdateCredentials(ctx, integration.ID, creds); err != nil {
		return entities.NewPersistenceError(err, "update credentials")
	}
	if old := integration.Credentials.TelegramBotToken; p.tokens != nil && old != "" && old != creds.TelegramBotToken {
		p.tokens.Forget(old)
	}
	p.log.Info().Str("integration_id", integration.ID).Msg("credentials rotated")
	return nil
}

func (p *Provisioner) createRemote(ctx context.Context, integration *entities.Integration, props map[string]any) error {
	if p.aggregator == nil {
		return entities.ErrNotConfigured
	}
	remote := maps.Clone(props)
	remote["type"] = integration.Kind
	delete(remote, "displayName")

	aggregatorID, err := p.aggregator.CreateIntegration(ctx, remote)
	if err != nil {
		p.log.Error().Err(err).Str("kind", integration.Kind).Msg("create aggregator integration")
		if entities.KindOf(err) == entities.KindNotConfigured {
			return err
		}
		return entities.NewUpstreamError(err, "create %s integration", integration.Kind)
	}
	err = p.integrations.SetAggregatorID(ctx, integration.ID, aggregatorID)
	if err != nil {
		p.log.Warn().Err(err).Str("integration_id", integration.ID).Msg("store aggregator integration id, retrying")
		err = p.integrations.SetAggregatorID(ctx, integration.ID, aggregatorID)
	}
	if err != nil {
		p.log.Error().Err(err).
			Str("integration_id", integration.ID).
			Str("erxes_api_id", integration.ErxesAPIID).
			Str("aggregator_integration_id", aggregatorID).
			Msg("aggregator integration orphaned; remove it on the aggregator side")
		return entities.NewPersistenceError(err, "store aggregator integration id")
	}
	integration.AggregatorIntegrationID = aggregatorID
	return nil
}

func (p *Provisioner) connectDevices(ctx context.Context, integration *entities.Integration) error {
	if p.devices == nil {
		return entities.ErrNotConfigured
	}
	for i, instanceID := range integration.Credentials.WhatsAppInstanceIDs {
		if err := p.devices.Connect(ctx, instanceID); err != nil {
			for _, started := range integration.Credentials.WhatsAppInstanceIDs[:i] {
				p.devices.Disconnect(started)
			}
			p.log.Error().Err(err).Str("instance_id", instanceID).Msg("connect device")
			return entities.NewUpstreamError(err, "connect device %s", instanceID)
		}
	}
	return nil
}

// compensate runs on a fresh context so a cancelled request still cleans up.
func (p *Provisioner) compensate(integration *entities.Integration) {
	if err := p.integrations.Delete(context.Background(), integration.ID); err != nil {
		p.log.Error().Err(err).Str("integration_id", integration.ID).Msg("delete integration after failed provisioning")
	}
}

func parseProps(data string) (map[string]any, error) {
	var props map[string]any
	if err := json.Unmarshal([]byte(data), &props); err != nil || props == nil {
		return nil, entities.NewValidationError(entities.CodeMalformedCredentials, "data must be a JSON object")
	}
	return props, nil
}
