package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/entities"
	"chatrelay/internal/infrastructure"
	"chatrelay/internal/interfaces"
	httpapi "chatrelay/internal/interfaces/http"
	"chatrelay/internal/repository"
	"chatrelay/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Error loading .env file:", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(1)
	}
	logger := infrastructure.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("chatrelay stopped")
	}
}

// stores is the persistence wiring for one storage driver.
type stores struct {
	integrations interfaces.IntegrationStore
	configs      infrastructure.ConfigSource
	models       func(ctx context.Context, kind string) (usecases.ModelSet, error)
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		return &stores{
			integrations: repository.NewMemoryIntegrationRepository(),
			configs:      repository.NewMemoryConfigRepository(),
			models: func(context.Context, string) (usecases.ModelSet, error) {
				return usecases.ModelSet{
					Customers:     repository.NewMemoryCustomerRepository(),
					Conversations: repository.NewMemoryConversationRepository(),
					Messages:      repository.NewMemoryMessageRepository(),
				}, nil
			},
			close: func() {},
		}, nil
	}

	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	tableManager := repository.NewTableManager(pgClient.Pool)
	return &stores{
		integrations: repository.NewIntegrationRepository(pgClient.Pool),
		configs:      repository.NewConfigRepository(pgClient.Pool),
		models: func(ctx context.Context, kind string) (usecases.ModelSet, error) {
			if _, err := tableManager.EnsureKindTables(ctx, kind); err != nil {
				return usecases.ModelSet{}, err
			}
			return usecases.ModelSet{
				Customers:     repository.NewCustomerRepository(pgClient.Pool, kind),
				Conversations: repository.NewConversationRepository(pgClient.Pool, kind),
				Messages:      repository.NewMessageRepository(pgClient.Pool, kind),
			}, nil
		},
		close: pgClient.Close,
	}, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (interfaces.EventPublisher, error) {
	if cfg.RabbitMQURL == "" {
		logger.Warn().Msg("RABBITMQ_URL not set; main API notifications disabled")
		return infrastructure.NewFallbackPublisher(logger), nil
	}
	return infrastructure.NewRabbitPublisher(ctx, infrastructure.BrokerOptions{
		URL:           cfg.RabbitMQURL,
		Exchange:      cfg.RabbitMQExchange,
		RetryAttempts: 5,
		Delay:         time.Second,
	}, logger)
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	smooch := infrastructure.NewSmoochClient(infrastructure.SmoochSettings{
		KeyID:   cfg.SmoochAppKeyID,
		Secret:  cfg.SmoochAppKeySecret,
		AppID:   cfg.SmoochAppID,
		BaseURL: cfg.SmoochAPIURL,
	}, st.configs, httpClient, logger)
	smooch.Start(ctx)

	chatAPI := infrastructure.NewChatAPIClient(cfg.ChatAPIURL, httpClient)
	telegram := infrastructure.NewTelegramBotManager(cfg.TelegramAPIEndpoint, httpClient)

	devices, err := infrastructure.NewWhatsAppManager(cfg.WhatsAppDeviceDir, logger)
	if err != nil {
		return err
	}
	defer devices.DisconnectAll()

	registry := usecases.NewRegistry()
	for _, variant := range usecases.DefaultVariants() {
		models, err := st.models(ctx, variant.Kind())
		if err != nil {
			return fmt.Errorf("prepare %s tables: %w", variant.Kind(), err)
		}
		var sender interfaces.Sender
		switch variant.Transport() {
		case usecases.TransportAggregator:
			sender = smooch
		case usecases.TransportDirect:
			sender = chatAPI
		case usecases.TransportDevice:
			sender = devices
		}
		registry.MustRegister(usecases.Platform{
			Kind:    variant.Kind(),
			Models:  models,
			Variant: variant,
			Sender:  infrastructure.NewThrottledSender(sender, cfg.SendRateLimit, cfg.SendRateBurst),
		})
	}

	recorder := usecases.NewMessageRecorder(publisher, logger)
	inbound := usecases.NewInboundNormalizer(
		registry,
		st.integrations,
		usecases.NewCustomerResolver(telegram, logger),
		usecases.NewConversationManager(logger),
		recorder,
		logger,
	)
	replies := usecases.NewReplyDispatcher(registry, st.integrations, recorder, logger)
	provisioner := usecases.NewProvisioner(registry, st.integrations, smooch, devices, telegram, logger)

	devices.Inbound = func(ctx context.Context, batch entities.InboundBatch) {
		res := inbound.Process(ctx, batch)
		if res.State == usecases.StateFailedNonFatal {
			logger.Error().Errs("failures", res.Failures).Msg("device message not fully processed")
		}
	}
	if ids, err := devices.StoredInstances(); err != nil {
		logger.Warn().Err(err).Msg("list stored device sessions")
	} else {
		devices.Restore(ctx, ids)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpapi.RequestLogger(logger))
	httpapi.SetupRoutes(r, httpapi.Deps{
		Inbound:      inbound,
		Replies:      replies,
		Provisioner:  provisioner,
		Devices:      devices,
		Middleware:   httpapi.NewMiddleware(cfg.ServiceJWTSecret, cfg.WebhookSecretHash, rate.Limit(cfg.ReplyRateLimit), cfg.ReplyRateBurst),
		MaxBodyBytes: cfg.MaxBodyBytes,
		Log:          logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Strs("kinds", registry.Kinds()).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
