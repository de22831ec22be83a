package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const eventProducer = "chatrelay"

// EventMeta describes one published event.
type EventMeta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventEnvelope is the body of every message sent to the main API.
type EventEnvelope struct {
	Meta EventMeta `json:"meta"`
	Data any       `json:"data"`
}

// NewEventEnvelope wraps data with fresh metadata.
func NewEventEnvelope(eventType string, data any) EventEnvelope {
	return EventEnvelope{
		Meta: EventMeta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Time:     time.Now().UTC(),
			Producer: eventProducer,
		},
		Data: data,
	}
}

// brokerConn is the part of *amqp091.Connection the publisher relies on.
type brokerConn interface {
	Channel() (*amqp091.Channel, error)
	NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error
	Close() error
}

// RabbitPublisher publishes events to a topic exchange, routed by event type.
// A dropped connection is redialed in the background; publishes in between fail.
type RabbitPublisher struct {
	mu             sync.RWMutex
	conn           brokerConn
	dial           func(ctx context.Context) (brokerConn, error)
	exchange       string
	reconnectDelay time.Duration
	done           chan struct{}
	closeOnce      sync.Once
	log            zerolog.Logger
}

// BrokerOptions controls the connection attempts.
type BrokerOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

const maxDialDelay = 60 * time.Second

// NewRabbitPublisher connects, declares the exchange and keeps the connection
// alive until Close or ctx ends.
func NewRabbitPublisher(ctx context.Context, opts BrokerOptions, log zerolog.Logger) (*RabbitPublisher, error) {
	log = log.With().Str("component", "broker").Logger()
	dial := func(ctx context.Context) (brokerConn, error) {
		conn, err := dialWithRetry(ctx, opts, log)
		if err != nil {
			return nil, err
		}
		if err := declareExchange(conn, opts.Exchange); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
	return newRabbitPublisher(ctx, opts.Exchange, opts.Delay, dial, log)
}

func newRabbitPublisher(ctx context.Context, exchange string, delay time.Duration, dial func(context.Context) (brokerConn, error), log zerolog.Logger) (*RabbitPublisher, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = time.Second
	}
	p := &RabbitPublisher{
		conn:           conn,
		dial:           dial,
		exchange:       exchange,
		reconnectDelay: delay,
		done:           make(chan struct{}),
		log:            log,
	}
	go p.watch(ctx, conn)
	return p, nil
}

func declareExchange(conn *amqp091.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// watch redials whenever the current connection closes.
func (r *RabbitPublisher) watch(ctx context.Context, conn brokerConn) {
	for {
		closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case amqpErr := <-closed:
			select {
			case <-r.done:
				return
			default:
			}
			r.log.Error().Interface("reason", amqpErr).Msg("rabbit connection closed, reconnecting")
		}

		next, ok := r.redial(ctx)
		if !ok {
			return
		}
		conn = next
	}
}

func (r *RabbitPublisher) redial(ctx context.Context) (brokerConn, bool) {
	delay := r.reconnectDelay
	for {
		conn, err := r.dial(ctx)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			select {
			case <-r.done:
				conn.Close()
				return nil, false
			default:
			}
			r.log.Info().Msg("rabbit reconnected")
			return conn, true
		}
		r.log.Warn().Err(err).Dur("retry_in", delay).Msg("rabbit reconnect failed")

		timer := time.NewTimer(delay)
		select {
		case <-r.done:
			timer.Stop()
			return nil, false
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}
}

func (r *RabbitPublisher) current() brokerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// dialWithRetry backs off exponentially between attempts, up to maxDialDelay.
func dialWithRetry(ctx context.Context, opts BrokerOptions, log zerolog.Logger) (*amqp091.Connection, error) {
	attempts := max(opts.RetryAttempts, 1)
	delay := opts.Delay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info().Int("attempt", i).Msg("rabbit connected")
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := min(delay*time.Duration(1<<(i-1)), maxDialDelay)
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("rabbit dial failed")
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// Publish sends data under eventType and waits for the broker to confirm it.
func (r *RabbitPublisher) Publish(ctx context.Context, eventType string, data any) error {
	ch, err := r.current().Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	env := NewEventEnvelope(eventType, data)
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, eventType, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: uuid.NewString(),
			Timestamp:     env.Meta.Time,
			Body:          body,
		},
	)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked event %s", env.Meta.ID)
	}
	r.log.Debug().Str("key", eventType).Str("exchange", r.exchange).Msg("published")
	return nil
}

func (r *RabbitPublisher) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return r.current().Close()
}

// FallbackPublisher drops events; used when no broker is configured.
type FallbackPublisher struct {
	log zerolog.Logger
}

func NewFallbackPublisher(log zerolog.Logger) *FallbackPublisher {
	return &FallbackPublisher{log: log.With().Str("component", "broker").Logger()}
}

func (p *FallbackPublisher) Publish(_ context.Context, eventType string, _ any) error {
	p.log.Debug().Str("key", eventType).Msg("no broker configured; skipped publish")
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
