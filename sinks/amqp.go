package sinks

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	ua "github.com/panyam/userauth"
)

// Publisher sends one message body to a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error
}

// message is the wire shape of a published event. The password hash never
// leaves the process.
type message struct {
	Kind     string         `json:"kind"`
	At       time.Time      `json:"at"`
	UserID   string         `json:"user_id,omitempty"`
	Username string         `json:"username,omitempty"`
	Email    string         `json:"email,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// outgoing is an encoded event waiting for the publisher
type outgoing struct {
	key     string
	body    []byte
	headers map[string]string
}

// AMQPSink publishes events as JSON from a background worker, retrying
// transient failures with exponential backoff. HandleEvent only encodes and
// enqueues, so a slow or unreachable broker never stalls the operation that
// emitted the event. When the queue is full the event is dropped.
type AMQPSink struct {
	pub          Publisher
	prefix       string
	maxRetries   uint64
	backoff      time.Duration
	queueSize    int
	drainTimeout time.Duration
	logger       *slog.Logger

	queue   chan outgoing
	closing chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// AMQPOption tunes an AMQPSink
type AMQPOption func(*AMQPSink)

// WithRetry overrides the retry budget
func WithRetry(maxRetries uint64, base time.Duration) AMQPOption {
	return func(s *AMQPSink) {
		s.maxRetries = maxRetries
		s.backoff = base
	}
}

// WithQueueSize bounds how many events may wait for the publisher
func WithQueueSize(n int) AMQPOption {
	return func(s *AMQPSink) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDrainTimeout bounds how long Close keeps publishing queued events
func WithDrainTimeout(d time.Duration) AMQPOption {
	return func(s *AMQPSink) { s.drainTimeout = d }
}

// WithLogger sets the logger for dropped and undeliverable events
func WithLogger(l *slog.Logger) AMQPOption {
	return func(s *AMQPSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAMQPSink publishes to "<prefix>.<event kind>" and starts the worker.
// Call Close to stop it.
func NewAMQPSink(pub Publisher, prefix string, opts ...AMQPOption) *AMQPSink {
	if prefix == "" {
		prefix = "userauth"
	}
	s := &AMQPSink{
		pub:          pub,
		prefix:       prefix,
		maxRetries:   3,
		backoff:      100 * time.Millisecond,
		queueSize:    256,
		drainTimeout: 5 * time.Second,
		logger:       slog.Default(),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.queue = make(chan outgoing, s.queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s
}

func (s *AMQPSink) encode(ev ua.Event) (outgoing, error) {
	msg := message{Kind: ev.Kind.String(), At: ev.At, Context: ev.Context}
	if ev.User != nil {
		msg.UserID = ev.User.ID
		msg.Username = ev.User.Username
		msg.Email = ev.User.Email
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return outgoing{}, oops.Code("EVENT_ENCODE_FAILED").With("kind", msg.Kind).Wrap(err)
	}
	return outgoing{
		key:     s.prefix + "." + msg.Kind,
		body:    body,
		headers: map[string]string{"event": msg.Kind},
	}, nil
}

// HandleEvent enqueues ev for the worker without waiting on the broker
func (s *AMQPSink) HandleEvent(_ context.Context, ev ua.Event) error {
	out, err := s.encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-s.closing:
		return oops.Code("EVENT_SINK_CLOSED").With("kind", ev.Kind.String()).Errorf("amqp sink is closed")
	default:
	}
	select {
	case s.queue <- out:
		return nil
	default:
		return oops.Code("EVENT_QUEUE_FULL").
			With("kind", ev.Kind.String()).
			With("capacity", s.queueSize).
			Errorf("amqp event queue is full, event dropped")
	}
}

// Publish encodes and sends ev on the caller's goroutine, retrying until the
// budget or ctx runs out
func (s *AMQPSink) Publish(ctx context.Context, ev ua.Event) error {
	out, err := s.encode(ev)
	if err != nil {
		return err
	}
	return s.send(ctx, out)
}

func (s *AMQPSink) send(ctx context.Context, out outgoing) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.pub.Publish(ctx, out.key, out.body, out.headers); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("EVENT_PUBLISH_FAILED").With("routing_key", out.key).Wrap(err)
	}
	return nil
}

func (s *AMQPSink) deliver(out outgoing) {
	if err := s.send(s.ctx, out); err != nil {
		s.logger.Error("event not published", "routing_key", out.key, "error", err)
	}
}

func (s *AMQPSink) run() {
	defer close(s.done)
	for {
		select {
		case out := <-s.queue:
			s.deliver(out)
		case <-s.closing:
			for {
				select {
				case out := <-s.queue:
					s.deliver(out)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting events and publishes what is queued. Delivery still
// pending after the drain timeout is abandoned.
func (s *AMQPSink) Close() error {
	s.once.Do(func() {
		close(s.closing)
		timer := time.NewTimer(s.drainTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			if n := len(s.queue); n > 0 {
				s.logger.Warn("amqp sink closed with undelivered events", "count", n)
			}
			s.cancel()
			<-s.done
		}
		s.cancel()
	})
	return nil
}

// AMQPConfig configures the RabbitMQ publisher
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Prefix   string `mapstructure:"prefix"`
}

// RabbitMQPublisher publishes to a topic exchange over one channel
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQPublisher dials cfg.URL and declares a durable topic exchange
func NewRabbitMQPublisher(cfg AMQPConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, oops.Code(ua.CodeValidation).Wrapf(ua.ErrValidation, "amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "userauth.events"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, oops.Code("AMQP_DIAL_FAILED").Wrap(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("AMQP_CHANNEL_FAILED").Wrap(err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, oops.Code("AMQP_EXCHANGE_FAILED").With("exchange", exchange).Wrap(err)
	}
	return &RabbitMQPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ua.NewID(),
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
