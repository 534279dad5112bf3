package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/strata"
	"github.com/syssam/strata/log"
)

// Publisher delivers a message to its topic. Errors wrapped with Permanent
// are not retried.
type Publisher interface {
	Publish(ctx context.Context, m *Message) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(context.Context, *Message) error

// Publish calls f(ctx, m).
func (f PublisherFunc) Publish(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 8
	defaultMaxAttempts  = 10
	defaultRetryBase    = time.Second
	defaultRetryMax     = 5 * time.Minute
	defaultLease        = time.Minute
	defaultOrphanGrace  = 5 * time.Minute
	tracerName          = "github.com/syssam/strata/outbox"
)

// RelayConfig controls polling, retries and concurrency of a Relay.
type RelayConfig struct {
	// PollInterval is the time between two delivery rounds.
	PollInterval time.Duration
	// BatchSize is the maximum number of messages delivered per round.
	BatchSize int
	// Concurrency bounds the publishes in flight.
	Concurrency int
	// MaxAttempts is the number of delivery attempts before a message is
	// marked failed.
	MaxAttempts int
	// RetryBase and RetryMax bound the exponential backoff between attempts.
	RetryBase time.Duration
	RetryMax  time.Duration
	// Lease is how long a claimed message is reserved for one relay.
	Lease time.Duration
	// OrphanGrace is the age after which messages never marked eligible
	// are promoted.
	OrphanGrace time.Duration
}

// DefaultRelayConfig returns the baseline configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		Concurrency:  defaultConcurrency,
		MaxAttempts:  defaultMaxAttempts,
		RetryBase:    defaultRetryBase,
		RetryMax:     defaultRetryMax,
		Lease:        defaultLease,
		OrphanGrace:  defaultOrphanGrace,
	}
}

func (cfg *RelayConfig) normalize() {
	d := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = d.RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = max(d.RetryMax, cfg.RetryBase)
	}
	if cfg.Lease <= 0 {
		cfg.Lease = d.Lease
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = d.OrphanGrace
	}
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithConfig sets the relay configuration. Zero fields take their defaults.
func WithConfig(cfg RelayConfig) RelayOption {
	return func(r *Relay) { r.cfg = cfg }
}

// WithLogger sets the relay logger.
func WithLogger(l log.Logger) RelayOption {
	return func(r *Relay) { r.logger = log.OrNop(l) }
}

// WithTracerProvider sets the provider of the relay tracer. It defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) RelayOption {
	return func(r *Relay) { r.tracer = tp.Tracer(tracerName) }
}

// WithBreakerSettings sets the settings of the circuit breaker guarding
// the publisher.
func WithBreakerSettings(st gobreaker.Settings) RelayOption {
	return func(r *Relay) { r.breakerSettings = &st }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

// WithJitter sets the function randomizing retry delays. It defaults to
// full jitter, a uniform delay in [0, d).
func WithJitter(fn func(d time.Duration) time.Duration) RelayOption {
	return func(r *Relay) { r.jitter = fn }
}

// RoundResult counts the outcomes of one delivery round.
type RoundResult struct {
	Promoted int64
	Listed   int
	Sent     int
	Retried  int
	Failed   int
	// Skipped messages were claimed by another relay or rejected by the
	// open circuit breaker.
	Skipped int
}

// Relay delivers eligible messages. Several relays may poll the same store;
// leases keep them from publishing the same message concurrently.
type Relay struct {
	store           Store
	publisher       Publisher
	cfg             RelayConfig
	logger          log.Logger
	tracer          trace.Tracer
	breakerSettings *gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
	now             func() time.Time
	jitter          func(time.Duration) time.Duration

	mu      sync.Mutex
	running bool
}

// NewRelay returns a relay publishing the messages of store.
func NewRelay(store Store, p Publisher, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if p == nil {
		return nil, ErrPublisherRequired
	}
	r := &Relay{
		store:     store,
		publisher: p,
		cfg:       DefaultRelayConfig(),
		logger:    log.NewNop(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		now:       time.Now,
		jitter:    fullJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg.normalize()
	st := gobreaker.Settings{
		Name:    "outbox-publisher",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	}
	if r.breakerSettings != nil {
		st = *r.breakerSettings
	}
	// Permanent errors are the message's fault, not the broker's.
	isSuccessful := st.IsSuccessful
	st.IsSuccessful = func(err error) bool {
		if err == nil || IsPermanent(err) {
			return true
		}
		return isSuccessful != nil && isSuccessful(err)
	}
	onChange := st.OnStateChange
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		r.logger.Log(context.Background(), log.LevelWarn, "outbox publisher circuit breaker state changed",
			log.String("breaker", name), log.String("from", from.String()), log.String("to", to.String()))
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	r.breaker = gobreaker.NewCircuitBreaker(st)
	return r, nil
}

// Run delivers messages every poll interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRelayRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Log(ctx, log.LevelInfo, "outbox relay started",
		log.Duration("poll_interval", r.cfg.PollInterval), log.Int("batch_size", r.cfg.BatchSize))
	defer r.logger.Log(context.Background(), log.LevelInfo, "outbox relay stopped")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Log(ctx, log.LevelError, "outbox delivery round failed", log.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs one delivery round: it promotes orphans, then claims and
// publishes up to BatchSize deliverable messages.
func (r *Relay) RunOnce(ctx context.Context) (res RoundResult, err error) {
	ctx, span := r.tracer.Start(ctx, "outbox.relay.round")
	defer func() {
		span.SetAttributes(
			attribute.Int64("outbox.promoted", res.Promoted),
			attribute.Int("outbox.sent", res.Sent),
			attribute.Int("outbox.retried", res.Retried),
			attribute.Int("outbox.failed", res.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery round failed")
		}
		span.End()
	}()

	now := r.now()
	if res.Promoted, err = r.store.PromoteOrphans(ctx, now.Add(-r.cfg.OrphanGrace)); err != nil {
		return res, err
	}
	if res.Promoted > 0 {
		r.logger.Log(ctx, log.LevelWarn, "outbox orphans promoted", log.Int64("messages", res.Promoted))
	}
	msgs, err := r.store.ListDeliverable(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	res.Listed = len(msgs)

	// A store error on one message must not cancel the publishes of the
	// others, so the group has no shared context and errors are collected.
	var (
		sent, retried, failed, skipped atomic.Int64
		g                              errgroup.Group
		mu                             sync.Mutex
		errs                           []error
	)
	g.SetLimit(r.cfg.Concurrency)
	for _, m := range msgs {
		g.Go(func() error {
			out, err := r.deliver(ctx, m)
			switch out {
			case outcomeSent:
				sent.Add(1)
			case outcomeRetried:
				retried.Add(1)
			case outcomeFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("message %s: %w", m.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Sent, res.Retried, res.Failed, res.Skipped = int(sent.Load()), int(retried.Load()), int(failed.Load()), int(skipped.Load())
	return res, strata.NewAggregateError(errs...)
}

type outcome uint8

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
)

// deliver publishes one message. Only store errors are returned; publish
// errors are recorded on the message.
func (r *Relay) deliver(ctx context.Context, m *Message) (outcome, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.relay.deliver", trace.WithAttributes(
		attribute.String("outbox.message_id", m.ID),
		attribute.String("outbox.topic", m.Topic),
		attribute.String("outbox.target", m.Service+"."+m.Function),
		attribute.Int("outbox.retry_count", m.RetryCount),
	))
	defer span.End()

	now := r.now()
	ok, err := r.store.Claim(ctx, m.ID, now, now.Add(r.cfg.Lease))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return outcomeSkipped, err
	}
	if !ok {
		return outcomeSkipped, nil
	}

	_, perr := r.breaker.Execute(func() (any, error) {
		return nil, r.publisher.Publish(ctx, m)
	})
	fields := []log.Field{log.String("message_id", m.ID), log.String("target", m.Target().String())}
	if perr == nil {
		if err := r.store.MarkSent(ctx, m.ID, r.now()); err != nil {
			// Published but not recorded: the message is delivered again
			// once its lease expires.
			r.logger.Log(ctx, log.LevelError, "outbox message published but not marked sent", append(fields, log.Err(err))...)
			span.RecordError(err)
			return outcomeSent, err
		}
		r.logger.Log(ctx, log.LevelDebug, "outbox message sent", fields...)
		return outcomeSent, nil
	}

	span.RecordError(perr)
	span.SetStatus(codes.Error, "publish failed")
	if errors.Is(perr, gobreaker.ErrOpenState) || errors.Is(perr, gobreaker.ErrTooManyRequests) {
		return outcomeSkipped, nil
	}
	attempts := m.RetryCount + 1
	fields = append(fields, log.Int("attempts", attempts), log.Err(perr))
	if IsPermanent(perr) || attempts >= r.cfg.MaxAttempts {
		if err := r.store.MarkFailed(ctx, m.ID, attempts, perr.Error()); err != nil {
			return outcomeFailed, fmt.Errorf("outbox: %w", err)
		}
		r.logger.Log(ctx, log.LevelError, "outbox message failed", fields...)
		return outcomeFailed, nil
	}
	next := r.now().Add(r.jitter(exponential(r.cfg.RetryBase, r.cfg.RetryMax, m.RetryCount)))
	if err := r.store.MarkRetry(ctx, m.ID, attempts, next, perr.Error()); err != nil {
		return outcomeRetried, fmt.Errorf("outbox: %w", err)
	}
	r.logger.Log(ctx, log.LevelWarn, "outbox message publish failed, retrying", append(fields, log.Any("next_attempt_at", next))...)
	return outcomeRetried, nil
}
