package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis publisher defaults.
const (
	defaultStatusPrefix   = "promptexec:circuit:"
	defaultPublishTimeout = 2 * time.Second
)

// ErrStatusNotFound is returned by Load when no status was published for a tier.
var ErrStatusNotFound = errors.New("circuit status not found")

// RedisPublisher mirrors breaker transitions into Redis hashes so that external
// monitoring can read tier health without calling into the process. Writes
// happen on a background goroutine. OnStateChange never blocks: it records
// the newest status per tier, replacing any not yet written, so a burst of
// transitions collapses into one write of the latest state.
type RedisPublisher struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]Status
	// written holds the version last handed to Redis per tier.
	written map[string]uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// PublisherOption configures a RedisPublisher.
type PublisherOption func(*RedisPublisher)

// WithKeyPrefix sets the hash key prefix. The tier name is appended.
func WithKeyPrefix(prefix string) PublisherOption {
	return func(p *RedisPublisher) { p.prefix = prefix }
}

// WithStatusTTL expires published hashes after ttl. Zero keeps them forever.
func WithStatusTTL(ttl time.Duration) PublisherOption {
	return func(p *RedisPublisher) { p.ttl = ttl }
}

// WithPublisherLogger sets the logger for publish failures.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *RedisPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewRedisPublisher starts a publisher writing through client. Call Close to
// flush pending updates and stop the background goroutine.
func NewRedisPublisher(client redis.UniversalClient, opts ...PublisherOption) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		prefix:  defaultStatusPrefix,
		timeout: defaultPublishTimeout,
		logger:  slog.Default().With("component", "circuit_status"),
		pending: make(map[string]Status),
		written: make(map[string]uint64),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// OnStateChange implements Observer. Statuses older than one already pending
// or written for the tier are ignored.
func (p *RedisPublisher) OnStateChange(tier string, _, _ State, status Status) {
	select {
	case <-p.done:
		return
	default:
	}

	p.mu.Lock()
	if prev, ok := p.pending[tier]; ok && prev.Version > status.Version {
		p.mu.Unlock()
		return
	}
	if v, ok := p.written[tier]; ok && v > status.Version {
		p.mu.Unlock()
		return
	}
	p.pending[tier] = status
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Key returns the Redis key holding tier's status.
func (p *RedisPublisher) Key(tier string) string { return p.prefix + tier }

// Publish writes status for tier synchronously.
func (p *RedisPublisher) Publish(ctx context.Context, tier string, status Status) error {
	openedAt := ""
	if !status.OpenedAt.IsZero() {
		openedAt = status.OpenedAt.UTC().Format(time.RFC3339Nano)
	}

	key := p.Key(tier)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", status.State.String(),
		"failure_count", status.FailureCount,
		"opened_at", openedAt,
		"version", strconv.FormatUint(status.Version, 10),
	)
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish circuit status for %s: %w", tier, err)
	}
	return nil
}

// PublishAll writes every status in statuses, returning the first error.
func (p *RedisPublisher) PublishAll(ctx context.Context, statuses map[string]Status) error {
	var errs []error
	for tier, st := range statuses {
		if err := p.Publish(ctx, tier, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load reads a published status back.
func (p *RedisPublisher) Load(ctx context.Context, tier string) (Status, error) {
	fields, err := p.client.HGetAll(ctx, p.Key(tier)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("load circuit status for %s: %w", tier, err)
	}
	if len(fields) == 0 {
		return Status{}, fmt.Errorf("%w: %s", ErrStatusNotFound, tier)
	}

	var st Status
	if err := st.State.UnmarshalText([]byte(fields["state"])); err != nil {
		return Status{}, err
	}
	if st.FailureCount, err = strconv.Atoi(fields["failure_count"]); err != nil {
		return Status{}, fmt.Errorf("parse failure_count for %s: %w", tier, err)
	}
	if v := fields["version"]; v != "" {
		if st.Version, err = strconv.ParseUint(v, 10, 64); err != nil {
			return Status{}, fmt.Errorf("parse version for %s: %w", tier, err)
		}
	}
	if v := fields["opened_at"]; v != "" {
		if st.OpenedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Status{}, fmt.Errorf("parse opened_at for %s: %w", tier, err)
		}
	}
	return st, nil
}

// Close stops accepting updates, writes pending ones and waits for the writer.
func (p *RedisPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.wake:
			p.writePending()
		case <-p.done:
			p.writePending()
			return
		}
	}
}

// writePending takes every pending status and writes it.
func (p *RedisPublisher) writePending() {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]Status, len(batch))
	for tier, st := range batch {
		p.written[tier] = st.Version
	}
	p.mu.Unlock()

	for tier, st := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.Publish(ctx, tier, st); err != nil {
			p.logger.Warn("circuit status publish failed", "tier", tier, "state", st.State.String(), "error", err)
		}
		cancel()
	}
}
