package events

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outbox is the durable queue the relay drains.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Publisher delivers events to consumers.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Relay forwards outbox entries to a publisher. Delivery is at least once:
// entries are marked only after the publisher accepted them.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(outbox Outbox, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  2 * time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush publishes pending entries until the outbox is empty and returns how
// many were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := r.outbox.Pending(ctx, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := r.publisher.Publish(ctx, batch); err != nil {
			return total, err
		}
		ids := make([]uuid.UUID, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := r.outbox.MarkPublished(ctx, ids); err != nil {
			return total, err
		}
		total += len(batch)
		if len(batch) < r.batchSize {
			return total, nil
		}
	}
}

// Run flushes on every tick until ctx is cancelled, then drains once more.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			n, err := r.Flush(drainCtx)
			if err != nil {
				r.logger.Error("final outbox drain failed", "error", err, "published", n)
				return err
			}
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("outbox flush failed", "error", err, "published", n)
				continue
			}
			if n > 0 {
				r.logger.Debug("outbox flushed", "published", n)
			}
		}
	}
}

// Bus is an in-memory publisher with synchronous subscribers.
type Bus struct {
	mu          sync.Mutex
	published   []Event
	subscribers []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every later event.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

func (b *Bus) Publish(_ context.Context, events []Event) error {
	b.mu.Lock()
	b.published = append(b.published, events...)
	subs := slices.Clone(b.subscribers)
	b.mu.Unlock()
	for _, e := range events {
		for _, fn := range subs {
			fn(e)
		}
	}
	return nil
}

// Published returns a copy of every event seen so far.
func (b *Bus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.published...)
}

// OfType filters Published by type.
func (b *Bus) OfType(t Type) []Event {
	var out []Event
	for _, e := range b.Published() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
