package policy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Provider publishes policy snapshots with copy-on-write semantics. Current is
// a single atomic load; Publish swaps in a new snapshot and never mutates the
// previous one, so an evaluation holding a snapshot sees one consistent policy.
type Provider struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex // serializes publishes and subscriber bookkeeping
	subscribers map[int]func(*Snapshot)
	nextSubID   int

	logger *slog.Logger
	clock  func() time.Time
}

type ProviderOption func(*Provider)

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClock overrides the time source used to stamp published snapshots.
func WithClock(clock func() time.Time) ProviderOption {
	return func(p *Provider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewProvider compiles and publishes initial as version 1.
func NewProvider(initial *Document, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		subscribers: make(map[int]func(*Snapshot)),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := p.Publish(context.Background(), initial); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the latest published snapshot.
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Publish validates doc, assigns the next version and swaps the snapshot in.
// An invalid document leaves the current snapshot untouched and returns an
// error with CodeInvalidPolicy. Subscribers run after the swap, in publish order.
func (p *Provider) Publish(ctx context.Context, doc *Document) (*Snapshot, error) {
	snap, err := Compile(doc)
	if err != nil {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "policy_rejected", "error", err)
		}
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var version int64 = 1
	if prev := p.current.Load(); prev != nil {
		version = prev.Version + 1
	}
	snap.Version = version
	snap.PublishedAt = p.clock()
	p.current.Store(snap)

	if p.logger != nil {
		p.logger.InfoContext(ctx, "policy_published",
			"version", snap.Version,
			"name", snap.Name,
			"rules", snap.Rules().Len(),
			"operations", len(snap.operations),
		)
	}
	for _, fn := range p.subscribers {
		fn(snap)
	}
	return snap, nil
}

// Subscribe registers fn to be called with every newly published snapshot.
// fn must not call Publish. The returned function removes the subscription.
func (p *Provider) Subscribe(fn func(*Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}
