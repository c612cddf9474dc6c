package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/metrics"
)

type memoryStore struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
	block  chan struct{}
}

func (s *memoryStore) Append(_ context.Context, event audit.Event) error {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) list() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func TestPublisher_EmitStoresEvent(t *testing.T) {
	store := &memoryStore{}
	pub := NewPublisher(store)

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventLockoutBlocked)})
	require.NoError(t, err)

	events := store.list()
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventLockoutBlocked), events[0].Action)
}

func TestPublisher_Timestamps(t *testing.T) {
	store := &memoryStore{}
	pub := NewPublisher(store)

	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: "a"}))
	after := time.Now()

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: "b", Timestamp: custom}))

	events := store.list()
	require.Len(t, events, 2)
	assert.True(t, !events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.True(t, !events[0].Timestamp.After(after), "timestamp should be <= after")
	assert.Equal(t, custom, events[1].Timestamp)
}

func TestPublisher_EmitReturnsError(t *testing.T) {
	storeErr := errors.New("append failed")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := NewPublisher(&memoryStore{err: storeErr}, WithMetrics(m))

	err := pub.Emit(context.Background(), audit.Event{Action: "a"})
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := &memoryStore{}
	pub := NewPublisher(store, WithAsyncBuffer(16))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: "a"}))
	}
	pub.Close()
	pub.Close()

	assert.Len(t, store.list(), 10)
}

func TestPublisher_AsyncDropsWhenFull(t *testing.T) {
	store := &memoryStore{block: make(chan struct{})}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := NewPublisher(store, WithAsyncBuffer(1), WithMetrics(m))

	// The worker takes the first event and blocks in Append; the second
	// fills the buffer; the third has nowhere to go.
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: "1"}))
	require.Eventually(t, func() bool {
		return len(pub.events) == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: "2"}))

	err := pub.Emit(context.Background(), audit.Event{Action: "3"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))

	close(store.block)
	pub.Close()
	assert.Len(t, store.list(), 2)
}
