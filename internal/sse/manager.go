package sse

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
	domainerrors "github.com/listenupapp/livereload/internal/errors"
	"github.com/listenupapp/livereload/internal/id"
	"github.com/listenupapp/livereload/internal/metrics"
)

// broadcastBuffer is the capacity of the channel between Emit and the
// broadcast loop. It overflows the same way subscriber queues do.
const broadcastBuffer = 1000

// ErrShuttingDown is returned by Connect once Shutdown has started.
var ErrShuttingDown = domainerrors.Unavailable("server is shutting down")

// Source provides the watch-set for catch-up on connect.
type Source interface {
	Snapshot() domain.Snapshot
}

// Subscriber is one connected client. Its queue is bounded; when full the
// oldest queued event is discarded to make room.
type Subscriber struct {
	ID          string
	Session     id.Session
	ConnectedAt time.Time

	queue    chan domain.Event
	draining chan struct{}
	dropped  atomic.Uint64
	closeMu  sync.Once
}

// Events returns the subscriber's delivery queue.
func (s *Subscriber) Events() <-chan domain.Event { return s.queue }

// Draining is closed when the server is shutting down.
func (s *Subscriber) Draining() <-chan struct{} { return s.draining }

// Dropped returns how many events were discarded on overflow.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// offer enqueues ev, discarding the oldest queued events if the queue is full.
// Only the broadcast goroutine calls it.
func (s *Subscriber) offer(ev domain.Event) (dropped int) {
	for {
		select {
		case s.queue <- ev:
			return dropped
		default:
		}
		select {
		case <-s.queue:
			dropped++
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscriber) drain() {
	s.closeMu.Do(func() { close(s.draining) })
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	QueueSize int
	Source    Source
	Metrics   *metrics.Metrics
}

// Manager owns the subscriber table and the single broadcast loop.
type Manager struct {
	subscribers map[string]*Subscriber
	events      chan domain.Event
	queueSize   int
	source      Source
	metrics     *metrics.Metrics
	logger      *slog.Logger
	wg          sync.WaitGroup
	mu          sync.RWMutex

	// Shutdown state - protected by shutdownMu.
	shutdownMu sync.RWMutex
	shutdown   bool
	started    atomic.Bool

	// dropped counts events discarded before reaching any subscriber.
	dropped atomic.Uint64
}

// NewManager creates a new Manager.
func NewManager(logger *slog.Logger, opts ManagerOptions) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	return &Manager{
		subscribers: make(map[string]*Subscriber),
		events:      make(chan domain.Event, broadcastBuffer),
		queueSize:   opts.QueueSize,
		source:      opts.Source,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// Start runs the broadcast loop until ctx is cancelled or Shutdown closes
// the event channel. Call it once, in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()
	m.started.Store(true)

	m.logger.Info("subscriber manager starting", "queue_size", m.queueSize)

	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				m.drainAll()
				return
			}
			m.broadcast(ev)
		case <-ctx.Done():
			m.logger.Info("subscriber manager stopping")
			m.drainAll()
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is already queued, and
// tells every subscriber to drain.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return nil
	}
	m.shutdown = true
	close(m.events)
	m.shutdownMu.Unlock()

	if !m.started.Load() {
		for ev := range m.events {
			m.broadcast(ev)
		}
		m.drainAll()
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("subscriber manager shutdown complete")
		return nil
	case <-ctx.Done():
		m.logger.Warn("subscriber manager drain timed out")
		m.drainAll()
		return ctx.Err()
	}
}

// Emit queues an event for broadcast. It never blocks the caller: when the
// broadcast channel is full the oldest pending event is discarded. Events
// emitted after Shutdown are dropped.
func (m *Manager) Emit(ev domain.Event) {
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()

	if m.shutdown {
		return
	}

	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case old := <-m.events:
			m.dropped.Add(1)
			m.metrics.IncDropped()
			m.logger.Warn("broadcast channel full, dropped oldest event",
				slog.String("kind", string(old.Kind)),
				slog.String("path", old.Entry.RelativePath),
				slog.Uint64("total_dropped", m.dropped.Load()))
		default:
		}
	}
}

// Dropped returns how many events were discarded before broadcast.
func (m *Manager) Dropped() uint64 { return m.dropped.Load() }

func (m *Manager) broadcast(ev domain.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dropped int
	for _, sub := range m.subscribers {
		if n := sub.offer(ev); n > 0 {
			dropped += n
			for range n {
				m.metrics.IncDropped()
			}
			m.logger.Warn("subscriber queue full, dropped oldest event",
				slog.String("subscriber_id", sub.ID),
				slog.Uint64("total_dropped", sub.Dropped()))
		}
	}

	if ev.Kind != domain.EventPing {
		m.logger.Debug("event broadcast",
			slog.String("kind", string(ev.Kind)),
			slog.String("path", ev.Entry.RelativePath),
			slog.Group("stats",
				slog.Int("subscribers", len(m.subscribers)),
				slog.Int("dropped", dropped)))
	}
}

// Connect registers a subscriber for a client session.
func (m *Manager) Connect(session id.Session) (*Subscriber, error) {
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()
	if m.shutdown {
		return nil, ErrShuttingDown
	}

	subID, err := id.Generate(id.PrefixSubscriber)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:          subID,
		Session:     session,
		ConnectedAt: time.Now(),
		queue:       make(chan domain.Event, m.queueSize),
		draining:    make(chan struct{}),
	}

	m.mu.Lock()
	m.subscribers[sub.ID] = sub
	total := len(m.subscribers)
	m.mu.Unlock()

	m.metrics.SetSubscribers(total)
	m.logger.Info("subscriber connected",
		slog.String("subscriber_id", sub.ID),
		slog.String("session", session.String()),
		slog.Int("total_subscribers", total))
	return sub, nil
}

// Disconnect removes a subscriber. It is safe to call more than once.
func (m *Manager) Disconnect(subscriberID string) {
	m.mu.Lock()
	sub, ok := m.subscribers[subscriberID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subscribers, subscriberID)
	total := len(m.subscribers)
	m.mu.Unlock()

	sub.drain()
	m.metrics.SetSubscribers(total)
	m.logger.Info("subscriber disconnected",
		slog.String("subscriber_id", subscriberID),
		slog.Duration("duration", time.Since(sub.ConnectedAt)),
		slog.Uint64("dropped", sub.Dropped()),
		slog.Int("total_subscribers", total))
}

func (m *Manager) drainAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscribers {
		sub.drain()
	}
}

// SubscriberCount returns the number of connected subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Accepting reports whether new subscribers can connect.
func (m *Manager) Accepting() bool {
	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()
	return !m.shutdown
}
