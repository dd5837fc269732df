package sse

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
)

// State is the lifecycle stage of a stream session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transport delivers frames to one peer.
type Transport interface {
	// Send writes a frame. An error means the peer is gone.
	Send(ctx context.Context, f Frame) error
	// Gone is closed when the peer disconnects.
	Gone() <-chan struct{}
}

// Session relays a subscriber's queue to a transport.
type Session struct {
	manager *Manager
	sub     *Subscriber
	since   time.Time
	short   string
	logger  *slog.Logger

	// delivered is the newest mtime sent per path. Only Run touches it.
	delivered map[string]time.Time
	state     atomic.Int32
}

// NewSession prepares a session for a connected subscriber. since is the
// client's page-load watermark; the zero time disables catch-up.
func NewSession(manager *Manager, sub *Subscriber, since time.Time) *Session {
	return &Session{
		manager:   manager,
		sub:       sub,
		since:     since,
		short:     sub.Session.Short(),
		logger:    manager.logger.With(slog.String("subscriber_id", sub.ID)),
		delivered: make(map[string]time.Time),
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run streams until the peer leaves, ctx ends, or the server drains.
// The subscriber is always unregistered on return.
func (s *Session) Run(ctx context.Context, t Transport) error {
	defer func() {
		s.manager.Disconnect(s.sub.ID)
		s.setState(StateClosed)
	}()

	if err := s.connect(ctx, t); err != nil {
		s.logger.Info("peer gone during connect", slog.String("error", err.Error()))
		return err
	}
	s.setState(StateStreaming)

	for {
		select {
		case ev := <-s.sub.Events():
			if err := s.relay(ctx, t, ev); err != nil {
				s.logger.Info("peer gone during send", slog.String("error", err.Error()))
				return err
			}

		case <-s.sub.Draining():
			s.setState(StateDraining)
			return s.drain(ctx, t)

		case <-t.Gone():
			s.logger.Info("peer disconnected")
			return nil

		case <-ctx.Done():
			s.logger.Info("stream context canceled")
			return nil
		}
	}
}

func (s *Session) connect(ctx context.Context, t Transport) error {
	now := time.Now()
	var snap domain.Snapshot
	if s.manager.source != nil {
		snap = s.manager.source.Snapshot()
	}

	if err := t.Send(ctx, Frame{
		ID:   frameID(s.short, now),
		Kind: FrameConnect,
		Data: ConnectData{
			Msg:          "connected",
			SubscriberID: s.sub.ID,
			Session:      s.sub.Session.String(),
			Since:        domain.UnixSeconds(s.since),
			Files:        snap.Len(),
		},
	}); err != nil {
		return err
	}

	if s.since.IsZero() {
		return nil
	}
	for _, e := range snap.ModifiedSince(s.since) {
		if err := t.Send(ctx, catchUpFrame(s.short, s.since, e, now)); err != nil {
			return err
		}
		s.delivered[pathKey(e)] = e.MTime
	}
	return nil
}

func (s *Session) relay(ctx context.Context, t Transport, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventChanged:
		key := pathKey(ev.Entry)
		mark := s.since
		if d, ok := s.delivered[key]; ok && d.After(mark) {
			mark = d
		}
		if !ev.NewMTime.After(mark) {
			return nil
		}
		s.delivered[key] = ev.NewMTime
	case domain.EventDeleted:
		delete(s.delivered, pathKey(ev.Entry))
	}

	f, ok := frameFromEvent(s.short, ev)
	if !ok {
		return nil
	}
	return t.Send(ctx, f)
}

// drain flushes whatever is already queued, then says goodbye.
func (s *Session) drain(ctx context.Context, t Transport) error {
	for {
		select {
		case ev := <-s.sub.Events():
			if err := s.relay(ctx, t, ev); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}
	return t.Send(ctx, Frame{
		ID:   frameID(s.short, time.Now()),
		Kind: FrameDisconnect,
		Data: DisconnectData{Msg: "server shutting down"},
	})
}

func pathKey(e domain.Entry) string {
	return string(e.Category) + "\x00" + e.AbsolutePath
}
