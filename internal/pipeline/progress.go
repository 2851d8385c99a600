package pipeline

import (
	"context"
	"sync"
	"time"
)

type Stage string

const (
	StageParsing           Stage = "parsing"
	StageStructuring       Stage = "structuring"
	StageDownloadingImages Stage = "downloading-images"
	StageComplete          Stage = "complete"
	StageError             Stage = "error"
)

// ProgressEvent is one lifecycle notification with running counts.
type ProgressEvent struct {
	Stage   Stage  `json:"stage"`
	Orders  int    `json:"orders,omitempty"`
	Items   int    `json:"items,omitempty"`
	Images  int    `json:"images,omitempty"`
	Message string `json:"message,omitempty"`
}

// Sink receives ordered progress events. Implementations must not block
// forever; a misbehaving sink is isolated by safeEmit.
type Sink interface {
	Emit(ProgressEvent)
}

// safeEmit delivers an event to an optional sink. A nil sink is a no-op and
// a panicking sink never propagates back into the pipeline.
func safeEmit(sink Sink, evt ProgressEvent) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Emit(evt)
}

// Session owns one import request's cancellation signal and ordered event
// stream. The pipeline produces into the session; a transport adapter (the
// HTTP handler or the CLI) consumes Events. Events for one session are
// observed in emission order; nothing is shared across sessions.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	events chan ProgressEvent
	closed bool
}

// NewSession derives a session from the caller's context with an execution
// ceiling. Cancelling the parent (client disconnect) cancels the session.
func NewSession(parent context.Context, timeout time.Duration) *Session {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return &Session{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan ProgressEvent, 64),
	}
}

func (s *Session) Context() context.Context { return s.ctx }

// Events is the ordered stream consumed by the transport adapter. It is
// closed by Close once the pipeline finishes.
func (s *Session) Events() <-chan ProgressEvent { return s.events }

// Emit implements Sink. When the session is cancelled or the consumer has
// stopped draining, events are dropped rather than blocking the pipeline.
func (s *Session) Emit(evt ProgressEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// Cancel aborts the session's work. The event stream stays open until the
// producing goroutine calls Close, so consumers never read a closed channel
// mid-drain.
func (s *Session) Cancel() { s.cancel() }

// Close releases the session's resources and ends the event stream. It must
// be called from the producing goroutine after its last Emit.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.events)
}
