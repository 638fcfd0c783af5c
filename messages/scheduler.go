package messages

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	maxPendingMsgs = 1024
)

// Scheduler buffers the messages received from a connection and releases
// them to the connection loop.
//
// Until HandleFrame is called for the first time, messages are released as
// soon as they are dispatched. Afterwards they are released once per frame.
type Scheduler struct {
	mutex   sync.Mutex
	pending []Msg
	framed  bool
	closed  bool

	ready chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		ready: make(chan struct{}, 1),
	}
}

// Dispatch queues a message.
func (s *Scheduler) Dispatch(ctx context.Context, msg Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return errors.New("scheduler closed")
	}
	if len(s.pending) >= maxPendingMsgs {
		s.mutex.Unlock()
		return errors.New("too many pending messages").
			WithTag("count", maxPendingMsgs)
	}
	s.pending = append(s.pending, msg)
	framed := s.framed
	s.mutex.Unlock()

	if !framed {
		s.signal()
	}
	return nil
}

// HandleFrame releases the pending messages. It is meant to be registered as
// a scene frame handler.
func (s *Scheduler) HandleFrame() {
	s.mutex.Lock()
	s.framed = true
	s.mutex.Unlock()

	s.signal()
}

// Ready is signaled when messages can be consumed with Messages.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Messages returns and removes the pending messages.
func (s *Scheduler) Messages() []Msg {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	msgs := s.pending
	s.pending = nil
	return msgs
}

func (s *Scheduler) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closed = true
	s.pending = nil
}

func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
