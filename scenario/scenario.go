// Package scenario runs scripted exchanges against a kenaz WebSocket
// endpoint. A scenario is a list of steps that either send a message or wait
// for a message accepted by a chain of handlers.
package scenario

import (
	"context"
	"net"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/kenazlabs/kenaz/messages"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeScenarioMsgSkip = "scenario_msg_skip"
)

// ErrScenarioMsgSkip is returned by handlers to ignore a received message and
// wait for the next one.
var ErrScenarioMsgSkip = errors.New("scenario message skipped").
	WithType(ErrTypeScenarioMsgSkip)

// Handler handles a received message.
type Handler func(messages.Msg) error

// Scenario is a sequence of send and receive steps.
type Scenario struct {
	conn  *websocket.Conn
	steps []step
}

type step struct {
	send     func() (messages.Msg, error)
	handlers []Handler
}

func NewScenario(conn *websocket.Conn) *Scenario {
	return &Scenario{conn: conn}
}

// Send adds a step that sends a message with the given type, request id and
// data.
func (s *Scenario) Send(t messages.MsgType, requestID uint32, data any) *Scenario {
	s.steps = append(s.steps, step{
		send: func() (messages.Msg, error) {
			return messages.NewMsg(t, requestID, data)
		},
	})
	return s
}

// Receive adds a step that waits for a message accepted by all the given
// handlers. Messages rejected with ErrScenarioMsgSkip are discarded.
func (s *Scenario) Receive(handlers ...Handler) *Scenario {
	s.steps = append(s.steps, step{handlers: handlers})
	return s
}

// Run executes the scenario steps in order. It returns the context error when
// the context expires before a receive step completes.
func (s *Scenario) Run(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	for i, st := range s.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if st.send != nil {
			msg, err := st.send()
			if err != nil {
				return errors.New("creating scenario message failed").
					WithTag("step", i).
					Wrap(err)
			}

			if _, err = messages.Send(s.conn, msg); err != nil {
				return errors.New("sending scenario message failed").
					WithTag("step", i).
					WithTag("msg_type", msg.TypeString()).
					Wrap(err)
			}
			continue
		}

		if err := s.receive(ctx, i, st.handlers); err != nil {
			return err
		}
	}

	return nil
}

func (s *Scenario) receive(ctx context.Context, i int, handlers []Handler) error {
	for {
		msg, _, err := messages.Receive(s.conn)
		if isTimeout(err) {
			<-ctx.Done()
			return ctx.Err()
		}
		if errors.IsType(err, messages.ErrTypeMsgDecode) {
			continue
		}
		if err != nil {
			return errors.New("receiving scenario message failed").
				WithTag("step", i).
				Wrap(err)
		}

		if err = handle(msg, handlers); errors.IsType(err, ErrTypeScenarioMsgSkip) {
			continue
		} else if err != nil {
			return errors.New("handling scenario message failed").
				WithTag("step", i).
				WithTag("msg_type", msg.TypeString()).
				Wrap(err)
		}
		return nil
	}
}

func handle(msg messages.Msg, handlers []Handler) error {
	for _, h := range handlers {
		if err := h(msg); err != nil {
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// FilterByType skips messages that are not of the given type.
func FilterByType(t messages.MsgType) Handler {
	return func(msg messages.Msg) error {
		if msg.Type != t {
			return ErrScenarioMsgSkip
		}
		return nil
	}
}

// FilterByRequestID skips messages that do not answer the given request.
func FilterByRequestID(requestID uint32) Handler {
	return func(msg messages.Msg) error {
		if msg.RequestID != requestID {
			return ErrScenarioMsgSkip
		}
		return nil
	}
}

// DecodeTo decodes the message data into v.
func DecodeTo(v any) Handler {
	return func(msg messages.Msg) error {
		return msg.DataTo(v)
	}
}
