// Package messages defines the JSON protocol spoken over kenaz WebSocket
// connections.
package messages

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeSceneNotJoined = "scene_not_joined"
	ErrTypeMsgSkip        = "msg_skip"
	ErrTypeBadRequest     = "bad_request"
	ErrTypeUnknownMsg     = "unknown_msg"
	ErrTypeMsgDecode      = "msg_decode"
)

// Msg is the envelope of every message exchanged with a client.
type Msg struct {
	Type      MsgType         `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with the given payload encoded as its data.
func NewMsg(t MsgType, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      t,
		RequestID: requestID,
		Timestamp: time.Now(),
	}

	if data == nil {
		return msg, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return Msg{}, errors.New("encoding message data failed").
			WithTag("msg_type", t).
			Wrap(err)
	}
	msg.Data = b
	return msg, nil
}

// DataTo decodes the message data into v. A message without data leaves v
// untouched.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeBadRequest).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// Receiver reads the next message from a connection and returns it with the
// number of bytes read.
type Receiver func() (Msg, int, error)

// Sender writes a message to a connection and returns the number of bytes
// written.
type Sender func(Msg) (int, error)

// ResponseSender sends messages to a single client.
type ResponseSender interface {
	// Encodes and sends a message. Encoding failures are logged and the
	// message is dropped.
	Send(t MsgType, requestID uint32, data any)

	// Sends an already encoded message.
	SendMsg(Msg)
}

// Receive reads a text frame from the connection and decodes it.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, len(b), errors.New("decoding message failed").
			WithType(ErrTypeMsgDecode).
			Wrap(err)
	}
	return msg, len(b), nil
}

// Send encodes a message and writes it as a text frame.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}

	if err := websocket.Message.Send(conn, string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}
