package scenario

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kenazlabs/kenaz/messages"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// newEchoConn returns a connection to a server that answers each message
// with a message of the same type, followed by its response.
func newEchoConn(t *testing.T) *websocket.Conn {
	server := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		for {
			msg, _, err := messages.Receive(conn)
			if err != nil {
				return
			}

			if _, err = messages.Send(conn, msg); err != nil {
				return
			}

			res := msg
			res.Type += "_response"
			if _, err = messages.Send(conn, res); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	conn, err := websocket.Dial(strings.ReplaceAll(server.URL, "http://", "ws://"), "", "http://localhost")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestScenario(t *testing.T) {
	t.Run("send and receive", func(t *testing.T) {
		conn := newEchoConn(t)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		var res messages.SceneJoinRequest
		err := NewScenario(conn).
			Send(messages.MsgTypeSceneJoin, 7, messages.SceneJoinRequest{SceneID: "kenazx1"}).
			Receive(
				FilterByType(messages.MsgTypeSceneJoinResponse),
				FilterByRequestID(7),
				DecodeTo(&res),
			).
			Run(ctx)
		require.NoError(t, err)
		require.Equal(t, "kenazx1", res.SceneID)
	})

	t.Run("handler error", func(t *testing.T) {
		conn := newEchoConn(t)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := NewScenario(conn).
			Send(messages.MsgTypePing, 1, nil).
			Receive(func(msg messages.Msg) error {
				return context.Canceled
			}).
			Run(ctx)
		require.Error(t, err)
		require.NotErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("timeout", func(t *testing.T) {
		conn := newEchoConn(t)

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
		defer cancel()

		err := NewScenario(conn).
			Send(messages.MsgTypePing, 1, nil).
			Receive(FilterByRequestID(2)).
			Run(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
