package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/kenazlabs/kenaz/featureflag"
	"github.com/kenazlabs/kenaz/models"
	"github.com/kenazlabs/kenaz/modules"
	"github.com/kenazlabs/kenaz/spatial"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Creates a testing environement to unit test handlers and modules.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clientA, clientB, close := newTestingEnv(t, newHandler)
	return clientA, clientB, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-for", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderPosemeshClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}

		return conn
	}

	clientA := newConn()
	clientB := newConn()

	return clientA, clientB, func() {
		clientA.Close()
		clientB.Close()
		server.Close()
	}
}

// TestSceneConfig covers X and Z from -100 to 100 with cells of 10.
var TestSceneConfig = models.SceneConfig{
	GridExtents:  spatial.NewExtents(mgl64.Vec3{-100, -100, -100}, mgl64.Vec3{100, 100, 100}),
	GridCellSize: 10,
}

type testHandlerOptions struct {
	idleTimeout  time.Duration
	featureFlags featureflag.FeatureFlag
}

func newTestHandler(newModule ...func() modules.Module) func() Handler {
	return newTestHandlerWithOptions(testHandlerOptions{}, newModule...)
}

func newTestHandlerWithOptions(opts testHandlerOptions, newModule ...func() modules.Module) func() Handler {
	sceneStore := &models.SceneStore{
		ServerID: "ted",
	}

	if opts.idleTimeout == 0 {
		opts.idleTimeout = time.Minute
	}

	return func() Handler {
		modules := make([]modules.Module, len(newModule))
		for i, nm := range newModule {
			modules[i] = nm()
		}

		var h Handler = &RealtimeHandler{
			ClientSyncClockInterval: time.Millisecond * 250,
			ClientIdleTimeout:       opts.idleTimeout,
			FrameDuration:           time.Millisecond * 50,
			Scenes:                  sceneStore,
			SceneConfig:             TestSceneConfig,
			Modules:                 modules,
			FeatureFlags:            opts.featureFlags,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://kenaz-test.com")
		return h
	}
}
