package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/kenazlabs/kenaz/featureflag"
	kenazhttp "github.com/kenazlabs/kenaz/http"
	"github.com/kenazlabs/kenaz/models"
	"github.com/kenazlabs/kenaz/modules"
	"github.com/kenazlabs/kenaz/modules/visibility"
	"github.com/kenazlabs/kenaz/spatial"
	kwebsocket "github.com/kenazlabs/kenaz/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Kenaz version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "kenaz_info",
		Help:        "Kenaz information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"KENAZ_ADDR"                  help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"KENAZ_ADMIN_ADDR"            help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"KENAZ_PUBLIC_ENDPOINT"       help:"The public endpoint where this Kenaz server is reachable."`
	ServerID           string        `cli:""        env:"KENAZ_SERVER_ID"             help:"The prefix of global scene ids."`
	LogLevel           string        `cli:""        env:"KENAZ_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"KENAZ_LOG_INDENT"            help:"Indent logs."`
	SyncClockInterval  time.Duration `cli:",hidden" env:"KENAZ_SYNC_CLOCK_INTERVAL"   help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"KENAZ_CLIENT_IDLE_TIMEOUT"   help:"Time until an idle client will be disconnected"`
	FrameDuration      time.Duration `cli:",hidden" env:"KENAZ_FRAME_DURATION"        help:"The duration of a scene frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"KENAZ_LOG_SUMMARY_INTERVAL"  help:"The duration between each log summary by connection."`
	Grid               gridConfig    `cli:""        env:"-"                           help:"Scene grid configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"KENAZ_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                           help:"Show version."`
	Help               bool          `cli:""        env:"-"                           help:"Show help."`
}

type gridConfig struct {
	MinX     float64 `cli:"" env:"KENAZ_GRID_MIN_X"     help:"The lower X bound of the scene grid."`
	MinY     float64 `cli:"" env:"KENAZ_GRID_MIN_Y"     help:"The lower Y bound of the scene grid."`
	MinZ     float64 `cli:"" env:"KENAZ_GRID_MIN_Z"     help:"The lower Z bound of the scene grid."`
	MaxX     float64 `cli:"" env:"KENAZ_GRID_MAX_X"     help:"The upper X bound of the scene grid."`
	MaxY     float64 `cli:"" env:"KENAZ_GRID_MAX_Y"     help:"The upper Y bound of the scene grid."`
	MaxZ     float64 `cli:"" env:"KENAZ_GRID_MAX_Z"     help:"The upper Z bound of the scene grid."`
	CellSize float64 `cli:"" env:"KENAZ_GRID_CELL_SIZE" help:"The edge length of the scene grid cells."`
}

func (c gridConfig) extents() spatial.Extents {
	return spatial.NewExtents(
		mgl64.Vec3{c.MinX, c.MinY, c.MinZ},
		mgl64.Vec3{c.MaxX, c.MaxY, c.MaxZ},
	)
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"KENAZ_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"KENAZ_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"KENAZ_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"KENAZ_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		ServerID:           "kenaz",
		LogLevel:           logs.InfoLevel.String(),
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		LogSummaryInterval: time.Minute,
		Grid: gridConfig{
			MinX:     -1000,
			MinY:     -1000,
			MinZ:     -1000,
			MaxX:     1000,
			MaxY:     1000,
			MaxZ:     1000,
			CellSize: 50,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Kenaz server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	if err := validateConfig(conf, featureFlags); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "kenaz",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	scenes := models.SceneStore{
		ServerID: conf.ServerID,
	}

	sceneConfig := models.SceneConfig{
		GridExtents:  conf.Grid.extents(),
		GridCellSize: conf.Grid.CellSize,
	}

	readinessCheck := func() bool {
		return ctx.Err() == nil
	}

	realtime := websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh kwebsocket.Handler = &kwebsocket.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				FrameDuration:           conf.FrameDuration,
				Scenes:                  &scenes,
				SceneConfig:             sceneConfig,
				Modules:                 newModules(featureFlags),
				FeatureFlags:            featureFlags,
			}
			h := kwebsocket.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = kwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			kwebsocket.Handle(ctx, conn, h)
		},
	}

	httpConfig := kenazhttp.Config{
		Version:  version,
		Scenes:   &scenes,
		Ready:    readinessCheck,
		Realtime: realtime,
	}

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", conf.ServerID).
		WithTag("grid_extents", sceneConfig.GridExtents).
		WithTag("grid_cell_size", sceneConfig.GridCellSize).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting kenaz server")

	kenazhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: kenazhttp.NewServiceHandler(httpConfig)},
		&http.Server{Addr: conf.AdminAddr, Handler: kenazhttp.NewAdminHandler(httpConfig)},
	)
}

func newModules(featureFlags featureflag.FeatureFlag) []modules.Module {
	var mods []modules.Module

	featureFlags.IfNotSet(featureflag.FlagDisableVisibilityPush, func() {
		mods = append(mods, &visibility.Module{
			UseGrid: !featureFlags.IsSet(featureflag.FlagDisableGridIndex),
		})
	})

	return mods
}

func validateConfig(conf config, featureFlags featureflag.FeatureFlag) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if featureFlags.IsSet(featureflag.FlagDisableGridIndex) {
		return nil
	}

	if _, err := spatial.NewGrid[struct{}](conf.Grid.extents(), conf.Grid.CellSize); err != nil {
		return errors.New("invalid grid configuration").Wrap(err)
	}
	return nil
}
