package http

import (
	"context"
	"io"
	"net/http"
	"net/http/pprof"
	"slices"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/kenazlabs/kenaz/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

const (
	shutdownTimeout = time.Second * 10
)

// Routes served by the public server next to the realtime handler, which
// takes every other path.
var serviceRoutes = []string{
	"/health",
	"/version",
	"/ready",
	"/scenes",
	"/ping",
}

// Config holds what the public and admin handlers serve.
type Config struct {
	Version string
	Scenes  *models.SceneStore

	// Reports whether the server accepts new clients.
	Ready func() bool

	// The websocket handler speaking the realtime protocol.
	Realtime http.Handler
}

// NewServiceHandler returns the handler of the public server.
func NewServiceHandler(c Config) http.Handler {
	var mux http.ServeMux
	mux.Handle("/health", HandleWithCORS(http.HandlerFunc(HandleHealthCheck)))
	mux.Handle("/version", HandleWithCORS(HandleVersion(c.Version)))
	mux.Handle("/ready", HandleWithCORS(HandleReadyCheck(c.Ready)))
	mux.Handle("/scenes", HandleWithCORS(HandleScenes(c.Scenes)))
	mux.Handle("/ping", HandlePing())

	if c.Realtime != nil {
		mux.Handle("/", HandleWithCORS(c.Realtime))
	}

	return metrics.HTTPHandler(&mux, MetricsPathFormatter)
}

// NewAdminHandler returns the handler of the admin server: metrics, probes,
// the scene listing and pprof.
func NewAdminHandler(c Config) http.Handler {
	var mux http.ServeMux
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealthCheck)
	mux.HandleFunc("/ready", HandleReadyCheck(c.Ready))
	mux.HandleFunc("/scenes", HandleScenes(c.Scenes))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	return &mux
}

// HandlePing echoes websocket frames back to the client so it can measure
// its round trip time.
func HandlePing() http.Handler {
	return websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			io.Copy(conn, conn)
		},
	}
}

// ListenAndServe runs the servers until ctx is done, then gives them
// shutdownTimeout to finish serving their clients.
func ListenAndServe(ctx context.Context, servers ...*http.Server) {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logs.Warn(errors.New("shutting down the server failed").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}
	}()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()

			logs.WithTag("addr", s.Addr).Info("starting server")

			switch err := s.ListenAndServe(); err {
			case nil, http.ErrServerClosed, context.Canceled:
				logs.WithTag("addr", s.Addr).Info("stopping server")

			default:
				logs.Warn(errors.New("server stopped").
					WithTag("addr", s.Addr).
					Wrap(err))
			}
		}(s)
	}
	wg.Wait()
}

// MetricsPathFormatter labels requests with their route. Requests rejected
// with 301, 400, 404 or 405 are not labeled, and paths outside the service
// routes are labeled "/" since the realtime handler serves them.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	}

	if slices.Contains(serviceRoutes, path) {
		return path
	}
	return "/"
}
