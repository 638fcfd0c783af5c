package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/kenazlabs/kenaz/messages"
	"golang.org/x/net/websocket"
)

const sceneIDTag = "scene_id"

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request
	appKey          string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	sceneID       string
	sceneUUID     string
	participantID uint32
}

type httpHeaders struct {
	UserAgent               string `json:"user_agent,omitempty"`
	XForwardedFor           string `json:"x_forwarded_for,omitempty"`
	CloudFrontCountryName   string `json:"cloudfront_viewer_country,omitempty"`
	CloudFrontViewerAddress string `json:"cloudfront_viewer_address,omitempty"`
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.originalRequest = req
	h.appKey = httpcmn.GetAppKeyFromHagallUserToken(httpcmn.GetUserTokenFromHTTPRequest(req))

	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleSceneJoin(ctx context.Context, handleFrame func(), sender messages.ResponseSender, msg messages.Msg) error {
	if err := h.Handler.HandleSceneJoin(ctx, handleFrame, sender, msg); err != nil {
		return err
	}

	if h.CurrentParticipant() == nil {
		var req messages.SceneJoinRequest
		msg.DataTo(&req)

		logs.WithClientID(h.GetClientID()).
			WithTag(logs.AppKeyTag, h.appKey).
			WithTag(sceneIDTag, req.SceneID).
			WithTag("request_id", msg.RequestID).
			WithTag("http_headers", h.httpHeaders()).
			Info("participant failed to join a scene")
		return nil
	}

	h.sceneID = h.GetScenes().GlobalSceneID(h.CurrentScene().ID)
	h.sceneUUID = h.CurrentScene().SceneUUID
	h.participantID = h.CurrentParticipant().ID

	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(sceneIDTag, h.sceneID).
		WithTag("scene_uuid", h.sceneUUID).
		WithTag(logs.ParticipantIDTag, h.participantID).
		WithTag("http_headers", h.httpHeaders()).
		Info("participant joined a scene")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)
	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(sceneIDTag, h.sceneID).
		WithTag(logs.ParticipantIDTag, h.participantID).
		Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() messages.Receiver {
	receive := h.Handler.Receiver()

	return func() (messages.Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(sceneIDTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(sceneIDTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}

}

func (h *handlerWithLogs) Sender() messages.Sender {
	sender := h.Handler.Sender()

	return func(msg messages.Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(sceneIDTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(sceneIDTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(logs.ParticipantIDTag, h.participantID).
		WithTag(sceneIDTag, h.sceneID).
		WithTag("scene_uuid", h.sceneUUID).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}

func (h *handlerWithLogs) httpHeaders() httpHeaders {
	if h.originalRequest == nil {
		return httpHeaders{}
	}

	return httpHeaders{
		UserAgent:               h.originalRequest.UserAgent(),
		XForwardedFor:           h.originalRequest.Header.Get(httpcmn.XForwardedForHeaderKey),
		CloudFrontCountryName:   h.originalRequest.Header.Get(httpcmn.CloudFrontCountryNameHeaderKey),
		CloudFrontViewerAddress: h.originalRequest.Header.Get(httpcmn.CloudFrontViewerAddressHeaderKey),
	}
}
