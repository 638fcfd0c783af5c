package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/models"
	"github.com/kenazlabs/kenaz/modules"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a kenaz connection handler.
type Handler interface {
	// Handles a ping request.
	HandlePing(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to join a scene.
	HandleSceneJoin(ctx context.Context, handleFrame func(), respond messages.ResponseSender, msg messages.Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a request to place an entity.
	HandleEntityAdd(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a request to move an entity.
	HandleEntityUpdate(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a request to delete an entity.
	HandleEntityDelete(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a request to set the participant camera.
	HandleCameraSet(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a box overlap query.
	HandleQueryOverlap(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a sphere overlap query.
	HandleQuerySphere(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles an overlapping pairs query.
	HandleQueryPairs(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a frustum visibility query.
	HandleQueryVisible(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a ray cast query.
	HandleQueryRaycast(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a message with a type kenaz does not know.
	HandleUnknownMessage(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handle a message with a module.
	HandleWithModule(ctx context.Context, module modules.Module, respond messages.ResponseSender, msg messages.Msg) error

	// Sends a sync clock message to the client.
	SendSyncClock(ctx context.Context, respond messages.ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() messages.Receiver

	// Creates a message sender passed in service methods in order to send
	// messages.
	Sender() messages.Sender

	// Closes the service and releases its allocated resources.
	Close()

	// The interval between each sync clock message sent to the connected
	// client.
	SyncClockInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the scene store.
	GetScenes() *models.SceneStore

	// Returns the modules.
	GetModules() []modules.Module

	// The currently joined scene.
	CurrentScene() *models.Scene

	// The current participant.
	CurrentParticipant() *models.Participant

	// Get ClientID
	GetClientID() string
}

// Handle handles the given service.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The kenaz handler.
	Handler Handler

	sendChan       chan messages.Msg
	sender         messages.Sender
	scheduler      *messages.Scheduler
	receiver       messages.Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan messages.Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.scheduler = messages.NewScheduler()
	defer h.scheduler.Close()

	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	syncClockTicker := time.NewTicker(h.Handler.SyncClockInterval())
	defer syncClockTicker.Stop()

	var responder = responseSender{
		send:    h.send,
		sendMsg: h.sendMsg,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-syncClockTicker.C:
			if err := h.Handler.SendSyncClock(ctx, responder); err != nil {
				h.disconnect(errors.New("sending sync clock failed").Wrap(err))
			}

		case <-h.scheduler.Ready():
			msgs := h.scheduler.Messages()
			if len(msgs) != 0 {
				idleTimer.Stop()
				idleTimer.Reset(idleTimeout)
			}

			for _, msg := range msgs {
				if err := h.handleMessage(ctx, msg, responder); err != nil {
					h.disconnect(errors.New("handling message failed").Wrap(err))
					break
				}
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(t messages.MsgType, requestID uint32, data any) {
	msg, err := messages.NewMsg(t, requestID, data)
	if err != nil {
		logs.WithClientID(h.Handler.GetClientID()).
			WithTag("msg_type", t).
			Debug(err)
		return
	}
	h.sendChan <- msg
}

func (h *handler) sendMsg(msg messages.Msg) {
	h.sendChan <- msg
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			if err = h.scheduler.Dispatch(ctx, msg); err != nil {
				h.disconnect(errors.New("dispatching message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg messages.Msg, responder messages.ResponseSender) error {
	var err error

	switch msg.Type {
	case messages.MsgTypePing:
		err = h.Handler.HandlePing(ctx, responder, msg)

	case messages.MsgTypeSceneJoin:
		err = h.Handler.HandleSceneJoin(ctx,
			h.scheduler.HandleFrame,
			responder,
			msg,
		)

	case messages.MsgTypeEntityAdd:
		err = h.Handler.HandleEntityAdd(ctx, responder, msg)

	case messages.MsgTypeEntityUpdate:
		err = h.Handler.HandleEntityUpdate(ctx, responder, msg)

	case messages.MsgTypeEntityDelete:
		err = h.Handler.HandleEntityDelete(ctx, responder, msg)

	case messages.MsgTypeCameraSet:
		err = h.Handler.HandleCameraSet(ctx, responder, msg)

	case messages.MsgTypeQueryOverlap:
		err = h.Handler.HandleQueryOverlap(ctx, responder, msg)

	case messages.MsgTypeQuerySphere:
		err = h.Handler.HandleQuerySphere(ctx, responder, msg)

	case messages.MsgTypeQueryPairs:
		err = h.Handler.HandleQueryPairs(ctx, responder, msg)

	case messages.MsgTypeQueryVisible:
		err = h.Handler.HandleQueryVisible(ctx, responder, msg)

	case messages.MsgTypeQueryRaycast:
		err = h.Handler.HandleQueryRaycast(ctx, responder, msg)

	default:
		err = h.Handler.HandleUnknownMessage(ctx, responder, msg)
	}

	if err != nil {
		return err
	}

	if h.Handler.CurrentParticipant() == nil || h.Handler.CurrentScene() == nil {
		return nil
	}

	for _, m := range h.Handler.GetModules() {
		if err = h.Handler.HandleWithModule(ctx, m, responder, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(messages.MsgType, uint32, any)
	sendMsg func(messages.Msg)
}

func (r responseSender) Send(t messages.MsgType, requestID uint32, data any) {
	r.send(t, requestID, data)
}

func (r responseSender) SendMsg(msg messages.Msg) {
	r.sendMsg(msg)
}
