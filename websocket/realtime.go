package websocket

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/kenazlabs/kenaz/featureflag"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/models"
	"github.com/kenazlabs/kenaz/modules"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeSceneAlreadyJoined = "scene_already_joined"
	ErrTypeSceneNotFound      = "scene_not_found"
)

// RealtimeHandler represents a service that manages multiple client connections
// and answers their spatial queries in realtime.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame.
	FrameDuration time.Duration

	// The store that contains all the server scenes.
	Scenes *models.SceneStore

	// The spatial index configuration of created scenes.
	SceneConfig models.SceneConfig

	// The modules that expand kenaz features.
	Modules []modules.Module

	FeatureFlags featureflag.FeatureFlag

	conn               *websocket.Conn
	currentScene       *models.Scene
	currentParticipant *models.Participant

	stopFrameHandling func()

	clientID string
	appKey   string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = req.Header.Get(httpcmn.HeaderPosemeshClientID)
	h.appKey = httpcmn.GetAppKeyFromHagallUserToken(httpcmn.GetUserTokenFromHTTPRequest(req))

	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	respond.Send(messages.MsgTypePingResponse, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleSceneJoin(ctx context.Context, handleFrame func(), respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.SceneJoinRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	if h.currentScene != nil && h.Scenes.GlobalSceneID(h.currentScene.ID) == req.SceneID {
		respondError(respond, msg, errors.New("scene already joined").
			WithType(ErrTypeSceneAlreadyJoined).
			WithTag("scene_id", req.SceneID))
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveScene()
	}

	scene, ok := h.Scenes.GetByGlobalID(req.SceneID)
	if !ok && req.SceneID != "" {
		respondError(respond, msg, errors.New("scene not found").
			WithType(ErrTypeSceneNotFound).
			WithTag("scene_id", req.SceneID))
		return nil
	}

	if !ok {
		var err error
		if scene, err = models.NewScene(h.Scenes.NewID(), h.FrameDuration, h.sceneConfig()); err != nil {
			respondError(respond, msg, err)
			return nil
		}
		scene.AppKey = h.appKey

		if err = h.Scenes.Add(ctx, scene); err != nil {
			scene.Close()
			respondError(respond, msg, err)
			return nil
		}
		go scene.StartDispatchFrames()
	}

	participant := &models.Participant{
		ID:        scene.NewParticipantID(),
		Responder: respond,
	}

	scene.AddParticipant(participant)
	h.stopFrameHandling = scene.HandleFrame(handleFrame)

	respond.Send(messages.MsgTypeSceneJoinResponse, msg.RequestID, messages.SceneJoinResponse{
		SceneID:       h.Scenes.GlobalSceneID(scene.ID),
		SceneUUID:     scene.SceneUUID,
		ParticipantID: participant.ID,
	})

	h.currentScene = scene
	h.currentParticipant = participant

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableSceneState, func() {
		state := messages.SceneState{
			Participants: models.ParticipantIDs(scene.GetParticipants()),
			Entities:     models.EntitiesToMessage(scene.Entities()),
		}
		if extents, ok := scene.Extents(); ok {
			state.Extents = &extents
		}
		respond.Send(messages.MsgTypeSceneState, 0, state)
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantJoinBroadcast, func() {
		scene.Broadcast(participant, messages.MsgTypeParticipantJoinBroadcast, messages.ParticipantBroadcast{
			ParticipantID: participant.ID,
		})
	})

	for _, m := range h.Modules {
		m.Init(scene, participant)
	}

	return nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveScene()
	}
}

func (h *RealtimeHandler) HandleEntityAdd(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.EntityAddRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	entity := &models.Entity{
		ID:            scene.NewEntityID(),
		ParticipantID: participant.ID,
		Static:        req.Static,
		Persist:       req.Persist,
	}

	if err := scene.AddEntity(entity, req.Extents); err != nil {
		respondError(respond, msg, err)
		return nil
	}
	participant.AddEntity(entity)

	respond.Send(messages.MsgTypeEntityAddResponse, msg.RequestID, messages.EntityAddResponse{
		EntityID: entity.ID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityAddBroadcast, func() {
		scene.Broadcast(participant, messages.MsgTypeEntityAddBroadcast, messages.EntityBroadcast{
			Entity: entity.ToMessage(),
		})
	})

	return nil
}

// HandleEntityUpdate moves an entity owned by the participant. Updates are
// frequent so a response is sent only to requests with an id.
func (h *RealtimeHandler) HandleEntityUpdate(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.EntityUpdateRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	entity, err := ownedEntity(scene, participant, req.EntityID)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}

	if err := scene.UpdateEntity(entity, req.Extents); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	if msg.RequestID != 0 {
		respond.Send(messages.MsgTypeEntityUpdateResponse, msg.RequestID, nil)
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityUpdateBroadcast, func() {
		scene.Broadcast(participant, messages.MsgTypeEntityUpdateBroadcast, messages.EntityBroadcast{
			Entity: entity.ToMessage(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleEntityDelete(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.EntityDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	entity, err := ownedEntity(scene, participant, req.EntityID)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}

	scene.RemoveEntity(entity)
	participant.RemoveEntity(entity)

	respond.Send(messages.MsgTypeEntityDeleteResponse, msg.RequestID, nil)

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
		scene.Broadcast(participant, messages.MsgTypeEntityDeleteBroadcast, messages.EntityDeleteBroadcast{
			EntityID: entity.ID,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleCameraSet(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	_, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.CameraSetRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	camera, err := models.NewCamera(req.Camera)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}
	participant.SetCamera(camera)

	respond.Send(messages.MsgTypeCameraSetResponse, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleQueryOverlap(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, _, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.QueryOverlapRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	entities, err := scene.OverlappingEntities(req.Extents, req.UseGrid)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}

	respond.Send(messages.MsgTypeQueryOverlapResponse, msg.RequestID, messages.QueryResponse{
		EntityIDs: sortedEntityIDs(entities),
	})
	return nil
}

func (h *RealtimeHandler) HandleQuerySphere(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, _, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.QuerySphereRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	entities, err := scene.SphereEntities(req.Center, req.Radius, req.UseGrid)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}

	respond.Send(messages.MsgTypeQuerySphereResponse, msg.RequestID, messages.QueryResponse{
		EntityIDs: sortedEntityIDs(entities),
	})
	return nil
}

func (h *RealtimeHandler) HandleQueryPairs(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, _, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.QueryPairsRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	pairs := models.EntityPairsToMessage(scene.OverlappingPairs(req.UseGrid))
	slices.SortFunc(pairs, func(a, b [2]uint32) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})

	respond.Send(messages.MsgTypeQueryPairsResponse, msg.RequestID, messages.QueryPairsResponse{
		Pairs: pairs,
	})
	return nil
}

// HandleQueryVisible returns the entities in the frustum of the request
// camera, or of the participant camera when the request has none.
func (h *RealtimeHandler) HandleQueryVisible(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.QueryVisibleRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	camera := participant.Camera()
	if req.Camera != nil {
		if camera, err = models.NewCamera(*req.Camera); err != nil {
			respondError(respond, msg, err)
			return nil
		}
	}
	if camera == nil {
		respondError(respond, msg, errors.New("camera not set").
			WithType(models.ErrTypeInvalidCamera))
		return nil
	}

	entities := scene.VisibleEntities(camera.Planes(), req.UseGrid)

	respond.Send(messages.MsgTypeQueryVisibleResponse, msg.RequestID, messages.QueryResponse{
		EntityIDs: sortedEntityIDs(entities),
	})
	return nil
}

func (h *RealtimeHandler) HandleQueryRaycast(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	scene, _, err := h.joined(msg)
	if err != nil {
		return err
	}

	var req messages.QueryRaycastRequest
	if err := msg.DataTo(&req); err != nil {
		respondError(respond, msg, err)
		return nil
	}

	hit, ok, err := scene.RayCast(req.Ray)
	if err != nil {
		respondError(respond, msg, err)
		return nil
	}

	res := messages.QueryRaycastResponse{Hit: ok}
	if ok {
		res.EntityID = hit.Entity.ID
		res.Factor = hit.Factor
		res.Point = hit.Point
		res.Normal = hit.Normal
	}

	respond.Send(messages.MsgTypeQueryRaycastResponse, msg.RequestID, res)
	return nil
}

func (h *RealtimeHandler) HandleUnknownMessage(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	respondError(respond, msg, errors.New("unknown message type").
		WithType(messages.ErrTypeUnknownMsg).
		WithTag("msg_type", msg.TypeString()))
	return nil
}

func (h *RealtimeHandler) HandleWithModule(ctx context.Context, m modules.Module, respond messages.ResponseSender, msg messages.Msg) error {
	if h.CurrentParticipant() == nil || h.CurrentScene() == nil {
		return nil
	}

	err := m.HandleMsg(ctx, respond, msg)
	if errors.IsType(err, messages.ErrTypeMsgSkip) {
		return nil
	}
	if err != nil {
		return errors.New("handling message with module failed").
			WithTag("module", m.Name()).
			Wrap(err)
	}
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond messages.ResponseSender) error {
	respond.Send(messages.MsgTypeSyncClock, 0, nil)
	return nil
}

func (h *RealtimeHandler) Receiver() messages.Receiver {
	return func() (messages.Msg, int, error) {
		return messages.Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() messages.Sender {
	return func(msg messages.Msg) (int, error) {
		return messages.Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetScenes() *models.SceneStore {
	return h.Scenes
}

func (h *RealtimeHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *RealtimeHandler) CurrentScene() *models.Scene {
	return h.currentScene
}

func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func (h *RealtimeHandler) sceneConfig() models.SceneConfig {
	conf := h.SceneConfig
	h.FeatureFlags.IfSet(featureflag.FlagDisableGridIndex, func() {
		conf.DisableGrid = true
	})
	h.FeatureFlags.IfSet(featureflag.FlagDisableHighQualityStatic, func() {
		conf.DisableHighQualityStatic = true
	})
	return conf
}

func (h *RealtimeHandler) joined(msg messages.Msg) (*models.Scene, *models.Participant, error) {
	scene := h.currentScene
	participant := h.currentParticipant
	if participant == nil || scene == nil {
		return nil, nil, errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.TypeString())
	}
	return scene, participant, nil
}

func (h *RealtimeHandler) leaveScene() {
	scene := h.currentScene
	participant := h.currentParticipant

	if participant == nil || scene == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	for id := range participant.EntityIDs() {
		entity, ok := scene.EntityByID(id)
		if !ok || entity.Persist {
			continue
		}

		scene.RemoveEntity(entity)
		participant.RemoveEntity(entity)

		h.FeatureFlags.IfNotSet(featureflag.FlagDisableEntityDeleteBroadcast, func() {
			scene.Broadcast(participant, messages.MsgTypeEntityDeleteBroadcast, messages.EntityDeleteBroadcast{
				EntityID: entity.ID,
			})
		})
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
		h.stopFrameHandling = nil
	}
	scene.RemoveParticipant(participant)

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantLeaveBroadcast, func() {
		scene.Broadcast(participant, messages.MsgTypeParticipantLeaveBroadcast, messages.ParticipantBroadcast{
			ParticipantID: participant.ID,
		})
	})

	if scene.ParticipantCount() == 0 {
		h.Scenes.Remove(context.Background(), scene)
	}

	h.currentParticipant = nil
	h.currentScene = nil
}

func ownedEntity(scene *models.Scene, participant *models.Participant, id uint32) (*models.Entity, error) {
	entity, ok := scene.EntityByID(id)
	if !ok {
		return nil, errors.New("entity not found").
			WithType(models.ErrTypeEntityNotFound).
			WithTag("entity_id", id)
	}

	if entity.ParticipantID != participant.ID {
		return nil, errors.New("entity is owned by another participant").
			WithType(models.ErrTypeEntityForbidden).
			WithTag("entity_id", id).
			WithTag("owner_id", entity.ParticipantID)
	}
	return entity, nil
}

func respondError(respond messages.ResponseSender, msg messages.Msg, err error) {
	respond.Send(messages.MsgTypeError, msg.RequestID, messages.ErrorResponseFrom(err))
}

func sortedEntityIDs(entities []*models.Entity) []uint32 {
	ids := models.EntityIDs(entities)
	slices.Sort(ids)
	return ids
}
