package messages

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/kenazlabs/kenaz/spatial"
)

type MsgType string

const (
	MsgTypePing         MsgType = "ping"
	MsgTypePingResponse MsgType = "ping_response"
	MsgTypeSyncClock    MsgType = "sync_clock"
	MsgTypeError        MsgType = "error"

	MsgTypeSceneJoin                 MsgType = "scene_join"
	MsgTypeSceneJoinResponse         MsgType = "scene_join_response"
	MsgTypeSceneState                MsgType = "scene_state"
	MsgTypeParticipantJoinBroadcast  MsgType = "participant_join_broadcast"
	MsgTypeParticipantLeaveBroadcast MsgType = "participant_leave_broadcast"

	MsgTypeEntityAdd             MsgType = "entity_add"
	MsgTypeEntityAddResponse     MsgType = "entity_add_response"
	MsgTypeEntityAddBroadcast    MsgType = "entity_add_broadcast"
	MsgTypeEntityUpdate          MsgType = "entity_update"
	MsgTypeEntityUpdateResponse  MsgType = "entity_update_response"
	MsgTypeEntityUpdateBroadcast MsgType = "entity_update_broadcast"
	MsgTypeEntityDelete          MsgType = "entity_delete"
	MsgTypeEntityDeleteResponse  MsgType = "entity_delete_response"
	MsgTypeEntityDeleteBroadcast MsgType = "entity_delete_broadcast"

	MsgTypeCameraSet         MsgType = "camera_set"
	MsgTypeCameraSetResponse MsgType = "camera_set_response"
	MsgTypeVisibility        MsgType = "visibility"

	MsgTypeQueryOverlap         MsgType = "query_overlap"
	MsgTypeQueryOverlapResponse MsgType = "query_overlap_response"
	MsgTypeQuerySphere          MsgType = "query_sphere"
	MsgTypeQuerySphereResponse  MsgType = "query_sphere_response"
	MsgTypeQueryPairs           MsgType = "query_pairs"
	MsgTypeQueryPairsResponse   MsgType = "query_pairs_response"
	MsgTypeQueryVisible         MsgType = "query_visible"
	MsgTypeQueryVisibleResponse MsgType = "query_visible_response"
	MsgTypeQueryRaycast         MsgType = "query_raycast"
	MsgTypeQueryRaycastResponse MsgType = "query_raycast_response"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ErrorResponseFrom converts an error to an error response. The error type
// becomes the response code.
func ErrorResponseFrom(err error) ErrorResponse {
	code := errors.Type(err)
	if code == "" {
		code = "internal"
	}

	return ErrorResponse{
		Code:    code,
		Message: err.Error(),
	}
}

type Entity struct {
	ID            uint32          `json:"id"`
	ParticipantID uint32          `json:"participant_id"`
	Static        bool            `json:"static,omitempty"`
	Persist       bool            `json:"persist,omitempty"`
	Extents       spatial.Extents `json:"extents"`
}

// Camera describes a perspective camera. FOV is the vertical field of view in
// degrees.
type Camera struct {
	Eye    mgl64.Vec3 `json:"eye"`
	Target mgl64.Vec3 `json:"target"`
	Up     mgl64.Vec3 `json:"up"`
	FOV    float64    `json:"fov"`
	Aspect float64    `json:"aspect"`
	Near   float64    `json:"near"`
	Far    float64    `json:"far"`
}

type SceneJoinRequest struct {
	SceneID string `json:"scene_id,omitempty"`
}

type SceneJoinResponse struct {
	SceneID       string `json:"scene_id"`
	SceneUUID     string `json:"scene_uuid"`
	ParticipantID uint32 `json:"participant_id"`
}

type SceneState struct {
	Participants []uint32         `json:"participants"`
	Entities     []Entity         `json:"entities"`
	Extents      *spatial.Extents `json:"extents,omitempty"`
}

type ParticipantBroadcast struct {
	ParticipantID uint32 `json:"participant_id"`
}

type EntityAddRequest struct {
	Static  bool            `json:"static,omitempty"`
	Persist bool            `json:"persist,omitempty"`
	Extents spatial.Extents `json:"extents"`
}

type EntityAddResponse struct {
	EntityID uint32 `json:"entity_id"`
}

type EntityUpdateRequest struct {
	EntityID uint32          `json:"entity_id"`
	Extents  spatial.Extents `json:"extents"`
}

type EntityDeleteRequest struct {
	EntityID uint32 `json:"entity_id"`
}

type EntityBroadcast struct {
	Entity Entity `json:"entity"`
}

type EntityDeleteBroadcast struct {
	EntityID uint32 `json:"entity_id"`
}

type CameraSetRequest struct {
	Camera Camera `json:"camera"`
}

type QueryOverlapRequest struct {
	Extents spatial.Extents `json:"extents"`
	UseGrid bool            `json:"use_grid,omitempty"`
}

type QuerySphereRequest struct {
	Center  mgl64.Vec3 `json:"center"`
	Radius  float64    `json:"radius"`
	UseGrid bool       `json:"use_grid,omitempty"`
}

type QueryPairsRequest struct {
	UseGrid bool `json:"use_grid,omitempty"`
}

// QueryVisibleRequest asks for the entities seen by a camera. The
// participant's current camera is used when Camera is nil.
type QueryVisibleRequest struct {
	Camera  *Camera `json:"camera,omitempty"`
	UseGrid bool    `json:"use_grid,omitempty"`
}

type QueryRaycastRequest struct {
	Ray spatial.Ray `json:"ray"`
}

type QueryResponse struct {
	EntityIDs []uint32 `json:"entity_ids"`
}

type QueryPairsResponse struct {
	Pairs [][2]uint32 `json:"pairs"`
}

type QueryRaycastResponse struct {
	Hit      bool       `json:"hit"`
	EntityID uint32     `json:"entity_id,omitempty"`
	Factor   float64    `json:"factor,omitempty"`
	Point    mgl64.Vec3 `json:"point"`
	Normal   mgl64.Vec3 `json:"normal"`
}

type Visibility struct {
	EntityIDs []uint32 `json:"entity_ids"`
}
