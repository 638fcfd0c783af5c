package featureflag

type Flag string

const (
	FlagDisableSceneState                Flag = "DISABLE_SCENE_STATE"
	FlagDisableParticipantJoinBroadcast  Flag = "DISABLE_PARTICIPANT_JOIN_BROADCAST"
	FlagDisableParticipantLeaveBroadcast Flag = "DISABLE_PARTICIPANT_LEAVE_BROADCAST"
	FlagDisableEntityAddBroadcast        Flag = "DISABLE_ENTITY_ADD_BROADCAST"
	FlagDisableEntityUpdateBroadcast     Flag = "DISABLE_ENTITY_UPDATE_BROADCAST"
	FlagDisableEntityDeleteBroadcast     Flag = "DISABLE_ENTITY_DELETE_BROADCAST"

	// Answers every query with the trees and creates scenes without a grid.
	FlagDisableGridIndex Flag = "DISABLE_GRID_INDEX"

	// Builds static trees without the surface area heuristic.
	FlagDisableHighQualityStatic Flag = "DISABLE_HIGH_QUALITY_STATIC"

	FlagDisableVisibilityPush Flag = "DISABLE_VISIBILITY_PUSH"
)
