package models

import (
	"sync"

	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/spatial"
)

// Entity is a box placed in a scene. Static entities are indexed in the
// scene's high quality tree, the others in its dynamic tree.
type Entity struct {
	ID            uint32
	ParticipantID uint32
	Static        bool
	Persist       bool

	mutex   sync.RWMutex
	extents spatial.Extents

	// Owned by the scene indexes, guarded by the scene entity mutex.
	treeHandle spatial.Handle
	gridHandle spatial.Handle
}

func (e *Entity) Extents() spatial.Extents {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.extents
}

func (e *Entity) setExtents(v spatial.Extents) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.extents = v
}

// Indexed reports whether the entity is currently stored in a scene tree.
func (e *Entity) Indexed() bool {
	return e.treeHandle.Valid()
}

func (e *Entity) kind() string {
	if e.Static {
		return entityKindStatic
	}
	return entityKindDynamic
}

func (e *Entity) ToMessage() messages.Entity {
	return messages.Entity{
		ID:            e.ID,
		ParticipantID: e.ParticipantID,
		Static:        e.Static,
		Persist:       e.Persist,
		Extents:       e.Extents(),
	}
}

func EntitiesToMessage(entities []*Entity) []messages.Entity {
	res := make([]messages.Entity, len(entities))
	for i, e := range entities {
		res[i] = e.ToMessage()
	}
	return res
}

// EntityIDs returns the ids of the given entities, keeping their order.
func EntityIDs(entities []*Entity) []uint32 {
	ids := make([]uint32, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

// EntityPair is a pair of entities with overlapping extents.
type EntityPair struct {
	A *Entity
	B *Entity
}

func EntityPairsToMessage(pairs []EntityPair) [][2]uint32 {
	res := make([][2]uint32, len(pairs))
	for i, p := range pairs {
		a, b := p.A.ID, p.B.ID
		if a > b {
			a, b = b, a
		}
		res[i] = [2]uint32{a, b}
	}
	return res
}
