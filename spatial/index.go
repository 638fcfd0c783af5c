// Package spatial implements the spatial indexes used to answer overlap,
// visibility and ray queries on scene entities: a flattened dynamic AABB tree
// and a uniform grid over the XZ plane.
//
// Indexes are not safe for concurrent use. Mutations are batched, then
// Finalize is called, then queries are run.
package spatial

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Handle is the slot an index assigns to an entity. The zero value means the
// entity is not in the index. An entity stored in several indexes needs one
// handle per index.
type Handle struct {
	slot int
}

// Valid reports whether the handle refers to an entity stored in an index.
func (h *Handle) Valid() bool {
	return h != nil && h.slot > 0
}

func (h *Handle) index() int {
	return h.slot - 1
}

func (h *Handle) set(index int) {
	h.slot = index + 1
}

func (h *Handle) reset() {
	h.slot = 0
}

// Pair is a couple of entities whose extents overlap.
type Pair[T any] struct {
	A T
	B T
}

// Index is the query contract shared by AABBTree and Grid.
//
// Query methods append their results to out and return the extended slice.
// Passing out[:n] writes the results from position n.
type Index[T any] interface {
	// Adds an entity. The handle is stamped with the entity slot.
	Add(h *Handle, item T, extents Extents)

	// Updates the extents of an entity. Entities not yet added are added.
	Update(h *Handle, item T, extents Extents)

	// Removes an entity and resets its handle. Removing an entity that is not
	// in the index does nothing.
	Remove(h *Handle)

	// Restores the index structure after a batch of mutations. Must be called
	// before querying.
	Finalize()

	// Removes all the entities.
	Clear()

	// Returns the number of entities.
	Len() int

	// Returns the stored extents of an entity.
	Extents(h *Handle) (Extents, bool)

	// Appends the entities overlapping the given box.
	OverlappingNodes(query Extents, out []T) []T

	// Appends the entities overlapping the given sphere.
	SphereOverlappingNodes(center mgl64.Vec3, radius float64, out []T) []T

	// Appends every couple of overlapping entities once.
	OverlappingPairs(out []Pair[T]) []Pair[T]

	// Appends the entities inside the given planes.
	VisibleNodes(planes []Plane, out []T) []T
}
