package models

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/spatial"
)

const (
	ErrTypeEntityNotFound  = "entity_not_found"
	ErrTypeEntityForbidden = "entity_forbidden"
	ErrTypeInvalidExtents  = "invalid_extents"
	ErrTypeOutOfBounds     = "out_of_bounds"
	ErrTypeInvalidCamera   = "invalid_camera"
	ErrTypeInvalidQuery    = "invalid_query"
)

// SceneConfig describes the spatial indexes of a scene.
type SceneConfig struct {
	// The world area covered by the grid index. Entities added to a scene
	// with a grid must overlap it on X and Z.
	GridExtents spatial.Extents

	// The edge length of the grid cells.
	GridCellSize float64

	// Disables the grid index. Queries asking for the grid are answered by
	// the trees.
	DisableGrid bool

	// Builds the static tree with the default partitioning instead of the
	// surface area heuristic.
	DisableHighQualityStatic bool
}

// Scene contains participants and the entities they place in a shared world.
// Entities are indexed by two bounding volume trees, one for static entities
// and one for moving ones, and optionally by a uniform grid.
type Scene struct {
	ID        uint32
	SceneUUID string

	AppKey string

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	entityIDs   SequentialIDGenerator
	entityMutex sync.RWMutex
	entities    map[uint32]*Entity
	static      *spatial.AABBTree[*Entity]
	dynamic     *spatial.AABBTree[*Entity]
	grid        *spatial.Grid[*Entity]

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

func NewScene(id uint32, frameDuration time.Duration, conf SceneConfig) (*Scene, error) {
	var staticOptions []spatial.TreeOption
	if !conf.DisableHighQualityStatic {
		staticOptions = append(staticOptions, spatial.WithHighQuality())
	}

	var grid *spatial.Grid[*Entity]
	if !conf.DisableGrid {
		var err error
		if grid, err = spatial.NewGrid[*Entity](conf.GridExtents, conf.GridCellSize); err != nil {
			return nil, errors.New("creating scene grid failed").
				WithType(ErrTypeOutOfBounds).
				Wrap(err)
		}
	}

	return &Scene{
		ID:             id,
		SceneUUID:      uuid.New().String(),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		participants:   make(map[uint32]*Participant),
		entities:       make(map[uint32]*Entity),
		static:         spatial.NewAABBTree[*Entity](staticOptions...),
		dynamic:        spatial.NewAABBTree[*Entity](),
		grid:           grid,
		frameHandlers:  make(map[uint32]func()),
	}, nil
}

func (s *Scene) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}

		s.entityMutex.Lock()
		defer s.entityMutex.Unlock()

		for _, e := range s.entities {
			instrumentEntityGauge(e.kind(), -1)
		}
	})
}

func (s *Scene) NewParticipantID() uint32 {
	return s.participantIDs.New()
}

func (s *Scene) AddParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	s.participants[p.ID] = p
}

func (s *Scene) RemoveParticipant(p *Participant) {
	s.participantMutex.Lock()
	defer s.participantMutex.Unlock()

	delete(s.participants, p.ID)
	s.participantIDs.Reuse(p.ID)
}

func (s *Scene) GetParticipants() []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, p)
	}
	slices.SortFunc(participants, func(a, b *Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return participants
}

func (s *Scene) GetParticipantsByIDs(ids ...uint32) []*Participant {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := s.participants[id]
		if ok {
			participants = append(participants, p)
		}
	}
	return participants
}

func (s *Scene) ParticipantCount() int {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	return len(s.participants)
}

func (s *Scene) NewEntityID() uint32 {
	return s.entityIDs.New()
}

// HasGrid reports whether the scene maintains a grid index.
func (s *Scene) HasGrid() bool {
	return s.grid != nil
}

// AddEntity indexes an entity with the given extents.
func (s *Scene) AddEntity(e *Entity, extents spatial.Extents) error {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if _, ok := s.entities[e.ID]; ok {
		return errors.New("entity already added").
			WithType(messages.ErrTypeBadRequest).
			WithTag("entity_id", e.ID)
	}
	if err := s.validateEntityExtents(extents); err != nil {
		return err
	}

	e.setExtents(extents)
	s.tree(e).Add(&e.treeHandle, e, extents)
	if s.grid != nil {
		s.grid.Add(&e.gridHandle, e, extents)
	}
	s.entities[e.ID] = e

	instrumentEntityGauge(e.kind(), 1)
	return nil
}

// UpdateEntity moves an entity to new extents.
func (s *Scene) UpdateEntity(e *Entity, extents spatial.Extents) error {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if current, ok := s.entities[e.ID]; !ok || current != e {
		return errors.New("entity not found").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", e.ID)
	}
	if err := s.validateEntityExtents(extents); err != nil {
		return err
	}

	e.setExtents(extents)
	s.tree(e).Update(&e.treeHandle, e, extents)
	if s.grid != nil {
		s.grid.Update(&e.gridHandle, e, extents)
	}
	return nil
}

// RemoveEntity removes an entity from the scene and its indexes. Removing an
// entity that is not in the scene does nothing.
func (s *Scene) RemoveEntity(e *Entity) {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	if current, ok := s.entities[e.ID]; !ok || current != e {
		return
	}

	delete(s.entities, e.ID)
	s.tree(e).Remove(&e.treeHandle)
	if s.grid != nil {
		s.grid.Remove(&e.gridHandle)
	}

	instrumentEntityGauge(e.kind(), -1)
}

func (s *Scene) EntityByID(id uint32) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

// Entities returns the scene entities ordered by id.
func (s *Scene) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	slices.SortFunc(entities, func(a, b *Entity) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return entities
}

func (s *Scene) EntityCount() int {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	return len(s.entities)
}

// Finalize brings the trees up to date with the changes made since the last
// finalization. Queries finalize the trees on their own.
func (s *Scene) Finalize() {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	s.finalize()
}

// Extents returns the union of the extents of all entities. It returns false
// when the scene has no entity.
func (s *Scene) Extents() (spatial.Extents, bool) {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	s.finalize()

	extents := spatial.EmptyExtents()
	found := false
	for _, tree := range s.trees() {
		if root, ok := tree.RootExtents(); ok {
			extents = extents.Union(root)
			found = true
		}
	}
	return extents, found
}

// OverlappingEntities returns the entities whose extents overlap the given
// box, boundaries included.
func (s *Scene) OverlappingEntities(box spatial.Extents, useGrid bool) ([]*Entity, error) {
	if !box.IsValid() {
		return nil, errors.New("invalid query extents").
			WithType(ErrTypeInvalidExtents).
			WithTag("extents", box)
	}

	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	defer instrumentQuery("overlap", s.queryIndex(useGrid), time.Now())

	if s.useGrid(useGrid) {
		return s.grid.OverlappingNodes(box, nil), nil
	}

	s.finalize()

	var res []*Entity
	for _, tree := range s.trees() {
		res = tree.OverlappingNodes(box, res)
	}
	return res, nil
}

// SphereEntities returns the entities whose extents are within radius of
// center.
func (s *Scene) SphereEntities(center mgl64.Vec3, radius float64, useGrid bool) ([]*Entity, error) {
	if !finiteVec(center) || !(radius >= 0) || math.IsInf(radius, 0) {
		return nil, errors.New("invalid sphere").
			WithType(ErrTypeInvalidQuery).
			WithTag("center", center).
			WithTag("radius", radius)
	}

	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	defer instrumentQuery("sphere", s.queryIndex(useGrid), time.Now())

	if s.useGrid(useGrid) {
		return s.grid.SphereOverlappingNodes(center, radius, nil), nil
	}

	s.finalize()

	var res []*Entity
	for _, tree := range s.trees() {
		res = tree.SphereOverlappingNodes(center, radius, res)
	}
	return res, nil
}

// OverlappingPairs returns the pairs of overlapping entities where at least
// one entity is dynamic. Each pair is reported once.
func (s *Scene) OverlappingPairs(useGrid bool) []EntityPair {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	defer instrumentQuery("pairs", s.queryIndex(useGrid), time.Now())

	var res []EntityPair

	if s.useGrid(useGrid) {
		for _, p := range s.grid.OverlappingPairs(nil) {
			if p.A.Static && p.B.Static {
				continue
			}
			res = append(res, EntityPair{A: p.A, B: p.B})
		}
		return res
	}

	s.finalize()

	for _, p := range s.dynamic.OverlappingPairs(nil) {
		res = append(res, EntityPair{A: p.A, B: p.B})
	}

	var overlaps []*Entity
	s.dynamic.Walk(func(e *Entity, extents spatial.Extents) bool {
		overlaps = s.static.OverlappingNodes(extents, overlaps[:0])
		for _, o := range overlaps {
			res = append(res, EntityPair{A: e, B: o})
		}
		return true
	})
	return res
}

// VisibleEntities returns the entities at least partially inside all the
// given planes.
func (s *Scene) VisibleEntities(planes []spatial.Plane, useGrid bool) []*Entity {
	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	defer instrumentQuery("visible", s.queryIndex(useGrid), time.Now())

	if s.useGrid(useGrid) {
		return s.grid.VisibleNodes(planes, nil)
	}

	s.finalize()

	var res []*Entity
	for _, tree := range s.trees() {
		res = tree.VisibleNodes(planes, res)
	}
	return res
}

// RayHit is the entity hit by a ray cast.
type RayHit struct {
	spatial.RayHit
	Entity *Entity
}

// RayCast returns the closest entity hit by a ray across the static and
// dynamic trees.
func (s *Scene) RayCast(ray spatial.Ray) (RayHit, bool, error) {
	if !finiteVec(ray.Origin) || !finiteVec(ray.Direction) || ray.Direction.Len() == 0 ||
		math.IsNaN(ray.MaxFactor) {
		return RayHit{}, false, errors.New("invalid ray").
			WithType(ErrTypeInvalidQuery).
			WithTag("ray", ray)
	}

	s.entityMutex.Lock()
	defer s.entityMutex.Unlock()

	defer instrumentQuery("raycast", indexTrees, time.Now())

	s.finalize()

	res, ok := spatial.RayTest(s.trees(), ray, spatial.HitExtents((*Entity).Extents))
	if !ok {
		return RayHit{}, false, nil
	}
	return RayHit{
		RayHit: res.RayHit,
		Entity: res.Item,
	}, true, nil
}

func (s *Scene) Broadcast(sender *Participant, t messages.MsgType, data any) {
	s.participantMutex.RLock()
	defer s.participantMutex.RUnlock()

	msg, err := messages.NewMsg(t, 0, data)
	if err != nil {
		logs.WithTag("msg_type", t).Debug(err)
		return
	}

	for _, p := range s.participants {
		if p == sender {
			continue
		}
		p.Responder.SendMsg(msg)
	}
}

func (s *Scene) BroadcastTo(sender *Participant, t messages.MsgType, data any, participantIDs ...uint32) {
	participants := s.GetParticipantsByIDs(participantIDs...)
	isParticipantHandled := make(map[uint32]struct{}, len(participantIDs))

	msg, err := messages.NewMsg(t, 0, data)
	if err != nil {
		logs.WithTag("msg_type", t).Debug(err)
		return
	}

	for _, p := range participants {
		if p == sender {
			continue
		}

		if _, ok := isParticipantHandled[p.ID]; ok {
			continue
		}
		isParticipantHandled[p.ID] = struct{}{}

		p.Responder.SendMsg(msg)
	}
}

func (s *Scene) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Scene) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

func (s *Scene) tree(e *Entity) *spatial.AABBTree[*Entity] {
	if e.Static {
		return s.static
	}
	return s.dynamic
}

func (s *Scene) trees() []*spatial.AABBTree[*Entity] {
	return []*spatial.AABBTree[*Entity]{s.static, s.dynamic}
}

func (s *Scene) useGrid(requested bool) bool {
	return requested && s.grid != nil
}

func (s *Scene) queryIndex(useGrid bool) string {
	if s.useGrid(useGrid) {
		return indexGrid
	}
	return indexTrees
}

func (s *Scene) finalize() {
	if s.static.NeedsFinalize() {
		start := time.Now()
		s.static.Finalize()
		instrumentFinalize(indexStatic, start)
	}

	if s.dynamic.NeedsFinalize() {
		start := time.Now()
		s.dynamic.Finalize()
		instrumentFinalize(indexDynamic, start)
	}
}

func (s *Scene) validateEntityExtents(extents spatial.Extents) error {
	if !extents.IsValid() {
		return errors.New("invalid entity extents").
			WithType(ErrTypeInvalidExtents).
			WithTag("extents", extents)
	}

	if s.grid != nil && !s.grid.Accepts(extents) {
		return errors.New("entity extents outside of the world").
			WithType(ErrTypeOutOfBounds).
			WithTag("extents", extents).
			WithTag("world_extents", s.grid.GridExtents())
	}
	return nil
}
