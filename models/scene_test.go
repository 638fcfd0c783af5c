package models

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/spatial"
	"github.com/stretchr/testify/require"
)

var testWorld = spatial.NewExtents(mgl64.Vec3{-100, -50, -100}, mgl64.Vec3{100, 50, 100})

func newTestScene(t *testing.T, conf ...SceneConfig) *Scene {
	c := SceneConfig{
		GridExtents:  testWorld,
		GridCellSize: 10,
	}
	if len(conf) != 0 {
		c = conf[0]
	}

	scene, err := NewScene(42, time.Second, c)
	require.NoError(t, err)
	t.Cleanup(scene.Close)
	return scene
}

func box(x, y, z float64) spatial.Extents {
	return spatial.NewExtents(mgl64.Vec3{x, y, z}, mgl64.Vec3{x + 1, y + 1, z + 1})
}

func addTestEntity(t *testing.T, s *Scene, static bool, extents spatial.Extents) *Entity {
	e := &Entity{
		ID:     s.NewEntityID(),
		Static: static,
	}
	require.NoError(t, s.AddEntity(e, extents))
	return e
}

func sortedIDs(entities []*Entity) []uint32 {
	ids := EntityIDs(entities)
	slices.Sort(ids)
	return ids
}

func TestNewScene(t *testing.T) {
	t.Run("with grid", func(t *testing.T) {
		s := newTestScene(t)
		require.True(t, s.HasGrid())
		require.True(t, s.static.HighQuality())
		require.False(t, s.dynamic.HighQuality())
		require.NotEmpty(t, s.SceneUUID)
	})

	t.Run("without grid and high quality", func(t *testing.T) {
		s := newTestScene(t, SceneConfig{
			DisableGrid:              true,
			DisableHighQualityStatic: true,
		})
		require.False(t, s.HasGrid())
		require.False(t, s.static.HighQuality())
	})

	t.Run("invalid grid", func(t *testing.T) {
		_, err := NewScene(42, time.Second, SceneConfig{
			GridExtents:  testWorld,
			GridCellSize: 0,
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
	})
}

func TestSceneNewParticipantID(t *testing.T) {
	s := newTestScene(t)
	require.NotZero(t, s.NewParticipantID())
}

func TestSceneAddParticipant(t *testing.T) {
	participant := &Participant{ID: 777}
	s := newTestScene(t)

	s.AddParticipant(participant)
	require.Len(t, s.participants, 1)
	require.Equal(t, participant, s.participants[777])
	require.Equal(t, 1, s.ParticipantCount())
}

func TestSceneRemoveParticipant(t *testing.T) {
	s := newTestScene(t)
	participant := &Participant{ID: s.NewParticipantID()}

	s.AddParticipant(participant)
	require.Len(t, s.participants, 1)

	s.RemoveParticipant(participant)
	require.Empty(t, s.participants)
	require.Equal(t, participant.ID, s.NewParticipantID())
}

func TestSceneGetParticipants(t *testing.T) {
	s := newTestScene(t)
	for i := 10; i >= 1; i-- {
		s.AddParticipant(&Participant{ID: uint32(i)})
	}

	participants := s.GetParticipants()
	require.Len(t, participants, 10)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ParticipantIDs(participants))

	participants = s.GetParticipantsByIDs(3, 7, 42)
	require.Len(t, participants, 2)
	require.Equal(t, []uint32{3, 7}, ParticipantIDs(participants))
}

func TestSceneAddEntity(t *testing.T) {
	t.Run("entity is indexed", func(t *testing.T) {
		s := newTestScene(t)
		e := addTestEntity(t, s, false, box(0, 0, 0))

		require.True(t, e.Indexed())
		require.True(t, e.gridHandle.Valid())
		require.Equal(t, box(0, 0, 0), e.Extents())
		require.Equal(t, 1, s.dynamic.Len())
		require.Zero(t, s.static.Len())
		require.Equal(t, 1, s.EntityCount())

		res, ok := s.EntityByID(e.ID)
		require.True(t, ok)
		require.Equal(t, e, res)
	})

	t.Run("static entity goes to the static tree", func(t *testing.T) {
		s := newTestScene(t)
		addTestEntity(t, s, true, box(0, 0, 0))
		require.Equal(t, 1, s.static.Len())
		require.Zero(t, s.dynamic.Len())
	})

	t.Run("invalid extents are rejected", func(t *testing.T) {
		s := newTestScene(t)
		err := s.AddEntity(&Entity{ID: 1}, spatial.NewExtents(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 1}))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidExtents))

		err = s.AddEntity(&Entity{ID: 1}, spatial.NewExtents(mgl64.Vec3{math.NaN(), 0, 0}, mgl64.Vec3{1, 1, 1}))
		require.True(t, errors.IsType(err, ErrTypeInvalidExtents))
		require.Zero(t, s.EntityCount())
	})

	t.Run("extents outside of the world are rejected", func(t *testing.T) {
		s := newTestScene(t)
		err := s.AddEntity(&Entity{ID: 1}, box(500, 0, 0))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
		require.Zero(t, s.EntityCount())
	})

	t.Run("extents crossing the world border are rejected", func(t *testing.T) {
		s := newTestScene(t)
		crossing := []spatial.Extents{
			spatial.NewExtents(mgl64.Vec3{95, 0, 0}, mgl64.Vec3{150, 1, 1}),
			spatial.NewExtents(mgl64.Vec3{0, 0, -120}, mgl64.Vec3{1, 1, 0}),
			spatial.NewExtents(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 60, 1}),
		}
		for _, extents := range crossing {
			err := s.AddEntity(&Entity{ID: s.NewEntityID()}, extents)
			require.True(t, errors.IsType(err, ErrTypeOutOfBounds), "%v", extents)
		}
		require.Zero(t, s.EntityCount())

		e := addTestEntity(t, s, false, box(90, 0, 0))
		err := s.UpdateEntity(e, crossing[0])
		require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
		require.Equal(t, box(90, 0, 0), e.Extents())
	})

	t.Run("extents outside of the world are accepted without grid", func(t *testing.T) {
		s := newTestScene(t, SceneConfig{DisableGrid: true})
		addTestEntity(t, s, false, box(500, 0, 0))
		require.Equal(t, 1, s.EntityCount())
	})

	t.Run("entity added twice is rejected", func(t *testing.T) {
		s := newTestScene(t)
		e := addTestEntity(t, s, false, box(0, 0, 0))
		require.Error(t, s.AddEntity(e, box(1, 1, 1)))
		require.Equal(t, box(0, 0, 0), e.Extents())
	})
}

func TestSceneUpdateEntity(t *testing.T) {
	t.Run("entity is moved", func(t *testing.T) {
		s := newTestScene(t)
		e := addTestEntity(t, s, false, box(0, 0, 0))

		require.NoError(t, s.UpdateEntity(e, box(50, 0, 50)))
		require.Equal(t, box(50, 0, 50), e.Extents())

		res, err := s.OverlappingEntities(box(50, 0, 50), false)
		require.NoError(t, err)
		require.Equal(t, []*Entity{e}, res)

		res, err = s.OverlappingEntities(box(50, 0, 50), true)
		require.NoError(t, err)
		require.Equal(t, []*Entity{e}, res)

		res, err = s.OverlappingEntities(box(0, 0, 0), false)
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("unknown entity", func(t *testing.T) {
		s := newTestScene(t)
		err := s.UpdateEntity(&Entity{ID: 3}, box(0, 0, 0))
		require.True(t, errors.IsType(err, ErrTypeEntityNotFound))
	})

	t.Run("invalid extents keep the entity in place", func(t *testing.T) {
		s := newTestScene(t)
		e := addTestEntity(t, s, false, box(0, 0, 0))

		err := s.UpdateEntity(e, box(1000, 0, 0))
		require.True(t, errors.IsType(err, ErrTypeOutOfBounds))
		require.Equal(t, box(0, 0, 0), e.Extents())
	})
}

func TestSceneRemoveEntity(t *testing.T) {
	s := newTestScene(t)
	a := addTestEntity(t, s, false, box(0, 0, 0))
	b := addTestEntity(t, s, true, box(0, 0, 0))

	s.RemoveEntity(a)
	require.False(t, a.Indexed())
	require.False(t, a.gridHandle.Valid())
	require.Equal(t, 1, s.EntityCount())

	res, err := s.OverlappingEntities(box(0, 0, 0), false)
	require.NoError(t, err)
	require.Equal(t, []*Entity{b}, res)

	s.RemoveEntity(a)
	require.Equal(t, 1, s.EntityCount())

	_, ok := s.EntityByID(a.ID)
	require.False(t, ok)
}

func TestSceneEntities(t *testing.T) {
	s := newTestScene(t)
	for i := 0; i < 5; i++ {
		addTestEntity(t, s, i%2 == 0, box(float64(i*3), 0, 0))
	}

	require.Equal(t, []uint32{1, 2, 3, 4, 5}, EntityIDs(s.Entities()))
}

func TestSceneExtents(t *testing.T) {
	s := newTestScene(t)

	_, ok := s.Extents()
	require.False(t, ok)

	addTestEntity(t, s, true, box(-10, 0, 0))
	addTestEntity(t, s, false, box(10, 5, 20))

	extents, ok := s.Extents()
	require.True(t, ok)
	require.Equal(t, spatial.NewExtents(mgl64.Vec3{-10, 0, 0}, mgl64.Vec3{11, 6, 21}), extents)
}

func TestSceneFinalize(t *testing.T) {
	s := newTestScene(t)
	addTestEntity(t, s, true, box(0, 0, 0))
	addTestEntity(t, s, false, box(0, 0, 0))
	require.True(t, s.static.NeedsFinalize())
	require.True(t, s.dynamic.NeedsFinalize())

	s.Finalize()
	require.False(t, s.static.NeedsFinalize())
	require.False(t, s.dynamic.NeedsFinalize())
}

// populate adds entities on a lattice so that no two of them touch, then
// adds overlapping boxes on some of them.
func populate(t *testing.T, s *Scene, rnd *rand.Rand) []*Entity {
	var entities []*Entity
	for x := -90; x < 90; x += 4 {
		for z := -90; z < 90; z += 4 {
			if rnd.Intn(3) != 0 {
				continue
			}
			e := addTestEntity(t, s, rnd.Intn(2) == 0, box(float64(x), float64(rnd.Intn(20)), float64(z)))
			entities = append(entities, e)

			if rnd.Intn(8) == 0 {
				shifted := e.Extents()
				shifted.MinX += 0.5
				shifted.MaxX += 0.5
				entities = append(entities, addTestEntity(t, s, rnd.Intn(2) == 0, shifted))
			}
		}
	}
	return entities
}

func TestSceneQueries(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	s := newTestScene(t)
	entities := populate(t, s, rnd)

	for _, e := range entities {
		if !e.Static && rnd.Intn(2) == 0 {
			ext := e.Extents()
			ext.MinY += 0.25
			ext.MaxY += 0.25
			require.NoError(t, s.UpdateEntity(e, ext))
		}
	}

	for _, useGrid := range []bool{false, true} {
		t.Run(fmt.Sprintf("overlap grid=%v", useGrid), func(t *testing.T) {
			for i := 0; i < 20; i++ {
				min := mgl64.Vec3{rnd.Float64()*180 - 90, rnd.Float64() * 20, rnd.Float64()*180 - 90}
				query := spatial.NewExtents(min, min.Add(mgl64.Vec3{rnd.Float64() * 40, rnd.Float64() * 10, rnd.Float64() * 40}))

				var expected []*Entity
				for _, e := range entities {
					if query.Overlaps(e.Extents()) {
						expected = append(expected, e)
					}
				}

				res, err := s.OverlappingEntities(query, useGrid)
				require.NoError(t, err)
				require.Equal(t, sortedIDs(expected), sortedIDs(res))
			}
		})

		t.Run(fmt.Sprintf("sphere grid=%v", useGrid), func(t *testing.T) {
			for i := 0; i < 20; i++ {
				center := mgl64.Vec3{rnd.Float64()*180 - 90, rnd.Float64() * 20, rnd.Float64()*180 - 90}
				radius := rnd.Float64() * 20

				var expected []*Entity
				for _, e := range entities {
					if e.Extents().DistanceSquared(center) <= radius*radius {
						expected = append(expected, e)
					}
				}

				res, err := s.SphereEntities(center, radius, useGrid)
				require.NoError(t, err)
				require.Equal(t, sortedIDs(expected), sortedIDs(res))
			}
		})

		t.Run(fmt.Sprintf("pairs grid=%v", useGrid), func(t *testing.T) {
			var expected [][2]uint32
			for i, a := range entities {
				for _, b := range entities[i+1:] {
					if (a.Static && b.Static) || !a.Extents().Overlaps(b.Extents()) {
						continue
					}
					expected = append(expected, EntityPairsToMessage([]EntityPair{{A: a, B: b}})[0])
				}
			}
			require.NotEmpty(t, expected)

			res := EntityPairsToMessage(s.OverlappingPairs(useGrid))
			slices.SortFunc(expected, comparePairs)
			slices.SortFunc(res, comparePairs)
			require.Equal(t, expected, res)
		})

		t.Run(fmt.Sprintf("visible grid=%v", useGrid), func(t *testing.T) {
			camera, err := NewCamera(messages.Camera{
				Eye:    mgl64.Vec3{0, 40, 0},
				Target: mgl64.Vec3{30, 0, 30},
				Up:     mgl64.Vec3{0, 1, 0},
				FOV:    60,
				Aspect: 1.5,
				Near:   0.1,
				Far:    80,
			})
			require.NoError(t, err)

			var expected []*Entity
			for _, e := range entities {
				if e.Extents().IsInsidePlanes(camera.Planes()) {
					expected = append(expected, e)
				}
			}
			require.NotEmpty(t, expected)

			res := s.VisibleEntities(camera.Planes(), useGrid)
			require.Equal(t, sortedIDs(expected), sortedIDs(res))
		})
	}

	t.Run("grid is ignored when disabled", func(t *testing.T) {
		noGrid := newTestScene(t, SceneConfig{DisableGrid: true})
		e := addTestEntity(t, noGrid, false, box(0, 0, 0))

		res, err := noGrid.OverlappingEntities(box(0, 0, 0), true)
		require.NoError(t, err)
		require.Equal(t, []*Entity{e}, res)
	})

	t.Run("invalid queries", func(t *testing.T) {
		_, err := s.OverlappingEntities(spatial.EmptyExtents(), false)
		require.True(t, errors.IsType(err, ErrTypeInvalidExtents))

		_, err = s.SphereEntities(mgl64.Vec3{}, -1, false)
		require.True(t, errors.IsType(err, ErrTypeInvalidQuery))

		_, err = s.SphereEntities(mgl64.Vec3{math.Inf(1), 0, 0}, 1, false)
		require.True(t, errors.IsType(err, ErrTypeInvalidQuery))
	})
}

func comparePairs(a, b [2]uint32) int {
	if a[0] != b[0] {
		return int(a[0]) - int(b[0])
	}
	return int(a[1]) - int(b[1])
}

func TestSceneRayCast(t *testing.T) {
	s := newTestScene(t)
	static := addTestEntity(t, s, true, box(20, -0.5, -0.5))
	dynamic := addTestEntity(t, s, false, box(10, -0.5, -0.5))
	addTestEntity(t, s, false, box(10, 10, 10))

	ray := spatial.Ray{
		Origin:    mgl64.Vec3{0, 0, 0},
		Direction: mgl64.Vec3{1, 0, 0},
		MaxFactor: 100,
	}

	t.Run("closest entity is hit", func(t *testing.T) {
		hit, ok, err := s.RayCast(ray)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, dynamic, hit.Entity)
		require.Equal(t, float64(10), hit.Factor)
		require.Equal(t, mgl64.Vec3{-1, 0, 0}, hit.Normal)
	})

	t.Run("static entity is hit once the dynamic one moved", func(t *testing.T) {
		require.NoError(t, s.UpdateEntity(dynamic, box(10, 30, 0)))

		hit, ok, err := s.RayCast(ray)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, static, hit.Entity)
		require.Equal(t, float64(20), hit.Factor)
	})

	t.Run("miss", func(t *testing.T) {
		r := ray
		r.Direction = mgl64.Vec3{0, 0, -1}
		_, ok, err := s.RayCast(r)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("invalid ray", func(t *testing.T) {
		r := ray
		r.Direction = mgl64.Vec3{}
		_, _, err := s.RayCast(r)
		require.True(t, errors.IsType(err, ErrTypeInvalidQuery))
	})
}

func TestSceneBroadcast(t *testing.T) {
	t.Run("msg from participant A is broadcasted to participant B", func(t *testing.T) {
		var sendACalled bool
		participantA := &Participant{
			ID: 1,
			Responder: testResponseSender{
				sendMsg: func(_ messages.Msg) {
					sendACalled = true
				},
			},
		}

		var received messages.Msg
		participantB := &Participant{
			ID: 2,
			Responder: testResponseSender{
				sendMsg: func(msg messages.Msg) {
					received = msg
				},
			},
		}

		s := newTestScene(t)
		s.AddParticipant(participantA)
		s.AddParticipant(participantB)

		s.Broadcast(participantA, messages.MsgTypeEntityDeleteBroadcast, messages.EntityDeleteBroadcast{EntityID: 3})
		require.False(t, sendACalled)
		require.Equal(t, messages.MsgTypeEntityDeleteBroadcast, received.Type)

		var data messages.EntityDeleteBroadcast
		require.NoError(t, received.DataTo(&data))
		require.Equal(t, uint32(3), data.EntityID)
	})
}

func TestSceneBroadcastTo(t *testing.T) {
	newParticipant := func(id uint32, calls *int) *Participant {
		return &Participant{
			ID: id,
			Responder: testResponseSender{
				sendMsg: func(_ messages.Msg) {
					*calls++
				},
			},
		}
	}

	t.Run("message is not broadcasted to sender", func(t *testing.T) {
		var sendACalls int
		participantA := newParticipant(1, &sendACalls)

		s := newTestScene(t)
		s.AddParticipant(participantA)

		s.BroadcastTo(participantA, messages.MsgTypeVisibility, nil, participantA.ID)
		require.Zero(t, sendACalls)
	})

	t.Run("message is broadcasted to participant B once", func(t *testing.T) {
		var sendACalls, sendBCalls int
		participantA := newParticipant(1, &sendACalls)
		participantB := newParticipant(2, &sendBCalls)

		s := newTestScene(t)
		s.AddParticipant(participantA)
		s.AddParticipant(participantB)

		s.BroadcastTo(participantA, messages.MsgTypeVisibility, nil,
			participantB.ID,
			participantB.ID,
			participantB.ID,
			42,
		)
		require.Zero(t, sendACalls)
		require.Equal(t, 1, sendBCalls)
	})
}

func TestSceneHandleFrame(t *testing.T) {
	s := newTestScene(t)

	cancel := s.HandleFrame(func() {})
	require.Len(t, s.frameHandlers, 1)
	defer cancel()

	cancel()
	require.Empty(t, s.frameHandlers)
}

func TestSceneStartDispatchFrame(t *testing.T) {
	s, err := NewScene(42, time.Millisecond*5, SceneConfig{DisableGrid: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var once sync.Once
	wg.Add(1)

	go s.StartDispatchFrames()

	s.HandleFrame(func() {
		once.Do(wg.Done)
	})

	wg.Wait()
	s.Close()
}

func TestSceneStore(t *testing.T) {
	ctx := context.Background()

	t.Run("scene is added and removed", func(t *testing.T) {
		var scenes SceneStore

		scene := newTestScene(t)
		require.NoError(t, scenes.Add(ctx, scene))
		require.Equal(t, scene, scenes.scenes[scenes.GlobalSceneID(scene.ID)])
		require.Equal(t, 1, scenes.Len())

		scenes.Remove(ctx, scene)
		require.Empty(t, scenes.scenes)
	})

	t.Run("scene id is reused", func(t *testing.T) {
		var scenes SceneStore

		id := scenes.NewID()
		scene, err := NewScene(id, time.Second, SceneConfig{DisableGrid: true})
		require.NoError(t, err)
		require.NoError(t, scenes.Add(ctx, scene))

		scenes.Remove(ctx, scene)
		require.Equal(t, id, scenes.NewID())
	})

	t.Run("scene is retrieved by global id", func(t *testing.T) {
		scenes := SceneStore{ServerID: "ted"}

		scene := newTestScene(t)
		require.NoError(t, scenes.Add(ctx, scene))
		require.Equal(t, "tedx2a", scenes.GlobalSceneID(scene.ID))

		res, ok := scenes.GetByGlobalID("tedx2a")
		require.True(t, ok)
		require.Equal(t, scene, res)

		res, ok = scenes.GetByGlobalID("tedx54")
		require.False(t, ok)
		require.Nil(t, res)
	})

	t.Run("default server id", func(t *testing.T) {
		var scenes SceneStore
		require.Equal(t, "kenazx1", scenes.GlobalSceneID(1))
	})

	t.Run("summaries", func(t *testing.T) {
		var scenes SceneStore

		empty := newTestScene(t)
		empty.ID = 1
		require.NoError(t, scenes.Add(ctx, empty))

		full := newTestScene(t)
		full.ID = 2
		full.AppKey = "app"
		full.AddParticipant(&Participant{ID: 1})
		addTestEntity(t, full, false, box(0, 0, 0))
		require.NoError(t, scenes.Add(ctx, full))

		summaries := scenes.Summaries()
		require.Len(t, summaries, 2)
		require.Equal(t, "kenazx1", summaries[0].ID)
		require.Nil(t, summaries[0].Extents)

		require.Equal(t, SceneSummary{
			ID:           "kenazx2",
			UUID:         full.SceneUUID,
			AppKey:       "app",
			Participants: 1,
			Entities:     1,
			Grid:         true,
			Extents:      &spatial.Extents{MinX: 0, MinY: 0, MinZ: 0, MaxX: 1, MaxY: 1, MaxZ: 1},
		}, summaries[1])
	})
}

type testResponseSender struct {
	send    func(messages.MsgType, uint32, any)
	sendMsg func(messages.Msg)
}

func (r testResponseSender) Send(t messages.MsgType, requestID uint32, data any) {
	if r.send != nil {
		r.send(t, requestID, data)
	}
}

func (r testResponseSender) SendMsg(msg messages.Msg) {
	if r.sendMsg != nil {
		r.sendMsg(msg)
	}
}
