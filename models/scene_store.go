package models

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kenazlabs/kenaz/spatial"
)

const defaultServerID = "kenaz"

// SceneStore keeps the scenes hosted by the server.
type SceneStore struct {
	// The prefix of global scene ids. Defaults to "kenaz".
	ServerID string

	initOnce sync.Once
	mutex    sync.RWMutex
	scenes   map[string]*Scene
	ids      SequentialIDGenerator
}

func (s *SceneStore) init() {
	s.scenes = map[string]*Scene{}

	if s.ServerID == "" {
		s.ServerID = defaultServerID
	}
}

func (s *SceneStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SceneStore) Add(ctx context.Context, scene *Scene) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.scenes[s.GlobalSceneID(scene.ID)] = scene

	instrumentIncreaseSceneGauge(scene.AppKey)
	instrumentCountScene(scene.AppKey)
	return nil
}

func (s *SceneStore) Remove(ctx context.Context, scene *Scene) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.GlobalSceneID(scene.ID)
	if current, ok := s.scenes[id]; !ok || current != scene {
		return
	}

	delete(s.scenes, id)
	scene.Close()

	s.ids.Reuse(scene.ID)

	instrumentDecreaseSceneGauge(scene.AppKey)
}

func (s *SceneStore) GetByGlobalID(v string) (*Scene, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scene, ok := s.scenes[v]
	return scene, ok
}

func (s *SceneStore) GlobalSceneID(sceneID uint32) string {
	s.initOnce.Do(s.init)
	return fmt.Sprintf("%sx%x", s.ServerID, sceneID)
}

func (s *SceneStore) Len() int {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.scenes)
}

// SceneSummary describes a hosted scene.
type SceneSummary struct {
	ID           string           `json:"id"`
	UUID         string           `json:"uuid"`
	AppKey       string           `json:"app_key,omitempty"`
	Participants int              `json:"participants"`
	Entities     int              `json:"entities"`
	Grid         bool             `json:"grid"`
	Extents      *spatial.Extents `json:"extents,omitempty"`
}

// Summaries describes the hosted scenes, ordered by global id.
func (s *SceneStore) Summaries() []SceneSummary {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	scenes := make(map[string]*Scene, len(s.scenes))
	for id, scene := range s.scenes {
		scenes[id] = scene
	}
	s.mutex.RUnlock()

	summaries := make([]SceneSummary, 0, len(scenes))
	for id, scene := range scenes {
		summary := SceneSummary{
			ID:           id,
			UUID:         scene.SceneUUID,
			AppKey:       scene.AppKey,
			Participants: scene.ParticipantCount(),
			Entities:     scene.EntityCount(),
			Grid:         scene.HasGrid(),
		}
		if extents, ok := scene.Extents(); ok {
			summary.Extents = &extents
		}
		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b SceneSummary) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return summaries
}
