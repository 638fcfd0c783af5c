package models

import (
	"sync"

	"github.com/kenazlabs/kenaz/messages"
)

// A scene participant.
type Participant struct {
	ID        uint32
	Responder messages.ResponseSender

	entityIDs map[uint32]struct{}

	cameraMutex sync.RWMutex
	camera      *Camera
}

func (p *Participant) AddEntity(e *Entity) {
	if p.entityIDs == nil {
		p.entityIDs = make(map[uint32]struct{})
	}
	p.entityIDs[e.ID] = struct{}{}
}

func (p *Participant) RemoveEntity(e *Entity) {
	delete(p.entityIDs, e.ID)
}

func (p *Participant) EntityIDs() map[uint32]struct{} {
	return p.entityIDs
}

func (p *Participant) SetCamera(c *Camera) {
	p.cameraMutex.Lock()
	defer p.cameraMutex.Unlock()

	p.camera = c
}

// Camera returns the participant camera, nil when none was set.
func (p *Participant) Camera() *Camera {
	p.cameraMutex.RLock()
	defer p.cameraMutex.RUnlock()

	return p.camera
}

func ParticipantIDs(participants []*Participant) []uint32 {
	res := make([]uint32, len(participants))
	for i, p := range participants {
		res[i] = p.ID
	}
	return res
}
