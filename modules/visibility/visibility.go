// Package visibility pushes to each participant the entities seen by its
// camera.
package visibility

import (
	"context"
	"slices"
	"sync"

	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/models"
	"github.com/kenazlabs/kenaz/modules"
)

// Module evaluates the participant camera against the scene on every frame
// and sends a visibility message when the set of visible entities changes.
type Module struct {
	// Answers the frame queries from the scene grid when it has one.
	UseGrid bool

	currentScene       *models.Scene
	currentParticipant *models.Participant

	mutex      sync.Mutex
	stopFrames func()
	visible    []uint32
	pushed     bool
}

func (m *Module) Name() string {
	return "visibility"
}

func (m *Module) Init(s *models.Scene, p *models.Participant) {
	m.mutex.Lock()
	stop := m.stopFrames
	m.currentScene = s
	m.currentParticipant = p
	m.visible = nil
	m.pushed = false
	m.stopFrames = nil
	m.mutex.Unlock()

	// Frame handlers run with the scene frame lock held, which must not be
	// taken while holding the module mutex.
	if stop != nil {
		stop()
	}
	stop = s.HandleFrame(m.handleFrame)

	m.mutex.Lock()
	m.stopFrames = stop
	m.mutex.Unlock()
}

func (m *Module) HandleMsg(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	switch msg.Type {
	case messages.MsgTypeCameraSet, messages.MsgTypeEntityDelete:
		// The next frame pushes the current state.
		m.mutex.Lock()
		m.pushed = false
		m.mutex.Unlock()
		return nil

	default:
		return modules.ErrModuleMsgSkip
	}
}

func (m *Module) HandleDisconnect() {
	m.mutex.Lock()
	stop := m.stopFrames
	m.stopFrames = nil
	m.currentScene = nil
	m.currentParticipant = nil
	m.visible = nil
	m.mutex.Unlock()

	if stop != nil {
		stop()
	}
}

func (m *Module) handleFrame() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	scene := m.currentScene
	participant := m.currentParticipant
	if scene == nil || participant == nil {
		return
	}

	camera := participant.Camera()
	if camera == nil {
		return
	}

	visible := models.EntityIDs(scene.VisibleEntities(camera.Planes(), m.UseGrid))
	slices.Sort(visible)

	if m.pushed && slices.Equal(visible, m.visible) {
		return
	}
	m.visible = visible
	m.pushed = true

	participant.Responder.Send(messages.MsgTypeVisibility, 0, messages.Visibility{
		EntityIDs: visible,
	})
}
