package modules

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/models"
)

// ErrModuleMsgSkip is returned by modules that do not handle a message.
var ErrModuleMsgSkip = errors.New("message skipped by module").
	WithType(messages.ErrTypeMsgSkip)

// Module is the interface that describes a module that extends kenaz
// capabilities.
type Module interface {
	// Returns the module name.
	Name() string

	// Initializes the module once the client joined a scene.
	Init(*models.Scene, *models.Participant)

	// Handles a given message. Modules are free to decide whether they handle a
	// message.
	//
	// Returning ErrModuleMsgSkip indicates that handling a message was skipped.
	//
	// Any other returned errors causes the current WebSocket client to be
	// disconnected.
	HandleMsg(context.Context, messages.ResponseSender, messages.Msg) error

	// Handles the client leaving its scene.
	HandleDisconnect()
}
