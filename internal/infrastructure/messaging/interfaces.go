// Package messaging relays typed widget envelopes between the host page and
// the embedded frame over websocket connections.
package messaging

import "github.com/fashionmirror/fashionmirror-go/internal/domain/widget"

// Role distinguishes the two ends of one widget session's channel.
type Role string

const (
	RoleHost  Role = "host"
	RoleFrame Role = "frame"
)

// Emitter is the sending half of the message channel, used by services to
// push protocol events toward one side of a widget session.
type Emitter interface {
	Publish(widgetID string, to Role, env widget.Envelope)
}
