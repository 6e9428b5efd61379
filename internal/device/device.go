// Package device wraps the black-box audio rendering device behind a small
// capability set and a session adapter.
package device

import "context"

// ErrorClass distinguishes the four independent device error conditions.
type ErrorClass string

const (
	ErrorInitialization ErrorClass = "initialization"
	ErrorAuthentication ErrorClass = "authentication"
	ErrorAccount        ErrorClass = "account"
	ErrorPlayback       ErrorClass = "playback"
)

// EventType enumerates the device's asynchronous notifications.
type EventType string

const (
	EventReady        EventType = "ready"
	EventNotReady     EventType = "not_ready"
	EventStateChanged EventType = "state_changed"
	EventError        EventType = "error"
)

// State is the device's own view of playback, delivered with state_changed.
type State struct {
	Paused     bool
	PositionMs int64
	TrackURI   string
}

// Event is one asynchronous device notification. DeviceID accompanies ready
// and not_ready, State accompanies state_changed (nil means no active state),
// Class and Message accompany errors.
type Event struct {
	Type     EventType
	DeviceID string
	State    *State
	Class    ErrorClass
	Message  string
}

// Controller is the capability set the rendering device must expose. The sync
// engine is implementable against anything satisfying it, including a test
// fake.
type Controller interface {
	// Connect starts the device session. Errors surface asynchronously
	// through subscribed events; the bool mirrors the device's own
	// accepted/refused answer.
	Connect(ctx context.Context) (bool, error)
	Disconnect()
	Play(ctx context.Context, uri string, positionMs int64) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int64) error
	SetVolume(ctx context.Context, volume float64) error
	// Subscribe registers the event listener. Must be called before Connect.
	Subscribe(fn func(Event))
}

// CredentialProvider supplies the bearer credential the device session runs
// under. Token must read the current value from the shared source of truth at
// call time, never a value captured at construction: the device may ask for it
// arbitrarily long after setup, including after a background refresh.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}
