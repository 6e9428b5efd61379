package device

import (
	"context"
	"log"
	"sync"
)

// LogController is a silent Controller for running a room client without an
// audio provider configured. It announces readiness immediately and logs every
// command instead of producing audio.
type LogController struct {
	mu       sync.Mutex
	listener func(Event)
	paused   bool
	uri      string
	position int64
}

func NewLogController() *LogController {
	return &LogController{paused: true}
}

func (c *LogController) Subscribe(fn func(Event)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *LogController) Connect(ctx context.Context) (bool, error) {
	c.emit(Event{Type: EventReady, DeviceID: "log-device"})
	return true, nil
}

func (c *LogController) Disconnect() {
	c.emit(Event{Type: EventNotReady, DeviceID: "log-device"})
}

func (c *LogController) Play(ctx context.Context, uri string, positionMs int64) error {
	c.mu.Lock()
	c.paused = false
	if uri != "" {
		c.uri = uri
	}
	c.position = positionMs
	c.mu.Unlock()
	log.Printf("logdevice: play %s at %dms", uri, positionMs)
	c.emitState()
	return nil
}

func (c *LogController) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	log.Printf("logdevice: pause")
	c.emitState()
	return nil
}

func (c *LogController) Seek(ctx context.Context, positionMs int64) error {
	c.mu.Lock()
	c.position = positionMs
	c.mu.Unlock()
	log.Printf("logdevice: seek to %dms", positionMs)
	c.emitState()
	return nil
}

func (c *LogController) SetVolume(ctx context.Context, volume float64) error {
	log.Printf("logdevice: volume %.2f", volume)
	return nil
}

func (c *LogController) emitState() {
	c.mu.Lock()
	st := &State{Paused: c.paused, PositionMs: c.position, TrackURI: c.uri}
	c.mu.Unlock()
	c.emit(Event{Type: EventStateChanged, State: st})
}

func (c *LogController) emit(ev Event) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
