package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	commandTimeout = 10 * time.Second
	refreshTimeout = 15 * time.Second
	commandBuffer  = 16
)

// Adapter owns one render-device session. Commands issued before the device
// has a device ID are dropped with a log line, never an error. Commands run on
// a single worker goroutine so callers (the engine's message handlers) never
// block on device I/O and command order is preserved.
type Adapter struct {
	ctrl  Controller
	creds CredentialProvider

	// onEvent, set before Start, receives every device event after the
	// adapter has updated its own session state.
	onEvent func(Event)

	mu         sync.Mutex
	deviceID   string
	ready      bool
	paused     bool
	lastErr    string
	accountErr string
	refreshing bool
	started    bool
	stopped    bool

	cmds chan command
	done chan struct{}
}

type command struct {
	name string
	run  func(context.Context) error
}

// NewAdapter wraps a controller. The credential provider is consulted only for
// the authentication-error recovery path; the controller is expected to pull
// its own credentials from the same provider.
func NewAdapter(ctrl Controller, creds CredentialProvider) *Adapter {
	return &Adapter{
		ctrl:   ctrl,
		creds:  creds,
		paused: true,
		cmds:   make(chan command, commandBuffer),
		done:   make(chan struct{}),
	}
}

// Notify registers the upward event listener. Must be called before Start.
func (a *Adapter) Notify(fn func(Event)) {
	a.onEvent = fn
}

// Start subscribes to device events and connects the session.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return errors.New("device: adapter already started")
	}
	a.started = true
	a.mu.Unlock()

	a.ctrl.Subscribe(a.handleEvent)
	go a.runCommands()

	ok, err := a.ctrl.Connect(ctx)
	if err != nil {
		return fmt.Errorf("device: connect: %w", err)
	}
	if !ok {
		return errors.New("device: connection refused")
	}
	return nil
}

// Stop tears the session down. After Stop no further commands reach the
// controller. Idempotent.
func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.ready = false
	a.deviceID = ""
	a.mu.Unlock()

	close(a.done)
	a.ctrl.Disconnect()
}

func (a *Adapter) runCommands() {
	for {
		select {
		case <-a.done:
			return
		case cmd := <-a.cmds:
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			if err := cmd.run(ctx); err != nil {
				log.Printf("device: %s: %v", cmd.name, err)
			}
			cancel()
		}
	}
}

func (a *Adapter) enqueue(name string, run func(context.Context) error) {
	a.mu.Lock()
	stopped := a.stopped
	id := a.deviceID
	a.mu.Unlock()
	if stopped {
		return
	}
	if id == "" {
		log.Printf("device: %s dropped, device not ready", name)
		return
	}
	select {
	case a.cmds <- command{name: name, run: run}:
	default:
		log.Printf("device: %s dropped, command queue full", name)
	}
}

// Play starts playback of uri at positionMs. An empty uri resumes the current
// context.
func (a *Adapter) Play(uri string, positionMs int64) {
	a.enqueue("play", func(ctx context.Context) error {
		return a.ctrl.Play(ctx, uri, positionMs)
	})
}

func (a *Adapter) Pause() {
	a.enqueue("pause", func(ctx context.Context) error {
		return a.ctrl.Pause(ctx)
	})
}

func (a *Adapter) Seek(positionMs int64) {
	a.enqueue("seek", func(ctx context.Context) error {
		return a.ctrl.Seek(ctx, positionMs)
	})
}

func (a *Adapter) SetVolume(volume float64) {
	a.enqueue("set volume", func(ctx context.Context) error {
		return a.ctrl.SetVolume(ctx, volume)
	})
}

func (a *Adapter) handleEvent(ev Event) {
	switch ev.Type {
	case EventReady:
		a.mu.Lock()
		a.deviceID = ev.DeviceID
		a.ready = true
		a.lastErr = ""
		a.mu.Unlock()
		log.Printf("device: ready, device id %s", ev.DeviceID)
	case EventNotReady:
		a.mu.Lock()
		a.ready = false
		a.mu.Unlock()
		log.Printf("device: gone offline, device id %s", ev.DeviceID)
	case EventStateChanged:
		if ev.State != nil {
			a.mu.Lock()
			a.paused = ev.State.Paused
			a.mu.Unlock()
		}
	case EventError:
		a.handleError(ev)
	}

	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

func (a *Adapter) handleError(ev Event) {
	a.mu.Lock()
	a.lastErr = string(ev.Class) + ": " + ev.Message
	if ev.Class == ErrorAccount {
		// Account errors (entitlement, tier) persist as an advisory; only
		// audible playback degrades, the rest of the room keeps working.
		a.accountErr = ev.Message
	}
	refresh := ev.Class == ErrorAuthentication && !a.refreshing && !a.stopped
	if refresh {
		a.refreshing = true
	}
	a.mu.Unlock()

	log.Printf("device: %s error: %s", ev.Class, ev.Message)
	if refresh {
		go a.refreshAndReconnect()
	}
}

// refreshAndReconnect recovers from an authentication error: refresh the
// shared credential once, then cycle the device session so the controller
// pulls the fresh value. The refreshing flag makes repeated authentication
// errors during one episode collapse into a single refresh.
func (a *Adapter) refreshAndReconnect() {
	defer func() {
		a.mu.Lock()
		a.refreshing = false
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := a.creds.Refresh(ctx); err != nil {
		log.Printf("device: credential refresh: %v", err)
		a.mu.Lock()
		a.lastErr = string(ErrorAuthentication) + ": credential refresh failed"
		stopped := a.stopped
		a.mu.Unlock()
		if !stopped && a.onEvent != nil {
			a.onEvent(Event{
				Type:    EventError,
				Class:   ErrorAuthentication,
				Message: "credential refresh failed, please re-authenticate",
			})
		}
		return
	}

	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}

	a.ctrl.Disconnect()
	if ok, err := a.ctrl.Connect(ctx); err != nil || !ok {
		log.Printf("device: reconnect after credential refresh failed: ok=%v err=%v", ok, err)
	}
}

// Ready reports whether the device has announced a device ID and is online.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// DeviceID returns the announced device ID, or "" before readiness.
func (a *Adapter) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceID
}

// Paused reports the device's own paused flag.
func (a *Adapter) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// LastError returns the most recent device error, or "".
func (a *Adapter) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// AccountError returns the persistent account-level advisory, or "".
func (a *Adapter) AccountError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountErr
}
