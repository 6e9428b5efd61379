// Package engine reconciles the server-pushed playback timeline against the
// local render device and exposes user-intent playback operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shikaka-studio/jammy/internal/channel"
	"github.com/shikaka-studio/jammy/internal/clock"
	"github.com/shikaka-studio/jammy/internal/device"
	"github.com/shikaka-studio/jammy/internal/roomapi"
	"github.com/shikaka-studio/jammy/internal/wire"
)

// DefaultTickInterval is the period of the progress re-evaluation while
// playing.
const DefaultTickInterval = time.Second

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingDevice
	StateSynced
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingDevice:
		return "awaiting_device"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// EventChannel is the slice of the channel client the engine drives.
type EventChannel interface {
	SetHandlers(channel.Handlers)
	Connect()
	Disconnect()
	IsConnected() bool
	ConnectionError() string
}

// SnapshotAPI fetches the initial playback snapshot on room entry.
type SnapshotAPI interface {
	GetPlaybackState(ctx context.Context, roomCode string) (wire.PlaybackState, error)
}

// Config wires an Engine. Channel and Device are required; API is optional
// (no initial snapshot fetch without it).
type Config struct {
	RoomCode string
	Channel  EventChannel
	Device   *device.Adapter
	API      SnapshotAPI

	TickInterval time.Duration

	// Optional UI callbacks, invoked off the engine lock.
	OnProgress     func(positionMs int64)
	OnNotification func(wire.Notification)
	OnMemberJoined func(wire.MemberEvent)
	OnMemberLeft   func(wire.MemberEvent)
}

// Engine is the synchronization core. Every playback_state message is treated
// as a full authoritative snapshot; the most recently processed one wins and
// the device is commanded to match it. User intent is applied optimistically
// and reconciled by the next server push.
type Engine struct {
	cfg  Config
	tick time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	track    *Song
	snap     clock.Snapshot
	playing  bool
	volume   float64
	queue    []Song
	recent   []Song
	degraded map[device.ErrorClass]string
	tickStop chan struct{}
}

func New(cfg Config) *Engine {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Engine{
		cfg:      cfg,
		tick:     tick,
		volume:   0.8,
		degraded: make(map[device.ErrorClass]string),
	}
}

// Start connects the channel, starts the device session and fetches the
// initial snapshot. Any resource acquired before a setup failure is released
// before Start returns.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.started = true
	e.mu.Unlock()

	e.cfg.Channel.SetHandlers(channel.Handlers{
		OnPlaybackState: e.HandlePlaybackState,
		OnQueueUpdate:   e.HandleQueueUpdate,
		OnMemberJoined:  e.handleMemberJoined,
		OnMemberLeft:    e.handleMemberLeft,
		OnNotification:  e.handleNotification,
	})
	e.cfg.Channel.Connect()

	e.cfg.Device.Notify(e.handleDeviceEvent)
	if err := e.cfg.Device.Start(ctx); err != nil {
		e.Stop()
		return fmt.Errorf("engine: device start: %w", err)
	}

	if e.cfg.API != nil {
		st, err := e.cfg.API.GetPlaybackState(ctx, e.cfg.RoomCode)
		switch {
		case errors.Is(err, roomapi.ErrNoPlayback):
			// Nothing playing yet, the first push will set things up.
		case err != nil:
			log.Printf("engine: initial playback state: %v", err)
		default:
			e.HandlePlaybackState(st)
		}
	}
	return nil
}

// Stop releases the channel, the device session and the progress ticker.
// Idempotent, safe on partially-started engines.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.playing = false
	e.stopTickerLocked()
	e.mu.Unlock()

	e.cfg.Channel.Disconnect()
	e.cfg.Device.Stop()
}

// HandlePlaybackState applies one authoritative snapshot: the clock base is
// replaced wholesale, the optimistic playing flag follows the payload, and a
// ready device is commanded to match. The push is the single source of truth;
// the device is an actuator, not a decision-maker.
func (e *Engine) HandlePlaybackState(st wire.PlaybackState) {
	song := songFromTrack(st.CurrentTrack)
	snap := clock.FromState(st)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	trackChanged := songID(e.track) != songID(song)
	e.track = song
	e.snap = snap
	e.playing = st.IsPlaying
	e.syncTickerLocked(trackChanged)
	e.mu.Unlock()

	if !e.cfg.Device.Ready() || song == nil {
		return
	}
	if st.IsPlaying {
		e.cfg.Device.Play(song.ProviderURI, snap.BasePositionMs)
	} else {
		e.cfg.Device.Pause()
	}
}

// HandleQueueUpdate maps wire queue items into local view models.
func (e *Engine) HandleQueueUpdate(q wire.QueueUpdate) {
	queue := songsFromQueue(q.Queue)
	recent := songsFromQueue(q.RecentlyPlayed)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.queue = queue
	e.recent = recent
	e.mu.Unlock()
}

// TogglePlay flips the optimistic playing flag and commands the device
// immediately without waiting for server confirmation; the next push
// reconciles to ground truth.
func (e *Engine) TogglePlay() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	now := time.Now()

	if e.playing {
		e.playing = false
		e.snap = clock.Snapshot{
			BasePositionMs: clock.PositionAt(now, e.snap),
			DurationMs:     e.snap.DurationMs,
		}
		e.syncTickerLocked(false)
		e.mu.Unlock()
		e.cfg.Device.Pause()
		return
	}

	pos := clock.PositionAt(now, e.snap)
	started := now
	e.playing = true
	e.snap = clock.Snapshot{
		BasePositionMs: pos,
		IsPlaying:      true,
		StartedAt:      &started,
		DurationMs:     e.snap.DurationMs,
	}
	track := e.track
	e.syncTickerLocked(false)
	e.mu.Unlock()

	if track != nil {
		e.cfg.Device.Play(track.ProviderURI, pos)
	}
}

// Seek jumps to timeSeconds, optimistically rebasing the clock pending server
// reconciliation.
func (e *Engine) Seek(timeSeconds int64) {
	positionMs := timeSeconds * 1000

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	snap := e.snap
	snap.BasePositionMs = positionMs
	if snap.IsPlaying {
		now := time.Now()
		snap.StartedAt = &now
	}
	e.snap = snap
	e.mu.Unlock()

	e.cfg.Device.Seek(positionMs)
}

// SetVolume forwards to the device and remembers the local level.
func (e *Engine) SetVolume(volume float64) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.volume = volume
	e.mu.Unlock()

	e.cfg.Device.SetVolume(volume)
}

func (e *Engine) handleDeviceEvent(ev device.Event) {
	switch ev.Type {
	case device.EventReady:
		e.mu.Lock()
		delete(e.degraded, device.ErrorInitialization)
		delete(e.degraded, device.ErrorAuthentication)
		delete(e.degraded, device.ErrorPlayback)
		track := e.track
		snap := e.snap
		playing := e.playing
		e.mu.Unlock()

		// Command the device from the last-known snapshot so audio starts
		// without waiting for the next server push.
		if track != nil && playing {
			e.cfg.Device.Play(track.ProviderURI, clock.PositionAt(time.Now(), snap))
		}
	case device.EventError:
		e.mu.Lock()
		e.degraded[ev.Class] = ev.Message
		e.mu.Unlock()
	}
}

func (e *Engine) handleMemberJoined(ev wire.MemberEvent) {
	if e.cfg.OnMemberJoined != nil {
		e.cfg.OnMemberJoined(ev)
	}
}

func (e *Engine) handleMemberLeft(ev wire.MemberEvent) {
	if e.cfg.OnMemberLeft != nil {
		e.cfg.OnMemberLeft(ev)
	}
}

func (e *Engine) handleNotification(n wire.Notification) {
	if e.cfg.OnNotification != nil {
		e.cfg.OnNotification(n)
	}
}

// syncTickerLocked starts or stops the progress ticker to match the playing
// flag. The ticker is restarted on track change so no interval outlives the
// snapshot it was started for.
func (e *Engine) syncTickerLocked(restart bool) {
	if e.tickStop != nil && (!e.playing || restart || e.stopped) {
		e.stopTickerLocked()
	}
	if e.playing && !e.stopped && e.tickStop == nil {
		stop := make(chan struct{})
		e.tickStop = stop
		go e.runTicker(stop)
	}
}

func (e *Engine) stopTickerLocked() {
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
}

func (e *Engine) runTicker(stop chan struct{}) {
	t := time.NewTicker(e.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			e.mu.Lock()
			pos := clock.PositionAt(now, e.snap)
			e.mu.Unlock()
			if e.cfg.OnProgress != nil {
				e.cfg.OnProgress(pos)
			}
		}
	}
}

// CurrentState reports the lifecycle state, derived from start/stop, device
// readiness and the independently-tracked degraded conditions.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return StateUninitialized
	}
	if len(e.degraded) > 0 {
		return StateDegraded
	}
	if e.cfg.Device.Ready() {
		return StateSynced
	}
	return StateAwaitingDevice
}

// DegradedReasons returns a copy of the active error conditions by class.
func (e *Engine) DegradedReasons() map[device.ErrorClass]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[device.ErrorClass]string, len(e.degraded))
	for k, v := range e.degraded {
		out[k] = v
	}
	return out
}

// PositionAt returns the extrapolated playback position at now.
func (e *Engine) PositionAt(now time.Time) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clock.PositionAt(now, e.snap)
}

// Position returns the extrapolated playback position right now.
func (e *Engine) Position() int64 {
	return e.PositionAt(time.Now())
}

// Snapshot returns the current clock base.
func (e *Engine) Snapshot() clock.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// IsPlaying reports the optimistic playing flag.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Volume returns the last volume set through the engine.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// CurrentSong returns a copy of the current track, or nil when nothing is
// playing.
func (e *Engine) CurrentSong() *Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.track == nil {
		return nil
	}
	song := *e.track
	return &song
}

// Queue returns a copy of the pending queue.
func (e *Engine) Queue() []Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Song(nil), e.queue...)
}

// RecentlyPlayed returns a copy of the recently-played list.
func (e *Engine) RecentlyPlayed() []Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Song(nil), e.recent...)
}

func songID(s *Song) string {
	if s == nil {
		return ""
	}
	return s.ID
}
