package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shikaka-studio/jammy/internal/channel"
	"github.com/shikaka-studio/jammy/internal/device"
	"github.com/shikaka-studio/jammy/internal/wire"
)

// stubChannel satisfies EventChannel without any real socket.
type stubChannel struct {
	mu          sync.Mutex
	handlers    channel.Handlers
	connects    int
	disconnects int
}

func (s *stubChannel) SetHandlers(h channel.Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

func (s *stubChannel) Connect() {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
}

func (s *stubChannel) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

func (s *stubChannel) IsConnected() bool       { return true }
func (s *stubChannel) ConnectionError() string { return "" }

// fakeCtrl is a minimal render device double.
type fakeCtrl struct {
	mu          sync.Mutex
	listener    func(device.Event)
	plays       []playCall
	pauses      int
	seeks       []int64
	volumes     []float64
	disconnects int
}

type playCall struct {
	uri        string
	positionMs int64
}

func (f *fakeCtrl) Subscribe(fn func(device.Event)) {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
}

func (f *fakeCtrl) Connect(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeCtrl) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeCtrl) Play(ctx context.Context, uri string, positionMs int64) error {
	f.mu.Lock()
	f.plays = append(f.plays, playCall{uri: uri, positionMs: positionMs})
	f.mu.Unlock()
	return nil
}

func (f *fakeCtrl) Pause(ctx context.Context) error {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
	return nil
}

func (f *fakeCtrl) Seek(ctx context.Context, positionMs int64) error {
	f.mu.Lock()
	f.seeks = append(f.seeks, positionMs)
	f.mu.Unlock()
	return nil
}

func (f *fakeCtrl) SetVolume(ctx context.Context, volume float64) error {
	f.mu.Lock()
	f.volumes = append(f.volumes, volume)
	f.mu.Unlock()
	return nil
}

func (f *fakeCtrl) emit(ev device.Event) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	if fn == nil {
		panic("fakeCtrl: no listener subscribed")
	}
	fn(ev)
}

func (f *fakeCtrl) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeCtrl) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func (f *fakeCtrl) lastPlay() playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[len(f.plays)-1]
}

type staticCreds struct{}

func (staticCreds) Token(ctx context.Context) (string, error)   { return "tok", nil }
func (staticCreds) Refresh(ctx context.Context) (string, error) { return "tok", nil }

type stubAPI struct {
	st  wire.PlaybackState
	err error
}

func (s *stubAPI) GetPlaybackState(ctx context.Context, roomCode string) (wire.PlaybackState, error) {
	return s.st, s.err
}

type fixture struct {
	eng  *Engine
	ch   *stubChannel
	ctrl *fakeCtrl
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	ch := &stubChannel{}
	ctrl := &fakeCtrl{}
	cfg := Config{
		RoomCode: "ROOM1",
		Channel:  ch,
		Device:   device.NewAdapter(ctrl, staticCreds{}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng := New(cfg)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	return &fixture{eng: eng, ch: ch, ctrl: ctrl}
}

func playingState(t0 time.Time, positionMs int64) wire.PlaybackState {
	return wire.PlaybackState{
		IsPlaying:         true,
		PositionMs:        positionMs,
		PlaybackStartedAt: &t0,
		CurrentTrack: &wire.Track{
			ID:          "tr1",
			Title:       "Night Drive",
			Artist:      "Synth Club",
			DurationMs:  200000,
			ProviderURI: "spotify:track:abc",
		},
	}
}

func TestEngine_StartFetchesInitialSnapshot(t *testing.T) {
	t0 := time.Now().Add(-10 * time.Second)
	f := newFixture(t, func(cfg *Config) {
		cfg.API = &stubAPI{st: playingState(t0, 0)}
	})

	song := f.eng.CurrentSong()
	require.NotNil(t, song)
	assert.Equal(t, "Night Drive", song.Title)
	assert.True(t, f.eng.IsPlaying())

	f.ch.mu.Lock()
	assert.Equal(t, 1, f.ch.connects)
	assert.NotNil(t, f.ch.handlers.OnPlaybackState)
	f.ch.mu.Unlock()
}

func TestEngine_SnapshotReplacementIsTotal(t *testing.T) {
	f := newFixture(t, nil)

	// An earlier, different snapshot must leave no residue.
	old := time.Now().Add(-time.Hour)
	f.eng.HandlePlaybackState(playingState(old, 170000))

	t0 := time.Now()
	f.eng.HandlePlaybackState(playingState(t0, 50000))

	// At the new snapshot's nominal time the position is exactly its own.
	assert.Equal(t, int64(50000), f.eng.PositionAt(t0))
	assert.Equal(t, int64(60000), f.eng.PositionAt(t0.Add(10*time.Second)))
}

func TestEngine_ReadyDeviceIsCommandedByPush(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})

	t0 := time.Now()
	f.eng.HandlePlaybackState(playingState(t0, 50000))
	require.Eventually(t, func() bool { return f.ctrl.playCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, playCall{uri: "spotify:track:abc", positionMs: 50000}, f.ctrl.lastPlay())

	st := playingState(t0, 50000)
	st.IsPlaying = false
	f.eng.HandlePlaybackState(st)
	require.Eventually(t, func() bool { return f.ctrl.pauseCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.eng.IsPlaying())
}

func TestEngine_DeviceCommandedOnReadyTransition(t *testing.T) {
	f := newFixture(t, nil)

	// Push arrives before the device is ready: the clock updates, commands
	// are skipped.
	t0 := time.Now().Add(-20 * time.Second)
	f.eng.HandlePlaybackState(playingState(t0, 0))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.ctrl.playCount())
	pos := f.eng.Position()
	assert.Greater(t, pos, int64(19000))

	// Readiness triggers an immediate catch-up command from the last
	// snapshot, no silent-audio window.
	f.ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})
	require.Eventually(t, func() bool { return f.ctrl.playCount() == 1 }, time.Second, 5*time.Millisecond)
	got := f.ctrl.lastPlay()
	assert.Equal(t, "spotify:track:abc", got.uri)
	assert.GreaterOrEqual(t, got.positionMs, pos)
}

func TestEngine_TogglePlayIsOptimistic(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})

	st := playingState(time.Now(), 50000)
	st.IsPlaying = false
	st.PlaybackStartedAt = nil
	f.eng.HandlePlaybackState(st)
	require.False(t, f.eng.IsPlaying())
	// The paused push itself pauses the ready device.
	require.Eventually(t, func() bool { return f.ctrl.pauseCount() == 1 }, time.Second, 5*time.Millisecond)

	// The local flag flips before any server round-trip, and the device is
	// told to resume from the current extrapolated position.
	f.eng.TogglePlay()
	assert.True(t, f.eng.IsPlaying())
	require.Eventually(t, func() bool { return f.ctrl.playCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, playCall{uri: "spotify:track:abc", positionMs: 50000}, f.ctrl.lastPlay())

	// Toggling back freezes the clock and pauses the device.
	f.eng.TogglePlay()
	assert.False(t, f.eng.IsPlaying())
	require.Eventually(t, func() bool { return f.ctrl.pauseCount() == 2 }, time.Second, 5*time.Millisecond)
	snap := f.eng.Snapshot()
	assert.False(t, snap.IsPlaying)
	assert.InDelta(t, 50000, snap.BasePositionMs, 1000)
}

func TestEngine_SeekRebasesClock(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})
	f.eng.HandlePlaybackState(playingState(time.Now(), 10000))

	f.eng.Seek(30)
	require.Eventually(t, func() bool {
		f.ctrl.mu.Lock()
		defer f.ctrl.mu.Unlock()
		return len(f.ctrl.seeks) == 1 && f.ctrl.seeks[0] == 30000
	}, time.Second, 5*time.Millisecond)

	assert.InDelta(t, 30000, f.eng.Position(), 1000)
}

func TestEngine_NoTrackMeansNeutralState(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})

	f.eng.HandlePlaybackState(wire.PlaybackState{})
	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, f.eng.CurrentSong())
	assert.False(t, f.eng.IsPlaying())
	assert.Zero(t, f.eng.Position())
	// No device command is issued for an empty snapshot.
	assert.Zero(t, f.ctrl.playCount())
	assert.Zero(t, f.ctrl.pauseCount())
}

func TestEngine_StateMachine(t *testing.T) {
	ch := &stubChannel{}
	ctrl := &fakeCtrl{}
	eng := New(Config{
		RoomCode: "ROOM1",
		Channel:  ch,
		Device:   device.NewAdapter(ctrl, staticCreds{}),
	})
	assert.Equal(t, StateUninitialized, eng.CurrentState())

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()
	assert.Equal(t, StateAwaitingDevice, eng.CurrentState())

	ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})
	assert.Equal(t, StateSynced, eng.CurrentState())

	ctrl.emit(device.Event{Type: device.EventError, Class: device.ErrorPlayback, Message: "cannot start"})
	assert.Equal(t, StateDegraded, eng.CurrentState())
	assert.Equal(t, "cannot start", eng.DegradedReasons()[device.ErrorPlayback])

	// Degraded reasons are independent conditions.
	ctrl.emit(device.Event{Type: device.EventError, Class: device.ErrorAccount, Message: "premium required"})
	reasons := eng.DegradedReasons()
	assert.Len(t, reasons, 2)

	// Recovery clears transient classes; the account condition persists.
	ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})
	reasons = eng.DegradedReasons()
	assert.NotContains(t, reasons, device.ErrorPlayback)
	assert.Contains(t, reasons, device.ErrorAccount)
	assert.Equal(t, StateDegraded, eng.CurrentState())
}

func TestEngine_QueueReconciliation(t *testing.T) {
	f := newFixture(t, nil)

	f.eng.HandleQueueUpdate(wire.QueueUpdate{
		Queue: []wire.QueueTrack{
			{
				Track:   wire.Track{ID: "q1", Title: "Next Up", DurationMs: 180000},
				AddedBy: wire.AddedBy{ID: "u2", DisplayName: "Ada"},
			},
		},
		RecentlyPlayed: []wire.QueueTrack{
			{Track: wire.Track{ID: "r1", Title: "Earlier"}},
		},
	})

	queue := f.eng.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "Next Up", queue[0].Title)
	assert.Equal(t, "Ada", queue[0].AddedBy)

	recent := f.eng.RecentlyPlayed()
	require.Len(t, recent, 1)
	assert.Equal(t, "Earlier", recent[0].Title)
}

func TestEngine_ProgressTickerFollowsPlayState(t *testing.T) {
	var mu sync.Mutex
	var ticks []int64
	f := newFixture(t, func(cfg *Config) {
		cfg.TickInterval = 10 * time.Millisecond
		cfg.OnProgress = func(positionMs int64) {
			mu.Lock()
			ticks = append(ticks, positionMs)
			mu.Unlock()
		}
	})

	f.eng.HandlePlaybackState(playingState(time.Now(), 1000))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) >= 3
	}, time.Second, 5*time.Millisecond)

	// Pausing tears the ticker down.
	st := playingState(time.Now(), 2000)
	st.IsPlaying = false
	st.PlaybackStartedAt = nil
	f.eng.HandlePlaybackState(st)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	n := len(ticks)
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, len(ticks))
	mu.Unlock()
}

func TestEngine_StopReleasesEverything(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	ch := &stubChannel{}
	ctrl := &fakeCtrl{}
	eng := New(Config{
		RoomCode:     "ROOM1",
		Channel:      ch,
		Device:       device.NewAdapter(ctrl, staticCreds{}),
		TickInterval: 10 * time.Millisecond,
		OnProgress: func(int64) {
			mu.Lock()
			ticks++
			mu.Unlock()
		},
	})
	require.NoError(t, eng.Start(context.Background()))
	ctrl.emit(device.Event{Type: device.EventReady, DeviceID: "dev-1"})
	eng.HandlePlaybackState(playingState(time.Now(), 0))

	eng.Stop()
	eng.Stop() // idempotent

	ch.mu.Lock()
	assert.Equal(t, 1, ch.disconnects)
	ch.mu.Unlock()
	ctrl.mu.Lock()
	assert.Equal(t, 1, ctrl.disconnects)
	ctrl.mu.Unlock()

	// The ticker stops firing and late operations are no-ops.
	mu.Lock()
	n := ticks
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, ticks)
	mu.Unlock()

	before := f0plays(ctrl)
	eng.TogglePlay()
	eng.Seek(10)
	eng.HandlePlaybackState(playingState(time.Now(), 0))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, f0plays(ctrl))
	assert.False(t, eng.IsPlaying())
}

func f0plays(ctrl *fakeCtrl) int {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	return len(ctrl.plays) + len(ctrl.seeks) + ctrl.pauses
}
