package roomsim

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shikaka-studio/jammy/internal/clock"
	"github.com/shikaka-studio/jammy/internal/wire"
)

// Room holds the in-memory playback timeline and queue for one room code.
type Room struct {
	Code string

	mu         sync.Mutex
	current    *wire.QueueTrack
	positionMs int64
	isPlaying  bool
	startedAt  *time.Time
	queue      []wire.QueueTrack
	recent     []wire.QueueTrack
}

// Store hands out rooms by code, creating them with a seeded sample queue so
// a fresh simulator is immediately playable.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

func (s *Store) Get(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		r = &Room{Code: code, queue: sampleQueue()}
		s.rooms[code] = r
	}
	return r
}

func (s *Store) All() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// State returns the authoritative snapshot for the room.
func (r *Room) State() wire.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := wire.PlaybackState{
		IsPlaying:         r.isPlaying,
		PositionMs:        r.positionMs,
		PlaybackStartedAt: r.startedAt,
	}
	if r.current != nil {
		track := r.current.Track
		st.CurrentTrack = &track
	}
	return st
}

// QueueState returns the queue and recently-played lists.
func (r *Room) QueueState() wire.QueueUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return wire.QueueUpdate{
		Queue:          append([]wire.QueueTrack(nil), r.queue...),
		RecentlyPlayed: append([]wire.QueueTrack(nil), r.recent...),
	}
}

// Play resumes the timeline from the frozen position. Starts the first queued
// track when nothing is current.
func (r *Room) Play(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		r.advanceLocked(now)
		return
	}
	if r.isPlaying {
		return
	}
	r.isPlaying = true
	t := now
	r.startedAt = &t
}

// Pause freezes the timeline at the current extrapolated position.
func (r *Room) Pause(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isPlaying {
		return
	}
	r.positionMs = r.positionLocked(now)
	r.isPlaying = false
	r.startedAt = nil
}

// Seek moves the timeline to positionMs, keeping the play/pause state.
func (r *Room) Seek(now time.Time, positionMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if positionMs < 0 {
		positionMs = 0
	}
	r.positionMs = positionMs
	if r.isPlaying {
		t := now
		r.startedAt = &t
	}
}

// Next moves the current track to recently-played and starts the next queued
// one. With an empty queue the room stops.
func (r *Room) Next(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(now)
}

// Enqueue appends a track, assigning an id when the caller left it empty.
func (r *Room) Enqueue(t wire.QueueTrack) wire.QueueTrack {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.queue = append(r.queue, t)
	r.mu.Unlock()
	return t
}

// Finished reports whether the current track has played past its duration.
func (r *Room) Finished(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isPlaying || r.current == nil || r.current.DurationMs <= 0 {
		return false
	}
	return r.positionLocked(now) >= r.current.DurationMs
}

func (r *Room) positionLocked(now time.Time) int64 {
	return clock.PositionAt(now, clock.Snapshot{
		BasePositionMs: r.positionMs,
		IsPlaying:      r.isPlaying,
		StartedAt:      r.startedAt,
		DurationMs:     trackDuration(r.current),
	})
}

func (r *Room) advanceLocked(now time.Time) {
	if r.current != nil {
		r.recent = append([]wire.QueueTrack{*r.current}, r.recent...)
		r.current = nil
	}
	if len(r.queue) == 0 {
		r.isPlaying = false
		r.positionMs = 0
		r.startedAt = nil
		return
	}
	next := r.queue[0]
	r.queue = r.queue[1:]
	r.current = &next
	r.positionMs = 0
	r.isPlaying = true
	t := now
	r.startedAt = &t
}

func trackDuration(t *wire.QueueTrack) int64 {
	if t == nil {
		return 0
	}
	return t.DurationMs
}

func sampleQueue() []wire.QueueTrack {
	mk := func(title, artist, album string, durationMs int64) wire.QueueTrack {
		id := uuid.NewString()
		return wire.QueueTrack{
			Track: wire.Track{
				ID:              id,
				Title:           title,
				Artist:          artist,
				Album:           album,
				DurationMs:      durationMs,
				ProviderTrackID: id,
				ProviderURI:     "sim:track:" + id,
			},
			AddedBy: wire.AddedBy{ID: "sim-user-1", DisplayName: "Simulated DJ"},
		}
	}
	return []wire.QueueTrack{
		mk("Lofi Track 1", "Beat Maker", "Chill Vibes", 184000),
		mk("Lofi Track 2", "Beat Maker", "Chill Vibes", 201000),
		mk("Night Drive", "Synth Club", "Neon", 222000),
	}
}
