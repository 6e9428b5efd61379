// Package clock implements the position-extrapolation math for the shared
// playback timeline.
package clock

import (
	"time"

	"github.com/shikaka-studio/jammy/internal/wire"
)

// Snapshot is the client-local base the clock extrapolates from. It is
// recomputed wholesale from every authoritative PlaybackState and never
// partially mutated.
type Snapshot struct {
	BasePositionMs int64
	IsPlaying      bool
	StartedAt      *time.Time
	DurationMs     int64 // 0 means unknown, position is unbounded
}

// PositionAt returns the extrapolated position at now.
//
// While paused (or with no start instant) the position is frozen at
// BasePositionMs. While playing the position is BasePositionMs plus wall time
// elapsed since StartedAt, clamped to [0, DurationMs]. The base offset is
// re-added before clamping, so a seek or resume mid-track keeps reporting from
// the stored base.
func PositionAt(now time.Time, s Snapshot) int64 {
	if !s.IsPlaying || s.StartedAt == nil {
		return clamp(s.BasePositionMs, s.DurationMs)
	}
	elapsed := now.Sub(*s.StartedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return clamp(s.BasePositionMs+elapsed, s.DurationMs)
}

// FromState builds a Snapshot from an authoritative playback snapshot.
func FromState(st wire.PlaybackState) Snapshot {
	s := Snapshot{
		BasePositionMs: st.PositionMs,
		IsPlaying:      st.IsPlaying,
		StartedAt:      st.PlaybackStartedAt,
	}
	if st.CurrentTrack != nil {
		s.DurationMs = st.CurrentTrack.DurationMs
	}
	s.BasePositionMs = clamp(s.BasePositionMs, s.DurationMs)
	return s
}

func clamp(pos, durationMs int64) int64 {
	if pos < 0 {
		return 0
	}
	if durationMs > 0 && pos > durationMs {
		return durationMs
	}
	return pos
}
