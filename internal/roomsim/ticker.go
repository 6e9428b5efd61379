package roomsim

import (
	"context"
	"log"
	"time"

	"github.com/shikaka-studio/jammy/internal/wire"
)

// StartTicker starts a background worker that advances rooms whose current
// track has played past its duration, broadcasting the new state.
func (s *Server) StartTicker(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case now := <-ticker.C:
				s.advanceFinished(now)
			}
		}
	}()
}

func (s *Server) advanceFinished(now time.Time) {
	for _, room := range s.store.All() {
		if !room.Finished(now) {
			continue
		}
		log.Printf("roomsim: ticker advancing room %s", room.Code)
		room.Next(now)
		s.Broadcast(room.Code, wire.TypePlaybackState, room.State())
		s.Broadcast(room.Code, wire.TypeQueueUpdate, room.QueueState())
	}
}
