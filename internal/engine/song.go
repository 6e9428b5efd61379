package engine

import "github.com/shikaka-studio/jammy/internal/wire"

// Song is the local view model for a track, in the queue or playing now.
type Song struct {
	ID          string
	Title       string
	Artist      string
	Album       string
	AlbumArtURL string
	DurationMs  int64
	ProviderURI string
	AddedBy     string
}

func songFromTrack(t *wire.Track) *Song {
	if t == nil {
		return nil
	}
	return &Song{
		ID:          t.ID,
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		AlbumArtURL: t.AlbumArtURL,
		DurationMs:  t.DurationMs,
		ProviderURI: t.ProviderURI,
	}
}

func songsFromQueue(items []wire.QueueTrack) []Song {
	out := make([]Song, 0, len(items))
	for _, it := range items {
		s := songFromTrack(&it.Track)
		s.AddedBy = it.AddedBy.DisplayName
		out = append(out, *s)
	}
	return out
}
