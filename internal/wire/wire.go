// Package wire defines the JSON message protocol shared by the room channel,
// the HTTP playback API and the room simulator.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Track is an immutable description of a playable track.
type Track struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	AlbumArtURL     string `json:"album_art_url"`
	DurationMs      int64  `json:"duration_ms"`
	ProviderTrackID string `json:"provider_track_id"`
	ProviderURI     string `json:"provider_uri"`
}

// PlaybackState is the authoritative, full snapshot of what should be playing.
// PlaybackStartedAt is the wall-clock instant at which PositionMs was true and
// is only meaningful while IsPlaying; when paused the position is frozen at
// PositionMs. Senders do not enforce PositionMs <= DurationMs, consumers clamp.
type PlaybackState struct {
	IsPlaying         bool       `json:"is_playing"`
	CurrentTrack      *Track     `json:"current_track"`
	PositionMs        int64      `json:"position_ms"`
	PlaybackStartedAt *time.Time `json:"playback_started_at"`
}

// AddedBy identifies the room member who queued a track.
type AddedBy struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// QueueTrack is a queue entry: a track plus who added it.
type QueueTrack struct {
	Track
	AddedBy AddedBy `json:"added_by"`
}

// QueueUpdate carries the full queue and recently-played lists.
type QueueUpdate struct {
	Queue          []QueueTrack `json:"queue"`
	RecentlyPlayed []QueueTrack `json:"recently_played"`
}

// MemberEvent is sent when a member joins or leaves the room.
type MemberEvent struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	ConnectionCount int    `json:"connection_count"`
}

// Notification is an advisory message for the user.
type Notification struct {
	Message string `json:"message"`
	Level   string `json:"level"` // info | warning | error
}

// MessageType tags the variants of the channel protocol.
type MessageType string

const (
	TypePlaybackState MessageType = "playback_state"
	TypeQueueUpdate   MessageType = "queue_update"
	TypeMemberJoined  MessageType = "member_joined"
	TypeMemberLeft    MessageType = "member_left"
	TypeNotification  MessageType = "notification"
)

// Message is the tagged-union envelope carried on the channel. Data stays raw
// until the consumer knows the tag; unknown tags are the caller's problem to
// log and drop, they are never fatal here.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeMessage parses a transport frame into the envelope.
func DecodeMessage(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("wire: frame missing type tag")
	}
	return m, nil
}

// Encode marshals an envelope around the given payload.
func Encode(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s data: %w", t, err)
	}
	return json.Marshal(Message{Type: t, Data: raw})
}

func (m Message) PlaybackState() (PlaybackState, error) {
	var st PlaybackState
	if err := json.Unmarshal(m.Data, &st); err != nil {
		return PlaybackState{}, fmt.Errorf("wire: decode playback_state: %w", err)
	}
	return st, nil
}

func (m Message) QueueUpdate() (QueueUpdate, error) {
	var q QueueUpdate
	if err := json.Unmarshal(m.Data, &q); err != nil {
		return QueueUpdate{}, fmt.Errorf("wire: decode queue_update: %w", err)
	}
	return q, nil
}

func (m Message) MemberEvent() (MemberEvent, error) {
	var ev MemberEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return MemberEvent{}, fmt.Errorf("wire: decode %s: %w", m.Type, err)
	}
	return ev, nil
}

func (m Message) Notification() (Notification, error) {
	var n Notification
	if err := json.Unmarshal(m.Data, &n); err != nil {
		return Notification{}, fmt.Errorf("wire: decode notification: %w", err)
	}
	return n, nil
}
