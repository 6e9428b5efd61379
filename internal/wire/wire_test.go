package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_PlaybackState(t *testing.T) {
	frame := []byte(`{
		"type": "playback_state",
		"data": {
			"is_playing": true,
			"position_ms": 50000,
			"playback_started_at": "2025-03-01T12:00:00Z",
			"current_track": {
				"id": "tr1",
				"title": "Night Drive",
				"artist": "Synth Club",
				"duration_ms": 200000,
				"provider_uri": "spotify:track:abc"
			}
		}
	}`)

	msg, err := DecodeMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, TypePlaybackState, msg.Type)

	st, err := msg.PlaybackState()
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, int64(50000), st.PositionMs)
	require.NotNil(t, st.PlaybackStartedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), st.PlaybackStartedAt.UTC())
	require.NotNil(t, st.CurrentTrack)
	assert.Equal(t, "spotify:track:abc", st.CurrentTrack.ProviderURI)
}

func TestDecodeMessage_PausedWithNulls(t *testing.T) {
	frame := []byte(`{"type":"playback_state","data":{"is_playing":false,"current_track":null,"position_ms":0,"playback_started_at":null}}`)

	msg, err := DecodeMessage(frame)
	require.NoError(t, err)

	st, err := msg.PlaybackState()
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
	assert.Nil(t, st.CurrentTrack)
	assert.Nil(t, st.PlaybackStartedAt)
}

func TestDecodeMessage_Malformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"data":{}}`))
	assert.Error(t, err, "missing type tag")
}

func TestDecodeMessage_UnknownTagIsNotFatal(t *testing.T) {
	// Unknown tags decode fine at the envelope level; the consumer decides
	// to drop them.
	msg, err := DecodeMessage([]byte(`{"type":"welcome","data":{"now":"2025-03-01T12:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("welcome"), msg.Type)
}

func TestEncodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypeNotification, Notification{Message: "vote passed", Level: "info"})
	require.NoError(t, err)

	msg, err := DecodeMessage(frame)
	require.NoError(t, err)
	n, err := msg.Notification()
	require.NoError(t, err)
	assert.Equal(t, "vote passed", n.Message)
	assert.Equal(t, "info", n.Level)
}
