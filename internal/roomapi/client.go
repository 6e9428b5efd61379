// Package roomapi holds the HTTP clients for the room backend: the initial
// playback snapshot and the credential refresh endpoint.
package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shikaka-studio/jammy/internal/wire"
)

// ErrNoPlayback means the room has no active playback yet. It is a normal
// condition on room entry, not a failure.
var ErrNoPlayback = errors.New("roomapi: no active playback")

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetPlaybackState fetches the authoritative snapshot for a room.
func (c *Client) GetPlaybackState(ctx context.Context, roomCode string) (wire.PlaybackState, error) {
	u := c.baseURL + "/playback/room/" + url.PathEscape(roomCode) + "/state"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return wire.PlaybackState{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wire.PlaybackState{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return wire.PlaybackState{}, ErrNoPlayback
	default:
		return wire.PlaybackState{}, fmt.Errorf("roomapi: playback state status %d", resp.StatusCode)
	}

	var st wire.PlaybackState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return wire.PlaybackState{}, fmt.Errorf("roomapi: decode playback state: %w", err)
	}
	return st, nil
}
