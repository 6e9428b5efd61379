// Package spotify implements the render-device capability set on top of the
// Spotify Connect Web API: commands target a named Connect device, readiness
// comes from device discovery and state from polling the player endpoint.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shikaka-studio/jammy/internal/device"
)

const (
	defaultAPIBase = "https://api.spotify.com/v1"
	pollInterval   = 5 * time.Second
	requestTimeout = 8 * time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithBaseURL overrides the Web API base, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Controller) { c.baseURL = u }
}

// WithPollInterval overrides the state poll period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.poll = d }
}

// Controller drives a Spotify Connect device. Credentials are pulled from the
// provider on every request, so a background refresh is picked up without a
// restart.
type Controller struct {
	creds      device.CredentialProvider
	deviceName string
	baseURL    string
	poll       time.Duration
	http       *http.Client

	mu        sync.Mutex
	listener  func(device.Event)
	deviceID  string
	connected bool
	wasReady  bool
	stop      chan struct{}
}

func NewController(creds device.CredentialProvider, deviceName string, opts ...Option) *Controller {
	c := &Controller{
		creds:      creds,
		deviceName: deviceName,
		baseURL:    defaultAPIBase,
		poll:       pollInterval,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Subscribe(fn func(device.Event)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Connect starts the discovery/poll loop. Failures surface asynchronously as
// error events, mirroring the SDK the capability set is modelled on.
func (c *Controller) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true, nil
	}
	c.connected = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go c.run(stop)
	return true, nil
}

func (c *Controller) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.deviceID = ""
	c.wasReady = false
	close(c.stop)
	c.stop = nil
	c.mu.Unlock()
}

func (c *Controller) run(stop chan struct{}) {
	c.discover()

	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			id := c.deviceID
			c.mu.Unlock()
			if id == "" {
				c.discover()
			} else {
				c.pollState()
			}
		}
	}
}

// discover looks up the named Connect device and announces readiness.
func (c *Controller) discover() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body struct {
		Devices []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"devices"`
	}
	if err := c.get(ctx, "/me/player/devices", &body); err != nil {
		c.emit(errorEvent(err, device.ErrorInitialization, "device discovery failed"))
		return
	}

	for _, d := range body.Devices {
		if d.Name == c.deviceName {
			c.mu.Lock()
			c.deviceID = d.ID
			c.wasReady = true
			c.mu.Unlock()
			c.emit(device.Event{Type: device.EventReady, DeviceID: d.ID})
			return
		}
	}
	log.Printf("spotify: device %q not found yet", c.deviceName)
}

// pollState reads the player state and republishes it as state_changed. A 204
// means no active playback context, which is not an error.
func (c *Controller) pollState() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body struct {
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
		IsPlaying  bool  `json:"is_playing"`
		ProgressMs int64 `json:"progress_ms"`
		Item       struct {
			URI string `json:"uri"`
		} `json:"item"`
	}
	err := c.get(ctx, "/me/player", &body)
	if err == errNoContent {
		c.emit(device.Event{Type: device.EventStateChanged})
		return
	}
	if err != nil {
		c.emit(errorEvent(err, device.ErrorPlayback, "player state poll failed"))
		return
	}

	c.mu.Lock()
	id := c.deviceID
	c.mu.Unlock()
	if body.Device.ID != "" && body.Device.ID != id {
		// Playback moved to another device; ours has gone quiet.
		c.emit(device.Event{Type: device.EventNotReady, DeviceID: id})
		return
	}

	c.emit(device.Event{Type: device.EventStateChanged, State: &device.State{
		Paused:     !body.IsPlaying,
		PositionMs: body.ProgressMs,
		TrackURI:   body.Item.URI,
	}})
}

func (c *Controller) Play(ctx context.Context, uri string, positionMs int64) error {
	id := c.currentDeviceID()
	if id == "" {
		return fmt.Errorf("spotify: play: no device id")
	}
	body := map[string]any{"position_ms": positionMs}
	if uri != "" {
		body["uris"] = []string{uri}
	}
	return c.put(ctx, "/me/player/play?device_id="+url.QueryEscape(id), body)
}

func (c *Controller) Pause(ctx context.Context) error {
	id := c.currentDeviceID()
	if id == "" {
		return fmt.Errorf("spotify: pause: no device id")
	}
	return c.put(ctx, "/me/player/pause?device_id="+url.QueryEscape(id), nil)
}

func (c *Controller) Seek(ctx context.Context, positionMs int64) error {
	id := c.currentDeviceID()
	if id == "" {
		return fmt.Errorf("spotify: seek: no device id")
	}
	return c.put(ctx, fmt.Sprintf("/me/player/seek?position_ms=%d&device_id=%s", positionMs, url.QueryEscape(id)), nil)
}

func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	id := c.currentDeviceID()
	if id == "" {
		return fmt.Errorf("spotify: set volume: no device id")
	}
	pct := int(volume * 100)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return c.put(ctx, fmt.Sprintf("/me/player/volume?volume_percent=%d&device_id=%s", pct, url.QueryEscape(id)), nil)
}

func (c *Controller) currentDeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

var errNoContent = fmt.Errorf("spotify: no content")

type statusError struct {
	code int
	path string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("spotify: %s status %d", e.path, e.code)
}

func (c *Controller) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return errNoContent
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, path: path}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Controller) put(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &statusError{code: resp.StatusCode, path: req.URL.Path}
		c.emit(errorEvent(err, device.ErrorPlayback, "command rejected"))
		return err
	}
	return nil
}

// do attaches the bearer credential, read fresh from the provider per request.
func (c *Controller) do(req *http.Request) (*http.Response, error) {
	tok, err := c.creds.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("spotify: credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return c.http.Do(req)
}

// errorEvent maps an HTTP failure to the device error taxonomy: 401 is an
// authentication error, 403 an account restriction, anything else keeps the
// fallback class.
func errorEvent(err error, fallback device.ErrorClass, msg string) device.Event {
	class := fallback
	if se, ok := err.(*statusError); ok {
		switch se.code {
		case http.StatusUnauthorized:
			class = device.ErrorAuthentication
		case http.StatusForbidden:
			class = device.ErrorAccount
		}
	}
	return device.Event{
		Type:    device.EventError,
		Class:   class,
		Message: msg + ": " + err.Error(),
	}
}

func (c *Controller) emit(ev device.Event) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
