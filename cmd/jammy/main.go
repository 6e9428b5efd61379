// Command jammy is a headless room client: it joins a room, follows the
// shared playback timeline over the event channel and drives a Spotify
// Connect device (or a silent log device when no token is configured).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shikaka-studio/jammy/internal/channel"
	"github.com/shikaka-studio/jammy/internal/device"
	"github.com/shikaka-studio/jammy/internal/engine"
	"github.com/shikaka-studio/jammy/internal/roomapi"
	"github.com/shikaka-studio/jammy/internal/spotify"
	"github.com/shikaka-studio/jammy/internal/wire"
)

func main() {
	apiURL := getenv("API_URL", "http://localhost:3004")
	wsURL := getenv("WS_URL", "ws://localhost:3004")
	roomCode := getenv("ROOM_CODE", "")
	userID := getenv("USER_ID", "jammy")
	spotifyToken := getenv("SPOTIFY_TOKEN", "")
	deviceName := getenv("SPOTIFY_DEVICE_NAME", "Jammy")
	refreshURL := getenv("TOKEN_REFRESH_URL", "")

	if roomCode == "" {
		log.Fatal("jammy: ROOM_CODE is required")
	}

	tokens := roomapi.NewTokenStore(refreshURL, spotifyToken)

	var ctrl device.Controller
	if spotifyToken != "" || refreshURL != "" {
		ctrl = spotify.NewController(tokens, deviceName)
	} else {
		log.Printf("jammy: no SPOTIFY_TOKEN configured, using silent log device")
		ctrl = device.NewLogController()
	}

	eng := engine.New(engine.Config{
		RoomCode: roomCode,
		Channel:  channel.New(wsURL, roomCode, userID),
		Device:   device.NewAdapter(ctrl, tokens),
		API:      roomapi.NewClient(apiURL),
		OnProgress: func(positionMs int64) {
			log.Printf("jammy: position %d.%03ds", positionMs/1000, positionMs%1000)
		},
		OnNotification: func(n wire.Notification) {
			log.Printf("jammy: [%s] %s", n.Level, n.Message)
		},
		OnMemberJoined: func(ev wire.MemberEvent) {
			log.Printf("jammy: %s joined", ev.DisplayName)
		},
		OnMemberLeft: func(ev wire.MemberEvent) {
			log.Printf("jammy: %s left", ev.DisplayName)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("jammy: %v", err)
	}
	defer eng.Stop()

	log.Printf("jammy: joined room %s as %s", roomCode, userID)
	<-ctx.Done()
	log.Printf("jammy: shutting down")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
