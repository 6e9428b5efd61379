// Package roomsim is an in-memory room server for developing and exercising
// the client: it speaks the channel message protocol over websocket, serves
// the playback snapshot endpoint and fans mutations out through Redis.
package roomsim

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/shikaka-studio/jammy/internal/wire"
)

var upgrader = websocket.Upgrader{
	// The simulator is a dev tool, any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	hub   *Hub
	rdb   *redis.Client
	store *Store
	ctx   context.Context
}

func NewServer(hub *Hub, rdb *redis.Client, store *Store, ctx context.Context) *Server {
	return &Server{hub: hub, rdb: rdb, store: store, ctx: ctx}
}

// Router builds the chi router with the given middlewares applied.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws/{code}", s.handleWS)
	r.Get("/playback/room/{code}/state", s.handleState)
	r.Post("/playback/room/{code}/play", s.handlePlay)
	r.Post("/playback/room/{code}/pause", s.handlePause)
	r.Post("/playback/room/{code}/seek", s.handleSeek)
	r.Post("/playback/room/{code}/next", s.handleNext)
	r.Get("/rooms/{code}/queue", s.handleGetQueue)
	r.Post("/rooms/{code}/queue", s.handleAddToQueue)

	return r
}

// redisEnvelope is the pub/sub unit: a channel frame plus the room it targets.
type redisEnvelope struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

// RunRedisSubscriber feeds the hub from the shared broadcast channel so
// several simulator instances fan out the same events.
func (s *Server) RunRedisSubscriber() {
	sub := s.rdb.Subscribe(s.ctx, "broadcast")
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		var env redisEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("roomsim: bad broadcast payload: %v", err)
			continue
		}
		s.hub.broadcast <- envelope{room: env.Room, data: env.Data}
	}
}

// Broadcast publishes a channel message for one room through Redis.
func (s *Server) Broadcast(roomCode string, t wire.MessageType, data any) {
	frame, err := wire.Encode(t, data)
	if err != nil {
		log.Printf("roomsim: encode %s: %v", t, err)
		return
	}
	payload, err := json.Marshal(redisEnvelope{Room: roomCode, Data: frame})
	if err != nil {
		log.Printf("roomsim: encode envelope: %v", err)
		return
	}
	if err := s.rdb.Publish(s.ctx, "broadcast", payload).Err(); err != nil {
		log.Printf("roomsim: publish: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "roomsim",
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	userID := r.URL.Query().Get("user_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("roomsim: ws upgrade: %v", err)
		return
	}

	c := &client{
		hub:  s.hub,
		conn: conn,
		room: code,
		send: make(chan []byte, 256),
	}
	s.hub.register <- c

	go c.writePump()
	go c.readPump()

	s.Broadcast(code, wire.TypeMemberJoined, wire.MemberEvent{
		UserID:          userID,
		DisplayName:     userID,
		ConnectionCount: 1,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))
	st := room.State()
	if st.CurrentTrack == nil && !st.IsPlaying {
		writeError(w, http.StatusNotFound, "no active playback")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))
	room.Play(time.Now())
	s.Broadcast(room.Code, wire.TypePlaybackState, room.State())
	s.Broadcast(room.Code, wire.TypeQueueUpdate, room.QueueState())
	writeJSON(w, http.StatusOK, room.State())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))
	room.Pause(time.Now())
	s.Broadcast(room.Code, wire.TypePlaybackState, room.State())
	writeJSON(w, http.StatusOK, room.State())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))

	posStr := r.URL.Query().Get("position_ms")
	pos, err := strconv.ParseInt(posStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position_ms")
		return
	}

	room.Seek(time.Now(), pos)
	s.Broadcast(room.Code, wire.TypePlaybackState, room.State())
	writeJSON(w, http.StatusOK, room.State())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))
	room.Next(time.Now())
	s.Broadcast(room.Code, wire.TypePlaybackState, room.State())
	s.Broadcast(room.Code, wire.TypeQueueUpdate, room.QueueState())
	writeJSON(w, http.StatusOK, room.State())
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	room := s.store.Get(chi.URLParam(r, "code"))
	writeJSON(w, http.StatusOK, room.QueueState())
}

func (s *Server) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	room := s.store.Get(chi.URLParam(r, "code"))

	var t wire.QueueTrack
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if t.Title == "" {
		writeError(w, http.StatusBadRequest, "missing title")
		return
	}

	added := room.Enqueue(t)
	s.Broadcast(room.Code, wire.TypeQueueUpdate, room.QueueState())
	writeJSON(w, http.StatusCreated, added)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("roomsim: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
