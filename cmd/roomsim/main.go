package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/shikaka-studio/jammy/internal/roomsim"
)

func main() {
	ctx := context.Background()

	port := getenv("PORT", "3004")
	redisURL := getenv("REDIS_URL", "redis://localhost:6379")

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("roomsim: invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	hub := roomsim.NewHub()
	srv := roomsim.NewServer(hub, rdb, roomsim.NewStore(), ctx)

	go hub.Run()
	go srv.RunRedisSubscriber()
	srv.StartTicker(ctx)

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	log.Printf("roomsim listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("roomsim: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
