package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"emberchat/backend/internal/api/handler"
	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/config"
	"emberchat/backend/internal/reaper"
	"emberchat/backend/internal/storage"
	"emberchat/backend/internal/telegram"
)

func main() {
	log.Println("Starting Emberchat backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	db, err := storage.OpenDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// With REDIS_ADDR set, change events are broadcast through Redis Pub/Sub
	// so pairs can span server instances. Without it, the in-process bus is
	// enough for a single instance.
	var bus storage.EventBus
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Fatalf("Failed to connect Redis: %v", err)
		}
		bus = storage.NewRedisBus(ctx, rdb)
		log.Println("Change events fan out through Redis Pub/Sub.")
	} else {
		bus = storage.NewMemoryBus()
		log.Println("Change events stay in-process (REDIS_ADDR not set).")
	}
	defer bus.Close()

	store := storage.NewService(db, bus)

	hub := chathub.NewHub()
	go hub.Run()
	defer hub.Close()

	sweep := reaper.New(store, cfg.QueueStaleAfter, cfg.OrphanSessionAfter, cfg.ReapInterval)
	go sweep.Run(ctx)

	if cfg.TelegramToken != "" {
		botService, err := telegram.NewBotService(cfg.TelegramToken, hub, store, chathub.OptionsFromConfig(cfg))
		if err != nil {
			log.Fatalf("Failed to start Telegram bot: %v", err)
		}
		go botService.Run()
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, Telegram transport disabled.")
	}

	router := gin.Default()
	h := handler.NewHandler(hub, store, cfg)
	handler.SetupRoutes(router, h)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting")
}
