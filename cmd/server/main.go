package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/best-technologies/embedded-door-lock/internal/access"
	"github.com/best-technologies/embedded-door-lock/internal/attendance"
	"github.com/best-technologies/embedded-door-lock/internal/calendar"
	"github.com/best-technologies/embedded-door-lock/internal/config"
	"github.com/best-technologies/embedded-door-lock/internal/db"
	internalhttp "github.com/best-technologies/embedded-door-lock/internal/http"
	"github.com/best-technologies/embedded-door-lock/internal/jobs"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := calendar.NewPolicy(cfg)
	if err != nil {
		log.Fatalf("calendar policy invalid: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("db ping failed: %v", err)
	}
	pingCancel()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema migration failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	codes := access.NewCodeStore(redisClient, cfg.TempCodeTTL)
	verifier := access.NewVerifier(store, codes)

	engine := attendance.NewEngine(store, policy)
	go engine.Run(ctx)

	jobs.StartKeepAliveJob(ctx, cfg)

	server := internalhttp.NewServer(cfg, store, verifier, codes, engine)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("door-lock http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
