package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"notehub/internal/config"
	"notehub/internal/httpapi"
	"notehub/internal/hub"
	"notehub/internal/presence"
	"notehub/internal/service"
	"notehub/internal/storage"
)

func main() {
	cfg := config.Load()

	db, err := storage.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	snaps, err := storage.OpenSnapshotCache(cfg.SnapshotPath)
	if err != nil {
		log.Fatalf("open snapshot cache: %v", err)
	}
	defer snaps.Close()

	userStore := storage.NewUserStore(db)
	pageStore := storage.NewPageStore(db)
	blockStore := storage.NewBlockStore(db)

	emitter := service.LogEmitter{}
	auth := service.NewAuthService(userStore)
	access := service.NewAccessService(pageStore)
	pages := service.NewPageService(pageStore, blockStore, snaps, emitter)
	blocks := service.NewBlockService(blockStore, emitter)
	bridge := service.NewBridge(cfg.NodeID, blockStore, snaps, emitter)

	registry := presence.NewRegistry()
	h := hub.New(auth, access, bridge, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis %s: %v", cfg.RedisAddr, err)
		}
		relay := hub.NewRedisRelay(client, cfg.NodeID, h)
		h.SetRelay(relay)
		go relay.Run(ctx)
		log.Printf("relay: connected to %s as %s", cfg.RedisAddr, cfg.NodeID)
	}

	sweeper := presence.NewSweeper(registry, presence.DefaultTTL, func(e presence.Evicted) {
		h.Evict([]presence.Evicted{e})
	})
	if err := sweeper.Start(); err != nil {
		log.Fatalf("start sweeper: %v", err)
	}
	defer sweeper.Stop()

	go h.Run(ctx)

	api := httpapi.New(auth, pages, blocks)
	router := api.Router()
	router.HandleFunc("/ws", h.ServeWS)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		log.Printf("listening on %s (store %s)", cfg.ListenAddr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
