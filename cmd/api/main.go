package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marginalia/internal/app"
	"marginalia/internal/assist"
	"marginalia/internal/blob"
	"marginalia/internal/config"
	"marginalia/internal/presence"
	"marginalia/internal/revision"
	"marginalia/internal/search"
	"marginalia/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	revisionService := revision.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}
	searchService.ReindexAllFromPG(ctx)

	var presenceStore *presence.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		presenceStore, err = presence.NewRedisStore(cfg.RedisURL, cfg.HeartbeatInterval)
		if err != nil {
			log.Printf("WARNING: redis unavailable, presence disabled: %v", err)
			presenceStore = nil
		} else {
			defer presenceStore.Close()
		}
	}

	assistClient := assist.NewClient(cfg.AssistURL)
	if assistClient.Enabled() {
		log.Printf("Assist generation enabled at %s", cfg.AssistURL)
	}

	var blobStore *blob.Store
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobStore, err = blob.New(ctx, cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobUseSSL)
		if err != nil {
			log.Printf("WARNING: object store unavailable, upload archiving disabled: %v", err)
			blobStore = nil
		}
	}

	var service *app.Service
	if presenceStore != nil {
		service = app.NewServiceWithPresence(dataStore, revisionService, searchService, presenceStore, assistClient, blobStore, cfg.EphemeralTTL)
	} else {
		service = app.NewService(dataStore, revisionService, searchService, assistClient, blobStore, cfg.EphemeralTTL)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Marginalia API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
