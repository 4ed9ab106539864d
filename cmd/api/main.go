package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/app"
	"github.com/mouhebsa/blog-collaborator/internal/comments"
	"github.com/mouhebsa/blog-collaborator/internal/config"
	"github.com/mouhebsa/blog-collaborator/internal/covers"
	"github.com/mouhebsa/blog-collaborator/internal/notify"
	"github.com/mouhebsa/blog-collaborator/internal/registry"
	"github.com/mouhebsa/blog-collaborator/internal/search"
	"github.com/mouhebsa/blog-collaborator/internal/session"
	"github.com/mouhebsa/blog-collaborator/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "blog-collaborator").Logger()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer sessions.Close()

	pgSearch := search.NewPG(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch, log)
	searchService.ReindexAll(ctx)

	var coverService *covers.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		coverService, err = covers.New(ctx, covers.Config{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("object store connection failed")
		}
		log.Info().Str("bucket", cfg.MinioBucket).Msg("cover uploads enabled")
	} else {
		log.Info().Msg("no object store configured, cover uploads disabled")
	}

	reg := registry.New(log)
	dispatcher := notify.New(dataStore, reg, log)
	engine := comments.New(dataStore, log)

	service := app.New(cfg, dataStore, sessions, engine, dispatcher, reg, searchService, coverService, log)
	limiter := app.NewRateLimiter(cfg.RateWindow, cfg.RateGeneralMax, cfg.RateAuthMax, cfg.RateWriteMax)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter, log)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
}
