package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"board/api/internal/app"
	"board/api/internal/config"
	"board/api/internal/feed"
	"board/api/internal/media"
	"board/api/internal/push"
	"board/api/internal/search"
	"board/api/internal/store"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Description: `Applies pending migrations, starts the change feed relay and
		serves the API until SIGINT or SIGTERM.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	bus, err := openFeed(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	relay := feed.NewRelay(cfg.DatabaseURL, dataStore, bus)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(ctx); err != nil {
			log.WithError(err).Error("change feed relay stopped")
		}
	}()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(indexOrNil(meiliClient), search.NewPgFTS(db))

	deps := app.Deps{
		Store:  dataStore,
		Feed:   bus,
		Search: searchService,
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		images, err := media.New(ctx, media.Config{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.S3PublicBaseURL,
			MaxBytes:      cfg.MaxImageBytes,
		})
		if err != nil {
			log.WithError(err).Warn("image storage unavailable, uploads disabled")
		} else {
			deps.Images = images
		}
	}

	if cfg.PushEnabled() {
		transport := push.NewWebPush(push.WebPushConfig{
			Subscriber:      cfg.VAPIDSubject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.PushTTL,
		})
		deps.Notifier = push.NewFanout(dataStore, transport)
	} else {
		log.Info("VAPID keys not set, push notifications disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("board API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-relayDone
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	<-relayDone
	return nil
}

func openFeed(cfg config.Config) (feed.Bus, error) {
	switch cfg.FeedBackend {
	case "", "memory":
		return feed.NewHub(64), nil
	case "redis":
		bus, err := feed.NewRedisBus(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("using redis for the change feed")
		return bus, nil
	}
	return nil, fmt.Errorf("unknown feed backend %q", cfg.FeedBackend)
}

// indexOrNil keeps a nil *Meili from becoming a non-nil Index.
func indexOrNil(m *search.Meili) search.Index {
	if m == nil {
		return nil
	}
	return m
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back database migrations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rollback",
				Usage: "Roll back this many migrations instead of applying",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(c.Context, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if steps := c.Int("rollback"); steps > 0 {
				return store.RollbackMigrations(c.Context, db, cfg.MigrationsDir, steps)
			}
			return store.ApplyMigrations(c.Context, db, cfg.MigrationsDir)
		},
	}
}

func reindexCmd() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the Meilisearch post index from the database",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			db, err := store.Open(c.Context, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()

			count, err := search.NewService(meiliClient, search.NewPgFTS(db)).Reindex(c.Context, store.NewPostgresStore(db))
			if err != nil {
				return err
			}
			log.WithField("posts", count).Info("reindex complete")
			return nil
		},
	}
}

func vapidKeysCmd() *cli.Command {
	return &cli.Command{
		Name:  "vapid-keys",
		Usage: "Generate a VAPID key pair for push notifications",
		Action: func(c *cli.Context) error {
			publicKey, privateKey, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
			return nil
		},
	}
}
