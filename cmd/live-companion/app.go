// ABOUTME: Shared service construction for CLI commands
// ABOUTME: Opens the key-value database, image store, record stores, and settings once

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/live-companion/internal/blobstore"
	"github.com/2389/live-companion/internal/config"
	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/settings"
	"github.com/2389/live-companion/internal/store"
)

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	kv       *store.SQLiteKV
	blobs    *blobstore.Store
	records  *conversation.Store
	movies   *conversation.MovieStore
	settings *settings.Settings
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	kv, err := store.NewSQLiteKV(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blobs, err := blobstore.New(cfg.Storage.ImagesDir, blobstore.WithLogger(logger))
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("opening image store: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		blobs:    blobs,
		records:  conversation.NewStore(kv, blobs, logger),
		movies:   conversation.NewMovieStore(kv, blobs, logger),
		settings: settings.Load(ctx, kv, logger),
	}, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

// withApp loads config, builds the services, and runs fn
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
