// ABOUTME: Builds the chat runtime from config: client, directory, store, dispatcher and archive
// ABOUTME: Every command shares this wiring so flags and config behave the same everywhere

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/dispatch"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/target"
	"github.com/2389/coven-chat/internal/transport"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *client.Client
	dir     *target.Registry
	store   *conversation.Store
	keys    *dedupe.Cache
	ctrl    *dispatch.Controller
	archive store.Store
}

// loadConfig reads the config file named by the flags and applies overrides.
func loadConfig(opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.baseURL != "" {
		cfg.Server.BaseURL = opts.baseURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --base-url: %w", err)
		}
	}
	return cfg, nil
}

// newApp wires the runtime. The archive is opened only when it is enabled
// and withArchive is set.
func newApp(ctx context.Context, opts *options, withArchive bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	httpClient := &http.Client{Timeout: cfg.Server.RequestTimeout}
	api := client.New(cfg.Server.BaseURL, httpClient, logger)

	dir := target.NewRegistry(target.Directory{})
	if err := dir.Refresh(ctx, api); err != nil {
		logger.Warn("directory unavailable, mentions will not resolve", "error", err)
	}

	previews := conversation.NewPreviews(func(id string) {
		logger.Debug("preview released", "preview_id", id)
	})
	conv := conversation.NewStore(previews, logger)
	keys := dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeSize)
	dialer := transport.NewDialer(cfg.Server.BaseURL, cfg.Server.UserID, httpClient, logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: api,
		dir:    dir,
		store:  conv,
		keys:   keys,
		ctrl: dispatch.New(conv, dir, dialer, dispatch.Options{
			DefaultKind: cfg.DefaultKind(),
			DefaultID:   cfg.Chat.DefaultTarget.ID,
			Canceller:   api,
			Keys:        keys,
			Logger:      logger,
		}),
	}

	if withArchive && cfg.Archive.Enabled {
		archive, err := store.NewSQLiteStore(cfg.Archive.Path, logger)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		a.archive = archive
	}
	return a, nil
}

// openArchive opens the archive on its own for the archive subcommands.
func openArchive(opts *options) (store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, os.Stderr)
	archive, err := store.NewSQLiteStore(cfg.Archive.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return archive, nil
}

// historyPath keeps the line-editor history beside the archive.
func (a *app) historyPath() string {
	return filepath.Join(filepath.Dir(a.cfg.Archive.Path), "chat.history")
}

// save archives the active session when the archive is on and the session
// has messages.
func (a *app) save(ctx context.Context) (bool, error) {
	if a.archive == nil {
		return false, nil
	}
	sess := a.store.Snapshot()
	if len(sess.Messages) == 0 {
		return false, nil
	}
	if err := a.archive.SaveSession(ctx, sess); err != nil {
		return false, fmt.Errorf("saving session: %w", err)
	}
	return true, nil
}

// Close stops every stream and releases resources.
func (a *app) Close(ctx context.Context) {
	a.ctrl.Close(ctx)
	a.keys.Close()
	a.store.Close()
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("closing archive", "error", err)
		}
	}
}
