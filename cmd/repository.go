package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/bundle"
	"github.com/K4mp47/poetry-cms/internal/cache"
	"github.com/K4mp47/poetry-cms/internal/config"
	"github.com/K4mp47/poetry-cms/internal/content"
	"github.com/K4mp47/poetry-cms/internal/model"
	"github.com/K4mp47/poetry-cms/internal/storage"
	"github.com/K4mp47/poetry-cms/internal/storage/firestore"
	"github.com/K4mp47/poetry-cms/internal/storage/githubstore"
)

// newBackend returns the configured remote store, or nil in local-only mode.
func newBackend(cfg config.Config, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.Backend() {
	case config.BackendFirestore:
		return firestore.New(firestore.Config{
			ProjectID:      cfg.Firestore.ProjectID,
			APIKey:         cfg.Firestore.APIKey,
			Database:       cfg.Firestore.Database,
			Collection:     cfg.Firestore.Collection,
			SiteCollection: cfg.Firestore.SiteCollection,
		}, logger)
	case config.BackendGitHub:
		return githubstore.New(githubstore.Config{
			Token:  cfg.GitHub.Token,
			Owner:  cfg.GitHub.Owner,
			Repo:   cfg.GitHub.Repo,
			Branch: cfg.GitHub.Branch,
			Folder: cfg.GitHub.Folder,
		}, logger)
	default:
		return nil, nil
	}
}

// openRepository wires backend, cache and bundle into a loaded repository.
// The returned func closes the cache.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (*content.Repository, func(), error) {
	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("configure %s backend: %w", cfg.Backend(), err)
	}

	opts := content.Options{
		Backend: backend,
		Bundle:  func() (model.Snapshot, error) { return bundle.Read(cfg.BundleDir, logger) },
		Logger:  logger,
	}

	closeCache := func() {}
	if cfg.CachePath != "" {
		store, err := cache.Open(cfg.CachePath)
		if err != nil {
			logger.Warn("local cache unavailable, continuing without it",
				zap.String("path", cfg.CachePath), zap.Error(err))
		} else {
			opts.Cache = store
			closeCache = func() {
				if err := store.Close(); err != nil {
					logger.Warn("close local cache", zap.Error(err))
				}
			}
		}
	}

	repo := content.NewRepository(opts)
	if err := repo.Load(ctx); err != nil {
		closeCache()
		return nil, nil, err
	}
	return repo, closeCache, nil
}
