// Package content owns the site's in-memory content and keeps it in step with
// the configured stores.
//
// Loading walks a fallback chain: the remote backend, then the local cache,
// then the bundled static files, then hard-coded defaults. The first source
// that yields items wins. Mutations are applied in memory and to the local
// cache first, then attempted remotely; a failed remote write is reported but
// never undoes the local change.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/K4mp47/poetry-cms/internal/model"
	"github.com/K4mp47/poetry-cms/internal/storage"
)

// Source names where the current state was loaded from.
type Source string

const (
	SourceNone     Source = ""
	SourceRemote   Source = "remote"
	SourceCache    Source = "cache"
	SourceBundle   Source = "bundle"
	SourceDefaults Source = "defaults"
)

var (
	// ErrNotFound indicates the item id is unknown.
	ErrNotFound = errors.New("content item not found")
	// ErrInvalid indicates the item or settings failed validation.
	ErrInvalid = errors.New("invalid content")
	// ErrExists indicates a create collided with an existing id.
	ErrExists = errors.New("content item already exists")
)

// Cache is the local copy that survives restarts.
type Cache interface {
	Load(ctx context.Context) (model.Snapshot, error)
	Save(ctx context.Context, snap model.Snapshot) error
}

// BundleFunc loads the bundled static content.
type BundleFunc func() (model.Snapshot, error)

// Options wires a Repository. Every field but Logger may be nil; a nil
// Backend means local-only mode.
type Options struct {
	Backend storage.Backend
	Cache   Cache
	Bundle  BundleFunc
	Logger  *zap.Logger
	Now     func() time.Time
}

// Repository is the facade the API talks to.
type Repository struct {
	backend storage.Backend
	cache   Cache
	bundle  BundleFunc
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	items    []model.ContentItem
	settings model.SiteSettings
	ledger   model.Ledger
	source   Source

	// ledgerRev counts local ledger changes; ledgerSynced is the last
	// revision the backend accepted.
	ledgerRev    uint64
	ledgerSynced uint64
	// pendingErase holds ids deleted locally but not yet remotely.
	pendingErase map[string]struct{}

	// ledgerMu serializes ledger pushes so the newest order lands last.
	ledgerMu sync.Mutex
}

// NewRepository returns an empty repository; call Load before use.
func NewRepository(opts Options) *Repository {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Repository{
		backend:  opts.Backend,
		cache:    opts.Cache,
		bundle:   opts.Bundle,
		logger:   logger.Named("content"),
		now:      now,
		settings: model.DefaultSettings(),

		pendingErase: make(map[string]struct{}),
	}
}

// Mode reports the backend kind, or "local" without one.
func (r *Repository) Mode() string {
	if r.backend == nil {
		return "local"
	}
	return r.backend.Kind()
}

// Load fills the repository from the first source in the chain that yields
// content. It only fails when ctx is done.
func (r *Repository) Load(ctx context.Context) error {
	snap, src := r.resolve(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.items = model.SortByLedger(snap.Items, snap.Ledger)
	r.settings = snap.Settings
	r.ledger = snap.Ledger
	r.source = src
	if src == SourceRemote {
		r.ledgerSynced = r.ledgerRev
		clear(r.pendingErase)
	}
	r.mu.Unlock()

	r.logger.Info("content loaded",
		zap.String("source", string(src)),
		zap.String("mode", r.Mode()),
		zap.Int("items", len(snap.Items)))
	return nil
}

// Reload is Load under another name, for callers refreshing a live
// repository.
func (r *Repository) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

func (r *Repository) resolve(ctx context.Context) (model.Snapshot, Source) {
	if r.backend != nil {
		snap, err := r.fetchRemote(ctx)
		switch {
		case err != nil:
			r.logger.Warn("remote load failed, falling back", zap.String("backend", r.backend.Kind()), zap.Error(err))
		case snap.Empty():
			r.logger.Warn("remote has no content, falling back", zap.String("backend", r.backend.Kind()))
		default:
			if r.cache != nil {
				if err := r.cache.Save(ctx, snap); err != nil {
					r.logger.Warn("could not mirror remote content to cache", zap.Error(err))
				}
			}
			return snap, SourceRemote
		}
	}

	if r.cache != nil {
		snap, err := r.cache.Load(ctx)
		switch {
		case err != nil:
			r.logger.Debug("cache unavailable", zap.Error(err))
		case snap.Empty():
			r.logger.Debug("cache is empty")
		default:
			return snap, SourceCache
		}
	}

	if r.bundle != nil {
		snap, err := r.bundle()
		switch {
		case err != nil:
			r.logger.Warn("bundled content unavailable", zap.Error(err))
		case snap.Empty():
			r.logger.Debug("bundle is empty")
		default:
			return snap, SourceBundle
		}
	}

	return model.DefaultSnapshot(), SourceDefaults
}

func (r *Repository) fetchRemote(ctx context.Context) (model.Snapshot, error) {
	var (
		rawSettings []byte
		rawLedger   []byte
		records     []storage.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawSettings, err = readOptional(gctx, r.backend, storage.SettingsName)
		return err
	})
	g.Go(func() error {
		var err error
		rawLedger, err = readOptional(gctx, r.backend, storage.LedgerName)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = r.backend.ListItems(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Snapshot{}, err
	}

	snap := model.Snapshot{Settings: model.DefaultSettings()}
	if rawSettings != nil {
		if err := json.Unmarshal(rawSettings, &snap.Settings); err != nil {
			return model.Snapshot{}, fmt.Errorf("parse settings: %w", err)
		}
	}
	if rawLedger != nil {
		if err := json.Unmarshal(rawLedger, &snap.Ledger); err != nil {
			return model.Snapshot{}, fmt.Errorf("parse ledger: %w", err)
		}
	}
	for _, rec := range records {
		var item model.ContentItem
		if err := json.Unmarshal(rec.Data, &item); err != nil {
			return model.Snapshot{}, fmt.Errorf("parse item %s: %w", rec.ID, err)
		}
		if item.ID == "" {
			item.ID = rec.ID
		}
		snap.Items = append(snap.Items, item)
	}
	return snap, nil
}

func readOptional(ctx context.Context, b storage.Backend, name string) ([]byte, error) {
	data, err := b.ReadSingleton(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// Source reports where the current state came from.
func (r *Repository) Source() Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

// Items returns the items in display order, optionally restricted to one
// type.
func (r *Repository) Items(t model.ContentType) []model.ContentItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.FilterByType(r.items, t)
}

// Item returns the item with the given id.
func (r *Repository) Item(id string) (model.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.items[i], nil
	}
	return model.ContentItem{}, ErrNotFound
}

func (r *Repository) indexLocked(id string) int {
	for i, it := range r.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Settings returns the current site settings.
func (r *Repository) Settings() model.SiteSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.settings
	s.AuthorRoles = append([]string(nil), s.AuthorRoles...)
	return s
}

// Ledger returns the current ordering ledger.
func (r *Repository) Ledger() model.Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.Ledger{ContentOrder: append([]string(nil), r.ledger.ContentOrder...)}
}

// Snapshot returns a copy of the whole current state.
func (r *Repository) Snapshot() model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Repository) snapshotLocked() model.Snapshot {
	s := r.settings
	s.AuthorRoles = append([]string(nil), s.AuthorRoles...)
	return model.Snapshot{
		Settings: s,
		Ledger:   model.Ledger{ContentOrder: append([]string(nil), r.ledger.ContentOrder...)},
		Items:    append([]model.ContentItem(nil), r.items...),
	}
}

// normalize validates item and fills the fields a new item may omit.
func (r *Repository) normalize(item model.ContentItem) (model.ContentItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	t, err := model.ParseContentType(string(item.Type))
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	item.Type = t
	if strings.TrimSpace(item.Body) == "" {
		return model.ContentItem{}, fmt.Errorf("%w: body is required", ErrInvalid)
	}
	if item.Type == model.TypeQuote {
		item.Title, item.Excerpt = "", ""
	} else if item.Excerpt == "" {
		item.Excerpt = model.DeriveExcerpt(item.Body)
	}
	if item.Date == "" {
		item.Date = r.now().Format(time.DateOnly)
	}
	return item, nil
}
