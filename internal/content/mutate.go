package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/model"
	"github.com/K4mp47/poetry-cms/internal/storage"
)

// Outcome reports what happened remotely after a local mutation.
type Outcome struct {
	// Synced is true when the backend accepted the write.
	Synced bool
	// LocalOnly is true when no backend is configured.
	LocalOnly bool
	// RemoteErr is the backend failure, if any.
	RemoteErr error
}

// Warning is a short message for the author, or "" when nothing went wrong.
func (o Outcome) Warning() string {
	switch {
	case o.Synced:
		return ""
	case o.LocalOnly:
		return "no remote store is configured; changes are kept on this server only"
	case errors.Is(o.RemoteErr, storage.ErrConflict):
		return "saved locally, but the remote copy changed in the meantime; reload and try again"
	case errors.Is(o.RemoteErr, storage.ErrUnauthorized):
		return "saved locally, but the remote store rejected our credentials"
	case o.RemoteErr != nil:
		return "saved locally, but the remote store could not be reached"
	default:
		return ""
	}
}

// Save validates item and applies it: an existing id is replaced in place, a
// new one is prepended to the items and the ledger. The error is non-nil only
// for invalid input; remote failures are reported in the Outcome.
func (r *Repository) Save(ctx context.Context, item model.ContentItem) (model.ContentItem, Outcome, error) {
	return r.save(ctx, item, false)
}

// Create is Save for new items only. An id already present yields ErrExists
// and leaves the stored item untouched.
func (r *Repository) Create(ctx context.Context, item model.ContentItem) (model.ContentItem, Outcome, error) {
	return r.save(ctx, item, true)
}

func (r *Repository) save(ctx context.Context, item model.ContentItem, createOnly bool) (model.ContentItem, Outcome, error) {
	item, err := r.normalize(item)
	if err != nil {
		return model.ContentItem{}, Outcome{}, err
	}

	r.mu.Lock()
	if createOnly && r.indexLocked(item.ID) >= 0 {
		r.mu.Unlock()
		return model.ContentItem{}, Outcome{}, fmt.Errorf("%w: %s", ErrExists, item.ID)
	}
	items, created := model.Upsert(r.items, item)
	r.items = items
	if created {
		r.ledger = r.ledger.Prepend(item.ID)
		r.ledgerRev++
	}
	delete(r.pendingErase, item.ID)
	r.persistLocked(ctx)
	r.mu.Unlock()

	log := r.logger.With(zap.String("id", item.ID), zap.Bool("created", created))
	log.Debug("item saved locally")

	out := r.push(ctx, log, func(ctx context.Context) error {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		return r.backend.WriteItem(ctx, item.ID, data)
	})
	if out.Synced {
		r.syncLedger(ctx, log)
	}
	return item, out, nil
}

// Delete removes the item with id and its ledger entry. Unknown ids yield
// ErrNotFound. An item already missing remotely counts as synced. An id
// removed locally whose remote erase failed can be deleted again to retry.
func (r *Repository) Delete(ctx context.Context, id string) (Outcome, error) {
	r.mu.Lock()
	items, ok := model.Remove(r.items, id)
	if ok {
		r.items = items
		if ledger, changed := r.ledger.Without(id); changed {
			r.ledger = ledger
			r.ledgerRev++
		}
		if r.backend != nil {
			r.pendingErase[id] = struct{}{}
		}
		r.persistLocked(ctx)
	} else if _, pending := r.pendingErase[id]; !pending {
		r.mu.Unlock()
		return Outcome{}, ErrNotFound
	}
	r.mu.Unlock()

	log := r.logger.With(zap.String("id", id), zap.Bool("retry", !ok))
	log.Debug("item deleted locally")

	out := r.push(ctx, log, func(ctx context.Context) error {
		err := r.backend.EraseItem(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	if out.Synced {
		r.mu.Lock()
		delete(r.pendingErase, id)
		r.mu.Unlock()
		r.syncLedger(ctx, log)
	}
	return out, nil
}

// SaveSettings replaces the site settings.
func (r *Repository) SaveSettings(ctx context.Context, settings model.SiteSettings) (Outcome, error) {
	settings.SiteTitle = strings.TrimSpace(settings.SiteTitle)
	if settings.SiteTitle == "" {
		return Outcome{}, fmt.Errorf("%w: site title is required", ErrInvalid)
	}
	roles := make([]string, 0, len(settings.AuthorRoles))
	for _, role := range settings.AuthorRoles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	settings.AuthorRoles = roles

	r.mu.Lock()
	r.settings = settings
	r.persistLocked(ctx)
	r.mu.Unlock()

	log := r.logger.With(zap.String("record", storage.SettingsName))
	out := r.push(ctx, log, func(ctx context.Context) error {
		data, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		return r.backend.WriteSingleton(ctx, storage.SettingsName, data)
	})
	if out.Synced {
		r.syncLedger(ctx, log)
	}
	return out, nil
}

// persistLocked mirrors the current state into the local cache. r.mu must be
// held so cache writes land in mutation order.
func (r *Repository) persistLocked(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Save(ctx, r.snapshotLocked()); err != nil {
		r.logger.Warn("could not write local cache", zap.Error(err))
	}
}

func (r *Repository) push(ctx context.Context, log *zap.Logger, write func(context.Context) error) Outcome {
	if r.backend == nil {
		return Outcome{LocalOnly: true}
	}
	if err := write(ctx); err != nil {
		log.Warn("remote write failed, keeping local change",
			zap.String("backend", r.backend.Kind()), zap.Error(err))
		return Outcome{RemoteErr: err}
	}
	return Outcome{Synced: true}
}

// syncLedger pushes the current ledger when the backend has not yet accepted
// the latest local revision. A failure leaves it pending for the next synced
// write and does not affect the Outcome of the item write.
func (r *Repository) syncLedger(ctx context.Context, log *zap.Logger) {
	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()

	r.mu.RLock()
	rev, synced := r.ledgerRev, r.ledgerSynced
	ledger := model.Ledger{ContentOrder: append([]string(nil), r.ledger.ContentOrder...)}
	r.mu.RUnlock()
	if rev == synced {
		return
	}

	data, err := json.Marshal(ledger)
	if err == nil {
		err = r.backend.WriteSingleton(ctx, storage.LedgerName, data)
	}
	if err != nil {
		log.Warn("remote ledger update failed, will retry on next write",
			zap.String("backend", r.backend.Kind()), zap.Error(err))
		return
	}

	r.mu.Lock()
	if rev > r.ledgerSynced {
		r.ledgerSynced = rev
	}
	r.mu.Unlock()
}
