// Package cache keeps the last known site snapshot on local disk. It stands
// in for browser local storage: a copy that survives restarts and serves as
// the only store when no remote backend is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/K4mp47/poetry-cms/internal/model"
)

const localBucket = "local"

var (
	keySettings = []byte("settings")
	keyLedger   = []byte("meta")
	keyItems    = []byte("items")
)

// ErrEmpty indicates nothing has been cached yet.
var ErrEmpty = errors.New("cache is empty")

// Store is a BoltDB-backed snapshot cache.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the cache file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(localBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the cached snapshot, or ErrEmpty when no items were ever
// stored. Settings and ledger may individually be absent.
func (s *Store) Load(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}

	var snap model.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(localBucket))
		if bucket == nil {
			return fmt.Errorf("cache bucket is missing")
		}

		items := bucket.Get(keyItems)
		if items == nil {
			return ErrEmpty
		}
		if err := json.Unmarshal(items, &snap.Items); err != nil {
			return fmt.Errorf("unmarshal cached items: %w", err)
		}

		snap.Settings = model.DefaultSettings()
		if raw := bucket.Get(keySettings); raw != nil {
			if err := json.Unmarshal(raw, &snap.Settings); err != nil {
				return fmt.Errorf("unmarshal cached settings: %w", err)
			}
		}
		if raw := bucket.Get(keyLedger); raw != nil {
			if err := json.Unmarshal(raw, &snap.Ledger); err != nil {
				return fmt.Errorf("unmarshal cached ledger: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

// Save replaces the cached snapshot in one transaction.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	items := snap.Items
	if items == nil {
		items = []model.ContentItem{}
	}
	payloads := make(map[string][]byte, 3)
	for key, v := range map[string]any{
		string(keySettings): snap.Settings,
		string(keyLedger):   snap.Ledger,
		string(keyItems):    items,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal cached %s: %w", key, err)
		}
		payloads[key] = data
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(localBucket))
		if bucket == nil {
			return fmt.Errorf("cache bucket is missing")
		}
		for key, data := range payloads {
			if err := bucket.Put([]byte(key), data); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		return nil
	})
}
