// Package storage defines the contract shared by the remote content backends.
//
// Records cross this boundary as JSON blobs; typing them is the caller's job.
// Singletons are addressed by name (SettingsName, LedgerName) and content
// items by id. Implementations live in subpackages.
package storage

import (
	"context"
	"errors"
)

// Singleton record names.
const (
	SettingsName = "settings"
	LedgerName   = "meta"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the write carried a stale revision token.
	ErrConflict = errors.New("revision conflict")
	// ErrUnauthorized indicates the backend rejected the session or token.
	ErrUnauthorized = errors.New("backend rejected credentials")
)

// Record is one stored content item.
type Record struct {
	ID   string
	Data []byte
}

// Backend is a remote persistence target for site content.
type Backend interface {
	// Kind names the backend for logs and status output.
	Kind() string
	ReadSingleton(ctx context.Context, name string) ([]byte, error)
	WriteSingleton(ctx context.Context, name string, data []byte) error
	ListItems(ctx context.Context) ([]Record, error)
	WriteItem(ctx context.Context, id string, data []byte) error
	EraseItem(ctx context.Context, id string) error
}
