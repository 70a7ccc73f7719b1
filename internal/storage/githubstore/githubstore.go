// Package githubstore keeps site content as JSON files in a GitHub
// repository, using the Contents API as a small database.
//
// Layout under the configured folder:
//
//	settings.json      site settings
//	meta.json          ordering ledger
//	items/<slug>.json  one file per content item
//
// Every update or delete must name the blob sha it replaces. The backend
// remembers the sha it last saw for each path; when another writer has moved
// the file on, GitHub rejects the write and the backend reports
// storage.ErrConflict and forgets the sha, so the next attempt starts from a
// freshly fetched one. There is no merge.
package githubstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/model"
	"github.com/K4mp47/poetry-cms/internal/storage"
)

// Config locates the repository folder holding the content.
type Config struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	Folder string

	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL    string
	HTTPClient *http.Client
}

// Backend implements storage.Backend with repository files.
type Backend struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	folder string
	logger *zap.Logger

	mu        sync.Mutex
	revisions map[string]string
}

var _ storage.Backend = (*Backend)(nil)

// New validates cfg and builds an authenticated API client.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = "content"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := github.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Backend{
		client:    client,
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		branch:    cfg.Branch,
		folder:    folder,
		logger:    logger.Named("github"),
		revisions: make(map[string]string),
	}, nil
}

// Kind implements storage.Backend.
func (b *Backend) Kind() string { return "github" }

// ReadSingleton implements storage.Backend.
func (b *Backend) ReadSingleton(ctx context.Context, name string) ([]byte, error) {
	return b.readFile(ctx, b.singletonPath(name))
}

// WriteSingleton implements storage.Backend.
func (b *Backend) WriteSingleton(ctx context.Context, name string, data []byte) error {
	return b.writeFile(ctx, b.singletonPath(name), data, "Update "+name)
}

// ListItems implements storage.Backend. Records come back in file name order;
// a record's ID is its file name stem.
func (b *Backend) ListItems(ctx context.Context) ([]storage.Record, error) {
	dir := b.itemsDir()
	_, entries, _, err := b.client.Repositories.GetContents(ctx, b.owner, b.repo, dir, b.getOptions())
	if err != nil {
		err = b.mapError(dir, err)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var records []storage.Record
	for _, entry := range entries {
		if entry.GetType() != "file" || !strings.HasSuffix(entry.GetName(), ".json") {
			continue
		}
		data, err := b.readFile(ctx, entry.GetPath())
		if err != nil {
			return nil, err
		}
		records = append(records, storage.Record{
			ID:   strings.TrimSuffix(entry.GetName(), ".json"),
			Data: data,
		})
	}
	return records, nil
}

// WriteItem implements storage.Backend.
func (b *Backend) WriteItem(ctx context.Context, id string, data []byte) error {
	return b.writeFile(ctx, b.itemPath(id), data, "Save "+id)
}

// EraseItem implements storage.Backend. Ids that share a slug share a file;
// a file whose stored id belongs to another item is left alone and the erase
// reports storage.ErrNotFound.
func (b *Backend) EraseItem(ctx context.Context, id string) error {
	p := b.itemPath(id)
	b.mu.Lock()
	sha, known := b.revisions[p]
	b.mu.Unlock()

	data, err := b.readFile(ctx, p)
	if err != nil {
		return err
	}
	var stored struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &stored); err == nil && stored.ID != "" && stored.ID != id {
		b.logger.Warn("item file belongs to another id, not erasing",
			zap.String("path", p), zap.String("id", id), zap.String("stored", stored.ID))
		return fmt.Errorf("%s holds %q: %w", p, stored.ID, storage.ErrNotFound)
	}
	if !known {
		sha, err = b.revision(ctx, p)
		if err != nil {
			return err
		}
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String("Delete " + id),
		SHA:     github.String(sha),
	}
	if b.branch != "" {
		opts.Branch = github.String(b.branch)
	}
	if _, _, err := b.client.Repositories.DeleteFile(ctx, b.owner, b.repo, p, opts); err != nil {
		return b.mapError(p, err)
	}
	b.forget(p)
	return nil
}

func (b *Backend) readFile(ctx context.Context, p string) ([]byte, error) {
	file, _, _, err := b.client.Repositories.GetContents(ctx, b.owner, b.repo, p, b.getOptions())
	if err != nil {
		return nil, b.mapError(p, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	b.remember(p, file.GetSHA())
	return []byte(content), nil
}

func (b *Backend) writeFile(ctx context.Context, p string, data []byte, message string) error {
	sha, err := b.revision(ctx, p)
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
	}
	if b.branch != "" {
		opts.Branch = github.String(b.branch)
	}

	var res *github.RepositoryContentResponse
	if sha == "" {
		res, _, err = b.client.Repositories.CreateFile(ctx, b.owner, b.repo, p, opts)
	} else {
		opts.SHA = github.String(sha)
		res, _, err = b.client.Repositories.UpdateFile(ctx, b.owner, b.repo, p, opts)
	}
	if err != nil {
		return b.mapError(p, err)
	}
	if res != nil && res.Content != nil {
		b.remember(p, res.Content.GetSHA())
	}
	return nil
}

// revision returns the sha to send when replacing p: the one remembered from
// the last read or write, otherwise the current one. Empty means p does not
// exist yet.
func (b *Backend) revision(ctx context.Context, p string) (string, error) {
	b.mu.Lock()
	sha, ok := b.revisions[p]
	b.mu.Unlock()
	if ok {
		return sha, nil
	}

	file, _, _, err := b.client.Repositories.GetContents(ctx, b.owner, b.repo, p, b.getOptions())
	if err != nil {
		err = b.mapError(p, err)
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", p)
	}
	b.remember(p, file.GetSHA())
	return file.GetSHA(), nil
}

func (b *Backend) remember(p, sha string) {
	if sha == "" {
		return
	}
	b.mu.Lock()
	b.revisions[p] = sha
	b.mu.Unlock()
}

func (b *Backend) forget(p string) {
	b.mu.Lock()
	delete(b.revisions, p)
	b.mu.Unlock()
}

func (b *Backend) mapError(p string, err error) error {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return fmt.Errorf("%s: %w", p, err)
	}

	switch ghErr.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		b.forget(p)
		b.logger.Warn("stale revision rejected", zap.String("path", p), zap.String("message", ghErr.Message))
		return fmt.Errorf("%s: %w: %s", p, storage.ErrConflict, ghErr.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", p, storage.ErrUnauthorized, ghErr.Message)
	}
	return fmt.Errorf("%s: %w", p, err)
}

func (b *Backend) getOptions() *github.RepositoryContentGetOptions {
	return &github.RepositoryContentGetOptions{Ref: b.branch}
}

func (b *Backend) singletonPath(name string) string {
	return path.Join(b.folder, name+".json")
}

func (b *Backend) itemsDir() string {
	return path.Join(b.folder, "items")
}

func (b *Backend) itemPath(id string) string {
	return path.Join(b.itemsDir(), model.Slug(id)+".json")
}
