// Package firestore stores site content in a Cloud Firestore database through
// its REST API, authenticating as an anonymous Firebase user.
package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/K4mp47/poetry-cms/internal/storage"
)

const (
	DefaultBaseURL        = "https://firestore.googleapis.com/v1"
	DefaultIdentityURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1"

	pageSize = 300
	// Tokens are renewed this long before Firebase says they expire.
	expirySkew = time.Minute
)

// Config describes the Firestore project and where the items live.
type Config struct {
	ProjectID      string
	APIKey         string
	Database       string
	Collection     string
	SiteCollection string

	BaseURL        string
	IdentityURL    string
	SecureTokenURL string
	HTTPClient     *http.Client
}

// Backend implements storage.Backend on top of Firestore documents. Items are
// documents in Collection keyed by item id; singletons are documents in
// SiteCollection keyed by name.
type Backend struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	session session
	signIn  singleflight.Group
}

type session struct {
	idToken      string
	refreshToken string
	expires      time.Time
}

var _ storage.Backend = (*Backend)(nil)

// New validates cfg, fills defaults and returns a backend. No network call is
// made until the first operation.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("firestore api key is required")
	}
	if cfg.Database == "" {
		cfg.Database = "(default)"
	}
	if cfg.Collection == "" {
		cfg.Collection = "content"
	}
	if cfg.SiteCollection == "" {
		cfg.SiteCollection = "site"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("firestore"),
		now:        time.Now,
	}, nil
}

// Kind implements storage.Backend.
func (b *Backend) Kind() string { return "firestore" }

// ReadSingleton implements storage.Backend.
func (b *Backend) ReadSingleton(ctx context.Context, name string) ([]byte, error) {
	var doc document
	if err := b.do(ctx, http.MethodGet, b.docURL(b.cfg.SiteCollection, name), nil, &doc); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return decodeFields(doc.Fields)
}

// WriteSingleton implements storage.Backend.
func (b *Backend) WriteSingleton(ctx context.Context, name string, data []byte) error {
	if err := b.patch(ctx, b.docURL(b.cfg.SiteCollection, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ListItems implements storage.Backend. Documents come back in Firestore's
// default order (by document id).
func (b *Backend) ListItems(ctx context.Context) ([]storage.Record, error) {
	var records []storage.Record
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page struct {
			Documents     []document `json:"documents"`
			NextPageToken string     `json:"nextPageToken"`
		}
		if err := b.do(ctx, http.MethodGet, b.collectionURL(b.cfg.Collection)+"?"+q.Encode(), nil, &page); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return records, nil
			}
			return nil, fmt.Errorf("list %s: %w", b.cfg.Collection, err)
		}

		for _, doc := range page.Documents {
			data, err := decodeFields(doc.Fields)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", doc.Name, err)
			}
			records = append(records, storage.Record{ID: path.Base(doc.Name), Data: data})
		}

		if page.NextPageToken == "" {
			return records, nil
		}
		pageToken = page.NextPageToken
	}
}

// WriteItem implements storage.Backend. The document is replaced whole.
func (b *Backend) WriteItem(ctx context.Context, id string, data []byte) error {
	if err := b.patch(ctx, b.docURL(b.cfg.Collection, id), data); err != nil {
		return fmt.Errorf("write item %s: %w", id, err)
	}
	return nil
}

// EraseItem implements storage.Backend.
func (b *Backend) EraseItem(ctx context.Context, id string) error {
	if err := b.do(ctx, http.MethodDelete, b.docURL(b.cfg.Collection, id), nil, nil); err != nil {
		return fmt.Errorf("erase item %s: %w", id, err)
	}
	return nil
}

func (b *Backend) patch(ctx context.Context, target string, data []byte) error {
	fields, err := encodeFields(data)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPatch, target, map[string]any{"fields": fields}, nil)
}

func (b *Backend) collectionURL(collection string) string {
	return fmt.Sprintf("%s/projects/%s/databases/%s/documents/%s",
		b.cfg.BaseURL, b.cfg.ProjectID, b.cfg.Database, collection)
}

func (b *Backend) docURL(collection, id string) string {
	return b.collectionURL(collection) + "/" + url.PathEscape(id)
}

func (b *Backend) do(ctx context.Context, method, target string, body any, out any) error {
	token, err := b.ensureSession(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return storage.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		b.dropSession()
		return fmt.Errorf("%w: status %d", storage.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
