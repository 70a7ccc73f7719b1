package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/auth"
	"github.com/K4mp47/poetry-cms/internal/content"
	"github.com/K4mp47/poetry-cms/internal/model"
	"github.com/K4mp47/poetry-cms/internal/render"
)

// SessionCookie carries the session token in the browser.
const SessionCookie = "portfolio_session"

const maxBodyBytes = 1 << 20

type Handlers struct {
	repo     *content.Repository
	gate     *auth.Gate
	sessions *auth.Sessions
	renderer *render.Renderer
	logger   *zap.Logger
}

func NewHandlers(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New()
	}
	return &Handlers{
		repo:     opts.Repo,
		gate:     opts.Gate,
		sessions: opts.Sessions,
		renderer: renderer,
		logger:   logger.Named("http"),
	}
}

type statusResponse struct {
	Mode         string `json:"mode"`
	Source       string `json:"source"`
	ItemCount    int    `json:"itemCount"`
	LoginEnabled bool   `json:"loginEnabled"`
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:         h.repo.Mode(),
		Source:       string(h.repo.Source()),
		ItemCount:    len(h.repo.Items("")),
		LoginEnabled: h.gate.Enabled(),
	})
}

func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.Settings())
}

// mutationResponse is returned by every write.
type mutationResponse struct {
	Item      *model.ContentItem  `json:"item,omitempty"`
	Settings  *model.SiteSettings `json:"settings,omitempty"`
	Synced    bool                `json:"synced"`
	LocalOnly bool                `json:"localOnly"`
	Warning   string              `json:"warning,omitempty"`
}

func newMutationResponse(out content.Outcome) mutationResponse {
	return mutationResponse{Synced: out.Synced, LocalOnly: out.LocalOnly, Warning: out.Warning()}
}

func (h *Handlers) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.SiteSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	out, err := h.repo.SaveSettings(r.Context(), settings)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	resp := newMutationResponse(out)
	saved := h.repo.Settings()
	resp.Settings = &saved
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleListContent(w http.ResponseWriter, r *http.Request) {
	var t model.ContentType
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := model.ParseContentType(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		t = parsed
	}
	items := h.repo.Items(t)
	if items == nil {
		items = []model.ContentItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (h *Handlers) HandleGetContent(w http.ResponseWriter, r *http.Request) {
	item, err := h.repo.Item(r.PathValue("id"))
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	if r.URL.Query().Get("format") != "html" {
		writeJSON(w, http.StatusOK, item)
		return
	}
	page, err := h.renderer.Page(item)
	if err != nil {
		h.logger.Error("render failed", zap.String("id", item.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render failed"})
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) HandleCreateContent(w http.ResponseWriter, r *http.Request) {
	var item model.ContentItem
	if !decodeBody(w, r, &item) {
		return
	}
	h.save(w, r, item, http.StatusCreated, h.repo.Create)
}

func (h *Handlers) HandlePutContent(w http.ResponseWriter, r *http.Request) {
	var item model.ContentItem
	if !decodeBody(w, r, &item) {
		return
	}
	id := r.PathValue("id")
	if item.ID != "" && item.ID != id {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id in body does not match path"})
		return
	}
	item.ID = id
	h.save(w, r, item, http.StatusOK, h.repo.Save)
}

type saveFunc func(context.Context, model.ContentItem) (model.ContentItem, content.Outcome, error)

func (h *Handlers) save(w http.ResponseWriter, r *http.Request, item model.ContentItem, status int, apply saveFunc) {
	saved, out, err := apply(r.Context(), item)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	resp := newMutationResponse(out)
	resp.Item = &saved
	writeJSON(w, status, resp)
}

func (h *Handlers) HandleDeleteContent(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(out))
}

func (h *Handlers) HandleOrder(w http.ResponseWriter, r *http.Request) {
	ledger := h.repo.Ledger()
	if ledger.ContentOrder == nil {
		ledger.ContentOrder = []string{}
	}
	writeJSON(w, http.StatusOK, ledger)
}

type sessionResponse struct {
	Authenticated     bool       `json:"authenticated"`
	LoginEnabled      bool       `json:"loginEnabled"`
	RetryAfterSeconds int        `json:"retryAfterSeconds,omitempty"`
	Token             string     `json:"token,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handlers) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated:     h.authenticated(r),
		LoginEnabled:      h.gate.Enabled(),
		RetryAfterSeconds: seconds(h.gate.Locked()),
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.gate.Check(req.Password)
	var (
		locked  *auth.LockedError
		invalid *auth.CredentialError
	)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrDisabled):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	case errors.As(err, &locked):
		secs := seconds(locked.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             auth.ErrLocked.Error(),
			"retryAfterSeconds": secs,
		})
		return
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             auth.ErrInvalidCredential.Error(),
			"remainingAttempts": invalid.RemainingAttempts,
		})
		return
	default:
		h.logger.Error("login check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	token, exp, err := h.sessions.Issue()
	if err != nil {
		h.logger.Error("issue session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	// No MaxAge or Expires: the cookie ends with the browser session.
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("author logged in")
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		LoginEnabled:  true,
		Token:         token,
		ExpiresAt:     &exp,
	})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	for _, token := range requestTokens(r) {
		if err := h.sessions.Revoke(token); err == nil {
			h.logger.Info("author logged out")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{LoginEnabled: h.gate.Enabled()})
}

func (h *Handlers) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authenticated(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
			return
		}
		next(w, r)
	}
}

func (h *Handlers) authenticated(r *http.Request) bool {
	tokens := requestTokens(r)
	return len(tokens) > 0 && h.sessions.Verify(tokens[0]) == nil
}

// requestTokens returns the bearer token, then the cookie token, when present.
func requestTokens(r *http.Request) []string {
	var tokens []string
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tokens = append(tokens, strings.TrimSpace(token))
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}
	return tokens
}

func (h *Handlers) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, content.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, content.ErrExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("repository error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

// seconds rounds d up, so a client never retries a moment too early.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
