package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/K4mp47/poetry-cms/internal/auth"
	"github.com/K4mp47/poetry-cms/internal/content"
	"github.com/K4mp47/poetry-cms/internal/model"
)

const secret = "correct horse"

type fixture struct {
	handler http.Handler
	repo    *content.Repository
	clock   time.Time
}

func (f *fixture) now() time.Time { return f.clock }

func newFixture(t *testing.T, gateSecret string) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}

	bundled := model.Snapshot{
		Settings: model.SiteSettings{SiteTitle: "Salt and Ink", AuthorRoles: []string{"Poet"}},
		Ledger:   model.Ledger{ContentOrder: []string{"tide"}},
		Items: []model.ContentItem{
			{ID: "harbour", Type: model.TypeStory, Title: "Harbour", Body: "Boats."},
			{ID: "tide", Type: model.TypePoetry, Title: "Tide", Body: "in\nand out"},
		},
	}
	f.repo = content.NewRepository(content.Options{
		Bundle: func() (model.Snapshot, error) { return bundled, nil },
		Now:    f.now,
	})
	require.NoError(t, f.repo.Load(context.Background()))

	sessions, err := auth.NewSessions("test-key", time.Hour, f.now)
	require.NoError(t, err)

	siteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("<h1>portfolio</h1>"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(siteDir, "assets"), 0o755))

	f.handler = NewHandler(Options{
		Repo:     f.repo,
		Gate:     auth.NewGate(auth.GateConfig{Secret: gateSecret, Now: f.now}, nil),
		Sessions: sessions,
		SiteDir:  siteDir,
		Logger:   zaptest.NewLogger(t),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/session", `{"password":"`+secret+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStatusAndReads(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusResponse](t, rec)
	assert.Equal(t, statusResponse{Mode: "local", Source: "bundle", ItemCount: 2, LoginEnabled: true}, status)

	rec = f.do(t, http.MethodGet, "/api/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Items []model.ContentItem `json:"items"`
		Total int                 `json:"total"`
	}](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "tide", list.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/content?type=stories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"harbour"`)
	assert.NotContains(t, rec.Body.String(), `"tide"`)

	rec = f.do(t, http.MethodGet, "/api/content?type=essay", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Salt and Ink", decode[model.SiteSettings](t, rec).SiteTitle)

	rec = f.do(t, http.MethodGet, "/api/order", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tide"}, decode[model.Ledger](t, rec).ContentOrder)
}

func TestGetContent(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.do(t, http.MethodGet, "/api/content/tide", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tide", decode[model.ContentItem](t, rec).Title)
	assert.NotContains(t, rec.Body.String(), `"html"`)

	rec = f.do(t, http.MethodGet, "/api/content/tide?format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.ItemPage](t, rec)
	assert.Equal(t, "tide", page.ID)
	assert.Contains(t, string(page.HTML), "<br>")

	rec = f.do(t, http.MethodGet, "/api/content/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutationsRequireSession(t *testing.T) {
	f := newFixture(t, secret)

	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/api/content"},
		{http.MethodPut, "/api/content/tide"},
		{http.MethodDelete, "/api/content/tide"},
		{http.MethodPut, "/api/settings"},
	} {
		rec := f.do(t, tc.method, tc.target, `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}

	bogus := &http.Cookie{Name: SessionCookie, Value: "forged"}
	rec := f.do(t, http.MethodDelete, "/api/content/tide", "", bogus)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, err := f.repo.Item("tide")
	assert.NoError(t, err)
}

func TestCreateUpdateDelete(t *testing.T) {
	f := newFixture(t, secret)
	cookie := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/content", `{"type":"quote","body":"Brevity."}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[mutationResponse](t, rec)
	require.NotNil(t, created.Item)
	assert.NotEmpty(t, created.Item.ID)
	assert.Equal(t, "2025-06-01", created.Item.Date)
	assert.False(t, created.Synced)
	assert.True(t, created.LocalOnly)
	assert.NotEmpty(t, created.Warning)
	assert.Equal(t, created.Item.ID, f.repo.Items("")[0].ID)

	rec = f.do(t, http.MethodPost, "/api/content", `{"id":"tide","type":"poetry","body":"dup"}`, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/content", `{"type":"poetry"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/content", `{not json`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/content/tide", `{"type":"poetry","title":"High Tide","body":"in"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	item, err := f.repo.Item("tide")
	require.NoError(t, err)
	assert.Equal(t, "High Tide", item.Title)

	rec = f.do(t, http.MethodPut, "/api/content/tide", `{"id":"other","type":"poetry","body":"x"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/content/harbour", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = f.repo.Item("harbour")
	assert.ErrorIs(t, err, content.ErrNotFound)

	rec = f.do(t, http.MethodDelete, "/api/content/harbour", "", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutSettings(t *testing.T) {
	f := newFixture(t, secret)
	cookie := f.login(t)

	rec := f.do(t, http.MethodPut, "/api/settings", `{"siteTitle":"New Title","authorRoles":["Essayist"]}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[mutationResponse](t, rec)
	require.NotNil(t, resp.Settings)
	assert.Equal(t, "New Title", resp.Settings.SiteTitle)
	assert.Equal(t, "New Title", f.repo.Settings().SiteTitle)

	rec = f.do(t, http.MethodPut, "/api/settings", `{"siteTitle":""}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, secret)
	rec := f.do(t, http.MethodPost, "/api/session", `{"password":"`+secret+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[sessionResponse](t, rec)
	require.NotEmpty(t, login.Token)
	require.NotNil(t, login.ExpiresAt)
	assert.Equal(t, f.clock.Add(time.Hour), *login.ExpiresAt)

	req := httptest.NewRequest(http.MethodDelete, "/api/content/harbour", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t, secret)

	for want := 2; want >= 1; want-- {
		rec := f.do(t, http.MethodPost, "/api/session", `{"password":"nope"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, float64(want), body["remainingAttempts"])
	}

	rec := f.do(t, http.MethodPost, "/api/session", `{"password":"nope"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, float64(30), decode[map[string]any](t, rec)["retryAfterSeconds"])

	f.clock = f.clock.Add(12500 * time.Millisecond)
	rec = f.do(t, http.MethodPost, "/api/session", `{"password":"`+secret+`"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "18", rec.Header().Get("Retry-After"))

	rec = f.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, 18, decode[sessionResponse](t, rec).RetryAfterSeconds)

	f.clock = f.clock.Add(18 * time.Second)
	rec = f.do(t, http.MethodPost, "/api/session", `{"password":"`+secret+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginDisabled(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/session", `{"password":""}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/session", "")
	assert.False(t, decode[sessionResponse](t, rec).LoginEnabled)
}

func TestSessionStatusAndLogout(t *testing.T) {
	f := newFixture(t, secret)
	cookie := f.login(t)
	assert.True(t, cookie.HttpOnly)
	assert.Zero(t, cookie.MaxAge)
	assert.True(t, cookie.Expires.IsZero())

	rec := f.do(t, http.MethodGet, "/api/session", "", cookie)
	assert.True(t, decode[sessionResponse](t, rec).Authenticated)

	rec = f.do(t, http.MethodDelete, "/api/session", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	rec = f.do(t, http.MethodGet, "/api/session", "", cookie)
	assert.False(t, decode[sessionResponse](t, rec).Authenticated, "old cookie is revoked")
	rec = f.do(t, http.MethodDelete, "/api/content/harbour", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	fresh := f.login(t)
	rec = f.do(t, http.MethodGet, "/api/session", "", fresh)
	assert.True(t, decode[sessionResponse](t, rec).Authenticated)
}

func TestLogoutRevokesBearerToken(t *testing.T) {
	f := newFixture(t, secret)
	rec := f.do(t, http.MethodPost, "/api/session", `{"password":"`+secret+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[sessionResponse](t, rec).Token

	bearer := func(method, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		out := httptest.NewRecorder()
		f.handler.ServeHTTP(out, req)
		return out
	}
	require.Equal(t, http.StatusOK, bearer(http.MethodDelete, "/api/session").Code)
	assert.Equal(t, http.StatusUnauthorized, bearer(http.MethodDelete, "/api/content/harbour").Code)

	_, err := f.repo.Item("harbour")
	assert.NoError(t, err)
}

func TestStatic(t *testing.T) {
	f := newFixture(t, secret)

	rec := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portfolio")

	rec = f.do(t, http.MethodGet, "/assets/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
