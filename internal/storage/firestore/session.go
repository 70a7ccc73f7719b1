package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ensureSession returns a valid id token, signing in anonymously or
// refreshing the current session as needed. Reads are refused by the
// database rules until a session exists. Concurrent callers share one
// sign-in, and b.mu is never held across the network call.
func (b *Backend) ensureSession(ctx context.Context) (string, error) {
	if token, ok := b.currentToken(); ok {
		return token, nil
	}
	v, err, _ := b.signIn.Do("session", func() (any, error) {
		return b.establish(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Backend) currentToken() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session.idToken != "" && b.now().Before(b.session.expires.Add(-expirySkew)) {
		return b.session.idToken, true
	}
	return "", false
}

func (b *Backend) establish(ctx context.Context) (string, error) {
	// A flight that finished just before this one may have renewed it.
	if token, ok := b.currentToken(); ok {
		return token, nil
	}
	b.mu.Lock()
	refreshToken := b.session.refreshToken
	b.mu.Unlock()

	if refreshToken != "" {
		s, err := b.refresh(ctx, refreshToken)
		if err == nil {
			b.setSession(s)
			return s.idToken, nil
		}
		b.logger.Warn("session refresh failed, signing in again", zap.Error(err))
	}

	s, err := b.signUp(ctx)
	if err != nil {
		return "", fmt.Errorf("anonymous sign-in: %w", err)
	}
	b.logger.Debug("anonymous session established", zap.Time("expires", s.expires))
	b.setSession(s)
	return s.idToken, nil
}

func (b *Backend) setSession(s session) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

func (b *Backend) dropSession() {
	b.mu.Lock()
	b.session = session{}
	b.mu.Unlock()
}

func (b *Backend) signUp(ctx context.Context) (session, error) {
	target := b.cfg.IdentityURL + "/accounts:signUp?key=" + url.QueryEscape(b.cfg.APIKey)
	payload, _ := json.Marshal(map[string]bool{"returnSecureToken": true})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := b.sendAuth(req, &out); err != nil {
		return session{}, err
	}
	return b.newSession(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (b *Backend) refresh(ctx context.Context, refreshToken string) (session, error) {
	target := b.cfg.SecureTokenURL + "/token?key=" + url.QueryEscape(b.cfg.APIKey)
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := b.sendAuth(req, &out); err != nil {
		return session{}, err
	}
	return b.newSession(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (b *Backend) sendAuth(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}

func (b *Backend) newSession(idToken, refreshToken, expiresIn string) (session, error) {
	if idToken == "" {
		return session{}, fmt.Errorf("auth response carried no id token")
	}
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return session{
		idToken:      idToken,
		refreshToken: refreshToken,
		expires:      b.now().Add(time.Duration(secs) * time.Second),
	}, nil
}
