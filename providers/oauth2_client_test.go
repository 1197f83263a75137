package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-ticketmail/core"
)

type tokenServer struct {
	mu       sync.Mutex
	forms    []url.Values
	paths    []string
	status   int
	response string
}

func newTokenServer(t *testing.T, status int, response string) (*tokenServer, *httptest.Server) {
	t.Helper()
	ts := &tokenServer{status: status, response: response}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.paths = append(ts.paths, r.URL.Path)
		status, body := ts.status, ts.response
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return ts, server
}

func (s *tokenServer) lastForm(t *testing.T) url.Values {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		t.Fatalf("expected at least one request")
	}
	return s.forms[len(s.forms)-1]
}

func (s *tokenServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

func newTestClient(t *testing.T, baseURL string, now time.Time) *OAuth2Client {
	t.Helper()
	client, err := NewOAuth2Client(OAuth2Config{
		ID:           "Test",
		AuthURL:      "https://login.example/authorize",
		TokenURL:     baseURL + "/token",
		RevokeURL:    baseURL + "/revoke",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURI:  "https://app.example/oauth/callback",
		Scopes:       []string{"offline_access", "Mail.Read", "Mail.Send", "Mail.Read"},
		Now:          func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new oauth2 client: %v", err)
	}
	return client
}

func TestOAuth2Client_AuthCodeURLCarriesPKCEParameters(t *testing.T) {
	client := newTestClient(t, "https://login.example", time.Now())
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	parsed, err := url.Parse(client.AuthCodeURL("state_1", verifier))
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if parsed.Host != "login.example" || parsed.Path != "/authorize" {
		t.Fatalf("unexpected authorize endpoint %s", parsed.String())
	}
	query := parsed.Query()
	expected := map[string]string{
		"client_id":             "client-123",
		"response_type":         "code",
		"redirect_uri":          "https://app.example/oauth/callback",
		"scope":                 "offline_access Mail.Read Mail.Send",
		"state":                 "state_1",
		"code_challenge":        "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		"code_challenge_method": "S256",
		"response_mode":         "query",
	}
	for key, want := range expected {
		if got := query.Get(key); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}
	if query.Get("client_secret") != "" {
		t.Fatalf("client secret must never appear in the authorize url")
	}
	if got := core.CodeChallenge(verifier); got != query.Get("code_challenge") {
		t.Fatalf("challenge mismatch with core derivation: %q", got)
	}
}

func TestOAuth2Client_ExchangeSendsVerifierAndSecretInBody(t *testing.T) {
	ts, server := newTokenServer(t, http.StatusOK, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"bearer","expires_in":3600,"scope":"Mail.Read Mail.Send"}`)
	client := newTestClient(t, server.URL, time.Now())

	token, err := client.Exchange(context.Background(), "code_123", "verifier_abc")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	form := ts.lastForm(t)
	for key, want := range map[string]string{
		"grant_type":    "authorization_code",
		"code":          "code_123",
		"code_verifier": "verifier_abc",
		"redirect_uri":  "https://app.example/oauth/callback",
		"client_id":     "client-123",
		"client_secret": "secret-456",
	} {
		if got := form.Get(key); got != want {
			t.Fatalf("expected form %s=%q, got %q", key, want, got)
		}
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected token %+v", token)
	}
	if token.TokenType != "Bearer" {
		t.Fatalf("expected normalized Bearer token type, got %q", token.TokenType)
	}
	if token.Scope != "Mail.Read Mail.Send" {
		t.Fatalf("expected granted scope, got %q", token.Scope)
	}
	if time.Until(token.ExpiresAt) < 50*time.Minute {
		t.Fatalf("expected expiry about an hour out, got %s", token.ExpiresAt)
	}
}

func TestOAuth2Client_ExchangeFailureIsUpstreamError(t *testing.T) {
	_, server := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"AADSTS70008: code expired"}`)
	client := newTestClient(t, server.URL, time.Now())

	_, err := client.Exchange(context.Background(), "code_123", "verifier_abc")
	var upstream *core.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %T %v", err, err)
	}
	if upstream.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", upstream.StatusCode)
	}
	if !strings.Contains(upstream.Body, "code expired") {
		t.Fatalf("expected error description in body, got %q", upstream.Body)
	}
}

func TestOAuth2Client_RefreshIncludesScopeAndUsesClock(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ts, server := newTokenServer(t, http.StatusOK, `{"access_token":"access-2","token_type":"Bearer","expires_in":1800}`)
	client := newTestClient(t, server.URL, now)

	token, err := client.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	form := ts.lastForm(t)
	for key, want := range map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "refresh-1",
		"scope":         "offline_access Mail.Read Mail.Send",
		"client_id":     "client-123",
		"client_secret": "secret-456",
	} {
		if got := form.Get(key); got != want {
			t.Fatalf("expected form %s=%q, got %q", key, want, got)
		}
	}
	if token.RefreshToken != "" {
		t.Fatalf("expected omitted refresh token to stay empty, got %q", token.RefreshToken)
	}
	if !token.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected expiry from expires_in, got %s", token.ExpiresAt)
	}
	if token.Scope != "offline_access Mail.Read Mail.Send" {
		t.Fatalf("expected configured scope fallback, got %q", token.Scope)
	}
}

func TestOAuth2Client_RefreshRejectedReturnsUpstreamError(t *testing.T) {
	_, server := newTokenServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	client := newTestClient(t, server.URL, time.Now())

	_, err := client.Refresh(context.Background(), "refresh-1")
	var upstream *core.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.StatusCode != http.StatusUnauthorized || upstream.Body != "invalid_client" {
		t.Fatalf("unexpected upstream error %+v", upstream)
	}
	if upstream.Retryable() {
		t.Fatalf("401 from the token endpoint must not be retryable")
	}

	if _, err := client.Refresh(context.Background(), "  "); err == nil {
		t.Fatalf("expected missing refresh token error")
	}
}

func TestOAuth2Client_RevokePostsTokenHint(t *testing.T) {
	ts, server := newTokenServer(t, http.StatusOK, `{}`)
	client := newTestClient(t, server.URL, time.Now())

	if err := client.Revoke(context.Background(), "refresh-1", "refresh_token"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	form := ts.lastForm(t)
	if form.Get("token") != "refresh-1" || form.Get("token_type_hint") != "refresh_token" {
		t.Fatalf("unexpected revoke form %v", form)
	}
	ts.mu.Lock()
	path := ts.paths[0]
	ts.mu.Unlock()
	if path != "/revoke" {
		t.Fatalf("expected revoke endpoint, got %s", path)
	}

	ts.mu.Lock()
	ts.status = http.StatusServiceUnavailable
	ts.mu.Unlock()
	err := client.Revoke(context.Background(), "refresh-1", "refresh_token")
	var upstream *core.UpstreamError
	if !errors.As(err, &upstream) || !upstream.Retryable() {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
}

func TestOAuth2Client_RevokeWithoutEndpointIsNoop(t *testing.T) {
	ts, server := newTokenServer(t, http.StatusOK, `{}`)
	client, err := NewOAuth2Client(OAuth2Config{
		AuthURL:      "https://login.example/authorize",
		TokenURL:     server.URL + "/token",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURI:  "https://app.example/oauth/callback",
	})
	if err != nil {
		t.Fatalf("new oauth2 client: %v", err)
	}
	if err := client.Revoke(context.Background(), "refresh-1", "refresh_token"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ts.calls() != 0 {
		t.Fatalf("expected no remote call without a revocation endpoint")
	}
}

func TestNewOAuth2Client_MissingSettingsIsConfigurationError(t *testing.T) {
	_, err := NewOAuth2Client(OAuth2Config{
		AuthURL:  "https://login.example/authorize",
		TokenURL: "https://login.example/token",
		ClientID: "client-123",
	})
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if !core.HasTextCode(err, core.ErrorConfiguration) {
		t.Fatalf("expected configuration text code, got %v", err)
	}
	for _, field := range []string{"client_secret", "redirect_uri"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %s in error, got %v", field, err)
		}
	}
}

func TestParseTokenPayload_FormEncoded(t *testing.T) {
	payload, err := parseTokenPayload([]byte("access_token=abc&expires_in=120&token_type=bearer"), "application/x-www-form-urlencoded")
	if err != nil {
		t.Fatalf("parse form payload: %v", err)
	}
	if payload.AccessToken != "abc" || payload.ExpiresIn != 120 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
