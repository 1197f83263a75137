package gmail

import (
	"slices"
	"testing"

	"github.com/goliatone/go-ticketmail/core"
)

func TestNew_AddsIdentityScopesUnlessDisabled(t *testing.T) {
	client, err := New(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://app.example/cb",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	scopes := client.Scopes()
	for _, want := range []string{ScopeModify, ScopeSend, "openid", "email", "profile"} {
		if !slices.Contains(scopes, want) {
			t.Fatalf("expected scope %q in %v", want, scopes)
		}
	}

	bare, err := New(Config{
		ClientID:              "client-1",
		ClientSecret:          "secret-1",
		RedirectURI:           "https://app.example/cb",
		DisableIdentityScopes: true,
	})
	if err != nil {
		t.Fatalf("new bare client: %v", err)
	}
	if slices.Contains(bare.Scopes(), "openid") {
		t.Fatalf("expected identity scopes to be omitted, got %v", bare.Scopes())
	}
}

func TestApplyDefaults_FillsGoogleEndpoints(t *testing.T) {
	cfg := ApplyDefaults(core.OAuthConfig{})
	if cfg.AuthURL != AuthURL || cfg.TokenURL != TokenURL || cfg.RevokeURL != RevokeURL {
		t.Fatalf("unexpected endpoints %+v", cfg)
	}
	if !slices.Contains(cfg.Scopes, ScopeModify) {
		t.Fatalf("expected default scopes, got %v", cfg.Scopes)
	}
}
