package gmail

import (
	"net/http"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/providers"
	"github.com/goliatone/go-ticketmail/providers/google/common"
)

const (
	ProviderID = "google_gmail"
	AuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL   = "https://oauth2.googleapis.com/token"
	RevokeURL  = "https://oauth2.googleapis.com/revoke"

	ScopeModify = "https://www.googleapis.com/auth/gmail.modify"
	ScopeSend   = "https://www.googleapis.com/auth/gmail.send"
)

type Config struct {
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	AuthURL               string
	TokenURL              string
	RevokeURL             string
	Scopes                []string
	DisableIdentityScopes bool
	HTTPClient            *http.Client
}

func DefaultConfig() Config {
	return Config{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		RevokeURL: RevokeURL,
		Scopes:    []string{ScopeModify, ScopeSend},
	}
}

// ApplyDefaults fills the Google endpoints and scopes into cfg where unset.
func ApplyDefaults(cfg core.OAuthConfig) core.OAuthConfig {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = common.WithIdentityScopes(defaults.Scopes, true)
	}
	return cfg
}

func New(cfg Config) (*providers.OAuth2Client, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaults.RevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	cfg.Scopes = common.WithIdentityScopes(cfg.Scopes, !cfg.DisableIdentityScopes)
	return providers.NewOAuth2Client(providers.OAuth2Config{
		ID:           ProviderID,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		HTTPClient:   cfg.HTTPClient,
	})
}
