package microsoft

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/providers"
)

const (
	ProviderID    = "microsoft_graph"
	DefaultTenant = "common"
	loginBaseURL  = "https://login.microsoftonline.com/"
)

// DefaultScopes request delegated mailbox access plus a refresh token.
var DefaultScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"https://graph.microsoft.com/Mail.Send",
	"https://graph.microsoft.com/User.Read",
}

type Config struct {
	Tenant       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	HTTPClient   *http.Client
}

func AuthURL(tenant string) string {
	return loginBaseURL + tenantSegment(tenant) + "/oauth2/v2.0/authorize"
}

func TokenURL(tenant string) string {
	return loginBaseURL + tenantSegment(tenant) + "/oauth2/v2.0/token"
}

// ApplyDefaults fills the identity platform endpoints and scopes into cfg where unset.
// The platform has no RFC 7009 endpoint so revocation stays local.
func ApplyDefaults(cfg core.OAuthConfig, tenant string) core.OAuthConfig {
	if cfg.AuthURL == "" {
		cfg.AuthURL = AuthURL(tenant)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = TokenURL(tenant)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = append([]string(nil), DefaultScopes...)
	}
	return cfg
}

func New(cfg Config) (*providers.OAuth2Client, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return providers.NewOAuth2Client(providers.OAuth2Config{
		ID:           ProviderID,
		AuthURL:      AuthURL(cfg.Tenant),
		TokenURL:     TokenURL(cfg.Tenant),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       scopes,
		HTTPClient:   cfg.HTTPClient,
	})
}

func tenantSegment(tenant string) string {
	tenant = strings.Trim(strings.TrimSpace(tenant), "/")
	if tenant == "" {
		return DefaultTenant
	}
	return tenant
}
