package ticketmail

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/mailbox/gmail"
	"github.com/goliatone/go-ticketmail/mailbox/graph"
	"github.com/goliatone/go-ticketmail/providers"
	googlegmail "github.com/goliatone/go-ticketmail/providers/google/gmail"
	"github.com/goliatone/go-ticketmail/providers/microsoft"
	"github.com/goliatone/go-ticketmail/transport"
)

// OAuthClientFor builds the token endpoint client matching the mailbox
// backend. Endpoints and scopes left empty take the identity provider defaults.
func OAuthClientFor(cfg Config, httpClient *http.Client) (*providers.OAuth2Client, error) {
	switch backendName(cfg) {
	case core.MailboxBackendGmail:
		return providers.NewOAuth2ClientFromConfig("gmail", googlegmail.ApplyDefaults(cfg.OAuth), httpClient)
	case core.MailboxBackendGraph:
		return providers.NewOAuth2ClientFromConfig("microsoft", microsoft.ApplyDefaults(cfg.OAuth, ""), httpClient)
	default:
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown mailbox backend %q", cfg.Mailbox.Backend))
	}
}

// MailboxBackendFor returns the mail API backend named by mailbox.backend.
func MailboxBackendFor(cfg Config, httpClient *http.Client) (core.MailboxBackend, error) {
	baseURL := strings.TrimSpace(cfg.Mailbox.BaseURL)
	switch backendName(cfg) {
	case core.MailboxBackendGraph:
		opts := []graph.Option{}
		if baseURL != "" {
			opts = append(opts, graph.WithBaseURL(baseURL))
		}
		if httpClient != nil {
			opts = append(opts, graph.WithHTTPClient(httpClient))
		}
		return graph.New(opts...), nil
	case core.MailboxBackendGmail:
		opts := []gmail.Option{}
		if baseURL != "" {
			opts = append(opts, gmail.WithEndpoint(baseURL))
		}
		if httpClient != nil {
			opts = append(opts, gmail.WithHTTPClient(httpClient))
		}
		return gmail.New(opts...), nil
	default:
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown mailbox backend %q", cfg.Mailbox.Backend))
	}
}

// SMTPSenderFor builds the direct transport for outbound.provider smtp.
// Other providers need no sender and get nil.
func SMTPSenderFor(cfg Config, registry *transport.Registry) (core.MailSender, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Outbound.Provider))
	if provider != "" && provider != core.OutboundProviderSMTP {
		return nil, nil
	}
	if registry == nil {
		registry = transport.NewDefaultRegistry()
	}
	return registry.Build(transport.KindSMTP, cfg.Outbound)
}

func backendName(cfg Config) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Mailbox.Backend))
	if name == "" {
		return core.MailboxBackendGraph
	}
	return name
}
