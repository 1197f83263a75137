package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	OutboundProviderSMTP     = "smtp"
	OutboundProviderExchange = "exchange"

	MailboxBackendGraph = "graph"
	MailboxBackendGmail = "gmail"
)

type OAuthConfig struct {
	AuthURL       string        `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL      string        `koanf:"token_url" mapstructure:"token_url"`
	RevokeURL     string        `koanf:"revoke_url" mapstructure:"revoke_url"`
	ClientID      string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret  string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI   string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes        []string      `koanf:"scopes" mapstructure:"scopes"`
	SessionTTL    time.Duration `koanf:"session_ttl" mapstructure:"session_ttl"`
	RefreshBuffer time.Duration `koanf:"refresh_buffer" mapstructure:"refresh_buffer"`
}

type MailboxConfig struct {
	Backend      string `koanf:"backend" mapstructure:"backend"`
	BaseURL      string `koanf:"base_url" mapstructure:"base_url"`
	DefaultLimit int    `koanf:"default_limit" mapstructure:"default_limit"`
}

type IngestionConfig struct {
	RateLimitWindow    time.Duration `koanf:"rate_limit_window" mapstructure:"rate_limit_window"`
	RateLimitMax       int           `koanf:"rate_limit_max" mapstructure:"rate_limit_max"`
	RecordRetention    time.Duration `koanf:"record_retention" mapstructure:"record_retention"`
	LockTTL            time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	FallbackTitle      string        `koanf:"fallback_title" mapstructure:"fallback_title"`
	DetailMaxChars     int           `koanf:"detail_max_chars" mapstructure:"detail_max_chars"`
	SkipAutoResponders bool          `koanf:"skip_auto_responders" mapstructure:"skip_auto_responders"`
}

type SMTPConfig struct {
	Host     string `koanf:"host" mapstructure:"host"`
	Port     int    `koanf:"port" mapstructure:"port"`
	Username string `koanf:"username" mapstructure:"username"`
	Password string `koanf:"password" mapstructure:"password"`
	StartTLS bool   `koanf:"start_tls" mapstructure:"start_tls"`
}

type OutboundConfig struct {
	Provider     string     `koanf:"provider" mapstructure:"provider"`
	ConnectionID string     `koanf:"connection_id" mapstructure:"connection_id"`
	FromAddress  string     `koanf:"from_address" mapstructure:"from_address"`
	FromName     string     `koanf:"from_name" mapstructure:"from_name"`
	SMTP         SMTPConfig `koanf:"smtp" mapstructure:"smtp"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type HTTPConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

type MaintenanceConfig struct {
	Interval time.Duration `koanf:"interval" mapstructure:"interval"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	SystemName  string            `koanf:"system_name" mapstructure:"system_name"`
	OAuth       OAuthConfig       `koanf:"oauth" mapstructure:"oauth"`
	Mailbox     MailboxConfig     `koanf:"mailbox" mapstructure:"mailbox"`
	Ingestion   IngestionConfig   `koanf:"ingestion" mapstructure:"ingestion"`
	Outbound    OutboundConfig    `koanf:"outbound" mapstructure:"outbound"`
	Retry       RetryConfig       `koanf:"retry" mapstructure:"retry"`
	HTTP        HTTPConfig        `koanf:"http" mapstructure:"http"`
	Maintenance MaintenanceConfig `koanf:"maintenance" mapstructure:"maintenance"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "ticketmail",
		SystemName:  "TicketMail",
		OAuth: OAuthConfig{
			SessionTTL:    defaultSessionTTL,
			RefreshBuffer: defaultRefreshBuffer,
		},
		Mailbox: MailboxConfig{
			Backend:      MailboxBackendGraph,
			DefaultLimit: 50,
		},
		Ingestion: IngestionConfig{
			RateLimitWindow:    time.Minute,
			RateLimitMax:       6,
			RecordRetention:    30 * 24 * time.Hour,
			LockTTL:            5 * time.Minute,
			FallbackTitle:      defaultFallbackTitle,
			DetailMaxChars:     defaultDetailMaxChars,
			SkipAutoResponders: true,
		},
		Outbound: OutboundConfig{
			Provider: OutboundProviderSMTP,
			SMTP: SMTPConfig{
				Port:     587,
				StartTLS: true,
			},
		},
		Retry: RetryConfig{
			BaseDelay:   time.Second,
			MaxDelay:    defaultRetryMaxDelay,
			MaxAttempts: 3,
		},
		HTTP: HTTPConfig{
			RequestTimeout: 30 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Interval: 5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.SystemName) == "" {
		return fmt.Errorf("core: system_name is required")
	}
	if strings.ContainsAny(c.SystemName, " :\r\n") {
		return fmt.Errorf("core: system_name must be a valid header token")
	}
	switch strings.ToLower(strings.TrimSpace(c.Outbound.Provider)) {
	case "", OutboundProviderSMTP, OutboundProviderExchange:
	default:
		return fmt.Errorf("core: outbound provider %q is invalid", c.Outbound.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.Mailbox.Backend)) {
	case "", MailboxBackendGraph, MailboxBackendGmail:
	default:
		return fmt.Errorf("core: mailbox backend %q is invalid", c.Mailbox.Backend)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("core: retry max_attempts must not be negative")
	}
	return nil
}

// ValidateOAuth reports missing client material needed by the authorization
// flow and the token endpoint.
func (c OAuthConfig) ValidateOAuth() error {
	missing := []string{}
	if strings.TrimSpace(c.AuthURL) == "" {
		missing = append(missing, "auth_url")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		missing = append(missing, "token_url")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		missing = append(missing, "redirect_uri")
	}
	if len(missing) > 0 {
		return NewConfigurationError("oauth settings missing: " + strings.Join(missing, ", "))
	}
	return nil
}

// HeaderName returns the tracking header for suffix, e.g. X-TicketMail-Ticket-ID.
func (c Config) HeaderName(suffix string) string {
	system := strings.TrimSpace(c.SystemName)
	if system == "" {
		system = DefaultConfig().SystemName
	}
	return "X-" + system + "-" + suffix
}
