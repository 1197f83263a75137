package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

const defaultLoggerName = "ticketmail"

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	connectionStore   ConnectionStore
	tokenSetStore     TokenSetStore
	sessionStore      AuthorizationSessionStore
	recordStore       ProcessingRecordStore
	threadLinkStore   ThreadLinkStore
	oauthClient       OAuthClient
	mailboxBackend    MailboxBackend
	ticketService     TicketService
	eventPublisher    EventPublisher
	rateLimiter       RateLimiter
	connectionLocker  ConnectionLocker
	clock             func() time.Time
}

type Option func(*serviceBuilder)

// WithLogger replaces the default provider so logger is the one used.
func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
		if logger != nil {
			b.loggerProvider = nil
		}
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithTokenSetStore(store TokenSetStore) Option {
	return func(b *serviceBuilder) {
		b.tokenSetStore = store
	}
}

func WithAuthorizationSessionStore(store AuthorizationSessionStore) Option {
	return func(b *serviceBuilder) {
		b.sessionStore = store
	}
}

func WithProcessingRecordStore(store ProcessingRecordStore) Option {
	return func(b *serviceBuilder) {
		b.recordStore = store
	}
}

func WithThreadLinkStore(store ThreadLinkStore) Option {
	return func(b *serviceBuilder) {
		b.threadLinkStore = store
	}
}

func WithOAuthClient(client OAuthClient) Option {
	return func(b *serviceBuilder) {
		b.oauthClient = client
	}
}

func WithMailboxBackend(backend MailboxBackend) Option {
	return func(b *serviceBuilder) {
		b.mailboxBackend = backend
	}
}

func WithTicketService(tickets TicketService) Option {
	return func(b *serviceBuilder) {
		b.ticketService = tickets
	}
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(b *serviceBuilder) {
		b.eventPublisher = publisher
	}
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(b *serviceBuilder) {
		b.rateLimiter = limiter
	}
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve(defaultLoggerName, nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		eventPublisher:  NopEventPublisher{},
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString(layer, "service_name", cfg.ServiceName, includeZero)
	putString(layer, "system_name", cfg.SystemName, includeZero)

	oauth := map[string]any{}
	putString(oauth, "auth_url", cfg.OAuth.AuthURL, includeZero)
	putString(oauth, "token_url", cfg.OAuth.TokenURL, includeZero)
	putString(oauth, "revoke_url", cfg.OAuth.RevokeURL, includeZero)
	putString(oauth, "client_id", cfg.OAuth.ClientID, includeZero)
	putString(oauth, "client_secret", cfg.OAuth.ClientSecret, includeZero)
	putString(oauth, "redirect_uri", cfg.OAuth.RedirectURI, includeZero)
	if includeZero || len(cfg.OAuth.Scopes) > 0 {
		oauth["scopes"] = append([]string(nil), cfg.OAuth.Scopes...)
	}
	putDuration(oauth, "session_ttl", cfg.OAuth.SessionTTL, includeZero)
	putDuration(oauth, "refresh_buffer", cfg.OAuth.RefreshBuffer, includeZero)
	putSection(layer, "oauth", oauth)

	mailbox := map[string]any{}
	putString(mailbox, "backend", cfg.Mailbox.Backend, includeZero)
	putString(mailbox, "base_url", cfg.Mailbox.BaseURL, includeZero)
	putInt(mailbox, "default_limit", cfg.Mailbox.DefaultLimit, includeZero)
	putSection(layer, "mailbox", mailbox)

	ingestion := map[string]any{}
	putDuration(ingestion, "rate_limit_window", cfg.Ingestion.RateLimitWindow, includeZero)
	putInt(ingestion, "rate_limit_max", cfg.Ingestion.RateLimitMax, includeZero)
	putDuration(ingestion, "record_retention", cfg.Ingestion.RecordRetention, includeZero)
	putDuration(ingestion, "lock_ttl", cfg.Ingestion.LockTTL, includeZero)
	putString(ingestion, "fallback_title", cfg.Ingestion.FallbackTitle, includeZero)
	putInt(ingestion, "detail_max_chars", cfg.Ingestion.DetailMaxChars, includeZero)
	if includeZero || cfg.Ingestion.SkipAutoResponders {
		ingestion["skip_auto_responders"] = cfg.Ingestion.SkipAutoResponders
	}
	putSection(layer, "ingestion", ingestion)

	smtp := map[string]any{}
	putString(smtp, "host", cfg.Outbound.SMTP.Host, includeZero)
	putInt(smtp, "port", cfg.Outbound.SMTP.Port, includeZero)
	putString(smtp, "username", cfg.Outbound.SMTP.Username, includeZero)
	putString(smtp, "password", cfg.Outbound.SMTP.Password, includeZero)
	if includeZero || cfg.Outbound.SMTP.StartTLS {
		smtp["start_tls"] = cfg.Outbound.SMTP.StartTLS
	}
	outbound := map[string]any{}
	putString(outbound, "provider", cfg.Outbound.Provider, includeZero)
	putString(outbound, "connection_id", cfg.Outbound.ConnectionID, includeZero)
	putString(outbound, "from_address", cfg.Outbound.FromAddress, includeZero)
	putString(outbound, "from_name", cfg.Outbound.FromName, includeZero)
	putSection(outbound, "smtp", smtp)
	putSection(layer, "outbound", outbound)

	retry := map[string]any{}
	putDuration(retry, "base_delay", cfg.Retry.BaseDelay, includeZero)
	putDuration(retry, "max_delay", cfg.Retry.MaxDelay, includeZero)
	putInt(retry, "max_attempts", cfg.Retry.MaxAttempts, includeZero)
	putSection(layer, "retry", retry)

	httpLayer := map[string]any{}
	putDuration(httpLayer, "request_timeout", cfg.HTTP.RequestTimeout, includeZero)
	putSection(layer, "http", httpLayer)

	maintenance := map[string]any{}
	putDuration(maintenance, "interval", cfg.Maintenance.Interval, includeZero)
	putSection(layer, "maintenance", maintenance)
	return layer
}

func putString(target map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		target[key] = value
	}
}

func putInt(target map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		target[key] = value
	}
}

func putDuration(target map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		target[key] = value
	}
}

func putSection(target map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		target[key] = section
	}
}
