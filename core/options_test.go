package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type fixedStoreProvider struct {
	connections *MemoryConnectionStore
	tokens      *MemoryTokenSetStore
	sessions    *MemoryAuthorizationSessionStore
	records     *MemoryProcessingRecordStore
	links       *MemoryThreadLinkStore
}

func newFixedStoreProvider() *fixedStoreProvider {
	return &fixedStoreProvider{
		connections: NewMemoryConnectionStore(),
		tokens:      NewMemoryTokenSetStore(),
		sessions:    NewMemoryAuthorizationSessionStore(),
		records:     NewMemoryProcessingRecordStore(),
		links:       NewMemoryThreadLinkStore(),
	}
}

func (p *fixedStoreProvider) ConnectionStore() ConnectionStore { return p.connections }

func (p *fixedStoreProvider) TokenSetStore() TokenSetStore { return p.tokens }

func (p *fixedStoreProvider) AuthorizationSessionStore() AuthorizationSessionStore {
	return p.sessions
}

func (p *fixedStoreProvider) ProcessingRecordStore() ProcessingRecordStore { return p.records }

func (p *fixedStoreProvider) ThreadLinkStore() ThreadLinkStore { return p.links }

type fixedStoreFactory struct {
	stores *fixedStoreProvider
	seen   any
	err    error
}

func (f *fixedStoreFactory) BuildStores(client any) (StoreProvider, error) {
	f.seen = client
	if f.err != nil {
		return nil, f.err
	}
	return f.stores, nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{},
		WithConnectionStore(NewMemoryConnectionStore()),
		WithTokenSetStore(NewMemoryTokenSetStore()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil {
		t.Fatalf("expected default error factory")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConfigProvider == nil {
		t.Fatalf("expected default config provider")
	}
	if deps.OptionsResolver == nil {
		t.Fatalf("expected default options resolver")
	}
	if deps.AuthorizationSessionStore == nil {
		t.Fatalf("expected default in-memory session store")
	}
	if deps.ConnectionLocker == nil {
		t.Fatalf("expected default connection locker")
	}
	if deps.MailboxClient != nil {
		t.Fatalf("expected no mailbox client without a backend")
	}
	if got := svc.Config().ServiceName; got != "ticketmail" {
		t.Fatalf("expected default config service_name=ticketmail, got %q", got)
	}
	if got := svc.Config().Ingestion.FallbackTitle; got != "(No Subject)" {
		t.Fatalf("expected default fallback title, got %q", got)
	}
}

func TestNewService_RequiresCoreStores(t *testing.T) {
	_, err := NewService(Config{})
	if !HasTextCode(err, ErrorConfiguration) {
		t.Fatalf("expected configuration error without stores, got %v", err)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	stores := newFixedStoreProvider()
	repositoryFactory := &fixedStoreFactory{stores: stores}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved", SystemName: "Desk"}}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithPersistenceClient(persistenceClient),
		WithRepositoryFactory(repositoryFactory),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolved := deps.LoggerProvider.GetLogger("ticketmail.override"); resolved != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.PersistenceClient != persistenceClient {
		t.Fatalf("expected custom persistence client override")
	}
	if repositoryFactory.seen != persistenceClient {
		t.Fatalf("expected repository factory to receive the persistence client")
	}
	if deps.ConnectionStore != ConnectionStore(stores.connections) {
		t.Fatalf("expected connection store from repository factory")
	}
	if deps.ThreadLinkStore != ThreadLinkStore(stores.links) {
		t.Fatalf("expected thread link store from repository factory")
	}
	if deps.ConfigProvider != configProvider {
		t.Fatalf("expected custom config provider override")
	}
	if deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom options resolver override")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
	if got := svc.Config().HeaderName("System"); got != "X-Desk-System" {
		t.Fatalf("expected header prefix from resolved system name, got %q", got)
	}
}

func TestNewService_RepositoryFactoryErrorIsMapped(t *testing.T) {
	_, err := NewService(Config{}, WithRepositoryFactory(&fixedStoreFactory{err: errors.New("dial failed")}))
	if err == nil {
		t.Fatalf("expected store build failure")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected mapped go-errors value, got %T", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"system_name":  "Helpdesk",
		"mailbox": map[string]any{
			"backend":       "gmail",
			"default_limit": 25,
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"},
		WithConfigProvider(provider),
		WithConnectionStore(NewMemoryConnectionStore()),
		WithTokenSetStore(NewMemoryTokenSetStore()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.SystemName != "Helpdesk" {
		t.Fatalf("expected config layer system name, got %q", cfg.SystemName)
	}
	if cfg.Mailbox.Backend != MailboxBackendGmail || cfg.Mailbox.DefaultLimit != 25 {
		t.Fatalf("expected config layer mailbox values, got %#v", cfg.Mailbox)
	}
	if cfg.Ingestion.LockTTL != 5*time.Minute {
		t.Fatalf("expected default lock ttl to survive layering, got %v", cfg.Ingestion.LockTTL)
	}
}

func TestConfigValidate_RejectsUnknownEnums(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outbound.Provider = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid outbound provider error")
	}
	cfg = DefaultConfig()
	cfg.SystemName = "Ticket Mail"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected header token error for system name with spaces")
	}
}

func TestOAuthConfig_ValidateOAuthListsMissingFields(t *testing.T) {
	err := OAuthConfig{ClientID: "client_1"}.ValidateOAuth()
	if !HasTextCode(err, ErrorConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, field := range []string{"auth_url", "token_url", "client_secret", "redirect_uri"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %q in %q", field, err.Error())
		}
	}
}
