package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Service owns the token manager, the authorization flow, and the ingestion engine.
type Service struct {
	config            Config
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
	mailbox           *MailboxClient
	ticketService     TicketService
	eventPublisher    EventPublisher
	rateLimiter       RateLimiter
	connectionLocker  ConnectionLocker
	now               func() time.Time
	refreshGroup      singleflight.Group
}

type ServiceDependencies struct {
	Logger                    Logger
	LoggerProvider            LoggerProvider
	MetricsRecorder           MetricsRecorder
	ErrorFactory              ErrorFactory
	ErrorMapper               ErrorMapper
	PersistenceClient         any
	RepositoryFactory         any
	ConfigProvider            ConfigProvider
	OptionsResolver           OptionsResolver
	ConnectionStore           ConnectionStore
	TokenSetStore             TokenSetStore
	AuthorizationSessionStore AuthorizationSessionStore
	ProcessingRecordStore     ProcessingRecordStore
	ThreadLinkStore           ThreadLinkStore
	OAuthClient               OAuthClient
	MailboxClient             *MailboxClient
	TicketService             TicketService
	EventPublisher            EventPublisher
	RateLimiter               RateLimiter
	ConnectionLocker          ConnectionLocker
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve(defaultLoggerName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(defaultLoggerName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.eventPublisher == nil {
		builder.eventPublisher = NopEventPublisher{}
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			applyStoreProvider(&builder, stores)
		}
	}
	if builder.sessionStore == nil {
		builder.sessionStore = NewMemoryAuthorizationSessionStore()
	}
	if builder.connectionStore == nil || builder.tokenSetStore == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("connection and token set stores are required"))
	}

	svc := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		connectionStore:   builder.connectionStore,
		tokenSetStore:     builder.tokenSetStore,
		sessionStore:      builder.sessionStore,
		recordStore:       builder.recordStore,
		threadLinkStore:   builder.threadLinkStore,
		oauthClient:       builder.oauthClient,
		ticketService:     builder.ticketService,
		eventPublisher:    builder.eventPublisher,
		rateLimiter:       builder.rateLimiter,
		connectionLocker:  builder.connectionLocker,
		now:               builder.clock,
	}
	if builder.mailboxBackend != nil {
		svc.mailbox = NewMailboxClient(svc, builder.connectionStore, builder.mailboxBackend,
			WithMailboxLogger(logger),
			WithMailboxMetrics(builder.metricsRecorder),
			WithMailboxTimeout(finalConfig.HTTP.RequestTimeout),
		)
	}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func applyStoreProvider(builder *serviceBuilder, stores StoreProvider) {
	if builder.connectionStore == nil {
		builder.connectionStore = stores.ConnectionStore()
	}
	if builder.tokenSetStore == nil {
		builder.tokenSetStore = stores.TokenSetStore()
	}
	if builder.sessionStore == nil {
		builder.sessionStore = stores.AuthorizationSessionStore()
	}
	if builder.recordStore == nil {
		builder.recordStore = stores.ProcessingRecordStore()
	}
	if builder.threadLinkStore == nil {
		builder.threadLinkStore = stores.ThreadLinkStore()
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// Mailbox returns the mailbox client, or nil when no backend was configured.
func (s *Service) Mailbox() *MailboxClient {
	if s == nil {
		return nil
	}
	return s.mailbox
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                    s.logger,
		LoggerProvider:            s.loggerProvider,
		MetricsRecorder:           s.metricsRecorder,
		ErrorFactory:              s.errorFactory,
		ErrorMapper:               s.errorMapper,
		PersistenceClient:         s.persistenceClient,
		RepositoryFactory:         s.repositoryFactory,
		ConfigProvider:            s.configProvider,
		OptionsResolver:           s.optionsResolver,
		ConnectionStore:           s.connectionStore,
		TokenSetStore:             s.tokenSetStore,
		AuthorizationSessionStore: s.sessionStore,
		ProcessingRecordStore:     s.recordStore,
		ThreadLinkStore:           s.threadLinkStore,
		OAuthClient:               s.oauthClient,
		MailboxClient:             s.mailbox,
		TicketService:             s.ticketService,
		EventPublisher:            s.eventPublisher,
		RateLimiter:               s.rateLimiter,
		ConnectionLocker:          s.connectionLocker,
	}
}

// ProvisionConnection creates an inactive connection, or returns the current
// one for the same user, tenant and client.
func (s *Service) ProvisionConnection(ctx context.Context, req ProvisionRequest) (connection Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":   req.UserID,
		"tenant_id": req.TenantID,
	}
	defer func() {
		if connection.ID != "" {
			fields["connection_id"] = connection.ID
		}
		s.observeOperation(ctx, startedAt, "provision_connection", err, fields)
	}()

	if req.UserID == "" || req.TenantID == "" {
		err = s.mapError(fmt.Errorf("core: user id and tenant id are required"))
		return Connection{}, err
	}
	if req.ClientID == "" {
		req.ClientID = s.config.OAuth.ClientID
	}
	existing, found, findErr := s.connectionStore.FindCurrent(ctx, req.UserID, req.TenantID, req.ClientID)
	if findErr != nil {
		err = s.mapError(NewPersistenceError("find connection", findErr))
		return Connection{}, err
	}
	if found {
		return existing, nil
	}
	connection, err = s.connectionStore.Create(ctx, req)
	if err != nil {
		err = s.mapError(NewPersistenceError("create connection", err))
		return Connection{}, err
	}
	return connection, nil
}

func (s *Service) currentTime() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s == nil || s.eventPublisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.currentTime()
	}
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logWarn(ctx, "event publish failed", map[string]any{
			"event_type":    event.Type,
			"connection_id": event.ConnectionID,
			"ticket_id":     event.TicketID,
			"error":         err.Error(),
		})
	}
}

type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, Event) error { return nil }
