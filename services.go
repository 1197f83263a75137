package ticketmail

import "github.com/goliatone/go-ticketmail/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Dispatcher = core.Dispatcher

type MaintenanceTask = core.MaintenanceTask

type (
	ConnectionStore           = core.ConnectionStore
	TokenSetStore             = core.TokenSetStore
	AuthorizationSessionStore = core.AuthorizationSessionStore
	ProcessingRecordStore     = core.ProcessingRecordStore
	ThreadLinkStore           = core.ThreadLinkStore
	TicketService             = core.TicketService
	TicketFinder              = core.TicketFinder
	EventPublisher            = core.EventPublisher
	MailboxBackend            = core.MailboxBackend
	OAuthClient               = core.OAuthClient
	SecretProvider            = core.SecretProvider
)

type (
	AuthURLRequest     = core.AuthURLRequest
	AuthURLResponse    = core.AuthURLResponse
	CallbackRequest    = core.CallbackRequest
	ProvisionRequest   = core.ProvisionRequest
	IngestionRequest   = core.IngestionRequest
	IngestionResult    = core.IngestionResult
	TicketEventContext = core.TicketEventContext
	DeliveryResult     = core.DeliveryResult
	HealthReport       = core.HealthReport
)

var (
	WithLogger                    = core.WithLogger
	WithLoggerProvider            = core.WithLoggerProvider
	WithMetricsRecorder           = core.WithMetricsRecorder
	WithErrorFactory              = core.WithErrorFactory
	WithErrorMapper               = core.WithErrorMapper
	WithPersistenceClient         = core.WithPersistenceClient
	WithRepositoryFactory         = core.WithRepositoryFactory
	WithConfigProvider            = core.WithConfigProvider
	WithOptionsResolver           = core.WithOptionsResolver
	WithConnectionStore           = core.WithConnectionStore
	WithTokenSetStore             = core.WithTokenSetStore
	WithAuthorizationSessionStore = core.WithAuthorizationSessionStore
	WithProcessingRecordStore     = core.WithProcessingRecordStore
	WithThreadLinkStore           = core.WithThreadLinkStore
	WithOAuthClient               = core.WithOAuthClient
	WithMailboxBackend            = core.WithMailboxBackend
	WithTicketService             = core.WithTicketService
	WithEventPublisher            = core.WithEventPublisher
	WithRateLimiter               = core.WithRateLimiter
	WithConnectionLocker          = core.WithConnectionLocker
	WithClock                     = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
