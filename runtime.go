package ticketmail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ticketmail/adapters/gocommand"
	"github.com/goliatone/go-ticketmail/adapters/gojob"
	"github.com/goliatone/go-ticketmail/adapters/gologger"
	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/events/natsjs"
	"github.com/goliatone/go-ticketmail/ratelimit"
	sqlstore "github.com/goliatone/go-ticketmail/store/sql"
	"github.com/goliatone/go-ticketmail/transport"
)

// RuntimeDependencies are the host-owned collaborators. Only Tickets is
// required; a nil PersistenceClient keeps every store in memory.
type RuntimeDependencies struct {
	Tickets           core.TicketService
	PersistenceClient any
	Secrets           core.SecretProvider
	TokenCache        repositorycache.CacheService
	Events            core.EventPublisher
	NATSURL           string
	HTTPClient        *http.Client
	Logger            glog.Logger
	Transports        *transport.Registry
}

// Runtime is a fully wired ticketmail instance.
type Runtime struct {
	Service     *core.Service
	Dispatcher  *core.Dispatcher
	Maintenance *core.MaintenanceTask
	Limiter     *ratelimit.Limiter
	Facade      *Facade
	Jobs        *gojob.Runner

	publisher *natsjs.Publisher
	jobPolicy gojob.RetryPolicy
	jobLogger glog.Logger
}

// NewRuntime picks the mailbox backend, OAuth endpoints and outbound
// transport from cfg, then assembles the service around them. opts are
// applied after the runtime defaults and win over them.
func NewRuntime(ctx context.Context, cfg Config, deps RuntimeDependencies, opts ...Option) (*Runtime, error) {
	if deps.Tickets == nil {
		return nil, core.NewConfigurationError("ticket service is required")
	}
	rt := &Runtime{Limiter: ratelimit.NewLimiter()}

	oauthClient, err := OAuthClientFor(cfg, deps.HTTPClient)
	if err != nil {
		return nil, err
	}
	backend, err := MailboxBackendFor(cfg, deps.HTTPClient)
	if err != nil {
		return nil, err
	}

	logger := glog.Ensure(deps.Logger)
	if deps.Logger != nil {
		logger = gologger.NewRedactingLogger(deps.Logger)
	}
	base := []Option{
		core.WithLogger(logger),
		core.WithOAuthClient(oauthClient),
		core.WithMailboxBackend(backend),
		core.WithTicketService(deps.Tickets),
		core.WithRateLimiter(rt.Limiter),
	}

	events := deps.Events
	if events == nil && strings.TrimSpace(deps.NATSURL) != "" {
		publisher, connectErr := natsjs.Connect(deps.NATSURL)
		if connectErr != nil {
			return nil, connectErr
		}
		if streamErr := publisher.EnsureStream(ctx); streamErr != nil {
			publisher.Close()
			return nil, streamErr
		}
		rt.publisher = publisher
		events = publisher
	}
	if events != nil {
		base = append(base, core.WithEventPublisher(events))
	}

	storeOpts, err := persistentStoreOptions(deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	base = append(base, storeOpts...)

	svc, err := core.NewService(cfg, append(base, opts...)...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	final := svc.Config()

	sender, err := SMTPSenderFor(final, deps.Transports)
	if err != nil {
		rt.Close()
		return nil, err
	}
	svcDeps := svc.Dependencies()
	dispatcherOpts := []core.DispatcherOption{
		core.WithDispatcherLogger(svcDeps.Logger),
		core.WithDispatcherMetrics(svcDeps.MetricsRecorder),
		core.WithDispatcherRetry(core.RetryPolicyFromConfig(final.Retry)),
	}
	if svcDeps.EventPublisher != nil {
		dispatcherOpts = append(dispatcherOpts, core.WithDispatcherEvents(svcDeps.EventPublisher))
	}
	rt.Dispatcher, err = core.NewDispatcher(ctx, final, core.DispatcherDependencies{
		Mailbox:     svc.Mailbox(),
		Connections: svcDeps.ConnectionStore,
		SMTP:        sender,
	}, dispatcherOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Maintenance = core.NewMaintenanceTask(svc, rt.Limiter)
	rt.Facade, err = NewFacade(svc, WithTicketEventSender(rt.Dispatcher), WithMaintenanceRunner(rt.Maintenance))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.jobPolicy = gojob.RetryPolicyFromConfig(final.Retry)
	rt.jobLogger = svcDeps.Logger
	rt.Jobs = gojob.NewRunner(svc, rt.jobPolicy, gojob.WithRunnerLogger(rt.jobLogger))
	return rt, nil
}

// Register subscribes the facade on adapter. From then on queued ingestion
// jobs are dispatched through the same handlers.
func (r *Runtime) Register(adapter *gocommand.RegistryAdapter) (*gocommand.Subscriptions, error) {
	if r == nil || r.Facade == nil || r.Service == nil {
		return nil, core.NewConfigurationError("runtime is not configured")
	}
	subs, err := r.Facade.Register(adapter)
	if err != nil {
		return nil, err
	}
	r.Jobs = gojob.NewRunner(commandJobs{JobService: r.Service}, r.jobPolicy, gojob.WithRunnerLogger(r.jobLogger))
	return subs, nil
}

func persistentStoreOptions(deps RuntimeDependencies) ([]Option, error) {
	if deps.PersistenceClient == nil {
		if deps.Secrets != nil || deps.TokenCache != nil {
			return nil, core.NewConfigurationError("token encryption and caching need a persistence client")
		}
		return []Option{
			core.WithConnectionStore(core.NewMemoryConnectionStore()),
			core.WithTokenSetStore(core.NewMemoryTokenSetStore()),
			core.WithProcessingRecordStore(core.NewMemoryProcessingRecordStore()),
			core.WithThreadLinkStore(core.NewMemoryThreadLinkStore()),
		}, nil
	}

	factoryOpts := []sqlstore.FactoryOption{}
	if deps.Secrets != nil {
		factoryOpts = append(factoryOpts, sqlstore.WithSecretProvider(deps.Secrets))
	}
	factory := sqlstore.NewRepositoryFactory(factoryOpts...)
	stores, err := factory.BuildStores(deps.PersistenceClient)
	if err != nil {
		return nil, fmt.Errorf("ticketmail: build stores: %w", err)
	}
	out := []Option{
		core.WithPersistenceClient(deps.PersistenceClient),
		core.WithRepositoryFactory(factory),
	}
	if deps.TokenCache != nil {
		cached, cacheErr := sqlstore.NewCachedTokenSetStore(stores.TokenSetStore(), deps.TokenCache)
		if cacheErr != nil {
			return nil, cacheErr
		}
		out = append(out, core.WithTokenSetStore(cached))
	}
	return out, nil
}

// Start begins the periodic cleanup task.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.Maintenance == nil {
		return core.NewConfigurationError("runtime is not configured")
	}
	return r.Maintenance.Start(ctx)
}

// Stop halts the cleanup task and releases the event connection.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	if r.Maintenance != nil && r.Maintenance.Running() {
		err = r.Maintenance.Stop(ctx)
	}
	r.Close()
	return err
}

func (r *Runtime) Close() {
	if r != nil && r.publisher != nil {
		r.publisher.Close()
		r.publisher = nil
	}
}
