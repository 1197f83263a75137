package ticketmail

import (
	"fmt"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ticketmail/adapters/gocommand"
	"github.com/goliatone/go-ticketmail/core"
	ticketcommand "github.com/goliatone/go-ticketmail/command"
	ticketquery "github.com/goliatone/go-ticketmail/query"
)

// CommandQueryService is what the facade needs from core.Service.
type CommandQueryService interface {
	ticketcommand.MutatingService
	ticketquery.ProcessingStatsReader
	ticketquery.HealthReader
}

type Commands struct {
	GenerateAuthURL      *ticketcommand.GenerateAuthURLCommand
	HandleCallback       *ticketcommand.HandleCallbackCommand
	RevokeTokens         *ticketcommand.RevokeTokensCommand
	RefreshToken         *ticketcommand.RefreshTokenCommand
	ProvisionConnection  *ticketcommand.ProvisionConnectionCommand
	DisconnectConnection *ticketcommand.DisconnectConnectionCommand
	ProcessEmails        *ticketcommand.ProcessEmailsCommand
	SendTicketEvent      *ticketcommand.SendTicketEventCommand
	RunMaintenance       *ticketcommand.RunMaintenanceCommand
}

type Queries struct {
	GetProcessingStats *ticketquery.GetProcessingStatsQuery
	Health             *ticketquery.HealthQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	sender      ticketcommand.TicketEventSender
	maintenance ticketcommand.MaintenanceRunner
}

// WithTicketEventSender enables the SendTicketEvent command.
func WithTicketEventSender(sender ticketcommand.TicketEventSender) FacadeOption {
	return func(options *facadeOptions) {
		options.sender = sender
	}
}

func WithMaintenanceRunner(runner ticketcommand.MaintenanceRunner) FacadeOption {
	return func(options *facadeOptions) {
		options.maintenance = runner
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("ticketmail: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		GenerateAuthURL:      ticketcommand.NewGenerateAuthURLCommand(service),
		HandleCallback:       ticketcommand.NewHandleCallbackCommand(service),
		RevokeTokens:         ticketcommand.NewRevokeTokensCommand(service),
		RefreshToken:         ticketcommand.NewRefreshTokenCommand(service),
		ProvisionConnection:  ticketcommand.NewProvisionConnectionCommand(service),
		DisconnectConnection: ticketcommand.NewDisconnectConnectionCommand(service),
		ProcessEmails:        ticketcommand.NewProcessEmailsCommand(service),
		SendTicketEvent:      ticketcommand.NewSendTicketEventCommand(cfg.sender),
		RunMaintenance:       ticketcommand.NewRunMaintenanceCommand(cfg.maintenance),
	}
	facade.queries = Queries{
		GetProcessingStats: ticketquery.NewGetProcessingStatsQuery(service),
		Health:             ticketquery.NewHealthQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register subscribes every handler on the go-command dispatcher. On
// failure the handlers registered so far are unsubscribed.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter) (*gocommand.Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("ticketmail: facade is nil")
	}
	subs := &gocommand.Subscriptions{}
	c, q := f.commands, f.queries
	steps := []func() error{
		func() error { return subscribe[ticketcommand.GenerateAuthURLMessage](subs, adapter, c.GenerateAuthURL) },
		func() error { return subscribe[ticketcommand.HandleCallbackMessage](subs, adapter, c.HandleCallback) },
		func() error { return subscribe[ticketcommand.RevokeTokensMessage](subs, adapter, c.RevokeTokens) },
		func() error { return subscribe[ticketcommand.RefreshTokenMessage](subs, adapter, c.RefreshToken) },
		func() error { return subscribe[ticketcommand.ProvisionConnectionMessage](subs, adapter, c.ProvisionConnection) },
		func() error { return subscribe[ticketcommand.DisconnectConnectionMessage](subs, adapter, c.DisconnectConnection) },
		func() error { return subscribe[ticketcommand.ProcessEmailsMessage](subs, adapter, c.ProcessEmails) },
		func() error { return subscribe[ticketcommand.SendTicketEventMessage](subs, adapter, c.SendTicketEvent) },
		func() error { return subscribe[ticketcommand.RunMaintenanceMessage](subs, adapter, c.RunMaintenance) },
		func() error { return subscribeQuery[ticketquery.GetProcessingStatsMessage, map[core.ProcessingStatus]int](subs, adapter, q.GetProcessingStats) },
		func() error { return subscribeQuery[ticketquery.HealthMessage, core.HealthReport](subs, adapter, q.Health) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			subs.Close()
			return nil, err
		}
	}
	return subs, nil
}

func subscribe[T any](subs *gocommand.Subscriptions, adapter *gocommand.RegistryAdapter, cmd gocmd.Commander[T]) error {
	sub, err := gocommand.RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		return err
	}
	subs.Add(sub)
	return nil
}

func subscribeQuery[T any, R any](subs *gocommand.Subscriptions, adapter *gocommand.RegistryAdapter, qry gocmd.Querier[T, R]) error {
	sub, err := gocommand.RegisterAndSubscribeQuery(adapter, qry)
	if err != nil {
		return err
	}
	subs.Add(sub)
	return nil
}
