package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ticketmail/core"
)

// MutatingService is the write side of core.Service.
type MutatingService interface {
	GenerateAuthURL(ctx context.Context, req core.AuthURLRequest) (core.AuthURLResponse, error)
	HandleCallback(ctx context.Context, req core.CallbackRequest) (core.Connection, error)
	RevokeTokens(ctx context.Context, connectionID string) (bool, error)
	RefreshToken(ctx context.Context, connectionID string) (bool, error)
	ProvisionConnection(ctx context.Context, req core.ProvisionRequest) (core.Connection, error)
	DisconnectConnection(ctx context.Context, connectionID string) error
	ProcessEmails(ctx context.Context, req core.IngestionRequest) (core.IngestionResult, error)
	ProcessEmailsWithThreading(ctx context.Context, req core.IngestionRequest) (core.IngestionResult, error)
}

type TicketEventSender interface {
	SendTicketEvent(
		ctx context.Context,
		recipients []string,
		subject string,
		htmlBody string,
		event core.TicketEventContext,
		opts ...core.SendOption,
	) core.DeliveryResult
}

type MaintenanceRunner interface {
	RunOnce(ctx context.Context) core.MaintenanceReport
}

type GenerateAuthURLCommand struct {
	service MutatingService
}

func NewGenerateAuthURLCommand(service MutatingService) *GenerateAuthURLCommand {
	return &GenerateAuthURLCommand{service: service}
}

func (c *GenerateAuthURLCommand) Execute(ctx context.Context, msg GenerateAuthURLMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.GenerateAuthURL(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type HandleCallbackCommand struct {
	service MutatingService
}

func NewHandleCallbackCommand(service MutatingService) *HandleCallbackCommand {
	return &HandleCallbackCommand{service: service}
}

func (c *HandleCallbackCommand) Execute(ctx context.Context, msg HandleCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.HandleCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeTokensCommand struct {
	service MutatingService
}

func NewRevokeTokensCommand(service MutatingService) *RevokeTokensCommand {
	return &RevokeTokensCommand{service: service}
}

// Execute stores whether any token set was removed.
func (c *RevokeTokensCommand) Execute(ctx context.Context, msg RevokeTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	revoked, err := c.service.RevokeTokens(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, revoked)
	return nil
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	refreshed, err := c.service.RefreshToken(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, refreshed)
	return nil
}

type ProvisionConnectionCommand struct {
	service MutatingService
}

func NewProvisionConnectionCommand(service MutatingService) *ProvisionConnectionCommand {
	return &ProvisionConnectionCommand{service: service}
}

func (c *ProvisionConnectionCommand) Execute(ctx context.Context, msg ProvisionConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.ProvisionConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectConnectionCommand struct {
	service MutatingService
}

func NewDisconnectConnectionCommand(service MutatingService) *DisconnectConnectionCommand {
	return &DisconnectConnectionCommand{service: service}
}

func (c *DisconnectConnectionCommand) Execute(ctx context.Context, msg DisconnectConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.DisconnectConnection(ctx, msg.ConnectionID)
}

type ProcessEmailsCommand struct {
	service MutatingService
}

func NewProcessEmailsCommand(service MutatingService) *ProcessEmailsCommand {
	return &ProcessEmailsCommand{service: service}
}

func (c *ProcessEmailsCommand) Execute(ctx context.Context, msg ProcessEmailsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingestion service is required")
	}
	run := c.service.ProcessEmails
	if msg.Threaded {
		run = c.service.ProcessEmailsWithThreading
	}
	out, err := run(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SendTicketEventCommand struct {
	sender TicketEventSender
}

func NewSendTicketEventCommand(sender TicketEventSender) *SendTicketEventCommand {
	return &SendTicketEventCommand{sender: sender}
}

// Execute stores the delivery result. A failed delivery is not a command
// error; callers inspect DeliveryResult.Success.
func (c *SendTicketEventCommand) Execute(ctx context.Context, msg SendTicketEventMessage) error {
	if c == nil || c.sender == nil {
		return commandDependencyError("command: outbound dispatcher is required")
	}
	storeResult(ctx, c.sender.SendTicketEvent(ctx, msg.Recipients, msg.Subject, msg.HTMLBody, msg.Event))
	return nil
}

type RunMaintenanceCommand struct {
	runner MaintenanceRunner
}

func NewRunMaintenanceCommand(runner MaintenanceRunner) *RunMaintenanceCommand {
	return &RunMaintenanceCommand{runner: runner}
}

func (c *RunMaintenanceCommand) Execute(ctx context.Context, _ RunMaintenanceMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: maintenance task is required")
	}
	storeResult(ctx, c.runner.RunOnce(ctx))
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[GenerateAuthURLMessage]      = (*GenerateAuthURLCommand)(nil)
	_ gocmd.Commander[HandleCallbackMessage]       = (*HandleCallbackCommand)(nil)
	_ gocmd.Commander[RevokeTokensMessage]         = (*RevokeTokensCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]         = (*RefreshTokenCommand)(nil)
	_ gocmd.Commander[ProvisionConnectionMessage]  = (*ProvisionConnectionCommand)(nil)
	_ gocmd.Commander[DisconnectConnectionMessage] = (*DisconnectConnectionCommand)(nil)
	_ gocmd.Commander[ProcessEmailsMessage]        = (*ProcessEmailsCommand)(nil)
	_ gocmd.Commander[SendTicketEventMessage]      = (*SendTicketEventCommand)(nil)
	_ gocmd.Commander[RunMaintenanceMessage]       = (*RunMaintenanceCommand)(nil)
)
