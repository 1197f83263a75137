package command

import (
	"strings"

	"github.com/goliatone/go-ticketmail/core"
)

const (
	TypeGenerateAuthURL      = "ticketmail.command.auth_url.generate"
	TypeHandleCallback       = "ticketmail.command.callback.handle"
	TypeRevokeTokens         = "ticketmail.command.tokens.revoke"
	TypeRefreshToken         = "ticketmail.command.tokens.refresh"
	TypeProvisionConnection  = "ticketmail.command.connection.provision"
	TypeDisconnectConnection = "ticketmail.command.connection.disconnect"
	TypeProcessEmails        = "ticketmail.command.emails.process"
	TypeSendTicketEvent      = "ticketmail.command.ticket_event.send"
	TypeRunMaintenance       = "ticketmail.command.maintenance.run"
)

type GenerateAuthURLMessage struct {
	Request core.AuthURLRequest
}

func (GenerateAuthURLMessage) Type() string { return TypeGenerateAuthURL }

func (m GenerateAuthURLMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type HandleCallbackMessage struct {
	Request core.CallbackRequest
}

func (HandleCallbackMessage) Type() string { return TypeHandleCallback }

func (m HandleCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	return nil
}

type RevokeTokensMessage struct {
	ConnectionID string
}

func (RevokeTokensMessage) Type() string { return TypeRevokeTokens }

func (m RevokeTokensMessage) Validate() error {
	return requireConnectionID(m.ConnectionID)
}

type RefreshTokenMessage struct {
	ConnectionID string
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	return requireConnectionID(m.ConnectionID)
}

type ProvisionConnectionMessage struct {
	Request core.ProvisionRequest
}

func (ProvisionConnectionMessage) Type() string { return TypeProvisionConnection }

func (m ProvisionConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type DisconnectConnectionMessage struct {
	ConnectionID string
}

func (DisconnectConnectionMessage) Type() string { return TypeDisconnectConnection }

func (m DisconnectConnectionMessage) Validate() error {
	return requireConnectionID(m.ConnectionID)
}

// ProcessEmailsMessage runs one ingestion pass. Threaded false skips
// conversation grouping and creates one ticket per message.
type ProcessEmailsMessage struct {
	Request  core.IngestionRequest
	Threaded bool
}

func (ProcessEmailsMessage) Type() string { return TypeProcessEmails }

func (m ProcessEmailsMessage) Validate() error {
	if err := requireConnectionID(m.Request.ConnectionID); err != nil {
		return err
	}
	if m.Request.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type SendTicketEventMessage struct {
	Recipients []string
	Subject    string
	HTMLBody   string
	Event      core.TicketEventContext
}

func (SendTicketEventMessage) Type() string { return TypeSendTicketEvent }

func (m SendTicketEventMessage) Validate() error {
	if len(m.Recipients) == 0 {
		return commandValidationError("recipients", "at least one recipient is required")
	}
	for _, recipient := range m.Recipients {
		if strings.TrimSpace(recipient) == "" {
			return commandValidationError("recipients", "recipients must not be blank")
		}
	}
	if strings.TrimSpace(m.Event.TicketNumber) == "" {
		return commandValidationError("ticket_number", "ticket number is required")
	}
	return nil
}

type RunMaintenanceMessage struct{}

func (RunMaintenanceMessage) Type() string { return TypeRunMaintenance }

func requireConnectionID(connectionID string) error {
	if strings.TrimSpace(connectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}
