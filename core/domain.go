package core

import (
	"strings"
	"time"
)

type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusInProgress ProcessingStatus = "in_progress"
	ProcessingStatusSuccess    ProcessingStatus = "success"
	ProcessingStatusFailed     ProcessingStatus = "failed"
	ProcessingStatusSkipped    ProcessingStatus = "skipped"
)

func (s ProcessingStatus) Terminal() bool {
	switch s {
	case ProcessingStatusSuccess, ProcessingStatusFailed, ProcessingStatusSkipped:
		return true
	default:
		return false
	}
}

func AllProcessingStatuses() []ProcessingStatus {
	return []ProcessingStatus{
		ProcessingStatusPending,
		ProcessingStatusInProgress,
		ProcessingStatusSuccess,
		ProcessingStatusFailed,
		ProcessingStatusSkipped,
	}
}

type MessageType string

const (
	MessageTypeNotification MessageType = "notification"
	MessageTypeReply        MessageType = "reply"
)

type Connection struct {
	ID        string
	UserID    string
	TenantID  string
	ClientID  string
	Active    bool
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (c Connection) Deleted() bool {
	return c.DeletedAt != nil
}

type TokenSet struct {
	ID           string
	ConnectionID string
	Version      int
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// FreshAt reports whether the access token stays valid for longer than buffer after now.
func (t TokenSet) FreshAt(now time.Time, buffer time.Duration) bool {
	if strings.TrimSpace(t.AccessToken) == "" || t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.After(now.Add(buffer))
}

type AuthorizationSession struct {
	State        string
	CodeVerifier string
	UserID       string
	TenantID     string
	ClientID     string
	RedirectURI  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (s AuthorizationSession) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type ProcessingRecord struct {
	ID           string
	ConnectionID string
	MessageID    string
	Subject      string
	Sender       string
	Status       ProcessingStatus
	TicketID     string
	Error        string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ThreadLink struct {
	ID                string
	ConnectionID      string
	TicketID          string
	MessageID         string
	ConversationID    string
	InternetMessageID string
	Root              bool
	CreatedAt         time.Time
}

type EmailAddress struct {
	Address string
	Name    string
}

func (a EmailAddress) String() string {
	if strings.TrimSpace(a.Name) == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// Message is a remote mailbox message normalized across backends.
type Message struct {
	ID                string
	ConversationID    string
	InternetMessageID string
	Subject           string
	From              EmailAddress
	To                []EmailAddress
	BodyHTML          string
	BodyText          string
	ReceivedAt        time.Time
	InReplyTo         string
	References        []string
	Headers           map[string]string
	// ReadError is set by a backend that listed the message but could not
	// fetch or parse it.
	ReadError string
}

// GroupKey is the conversation id, or the message id when the transport has none.
func (m Message) GroupKey() string {
	if key := strings.TrimSpace(m.ConversationID); key != "" {
		return key
	}
	return strings.TrimSpace(m.ID)
}

func (m Message) Header(name string) string {
	for key, value := range m.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

type OutgoingMessage struct {
	MessageID  string
	From       EmailAddress
	To         []string
	Subject    string
	HTMLBody   string
	InReplyTo  string
	References []string
	Headers    map[string]string
}

type UserProfile struct {
	ID          string
	DisplayName string
	Email       string
}

type ProvisionRequest struct {
	UserID   string
	TenantID string
	ClientID string
	Metadata map[string]any
}

type SaveTokenSetInput struct {
	ConnectionID string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

type AuthURLRequest struct {
	UserID   string
	TenantID string
	ClientID string
}

type AuthURLResponse struct {
	AuthURL      string
	State        string
	CodeVerifier string
}

type CallbackRequest struct {
	Code  string
	State string
}

type IngestionRequest struct {
	ConnectionID string
	Limit        int
}

type IngestionResult struct {
	Processed int
	Errors    int
	Skipped   int
}

// TokenResponse is the normalized token endpoint payload.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

type NewTicket struct {
	ConnectionID   string
	TenantID       string
	Title          string
	Detail         string
	Note           string
	RequesterEmail string
	RequesterName  string
	AssigneeID     string
	Source         string
	SourceRef      string
}

type Ticket struct {
	ID     string
	Number int64
}

type NewComment struct {
	TicketID    string
	TenantID    string
	Body        string
	AuthorEmail string
	AuthorName  string
	Private     bool
	SourceRef   string
}

type Comment struct {
	ID       string
	TicketID string
}

type TicketEventContext struct {
	TicketID          string
	TicketNumber      string
	IsReply           bool
	ThreadID          string
	OriginalMessageID string
}

func (c TicketEventContext) MessageType() MessageType {
	if c.IsReply {
		return MessageTypeReply
	}
	return MessageTypeNotification
}

type DeliveryResult struct {
	Success    bool
	MessageID  string
	Provider   string
	Recipients []string
	Error      error
}

const (
	EventTicketCreated     = "ticket.created"
	EventTicketCommented   = "ticket.comment_added"
	EventOutboundDelivered = "outbound.delivered"
	EventOutboundFailed    = "outbound.failed"
)

type Event struct {
	ID           string
	Type         string
	ConnectionID string
	TicketID     string
	MessageID    string
	OccurredAt   time.Time
	Payload      map[string]any
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthReport struct {
	ConnectionID     string
	Status           HealthStatus
	Active           bool
	HasCredential    bool
	TokenValid       bool
	TokenExpiresAt   *time.Time
	MailboxReachable bool
	ErrorRate        float64
	Stats            map[ProcessingStatus]int
	Problems         []string
	CheckedAt        time.Time
}
