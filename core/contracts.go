package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ConnectionStore interface {
	Create(ctx context.Context, in ProvisionRequest) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	FindCurrent(ctx context.Context, userID string, tenantID string, clientID string) (Connection, bool, error)
	SetActive(ctx context.Context, id string, active bool) error
	SoftDelete(ctx context.Context, id string) error
}

// TokenSetStore is append-only; the newest set per connection is authoritative.
type TokenSetStore interface {
	Append(ctx context.Context, in SaveTokenSetInput) (TokenSet, error)
	Latest(ctx context.Context, connectionID string) (TokenSet, error)
	DeleteAll(ctx context.Context, connectionID string) (int, error)
}

type AuthorizationSessionStore interface {
	Save(ctx context.Context, session AuthorizationSession) error
	Get(ctx context.Context, state string) (AuthorizationSession, error)
	Delete(ctx context.Context, state string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type ProcessingRecordStore interface {
	Get(ctx context.Context, connectionID string, messageID string) (ProcessingRecord, bool, error)
	// Claim inserts an in-progress record and reports false when one already exists.
	Claim(ctx context.Context, record ProcessingRecord) (bool, error)
	// Reclaim takes over an in-progress record untouched for staleAfter,
	// left behind by a run that died before finishing it.
	Reclaim(ctx context.Context, record ProcessingRecord, staleAfter time.Duration) (bool, error)
	Upsert(ctx context.Context, record ProcessingRecord) (ProcessingRecord, error)
	CountByStatus(ctx context.Context, connectionID string) (map[ProcessingStatus]int, error)
	PruneTerminal(ctx context.Context, before time.Time) (int, error)
}

type ThreadLinkStore interface {
	// Create returns ErrThreadLinkConflict when a root link already exists for the conversation.
	Create(ctx context.Context, link ThreadLink) (ThreadLink, error)
	FindByConversation(ctx context.Context, connectionID string, conversationID string) (ThreadLink, bool, error)
	FindByInternetMessageID(ctx context.Context, connectionID string, internetMessageIDs []string) (ThreadLink, bool, error)
	// FindByMessageID reports whether the remote message was already folded
	// into a ticket. Links outlive pruned processing records.
	FindByMessageID(ctx context.Context, connectionID string, messageID string) (ThreadLink, bool, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	TokenSetStore() TokenSetStore
	AuthorizationSessionStore() AuthorizationSessionStore
	ProcessingRecordStore() ProcessingRecordStore
	ThreadLinkStore() ThreadLinkStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type OAuthClient interface {
	AuthCodeURL(state string, codeVerifier string) string
	Exchange(ctx context.Context, code string, codeVerifier string) (TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
	Revoke(ctx context.Context, token string, tokenTypeHint string) error
}

// MailboxBackend talks to one remote mailbox API with an already valid token.
// Non-2xx responses are reported as *UpstreamError.
type MailboxBackend interface {
	Name() string
	ListMessages(ctx context.Context, accessToken string, limit int) ([]Message, error)
	SendMessage(ctx context.Context, accessToken string, msg OutgoingMessage) error
	GetUserProfile(ctx context.Context, accessToken string) (UserProfile, error)
}

type TicketService interface {
	CreateTicket(ctx context.Context, in NewTicket) (Ticket, error)
	AddComment(ctx context.Context, in NewComment) (Comment, error)
}

// TicketFinder is optionally implemented by a TicketService to resolve
// [Ticket #N] subject tags.
type TicketFinder interface {
	FindTicketByNumber(ctx context.Context, tenantID string, number int64) (Ticket, bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

type RateLimiter interface {
	CheckLimit(key string, cfg RateLimitConfig) bool
}

// Throttler is optionally implemented by a RateLimiter to honor upstream
// Retry-After hints.
type Throttler interface {
	Throttle(key string, retryAfter time.Duration)
}

// MailSender delivers a fully addressed message over a direct transport.
type MailSender interface {
	Send(ctx context.Context, msg OutgoingMessage) (string, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// CommandMessage is any command or query payload routed by type name.
type CommandMessage interface {
	Type() string
}
