package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:mail_connections,alias:mc"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id,notnull"`
	TenantID  string         `bun:"tenant_id,notnull"`
	ClientID  string         `bun:"client_id,notnull"`
	Active    bool           `bun:"active,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt *time.Time     `bun:"deleted_at,soft_delete"`
}

// tokenSetRecord holds sealed token material; the plaintext never reaches the row.
type tokenSetRecord struct {
	bun.BaseModel `bun:"table:mail_token_sets,alias:mts"`

	ID              string    `bun:"id,pk"`
	ConnectionID    string    `bun:"connection_id,notnull"`
	Version         int       `bun:"version,notnull"`
	AccessToken     []byte    `bun:"access_token,notnull"`
	RefreshToken    []byte    `bun:"refresh_token"`
	TokenType       string    `bun:"token_type,notnull"`
	Scope           string    `bun:"scope,notnull"`
	ExpiresAt       time.Time `bun:"expires_at,notnull"`
	EncryptionKeyID string    `bun:"encryption_key_id,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type authSessionRecord struct {
	bun.BaseModel `bun:"table:mail_auth_sessions,alias:mas"`

	State        string    `bun:"state,pk"`
	CodeVerifier string    `bun:"code_verifier,notnull"`
	UserID       string    `bun:"user_id,notnull"`
	TenantID     string    `bun:"tenant_id,notnull"`
	ClientID     string    `bun:"client_id,notnull"`
	RedirectURI  string    `bun:"redirect_uri,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt    time.Time `bun:"expires_at,notnull"`
}

type processingRecordRow struct {
	bun.BaseModel `bun:"table:mail_processing_records,alias:mpr"`

	ID           string     `bun:"id,pk"`
	ConnectionID string     `bun:"connection_id,notnull"`
	MessageID    string     `bun:"message_id,notnull"`
	Subject      string     `bun:"subject,notnull"`
	Sender       string     `bun:"sender,notnull"`
	Status       string     `bun:"status,notnull"`
	TicketID     string     `bun:"ticket_id,notnull"`
	Error        string     `bun:"error,notnull"`
	ProcessedAt  *time.Time `bun:"processed_at,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type threadLinkRecord struct {
	bun.BaseModel `bun:"table:mail_thread_links,alias:mtl"`

	ID                string    `bun:"id,pk"`
	ConnectionID      string    `bun:"connection_id,notnull"`
	TicketID          string    `bun:"ticket_id,notnull"`
	MessageID         string    `bun:"message_id,notnull"`
	ConversationID    string    `bun:"conversation_id,notnull"`
	InternetMessageID string    `bun:"internet_message_id,notnull"`
	Root              bool      `bun:"root,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
