package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// AccessTokenSource is the token manager surface the mailbox client needs.
type AccessTokenSource interface {
	GetAccessToken(ctx context.Context, connectionID string) (string, error)
	RefreshToken(ctx context.Context, connectionID string) (bool, error)
}

// refreshReportingSource is satisfied by *Service; it lets the client spend
// its single refresh up front when the stored token is inside the buffer.
type refreshReportingSource interface {
	accessToken(ctx context.Context, connectionID string) (string, bool, error)
}

// MailboxClient calls a MailboxBackend with a managed access token. A call
// refreshes at most once: either up front for a token inside the refresh
// buffer or after a 401, followed by one retry.
type MailboxClient struct {
	tokens      AccessTokenSource
	connections ConnectionStore
	backend     MailboxBackend
	timeout     time.Duration
	obs         instrumentation
}

type MailboxOption func(*MailboxClient)

func WithMailboxLogger(logger Logger) MailboxOption {
	return func(c *MailboxClient) {
		c.obs.logger = logger
	}
}

func WithMailboxMetrics(recorder MetricsRecorder) MailboxOption {
	return func(c *MailboxClient) {
		c.obs.metrics = recorder
	}
}

func WithMailboxTimeout(timeout time.Duration) MailboxOption {
	return func(c *MailboxClient) {
		c.timeout = timeout
	}
}

func NewMailboxClient(tokens AccessTokenSource, connections ConnectionStore, backend MailboxBackend, opts ...MailboxOption) *MailboxClient {
	client := &MailboxClient{
		tokens:      tokens,
		connections: connections,
		backend:     backend,
		obs:         instrumentation{metrics: NopMetricsRecorder{}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

func (c *MailboxClient) BackendName() string {
	if c == nil || c.backend == nil {
		return ""
	}
	return c.backend.Name()
}

// ListMessages returns up to limit messages, most recent first.
func (c *MailboxClient) ListMessages(ctx context.Context, connectionID string, limit int) (messages []Message, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
		"backend":       c.BackendName(),
		"limit":         limit,
	}
	defer func() {
		fields["count"] = len(messages)
		c.obs.observe(ctx, startedAt, "list_messages", err, fields)
	}()

	err = c.withToken(ctx, connectionID, func(ctx context.Context, token string) error {
		listed, callErr := c.backend.ListMessages(ctx, token, limit)
		if callErr != nil {
			return callErr
		}
		messages = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// SendMessage reports false without an error when the backend rejects the
// message. Token and connection problems are returned as errors.
func (c *MailboxClient) SendMessage(ctx context.Context, connectionID string, msg OutgoingMessage) (bool, error) {
	err := c.send(ctx, connectionID, msg)
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// send keeps backend rejections as *UpstreamError so callers that retry can
// classify them.
func (c *MailboxClient) send(ctx context.Context, connectionID string, msg OutgoingMessage) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
		"backend":       c.BackendName(),
		"recipients":    len(msg.To),
	}
	defer func() {
		fields["sent"] = err == nil
		c.obs.observe(ctx, startedAt, "send_message", err, fields)
	}()

	if len(msg.To) == 0 {
		return errors.New("core: at least one recipient is required")
	}
	msg = withReplyHeaders(msg)

	err = c.withToken(ctx, connectionID, func(ctx context.Context, token string) error {
		return c.backend.SendMessage(ctx, token, msg)
	})
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		fields["status_code"] = upstream.StatusCode
		fields["upstream_body"] = upstream.Body
		emitLog(ctx, c.obs.logger, "warn", "mailbox rejected outgoing message", fields)
	}
	return err
}

// TestConnection calls the profile endpoint; any failure yields false.
func (c *MailboxClient) TestConnection(ctx context.Context, connectionID string) bool {
	if _, err := c.GetUserProfile(ctx, connectionID); err != nil {
		return false
	}
	return true
}

func (c *MailboxClient) GetUserProfile(ctx context.Context, connectionID string) (profile UserProfile, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
		"backend":       c.BackendName(),
	}
	defer func() {
		c.obs.observe(ctx, startedAt, "get_user_profile", err, fields)
	}()

	err = c.withToken(ctx, connectionID, func(ctx context.Context, token string) error {
		fetched, callErr := c.backend.GetUserProfile(ctx, token)
		if callErr != nil {
			return callErr
		}
		profile = fetched
		return nil
	})
	return profile, err
}

func (c *MailboxClient) withToken(ctx context.Context, connectionID string, call func(context.Context, string) error) error {
	if c == nil || c.backend == nil || c.tokens == nil {
		return NewConfigurationError("mailbox client is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return NewConnectionInvalidError(connectionID, "connection id is required")
	}
	if c.connections != nil {
		connection, err := c.connections.Get(ctx, connectionID)
		if err != nil {
			if errors.Is(err, ErrConnectionNotFound) {
				return NewConnectionInvalidError(connectionID, "not found")
			}
			return NewPersistenceError("load connection", err)
		}
		if connection.Deleted() {
			return NewConnectionInvalidError(connectionID, "connection was revoked")
		}
	}

	token, alreadyRefreshed, err := c.currentToken(ctx, connectionID)
	if err != nil {
		if HasTextCode(err, ErrorNoCredential) {
			return NewConnectionInvalidError(connectionID, "no stored credential")
		}
		return err
	}

	err = c.invoke(ctx, token, call)
	if !isUnauthorized(err) || alreadyRefreshed {
		return err
	}

	refreshed, refreshErr := c.tokens.RefreshToken(ctx, connectionID)
	if refreshErr != nil {
		return refreshErr
	}
	if !refreshed {
		return NewTokenRefreshFailedError(connectionID, "mailbox rejected the access token")
	}
	token, err = c.tokens.GetAccessToken(ctx, connectionID)
	if err != nil {
		return err
	}
	return c.invoke(ctx, token, call)
}

func (c *MailboxClient) currentToken(ctx context.Context, connectionID string) (string, bool, error) {
	if source, ok := c.tokens.(refreshReportingSource); ok {
		return source.accessToken(ctx, connectionID)
	}
	token, err := c.tokens.GetAccessToken(ctx, connectionID)
	return token, false, err
}

func (c *MailboxClient) invoke(ctx context.Context, token string, call func(context.Context, string) error) error {
	if c.timeout <= 0 {
		return call(ctx, token)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return call(callCtx, token)
}

func isUnauthorized(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == http.StatusUnauthorized
}

func withReplyHeaders(msg OutgoingMessage) OutgoingMessage {
	inReplyTo := strings.TrimSpace(msg.InReplyTo)
	if inReplyTo == "" {
		return msg
	}
	if len(msg.References) == 0 {
		msg.References = []string{inReplyTo}
	}
	return msg
}
