// Package gmail implements core.MailboxBackend over the Gmail v1 API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/mimemsg"
)

const (
	BackendName  = core.MailboxBackendGmail
	userID       = "me"
	inboxLabel   = "INBOX"
	maxListLimit = 500
)

type Option func(*Backend)

// WithEndpoint overrides the API root, mostly for tests.
func WithEndpoint(endpoint string) Option {
	return func(b *Backend) {
		b.endpoint = strings.TrimSpace(endpoint)
	}
}

// WithHTTPClient sets the base client wrapped with the bearer token.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

type Backend struct {
	endpoint   string
	httpClient *http.Client
	now        func() time.Time
}

func New(opts ...Option) *Backend {
	backend := &Backend{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	return backend
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) ListMessages(ctx context.Context, accessToken string, limit int) ([]core.Message, error) {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	listed, err := svc.Users.Messages.List(userID).
		LabelIds(inboxLabel).
		MaxResults(int64(clampLimit(limit))).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("list_messages", err, b.now())
	}

	messages := make([]core.Message, 0, len(listed.Messages))
	for _, ref := range listed.Messages {
		if ref == nil || ref.Id == "" {
			continue
		}
		full, err := svc.Users.Messages.Get(userID, ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			if isGone(err) {
				// deleted between list and get
				continue
			}
			return nil, mapError("get_message", err, b.now())
		}
		msg, err := normalizeMessage(full)
		if err != nil {
			messages = append(messages, unreadableMessage(full, err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (b *Backend) SendMessage(ctx context.Context, accessToken string, msg core.OutgoingMessage) error {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return err
	}
	raw, err := mimemsg.Compose(msg, b.now().UTC())
	if err != nil {
		return err
	}
	if _, err := svc.Users.Messages.Send(userID, &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do(); err != nil {
		return mapError("send_message", err, b.now())
	}
	return nil
}

func (b *Backend) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	svc, err := b.service(ctx, accessToken)
	if err != nil {
		return core.UserProfile{}, err
	}
	profile, err := svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return core.UserProfile{}, mapError("get_user_profile", err, b.now())
	}
	return core.UserProfile{
		ID:    profile.EmailAddress,
		Email: profile.EmailAddress,
	}, nil
}

func (b *Backend) service(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("gmail: access token is required")
	}
	if b.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	client := (&oauth2.Config{}).Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if b.endpoint != "" {
		opts = append(opts, option.WithEndpoint(b.endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return svc, nil
}

func normalizeMessage(full *gmailapi.Message) (core.Message, error) {
	raw, err := decodeRaw(full.Raw)
	if err != nil {
		return core.Message{}, fmt.Errorf("gmail: decode message %s: %w", full.Id, err)
	}
	parsed, err := mimemsg.Parse(raw)
	if err != nil {
		return core.Message{}, fmt.Errorf("gmail: parse message %s: %w", full.Id, err)
	}
	msg := core.Message{
		ID:                full.Id,
		ConversationID:    full.ThreadId,
		InternetMessageID: parsed.InternetMessageID,
		Subject:           parsed.Subject,
		From:              parsed.From,
		To:                parsed.To,
		BodyHTML:          parsed.HTML,
		BodyText:          parsed.Text,
		ReceivedAt:        parsed.Date,
		InReplyTo:         parsed.InReplyTo,
		References:        parsed.References,
		Headers:           parsed.Headers,
	}
	if full.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(full.InternalDate).UTC()
	}
	return msg, nil
}

// unreadableMessage keeps enough identity for the engine to record the failure.
func unreadableMessage(full *gmailapi.Message, cause error) core.Message {
	msg := core.Message{
		ID:             full.Id,
		ConversationID: full.ThreadId,
		ReadError:      cause.Error(),
	}
	if full.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(full.InternalDate).UTC()
	}
	return msg
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
}

func decodeRaw(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("raw payload is empty")
	}
	if decoded, err := base64.URLEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
}

func mapError(operation string, err error, now time.Time) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gmail: %s: %w", operation, err)
	}
	body := strings.TrimSpace(apiErr.Body)
	if body == "" {
		body = apiErr.Message
	}
	upstream := &core.UpstreamError{
		Operation:  operation,
		StatusCode: apiErr.Code,
		Body:       body,
	}
	if apiErr.Header != nil {
		upstream.RetryAfter = parseRetryAfter(apiErr.Header.Get("Retry-After"), now)
	}
	return upstream
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

var _ core.MailboxBackend = (*Backend)(nil)
