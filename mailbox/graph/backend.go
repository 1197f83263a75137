// Package graph implements core.MailboxBackend over Microsoft Graph.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/mimemsg"
)

const (
	BackendName    = core.MailboxBackendGraph
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	maxListLimit   = 1000
)

var messageFields = []string{
	"id",
	"conversationId",
	"internetMessageId",
	"subject",
	"from",
	"toRecipients",
	"body",
	"receivedDateTime",
	"internetMessageHeaders",
}

type Option func(*Backend)

// WithBaseURL points the backend at another Graph root, e.g. a national cloud.
func WithBaseURL(baseURL string) Option {
	return func(b *Backend) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			b.baseURL = trimmed
		}
	}
}

// WithHTTPClient sets the base client used for sendMail requests.
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
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func New(opts ...Option) *Backend {
	backend := &Backend{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	return backend
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) ListMessages(ctx context.Context, accessToken string, limit int) ([]core.Message, error) {
	client, err := b.client(accessToken)
	if err != nil {
		return nil, err
	}
	top := int32(clampLimit(limit))
	result, err := client.Me().Messages().Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     &top,
			Select:  messageFields,
			Orderby: []string{"receivedDateTime desc"},
		},
	})
	if err != nil {
		return nil, mapError("list_messages", err)
	}
	if result == nil {
		return []core.Message{}, nil
	}
	values := result.GetValue()
	messages := make([]core.Message, 0, len(values))
	for _, value := range values {
		if value == nil {
			continue
		}
		messages = append(messages, normalizeMessage(value))
	}
	return messages, nil
}

// SendMessage posts the MIME rendering of msg to /me/sendMail. The JSON
// message resource only accepts X- prefixed custom headers, so reply headers
// travel in the MIME body instead.
func (b *Backend) SendMessage(ctx context.Context, accessToken string, msg core.OutgoingMessage) error {
	raw, err := mimemsg.Compose(msg, b.now().UTC())
	if err != nil {
		return err
	}
	body := base64.StdEncoding.EncodeToString(raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/me/sendMail", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("graph: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := b.authorizedClient(accessToken).Do(req)
	if err != nil {
		return fmt.Errorf("graph: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &core.UpstreamError{
		Operation:  "send_message",
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(payload)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), b.now()),
	}
}

func (b *Backend) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	client, err := b.client(accessToken)
	if err != nil {
		return core.UserProfile{}, err
	}
	user, err := client.Me().Get(ctx, nil)
	if err != nil {
		return core.UserProfile{}, mapError("get_user_profile", err)
	}
	if user == nil {
		return core.UserProfile{}, fmt.Errorf("graph: empty profile response")
	}
	profile := core.UserProfile{
		ID:          deref(user.GetId()),
		DisplayName: deref(user.GetDisplayName()),
		Email:       deref(user.GetMail()),
	}
	if profile.Email == "" {
		profile.Email = deref(user.GetUserPrincipalName())
	}
	return profile, nil
}

func (b *Backend) client(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("graph: access token is required")
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(&staticTokenCredential{token: accessToken}, []string{})
	if err != nil {
		return nil, fmt.Errorf("graph: create client: %w", err)
	}
	if b.baseURL != DefaultBaseURL {
		client.GetAdapter().SetBaseUrl(b.baseURL)
	}
	return client, nil
}

func (b *Backend) authorizedClient(accessToken string) *http.Client {
	base := b.httpClient.Transport
	return &http.Client{
		Timeout: b.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}
}

type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

func normalizeMessage(m models.Messageable) core.Message {
	msg := core.Message{
		ID:                deref(m.GetId()),
		ConversationID:    deref(m.GetConversationId()),
		InternetMessageID: mimemsg.Bracket(deref(m.GetInternetMessageId())),
		Subject:           deref(m.GetSubject()),
		Headers:           map[string]string{},
	}
	if from := m.GetFrom(); from != nil {
		msg.From = emailAddress(from.GetEmailAddress())
	}
	for _, recipient := range m.GetToRecipients() {
		if recipient == nil {
			continue
		}
		if address := emailAddress(recipient.GetEmailAddress()); address.Address != "" {
			msg.To = append(msg.To, address)
		}
	}
	if body := m.GetBody(); body != nil {
		content := deref(body.GetContent())
		if contentType := body.GetContentType(); contentType != nil && *contentType == models.TEXT_BODYTYPE {
			msg.BodyText = content
		} else {
			msg.BodyHTML = content
		}
	}
	if received := m.GetReceivedDateTime(); received != nil {
		msg.ReceivedAt = received.UTC()
	}
	for _, header := range m.GetInternetMessageHeaders() {
		if header == nil {
			continue
		}
		name := deref(header.GetName())
		if name == "" {
			continue
		}
		if _, exists := msg.Headers[name]; !exists {
			msg.Headers[name] = deref(header.GetValue())
		}
	}
	msg.InReplyTo = mimemsg.Bracket(msg.Header("In-Reply-To"))
	msg.References = mimemsg.SplitMessageIDs(msg.Header("References"))
	return msg
}

func emailAddress(address models.EmailAddressable) core.EmailAddress {
	if address == nil {
		return core.EmailAddress{}
	}
	return core.EmailAddress{
		Address: deref(address.GetAddress()),
		Name:    deref(address.GetName()),
	}
}

func mapError(operation string, err error) error {
	var odataErr *odataerrors.ODataError
	if !errors.As(err, &odataErr) {
		return fmt.Errorf("graph: %s: %w", operation, err)
	}
	body := odataErr.Error()
	if main := odataErr.GetErrorEscaped(); main != nil {
		body = strings.TrimSpace(deref(main.GetCode()) + ": " + deref(main.GetMessage()))
	}
	upstream := &core.UpstreamError{
		Operation:  operation,
		StatusCode: odataErr.ResponseStatusCode,
		Body:       body,
	}
	if odataErr.ResponseHeaders != nil {
		if values := odataErr.ResponseHeaders.Get("Retry-After"); len(values) > 0 {
			upstream.RetryAfter = parseRetryAfter(values[0], time.Now())
		}
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

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

var _ core.MailboxBackend = (*Backend)(nil)
