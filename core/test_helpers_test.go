package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	encoded := base64.StdEncoding.EncodeToString(plaintext)
	return []byte("enc:" + encoded), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if value == "" || !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("test secret provider: decode ciphertext: %w", err)
	}
	return decoded, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeOAuthClient struct {
	mu            sync.Mutex
	exchangeToken TokenResponse
	exchangeErr   error
	refreshToken  TokenResponse
	refreshErr    error
	revokeErr     error
	exchanges     []string
	refreshes     []string
	revocations   []string
}

func (f *fakeOAuthClient) AuthCodeURL(state string, verifier string) string {
	return "https://login.example/authorize?state=" + state + "&code_challenge=" + CodeChallenge(verifier) + "&code_challenge_method=S256"
}

func (f *fakeOAuthClient) Exchange(_ context.Context, code string, verifier string) (TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, code+"|"+verifier)
	if f.exchangeErr != nil {
		return TokenResponse{}, f.exchangeErr
	}
	return f.exchangeToken, nil
}

func (f *fakeOAuthClient) Refresh(_ context.Context, refreshToken string) (TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, refreshToken)
	if f.refreshErr != nil {
		return TokenResponse{}, f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeOAuthClient) Revoke(_ context.Context, token string, hint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revocations = append(f.revocations, hint+":"+token)
	return f.revokeErr
}

func (f *fakeOAuthClient) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshes)
}

type fakeMailboxBackend struct {
	mu          sync.Mutex
	messages    []Message
	listErr     error
	sendErr     error
	sendErrs    []error
	sendCalls   int
	profileErr  error
	rejectToken string
	tokens      []string
	sent        []OutgoingMessage
}

func (f *fakeMailboxBackend) Name() string { return "fake" }

func (f *fakeMailboxBackend) authorize(token string) error {
	f.tokens = append(f.tokens, token)
	if f.rejectToken != "" && token == f.rejectToken {
		return &UpstreamError{Operation: "fake", StatusCode: http.StatusUnauthorized, Body: "InvalidAuthenticationToken"}
	}
	return nil
}

func (f *fakeMailboxBackend) ListMessages(_ context.Context, token string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]Message(nil), f.messages...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMailboxBackend) SendMessage(_ context.Context, token string, msg OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return err
	}
	f.sendCalls++
	if len(f.sendErrs) > 0 {
		next := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return next
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailboxBackend) GetUserProfile(_ context.Context, token string) (UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return UserProfile{}, err
	}
	if f.profileErr != nil {
		return UserProfile{}, f.profileErr
	}
	return UserProfile{ID: "usr_remote", DisplayName: "Support", Email: "support@example.com"}, nil
}

func (f *fakeMailboxBackend) usedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeTicketService struct {
	mu          sync.Mutex
	next        int64
	tickets     []NewTicket
	ids         []string
	comments    []NewComment
	failCreate  map[string]error
	failAdd     map[string]error
	byNumber    map[int64]Ticket
	afterCreate func()
}

func newFakeTicketService() *fakeTicketService {
	return &fakeTicketService{
		failCreate: map[string]error{},
		failAdd:    map[string]error{},
		byNumber:   map[int64]Ticket{},
	}
}

func (f *fakeTicketService) CreateTicket(_ context.Context, in NewTicket) (Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[in.SourceRef]; err != nil {
		return Ticket{}, err
	}
	f.next++
	ticket := Ticket{ID: fmt.Sprintf("tkt_%d", f.next), Number: 1000 + f.next}
	f.tickets = append(f.tickets, in)
	f.ids = append(f.ids, ticket.ID)
	f.byNumber[ticket.Number] = ticket
	if f.afterCreate != nil {
		f.afterCreate()
	}
	return ticket, nil
}

func (f *fakeTicketService) AddComment(_ context.Context, in NewComment) (Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failAdd[in.SourceRef]; err != nil {
		return Comment{}, err
	}
	f.comments = append(f.comments, in)
	return Comment{ID: fmt.Sprintf("cmt_%d", len(f.comments)), TicketID: in.TicketID}, nil
}

func (f *fakeTicketService) FindTicketByNumber(_ context.Context, _ string, number int64) (Ticket, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.byNumber[number]
	return ticket, ok, nil
}

func (f *fakeTicketService) snapshot() ([]NewTicket, []NewComment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]NewTicket(nil), f.tickets...), append([]NewComment(nil), f.comments...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type testFixture struct {
	svc         *Service
	clock       *testClock
	connections *MemoryConnectionStore
	tokens      *MemoryTokenSetStore
	sessions    *MemoryAuthorizationSessionStore
	records     *MemoryProcessingRecordStore
	links       *MemoryThreadLinkStore
	oauth       *fakeOAuthClient
	mailbox     *fakeMailboxBackend
	tickets     *fakeTicketService
	events      *recordingPublisher
	connection  Connection
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OAuth.ClientID = "client_1"
	cfg.OAuth.RedirectURI = "https://app.example/oauth/callback"
	cfg.Outbound.FromAddress = "support@example.com"
	cfg.Outbound.FromName = "Support"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

// newTestFixture builds a service over memory stores with one active
// connection holding a token valid for an hour.
func newTestFixture(t *testing.T, opts ...Option) *testFixture {
	t.Helper()
	f := &testFixture{
		clock:       newTestClock(),
		connections: NewMemoryConnectionStore(),
		tokens:      NewMemoryTokenSetStore(),
		sessions:    NewMemoryAuthorizationSessionStore(),
		records:     NewMemoryProcessingRecordStore(),
		links:       NewMemoryThreadLinkStore(),
		oauth:       &fakeOAuthClient{},
		mailbox:     &fakeMailboxBackend{},
		tickets:     newFakeTicketService(),
		events:      &recordingPublisher{},
	}
	f.connection = Connection{
		ID:       "conn_1",
		UserID:   "usr_1",
		TenantID: "ten_1",
		ClientID: "client_1",
		Active:   true,
	}
	f.connections.Put(f.connection)
	if _, err := f.tokens.Append(context.Background(), SaveTokenSetInput{
		ConnectionID: f.connection.ID,
		AccessToken:  "access-initial",
		RefreshToken: "refresh-initial",
		TokenType:    "Bearer",
		Scope:        "Mail.Read offline_access",
		ExpiresAt:    f.clock.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed token set: %v", err)
	}

	base := []Option{
		WithLogger(stubLogger{}),
		WithConnectionStore(f.connections),
		WithTokenSetStore(f.tokens),
		WithAuthorizationSessionStore(f.sessions),
		WithProcessingRecordStore(f.records),
		WithThreadLinkStore(f.links),
		WithOAuthClient(f.oauth),
		WithMailboxBackend(f.mailbox),
		WithTicketService(f.tickets),
		WithEventPublisher(f.events),
		WithClock(f.clock.Now),
	}
	svc, err := NewService(testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *testFixture) recordStatus(t *testing.T, messageID string) ProcessingStatus {
	t.Helper()
	record, found, err := f.records.Get(context.Background(), f.connection.ID, messageID)
	if err != nil {
		t.Fatalf("get record %s: %v", messageID, err)
	}
	if !found {
		return ""
	}
	return record.Status
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
