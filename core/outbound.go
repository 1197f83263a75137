package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const autoResponseSuppress = "OOF, DR, RN, NRN, AutoReply"

// OutboundProvider is the closed set of delivery routes: MailboxAPIProvider
// or DirectSMTPProvider.
type OutboundProvider interface {
	Name() string
	outboundProvider()
}

// MailboxAPIProvider sends through the mailbox API of one connection.
type MailboxAPIProvider struct {
	ConnectionID string
	Client       *MailboxClient
}

func (MailboxAPIProvider) Name() string { return OutboundProviderExchange }

func (MailboxAPIProvider) outboundProvider() {}

// DirectSMTPProvider sends through a direct SMTP transport.
type DirectSMTPProvider struct {
	Sender MailSender
}

func (DirectSMTPProvider) Name() string { return OutboundProviderSMTP }

func (DirectSMTPProvider) outboundProvider() {}

type DispatcherDependencies struct {
	Mailbox     *MailboxClient
	Connections ConnectionStore
	SMTP        MailSender
}

type Dispatcher struct {
	config   Config
	provider OutboundProvider
	events   EventPublisher
	retry    RetryPolicy
	obs      instrumentation
	newID    func() string
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.obs.logger = logger
	}
}

func WithDispatcherMetrics(recorder MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.obs.metrics = recorder
	}
}

func WithDispatcherEvents(publisher EventPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.events = publisher
	}
}

func WithDispatcherRetry(policy RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = policy
	}
}

// NewDispatcher resolves the configured provider once. Selecting exchange
// without an active connection is a configuration error.
func NewDispatcher(ctx context.Context, cfg Config, deps DispatcherDependencies, opts ...DispatcherOption) (*Dispatcher, error) {
	dispatcher := &Dispatcher{
		config: cfg,
		events: NopEventPublisher{},
		retry:  RetryPolicyFromConfig(cfg.Retry),
		obs:    instrumentation{metrics: NopMetricsRecorder{}},
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	provider, err := resolveOutboundProvider(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	dispatcher.provider = provider
	return dispatcher, nil
}

func resolveOutboundProvider(ctx context.Context, cfg Config, deps DispatcherDependencies) (OutboundProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Outbound.Provider)) {
	case OutboundProviderExchange:
		connectionID := strings.TrimSpace(cfg.Outbound.ConnectionID)
		if connectionID == "" {
			return nil, NewConfigurationError("outbound exchange provider requires connection_id")
		}
		if deps.Mailbox == nil || deps.Connections == nil {
			return nil, NewConfigurationError("outbound exchange provider requires a mailbox client")
		}
		connection, err := deps.Connections.Get(ctx, connectionID)
		if err != nil {
			if errors.Is(err, ErrConnectionNotFound) {
				return nil, NewConfigurationError("outbound exchange provider has no active connection")
			}
			return nil, NewPersistenceError("load outbound connection", err)
		}
		if !connection.Active || connection.Deleted() {
			return nil, NewConfigurationError("outbound exchange provider has no active connection")
		}
		return MailboxAPIProvider{ConnectionID: connection.ID, Client: deps.Mailbox}, nil
	case OutboundProviderSMTP, "":
		if deps.SMTP == nil {
			return nil, NewConfigurationError("outbound smtp provider requires a transport")
		}
		if strings.TrimSpace(cfg.Outbound.FromAddress) == "" {
			return nil, NewConfigurationError("outbound smtp provider requires from_address")
		}
		return DirectSMTPProvider{Sender: deps.SMTP}, nil
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown outbound provider %q", cfg.Outbound.Provider))
	}
}

func (d *Dispatcher) Provider() OutboundProvider {
	if d == nil {
		return nil
	}
	return d.provider
}

type sendOptions struct {
	provider OutboundProvider
}

type SendOption func(*sendOptions)

// WithProvider overrides the resolved provider for one call.
func WithProvider(provider OutboundProvider) SendOption {
	return func(o *sendOptions) {
		o.provider = provider
	}
}

// SendTicketEvent delivers ticket correspondence. Failures are reported in the
// result and never returned as errors.
func (d *Dispatcher) SendTicketEvent(
	ctx context.Context,
	recipients []string,
	subject string,
	htmlBody string,
	event TicketEventContext,
	opts ...SendOption,
) (result DeliveryResult) {
	startedAt := time.Now().UTC()
	options := sendOptions{}
	if d != nil {
		options.provider = d.provider
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	result.Recipients = append([]string(nil), recipients...)
	if options.provider != nil {
		result.Provider = options.provider.Name()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Success = false
			result.Error = fmt.Errorf("core: outbound provider panic: %v", recovered)
		}
		d.finish(ctx, startedAt, event, result)
	}()

	if d == nil {
		result.Error = NewConfigurationError("dispatcher is not configured")
		return result
	}
	if options.provider == nil {
		result.Error = NewConfigurationError("no outbound provider resolved")
		return result
	}
	if len(recipients) == 0 {
		result.Error = errors.New("core: at least one recipient is required")
		return result
	}
	if strings.TrimSpace(event.TicketNumber) == "" {
		result.Error = errors.New("core: ticket number is required")
		return result
	}

	msg := d.BuildMessage(recipients, subject, htmlBody, event)
	result.MessageID = msg.MessageID

	result.Error = Retry(ctx, d.retry, func(ctx context.Context) error {
		return d.deliver(ctx, options.provider, msg)
	})
	result.Success = result.Error == nil
	return result
}

// BuildMessage renders the subject, reply headers and tracking headers.
func (d *Dispatcher) BuildMessage(recipients []string, subject string, htmlBody string, event TicketEventContext) OutgoingMessage {
	msg := OutgoingMessage{
		MessageID: d.messageID(),
		From: EmailAddress{
			Address: d.config.Outbound.FromAddress,
			Name:    d.config.Outbound.FromName,
		},
		To:       append([]string(nil), recipients...),
		Subject:  TicketSubject(event.TicketNumber, subject),
		HTMLBody: htmlBody,
		Headers:  TrackingHeaders(d.config, event),
	}
	if original := strings.TrimSpace(event.OriginalMessageID); original != "" {
		msg.InReplyTo = original
		msg.References = []string{original}
	}
	return msg
}

// TicketSubject prefixes subject with "[Ticket #<number>] " unless it already carries it.
func TicketSubject(number string, subject string) string {
	tag := "[Ticket #" + strings.TrimSpace(number) + "]"
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(subject, tag) {
		return subject
	}
	return tag + " " + subject
}

// TrackingHeaders returns the custom headers attached to every outbound message.
func TrackingHeaders(cfg Config, event TicketEventContext) map[string]string {
	headers := map[string]string{
		cfg.HeaderName("Ticket-ID"):     event.TicketID,
		cfg.HeaderName("Ticket-Number"): event.TicketNumber,
		cfg.HeaderName("System"):        cfg.SystemName,
		cfg.HeaderName("Message-Type"):  string(event.MessageType()),
		"X-Auto-Response-Suppress":      autoResponseSuppress,
	}
	if threadID := strings.TrimSpace(event.ThreadID); threadID != "" {
		headers[cfg.HeaderName("Thread-ID")] = threadID
	}
	if original := strings.TrimSpace(event.OriginalMessageID); original != "" {
		headers[cfg.HeaderName("Original-Message-ID")] = original
	}
	return headers
}

func (d *Dispatcher) deliver(ctx context.Context, provider OutboundProvider, msg OutgoingMessage) error {
	switch p := provider.(type) {
	case MailboxAPIProvider:
		if p.Client == nil {
			return NewConfigurationError("mailbox provider has no client")
		}
		return p.Client.send(ctx, p.ConnectionID, msg)
	case DirectSMTPProvider:
		if p.Sender == nil {
			return NewConfigurationError("smtp provider has no transport")
		}
		_, err := p.Sender.Send(ctx, msg)
		return err
	default:
		return NewConfigurationError(fmt.Sprintf("unsupported outbound provider %T", provider))
	}
}

func (d *Dispatcher) finish(ctx context.Context, startedAt time.Time, event TicketEventContext, result DeliveryResult) {
	if d == nil {
		return
	}
	fields := map[string]any{
		"ticket_id":     event.TicketID,
		"ticket_number": event.TicketNumber,
		"message_id":    result.MessageID,
		"recipient":     strings.Join(result.Recipients, ", "),
		"provider":      result.Provider,
		"message_type":  string(event.MessageType()),
	}
	d.obs.observe(ctx, startedAt, "send_ticket_event", result.Error, fields)

	eventType := EventOutboundDelivered
	payload := map[string]any{
		"provider":   result.Provider,
		"recipients": result.Recipients,
	}
	if result.Error != nil {
		eventType = EventOutboundFailed
		payload["error"] = result.Error.Error()
	}
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, Event{
		Type:       eventType,
		TicketID:   event.TicketID,
		MessageID:  result.MessageID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}); err != nil {
		emitLog(ctx, d.obs.logger, "warn", "event publish failed", map[string]any{
			"event_type": eventType,
			"ticket_id":  event.TicketID,
			"error":      err.Error(),
		})
	}
}

func (d *Dispatcher) messageID() string {
	domain := "ticketmail.local"
	if at := strings.LastIndex(d.config.Outbound.FromAddress, "@"); at >= 0 && at < len(d.config.Outbound.FromAddress)-1 {
		domain = d.config.Outbound.FromAddress[at+1:]
	}
	return "<" + d.newID() + "@" + domain + ">"
}
