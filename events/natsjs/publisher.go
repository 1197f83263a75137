// Package natsjs publishes ticket events to NATS JetStream.
package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-ticketmail/core"
)

const (
	DefaultStream        = "TICKETMAIL_EVENTS"
	DefaultSubjectPrefix = "ticketmail"
)

type publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type streamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

type Option func(*Publisher)

func WithStream(name string) Option {
	return func(p *Publisher) {
		if name = strings.TrimSpace(name); name != "" {
			p.stream = name
		}
	}
}

func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix = strings.Trim(strings.TrimSpace(prefix), "."); prefix != "" {
			p.prefix = prefix
		}
	}
}

// Publisher implements core.EventPublisher. Each event is published with a
// Nats-Msg-Id so JetStream drops duplicates inside the stream window.
type Publisher struct {
	nc      *nats.Conn
	js      publisher
	streams streamManager
	stream  string
	prefix  string
}

// Connect dials url and opens a JetStream context.
func Connect(url string, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natsjs: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsjs: jetstream context: %w", err)
	}
	p := newPublisher(js, js, opts...)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing JetStream context.
func NewPublisher(js nats.JetStreamContext, opts ...Option) *Publisher {
	return newPublisher(js, js, opts...)
}

func newPublisher(js publisher, streams streamManager, opts ...Option) *Publisher {
	p := &Publisher{
		js:      js,
		streams: streams,
		stream:  DefaultStream,
		prefix:  DefaultSubjectPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// EnsureStream creates the event stream when it does not exist yet.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if p == nil || p.streams == nil {
		return fmt.Errorf("natsjs: publisher is not configured")
	}
	info, err := p.streams.StreamInfo(p.stream, nats.Context(ctx))
	if err == nil && info != nil {
		return nil
	}
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("natsjs: stream info: %w", err)
	}
	_, err = p.streams.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.prefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("natsjs: add stream: %w", err)
	}
	return nil
}

func (p *Publisher) Publish(ctx context.Context, event core.Event) error {
	if p == nil || p.js == nil {
		return fmt.Errorf("natsjs: publisher is not configured")
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return fmt.Errorf("natsjs: event type is required")
	}
	payload, err := json.Marshal(envelopeFor(event))
	if err != nil {
		return fmt.Errorf("natsjs: encode event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(eventType))
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Ticketmail-Event-Type", eventType)

	if _, err := p.js.PublishMsg(msg, nats.MsgId(dedupeID(event)), nats.Context(ctx)); err != nil {
		return fmt.Errorf("natsjs: publish %s: %w", eventType, err)
	}
	return nil
}

// Subject maps an event type such as "ticket.created" under the prefix.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + strings.Trim(strings.TrimSpace(eventType), ".")
}

func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

type envelope struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ConnectionID string         `json:"connection_id,omitempty"`
	TicketID     string         `json:"ticket_id,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

func envelopeFor(event core.Event) envelope {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return envelope{
		ID:           dedupeID(event),
		Type:         event.Type,
		ConnectionID: event.ConnectionID,
		TicketID:     event.TicketID,
		MessageID:    event.MessageID,
		OccurredAt:   occurredAt.UTC(),
		Payload:      core.RedactSensitiveMap(event.Payload),
	}
}

// dedupeID is the event id, or a key derived from the event identity so a
// replayed ingestion publishes the same id.
func dedupeID(event core.Event) string {
	if id := strings.TrimSpace(event.ID); id != "" {
		return id
	}
	return strings.Join([]string{event.Type, event.ConnectionID, event.TicketID, event.MessageID}, ":")
}

var _ core.EventPublisher = (*Publisher)(nil)
