package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-ticketmail/core"
)

type fakeJetStream struct {
	mu          sync.Mutex
	msgs        []*nats.Msg
	optCounts   []int
	publishErr  error
	infoErr     error
	info        *nats.StreamInfo
	addErr      error
	addedConfig *nats.StreamConfig
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.msgs = append(f.msgs, m)
	f.optCounts = append(f.optCounts, len(opts))
	return &nats.PubAck{Stream: DefaultStream, Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeJetStream) StreamInfo(string, ...nats.JSOpt) (*nats.StreamInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedConfig = cfg
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestPublisher_PublishEncodesEnvelope(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(js, js, WithSubjectPrefix("helpdesk."))

	err := p.Publish(context.Background(), core.Event{
		Type:         core.EventTicketCreated,
		ConnectionID: "conn_1",
		TicketID:     "tkt_1",
		MessageID:    "m1",
		OccurredAt:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Payload:      map[string]any{"subject": "Printer", "access_token": "secret"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if len(js.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(js.msgs))
	}
	msg := js.msgs[0]
	if msg.Subject != "helpdesk.ticket.created" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get("Ticketmail-Event-Type") != core.EventTicketCreated {
		t.Fatalf("expected event type header, got %v", msg.Header)
	}
	if js.optCounts[0] != 2 {
		t.Fatalf("expected msg id and context options, got %d", js.optCounts[0])
	}

	var decoded envelope
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != "ticket.created:conn_1:tkt_1:m1" {
		t.Fatalf("expected derived dedupe id, got %q", decoded.ID)
	}
	if decoded.Payload["access_token"] != core.RedactedValue {
		t.Fatalf("expected sensitive payload redacted, got %v", decoded.Payload)
	}
	if decoded.Payload["subject"] != "Printer" {
		t.Fatalf("expected payload to be kept, got %v", decoded.Payload)
	}
}

func TestPublisher_PublishFailures(t *testing.T) {
	js := &fakeJetStream{publishErr: nats.ErrNoResponders}
	p := newPublisher(js, js)

	err := p.Publish(context.Background(), core.Event{Type: core.EventOutboundFailed, ID: "evt_1"})
	if !errors.Is(err, nats.ErrNoResponders) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
	if err := p.Publish(context.Background(), core.Event{}); err == nil {
		t.Fatalf("expected missing type error")
	}
	var nilPublisher *Publisher
	if err := nilPublisher.Publish(context.Background(), core.Event{Type: "x"}); err == nil {
		t.Fatalf("expected nil publisher error")
	}
}

func TestPublisher_EnsureStream(t *testing.T) {
	existing := &fakeJetStream{info: &nats.StreamInfo{}}
	if err := newPublisher(existing, existing).EnsureStream(context.Background()); err != nil {
		t.Fatalf("ensure existing stream: %v", err)
	}
	if existing.addedConfig != nil {
		t.Fatalf("expected no stream creation when it exists")
	}

	missing := &fakeJetStream{infoErr: nats.ErrStreamNotFound}
	if err := newPublisher(missing, missing, WithStream("EVENTS")).EnsureStream(context.Background()); err != nil {
		t.Fatalf("ensure missing stream: %v", err)
	}
	if missing.addedConfig == nil || missing.addedConfig.Name != "EVENTS" {
		t.Fatalf("expected stream to be created, got %+v", missing.addedConfig)
	}
	if len(missing.addedConfig.Subjects) != 1 || missing.addedConfig.Subjects[0] != "ticketmail.>" {
		t.Fatalf("unexpected subjects %v", missing.addedConfig.Subjects)
	}
	if missing.addedConfig.Duplicates != 10*time.Minute {
		t.Fatalf("expected duplicate window, got %s", missing.addedConfig.Duplicates)
	}

	raced := &fakeJetStream{infoErr: nats.ErrStreamNotFound, addErr: nats.ErrStreamNameAlreadyInUse}
	if err := newPublisher(raced, raced).EnsureStream(context.Background()); err != nil {
		t.Fatalf("expected name-in-use to be tolerated, got %v", err)
	}

	broken := &fakeJetStream{infoErr: errors.New("nats: timeout")}
	if err := newPublisher(broken, broken).EnsureStream(context.Background()); err == nil || !strings.Contains(err.Error(), "stream info") {
		t.Fatalf("expected stream info error, got %v", err)
	}
}
