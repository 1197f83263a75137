package transport

import (
	"context"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-ticketmail/core"
)

const (
	KindSMTP = core.OutboundProviderSMTP
	KindNoop = "noop"
)

// DiscardSender accepts every message without delivering it. It keeps the
// last messages it saw so dry runs can be inspected.
type DiscardSender struct {
	mu   sync.Mutex
	sent []core.OutgoingMessage
}

func NewDiscardSender() *DiscardSender {
	return &DiscardSender{}
}

func (s *DiscardSender) Kind() string { return KindNoop }

func (s *DiscardSender) Send(_ context.Context, msg core.OutgoingMessage) (string, error) {
	if s == nil {
		return "", transportError("transport: sender is nil", goerrors.CategoryInternal, 500, nil)
	}
	if len(msg.To) == 0 {
		return "", transportError("transport: at least one recipient is required", goerrors.CategoryBadInput, 400, nil)
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	if len(s.sent) > 100 {
		s.sent = s.sent[len(s.sent)-100:]
	}
	s.mu.Unlock()
	return strings.TrimSpace(msg.MessageID), nil
}

func (s *DiscardSender) Sent() []core.OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.OutgoingMessage(nil), s.sent...)
}

var _ Sender = (*DiscardSender)(nil)
