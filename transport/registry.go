package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ticketmail/core"
)

// Sender is a core.MailSender tagged with the transport kind it implements.
type Sender interface {
	core.MailSender
	Kind() string
}

type SenderFactory func(cfg core.OutboundConfig) (Sender, error)

type Registry struct {
	mu        sync.RWMutex
	senders   map[string]Sender
	factories map[string]SenderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		senders:   map[string]Sender{},
		factories: map[string]SenderFactory{},
	}
}

// NewDefaultRegistry knows how to build smtp and noop senders.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.RegisterFactory(KindSMTP, func(cfg core.OutboundConfig) (Sender, error) {
		return NewSMTPSender(cfg)
	})
	_ = registry.RegisterFactory(KindNoop, func(core.OutboundConfig) (Sender, error) {
		return NewDiscardSender(), nil
	})
	return registry
}

func (r *Registry) Register(sender Sender) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if sender == nil {
		return fmt.Errorf("transport: sender is nil")
	}
	kind := normalizeKind(sender.Kind())
	if kind == "" {
		return fmt.Errorf("transport: sender kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[kind]; exists {
		return fmt.Errorf("transport: sender kind %q already registered", kind)
	}
	r.senders[kind] = sender
	return nil
}

func (r *Registry) RegisterFactory(kind string, factory SenderFactory) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("transport: sender kind is required")
	}
	if factory == nil {
		return fmt.Errorf("transport: sender factory is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("transport: sender factory kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Build returns the registered sender for kind, or builds one from its factory.
func (r *Registry) Build(kind string, cfg core.OutboundConfig) (Sender, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return nil, fmt.Errorf("transport: sender kind is required")
	}

	r.mu.RLock()
	sender, ok := r.senders[kind]
	factory := r.factories[kind]
	r.mu.RUnlock()
	if ok {
		return sender, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("transport: sender kind %q not registered", kind)
	}
	built, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("transport: factory for %q returned nil sender", kind)
	}
	return built, nil
}

func (r *Registry) Get(kind string) (Sender, bool) {
	if r == nil {
		return nil, false
	}
	kind = normalizeKind(kind)
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[kind]
	return sender, ok
}

// Kinds lists every registered sender and factory kind in sorted order.
func (r *Registry) Kinds() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for kind := range r.senders {
		seen[kind] = struct{}{}
	}
	for kind := range r.factories {
		seen[kind] = struct{}{}
	}
	kinds := make([]string, 0, len(seen))
	for kind := range seen {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
