package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "ticketmail.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "ticketmail.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ConnectionID string
}

func (dispatchMessage) Type() string { return "ticketmail.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "ticketmail.command.queue" }

type countMessage struct{}

func (countMessage) Type() string { return "ticketmail.query.count" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	seen := []string{}
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(_ context.Context, msg dispatchMessage) error {
		seen = append(seen, msg.ConnectionID)
		return nil
	})

	subs := &Subscriptions{}
	sub, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	subs.Add(sub)
	defer subs.Close()

	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ConnectionID: "conn_1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(seen) != 1 || seen[0] != "conn_1" {
		t.Fatalf("expected one dispatched command for conn_1, got %v", seen)
	}
	if subs.Len() != 1 {
		t.Fatalf("expected one tracked subscription, got %d", subs.Len())
	}
}

func TestRegisterAndSubscribeQuery(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	qry := command.QueryFunc[countMessage, int](func(context.Context, countMessage) (int, error) {
		return 7, nil
	})
	sub, err := RegisterAndSubscribeQuery(adapter, qry)
	if err != nil {
		t.Fatalf("register query: %v", err)
	}
	defer sub.Unsubscribe()

	got, err := Query[countMessage, int](context.Background(), countMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestDispatchRejectsBrokenMessagesBeforeHandlers(t *testing.T) {
	calls := 0
	sub := SubscribeCommand(command.CommandFunc[failingMessage](func(context.Context, failingMessage) error {
		calls++
		return nil
	}))
	defer sub.Unsubscribe()

	if err := Dispatch(context.Background(), failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to stop dispatch")
	}
	if err := Dispatch(context.Background(), invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to stop dispatch")
	}
	if calls != 0 {
		t.Fatalf("expected no handler call, got %d", calls)
	}
	if _, err := Query[failingMessage, int](context.Background(), failingMessage{}); err == nil {
		t.Fatalf("expected query contract check")
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("ticketmail.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegistryAdapterNotConfigured(t *testing.T) {
	var adapter *RegistryAdapter
	if err := adapter.RegisterCommand(okMessage{}); err == nil {
		t.Fatalf("expected registry error")
	}
	if adapter.HasResolver("queue") {
		t.Fatalf("expected no resolver on nil adapter")
	}
	if _, err := RegisterAndSubscribe[dispatchMessage](NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil command error")
	}
}
