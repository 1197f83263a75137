package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-ticketmail/core"
)

func TestIngestMessageMapsThroughGoJob(t *testing.T) {
	window := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	original := IngestMessage(" conn_1 ", 25, window)

	converted := ToExecutionMessage(original)
	if converted == nil || converted.JobID != JobIDIngest {
		t.Fatalf("expected converted ingest message, got %#v", converted)
	}
	if converted.DedupPolicy != job.DeduplicationPolicy("drop") {
		t.Fatalf("expected drop dedup policy, got %q", converted.DedupPolicy)
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.IdempotencyKey != "ticketmail.ingest:conn_1:1772442000" {
		t.Fatalf("unexpected idempotency key %q", roundTrip.IdempotencyKey)
	}
	if roundTrip.Parameters["connection_id"] != "conn_1" || roundTrip.Parameters["limit"] != 25 {
		t.Fatalf("expected parameters to survive mapping, got %#v", roundTrip.Parameters)
	}

	converted.Parameters["connection_id"] = "mutated"
	if original.Parameters["connection_id"] != "conn_1" {
		t.Fatalf("expected mapping to copy parameters")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, SweepMessage()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDSessionsSweep {
		t.Fatalf("expected mapped go-job message")
	}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, nil); err == nil {
		t.Fatalf("expected nil message error")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	delivery, err := NewDequeuerAdapter(dequeuer, RetryPolicy{}).Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := delivery.Message(); got == nil || got.JobID != JobIDSessionsSweep {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDIngest}}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second || rawDelivery.nackOpts.Disposition != queue.NackDispositionRetry {
		t.Fatalf("expected bounded requeue, got %+v", rawDelivery.nackOpts)
	}
	if rawDelivery.nackOpts.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", rawDelivery.nackOpts.Reason)
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{Requeue: true}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Disposition != queue.NackDispositionDeadLetter || rawDelivery.nackOpts.Delay != 0 {
		t.Fatalf("expected dead letter once max attempts is reached, got %+v", rawDelivery.nackOpts)
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{DeadLetter: true, Reason: "poison"}, 1); err != nil {
		t.Fatalf("nack dead letter: %v", err)
	}
	if rawDelivery.nackOpts.Disposition != queue.NackDispositionDeadLetter || rawDelivery.nackOpts.Reason != "poison" {
		t.Fatalf("expected explicit dead letter kept, got %+v", rawDelivery.nackOpts)
	}
	if err := queue.ValidateNackOptions(rawDelivery.nackOpts); err != nil {
		t.Fatalf("expected go-job to accept %+v: %v", rawDelivery.nackOpts, err)
	}
}

func TestNackWithoutDispositionDefaultsToRetry(t *testing.T) {
	rawDelivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDIngest}}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{MaxAttempts: 5})

	if err := adapter.Nack(context.Background(), core.JobNackOptions{Delay: time.Second}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if rawDelivery.nackOpts.Disposition != queue.NackDispositionRetry || rawDelivery.nackOpts.Delay != time.Second {
		t.Fatalf("expected retry with the given delay, got %+v", rawDelivery.nackOpts)
	}
	if err := queue.ValidateNackOptions(rawDelivery.nackOpts); err != nil {
		t.Fatalf("expected go-job to accept the nack: %v", err)
	}
}

func TestRetryPolicyBackoffFillsMissingDelay(t *testing.T) {
	policy := RetryPolicyFromConfig(core.RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 5})
	policy.Backoff.Jitter = func() float64 { return 0 }

	out := policy.NormalizeAttempt(core.JobNackOptions{Requeue: true}, 3)
	if out.Delay != 4*time.Second {
		t.Fatalf("expected doubling backoff of 4s on attempt 3, got %s", out.Delay)
	}
	out = policy.NormalizeAttempt(core.JobNackOptions{Requeue: true}, 10)
	if out.Requeue || !out.DeadLetter {
		t.Fatalf("expected exhausted budget to dead letter, got %+v", out)
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	evt := worker.Event{
		Delivery:  &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRecordsPrune, IdempotencyKey: "idem-prune"}},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	}

	adapter.OnRetry(context.Background(), evt)
	if coreHook.calls["retry"] != 1 {
		t.Fatalf("expected retry hook call, got %v", coreHook.calls)
	}
	if coreHook.last.Message == nil || coreHook.last.Message.JobID != JobIDRecordsPrune {
		t.Fatalf("expected message mapped from delivery, got %#v", coreHook.last.Message)
	}
	if coreHook.last.Attempt != 2 || coreHook.last.Delay != 5*time.Second || coreHook.last.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected event mapping %#v", coreHook.last)
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}

	adapter.OnStart(context.Background(), evt)
	adapter.OnSuccess(context.Background(), evt)
	adapter.OnFailure(context.Background(), evt)
	if coreHook.calls["start"] != 1 || coreHook.calls["success"] != 1 || coreHook.calls["failure"] != 1 {
		t.Fatalf("expected every hook to be forwarded, got %v", coreHook.calls)
	}

	var nilAdapter *WorkerHookAdapter
	nilAdapter.OnStart(context.Background(), evt)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	return queue.EnqueueReceipt{DispatchID: "dispatch_1"}, nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	last  core.JobWorkerEvent
	calls map[string]int
}

func (h *capturingHook) record(kind string, event core.JobWorkerEvent) {
	if h.calls == nil {
		h.calls = map[string]int{}
	}
	h.calls[kind]++
	h.last = event
}

func (h *capturingHook) OnStart(_ context.Context, event core.JobWorkerEvent)   { h.record("start", event) }
func (h *capturingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) { h.record("success", event) }
func (h *capturingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) { h.record("failure", event) }
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent)   { h.record("retry", event) }
