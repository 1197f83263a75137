package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func TestServiceObservability_ProvisionSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	f := newTestFixture(t,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	_, err := f.svc.ProvisionConnection(context.Background(), ProvisionRequest{
		UserID:   "usr_9",
		TenantID: "ten_1",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	if !hasCounter(metrics.counters, "ticketmail.provision_connection.total", "success") {
		t.Fatalf("expected ticketmail.provision_connection.total success counter")
	}
	if !hasHistogram(metrics.histograms, "ticketmail.provision_connection.duration_ms", "success") {
		t.Fatalf("expected ticketmail.provision_connection.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "provision_connection succeeded", "provision_connection") {
		t.Fatalf("expected provision_connection succeeded structured log")
	}
}

func TestServiceObservability_IngestionFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	f := newTestFixture(t,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	_, err := f.svc.ProcessEmailsWithThreading(context.Background(), IngestionRequest{ConnectionID: "conn_missing"})
	if err == nil {
		t.Fatalf("expected ingestion error for missing connection")
	}
	if !hasCounter(metrics.counters, "ticketmail.process_emails_with_threading.total", "failure") {
		t.Fatalf("expected ingestion failure counter")
	}
	if !hasLog(logger.snapshot(), "error", "process_emails_with_threading failed", "process_emails_with_threading") {
		t.Fatalf("expected ingestion failure log")
	}
}

func TestServiceObservability_IngestOutcomeCounters(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	f := newTestFixture(t, WithMetricsRecorder(metrics))
	f.mailbox.messages = []Message{
		mailMessage("A", "conv-1", 1, "One"),
		mailMessage("B", "conv-2", 2, "Two"),
	}
	f.tickets.failCreate["B"] = errors.New("ticket backend unavailable")

	if _, err := f.svc.ProcessEmailsWithThreading(context.Background(), IngestionRequest{ConnectionID: f.connection.ID}); err != nil {
		t.Fatalf("process emails: %v", err)
	}

	got := map[string]int64{}
	for _, counter := range metrics.counters {
		if counter.name != "ticketmail.ingest.messages" {
			continue
		}
		if counter.tags["connection_id"] != f.connection.ID {
			t.Fatalf("expected connection tag, got %#v", counter.tags)
		}
		got[counter.tags["outcome"]] += counter.value
	}
	if got["processed"] != 1 || got["failed"] != 1 {
		t.Fatalf("expected one processed and one failed message, got %#v", got)
	}
	if _, ok := got["skipped"]; ok {
		t.Fatalf("expected zero outcomes to be left out, got %#v", got)
	}
}

func TestOperationTags_PromotesOnlyBoundedFields(t *testing.T) {
	tags := operationTags("send_message", "success", map[string]any{
		"connection_id": "conn_1",
		"backend":       nil,
		"message_id":    "msg_1",
	})
	if tags["connection_id"] != "conn_1" || tags["operation"] != "send_message" || tags["status"] != "success" {
		t.Fatalf("unexpected tags %#v", tags)
	}
	if _, ok := tags["backend"]; ok {
		t.Fatalf("expected nil field to be dropped, got %#v", tags)
	}
	if _, ok := tags["message_id"]; ok {
		t.Fatalf("expected message id to stay out of tags, got %#v", tags)
	}
}

func TestServiceObservability_EnrichesStructuredErrorFields(t *testing.T) {
	logger := newCaptureLogger()
	f := newTestFixture(t,
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	richErr := goerrors.New("mailbox timeout", goerrors.CategoryExternal).
		WithCode(502).
		WithTextCode(ErrorUpstream).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(map[string]any{
			"trace_id":      "trace_123",
			"request_id":    "req_123",
			"refresh_token": "secret_refresh_token",
		})
	f.svc.observeOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"list_messages",
		richErr,
		map[string]any{"backend": "graph"},
	)

	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected logs to be emitted")
	}
	last := records[len(records)-1]
	if last.fields["error_category"] != "external" {
		t.Fatalf("expected error_category external, got %#v", last.fields["error_category"])
	}
	if last.fields["error_text_code"] != ErrorUpstream {
		t.Fatalf("expected error_text_code %q, got %#v", ErrorUpstream, last.fields["error_text_code"])
	}
	if last.fields["error_severity"] != goerrors.SeverityCritical.String() {
		t.Fatalf("expected critical severity, got %#v", last.fields["error_severity"])
	}
	if last.fields["request_id"] != "req_123" {
		t.Fatalf("expected request_id propagation, got %#v", last.fields["request_id"])
	}
	if last.fields["trace_id"] != "trace_123" {
		t.Fatalf("expected trace_id propagation, got %#v", last.fields["trace_id"])
	}

	metadata, ok := last.fields["error_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected redacted error_metadata map, got %#v", last.fields["error_metadata"])
	}
	if metadata["refresh_token"] != RedactedValue {
		t.Fatalf("expected refresh_token to be redacted, got %#v", metadata["refresh_token"])
	}
}

func TestServiceObservability_RedactsTokensInFields(t *testing.T) {
	logger := newCaptureLogger()
	f := newTestFixture(t, WithLogger(logger), WithLoggerProvider(stubLoggerProvider{logger: logger}))

	f.svc.logInfo(context.Background(), "token stored", map[string]any{
		"connection_id": "conn_1",
		"access_token":  "access-value",
	})
	records := logger.snapshot()
	last := records[len(records)-1]
	if last.fields["access_token"] != RedactedValue {
		t.Fatalf("expected access_token redacted in log fields, got %#v", last.fields["access_token"])
	}
	if last.fields["connection_id"] != "conn_1" {
		t.Fatalf("expected connection_id kept, got %#v", last.fields["connection_id"])
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
