package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const metricPrefix = "ticketmail."

// metricTagKeys are the log fields promoted to metric tags. Message ids and
// subjects stay out to keep cardinality bounded.
var metricTagKeys = []string{"connection_id", "provider", "backend"}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// recordOperation emits ticketmail.<operation>.total and .duration_ms.
func recordOperation(ctx context.Context, recorder MetricsRecorder, operation string, status string, elapsed time.Duration, fields map[string]any) {
	if recorder == nil {
		return
	}
	recorder.IncCounter(ctx, metricPrefix+operation+".total", 1, operationTags(operation, status, fields))
	recorder.ObserveHistogram(ctx, metricPrefix+operation+".duration_ms", float64(elapsed.Milliseconds()), operationTags(operation, status, fields))
}

// recordIngestOutcomes counts messages per outcome for one ingestion run.
// Zero outcomes are not emitted.
func recordIngestOutcomes(ctx context.Context, recorder MetricsRecorder, connectionID string, result IngestionResult) {
	if recorder == nil {
		return
	}
	for outcome, count := range map[string]int{
		"processed": result.Processed,
		"failed":    result.Errors,
		"skipped":   result.Skipped,
	} {
		if count <= 0 {
			continue
		}
		recorder.IncCounter(ctx, metricPrefix+"ingest.messages", int64(count), map[string]string{
			"connection_id": connectionID,
			"outcome":       outcome,
		})
	}
}

func operationTags(operation string, status string, fields map[string]any) map[string]string {
	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range metricTagKeys {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		if value := strings.TrimSpace(fmt.Sprint(raw)); value != "" {
			tags[key] = value
		}
	}
	return tags
}

var _ MetricsRecorder = NopMetricsRecorder{}
