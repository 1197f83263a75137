package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ticketmail/adapters/gologger"
	"github.com/goliatone/go-ticketmail/core"
)

// JobService is the slice of core.Service the queued jobs drive.
type JobService interface {
	ProcessEmailsWithThreading(ctx context.Context, req core.IngestionRequest) (core.IngestionResult, error)
	CleanupExpiredSessions(ctx context.Context) int
	PruneProcessingRecords(ctx context.Context) int
}

// IngestMessage schedules one threaded ingestion run. Runs for the same
// connection inside one window share an idempotency key.
func IngestMessage(connectionID string, limit int, window time.Time) *core.JobExecutionMessage {
	connectionID = strings.TrimSpace(connectionID)
	params := map[string]any{"connection_id": connectionID}
	if limit > 0 {
		params["limit"] = limit
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDIngest,
		ScriptPath:     JobIDIngest,
		Parameters:     params,
		IdempotencyKey: JobIDIngest + ":" + connectionID + ":" + strconv.FormatInt(window.UTC().Unix(), 10),
		DedupPolicy:    "drop",
	}
}

func SweepMessage() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{JobID: JobIDSessionsSweep, ScriptPath: JobIDSessionsSweep}
}

func PruneMessage() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{JobID: JobIDRecordsPrune, ScriptPath: JobIDRecordsPrune}
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger glog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = gologger.NewRedactingLogger(logger)
		}
	}
}

// Runner executes ticketmail jobs taken from a queue. Retryable failures are
// nacked for redelivery; everything else is dead-lettered.
type Runner struct {
	service JobService
	policy  RetryPolicy
	logger  glog.Logger
}

func NewRunner(service JobService, policy RetryPolicy, opts ...RunnerOption) *Runner {
	runner := &Runner{
		service: service,
		policy:  policy,
		logger:  glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner
}

// Execute runs msg and returns the job error without touching any delivery.
func (r *Runner) Execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDIngest:
		connectionID, _ := msg.Parameters["connection_id"].(string)
		if strings.TrimSpace(connectionID) == "" {
			return fmt.Errorf("gojob: %s requires connection_id", JobIDIngest)
		}
		result, err := r.service.ProcessEmailsWithThreading(ctx, core.IngestionRequest{
			ConnectionID: connectionID,
			Limit:        intParam(msg.Parameters["limit"]),
		})
		if err != nil {
			return err
		}
		r.logger.Info("ingest job finished",
			"connection_id", connectionID,
			"processed", result.Processed,
			"errors", result.Errors,
			"skipped", result.Skipped,
		)
		return nil
	case JobIDSessionsSweep:
		r.logger.Info("session sweep job finished", "removed", r.service.CleanupExpiredSessions(ctx))
		return nil
	case JobIDRecordsPrune:
		r.logger.Info("record prune job finished", "removed", r.service.PruneProcessingRecords(ctx))
		return nil
	default:
		return fmt.Errorf("gojob: unknown job %q", msg.JobID)
	}
}

// Handle executes the delivery's job and settles it. attempt is 1-based.
func (r *Runner) Handle(ctx context.Context, delivery core.JobDelivery, attempt int) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	err := r.Execute(ctx, msg)
	if err == nil {
		return delivery.Ack(ctx)
	}

	jobID := ""
	if msg != nil {
		jobID = msg.JobID
	}
	opts := core.JobNackOptions{Reason: err.Error()}
	if core.IsRetryable(err) {
		opts.Requeue = true
	} else {
		opts.DeadLetter = true
	}
	r.logger.Warn("job failed", "job_id", jobID, "attempt", attempt, "retryable", opts.Requeue, "error", err.Error())

	if adapter, ok := delivery.(*DeliveryAdapter); ok {
		return adapter.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, r.policy.NormalizeAttempt(opts, attempt))
}

func intParam(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		parsed, _ := strconv.Atoi(strings.TrimSpace(v))
		return parsed
	default:
		return 0
	}
}
