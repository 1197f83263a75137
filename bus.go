package ticketmail

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ticketmail/adapters/gocommand"
	"github.com/goliatone/go-ticketmail/adapters/gojob"
	ticketcommand "github.com/goliatone/go-ticketmail/command"
	"github.com/goliatone/go-ticketmail/core"
)

// Dispatch sends msg to the handler Facade.Register subscribed for its type.
// Messages that fail Validate never reach the handler.
func Dispatch[T core.CommandMessage](ctx context.Context, msg T) error {
	return gocommand.Dispatch(ctx, msg)
}

// DispatchResult dispatches msg and returns the value its handler stored.
func DispatchResult[T core.CommandMessage, R any](ctx context.Context, msg T) (R, error) {
	collector := gocmd.NewResult[R]()
	if err := Dispatch(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		var zero R
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

func Query[T core.CommandMessage, R any](ctx context.Context, msg T) (R, error) {
	return gocommand.Query[T, R](ctx, msg)
}

// commandJobs runs queued ingestion through the command bus so job-driven
// runs pass the same handlers as direct dispatches. Sweeps stay direct.
type commandJobs struct {
	gojob.JobService
}

func (j commandJobs) ProcessEmailsWithThreading(ctx context.Context, req core.IngestionRequest) (core.IngestionResult, error) {
	return DispatchResult[ticketcommand.ProcessEmailsMessage, core.IngestionResult](ctx, ticketcommand.ProcessEmailsMessage{
		Request:  req,
		Threaded: true,
	})
}

var _ gojob.JobService = commandJobs{}
