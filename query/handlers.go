package query

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-ticketmail/core"
)

type ProcessingStatsReader interface {
	GetProcessingStats(ctx context.Context, connectionID string) (map[core.ProcessingStatus]int, error)
}

type HealthReader interface {
	Health(ctx context.Context, connectionID string) core.HealthReport
}

type GetProcessingStatsQuery struct {
	reader ProcessingStatsReader
}

func NewGetProcessingStatsQuery(reader ProcessingStatsReader) *GetProcessingStatsQuery {
	return &GetProcessingStatsQuery{reader: reader}
}

func (q *GetProcessingStatsQuery) Query(ctx context.Context, msg GetProcessingStatsMessage) (map[core.ProcessingStatus]int, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: processing stats reader is required")
	}
	return q.reader.GetProcessingStats(ctx, msg.ConnectionID)
}

// HealthQuery never fails once configured; check failures land in
// HealthReport.Problems.
type HealthQuery struct {
	reader HealthReader
}

func NewHealthQuery(reader HealthReader) *HealthQuery {
	return &HealthQuery{reader: reader}
}

func (q *HealthQuery) Query(ctx context.Context, msg HealthMessage) (core.HealthReport, error) {
	if q == nil || q.reader == nil {
		return core.HealthReport{}, queryDependencyError("query: health reader is required")
	}
	return q.reader.Health(ctx, msg.ConnectionID), nil
}

var (
	_ gocmd.Querier[GetProcessingStatsMessage, map[core.ProcessingStatus]int] = (*GetProcessingStatsQuery)(nil)
	_ gocmd.Querier[HealthMessage, core.HealthReport]                         = (*HealthQuery)(nil)
)
