package query

import "strings"

const (
	TypeGetProcessingStats = "ticketmail.query.processing_stats.get"
	TypeHealth             = "ticketmail.query.health.get"
)

type GetProcessingStatsMessage struct {
	ConnectionID string
}

func (GetProcessingStatsMessage) Type() string { return TypeGetProcessingStats }

func (m GetProcessingStatsMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	return nil
}

type HealthMessage struct {
	ConnectionID string
}

func (HealthMessage) Type() string { return TypeHealth }

func (m HealthMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	return nil
}
