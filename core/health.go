package core

import (
	"context"
	"errors"
	"time"
)

const degradedErrorRate = 0.25

// Health aggregates connection, token, mailbox and ingestion signals. Check
// failures are recorded as problems and never returned.
func (s *Service) Health(ctx context.Context, connectionID string) HealthReport {
	report := HealthReport{
		ConnectionID: connectionID,
		CheckedAt:    s.currentTime(),
		Status:       HealthStatusHealthy,
	}

	connection, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		if !errors.Is(err, ErrConnectionNotFound) {
			s.logWarn(ctx, "health connection check failed", map[string]any{"connection_id": connectionID, "error": err.Error()})
		}
		report.Problems = append(report.Problems, "connection unavailable")
		report.Status = HealthStatusUnhealthy
		return report
	}
	report.Active = connection.Active && !connection.Deleted()
	if !report.Active {
		report.Problems = append(report.Problems, "connection inactive")
	}

	if tokens, tokenErr := s.tokenSetStore.Latest(ctx, connectionID); tokenErr == nil {
		report.HasCredential = true
		expiresAt := tokens.ExpiresAt
		report.TokenExpiresAt = &expiresAt
		report.TokenValid = tokens.FreshAt(report.CheckedAt, s.refreshBuffer()) || tokens.RefreshToken != ""
	} else if !errors.Is(tokenErr, ErrTokenSetNotFound) {
		s.logWarn(ctx, "health token check failed", map[string]any{"connection_id": connectionID, "error": tokenErr.Error()})
	}
	if !report.TokenValid {
		report.Problems = append(report.Problems, "no usable credential")
	}

	if s.mailbox != nil && report.Active && report.HasCredential {
		checkCtx, cancel := context.WithTimeout(ctx, s.healthCheckTimeout())
		report.MailboxReachable = s.mailbox.TestConnection(checkCtx, connectionID)
		cancel()
		if !report.MailboxReachable {
			report.Problems = append(report.Problems, "mailbox unreachable")
		}
	}

	if s.recordStore != nil {
		if stats, statsErr := s.GetProcessingStats(ctx, connectionID); statsErr == nil {
			report.Stats = stats
			attempted := stats[ProcessingStatusSuccess] + stats[ProcessingStatusFailed]
			if attempted > 0 {
				report.ErrorRate = float64(stats[ProcessingStatusFailed]) / float64(attempted)
			}
			if report.ErrorRate >= degradedErrorRate {
				report.Problems = append(report.Problems, "high ingestion error rate")
			}
		}
	}

	switch {
	case !report.Active || !report.TokenValid:
		report.Status = HealthStatusUnhealthy
	case len(report.Problems) > 0:
		report.Status = HealthStatusDegraded
	}
	return report
}

func (s *Service) healthCheckTimeout() time.Duration {
	if s.config.HTTP.RequestTimeout > 0 && s.config.HTTP.RequestTimeout < 10*time.Second {
		return s.config.HTTP.RequestTimeout
	}
	return 10 * time.Second
}
