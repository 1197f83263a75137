package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Pruner drops idle rate-limit buckets.
type Pruner interface {
	Prune(idle time.Duration) int
}

type MaintenanceReport struct {
	ExpiredSessions int
	PrunedRecords   int
	PrunedBuckets   int
}

// MaintenanceTask runs periodic cleanup under an explicit Start/Stop lifecycle
// owned by the host process.
type MaintenanceTask struct {
	service  *Service
	pruner   Pruner
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMaintenanceTask(service *Service, pruner Pruner) *MaintenanceTask {
	interval := DefaultConfig().Maintenance.Interval
	if service != nil && service.config.Maintenance.Interval > 0 {
		interval = service.config.Maintenance.Interval
	}
	return &MaintenanceTask{
		service:  service,
		pruner:   pruner,
		interval: interval,
	}
}

func (t *MaintenanceTask) Start(ctx context.Context) error {
	if t == nil || t.service == nil {
		return NewConfigurationError("maintenance task requires a service")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("core: maintenance task already running")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	go t.loop(runCtx, t.done)
	return nil
}

// Stop halts the loop and waits for an in-flight sweep, bounded by ctx.
func (t *MaintenanceTask) Stop(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MaintenanceTask) Running() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *MaintenanceTask) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. Each step logs and swallows its own failure.
func (t *MaintenanceTask) RunOnce(ctx context.Context) MaintenanceReport {
	report := MaintenanceReport{}
	if t == nil || t.service == nil {
		return report
	}
	s := t.service
	report.ExpiredSessions = s.CleanupExpiredSessions(ctx)
	report.PrunedRecords = s.PruneProcessingRecords(ctx)
	if t.pruner != nil {
		window := s.config.Ingestion.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		report.PrunedBuckets = t.pruner.Prune(2 * window)
	}
	return report
}

// PruneProcessingRecords removes terminal records older than the retention window.
func (s *Service) PruneProcessingRecords(ctx context.Context) int {
	if s == nil || s.recordStore == nil || s.config.Ingestion.RecordRetention <= 0 {
		return 0
	}
	cutoff := s.currentTime().Add(-s.config.Ingestion.RecordRetention)
	removed, err := s.recordStore.PruneTerminal(ctx, cutoff)
	if err != nil {
		s.logError(ctx, "processing record prune failed", map[string]any{"error": err.Error()})
		return 0
	}
	if removed > 0 {
		s.logInfo(ctx, "processing records pruned", map[string]any{"removed": removed})
	}
	return removed
}
