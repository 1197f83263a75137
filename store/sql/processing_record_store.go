package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-ticketmail/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ProcessingRecordStore struct {
	db   *bun.DB
	repo repository.Repository[*processingRecordRow]
}

func (s *ProcessingRecordStore) Get(ctx context.Context, connectionID string, messageID string) (core.ProcessingRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.ProcessingRecord{}, false, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	record, err := findProcessingRecord(ctx, s.db, connectionID, messageID)
	if err != nil {
		return core.ProcessingRecord{}, false, err
	}
	if record == nil {
		return core.ProcessingRecord{}, false, nil
	}
	return record.toDomain(), true, nil
}

// Claim relies on the (connection_id, message_id) unique key so concurrent
// runs cannot both take the same message.
func (s *ProcessingRecordStore) Claim(ctx context.Context, record core.ProcessingRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	if err := validateRecordKey(record); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = core.ProcessingStatusInProgress
	}
	if _, err := s.db.NewInsert().Model(newProcessingRecordRow(record)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Reclaim is a conditional update, so only one caller can take a stale row.
func (s *ProcessingRecordStore) Reclaim(ctx context.Context, record core.ProcessingRecord, staleAfter time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	if err := validateRecordKey(record); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*processingRecordRow)(nil)).
		Set("updated_at = ?", now).
		Set("subject = ?", record.Subject).
		Set("sender = ?", record.Sender).
		Where("connection_id = ?", strings.TrimSpace(record.ConnectionID)).
		Where("message_id = ?", strings.TrimSpace(record.MessageID)).
		Where("status = ?", string(core.ProcessingStatusInProgress)).
		Where("updated_at < ?", now.Add(-staleAfter)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *ProcessingRecordStore) Upsert(ctx context.Context, record core.ProcessingRecord) (core.ProcessingRecord, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.ProcessingRecord{}, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	if err := validateRecordKey(record); err != nil {
		return core.ProcessingRecord{}, err
	}

	var out core.ProcessingRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		existing, findErr := findProcessingRecord(ctx, tx, record.ConnectionID, record.MessageID)
		if findErr != nil {
			return findErr
		}
		row := newProcessingRecordRow(record)
		row.UpdatedAt = now
		if existing == nil {
			row.ID = uuid.NewString()
			row.CreatedAt = now
			inserted, insertErr := s.repo.CreateTx(ctx, tx, row)
			if insertErr != nil {
				return insertErr
			}
			out = inserted.toDomain()
			return nil
		}

		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if _, updateErr := tx.NewUpdate().
			Model(row).
			Column("subject", "sender", "status", "ticket_id", "error", "processed_at", "updated_at").
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return core.ProcessingRecord{}, err
	}
	return out, nil
}

type statusCount struct {
	Status string `bun:"status"`
	Count  int    `bun:"count"`
}

func (s *ProcessingRecordStore) CountByStatus(ctx context.Context, connectionID string) (map[core.ProcessingStatus]int, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	var rows []statusCount
	if err := s.db.NewSelect().
		Model((*processingRecordRow)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("?TableAlias.connection_id = ?", strings.TrimSpace(connectionID)).
		Group("status").
		Scan(ctx, &rows); err != nil {
		return nil, err
	}
	counts := make(map[core.ProcessingStatus]int, len(rows))
	for _, row := range rows {
		counts[core.ProcessingStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (s *ProcessingRecordStore) PruneTerminal(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: processing record store is not configured")
	}
	terminal := []string{
		string(core.ProcessingStatusSuccess),
		string(core.ProcessingStatusFailed),
		string(core.ProcessingStatusSkipped),
	}
	res, err := s.db.NewDelete().
		Model((*processingRecordRow)(nil)).
		Where("status IN (?)", bun.In(terminal)).
		Where("updated_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func findProcessingRecord(ctx context.Context, db bun.IDB, connectionID string, messageID string) (*processingRecordRow, error) {
	record := &processingRecordRow{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", strings.TrimSpace(connectionID)).
		Where("?TableAlias.message_id = ?", strings.TrimSpace(messageID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func validateRecordKey(record core.ProcessingRecord) error {
	if strings.TrimSpace(record.ConnectionID) == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	if strings.TrimSpace(record.MessageID) == "" {
		return fmt.Errorf("sqlstore: message id is required")
	}
	return nil
}
