package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-ticketmail/core"
	"github.com/uptrace/bun"
)

type ThreadLinkStore struct {
	db   *bun.DB
	repo repository.Repository[*threadLinkRecord]
}

// Create is idempotent per (ticket, message). A second root link for the same
// conversation is rejected by the partial unique index and reported as
// core.ErrThreadLinkConflict.
func (s *ThreadLinkStore) Create(ctx context.Context, link core.ThreadLink) (core.ThreadLink, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.ThreadLink{}, fmt.Errorf("sqlstore: thread link store is not configured")
	}
	record := newThreadLinkRecord(link, time.Now().UTC())
	if record.ConnectionID == "" || record.TicketID == "" || record.MessageID == "" {
		return core.ThreadLink{}, fmt.Errorf("sqlstore: connection, ticket and message ids are required")
	}

	existing, err := s.findByTicketMessage(ctx, record.TicketID, record.MessageID)
	if err != nil {
		return core.ThreadLink{}, err
	}
	if existing != nil {
		return existing.toDomain(), nil
	}

	created, err := s.repo.Create(ctx, record)
	if err == nil {
		return created.toDomain(), nil
	}
	if !isUniqueViolation(err) {
		return core.ThreadLink{}, err
	}
	if existing, findErr := s.findByTicketMessage(ctx, record.TicketID, record.MessageID); findErr == nil && existing != nil {
		return existing.toDomain(), nil
	}
	if record.Root {
		return core.ThreadLink{}, core.ErrThreadLinkConflict
	}
	return core.ThreadLink{}, err
}

// FindByConversation prefers the root link, then the oldest.
func (s *ThreadLinkStore) FindByConversation(ctx context.Context, connectionID string, conversationID string) (core.ThreadLink, bool, error) {
	if s == nil || s.db == nil {
		return core.ThreadLink{}, false, fmt.Errorf("sqlstore: thread link store is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.ThreadLink{}, false, nil
	}
	record := &threadLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", strings.TrimSpace(connectionID)).
		Where("?TableAlias.conversation_id = ?", conversationID).
		OrderExpr("?TableAlias.root DESC, ?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ThreadLink{}, false, nil
		}
		return core.ThreadLink{}, false, err
	}
	return record.toDomain(), true, nil
}

// FindByInternetMessageID returns the link for the first id, in the given
// order, that is known for the connection.
func (s *ThreadLinkStore) FindByInternetMessageID(ctx context.Context, connectionID string, internetMessageIDs []string) (core.ThreadLink, bool, error) {
	if s == nil || s.repo == nil {
		return core.ThreadLink{}, false, fmt.Errorf("sqlstore: thread link store is not configured")
	}
	ids := make([]string, 0, len(internetMessageIDs))
	for _, id := range internetMessageIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return core.ThreadLink{}, false, nil
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", strings.TrimSpace(connectionID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.internet_message_id IN (?)", bun.In(ids))
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return core.ThreadLink{}, false, err
	}
	byID := make(map[string]*threadLinkRecord, len(records))
	for _, record := range records {
		if _, seen := byID[record.InternetMessageID]; !seen {
			byID[record.InternetMessageID] = record
		}
	}
	for _, id := range ids {
		if record, ok := byID[id]; ok {
			return record.toDomain(), true, nil
		}
	}
	return core.ThreadLink{}, false, nil
}

// FindByMessageID returns the oldest link for the remote message.
func (s *ThreadLinkStore) FindByMessageID(ctx context.Context, connectionID string, messageID string) (core.ThreadLink, bool, error) {
	if s == nil || s.db == nil {
		return core.ThreadLink{}, false, fmt.Errorf("sqlstore: thread link store is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return core.ThreadLink{}, false, nil
	}
	record := &threadLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", strings.TrimSpace(connectionID)).
		Where("?TableAlias.message_id = ?", messageID).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ThreadLink{}, false, nil
		}
		return core.ThreadLink{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *ThreadLinkStore) findByTicketMessage(ctx context.Context, ticketID string, messageID string) (*threadLinkRecord, error) {
	record := &threadLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.ticket_id = ?", ticketID).
		Where("?TableAlias.message_id = ?", messageID).
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
