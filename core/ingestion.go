package core

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ingestOutcome int

const (
	outcomeProcessed ingestOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeDuplicate
)

// threadState tracks the ticket a conversation group resolves to while the
// group is walked.
type threadState struct {
	ticketID        string
	rooted          bool
	fallbackChecked bool
}

// ProcessEmailsWithThreading ingests a batch, turning each new conversation
// into one ticket and every later message of it into a private comment.
func (s *Service) ProcessEmailsWithThreading(ctx context.Context, req IngestionRequest) (IngestionResult, error) {
	return s.ingest(ctx, req, true, "process_emails_with_threading")
}

// ProcessEmails ingests a batch creating one ticket per new message.
func (s *Service) ProcessEmails(ctx context.Context, req IngestionRequest) (IngestionResult, error) {
	return s.ingest(ctx, req, false, "process_emails")
}

func (s *Service) ingest(ctx context.Context, req IngestionRequest, threaded bool, operation string) (result IngestionResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": req.ConnectionID,
		"limit":         req.Limit,
		"threaded":      threaded,
	}
	defer func() {
		fields["processed"] = result.Processed
		fields["errors"] = result.Errors
		fields["skipped"] = result.Skipped
		s.observeOperation(ctx, startedAt, operation, err, fields)
		recordIngestOutcomes(ctx, s.metricsRecorder, req.ConnectionID, result)
	}()

	connection, err := s.activeConnection(ctx, req.ConnectionID)
	if err != nil {
		return IngestionResult{}, err
	}
	if err = s.requireIngestionDependencies(); err != nil {
		return IngestionResult{}, err
	}
	if s.rateLimiter != nil {
		key := "ingest:" + connection.ID
		if !s.rateLimiter.CheckLimit(key, RateLimitConfig{
			Window:      s.config.Ingestion.RateLimitWindow,
			MaxRequests: s.config.Ingestion.RateLimitMax,
		}) {
			err = NewRateLimitedError(key)
			return IngestionResult{}, err
		}
	}

	lock, err := s.connectionLocker.Acquire(ctx, connection.ID, s.config.Ingestion.LockTTL)
	if err != nil {
		err = s.mapError(err)
		return IngestionResult{}, err
	}
	defer func() {
		_ = lock.Unlock(context.WithoutCancel(ctx))
	}()

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.Mailbox.DefaultLimit
	}
	messages, err := s.mailbox.ListMessages(ctx, connection.ID, limit)
	if err != nil {
		s.throttleOnUpstream(connection.ID, err)
		return IngestionResult{}, err
	}
	fields["fetched"] = len(messages)

	for _, group := range GroupByConversation(messages) {
		state := threadState{}
		if threaded {
			link, found, findErr := s.threadLinkStore.FindByConversation(ctx, connection.ID, group.Key)
			if findErr != nil {
				// the group cannot be threaded safely; the rest of the batch still runs
				s.logError(ctx, "thread link lookup failed", map[string]any{
					"connection_id":   connection.ID,
					"conversation_id": group.Key,
					"error":           findErr.Error(),
				})
				result.Errors += s.failGroup(ctx, connection, group, findErr)
				continue
			}
			if found {
				state.ticketID = link.TicketID
				state.rooted = true
			}
		}

		for _, msg := range group.Messages {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
				return result, err
			}
			switch s.ingestMessage(ctx, connection, group.Key, msg, &state, threaded) {
			case outcomeProcessed:
				result.Processed++
			case outcomeFailed:
				result.Errors++
			case outcomeSkipped:
				result.Skipped++
			}
		}
	}
	return result, nil
}

func (s *Service) throttleOnUpstream(connectionID string, err error) {
	throttler, ok := s.rateLimiter.(Throttler)
	if !ok {
		return
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == http.StatusTooManyRequests && upstream.RetryAfter > 0 {
		throttler.Throttle("ingest:"+connectionID, upstream.RetryAfter)
	}
}

func (s *Service) activeConnection(ctx context.Context, connectionID string) (Connection, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return Connection{}, NewConnectionInvalidError(connectionID, "connection id is required")
	}
	connection, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return Connection{}, NewConnectionInvalidError(connectionID, "not found")
		}
		return Connection{}, s.mapError(NewPersistenceError("load connection", err))
	}
	if !connection.Active || connection.Deleted() {
		return Connection{}, NewConnectionInactiveError(connectionID)
	}
	return connection, nil
}

func (s *Service) requireIngestionDependencies() error {
	missing := []string{}
	if s.mailbox == nil {
		missing = append(missing, "mailbox backend")
	}
	if s.ticketService == nil {
		missing = append(missing, "ticket service")
	}
	if s.recordStore == nil {
		missing = append(missing, "processing record store")
	}
	if s.threadLinkStore == nil {
		missing = append(missing, "thread link store")
	}
	if len(missing) > 0 {
		return NewConfigurationError("ingestion requires " + strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) ingestMessage(
	ctx context.Context,
	connection Connection,
	groupKey string,
	msg Message,
	state *threadState,
	threaded bool,
) ingestOutcome {
	record := ProcessingRecord{
		ConnectionID: connection.ID,
		MessageID:    msg.ID,
		Subject:      msg.Subject,
		Sender:       msg.From.Address,
		Status:       ProcessingStatusInProgress,
	}
	claimed, err := s.recordStore.Claim(ctx, record)
	if err != nil {
		s.logError(ctx, "processing record claim failed", map[string]any{
			"connection_id": connection.ID,
			"message_id":    msg.ID,
			"error":         err.Error(),
		})
		return outcomeFailed
	}
	if !claimed {
		staleAfter := s.config.Ingestion.LockTTL
		if staleAfter <= 0 {
			staleAfter = defaultLockTTL
		}
		reclaimed, reclaimErr := s.recordStore.Reclaim(ctx, record, staleAfter)
		if reclaimErr != nil || !reclaimed {
			return outcomeDuplicate
		}
		s.logWarn(ctx, "reclaimed stale in-progress record", map[string]any{
			"connection_id": connection.ID,
			"message_id":    msg.ID,
		})
	}

	// processing records are pruned, links are not
	if link, linked, linkErr := s.threadLinkStore.FindByMessageID(ctx, connection.ID, msg.ID); linkErr != nil {
		s.logWarn(ctx, "thread link lookup failed", map[string]any{
			"connection_id": connection.ID,
			"message_id":    msg.ID,
			"error":         linkErr.Error(),
		})
	} else if linked {
		if threaded && state.ticketID == "" {
			state.ticketID = link.TicketID
		}
		record.TicketID = link.TicketID
		record.Status = ProcessingStatusSuccess
		s.finishRecord(ctx, record)
		return outcomeDuplicate
	}

	if msg.ReadError != "" {
		record.Status = ProcessingStatusFailed
		record.Error = msg.ReadError
		s.finishRecord(ctx, record)
		s.logWarn(ctx, "message could not be read", map[string]any{
			"connection_id": connection.ID,
			"message_id":    msg.ID,
			"error":         msg.ReadError,
		})
		return outcomeFailed
	}

	if reason := s.skipReason(msg); reason != "" {
		record.Status = ProcessingStatusSkipped
		record.Error = reason
		s.finishRecord(ctx, record)
		return outcomeSkipped
	}

	var ticketID string
	if threaded {
		ticketID, err = s.applyThreaded(ctx, connection, groupKey, msg, state)
	} else {
		ticketID, err = s.createTicketFor(ctx, connection, groupKey, msg, false)
	}
	record.TicketID = ticketID
	if err != nil {
		record.Status = ProcessingStatusFailed
		record.Error = err.Error()
		s.finishRecord(ctx, record)
		s.logWarn(ctx, "message ingestion failed", map[string]any{
			"connection_id": connection.ID,
			"message_id":    msg.ID,
			"ticket_id":     ticketID,
			"error":         err.Error(),
		})
		return outcomeFailed
	}
	record.Status = ProcessingStatusSuccess
	s.finishRecord(ctx, record)
	return outcomeProcessed
}

func (s *Service) applyThreaded(ctx context.Context, connection Connection, groupKey string, msg Message, state *threadState) (string, error) {
	if state.ticketID == "" && !state.fallbackChecked {
		state.fallbackChecked = true
		if ticketID, ok := s.resolveFallbackTicket(ctx, connection, msg); ok {
			state.ticketID = ticketID
		}
	}

	if state.ticketID == "" {
		ticketID, err := s.createTicketFor(ctx, connection, groupKey, msg, true)
		if errors.Is(err, ErrThreadLinkConflict) {
			// another run won the conversation; its ticket keeps the thread
			winner, found, findErr := s.threadLinkStore.FindByConversation(ctx, connection.ID, groupKey)
			if findErr != nil || !found {
				return ticketID, fmt.Errorf("core: resolve conversation owner: %w", err)
			}
			s.logWarn(ctx, "conversation claimed concurrently, duplicate ticket left unlinked", map[string]any{
				"connection_id":   connection.ID,
				"conversation_id": groupKey,
				"ticket_id":       winner.TicketID,
				"orphan_ticket":   ticketID,
			})
			state.ticketID = winner.TicketID
			state.rooted = true
			return s.commentOn(ctx, connection, groupKey, msg, state)
		}
		if err != nil {
			// keep the group on a ticket that exists even if its link failed
			state.ticketID = ticketID
			return ticketID, err
		}
		state.ticketID = ticketID
		state.rooted = true
		return ticketID, nil
	}
	return s.commentOn(ctx, connection, groupKey, msg, state)
}

func (s *Service) createTicketFor(ctx context.Context, connection Connection, groupKey string, msg Message, root bool) (string, error) {
	ticket, err := s.ticketService.CreateTicket(ctx, s.ticketFromMessage(connection, msg))
	if err != nil {
		return "", fmt.Errorf("core: create ticket: %w", err)
	}
	if strings.TrimSpace(ticket.ID) == "" {
		return "", errors.New("core: create ticket returned an empty id")
	}

	if _, err = s.threadLinkStore.Create(ctx, ThreadLink{
		ConnectionID:      connection.ID,
		TicketID:          ticket.ID,
		MessageID:         msg.ID,
		ConversationID:    groupKey,
		InternetMessageID: msg.InternetMessageID,
		Root:              root,
	}); err != nil {
		if errors.Is(err, ErrThreadLinkConflict) {
			return ticket.ID, err
		}
		return ticket.ID, fmt.Errorf("core: link ticket: %w", err)
	}

	s.publish(ctx, Event{
		Type:         EventTicketCreated,
		ConnectionID: connection.ID,
		TicketID:     ticket.ID,
		MessageID:    msg.ID,
		Payload: map[string]any{
			"ticket_number":   ticket.Number,
			"conversation_id": groupKey,
			"subject":         msg.Subject,
		},
	})
	return ticket.ID, nil
}

func (s *Service) commentOn(ctx context.Context, connection Connection, groupKey string, msg Message, state *threadState) (string, error) {
	ticketID := state.ticketID
	if _, err := s.ticketService.AddComment(ctx, NewComment{
		TicketID:    ticketID,
		TenantID:    connection.TenantID,
		Body:        MessagePlainText(msg),
		AuthorEmail: msg.From.Address,
		AuthorName:  msg.From.Name,
		Private:     true,
		SourceRef:   msg.ID,
	}); err != nil {
		return ticketID, fmt.Errorf("core: add comment: %w", err)
	}

	link := ThreadLink{
		ConnectionID:      connection.ID,
		TicketID:          ticketID,
		MessageID:         msg.ID,
		ConversationID:    groupKey,
		InternetMessageID: msg.InternetMessageID,
		Root:              !state.rooted,
	}
	_, err := s.threadLinkStore.Create(ctx, link)
	if errors.Is(err, ErrThreadLinkConflict) {
		link.Root = false
		_, err = s.threadLinkStore.Create(ctx, link)
	}
	if err != nil {
		return ticketID, fmt.Errorf("core: link comment: %w", err)
	}
	state.rooted = true

	s.publish(ctx, Event{
		Type:         EventTicketCommented,
		ConnectionID: connection.ID,
		TicketID:     ticketID,
		MessageID:    msg.ID,
		Payload: map[string]any{
			"conversation_id": groupKey,
		},
	})
	return ticketID, nil
}

// resolveFallbackTicket threads a message whose conversation is unknown through
// its reply headers, then through a [Ticket #N] subject tag.
func (s *Service) resolveFallbackTicket(ctx context.Context, connection Connection, msg Message) (string, bool) {
	if ids := referencedMessageIDs(msg); len(ids) > 0 {
		link, found, err := s.threadLinkStore.FindByInternetMessageID(ctx, connection.ID, ids)
		if err != nil {
			s.logWarn(ctx, "reply header lookup failed", map[string]any{
				"connection_id": connection.ID,
				"message_id":    msg.ID,
				"error":         err.Error(),
			})
		} else if found {
			return link.TicketID, true
		}
	}

	finder, ok := s.ticketService.(TicketFinder)
	if !ok {
		return "", false
	}
	raw, ok := TicketNumberFromSubject(msg.Subject)
	if !ok {
		return "", false
	}
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", false
	}
	ticket, found, err := finder.FindTicketByNumber(ctx, connection.TenantID, number)
	if err != nil || !found {
		return "", false
	}
	return ticket.ID, true
}

func (s *Service) ticketFromMessage(connection Connection, msg Message) NewTicket {
	title := strings.TrimSpace(msg.Subject)
	if title == "" {
		title = s.config.Ingestion.FallbackTitle
	}
	if title == "" {
		title = defaultFallbackTitle
	}
	maxChars := s.config.Ingestion.DetailMaxChars
	if maxChars <= 0 {
		maxChars = defaultDetailMaxChars
	}

	note := SanitizeHTML(msg.BodyHTML)
	if note == "" && strings.TrimSpace(msg.BodyText) != "" {
		note = "<pre>" + html.EscapeString(msg.BodyText) + "</pre>"
	}
	return NewTicket{
		ConnectionID:   connection.ID,
		TenantID:       connection.TenantID,
		Title:          title,
		Detail:         Truncate(MessagePlainText(msg), maxChars),
		Note:           note,
		RequesterEmail: msg.From.Address,
		RequesterName:  msg.From.Name,
		AssigneeID:     connection.UserID,
		Source:         "email",
		SourceRef:      msg.ID,
	}
}

func (s *Service) skipReason(msg Message) string {
	if msg.Header(s.config.HeaderName("System")) != "" {
		return "outbound message from this system"
	}
	if s.config.Ingestion.SkipAutoResponders && isAutoResponse(msg) {
		return "automatic response"
	}
	return ""
}

func (s *Service) failGroup(ctx context.Context, connection Connection, group ConversationGroup, cause error) int {
	failed := 0
	for _, msg := range group.Messages {
		claimed, err := s.recordStore.Claim(ctx, ProcessingRecord{
			ConnectionID: connection.ID,
			MessageID:    msg.ID,
			Subject:      msg.Subject,
			Sender:       msg.From.Address,
			Status:       ProcessingStatusInProgress,
		})
		if err != nil || !claimed {
			continue
		}
		s.finishRecord(ctx, ProcessingRecord{
			ConnectionID: connection.ID,
			MessageID:    msg.ID,
			Subject:      msg.Subject,
			Sender:       msg.From.Address,
			Status:       ProcessingStatusFailed,
			Error:        cause.Error(),
		})
		failed++
	}
	return failed
}

func (s *Service) finishRecord(ctx context.Context, record ProcessingRecord) {
	processedAt := s.currentTime()
	record.ProcessedAt = &processedAt
	if _, err := s.recordStore.Upsert(context.WithoutCancel(ctx), record); err != nil {
		s.logError(ctx, "processing record update failed", map[string]any{
			"connection_id": record.ConnectionID,
			"message_id":    record.MessageID,
			"status":        string(record.Status),
			"error":         err.Error(),
		})
	}
}

// GetProcessingStats counts processing records per status, including zeros.
func (s *Service) GetProcessingStats(ctx context.Context, connectionID string) (stats map[ProcessingStatus]int, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_processing_stats", err, fields)
	}()

	if s.recordStore == nil {
		err = NewConfigurationError("processing record store is not configured")
		return nil, err
	}
	counts, err := s.recordStore.CountByStatus(ctx, connectionID)
	if err != nil {
		err = s.mapError(NewPersistenceError("count processing records", err))
		return nil, err
	}
	stats = make(map[ProcessingStatus]int, len(AllProcessingStatuses()))
	for _, status := range AllProcessingStatuses() {
		stats[status] = counts[status]
	}
	return stats, nil
}
