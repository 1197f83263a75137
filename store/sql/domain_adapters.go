package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-ticketmail/core"
)

func newConnectionRecord(in core.ProvisionRequest, now time.Time) *connectionRecord {
	return &connectionRecord{
		UserID:    strings.TrimSpace(in.UserID),
		TenantID:  strings.TrimSpace(in.TenantID),
		ClientID:  strings.TrimSpace(in.ClientID),
		Active:    false,
		Metadata:  core.RedactSensitiveMap(in.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID:        r.ID,
		UserID:    r.UserID,
		TenantID:  r.TenantID,
		ClientID:  r.ClientID,
		Active:    r.Active,
		Metadata:  copyAnyMap(r.Metadata),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DeletedAt != nil && !r.DeletedAt.IsZero() {
		deletedAt := r.DeletedAt.UTC()
		connection.DeletedAt = &deletedAt
	}
	return connection
}

func newAuthSessionRecord(session core.AuthorizationSession) *authSessionRecord {
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &authSessionRecord{
		State:        strings.TrimSpace(session.State),
		CodeVerifier: session.CodeVerifier,
		UserID:       session.UserID,
		TenantID:     session.TenantID,
		ClientID:     session.ClientID,
		RedirectURI:  session.RedirectURI,
		CreatedAt:    createdAt.UTC(),
		ExpiresAt:    session.ExpiresAt.UTC(),
	}
}

func (r *authSessionRecord) toDomain() core.AuthorizationSession {
	if r == nil {
		return core.AuthorizationSession{}
	}
	return core.AuthorizationSession{
		State:        r.State,
		CodeVerifier: r.CodeVerifier,
		UserID:       r.UserID,
		TenantID:     r.TenantID,
		ClientID:     r.ClientID,
		RedirectURI:  r.RedirectURI,
		CreatedAt:    r.CreatedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
	}
}

func newProcessingRecordRow(in core.ProcessingRecord) *processingRecordRow {
	return &processingRecordRow{
		ID:           in.ID,
		ConnectionID: strings.TrimSpace(in.ConnectionID),
		MessageID:    strings.TrimSpace(in.MessageID),
		Subject:      in.Subject,
		Sender:       in.Sender,
		Status:       string(in.Status),
		TicketID:     in.TicketID,
		Error:        in.Error,
		ProcessedAt:  cloneTimePointer(in.ProcessedAt),
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
	}
}

func (r *processingRecordRow) toDomain() core.ProcessingRecord {
	if r == nil {
		return core.ProcessingRecord{}
	}
	return core.ProcessingRecord{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		MessageID:    r.MessageID,
		Subject:      r.Subject,
		Sender:       r.Sender,
		Status:       core.ProcessingStatus(r.Status),
		TicketID:     r.TicketID,
		Error:        r.Error,
		ProcessedAt:  cloneTimePointer(r.ProcessedAt),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func newThreadLinkRecord(in core.ThreadLink, now time.Time) *threadLinkRecord {
	return &threadLinkRecord{
		ConnectionID:      strings.TrimSpace(in.ConnectionID),
		TicketID:          strings.TrimSpace(in.TicketID),
		MessageID:         strings.TrimSpace(in.MessageID),
		ConversationID:    strings.TrimSpace(in.ConversationID),
		InternetMessageID: strings.TrimSpace(in.InternetMessageID),
		Root:              in.Root,
		CreatedAt:         now,
	}
}

func (r *threadLinkRecord) toDomain() core.ThreadLink {
	if r == nil {
		return core.ThreadLink{}
	}
	return core.ThreadLink{
		ID:                r.ID,
		ConnectionID:      r.ConnectionID,
		TicketID:          r.TicketID,
		MessageID:         r.MessageID,
		ConversationID:    r.ConversationID,
		InternetMessageID: r.InternetMessageID,
		Root:              r.Root,
		CreatedAt:         r.CreatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
