package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory stores back tests and single-process deployments.

type MemoryConnectionStore struct {
	mu   sync.Mutex
	byID map[string]Connection
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{byID: map[string]Connection{}}
}

func (s *MemoryConnectionStore) Create(_ context.Context, in ProvisionRequest) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.UserID == in.UserID && existing.TenantID == in.TenantID &&
			existing.ClientID == in.ClientID && !existing.Deleted() {
			return Connection{}, fmt.Errorf("core: connection already exists for user %q", in.UserID)
		}
	}
	now := time.Now().UTC()
	connection := Connection{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		TenantID:  in.TenantID,
		ClientID:  in.ClientID,
		Metadata:  copyAnyMap(in.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[connection.ID] = connection
	return connection, nil
}

// Put stores connection as is; intended for seeding.
func (s *MemoryConnectionStore) Put(connection Connection) {
	s.mu.Lock()
	s.byID[connection.ID] = connection
	s.mu.Unlock()
}

func (s *MemoryConnectionStore) Get(_ context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	return connection, nil
}

func (s *MemoryConnectionStore) FindCurrent(_ context.Context, userID string, tenantID string, clientID string) (Connection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connection := range s.byID {
		if connection.UserID == userID && connection.TenantID == tenantID &&
			connection.ClientID == clientID && !connection.Deleted() {
			return connection, true, nil
		}
	}
	return Connection{}, false, nil
}

func (s *MemoryConnectionStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[id]
	if !ok {
		return ErrConnectionNotFound
	}
	connection.Active = active
	connection.UpdatedAt = time.Now().UTC()
	s.byID[id] = connection
	return nil
}

func (s *MemoryConnectionStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.byID[id]
	if !ok {
		return ErrConnectionNotFound
	}
	now := time.Now().UTC()
	connection.Active = false
	connection.DeletedAt = &now
	connection.UpdatedAt = now
	s.byID[id] = connection
	return nil
}

type MemoryTokenSetStore struct {
	mu   sync.Mutex
	sets map[string][]TokenSet
}

func NewMemoryTokenSetStore() *MemoryTokenSetStore {
	return &MemoryTokenSetStore{sets: map[string][]TokenSet{}}
}

func (s *MemoryTokenSetStore) Append(_ context.Context, in SaveTokenSetInput) (TokenSet, error) {
	if strings.TrimSpace(in.ConnectionID) == "" {
		return TokenSet{}, fmt.Errorf("core: connection id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.sets[in.ConnectionID]
	set := TokenSet{
		ID:           uuid.NewString(),
		ConnectionID: in.ConnectionID,
		Version:      len(existing) + 1,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		TokenType:    in.TokenType,
		Scope:        in.Scope,
		ExpiresAt:    in.ExpiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if len(existing) > 0 && existing[len(existing)-1].Version >= set.Version {
		set.Version = existing[len(existing)-1].Version + 1
	}
	s.sets[in.ConnectionID] = append(existing, set)
	return set, nil
}

func (s *MemoryTokenSetStore) Latest(_ context.Context, connectionID string) (TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sets := s.sets[connectionID]
	if len(sets) == 0 {
		return TokenSet{}, ErrTokenSetNotFound
	}
	return sets[len(sets)-1], nil
}

func (s *MemoryTokenSetStore) Count(connectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[connectionID])
}

func (s *MemoryTokenSetStore) DeleteAll(_ context.Context, connectionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.sets[connectionID])
	delete(s.sets, connectionID)
	return removed, nil
}

type MemoryProcessingRecordStore struct {
	mu      sync.Mutex
	records map[string]ProcessingRecord
	now     func() time.Time
}

func NewMemoryProcessingRecordStore() *MemoryProcessingRecordStore {
	return &MemoryProcessingRecordStore{
		records: map[string]ProcessingRecord{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func recordKey(connectionID string, messageID string) string {
	return connectionID + "\x00" + messageID
}

func (s *MemoryProcessingRecordStore) Get(_ context.Context, connectionID string, messageID string) (ProcessingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(connectionID, messageID)]
	return record, ok, nil
}

func (s *MemoryProcessingRecordStore) Claim(_ context.Context, record ProcessingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(record.ConnectionID, record.MessageID)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	now := s.now()
	record.ID = uuid.NewString()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = ProcessingStatusInProgress
	}
	s.records[key] = record
	return true, nil
}

func (s *MemoryProcessingRecordStore) Reclaim(_ context.Context, record ProcessingRecord, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(record.ConnectionID, record.MessageID)
	existing, ok := s.records[key]
	now := s.now()
	if !ok || existing.Status != ProcessingStatusInProgress || existing.UpdatedAt.After(now.Add(-staleAfter)) {
		return false, nil
	}
	existing.Subject = record.Subject
	existing.Sender = record.Sender
	existing.UpdatedAt = now
	s.records[key] = existing
	return true, nil
}

func (s *MemoryProcessingRecordStore) Upsert(_ context.Context, record ProcessingRecord) (ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(record.ConnectionID, record.MessageID)
	now := s.now()
	if existing, ok := s.records[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		record.ID = uuid.NewString()
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[key] = record
	return record, nil
}

func (s *MemoryProcessingRecordStore) CountByStatus(_ context.Context, connectionID string) (map[ProcessingStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[ProcessingStatus]int{}
	for _, record := range s.records {
		if record.ConnectionID == connectionID {
			counts[record.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryProcessingRecordStore) PruneTerminal(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.records {
		if record.Status.Terminal() && record.UpdatedAt.Before(before) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

type MemoryThreadLinkStore struct {
	mu    sync.Mutex
	links []ThreadLink
}

func NewMemoryThreadLinkStore() *MemoryThreadLinkStore {
	return &MemoryThreadLinkStore{}
}

func (s *MemoryThreadLinkStore) Create(_ context.Context, link ThreadLink) (ThreadLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.links {
		if existing.TicketID == link.TicketID && existing.MessageID == link.MessageID {
			return existing, nil
		}
		if link.Root && existing.Root && existing.ConnectionID == link.ConnectionID &&
			link.ConversationID != "" && existing.ConversationID == link.ConversationID {
			return ThreadLink{}, ErrThreadLinkConflict
		}
	}
	link.ID = uuid.NewString()
	link.CreatedAt = time.Now().UTC()
	s.links = append(s.links, link)
	return link, nil
}

func (s *MemoryThreadLinkStore) FindByConversation(_ context.Context, connectionID string, conversationID string) (ThreadLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []ThreadLink{}
	for _, link := range s.links {
		if link.ConnectionID == connectionID && link.ConversationID == conversationID {
			matches = append(matches, link)
		}
	}
	if len(matches) == 0 {
		return ThreadLink{}, false, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Root != matches[j].Root {
			return matches[i].Root
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches[0], true, nil
}

func (s *MemoryThreadLinkStore) FindByInternetMessageID(_ context.Context, connectionID string, internetMessageIDs []string) (ThreadLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range internetMessageIDs {
		for _, link := range s.links {
			if link.ConnectionID == connectionID && link.InternetMessageID != "" && link.InternetMessageID == id {
				return link, true, nil
			}
		}
	}
	return ThreadLink{}, false, nil
}

func (s *MemoryThreadLinkStore) FindByMessageID(_ context.Context, connectionID string, messageID string) (ThreadLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range s.links {
		if link.ConnectionID == connectionID && link.MessageID == messageID {
			return link, true, nil
		}
	}
	return ThreadLink{}, false, nil
}

// Links returns a snapshot of stored links in insertion order.
func (s *MemoryThreadLinkStore) Links() []ThreadLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ThreadLink(nil), s.links...)
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

var (
	_ ConnectionStore       = (*MemoryConnectionStore)(nil)
	_ TokenSetStore         = (*MemoryTokenSetStore)(nil)
	_ ProcessingRecordStore = (*MemoryProcessingRecordStore)(nil)
	_ ThreadLinkStore       = (*MemoryThreadLinkStore)(nil)
)
