package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/uptrace/bun"
)

type AuthSessionStore struct {
	db *bun.DB
}

func NewAuthSessionStore(db *bun.DB) (*AuthSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &AuthSessionStore{db: db}, nil
}

func (s *AuthSessionStore) Save(ctx context.Context, session core.AuthorizationSession) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: authorization session store is not configured")
	}
	record := newAuthSessionRecord(session)
	if record.State == "" {
		return fmt.Errorf("sqlstore: authorization state is required")
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlstore: authorization state already in use")
		}
		return err
	}
	return nil
}

func (s *AuthSessionStore) Get(ctx context.Context, state string) (core.AuthorizationSession, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationSession{}, fmt.Errorf("sqlstore: authorization session store is not configured")
	}
	record := &authSessionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.state = ?", strings.TrimSpace(state)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.AuthorizationSession{}, core.ErrSessionNotFound
		}
		return core.AuthorizationSession{}, err
	}
	return record.toDomain(), nil
}

func (s *AuthSessionStore) Delete(ctx context.Context, state string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*authSessionRecord)(nil)).
		Where("state = ?", strings.TrimSpace(state)).
		Exec(ctx)
	return err
}

func (s *AuthSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res, err := s.db.NewDelete().
		Model((*authSessionRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
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
