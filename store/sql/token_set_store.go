package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-ticketmail/core"
	"github.com/uptrace/bun"
)

const maxVersionAttempts = 3

type keyIdentifier interface {
	KeyID() string
}

// TokenSetStore appends sealed token sets. With no SecretProvider the token
// bytes are stored as given.
type TokenSetStore struct {
	db      *bun.DB
	repo    repository.Repository[*tokenSetRecord]
	secrets core.SecretProvider
}

func (s *TokenSetStore) Append(ctx context.Context, in core.SaveTokenSetInput) (core.TokenSet, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.TokenSet{}, fmt.Errorf("sqlstore: token set store is not configured")
	}
	connectionID := strings.TrimSpace(in.ConnectionID)
	if connectionID == "" {
		return core.TokenSet{}, fmt.Errorf("sqlstore: connection id is required")
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return core.TokenSet{}, fmt.Errorf("sqlstore: access token is required")
	}

	access, err := s.seal(ctx, in.AccessToken)
	if err != nil {
		return core.TokenSet{}, err
	}
	refresh, err := s.seal(ctx, in.RefreshToken)
	if err != nil {
		return core.TokenSet{}, err
	}

	var created *tokenSetRecord
	for attempt := 1; ; attempt++ {
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			nextVersion, versionErr := s.nextVersion(ctx, tx, connectionID)
			if versionErr != nil {
				return versionErr
			}
			record := &tokenSetRecord{
				ConnectionID:    connectionID,
				Version:         nextVersion,
				AccessToken:     access,
				RefreshToken:    refresh,
				TokenType:       strings.TrimSpace(in.TokenType),
				Scope:           strings.TrimSpace(in.Scope),
				ExpiresAt:       in.ExpiresAt.UTC(),
				EncryptionKeyID: s.keyID(),
				CreatedAt:       time.Now().UTC(),
			}
			inserted, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			created = inserted
			return nil
		})
		if err == nil || !isUniqueViolation(err) || attempt >= maxVersionAttempts {
			break
		}
	}
	if err != nil {
		return core.TokenSet{}, err
	}

	out := created.toDomainShell()
	out.AccessToken = in.AccessToken
	out.RefreshToken = in.RefreshToken
	return out, nil
}

func (s *TokenSetStore) Latest(ctx context.Context, connectionID string) (core.TokenSet, error) {
	if s == nil || s.repo == nil {
		return core.TokenSet{}, fmt.Errorf("sqlstore: token set store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", strings.TrimSpace(connectionID)),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.TokenSet{}, err
	}
	if len(records) == 0 {
		return core.TokenSet{}, core.ErrTokenSetNotFound
	}
	return s.open(ctx, records[0])
}

func (s *TokenSetStore) DeleteAll(ctx context.Context, connectionID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: token set store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*tokenSetRecord)(nil)).
		Where("connection_id = ?", strings.TrimSpace(connectionID)).
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

func (s *TokenSetStore) nextVersion(ctx context.Context, tx bun.Tx, connectionID string) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*tokenSetRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.connection_id = ?", connectionID).
		Scan(ctx, &maxVersion); err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

func (s *TokenSetStore) seal(ctx context.Context, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if s.secrets == nil {
		return []byte(value), nil
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(value))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encrypt token: %w", err)
	}
	return sealed, nil
}

func (s *TokenSetStore) unseal(ctx context.Context, value []byte) (string, error) {
	if len(value) == 0 {
		return "", nil
	}
	if s.secrets == nil {
		return string(value), nil
	}
	plaintext, err := s.secrets.Decrypt(ctx, value)
	if err != nil {
		return "", fmt.Errorf("sqlstore: decrypt token: %w", err)
	}
	return string(plaintext), nil
}

func (s *TokenSetStore) open(ctx context.Context, record *tokenSetRecord) (core.TokenSet, error) {
	out := record.toDomainShell()
	access, err := s.unseal(ctx, record.AccessToken)
	if err != nil {
		return core.TokenSet{}, err
	}
	refresh, err := s.unseal(ctx, record.RefreshToken)
	if err != nil {
		return core.TokenSet{}, err
	}
	out.AccessToken = access
	out.RefreshToken = refresh
	return out, nil
}

func (s *TokenSetStore) keyID() string {
	if identified, ok := s.secrets.(keyIdentifier); ok {
		return identified.KeyID()
	}
	return ""
}

func (r *tokenSetRecord) toDomainShell() core.TokenSet {
	if r == nil {
		return core.TokenSet{}
	}
	return core.TokenSet{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Version:      r.Version,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
		ExpiresAt:    r.ExpiresAt.UTC(),
		CreatedAt:    r.CreatedAt,
	}
}
