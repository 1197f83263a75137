package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-ticketmail/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider

	connectionStore       *ConnectionStore
	tokenSetStore         *TokenSetStore
	authSessionStore      *AuthSessionStore
	processingRecordStore *ProcessingRecordStore
	threadLinkStore       *ThreadLinkStore
}

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals token material at rest.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.tokenSetStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) TokenSetStore() core.TokenSetStore {
	if f == nil {
		return nil
	}
	return f.tokenSetStore
}

func (f *RepositoryFactory) AuthorizationSessionStore() core.AuthorizationSessionStore {
	if f == nil {
		return nil
	}
	return f.authSessionStore
}

func (f *RepositoryFactory) ProcessingRecordStore() core.ProcessingRecordStore {
	if f == nil {
		return nil
	}
	return f.processingRecordStore
}

func (f *RepositoryFactory) ThreadLinkStore() core.ThreadLinkStore {
	if f == nil {
		return nil
	}
	return f.threadLinkStore
}

func (f *RepositoryFactory) initStores() error {
	connectionRepo := repository.NewRepository[*connectionRecord](f.db, connectionHandlers())
	if err := validateRepository(connectionRepo, "connection"); err != nil {
		return err
	}
	tokenSetRepo := repository.NewRepository[*tokenSetRecord](f.db, tokenSetHandlers())
	if err := validateRepository(tokenSetRepo, "token set"); err != nil {
		return err
	}
	recordRepo := repository.NewRepository[*processingRecordRow](f.db, processingRecordHandlers())
	if err := validateRepository(recordRepo, "processing record"); err != nil {
		return err
	}
	linkRepo := repository.NewRepository[*threadLinkRecord](f.db, threadLinkHandlers())
	if err := validateRepository(linkRepo, "thread link"); err != nil {
		return err
	}

	sessionStore, err := NewAuthSessionStore(f.db)
	if err != nil {
		return err
	}

	f.connectionStore = &ConnectionStore{db: f.db, repo: connectionRepo}
	f.tokenSetStore = &TokenSetStore{db: f.db, repo: tokenSetRepo, secrets: f.secrets}
	f.authSessionStore = sessionStore
	f.processingRecordStore = &ProcessingRecordStore{db: f.db, repo: recordRepo}
	f.threadLinkStore = &ThreadLinkStore{db: f.db, repo: linkRepo}
	return nil
}

func validateRepository(repo any, name string) error {
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
