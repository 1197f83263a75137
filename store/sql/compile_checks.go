package sqlstore

import "github.com/goliatone/go-ticketmail/core"

var (
	_ core.ConnectionStore           = (*ConnectionStore)(nil)
	_ core.TokenSetStore             = (*TokenSetStore)(nil)
	_ core.TokenSetStore             = (*CachedTokenSetStore)(nil)
	_ core.AuthorizationSessionStore = (*AuthSessionStore)(nil)
	_ core.ProcessingRecordStore     = (*ProcessingRecordStore)(nil)
	_ core.ThreadLinkStore           = (*ThreadLinkStore)(nil)
	_ core.StoreProvider             = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory    = (*RepositoryFactory)(nil)
)
