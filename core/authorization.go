package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"
)

const stateEntropyBytes = 32

// GenerateAuthURL starts a PKCE authorization attempt and persists its session.
func (s *Service) GenerateAuthURL(ctx context.Context, req AuthURLRequest) (response AuthURLResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user_id":   req.UserID,
		"tenant_id": req.TenantID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "generate_auth_url", err, fields)
	}()

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.TenantID) == "" {
		err = s.mapError(fmt.Errorf("core: user id and tenant id are required"))
		return AuthURLResponse{}, err
	}
	if s.oauthClient == nil {
		err = NewConfigurationError("oauth client is not configured")
		return AuthURLResponse{}, err
	}
	if strings.TrimSpace(req.ClientID) == "" {
		req.ClientID = s.config.OAuth.ClientID
	}
	if s.rateLimiter != nil {
		key := "auth:" + req.TenantID + ":" + req.UserID
		if !s.rateLimiter.CheckLimit(key, RateLimitConfig{Window: time.Minute, MaxRequests: 10}) {
			err = NewRateLimitedError(key)
			return AuthURLResponse{}, err
		}
	}

	state, err := generateState()
	if err != nil {
		err = s.mapError(err)
		return AuthURLResponse{}, err
	}
	verifier := oauth2.GenerateVerifier()

	now := s.currentTime()
	ttl := s.config.OAuth.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if err = s.sessionStore.Save(ctx, AuthorizationSession{
		State:        state,
		CodeVerifier: verifier,
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		ClientID:     req.ClientID,
		RedirectURI:  s.config.OAuth.RedirectURI,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}); err != nil {
		err = s.mapError(NewPersistenceError("save authorization session", err))
		return AuthURLResponse{}, err
	}

	return AuthURLResponse{
		AuthURL:      s.oauthClient.AuthCodeURL(state, verifier),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// HandleCallback consumes the session identified by state, exchanges the code
// and activates the owning connection.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (connection Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		if connection.ID != "" {
			fields["connection_id"] = connection.ID
		}
		s.observeOperation(ctx, startedAt, "handle_callback", err, fields)
	}()

	state := strings.TrimSpace(req.State)
	if state == "" || strings.TrimSpace(req.Code) == "" {
		err = newServiceError("authorization code and state are required", goerrors.CategoryAuth, ErrorSessionInvalid)
		return Connection{}, err
	}

	session, err := s.sessionStore.Get(ctx, state)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			err = newServiceError("authorization session not found", goerrors.CategoryAuth, ErrorSessionInvalid)
			return Connection{}, err
		}
		err = s.mapError(NewPersistenceError("load authorization session", err))
		return Connection{}, err
	}
	fields["user_id"] = session.UserID
	fields["tenant_id"] = session.TenantID

	if session.ExpiredAt(s.currentTime()) {
		if deleteErr := s.sessionStore.Delete(ctx, state); deleteErr != nil {
			s.logWarn(ctx, "expired session delete failed", map[string]any{"error": deleteErr.Error()})
		}
		err = newServiceError("authorization session expired", goerrors.CategoryAuth, ErrorSessionExpired)
		return Connection{}, err
	}

	connection, found, err := s.connectionStore.FindCurrent(ctx, session.UserID, session.TenantID, session.ClientID)
	if err != nil {
		err = s.mapError(NewPersistenceError("find connection", err))
		return Connection{}, err
	}
	if !found {
		err = newServiceError("no connection provisioned for user", goerrors.CategoryNotFound, ErrorNoActiveConnection)
		return Connection{}, err
	}
	if s.oauthClient == nil {
		err = NewConfigurationError("oauth client is not configured")
		return Connection{}, err
	}

	exchangeCtx, cancel := s.requestContext(ctx)
	defer cancel()
	token, exchangeErr := s.oauthClient.Exchange(exchangeCtx, req.Code, session.CodeVerifier)
	if exchangeErr != nil {
		err = ensureServiceErrorEnvelope(
			goerrors.Wrap(exchangeErr, goerrors.CategoryAuth, "token exchange failed").
				WithTextCode(ErrorTokenExchangeFailed),
		)
		return Connection{}, err
	}

	if _, err = s.tokenSetStore.Append(ctx, SaveTokenSetInput{
		ConnectionID: connection.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		ExpiresAt:    token.ExpiresAt,
	}); err != nil {
		err = s.mapError(NewPersistenceError("append token set", err))
		return Connection{}, err
	}
	if err = s.sessionStore.Delete(ctx, state); err != nil {
		err = s.mapError(NewPersistenceError("delete authorization session", err))
		return Connection{}, err
	}
	if !connection.Active {
		if err = s.connectionStore.SetActive(ctx, connection.ID, true); err != nil {
			err = s.mapError(NewPersistenceError("activate connection", err))
			return Connection{}, err
		}
		connection.Active = true
		connection.UpdatedAt = s.currentTime()
	}
	return connection, nil
}

// RevokeTokens revokes remotely on a best-effort basis and always removes
// every stored token set for the connection.
func (s *Service) RevokeTokens(ctx context.Context, connectionID string) (revoked bool, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_tokens", err, fields)
	}()

	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		err = s.mapError(fmt.Errorf("core: connection id is required"))
		return false, err
	}

	current, latestErr := s.tokenSetStore.Latest(ctx, connectionID)
	switch {
	case latestErr == nil:
		s.revokeRemote(ctx, connectionID, current)
	case errors.Is(latestErr, ErrTokenSetNotFound):
		fields["token_sets"] = 0
	default:
		s.logWarn(ctx, "token set lookup before revocation failed", map[string]any{
			"connection_id": connectionID,
			"error":         latestErr.Error(),
		})
	}

	deleted, err := s.tokenSetStore.DeleteAll(ctx, connectionID)
	if err != nil {
		err = s.mapError(NewPersistenceError("delete token sets", err))
		return false, err
	}
	fields["deleted"] = deleted
	return true, nil
}

func (s *Service) revokeRemote(ctx context.Context, connectionID string, tokens TokenSet) {
	if s.oauthClient == nil {
		return
	}
	revokeCtx, cancel := s.requestContext(ctx)
	defer cancel()

	token, hint := tokens.RefreshToken, "refresh_token"
	if strings.TrimSpace(token) == "" {
		token, hint = tokens.AccessToken, "access_token"
	}
	if strings.TrimSpace(token) == "" {
		return
	}
	if err := s.oauthClient.Revoke(revokeCtx, token, hint); err != nil {
		s.logWarn(ctx, "remote token revocation failed", map[string]any{
			"connection_id": connectionID,
			"error":         err.Error(),
		})
	}
}

// DisconnectConnection revokes tokens, deactivates and soft-deletes the connection.
func (s *Service) DisconnectConnection(ctx context.Context, connectionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect_connection", err, fields)
	}()

	if _, err = s.connectionStore.Get(ctx, connectionID); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			err = NewConnectionInvalidError(connectionID, "not found")
			return err
		}
		err = s.mapError(NewPersistenceError("load connection", err))
		return err
	}
	if _, err = s.RevokeTokens(ctx, connectionID); err != nil {
		return err
	}
	if err = s.connectionStore.SetActive(ctx, connectionID, false); err != nil {
		err = s.mapError(NewPersistenceError("deactivate connection", err))
		return err
	}
	if err = s.connectionStore.SoftDelete(ctx, connectionID); err != nil {
		err = s.mapError(NewPersistenceError("soft delete connection", err))
		return err
	}
	return nil
}

// CleanupExpiredSessions sweeps expired authorization sessions. Failures are
// logged and reported as zero removals.
func (s *Service) CleanupExpiredSessions(ctx context.Context) int {
	if s == nil || s.sessionStore == nil {
		return 0
	}
	removed, err := s.sessionStore.DeleteExpired(ctx, s.currentTime())
	if err != nil {
		s.logError(ctx, "expired session cleanup failed", map[string]any{"error": err.Error()})
		return 0
	}
	if removed > 0 {
		s.logInfo(ctx, "expired sessions removed", map[string]any{"removed": removed})
	}
	return removed
}

func generateState() (string, error) {
	raw := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CodeChallenge derives the S256 PKCE challenge for verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
