package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultRefreshBuffer = 5 * time.Minute

// GetAccessToken returns a token that stays valid beyond the refresh buffer,
// refreshing first when the stored one is about to expire.
func (s *Service) GetAccessToken(ctx context.Context, connectionID string) (token string, err error) {
	token, _, err = s.accessToken(ctx, connectionID)
	return token, err
}

// accessToken also reports whether the token had to be refreshed first.
func (s *Service) accessToken(ctx context.Context, connectionID string) (string, bool, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return "", false, s.mapError(errors.New("core: connection id is required"))
	}

	current, err := s.tokenSetStore.Latest(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ErrTokenSetNotFound) {
			return "", false, NewNoCredentialError(connectionID)
		}
		return "", false, s.mapError(NewPersistenceError("load token set", err))
	}
	if current.FreshAt(s.currentTime(), s.refreshBuffer()) {
		return current.AccessToken, false, nil
	}

	refreshed, err := s.RefreshToken(ctx, connectionID)
	if err != nil {
		return "", false, err
	}
	if !refreshed {
		return "", false, NewTokenRefreshFailedError(connectionID, "token endpoint rejected the refresh")
	}

	latest, err := s.tokenSetStore.Latest(ctx, connectionID)
	if err != nil {
		return "", true, s.mapError(NewPersistenceError("load token set", err))
	}
	if strings.TrimSpace(latest.AccessToken) == "" {
		return "", true, NewTokenRefreshFailedError(connectionID, "refreshed token set has no access token")
	}
	return latest.AccessToken, true, nil
}

// RefreshToken exchanges the latest refresh token for a new token set. A
// missing refresh token or a rejected exchange returns false and leaves stored
// state untouched. A connection without any token set is a hard failure.
func (s *Service) RefreshToken(ctx context.Context, connectionID string) (bool, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return false, s.mapError(errors.New("core: connection id is required"))
	}

	// concurrent callers for one connection share a single upstream exchange
	result, err, _ := s.refreshGroup.Do(connectionID, func() (any, error) {
		return s.refreshOnce(ctx, connectionID)
	})
	if err != nil {
		return false, err
	}
	refreshed, _ := result.(bool)
	return refreshed, nil
}

func (s *Service) refreshOnce(ctx context.Context, connectionID string) (refreshed bool, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": connectionID,
	}
	defer func() {
		fields["refreshed"] = refreshed
		s.observeOperation(ctx, startedAt, "refresh_token", err, fields)
	}()

	current, err := s.tokenSetStore.Latest(ctx, connectionID)
	if err != nil {
		if errors.Is(err, ErrTokenSetNotFound) {
			err = NewNoCredentialError(connectionID)
			return false, err
		}
		err = s.mapError(NewPersistenceError("load token set", err))
		return false, err
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		fields["refresh_error"] = "no refresh token stored"
		s.logWarn(ctx, "token refresh skipped", map[string]any{
			"connection_id": connectionID,
			"reason":        "no refresh token stored",
		})
		return false, nil
	}
	if s.oauthClient == nil {
		err = NewConfigurationError("oauth client is not configured")
		return false, err
	}

	exchangeCtx, cancel := s.requestContext(ctx)
	defer cancel()
	response, exchangeErr := s.oauthClient.Refresh(exchangeCtx, current.RefreshToken)
	if exchangeErr != nil {
		fields["refresh_error"] = exchangeErr.Error()
		s.logWarn(ctx, "token refresh rejected", map[string]any{
			"connection_id": connectionID,
			"error":         exchangeErr.Error(),
		})
		return false, nil
	}
	if strings.TrimSpace(response.AccessToken) == "" {
		fields["refresh_error"] = "empty access token"
		return false, nil
	}

	refreshToken := response.RefreshToken
	if strings.TrimSpace(refreshToken) == "" {
		refreshToken = current.RefreshToken
	}
	scope := response.Scope
	if strings.TrimSpace(scope) == "" {
		scope = current.Scope
	}
	tokenType := response.TokenType
	if strings.TrimSpace(tokenType) == "" {
		tokenType = current.TokenType
	}
	appended, appendErr := s.tokenSetStore.Append(ctx, SaveTokenSetInput{
		ConnectionID: connectionID,
		AccessToken:  response.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		Scope:        scope,
		ExpiresAt:    response.ExpiresAt,
	})
	if appendErr != nil {
		err = s.mapError(NewPersistenceError("append token set", appendErr))
		return false, err
	}
	fields["token_expires_at"] = appended.ExpiresAt
	return true, nil
}

func (s *Service) refreshBuffer() time.Duration {
	if s.config.OAuth.RefreshBuffer > 0 {
		return s.config.OAuth.RefreshBuffer
	}
	return defaultRefreshBuffer
}

func (s *Service) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.HTTP.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
