package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput            = "MAILSYNC_BAD_INPUT"
	ErrorConfiguration       = "MAILSYNC_CONFIGURATION"
	ErrorConnectionInvalid   = "MAILSYNC_CONNECTION_INVALID"
	ErrorConnectionInactive  = "MAILSYNC_CONNECTION_INACTIVE"
	ErrorNoCredential        = "MAILSYNC_NO_CREDENTIAL"
	ErrorTokenRefreshFailed  = "MAILSYNC_TOKEN_REFRESH_FAILED"
	ErrorSessionInvalid      = "MAILSYNC_SESSION_INVALID"
	ErrorSessionExpired      = "MAILSYNC_SESSION_EXPIRED"
	ErrorNoActiveConnection  = "MAILSYNC_NO_ACTIVE_CONNECTION"
	ErrorTokenExchangeFailed = "MAILSYNC_TOKEN_EXCHANGE_FAILED"
	ErrorUpstream            = "MAILSYNC_UPSTREAM"
	ErrorPersistence         = "MAILSYNC_PERSISTENCE"
	ErrorRateLimited         = "MAILSYNC_RATE_LIMITED"
	ErrorInternal            = "MAILSYNC_INTERNAL_ERROR"
)

var (
	ErrConnectionNotFound = errors.New("core: connection not found")
	ErrTokenSetNotFound   = errors.New("core: token set not found")
	ErrSessionNotFound    = errors.New("core: authorization session not found")
	ErrRecordNotFound     = errors.New("core: processing record not found")
	ErrThreadLinkConflict = errors.New("core: conversation already linked to a ticket")
)

// UpstreamError carries a non-2xx response from a remote API.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	if e.Operation == "" {
		return fmt.Sprintf("upstream error (%d): %s", e.StatusCode, body)
	}
	return fmt.Sprintf("upstream %s error (%d): %s", e.Operation, e.StatusCode, body)
}

func (e *UpstreamError) Retryable() bool {
	if e == nil {
		return false
	}
	return isRetryableStatus(e.StatusCode)
}

func (e *UpstreamError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category := goerrors.CategoryExternal
	if e.StatusCode == http.StatusTooManyRequests {
		category = goerrors.CategoryRateLimit
	}
	metadata := map[string]any{
		"status_code": e.StatusCode,
		"retryable":   e.Retryable(),
	}
	if e.Operation != "" {
		metadata["operation"] = e.Operation
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return ensureServiceErrorEnvelope(
		goerrors.New(e.Error(), category).
			WithTextCode(ErrorUpstream).
			WithCode(upstreamHTTPStatus(e.StatusCode)).
			WithMetadata(metadata),
	)
}

func NewConfigurationError(message string) *goerrors.Error {
	return newServiceError("configuration: "+message, goerrors.CategoryInternal, ErrorConfiguration)
}

func NewConnectionInvalidError(connectionID string, reason string) *goerrors.Error {
	err := newServiceError("connection is invalid: "+reason, goerrors.CategoryNotFound, ErrorConnectionInvalid)
	return err.WithMetadata(map[string]any{"connection_id": connectionID})
}

func NewConnectionInactiveError(connectionID string) *goerrors.Error {
	err := newServiceError("connection is not active", goerrors.CategoryConflict, ErrorConnectionInactive)
	return err.WithMetadata(map[string]any{"connection_id": connectionID})
}

func NewNoCredentialError(connectionID string) *goerrors.Error {
	err := newServiceError("connection has no stored credential", goerrors.CategoryAuth, ErrorNoCredential)
	return err.WithMetadata(map[string]any{"connection_id": connectionID})
}

func NewTokenRefreshFailedError(connectionID string, reason string) *goerrors.Error {
	err := newServiceError("token refresh failed: "+reason, goerrors.CategoryAuth, ErrorTokenRefreshFailed)
	return err.WithMetadata(map[string]any{"connection_id": connectionID})
}

func NewPersistenceError(operation string, source error) *goerrors.Error {
	message := "persistence failure during " + operation
	if source == nil {
		err := newServiceError(message, goerrors.CategoryInternal, ErrorPersistence)
		return err.WithMetadata(map[string]any{"operation": operation})
	}
	err := ensureServiceErrorEnvelope(
		goerrors.Wrap(source, goerrors.CategoryInternal, message).WithTextCode(ErrorPersistence),
	)
	return err.WithMetadata(map[string]any{"operation": operation})
}

func NewRateLimitedError(key string) *goerrors.Error {
	err := newServiceError("rate limit exceeded", goerrors.CategoryRateLimit, ErrorRateLimited)
	return err.WithMetadata(map[string]any{"key": key})
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
	}
	return false
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.ToServiceError()
	}

	switch {
	case errors.Is(err, ErrConnectionNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorConnectionInvalid)
	case errors.Is(err, ErrTokenSetNotFound):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorNoCredential)
	case errors.Is(err, ErrSessionNotFound):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorSessionInvalid)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorConnectionInvalid
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorTokenRefreshFailed
	case goerrors.CategoryConflict:
		return ErrorConnectionInactive
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstream
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func upstreamHTTPStatus(status int) int {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return status
	default:
		return http.StatusBadGateway
	}
}
