package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ticketmail/core"
	"golang.org/x/oauth2"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type OAuth2Config struct {
	ID                  string
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	Scopes              []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          *http.Client
}

// OAuth2Client speaks the authorization code flow with PKCE against one
// identity provider. Credentials are always sent in the form body.
type OAuth2Client struct {
	cfg        OAuth2Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewOAuth2Client(cfg OAuth2Config) (*OAuth2Client, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)

	if err := (core.OAuthConfig{
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
	}).ValidateOAuth(); err != nil {
		return nil, err
	}

	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &OAuth2Client{
		cfg:        cfg,
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       append([]string(nil), cfg.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

// NewOAuth2ClientFromConfig builds a client from the service oauth settings.
func NewOAuth2ClientFromConfig(id string, cfg core.OAuthConfig, httpClient *http.Client) (*OAuth2Client, error) {
	return NewOAuth2Client(OAuth2Config{
		ID:           id,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		HTTPClient:   httpClient,
	})
}

func (p *OAuth2Client) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (p *OAuth2Client) Scopes() []string {
	if p == nil {
		return []string{}
	}
	return append([]string(nil), p.cfg.Scopes...)
}

// AuthCodeURL renders the authorize URL with an S256 challenge derived from verifier.
func (p *OAuth2Client) AuthCodeURL(state string, verifier string) string {
	if p == nil {
		return ""
	}
	return p.oauth.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
}

func (p *OAuth2Client) Exchange(ctx context.Context, code string, verifier string) (core.TokenResponse, error) {
	if p == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: auth code is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()
	requestCtx = context.WithValue(requestCtx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(requestCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return core.TokenResponse{}, mapRetrieveError("token_exchange", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: token endpoint response missing access token")
	}

	scope := readAnyString(token.Extra("scope"))
	if scope == "" {
		scope = strings.Join(p.cfg.Scopes, " ")
	}
	expiresAt := token.Expiry.UTC()
	if token.Expiry.IsZero() {
		expiresAt = p.cfg.Now().UTC().Add(p.cfg.TokenTTL)
	}
	return core.TokenResponse{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    normalizeTokenType(token.TokenType),
		Scope:        scope,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh redeems refreshToken. The request carries the configured scope set
// because some identity platforms downscope refreshed tokens without it.
func (p *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (core.TokenResponse, error) {
	if p == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if len(p.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}

	token, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenResponse{}, err
	}
	scope := strings.TrimSpace(token.Scope)
	if scope == "" {
		scope = strings.Join(p.cfg.Scopes, " ")
	}
	return core.TokenResponse{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    normalizeTokenType(token.TokenType),
		Scope:        scope,
		ExpiresAt:    p.resolveExpiresAt(p.cfg.Now().UTC(), token.ExpiresIn),
	}, nil
}

// Revoke performs an RFC 7009 revocation. Without a revocation endpoint it is a no-op.
func (p *OAuth2Client) Revoke(ctx context.Context, token string, tokenTypeHint string) error {
	if p == nil {
		return fmt.Errorf("providers: oauth2 client is nil")
	}
	if p.cfg.RevokeURL == "" || strings.TrimSpace(token) == "" {
		return nil
	}
	form := url.Values{}
	form.Set("token", strings.TrimSpace(token))
	if hint := strings.TrimSpace(tokenTypeHint); hint != "" {
		form.Set("token_type_hint", hint)
	}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	response, body, err := p.postForm(ctx, p.cfg.RevokeURL, form)
	if err != nil {
		return fmt.Errorf("providers: revoke request failed: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return &core.UpstreamError{
			Operation:  "token_revoke",
			StatusCode: response.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	}
	return nil
}

func (p *OAuth2Client) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", p.cfg.ClientID)
	values.Set("client_secret", p.cfg.ClientSecret)

	response, body, err := p.postForm(ctx, p.cfg.TokenURL, values)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token request failed: %w", err)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail := string(body)
		if parseErr == nil {
			detail = describeTokenError(payload)
		}
		return tokenEndpointPayload{}, &core.UpstreamError{
			Operation:  "token_refresh",
			StatusCode: response.StatusCode,
			Body:       detail,
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("providers: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("providers: token endpoint response missing access token")
	}
	return payload, nil
}

func (p *OAuth2Client) postForm(ctx context.Context, endpoint string, values url.Values) (*http.Response, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return nil, nil, fmt.Errorf("response exceeds %d bytes", maxTokenResponseBodyBytes)
	}
	return response, body, nil
}

func mapRetrieveError(operation string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		body := strings.TrimSpace(retrieveErr.ErrorDescription)
		if body == "" {
			body = strings.TrimSpace(retrieveErr.ErrorCode)
		}
		if body == "" {
			body = string(retrieveErr.Body)
		}
		return &core.UpstreamError{
			Operation:  operation,
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       body,
		}
	}
	return fmt.Errorf("providers: %s failed: %w", operation, err)
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func (p *OAuth2Client) resolveExpiresAt(now time.Time, expiresIn int64) time.Time {
	ttl := p.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	return now.Add(ttl)
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func normalizeTokenType(value string) string {
	normalized := strings.TrimSpace(value)
	if normalized == "" || strings.EqualFold(normalized, "bearer") {
		return "Bearer"
	}
	return normalized
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

// normalizeScopes trims and dedupes while keeping the configured order.
func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

var _ core.OAuthClient = (*OAuth2Client)(nil)
