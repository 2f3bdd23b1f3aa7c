package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/learnmarket/coursewallet/internal/httpx"
	"github.com/learnmarket/coursewallet/pkg/purchase"
)

const (
	refreshGroupKey = "token_refresh"

	// accessExpiryLeeway triggers a proactive refresh shortly before the
	// access token's exp claim instead of waiting for a 401.
	accessExpiryLeeway = 30 * time.Second
)

// TokenPair is the durable access/refresh token pair. A single active
// pair exists per client profile.
type TokenPair struct {
	Access  string
	Refresh string
}

// TokenStore persists the token pair. Mutations are immediately visible
// to every component; there is no cache in front of it.
type TokenStore interface {
	Load(ctx context.Context) (TokenPair, bool, error)
	Save(ctx context.Context, pair TokenPair) error
	UpdateAccess(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// Config wires a Client.
type Config struct {
	// BaseURL is the backend API root, without a trailing slash.
	BaseURL string
	// CallbackURL is where the gateway sends the browser back to.
	CallbackURL string
	HTTP        httpx.Doer
	Tokens      TokenStore
	Logger      *zap.Logger
}

// Client talks to the marketplace backend. Authenticated requests carry
// the stored access token; a 401 triggers one single-flight refresh and
// exactly one retry of the original request.
type Client struct {
	baseURL      string
	callbackURL  string
	http         httpx.Doer
	tokens       TokenStore
	logger       *zap.Logger
	courseCache  CourseCache
	refreshGroup singleflight.Group
}

// New wires a Client.
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("backend: base url is required")
	}
	if config.HTTP == nil {
		return nil, fmt.Errorf("backend: http doer is required")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("backend: token store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		callbackURL: config.CallbackURL,
		http:        config.HTTP,
		tokens:      config.Tokens,
		logger:      logger,
	}, nil
}

// StatusError carries a non-2xx backend response for endpoint-specific
// taxonomy mapping.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error returns the formatted error message.
func (statusError *StatusError) Error() string {
	if statusError.Message == "" {
		return fmt.Sprintf("backend returned status %d", statusError.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", statusError.StatusCode, statusError.Message)
}

type apiErrorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// doAuthenticated issues a request with the stored access token. On 401
// with a refresh token available it refreshes once (concurrent callers
// share one in-flight refresh) and retries the original request exactly
// once; refresh failure clears the pair and forces re-authentication.
func (client *Client) doAuthenticated(ctx context.Context, method string, path string, payload any, out any) error {
	pair, hasTokens, err := client.tokens.Load(ctx)
	if err != nil {
		return purchase.WrapError("backend", "tokens", "load", err)
	}
	if !hasTokens {
		return purchase.WrapError("backend", "auth", "missing_tokens", purchase.ErrNotAuthenticated)
	}

	access := pair.Access
	if pair.Refresh != "" && accessTokenExpiring(access, time.Now()) {
		if refreshed, refreshErr := client.refreshAccess(ctx, pair.Refresh); refreshErr == nil {
			access = refreshed
		}
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return purchase.WrapError("backend", "request", "encode", err)
	}

	// One key per logical operation: the post-refresh retry reuses it so
	// the server can deduplicate if the first attempt landed.
	idempotencyKey := ""
	if method != http.MethodGet {
		idempotencyKey = uuid.NewString()
	}

	response, err := client.send(ctx, method, path, body, access, idempotencyKey)
	if err != nil {
		return purchase.WrapError("backend", "request", "transport", err)
	}

	if response.StatusCode == http.StatusUnauthorized && pair.Refresh != "" {
		drain(response)
		refreshed, refreshErr := client.refreshAccess(ctx, pair.Refresh)
		if refreshErr != nil {
			return refreshErr
		}
		response, err = client.send(ctx, method, path, body, refreshed, idempotencyKey)
		if err != nil {
			return purchase.WrapError("backend", "request", "transport", err)
		}
	}

	return decodeResponse(response, out)
}

// doPublic issues a request without authentication or retry.
func (client *Client) doPublic(ctx context.Context, method string, path string, payload any, out any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return purchase.WrapError("backend", "request", "encode", err)
	}
	response, err := client.send(ctx, method, path, body, "", "")
	if err != nil {
		return purchase.WrapError("backend", "request", "transport", err)
	}
	return decodeResponse(response, out)
}

// refreshAccess performs the single-flight token refresh. Every caller
// observing a 401 awaits the same in-flight call instead of issuing its
// own.
func (client *Client) refreshAccess(ctx context.Context, refreshToken string) (string, error) {
	value, err, _ := client.refreshGroup.Do(refreshGroupKey, func() (any, error) {
		var result struct {
			Access string `json:"access"`
		}
		refreshErr := client.doPublic(ctx, http.MethodPost, "/auth/token/refresh", map[string]string{"refresh": refreshToken}, &result)
		if refreshErr != nil || result.Access == "" {
			// Irrecoverable: drop the pair so the next call forces a
			// fresh login instead of looping on a dead refresh token.
			_ = client.tokens.Clear(ctx)
			client.logger.Warn("token refresh failed, session cleared", zap.Error(refreshErr))
			return nil, purchase.WrapError("backend", "auth", "refresh", purchase.ErrNotAuthenticated)
		}
		if storeErr := client.tokens.UpdateAccess(ctx, result.Access); storeErr != nil {
			return nil, purchase.WrapError("backend", "tokens", "update", storeErr)
		}
		return result.Access, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (client *Client) send(ctx context.Context, method string, path string, body []byte, access string, idempotencyKey string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if access != "" && request.Header.Get("Authorization") == "" {
		request.Header.Set("Authorization", "Bearer "+access)
	}
	if idempotencyKey != "" {
		request.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return client.http.Do(ctx, request)
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func decodeResponse(response *http.Response, out any) error {
	defer func() { _ = response.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return purchase.WrapError("backend", "response", "read", err)
	}
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return purchase.WrapError("backend", "response", "decode", err)
		}
		return nil
	}
	if response.StatusCode == http.StatusUnauthorized {
		return purchase.WrapError("backend", "auth", "unauthorized", purchase.ErrNotAuthenticated)
	}
	return &StatusError{
		StatusCode: response.StatusCode,
		Message:    extractErrorMessage(raw),
	}
}

// extractErrorMessage flattens the backend's error body into one line; a
// known code never surfaces the raw server string to the user, but the
// message still travels with the error for logs.
func extractErrorMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.Message != "" {
		return body.Message
	}
	if body.Error != "" {
		return body.Error
	}
	if len(body.Errors) > 0 {
		parts := make([]string, 0, len(body.Errors))
		for field, messages := range body.Errors {
			parts = append(parts, field+": "+strings.Join(messages, ", "))
		}
		return strings.Join(parts, "; ")
	}
	return strings.TrimSpace(string(raw))
}

func drain(response *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 1<<16))
	_ = response.Body.Close()
}

// accessTokenExpiring reports whether the access token's exp claim falls
// within the refresh leeway. Unparseable tokens are left for the server
// to reject.
func accessTokenExpiring(access string, now time.Time) bool {
	if access == "" {
		return false
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(access, claims); err != nil {
		return false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return false
	}
	return now.Add(accessExpiryLeeway).After(expiry.Time)
}
