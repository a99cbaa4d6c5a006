// Package transport implements the remote collaborator of the sync core:
// an HTTP client speaking the productivity service's sync surface with a
// bearer credential on every call.
//
// Errors are classified into the taxonomy the engine's retry policy is
// built on: OfflineError (network-level, always retryable), TransportError
// (non-2xx, retryable up to the ceiling), AuthError (credential rejected
// or locally expired, never worth a retry without a new credential).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/model"
	"github.com/erauner12/daykeep/internal/syncx"
)

// TokenSource supplies the bearer credential for outbound calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the remote service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// New creates a client for the given base URL.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
}

// entityPath maps an entity to its REST collection path.
func entityPath(e model.EntityType) (string, bool) {
	switch e {
	case model.EntityTask:
		return "/tasks", true
	case model.EntityExpense:
		return "/expenses", true
	case model.EntityHabit:
		return "/habits", true
	case model.EntityJournal:
		return "/journal", true
	case model.EntitySettings:
		return "/settings", true
	}
	return "", false
}

// Push transmits one queued mutation. Upserts POST (or PUT, for settings)
// the full record; deletes issue a REST delete keyed by the payload id.
func (c *Client) Push(ctx context.Context, typ model.QueueType, payload []byte) error {
	entity := typ.Entity()
	path, ok := entityPath(entity)
	if !ok {
		return fmt.Errorf("unpushable queue type %q", typ)
	}

	if typ.IsDelete() {
		env, _, err := syncx.ExtractBytes(payload)
		if err != nil {
			return fmt.Errorf("delete payload for %s: %w", typ, err)
		}
		_, err = c.do(ctx, http.MethodDelete, path+"/"+url.PathEscape(env.ID), nil)
		return err
	}

	method := http.MethodPost
	if entity == model.EntitySettings {
		method = http.MethodPut
	}
	_, err := c.do(ctx, method, path, payload)
	return err
}

// syncResponse is the wire shape of GET /sync.
type syncResponse struct {
	Tasks    []map[string]any `json:"tasks"`
	Expenses []map[string]any `json:"expenses"`
	Journal  []map[string]any `json:"journal"`
}

// FetchChanges pulls every remote change with timestamp greater than the
// checkpoint, grouped by entity type.
func (c *Client) FetchChanges(ctx context.Context, sinceMs int64) (map[model.EntityType][]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/sync?since="+strconv.FormatInt(sinceMs, 10), nil)
	if err != nil {
		return nil, err
	}

	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return map[model.EntityType][]map[string]any{
		model.EntityTask:    resp.Tasks,
		model.EntityExpense: resp.Expenses,
		model.EntityJournal: resp.Journal,
	}, nil
}

// UploadBackup stores a full export on the remote.
func (c *Client) UploadBackup(ctx context.Context, data []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/backup", data)
	return err
}

// FetchLatestBackup retrieves the most recent remote backup.
func (c *Client) FetchLatestBackup(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/backup/latest", nil)
}

// Probe reports whether the remote is reachable at the network level. Any
// HTTP response counts as reachable — an auth failure still proves
// connectivity.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/sync?since=0", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	correlationID := uuid.New().String()
	logger := log.With().
		Str("method", method).
		Str("path", path).
		Str("correlationId", correlationID).
		Logger()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, AuthError{Reason: fmt.Sprintf("credential source: %v", err)}
	}
	if token == "" {
		return nil, AuthError{Reason: "missing credential"}
	}
	if reason, expired := tokenExpired(token); expired {
		// Fail before burning a network call: the remote would reject it.
		return nil, AuthError{Reason: reason}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("request failed at network level")
		return nil, OfflineError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, OfflineError{Err: err}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, AuthError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, TransportError{Status: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}
	return respBody, nil
}

// tokenExpired checks a JWT credential's exp claim without verifying the
// signature. Opaque (non-JWT) tokens pass through; the remote is the
// authority for those.
func tokenExpired(token string) (string, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", false
	}
	if exp.Before(time.Now()) {
		return fmt.Sprintf("credential expired at %s", exp.UTC().Format(time.RFC3339)), true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
