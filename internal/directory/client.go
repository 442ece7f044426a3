// Package directory is the REST client for the agent backend's session
// directory: the agent catalog, session lifecycle requests and persisted
// messages.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/protocol"
)

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("directory: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("directory: HTTP %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps well-known status codes onto domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return domain.ErrUnavailable
	default:
		return nil
	}
}

// Config holds the client settings.
type Config struct {
	// BaseURL is the REST origin, e.g. "http://localhost:5500".
	BaseURL string

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Zero means 10s.
	Timeout time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client talks to the session directory.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("directory.New: invalid base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{baseURL: base, httpClient: httpClient, limiter: limiter}, nil
}

type sessionWire struct {
	ID        domain.SessionID     `json:"session_id"`
	AgentName string               `json:"agent_name"`
	Status    domain.SessionStatus `json:"status"`
	CreatedAt protocol.Timestamp   `json:"created_at"`
}

func (w sessionWire) toDomain() domain.Session {
	return domain.Session{
		ID:        w.ID,
		AgentName: w.AgentName,
		Status:    w.Status,
		CreatedAt: w.CreatedAt.Time,
	}
}

type messageWire struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Timestamp protocol.Timestamp `json:"timestamp"`
}

// ListAgents returns the agent catalog.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var out struct {
		Agents []domain.Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/agents", &out); err != nil {
		return nil, fmt.Errorf("directory.Client.ListAgents: %w", err)
	}
	return out.Agents, nil
}

// ListSessions returns every known session, newest first as the server
// orders them.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out struct {
		Sessions []sessionWire `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", &out); err != nil {
		return nil, fmt.Errorf("directory.Client.ListSessions: %w", err)
	}
	return lo.Map(out.Sessions, func(w sessionWire, _ int) domain.Session { return w.toDomain() }), nil
}

// Create asks the backend to start a new session for agentName.
func (c *Client) Create(ctx context.Context, agentName string) (domain.Session, error) {
	q := url.Values{"agent_name": {agentName}}
	var out sessionWire
	if err := c.do(ctx, http.MethodPost, "/sessions?"+q.Encode(), &out); err != nil {
		return domain.Session{}, fmt.Errorf("directory.Client.Create: %w", err)
	}
	if out.ID == "" {
		return domain.Session{}, errors.New("directory.Client.Create: response has no session_id")
	}
	if out.AgentName == "" {
		out.AgentName = agentName
	}
	return out.toDomain(), nil
}

// Get fetches a session's current record.
func (c *Client) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var out sessionWire
	if err := c.do(ctx, http.MethodGet, sessionPath(id), &out); err != nil {
		return domain.Session{}, fmt.Errorf("directory.Client.Get: %w", err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.toDomain(), nil
}

// Stop asks the backend to stop the session's agent.
func (c *Client) Stop(ctx context.Context, id domain.SessionID) error {
	if err := c.do(ctx, http.MethodPost, sessionPath(id)+"/stop", nil); err != nil {
		return fmt.Errorf("directory.Client.Stop: %w", err)
	}
	return nil
}

// Restart asks the backend to respawn the session's agent and returns the
// status it reports.
func (c *Client) Restart(ctx context.Context, id domain.SessionID) (domain.SessionStatus, error) {
	var out sessionWire
	if err := c.do(ctx, http.MethodPost, sessionPath(id)+"/restart", &out); err != nil {
		return "", fmt.Errorf("directory.Client.Restart: %w", err)
	}
	if out.Status == "" {
		out.Status = domain.SessionStatusRunning
	}
	return out.Status, nil
}

// Delete removes the session and its stored messages.
func (c *Client) Delete(ctx context.Context, id domain.SessionID) error {
	if err := c.do(ctx, http.MethodDelete, sessionPath(id), nil); err != nil {
		return fmt.Errorf("directory.Client.Delete: %w", err)
	}
	return nil
}

// Messages returns the session's persisted transcript, oldest first, as
// finalized turns.
func (c *Client) Messages(ctx context.Context, id domain.SessionID) ([]domain.Turn, error) {
	var out struct {
		Messages []messageWire `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(id)+"/messages", &out); err != nil {
		return nil, fmt.Errorf("directory.Client.Messages: %w", err)
	}
	return lo.Map(out.Messages, func(m messageWire, _ int) domain.Turn {
		return domain.Turn{
			Role:      domain.ParseRole(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.Time,
		}
	}), nil
}

func sessionPath(id domain.SessionID) string {
	return "/sessions/" + url.PathEscape(id.String())
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("directory request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
