// Package chessclient talks to a chess server: lobby calls over HTTP and gameplay over a websocket.
package chessclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx lobby response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chess api error: status=%d message=%s", e.Status, e.Message)
}

type GameInfo struct {
	GameID        int64  `json:"gameID"`
	WhiteUsername string `json:"whiteUsername,omitempty"`
	BlackUsername string `json:"blackUsername,omitempty"`
	GameName      string `json:"gameName"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateGame(ctx context.Context, token, name string) (int64, error) {
	var resp struct {
		GameID int64 `json:"gameID"`
	}
	in := map[string]string{"gameName": name}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game", token, in, &resp, false); err != nil {
		return 0, err
	}
	return resp.GameID, nil
}

func (c *Client) ListGames(ctx context.Context, token string) ([]GameInfo, error) {
	var resp struct {
		Games []GameInfo `json:"games"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/game", token, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Games, nil
}

func (c *Client) JoinGame(ctx context.Context, token string, id int64, color string) error {
	in := struct {
		PlayerColor string `json:"playerColor"`
		GameID      int64  `json:"gameID"`
	}{PlayerColor: color, GameID: id}
	return c.doJSON(ctx, fasthttp.MethodPut, "/game", token, in, nil, false)
}

// Register creates username on the server and returns its token.
func (c *Client) Register(ctx context.Context, username string) (string, error) {
	var resp struct {
		AuthToken string `json:"authToken"`
	}
	in := map[string]string{"username": username}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/user", "", in, &resp, false); err != nil {
		return "", err
	}
	return resp.AuthToken, nil
}

// Clear wipes every game, user and token. Servers without admin clear answer 404 or 405.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/db", "", nil, nil, false)
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", "", nil, nil, true)
}

// doJSON retries only when retry is set, and then only on transport errors and 5xx gateway statuses.
func (c *Client) doJSON(ctx context.Context, method, path, token string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", token)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(resp.Body(), &body)
			apiErr := &APIError{Status: status, Message: body.Message}
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
