// Package limesurvey talks to the LimeSurvey RemoteControl 2 JSON-RPC API.
package limesurvey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"surveybot/internal/survey"
	"surveybot/pkg/logx"
)

var (
	// ErrAuth means the configured credentials were refused.
	ErrAuth = errors.New("limesurvey: authentication failed")
	// ErrRPC is a JSON-RPC level error object.
	ErrRPC = errors.New("limesurvey: rpc error")
)

type Config struct {
	URL      string
	Username string
	Password string
	Headers  map[string]string

	Timeout        time.Duration
	MaxTries       uint
	MaxElapsedTime time.Duration
	Language       string
}

// Client is safe for concurrent use. The session key is obtained lazily and
// refreshed once when the server reports it invalid.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu         sync.Mutex
	sessionKey string

	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = 2 * time.Minute
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 15 * time.Second
			return b
		},
		now: time.Now,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// statusResult is how RemoteControl reports failures inside "result".
type statusResult struct {
	Status string `json:"status"`
}

// StatusError carries a RemoteControl status message.
type StatusError struct {
	Method string
	Status string
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("limesurvey %s: %s", e.Method, e.Status)
}

func (e *StatusError) Unwrap() error { return e.kind }

func resultStatus(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return "", false
	}
	var st statusResult
	if err := json.Unmarshal(raw, &st); err != nil || st.Status == "" {
		return "", false
	}
	return st.Status, true
}

func isInvalidSession(status string) bool {
	return strings.Contains(strings.ToLower(status), "invalid session key")
}

// classifyStatus maps a status message to the core error taxonomy.
func classifyStatus(method, status string) error {
	s := strings.ToLower(status)
	var kind error
	switch {
	case strings.Contains(s, "invalid user name or password"):
		kind = ErrAuth
	case strings.Contains(s, "invalid survey id"),
		strings.Contains(s, "invalid questionid"),
		strings.Contains(s, "invalid question id"),
		strings.Contains(s, "no questions found"),
		strings.Contains(s, "no groups found"),
		strings.Contains(s, "no surveys found"),
		strings.Contains(s, "no data"),
		strings.Contains(s, "no permission"):
		kind = survey.ErrNotFound
	case method == "add_response":
		kind = survey.ErrRejectedData
	default:
		kind = survey.ErrBackendUnavailable
	}
	return &StatusError{Method: method, Status: status, kind: kind}
}

// post performs one HTTP round trip with retries for transient failures.
func (c *Client) post(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}

	op := func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, fmt.Errorf("rate limited")
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("server error %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, backoff.Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
		}

		var rr rpcResponse
		if err := json.Unmarshal(respBody, &rr); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if e := bytes.TrimSpace(rr.Error); len(e) > 0 && !bytes.Equal(e, []byte("null")) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrRPC, truncate(string(e), 200)))
		}
		return rr.Result, nil
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxTries),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("limesurvey call failed, retrying",
				logx.String("method", method),
				logx.Duration("next", next),
				logx.Err(err),
			)
		}),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, ErrRPC) {
			return nil, fmt.Errorf("limesurvey %s: %w", method, errors.Join(survey.ErrBackendUnavailable, err))
		}
		return nil, fmt.Errorf("limesurvey %s: %w: %v", method, survey.ErrBackendUnavailable, err)
	}
	return res, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	raw, err := c.post(ctx, "get_session_key", []any{c.cfg.Username, c.cfg.Password})
	if err != nil {
		return "", err
	}
	if st, ok := resultStatus(raw); ok {
		return "", classifyStatus("get_session_key", st)
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil || key == "" {
		return "", fmt.Errorf("limesurvey get_session_key: %w: unexpected result", ErrAuth)
	}
	return key, nil
}

func (c *Client) key(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionKey != "" {
		return c.sessionKey, nil
	}
	k, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.sessionKey = k
	return k, nil
}

func (c *Client) dropKey(stale string) {
	c.mu.Lock()
	if c.sessionKey == stale {
		c.sessionKey = ""
	}
	c.mu.Unlock()
}

// call runs an authenticated method. params exclude the session key.
// A status result is turned into a *StatusError.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		key, err := c.key(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := c.post(ctx, method, append([]any{key}, params...))
		if err != nil {
			return nil, err
		}
		st, ok := resultStatus(raw)
		if !ok {
			return raw, nil
		}
		if isInvalidSession(st) && attempt == 0 {
			c.log.Info("limesurvey session expired, logging in again")
			c.dropKey(key)
			continue
		}
		return nil, classifyStatus(method, st)
	}
}

// Close releases the server side session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	key := c.sessionKey
	c.sessionKey = ""
	c.mu.Unlock()
	if key == "" {
		return nil
	}
	_, err := c.post(ctx, "release_session_key", []any{key})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
