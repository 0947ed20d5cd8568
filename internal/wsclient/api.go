package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status int
	Body   chessdto.DomainError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena api: status=%d code=%s reason=%s", e.Status, e.Body.Code, e.Body.Reason)
}

// APIClient talks to the REST surface.
type APIClient struct {
	baseURL  string
	http     *fasthttp.Client
	headers  HeaderProvider
	timeout  time.Duration
	maxTries uint
}

func NewAPIClient(baseURL string, headers HeaderProvider) *APIClient {
	return &APIClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		headers:  headers,
		timeout:  10 * time.Second,
		maxTries: 3,
	}
}

func (c *APIClient) CreateSession(ctx context.Context, timeControl int) (*chessdto.Snapshot, error) {
	var snap chessdto.Snapshot
	body := map[string]int{"time_control": timeControl}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/sessions", body, &snap, false); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *APIClient) GetSession(ctx context.Context, id string) (*chessdto.Snapshot, error) {
	var snap chessdto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/sessions/"+id, nil, &snap, true); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *APIClient) GetProfile(ctx context.Context, playerID string) (*chessdto.Profile, error) {
	var p chessdto.Profile
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/profiles/"+playerID, nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *APIClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, true)
}

// doJSON performs one request; idempotent calls are retried on transport
// errors and 5xx answers.
func (c *APIClient) doJSON(ctx context.Context, method, path string, in, out any, retry bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	tries := uint(1)
	if retry {
		tries = c.maxTries
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, payload, out)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(tries))
	return err
}

func (c *APIClient) once(ctx context.Context, method, path string, payload []byte, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if payload != nil {
		req.SetBody(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		apiErr := &APIError{Status: status}
		_ = json.Unmarshal(resp.Body(), &apiErr.Body)
		if status < 500 {
			return backoff.Permanent(apiErr)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *APIClient) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
