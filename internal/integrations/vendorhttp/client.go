// Package vendorhttp is the REST plumbing shared by provider adapters: a JSON client with
// rate-limit retries, unauthenticated probes, webhook signature checks and base URL sanity checks.
package vendorhttp

import (
	"bytes"
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
)

const (
	DefaultTimeout  = 30 * time.Second
	maxRetriesOn429 = 3
	maxBodySize     = 1 << 20 // 1 MiB
	userAgent       = "lexdesk-integrations"
)

// Client issues requests against one vendor base URL.
type Client struct {
	Vendor  string
	BaseURL string
	HTTP    *http.Client
}

// Request describes one call. Body is JSON-encoded unless it is already a []byte.
// MaxBytes raises the response body cap for file downloads.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Body     any
	MaxBytes int64
}

// APIError is a non-2xx vendor response.
type APIError struct {
	Vendor     string
	StatusCode int
	Status     string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	prefix := e.Vendor + " api failed"
	if e.StatusCode == http.StatusTooManyRequests {
		prefix = e.Vendor + " api rate limited"
	}
	switch {
	case e.Message != "" && e.Details != "":
		return fmt.Sprintf("%s: %s: %s (%s)", prefix, e.Status, e.Message, e.Details)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", prefix, e.Status, e.Message)
	case e.Details != "":
		return fmt.Sprintf("%s: %s (%s)", prefix, e.Status, e.Details)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Status)
	}
}

// StatusCodeOf extracts the vendor status code from err, or 0.
func StatusCodeOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// New validates the base URL and returns a client with the given timeout.
func New(vendor, baseURL string, timeout time.Duration) (*Client, error) {
	return NewWithHTTP(vendor, baseURL, &http.Client{Timeout: normalizeTimeout(timeout)})
}

// NewWithHTTP reuses an existing http.Client.
func NewWithHTTP(vendor, baseURL string, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%s base URL is required", vendor)
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL %q is invalid", vendor, base)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{Vendor: vendor, BaseURL: base, HTTP: httpClient}, nil
}

func normalizeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// Do performs req and returns the response body of a 2xx response.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	body, _, err := c.do(ctx, req)
	return body, err
}

// DoStatus is Do that also reports the response status code.
func (c *Client) DoStatus(ctx context.Context, req Request) ([]byte, int, error) {
	return c.do(ctx, req)
}

// JSON performs req and decodes a 2xx response into out.
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s response decode: %w", c.Vendor, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, r Request) ([]byte, int, error) {
	endpoint, err := c.endpoint(r.Path, r.Query)
	if err != nil {
		return nil, 0, err
	}
	payload, err := encodeBody(r.Body)
	if err != nil {
		return nil, 0, err
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	limit := int64(maxBodySize)
	if r.MaxBytes > 0 {
		limit = r.MaxBytes
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, 0, err
		}
		for k, vs := range r.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("%s request failed: %w", c.Vendor, err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit))
		resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetriesOn429 {
			wait, ok := retryAfterDuration(resp.Header.Get("Retry-After"))
			if !ok {
				wait = time.Second
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, resp.StatusCode, err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return body, resp.StatusCode, &APIError{
				Vendor:     c.Vendor,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Message:    extractAPIErrorMessage(body),
				Details:    formatAPIErrorDetails(endpoint, resp),
			}
		}
		return body, resp.StatusCode, nil
	}
}

// ProbeResult is the outcome of an unauthenticated reachability check.
type ProbeResult struct {
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// Probe issues a GET without credentials and never treats a status code as an error;
// Err is set only when the vendor could not be reached.
func (c *Client) Probe(ctx context.Context, path string) ProbeResult {
	started := time.Now()
	endpoint, err := c.endpoint(path, nil)
	if err != nil {
		return ProbeResult{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProbeResult{Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ProbeResult{Elapsed: time.Since(started), Err: fmt.Errorf("%s unreachable: %w", c.Vendor, err)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
	return ProbeResult{StatusCode: resp.StatusCode, Elapsed: time.Since(started)}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return "", fmt.Errorf("%s base URL is required", c.Vendor)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func retryAfterDuration(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func extractAPIErrorMessage(body []byte) string {
	var payload struct {
		Errors  []json.RawMessage `json:"errors"`
		Error   json.RawMessage   `json:"error"`
		Message string            `json:"message"`
		Detail  string            `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Errors) > 0 {
			if msg := rawMessageText(payload.Errors[0]); msg != "" {
				return msg
			}
		}
		if msg := rawMessageText(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Detail); msg != "" {
			return msg
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	if strings.HasPrefix(msg, "<!DOCTYPE html") || strings.HasPrefix(msg, "<html") {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}

// rawMessageText accepts either a JSON string or an object with a message field.
func rawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if m := strings.TrimSpace(obj.Message); m != "" {
			return m
		}
		return strings.TrimSpace(obj.Detail)
	}
	return ""
}

func formatAPIErrorDetails(reqURL string, resp *http.Response) string {
	var parts []string
	if v := safeURL(reqURL); v != "" {
		parts = append(parts, "url="+v)
	}
	if v := headerAny(resp.Header, "x-request-id", "x-correlation-id"); v != "" {
		parts = append(parts, "request_id="+v)
	}
	if v := resp.Header.Get("x-ratelimit-remaining"); v != "" {
		parts = append(parts, "rate_remaining="+v)
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		parts = append(parts, "retry_after="+v)
	}
	return strings.Join(parts, ", ")
}

func headerAny(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// safeURL drops the query string, which may carry tokens.
func safeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// BearerHeader returns an Authorization header set to "Bearer <token>".
func BearerHeader(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	return h
}
