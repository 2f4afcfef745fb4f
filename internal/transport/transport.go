// Package transport is the HTTP requester collaborator used by feed pollers.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/dexfeed/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries a per-send identifier for correlating upstream logs
const HeaderRequestID = "X-Request-Id"

// Request describes one outgoing call
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so authenticators can mutate headers freely
func (r Request) Clone() Request {
	out := Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Requester sends a request and returns the raw response body
type Requester interface {
	Send(ctx context.Context, req Request) ([]byte, error)
}

// RequesterFunc is a function adapter for Requester
type RequesterFunc func(ctx context.Context, req Request) ([]byte, error)

func (f RequesterFunc) Send(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of an error response is kept in StatusError
const maxErrorBody = 512

// DefaultMaxBodySize caps how much of a response body is read
const DefaultMaxBodySize int64 = 8 << 20

// HTTPRequester implements Requester over net/http
type HTTPRequester struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
	logger    *zap.Logger
}

// Option configures an HTTPRequester
type Option func(*HTTPRequester)

// WithTimeout sets the per-request client timeout
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPRequester) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive limit disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *HTTPRequester) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithUserAgent sets the User-Agent header when the request has none
func WithUserAgent(ua string) Option {
	return func(h *HTTPRequester) {
		h.userAgent = ua
	}
}

// WithRoundTripper replaces the underlying transport (e.g. an instrumented one)
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(h *HTTPRequester) {
		if rt != nil {
			h.client.Transport = rt
		}
	}
}

// WithMaxBodySize caps the response body. Larger responses fail with
// core.ErrTransport. A non-positive size keeps the default.
func WithMaxBodySize(n int64) Option {
	return func(h *HTTPRequester) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(h *HTTPRequester) {
		if log != nil {
			h.logger = log
		}
	}
}

// NewHTTPRequester creates a requester with a 10s default timeout
func NewHTTPRequester(opts ...Option) *HTTPRequester {
	h := &HTTPRequester{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: "dexfeed",
		maxBody:   DefaultMaxBodySize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send performs the request. Every failure, whatever its cause, is wrapped in core.ErrTransport.
func (h *HTTPRequester) Send(ctx context.Context, r Request) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, core.WrapError(core.ErrTransport, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, fmt.Errorf("creating request: %w", err))
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, fmt.Errorf("%s %s: %w", method, redact(r.URL), err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return nil, core.WrapError(core.ErrTransport, fmt.Errorf("reading response: %w", err))
	}
	if int64(len(data)) > h.maxBody {
		return nil, core.WrapError(core.ErrTransport,
			fmt.Errorf("%s %s: response body exceeds %d bytes", method, redact(r.URL), h.maxBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		h.logger.Debug("upstream returned error status",
			zap.String("url", redact(r.URL)),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", req.Header.Get(HeaderRequestID)),
		)
		return nil, core.WrapError(core.ErrTransport, &StatusError{StatusCode: resp.StatusCode, Body: snippet})
	}

	return data, nil
}

// redact strips the query string, which may carry API keys
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
