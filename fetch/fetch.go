// Package fetch issues one HTTP request under a deadline and an external cancellation signal and
// reports failures as cancelled, timed out or a network error.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docbridge/domain"
	"docbridge/obs"
)

var errDeadline = errors.New("request deadline exceeded")

// Response is a fully read HTTP response. The body is consumed inside the deadline so callers
// never hold a connection open past it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// NewClient returns a client with traced transport. Per-request deadlines come from Do, so the
// client itself carries no timeout.
func NewClient(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: obs.WrapTransport(rt)}
}

// Do sends req with a deadline of timeout, aborting early when ctx is done. ctx is the external
// signal: if it fires first (or already has) the result is domain.ErrCancelled; if the deadline
// fires it is domain.ErrTimedOut; any other transport failure is a *domain.NetworkError.
// Non-2xx statuses are not errors here.
func Do(ctx context.Context, client *http.Client, req *http.Request, timeout time.Duration, op string, logger *slog.Logger) (*Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if ctx.Err() != nil {
		obs.RecordFetch(op, time.Now(), "cancelled")
		return nil, domain.ErrCancelled
	}

	reqID := uuid.New().String()
	start := time.Now()

	reqCtx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	logger.Debug("fetch.request",
		"req_id", reqID,
		"op", op,
		"method", req.Method,
		"url", redactQuery(req.URL.String()),
		"timeout_ms", timeout.Milliseconds(),
	)

	resp, err := client.Do(req.WithContext(reqCtx))
	if err != nil {
		return nil, classify(ctx, reqCtx, err, op, reqID, start, logger)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("fetch.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, reqCtx, err, op, reqID, start, logger)
	}
	// A response that raced with the external signal is discarded.
	if ctx.Err() != nil {
		obs.RecordFetch(op, start, "cancelled")
		return nil, domain.ErrCancelled
	}

	logger.Debug("fetch.response",
		"req_id", reqID,
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	obs.RecordFetch(op, start, "ok")
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// classify decides which signal aborted the request. The external one wins.
func classify(parent, reqCtx context.Context, err error, op, reqID string, start time.Time, logger *slog.Logger) error {
	elapsed := time.Since(start).Milliseconds()
	switch {
	case parent.Err() != nil:
		logger.Debug("fetch.cancelled", "req_id", reqID, "op", op, "elapsed_ms", elapsed)
		obs.RecordFetch(op, start, "cancelled")
		return domain.ErrCancelled
	case errors.Is(context.Cause(reqCtx), errDeadline):
		logger.Warn("fetch.timeout", "req_id", reqID, "op", op, "elapsed_ms", elapsed)
		obs.RecordFetch(op, start, "timeout")
		return domain.ErrTimedOut
	}
	logger.Warn("fetch.send_error", "req_id", reqID, "op", op, "error", err, "elapsed_ms", elapsed)
	obs.RecordFetch(op, start, "network_error")
	return &domain.NetworkError{Err: err}
}

// withDeadline treats a non-positive timeout as "no deadline".
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, timeout, errDeadline)
}

func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// StatusError is a convenience for callers that treat any non-2xx as a failure.
func StatusError(r *Response) error {
	if r.OK() {
		return nil
	}
	return &domain.ServerError{Status: r.StatusCode}
}
