package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/idx"
)

// RequestIDHeader carries the client generated request id.
const RequestIDHeader = "X-Request-ID"

// Transport is an http.RoundTripper that tags every outbound request with
// a request id and logs its outcome. Streaming calls are logged when the
// response headers arrive, not when the body is drained.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	ctx := r.Context()
	if t.Logger != nil {
		ctx = WithContext(ctx, t.Logger)
	}
	logger := FromContext(WithRequestID(ctx, reqID)).With(
		"method", r.Method,
		"path", r.URL.Path,
	)

	start := time.Now()
	resp, err := base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Debug("http_request", "error", err, "duration_ms", duration)
		return nil, err
	}

	logger.Debug("http_request", "status", resp.StatusCode, "duration_ms", duration)
	return resp, nil
}
