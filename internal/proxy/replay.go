package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/syncqueue"
)

// Replay sends a queued mutation to the origin. Server errors are retried;
// client errors other than 408 and 429 are permanent.
func (s *Server) Replay(ctx context.Context, m *syncqueue.Mutation) error {
	var body io.Reader
	if len(m.Payload.Body) > 0 {
		body = bytes.NewReader(m.Payload.Body)
	}
	req, err := http.NewRequestWithContext(ctx, m.Payload.Method, m.Payload.URL, body)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "invalid queued mutation")
	}
	req.Header = m.Payload.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("X-Offline-Replay", m.ID)

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status < 400 {
		return nil
	}
	return errors.WithContext(errors.Newf(statusCode(resp.Status), "origin answered %d", resp.Status), "status", resp.Status)
}

func statusCode(status int) errors.ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return errors.CodeUnauthorized
	case status == http.StatusForbidden:
		return errors.CodeForbidden
	case status == http.StatusNotFound:
		return errors.CodeNotFound
	case status == http.StatusConflict:
		return errors.CodeConflict
	case status == http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case status == http.StatusRequestTimeout:
		return errors.CodeTimeout
	case status >= 500:
		return errors.CodeUnavailable
	}
	return errors.CodeInvalidInput
}
