package chatsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// newRequest builds a request with body encoded as JSON. A nil body sends
// no payload.
func (c *SDKClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// doRequest performs an unauthenticated request (no Authorization header).
func (c *SDKClient) doRequest(
	ctx context.Context,
	hc *http.Client,
	method, path string,
	body any,
) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, networkError(err)
	}

	return resp, nil
}

// doAuthRequest performs an authenticated request with the session's token.
// A 401 invalidates the token and the request is issued once more with a
// freshly obtained one; a second 401 is returned to the caller as is.
func (s *Session) doAuthRequest(
	ctx context.Context,
	hc *http.Client,
	method, path string,
	body any,
) (*http.Response, error) {
	token, err := s.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.send(ctx, hc, token, method, path, body)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	drainAndClose(resp)
	s.client.logger(ctx).Debug("token rejected, logging in again", "path", path)
	s.invalidate(token)

	token, err = s.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	return s.send(ctx, hc, token, method, path, body)
}

func (s *Session) send(
	ctx context.Context,
	hc *http.Client,
	token *Token,
	method, path string,
	body any,
) (*http.Response, error) {
	req, err := s.client.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.Raw)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, networkError(err)
	}

	return resp, nil
}

// decodeJSON decodes a JSON response into target.
// Returns a typed APIError if the status is not expectedStatus or the body
// does not decode.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	// Read body once for both error parsing and success decoding
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != expectedStatus {
		return unexpectedStatus(resp, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return serviceError(resp.StatusCode, "unexpected response body", err)
	}

	return nil
}

// checkStatus returns a typed error if the response status is not expected.
// The body is discarded either way.
func checkStatus(resp *http.Response, expected int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return unexpectedStatus(resp, bodyBytes)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
