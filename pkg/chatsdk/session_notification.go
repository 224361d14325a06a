package chatsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
)

const readOffsetPath = "/users/me/notifications/read-offset"

// ReadOffset returns the persisted notification read offset.
func (s *Session) ReadOffset(ctx context.Context) (Timestamp, error) {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodGet, readOffsetPath, nil)
	if err != nil {
		return 0, err
	}

	var out readOffsetResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}

	return TimestampFromMillis(out.Offset), nil
}

// SetReadOffset persists offset as the newest consumed notification.
func (s *Session) SetReadOffset(ctx context.Context, offset Timestamp) error {
	body := readOffsetRequest{NewOffset: offset.Millis()}

	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodPatch, readOffsetPath, body)
	if err != nil {
		return err
	}

	return checkStatus(resp, http.StatusOK)
}

// OpenNotifications opens the notification long poll starting at since.
// The stream ends when the server closes it or ctx is cancelled.
func (s *Session) OpenNotifications(ctx context.Context, since Timestamp) (*NotificationStream, error) {
	q := url.Values{"t": {strconv.FormatInt(since.Millis(), 10)}}

	resp, err := s.doAuthRequest(ctx, s.client.StreamClient, http.MethodGet, "/users/me/notifications?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, unexpectedStatus(resp, body)
	}

	return &NotificationStream{
		body: resp.Body,
		dec:  json.NewDecoder(resp.Body),
	}, nil
}

// NotificationStream decodes notifications from an open long poll. The
// server writes JSON objects back to back, with or without separators.
type NotificationStream struct {
	body io.ReadCloser
	dec  *json.Decoder

	closeOnce sync.Once
}

// Next blocks for the next notification. It returns io.EOF when the server
// ends the stream.
func (ns *NotificationStream) Next() (*Notification, error) {
	var n Notification
	if err := ns.dec.Decode(&n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, serviceError(http.StatusOK, "malformed notification", err)
		}
		return nil, networkError(err)
	}
	return &n, nil
}

// Close releases the underlying connection.
func (ns *NotificationStream) Close() error {
	var err error
	ns.closeOnce.Do(func() { err = ns.body.Close() })
	return err
}
