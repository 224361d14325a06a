package chatsdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// FetchMessages returns the messages of threadID at or after since, in the
// order the server sent them. Callers sort before display.
func (s *Session) FetchMessages(ctx context.Context, threadID string, since Timestamp) ([]Message, error) {
	q := url.Values{"t": {strconv.FormatInt(since.Millis(), 10)}}
	path := "/threads/" + url.PathEscape(threadID) + "?" + q.Encode()

	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var out messagesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return out.Data, nil
}
