package chatsdk

import (
	"context"
	"net/http"
	"net/url"
)

// ListThreads returns the ids of the threads the user takes part in.
func (s *Session) ListThreads(ctx context.Context) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodGet, "/threads", nil)
	if err != nil {
		return nil, err
	}

	var out threadsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return out.IDs, nil
}

// StartMatch opens a matchmaking ticket and returns its id. A user with an
// open ticket gets ErrAlreadyMatching.
func (s *Session) StartMatch(ctx context.Context) (string, error) {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodPost, "/match", nil)
	if err != nil {
		return "", err
	}

	var out matchResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return "", err
	}
	if out.TicketID == "" {
		return "", serviceError(http.StatusOK, "match started without a ticket id", nil)
	}

	return out.TicketID, nil
}

// LeaveThread leaves threadID. The server confirms with a thread_leaved
// notification on the notification feed.
func (s *Session) LeaveThread(ctx context.Context, threadID string) error {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/leave", nil)
	if err != nil {
		return err
	}

	return checkStatus(resp, http.StatusOK)
}
