package chatsdk

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ListTickets returns every ticket the user holds, resolved or not.
func (s *Session) ListTickets(ctx context.Context) ([]Ticket, error) {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodGet, "/tickets", nil)
	if err != nil {
		return nil, err
	}

	var tickets []Ticket
	if err := decodeJSON(resp, &tickets, http.StatusOK); err != nil {
		return nil, err
	}

	return tickets, nil
}

// DeleteTicket deletes ticketID. Deleted tickets are never reused.
func (s *Session) DeleteTicket(ctx context.Context, ticketID string) error {
	resp, err := s.doAuthRequest(ctx, s.client.HTTPClient, http.MethodDelete, ticketPath(ticketID), nil)
	if err != nil {
		return err
	}

	return checkStatus(resp, http.StatusNoContent)
}

// WaitTicket long-polls the ticket's match endpoint and returns the thread
// id once the ticket is matched. The poll has no client-side timeout: the
// server answers 524 when its window elapses, reported as ErrTimeout so
// the caller can reopen it.
func (s *Session) WaitTicket(ctx context.Context, ticketID string) (string, error) {
	resp, err := s.doAuthRequest(ctx, s.client.StreamClient, http.MethodGet, "/match"+ticketPath(ticketID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", unexpectedStatus(resp, body)
	}

	// The server streams lines while it waits; the last one is the thread.
	var threadID string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.Trim(strings.TrimSpace(scanner.Text()), `"`); line != "" {
			threadID = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", networkError(err)
	}

	if threadID == "" {
		return "", serviceError(resp.StatusCode, "match stream ended without a thread", nil)
	}

	return threadID, nil
}

func ticketPath(ticketID string) string {
	return "/tickets/" + url.PathEscape(ticketID)
}
