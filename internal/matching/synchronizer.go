// Package matching drives the matchmaking ticket protocol: reconcile the
// tickets left over from earlier sessions, open a ticket, long-poll it until
// the server pairs us with someone, then clean the ticket up.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/randchat/internal/metrics"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
)

// API is the slice of the chat service the synchronizer uses.
// *chatsdk.Session satisfies it.
type API interface {
	ListTickets(ctx context.Context) ([]chatsdk.Ticket, error)
	StartMatch(ctx context.Context) (string, error)
	WaitTicket(ctx context.Context, ticketID string) (string, error)
	DeleteTicket(ctx context.Context, ticketID string) error
}

var (
	// ErrNoTicket is returned by Wait when there is no open ticket to poll.
	ErrNoTicket = errors.New("matching: no open ticket")

	// ErrFinished is returned once the synchronizer reached a terminal state.
	ErrFinished = errors.New("matching: ticket already finished")
)

const defaultDeleteTimeout = 10 * time.Second

// Config carries the synchronizer's optional collaborators.
type Config struct {
	// Pacer bounds how quickly failed polls are retried. Nil retries at once.
	Pacer *httpx.Pacer

	Metrics *metrics.Collector

	// DeleteTimeout bounds the best-effort ticket delete after a match.
	DeleteTimeout time.Duration

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// Result is the single value delivered by Run.
type Result struct {
	ThreadID string
	Err      error
}

// Synchronizer owns one ticket from creation to resolution. It is not
// reusable: start a new one for the next round of matching.
type Synchronizer struct {
	api API
	cfg Config

	mu       sync.Mutex
	state    State
	ticketID string
	openedAt time.Time
}

// New returns a synchronizer in the Idle state.
func New(api API, cfg Config) *Synchronizer {
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = defaultDeleteTimeout
	}
	return &Synchronizer{api: api, cfg: cfg}
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TicketID returns the ticket being tracked, if any.
func (s *Synchronizer) TicketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketID
}

func (s *Synchronizer) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from != to && s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}

func (s *Synchronizer) adopt(ticketID string) {
	s.mu.Lock()
	s.ticketID = ticketID
	s.openedAt = time.Now()
	s.mu.Unlock()

	s.transition(Created)
}

// Reconcile lists the user's tickets, deletes the ones whose thread is
// already resolved and keeps at most one open ticket, which is adopted and
// returned. It returns "" when no open ticket is left. A resolved ticket
// that cannot be deleted is left for the next reconcile; a surplus open one
// fails the call and nothing is adopted.
func (s *Synchronizer) Reconcile(ctx context.Context) (string, error) {
	log := slogx.FromContext(ctx)

	tickets, err := s.api.ListTickets(ctx)
	if err != nil {
		return "", fmt.Errorf("list tickets: %w", err)
	}

	var open string
	for _, tk := range tickets {
		if !tk.Resolved() && open == "" {
			open = tk.ID
			continue
		}

		// Resolved tickets are stale; a second open ticket should never
		// exist and would match us twice.
		if err := s.api.DeleteTicket(ctx, tk.ID); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !tk.Resolved() {
				return "", fmt.Errorf("delete surplus open ticket %s: %w", tk.ID, err)
			}
			log.Warn("failed to delete stale ticket", "ticket_id", tk.ID, "error", err)
			continue
		}
		log.Debug("deleted stale ticket", "ticket_id", tk.ID, "thread_id", tk.ThreadID)
	}

	if open != "" {
		log.Info("adopted open ticket", "ticket_id", open)
		s.adopt(open)
	}

	return open, nil
}

// Start opens a ticket. If the server reports the user is already
// matching, the existing open ticket is adopted instead of creating a
// second one. A ticket adopted by Reconcile is returned as is.
func (s *Synchronizer) Start(ctx context.Context) (string, error) {
	switch st := s.State(); {
	case st.Terminal():
		return "", ErrFinished
	case st != Idle:
		return s.TicketID(), nil
	}

	ticketID, err := s.api.StartMatch(ctx)
	if err == nil {
		slogx.FromContext(ctx).Info("ticket created", "ticket_id", ticketID)
		s.adopt(ticketID)
		return ticketID, nil
	}

	if !errors.Is(err, chatsdk.ErrAlreadyMatching) {
		return "", fmt.Errorf("start match: %w", err)
	}

	adopted, rerr := s.Reconcile(ctx)
	if rerr != nil {
		return "", rerr
	}
	if adopted == "" {
		return "", fmt.Errorf("start match: %w", err)
	}

	return adopted, nil
}

// Wait long-polls the ticket until it resolves and returns the thread id.
// Gateway timeouts reopen the poll at once; network and service errors are
// logged and retried at the pacer's rate. Only a match, a non-transient
// error or ctx ending the wait stops the loop. After a match the ticket is
// deleted on a best-effort basis.
//
// If ctx ends first the ticket stays open and the synchronizer returns to
// Created, so Wait may be called again.
func (s *Synchronizer) Wait(ctx context.Context) (string, error) {
	s.mu.Lock()
	state, ticketID := s.state, s.ticketID
	s.mu.Unlock()

	switch {
	case state.Terminal():
		return "", ErrFinished
	case ticketID == "":
		return "", ErrNoTicket
	}

	log := slogx.FromContext(ctx).With("ticket_id", ticketID)
	s.transition(Waiting)

	for {
		threadID, err := s.api.WaitTicket(ctx, ticketID)
		if ctx.Err() != nil {
			s.transition(Created)
			return "", ctx.Err()
		}

		switch {
		case err == nil:
			s.cfg.Metrics.RecordTicketPoll(metrics.PollResolved)
			s.resolve(ctx, log, ticketID, threadID)
			return threadID, nil

		case errors.Is(err, chatsdk.ErrTimeout):
			s.cfg.Metrics.RecordTicketPoll(metrics.PollTimeout)
			log.Debug("ticket poll timed out, reopening")
			continue

		case chatsdk.IsTransient(err):
			s.cfg.Metrics.RecordTicketPoll(metrics.PollError)
			log.Warn("ticket poll failed, retrying", "error", err)

		default:
			s.cfg.Metrics.RecordTicketPoll(metrics.PollError)
			log.Error("ticket poll failed", "error", err)
			s.transition(Failed)
			return "", fmt.Errorf("wait ticket: %w", err)
		}

		if err := s.cfg.Pacer.Wait(ctx); err != nil {
			s.transition(Created)
			return "", err
		}
	}
}

func (s *Synchronizer) resolve(ctx context.Context, log *slog.Logger, ticketID, threadID string) {
	s.mu.Lock()
	openedAt := s.openedAt
	s.mu.Unlock()

	s.transition(Resolved)
	s.cfg.Metrics.RecordMatchLatency(time.Since(openedAt))
	log.Info("matched", "thread_id", threadID)

	// The delete must not be lost to the caller cancelling right after the
	// match; a ticket left behind is cleaned up by the next Reconcile.
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeleteTimeout)
	defer cancel()

	if err := s.api.DeleteTicket(delCtx, ticketID); err != nil {
		log.Warn("failed to delete resolved ticket", "error", err)
	}
}

// Run starts the ticket if needed and waits for it in the background. The
// returned channel yields exactly one Result and is then closed.
func (s *Synchronizer) Run(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)

		if _, err := s.Start(ctx); err != nil {
			out <- Result{Err: err}
			return
		}

		threadID, err := s.Wait(ctx)
		out <- Result{ThreadID: threadID, Err: err}
	}()

	return out
}
