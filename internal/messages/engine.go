// Package messages keeps one thread's conversation in sync: a historical
// catch-up, then the live inbound channel, resumed from the newest message
// already delivered whenever the channel drops.
package messages

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aussiebroadwan/randchat/internal/metrics"
	"github.com/aussiebroadwan/randchat/internal/transcript"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
)

// Conn is an open inbound message channel. *chatsdk.MessageConn satisfies it.
type Conn interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	Close() error
}

// API is the slice of the chat service the engine uses.
type API interface {
	FetchMessages(ctx context.Context, threadID string, since chatsdk.Timestamp) ([]chatsdk.Message, error)
	OpenMessages(ctx context.Context, offsets chatsdk.Offsets) (Conn, error)
	SendMessage(ctx context.Context, threadID, text string) error
}

// Transcript records delivered messages and reports which ones are new.
// *transcript.Store satisfies it.
type Transcript interface {
	Record(ctx context.Context, threadID, source string, msgs ...chatsdk.Message) ([]chatsdk.Message, error)
}

// ErrDisconnected is returned by Listen when the live channel closes.
var ErrDisconnected = errors.New("messages: channel closed")

// Config carries the engine's collaborators. Only Deliver is required.
type Config struct {
	// Deliver receives every new message, in delivery order. It is called
	// from the engine's goroutine; history arrives as a single batch.
	Deliver func(batch []chatsdk.Message)

	// Transcript deduplicates across history, live frames and reconnects.
	// Nil keeps an in-memory set of delivered ids instead.
	Transcript Transcript

	// Pacer bounds how quickly Follow reopens a dropped channel.
	Pacer *httpx.Pacer

	Metrics *metrics.Collector
}

// Engine synchronizes a single thread. The offset it tracks is the send
// time of the newest message delivered so far.
type Engine struct {
	api      API
	threadID string
	cfg      Config

	mu     sync.Mutex
	offset chatsdk.Timestamp
}

// New returns an engine for threadID.
func New(api API, threadID string, cfg Config) *Engine {
	if cfg.Transcript == nil {
		cfg.Transcript = newSeenSet()
	}
	if cfg.Deliver == nil {
		cfg.Deliver = func([]chatsdk.Message) {}
	}
	return &Engine{api: api, threadID: threadID, cfg: cfg}
}

// ThreadID returns the thread the engine follows.
func (e *Engine) ThreadID() string { return e.threadID }

// Offset returns the resume offset for the live channel.
func (e *Engine) Offset() chatsdk.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

func (e *Engine) advance(ts chatsdk.Timestamp) {
	e.mu.Lock()
	e.offset = max(e.offset, ts)
	e.mu.Unlock()
}

// CatchUp fetches the thread's messages at or after since, sorts them by
// send time and delivers the ones not seen yet as one batch. since becomes
// the offset floor for the live channel.
func (e *Engine) CatchUp(ctx context.Context, since chatsdk.Timestamp) ([]chatsdk.Message, error) {
	msgs, err := e.api.FetchMessages(ctx, e.threadID, since)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	slices.SortStableFunc(msgs, func(a, b chatsdk.Message) int {
		return cmp.Compare(a.Time, b.Time)
	})

	fresh, err := e.deliver(ctx, transcript.SourceHistory, msgs)
	if err != nil {
		return nil, err
	}
	e.advance(since)

	slogx.FromContext(ctx).Debug("caught up",
		"thread_id", e.threadID,
		"fetched", len(msgs),
		"delivered", len(fresh),
		"offset", float64(e.Offset()),
	)

	return fresh, nil
}

// Listen opens the live channel at the current offset and delivers frames
// until it closes. PING frames are answered with PONG and never delivered.
// A closed channel ends the loop with ErrDisconnected; reopening is up to
// the caller. ctx ending closes the channel and returns ctx.Err().
func (e *Engine) Listen(ctx context.Context) error {
	log := slogx.FromContext(ctx).With("thread_id", e.threadID)

	conn, err := e.api.OpenMessages(ctx, chatsdk.Offsets{e.threadID: e.Offset()})
	if err != nil {
		return fmt.Errorf("open messages: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Debug("message channel open", "offset", float64(e.Offset()))

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, chatsdk.ErrChannelClosed) {
				log.Info("message channel closed")
				return fmt.Errorf("%w: %w", ErrDisconnected, err)
			}
			return err
		}

		if frame == chatsdk.FramePing {
			if err := conn.WriteFrame(chatsdk.FramePong); err != nil {
				return err
			}
			e.cfg.Metrics.RecordKeepalive()
			continue
		}

		msg, err := decodeFrame(frame)
		if err != nil {
			log.Warn("malformed message frame", "error", err)
			return err
		}

		if _, err := e.deliver(ctx, transcript.SourceLive, []chatsdk.Message{msg}); err != nil {
			return err
		}
	}
}

// Run catches up from since and then listens.
func (e *Engine) Run(ctx context.Context, since chatsdk.Timestamp) error {
	if _, err := e.CatchUp(ctx, since); err != nil {
		return err
	}
	return e.Listen(ctx)
}

// Resume fetches the tail after the newest delivered message and listens
// again from there. Messages already delivered are not repeated.
func (e *Engine) Resume(ctx context.Context) error {
	return e.Run(ctx, e.Offset())
}

// Follow runs the engine and resumes it every time the channel drops or a
// transient error interrupts it. It returns when ctx ends or on an error
// that retrying cannot fix.
func (e *Engine) Follow(ctx context.Context, since chatsdk.Timestamp) error {
	log := slogx.FromContext(ctx).With("thread_id", e.threadID)

	err := e.Run(ctx, since)
	for {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrDisconnected), chatsdk.IsTransient(err):
			log.Warn("message channel interrupted, resuming", "error", err)
		default:
			return err
		}

		if err := e.cfg.Pacer.Wait(ctx); err != nil {
			return err
		}
		e.cfg.Metrics.RecordReconnect("messages")

		err = e.Resume(ctx)
	}
}

// Send posts text to the thread. Blank text is ignored.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := e.api.SendMessage(ctx, e.threadID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (e *Engine) deliver(ctx context.Context, source string, msgs []chatsdk.Message) ([]chatsdk.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	fresh, err := e.cfg.Transcript.Record(ctx, e.threadID, source, msgs...)
	if err != nil {
		return nil, err
	}

	for range len(msgs) - len(fresh) {
		e.cfg.Metrics.RecordDuplicate()
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	for _, m := range fresh {
		e.advance(m.Time)
	}
	e.cfg.Metrics.RecordMessages(source, len(fresh))
	e.cfg.Deliver(fresh)

	return fresh, nil
}

func decodeFrame(frame string) (chatsdk.Message, error) {
	var msg chatsdk.Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		return msg, fmt.Errorf("%w: malformed message frame: %v", chatsdk.ErrService, err)
	}
	if msg.ID == "" {
		return msg, fmt.Errorf("%w: message frame without id", chatsdk.ErrService)
	}
	return msg, nil
}

// seenSet is the in-memory Transcript used when none is configured.
type seenSet struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{seen: make(map[string]map[string]struct{})}
}

func (s *seenSet) Record(_ context.Context, threadID, _ string, msgs ...chatsdk.Message) ([]chatsdk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.seen[threadID]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[threadID] = ids
	}

	var fresh []chatsdk.Message
	for _, m := range msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh, nil
}
