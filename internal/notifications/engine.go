// Package notifications consumes the user's notification long poll. Each
// notification is acknowledged by advancing the persisted read offset
// before it is handled, so a crash in between redelivers it; handling is
// idempotent to absorb that.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/aussiebroadwan/randchat/internal/metrics"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
)

// Stream is an open notification long poll. *chatsdk.NotificationStream
// satisfies it.
type Stream interface {
	Next() (*chatsdk.Notification, error)
	Close() error
}

// API is the slice of the chat service the engine uses.
type API interface {
	ReadOffset(ctx context.Context) (chatsdk.Timestamp, error)
	SetReadOffset(ctx context.Context, offset chatsdk.Timestamp) error
	OpenNotifications(ctx context.Context, since chatsdk.Timestamp) (Stream, error)
}

// ErrThreadLeft is returned by Run when the active thread was left.
var ErrThreadLeft = errors.New("notifications: thread left")

type Config struct {
	// ThreadID is the active conversation. A thread_leaved notification
	// for it ends Run with ErrThreadLeft.
	ThreadID string

	// OnNotification observes every notification handled for the first
	// time, including the terminal one.
	OnNotification func(n chatsdk.Notification)

	// Pacer bounds how quickly the long poll is reopened.
	Pacer *httpx.Pacer

	Metrics *metrics.Collector
}

// Engine consumes notifications for one chat session.
type Engine struct {
	api API
	cfg Config

	mu      sync.Mutex
	offset  chatsdk.Timestamp
	handled map[string]struct{}
}

func New(api API, cfg Config) *Engine {
	return &Engine{
		api:     api,
		cfg:     cfg,
		handled: make(map[string]struct{}),
	}
}

// Offset returns the newest acknowledged notification time.
func (e *Engine) Offset() chatsdk.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Run reads the persisted offset once and consumes the long poll from
// there, reopening it whenever the server ends it or a transient error
// interrupts it. It returns ErrThreadLeft when the active thread is left,
// ctx.Err() when cancelled, or the first error retrying cannot fix.
func (e *Engine) Run(ctx context.Context) error {
	log := slogx.FromContext(ctx).With("thread_id", e.cfg.ThreadID)

	offset, err := e.readOffset(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.offset = offset
	e.mu.Unlock()

	log.Debug("notification offset loaded", "offset_ms", offset.Millis())

	for {
		err := e.consume(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrThreadLeft):
			return err
		case errors.Is(err, io.EOF):
			log.Debug("notification stream ended, reopening")
		case chatsdk.IsTransient(err):
			log.Warn("notification stream interrupted, reopening", "error", err)
		default:
			return err
		}

		if err := e.cfg.Pacer.Wait(ctx); err != nil {
			return err
		}
		e.cfg.Metrics.RecordReconnect("notifications")
	}
}

func (e *Engine) readOffset(ctx context.Context) (chatsdk.Timestamp, error) {
	for {
		offset, err := e.api.ReadOffset(ctx)
		if err == nil {
			return offset, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !chatsdk.IsTransient(err) {
			return 0, fmt.Errorf("read offset: %w", err)
		}

		slogx.FromContext(ctx).Warn("failed to read notification offset, retrying", "error", err)
		if err := e.cfg.Pacer.Wait(ctx); err != nil {
			return 0, err
		}
	}
}

// consume reads one long poll until it ends.
func (e *Engine) consume(ctx context.Context) error {
	stream, err := e.api.OpenNotifications(ctx, e.Offset())
	if err != nil {
		return err
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		n, err := stream.Next()
		if err != nil {
			return err
		}

		// The persisted offset only moves forward, even for a redelivery
		// older than what was already acknowledged.
		ack := max(e.Offset(), n.Time)
		if err := e.api.SetReadOffset(ctx, ack); err != nil {
			return fmt.Errorf("acknowledge notification: %w", err)
		}
		e.mu.Lock()
		e.offset = ack
		e.mu.Unlock()

		if err := e.handle(ctx, *n); err != nil {
			return err
		}
	}
}

func (e *Engine) handle(ctx context.Context, n chatsdk.Notification) error {
	key := handledKey(n)

	e.mu.Lock()
	_, dup := e.handled[key]
	e.handled[key] = struct{}{}
	e.mu.Unlock()

	if dup {
		slogx.FromContext(ctx).Debug("duplicate notification ignored", "code", n.Code, "notified_thread", n.ThreadID())
		return nil
	}

	e.cfg.Metrics.RecordNotification(n.Code)
	if e.cfg.OnNotification != nil {
		e.cfg.OnNotification(n)
	}

	if n.Code == chatsdk.NotificationThreadLeft && n.ThreadID() != "" && n.ThreadID() == e.cfg.ThreadID {
		slogx.FromContext(ctx).Info("thread left", "thread_id", e.cfg.ThreadID)
		return ErrThreadLeft
	}

	return nil
}

// handledKey identifies a lifecycle transition. Notifications without a
// thread fall back to their time.
func handledKey(n chatsdk.Notification) string {
	if id := n.ThreadID(); id != "" {
		return n.Code + "/" + id
	}
	return n.Code + "@" + strconv.FormatInt(n.Time.Millis(), 10)
}
