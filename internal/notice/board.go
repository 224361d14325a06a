// Package notice keeps the short failure lines shown to the user. Each line
// is stamped with the wall-clock time it was raised and disappears after a
// fixed TTL.
package notice

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
)

// DefaultTTL is how long a notice stays visible.
const DefaultTTL = 3500 * time.Millisecond

const stampLayout = "15:04:05"

type entry struct {
	msg     string
	line    string
	expires time.Time
}

// Board holds the visible notices. It is safe for concurrent use.
type Board struct {
	TTL    time.Duration
	Logger *slog.Logger

	// OnAppend, if set, is called with every new line.
	OnAppend func(line string)

	now func() time.Time

	mu      sync.Mutex
	entries []entry

	// Internal channels for lifecycle management
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewBoard creates a board whose notices live for ttl.
// If ttl is 0 or negative, defaults to DefaultTTL.
func NewBoard(ttl time.Duration, logger *slog.Logger) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Board{
		TTL:    ttl,
		Logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Append adds msg and returns the line as shown, "[HH:MM:SS] msg". A msg
// that is still visible is not repeated: its existing line is returned and
// OnAppend is not called.
func (b *Board) Append(msg string) string {
	b.prune()
	now := b.now()

	b.mu.Lock()
	for _, e := range b.entries {
		if e.msg == msg {
			b.mu.Unlock()
			return e.line
		}
	}
	line := "[" + now.Format(stampLayout) + "] " + msg
	b.entries = append(b.entries, entry{msg: msg, line: line, expires: now.Add(b.TTL)})
	b.mu.Unlock()

	if b.OnAppend != nil {
		b.OnAppend(line)
	}
	return line
}

// Report logs err and appends its user-facing text.
func (b *Board) Report(err error) string {
	if err == nil {
		return ""
	}
	b.Logger.Warn("reported to user", "error", err)
	return b.Append(chatsdk.UserMessage(err))
}

// Lines returns the visible notices, newest first.
func (b *Board) Lines() []string {
	b.prune()

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.entries))
	for i := len(b.entries) - 1; i >= 0; i-- {
		out = append(out, b.entries[i].line)
	}
	return out
}

// prune drops expired entries and reports how many were removed.
func (b *Board) prune() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Entries are appended in time order, so the expired ones lead.
	n := 0
	for n < len(b.entries) && !now.Before(b.entries[n].expires) {
		n++
	}
	b.entries = b.entries[n:]
	return n
}

// Start begins the background worker that drops expired notices.
// Call Stop() to shut it down. Starting twice is a no-op.
func (b *Board) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
	b.Logger.Debug("notice pruner started", "ttl", b.TTL)
}

// Stop shuts the pruner down and waits for it to exit. It is a no-op on
// a board that was never started.
func (b *Board) Stop() {
	if !b.started.Load() {
		return
	}
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	b.Logger.Debug("notice pruner stopped")
}

func (b *Board) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := b.prune(); n > 0 {
				b.Logger.Debug("notices expired", "count", n)
			}
		case <-b.stopCh:
			return
		}
	}
}
