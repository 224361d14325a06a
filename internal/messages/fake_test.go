package messages_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aussiebroadwan/randchat/internal/messages"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
)

func frame(m chatsdk.Message) string {
	buf, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(buf)
}

// fakeConn replays queued frames; closing frames simulates the server
// closing the channel.
type fakeConn struct {
	frames chan string
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{
		frames: make(chan string, len(frames)+1),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) ReadFrame() (string, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return "", chatsdk.ErrChannelClosed
		}
		return f, nil
	case <-c.closed:
		return "", chatsdk.ErrChannelClosed
	}
}

func (c *fakeConn) WriteFrame(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeAPI hands out scripted history responses and connections in order.
// Once the script runs out, fetches return nothing and opens block until
// ctx ends.
type fakeAPI struct {
	mu       sync.Mutex
	fetches  [][]chatsdk.Message
	conns    []*fakeConn
	fetchErr error
	openErr  error
	sendErr  error

	since   []chatsdk.Timestamp
	offsets []chatsdk.Offsets
	sent    []string
}

func (a *fakeAPI) FetchMessages(_ context.Context, _ string, since chatsdk.Timestamp) ([]chatsdk.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fetchErr != nil {
		return nil, a.fetchErr
	}

	a.since = append(a.since, since)
	if len(a.fetches) == 0 {
		return nil, nil
	}
	out := append([]chatsdk.Message(nil), a.fetches[0]...)
	a.fetches = a.fetches[1:]
	return out, nil
}

func (a *fakeAPI) OpenMessages(ctx context.Context, offsets chatsdk.Offsets) (messages.Conn, error) {
	a.mu.Lock()
	if a.openErr != nil {
		a.mu.Unlock()
		return nil, a.openErr
	}
	a.offsets = append(a.offsets, offsets)
	if len(a.conns) == 0 {
		a.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	conn := a.conns[0]
	a.conns = a.conns[1:]
	a.mu.Unlock()
	return conn, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, text)
	return nil
}

func (a *fakeAPI) fetchSince() []chatsdk.Timestamp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chatsdk.Timestamp(nil), a.since...)
}

func (a *fakeAPI) openOffsets() []chatsdk.Offsets {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chatsdk.Offsets(nil), a.offsets...)
}

func (a *fakeAPI) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}
