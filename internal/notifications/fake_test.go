package notifications_test

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/aussiebroadwan/randchat/internal/notifications"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
)

var errStreamClosed = errors.New("stream closed")

// fakeStream yields queued notifications, then end. With no end it blocks
// until closed.
type fakeStream struct {
	items  []chatsdk.Notification
	end    error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(items ...chatsdk.Notification) *fakeStream {
	return &fakeStream{items: items, closed: make(chan struct{})}
}

func (s *fakeStream) Next() (*chatsdk.Notification, error) {
	if s.isClosed() {
		return nil, errStreamClosed
	}
	if len(s.items) > 0 {
		n := s.items[0]
		s.items = s.items[1:]
		return &n, nil
	}
	if s.end != nil {
		return nil, s.end
	}
	<-s.closed
	return nil, errStreamClosed
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeAPI records every call as an event so tests can assert ordering.
type fakeAPI struct {
	mu       sync.Mutex
	streams  []*fakeStream
	offset   chatsdk.Timestamp
	readErrs []error
	ackErrs  []error
	calls    []string
}

func newFakeAPI(streams ...*fakeStream) *fakeAPI {
	return &fakeAPI{streams: streams}
}

func (a *fakeAPI) log(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, event)
}

func (a *fakeAPI) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAPI) ReadOffset(context.Context) (chatsdk.Timestamp, error) {
	a.log("read")

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.readErrs) > 0 {
		err := a.readErrs[0]
		a.readErrs = a.readErrs[1:]
		return 0, err
	}
	return a.offset, nil
}

func (a *fakeAPI) SetReadOffset(_ context.Context, offset chatsdk.Timestamp) error {
	a.mu.Lock()
	var err error
	if len(a.ackErrs) > 0 {
		err = a.ackErrs[0]
		a.ackErrs = a.ackErrs[1:]
	}
	a.mu.Unlock()

	if err != nil {
		a.log("ack-failed:" + stamp(offset))
		return err
	}
	a.log("ack:" + stamp(offset))
	return nil
}

func (a *fakeAPI) OpenNotifications(ctx context.Context, since chatsdk.Timestamp) (notifications.Stream, error) {
	a.log("open:" + stamp(since))

	a.mu.Lock()
	if len(a.streams) == 0 {
		a.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := a.streams[0]
	a.streams = a.streams[1:]
	a.mu.Unlock()
	return s, nil
}

func stamp(ts chatsdk.Timestamp) string {
	return strconv.FormatFloat(float64(ts), 'f', -1, 64)
}
