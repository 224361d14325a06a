package notifications_test

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/randchat/internal/chattest"
	"github.com/aussiebroadwan/randchat/internal/notifications"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/stretchr/testify/require"
)

const threadID = "th-1"

func note(code, thread string, at float64) chatsdk.Notification {
	return chatsdk.Notification{
		Code:    code,
		Time:    chatsdk.Timestamp(at),
		Details: map[string]any{"thread_id": thread},
	}
}

func TestThreadLeftEndsRun(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	srv.AddUser("secret")
	srv.SetReadOffset(1700000000000)

	session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
	require.NoError(t, err)

	// Consumed before the persisted offset, never redelivered.
	srv.Notify(note(chatsdk.NotificationThreadJoined, "th-old", 1699999999))
	srv.Notify(note(chatsdk.NotificationThreadJoined, threadID, 1700000001))

	var (
		mu   sync.Mutex
		seen []string
	)
	engine := notifications.New(notifications.SessionAPI(session), notifications.Config{
		ThreadID: threadID,
		OnNotification: func(n chatsdk.Notification) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, n.Code+":"+n.ThreadID())
		},
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(srv.OffsetWrites()) == 1 }, 5*time.Second, 10*time.Millisecond)
	srv.Notify(note(chatsdk.NotificationThreadLeft, threadID, 1700000002))

	select {
	case err := <-done:
		require.ErrorIs(t, err, notifications.ErrThreadLeft)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end on thread_leaved")
	}

	require.Equal(t, []int64{1700000001000, 1700000002000}, srv.OffsetWrites())
	require.Equal(t, []string{"thread_joined:th-1", "thread_leaved:th-1"}, seen)
	require.Equal(t, chatsdk.Timestamp(1700000002), engine.Offset())
	require.Equal(t, 1, srv.Calls(chattest.RouteReadOffset))
}

func TestLeaveThroughServer(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	userID := srv.AddUser("secret")
	srv.AddThread(userID, threadID)

	session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
	require.NoError(t, err)

	engine := notifications.New(notifications.SessionAPI(session), notifications.Config{ThreadID: threadID})

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return srv.Calls(chattest.RouteNotifications) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, session.LeaveThread(context.Background(), threadID))

	select {
	case err := <-done:
		require.ErrorIs(t, err, notifications.ErrThreadLeft)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after leaving")
	}
}

func TestAckBeforeHandle(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(newFakeStream(
		note(chatsdk.NotificationThreadJoined, threadID, 10),
		note(chatsdk.NotificationThreadLeft, threadID, 11),
	))

	engine := notifications.New(api, notifications.Config{
		ThreadID:       threadID,
		OnNotification: func(n chatsdk.Notification) { api.log("handle:" + n.Code) },
	})

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, notifications.ErrThreadLeft)
	require.Equal(t, []string{
		"read",
		"open:0",
		"ack:10",
		"handle:thread_joined",
		"ack:11",
		"handle:thread_leaved",
	}, api.events())
}

func TestDuplicatesAreNoOps(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(newFakeStream(
		note(chatsdk.NotificationThreadLeft, "th-other", 10),
		note(chatsdk.NotificationThreadLeft, "th-other", 10),
		note(chatsdk.NotificationThreadJoined, threadID, 11),
		note(chatsdk.NotificationThreadJoined, threadID, 11),
		note(chatsdk.NotificationThreadLeft, threadID, 12),
		note(chatsdk.NotificationThreadLeft, threadID, 12),
	))

	handled := 0
	engine := notifications.New(api, notifications.Config{
		ThreadID:       threadID,
		OnNotification: func(chatsdk.Notification) { handled++ },
	})

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, notifications.ErrThreadLeft)
	require.Equal(t, 3, handled)
}

func TestReconnectFromAckedOffset(t *testing.T) {
	t.Parallel()

	first := newFakeStream(note(chatsdk.NotificationThreadJoined, threadID, 10))
	first.end = io.EOF
	second := newFakeStream(
		// Redelivered by a server that treats t as inclusive.
		note(chatsdk.NotificationThreadJoined, threadID, 10),
		note(chatsdk.NotificationThreadLeft, threadID, 20),
	)

	api := newFakeAPI(first, second)
	api.offset = 5

	handled := 0
	engine := notifications.New(api, notifications.Config{
		ThreadID:       threadID,
		OnNotification: func(chatsdk.Notification) { handled++ },
	})

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, notifications.ErrThreadLeft)
	require.Equal(t, 2, handled)
	require.Equal(t, []string{
		"read",
		"open:5",
		"ack:10",
		"open:10",
		"ack:10",
		"ack:20",
	}, api.events())
}

func TestAckNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(newFakeStream(
		note(chatsdk.NotificationThreadJoined, threadID, 10),
		note(chatsdk.NotificationThreadLeft, threadID, 60),
	))
	api.offset = 50

	engine := notifications.New(api, notifications.Config{ThreadID: threadID})

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, notifications.ErrThreadLeft)
	require.Equal(t, []string{"read", "open:50", "ack:50", "ack:60"}, api.events())
	require.Equal(t, chatsdk.Timestamp(60), engine.Offset())
}

func TestUnexpectedStatusReopens(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	userID := srv.AddUser("secret")
	srv.AddThread(userID, threadID)
	srv.FailNext(chattest.RouteNotifications, http.StatusNoContent, 1)

	session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
	require.NoError(t, err)

	engine := notifications.New(notifications.SessionAPI(session), notifications.Config{ThreadID: threadID})

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	require.Eventually(t, func() bool { return srv.Calls(chattest.RouteNotifications) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, session.LeaveThread(context.Background(), threadID))

	select {
	case err := <-done:
		require.ErrorIs(t, err, notifications.ErrThreadLeft)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not recover from the empty response")
	}
}

func TestFailedAckRedelivers(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(
		newFakeStream(note(chatsdk.NotificationThreadLeft, threadID, 10)),
		newFakeStream(note(chatsdk.NotificationThreadLeft, threadID, 10)),
	)
	api.ackErrs = []error{chatsdk.ErrNetwork}

	handled := 0
	engine := notifications.New(api, notifications.Config{
		ThreadID:       threadID,
		OnNotification: func(chatsdk.Notification) { handled++ },
	})

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, notifications.ErrThreadLeft)
	require.Equal(t, 1, handled)
	require.Equal(t, []string{"read", "open:0", "ack-failed:10", "open:0", "ack:10"}, api.events())
}

func TestReadOffsetFailure(t *testing.T) {
	t.Parallel()

	t.Run("transient is retried", func(t *testing.T) {
		api := newFakeAPI(newFakeStream(note(chatsdk.NotificationThreadLeft, threadID, 10)))
		api.readErrs = []error{chatsdk.ErrService, chatsdk.ErrNetwork}

		engine := notifications.New(api, notifications.Config{ThreadID: threadID})
		require.ErrorIs(t, engine.Run(context.Background()), notifications.ErrThreadLeft)
		require.Equal(t, []string{"read", "read", "read", "open:0", "ack:10"}, api.events())
	})

	t.Run("auth failure is returned", func(t *testing.T) {
		api := newFakeAPI()
		api.readErrs = []error{chatsdk.ErrUnauthorized}

		engine := notifications.New(api, notifications.Config{ThreadID: threadID})
		require.ErrorIs(t, engine.Run(context.Background()), chatsdk.ErrUnauthorized)
	})
}

func TestCancelClosesStream(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	api := newFakeAPI(stream)

	ctx, cancel := context.WithCancel(context.Background())
	engine := notifications.New(api, notifications.Config{ThreadID: threadID})

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool { return len(api.events()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		require.True(t, stream.isClosed())
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
