package chatsdk_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/randchat/internal/chattest"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/stretchr/testify/require"
)

func TestValidTokenSingleLogin(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	userID := srv.AddUser("secret")
	client := srv.Client()

	session, err := client.NewSessionFromToken("secret", srv.IssueToken(userID, -time.Minute))
	require.NoError(t, err)

	const callers = 32
	tokens := make([]*chatsdk.Token, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = session.ValidToken(context.Background())
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Same(t, tokens[0], tokens[i])
		require.False(t, tokens[i].Expired())
	}
	require.Equal(t, 1, srv.Calls(chattest.RouteLogin))
	require.Equal(t, userID, session.UserID())
}

func TestValidTokenReusesCachedToken(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	srv.AddUser("secret")

	session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
	require.NoError(t, err)

	for range 5 {
		_, err := session.ListThreads(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 1, srv.Calls(chattest.RouteLogin))
	require.Equal(t, 5, srv.Calls(chattest.RouteThreads))
}

func TestIncorrectSecret(t *testing.T) {
	t.Parallel()

	t.Run("authenticate returns no session", func(t *testing.T) {
		srv := chattest.New(t)

		session, err := srv.Client().AuthenticateWithSecret(context.Background(), "wrong")
		require.ErrorIs(t, err, chatsdk.ErrIncorrectCredential)
		require.Nil(t, session)
		require.Equal(t, 1, srv.Calls(chattest.RouteLogin))
	})

	t.Run("lazy session becomes unusable", func(t *testing.T) {
		srv := chattest.New(t)
		session := srv.Client().NewSession("wrong")

		_, err := session.ListThreads(context.Background())
		require.ErrorIs(t, err, chatsdk.ErrIncorrectCredential)
		require.True(t, chatsdk.IsAuth(err))

		_, err = session.ListThreads(context.Background())
		require.ErrorIs(t, err, chatsdk.ErrIncorrectCredential)

		_, err = session.StartMatch(context.Background())
		require.ErrorIs(t, err, chatsdk.ErrIncorrectCredential)

		require.Equal(t, 1, srv.Calls(chattest.RouteLogin))
		require.Zero(t, srv.Calls(chattest.RouteThreads))
		require.Zero(t, srv.Calls(chattest.RouteMatch))
		require.Empty(t, session.UserID())
	})
}

func TestReloginOnUnauthorized(t *testing.T) {
	t.Parallel()

	t.Run("one rejection is absorbed", func(t *testing.T) {
		srv := chattest.New(t)
		userID := srv.AddUser("secret")
		srv.AddThread(userID, "th-1")

		session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
		require.NoError(t, err)

		srv.RejectNext(1)
		ids, err := session.ListThreads(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"th-1"}, ids)

		require.Equal(t, 2, srv.Calls(chattest.RouteLogin))
		require.Equal(t, 2, srv.Calls(chattest.RouteThreads))
	})

	t.Run("second rejection surfaces", func(t *testing.T) {
		srv := chattest.New(t)
		srv.AddUser("secret")

		session, err := srv.Client().AuthenticateWithSecret(context.Background(), "secret")
		require.NoError(t, err)

		srv.RejectNext(2)
		_, err = session.ListThreads(context.Background())
		require.ErrorIs(t, err, chatsdk.ErrUnauthorized)
		require.Equal(t, 2, srv.Calls(chattest.RouteThreads))
	})
}

func TestCreateUserThenLogin(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	client := srv.Client()

	secret, err := client.CreateUser(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	session, err := client.AuthenticateWithSecret(context.Background(), secret)
	require.NoError(t, err)
	require.NotEmpty(t, session.UserID())
	require.Equal(t, secret, session.Secret())
}

func TestNetworkError(t *testing.T) {
	t.Parallel()

	srv := chattest.New(t)
	client := srv.Client()
	srv.Close()

	_, err := client.Login(context.Background(), "secret")
	require.ErrorIs(t, err, chatsdk.ErrNetwork)
	require.True(t, chatsdk.IsTransient(err))
	require.Equal(t, "network problem", chatsdk.UserMessage(err))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	custom := &chatsdk.APIError{StatusCode: 524, Code: chatsdk.ErrorCodeTimeout, Description: "gateway"}
	wrapped := errors.Join(errors.New("poll"), custom)

	require.ErrorIs(t, wrapped, chatsdk.ErrTimeout)
	require.NotErrorIs(t, wrapped, chatsdk.ErrNetwork)
	require.True(t, chatsdk.IsTransient(wrapped))
	require.False(t, chatsdk.IsAuth(wrapped))

	require.True(t, chatsdk.IsAuth(chatsdk.ErrTicketForbidden))
	require.False(t, chatsdk.IsTransient(chatsdk.ErrAlreadyMatching))

	require.Equal(t, "incorrect secret", chatsdk.UserMessage(chatsdk.ErrIncorrectCredential))
	require.Equal(t, "connection closed", chatsdk.UserMessage(chatsdk.ErrChannelClosed))
	require.Equal(t, "unexpected error", chatsdk.UserMessage(errors.New("boom")))

	cause := errors.New("dial tcp: refused")
	netErr := &chatsdk.APIError{Code: chatsdk.ErrorCodeNetwork, Err: cause}
	require.ErrorIs(t, netErr, cause)
	require.Contains(t, netErr.Error(), "refused")
}
