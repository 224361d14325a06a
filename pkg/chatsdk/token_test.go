package chatsdk_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1700000000, 0)
	tok := &chatsdk.Token{ExpiresAt: exp}

	require.False(t, tok.ExpiredAt(exp.Add(-time.Second)))
	require.False(t, tok.ExpiredAt(exp), "exact expiry is not expired")
	require.True(t, tok.ExpiredAt(exp.Add(time.Nanosecond)))
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	signer, err := jwtx.NewHS256([]byte("k"))
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	raw, err := signer.Sign(jwtx.NewAccessClaims("user-1", time.Minute, now))
	require.NoError(t, err)

	tok, err := chatsdk.ParseToken(raw)
	require.NoError(t, err)
	require.Equal(t, raw, tok.Raw)
	require.Equal(t, "user-1", tok.UserID)
	require.True(t, tok.ExpiresAt.Equal(now.Add(time.Minute)))

	_, err = chatsdk.ParseToken("garbage")
	require.ErrorIs(t, err, chatsdk.ErrService)
}

func TestTimestamp(t *testing.T) {
	t.Parallel()

	ts := chatsdk.TimestampOf(time.UnixMilli(1700000000123))
	require.Equal(t, int64(1700000000123), ts.Millis())
	require.Equal(t, int64(1700000000123), ts.Time().UnixMilli())

	require.Equal(t, chatsdk.Timestamp(1.5), chatsdk.TimestampFromMillis(1500))
	require.Equal(t, int64(1999), chatsdk.Timestamp(1.9999).Millis())
}

func TestSecretLogsFingerprint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("login", "secret", chatsdk.Secret("hunter2-very-secret"))

	require.NotContains(t, buf.String(), "hunter2")
	require.Contains(t, buf.String(), "secret=fp:")
}

func TestWebsocketURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "wss://chat.example.com", chatsdk.WebsocketURL("https://chat.example.com"))
	require.Equal(t, "ws://localhost:8000", chatsdk.WebsocketURL("http://localhost:8000"))

	client := chatsdk.NewSDKClient("http://localhost:8000/")
	require.Equal(t, "http://localhost:8000", client.BaseURL)
	require.Equal(t, "ws://localhost:8000", client.WSBaseURL)
	require.Zero(t, client.StreamClient.Timeout)
}
