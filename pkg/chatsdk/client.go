package chatsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/idx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
	"github.com/gorilla/websocket"
)

// SDKClient is a client for the chat service.
// It provides access to unauthenticated operations and can create authenticated Sessions.
type SDKClient struct {
	BaseURL   string
	WSBaseURL string

	// HTTPClient serves request/response calls and carries a timeout.
	HTTPClient *http.Client

	// StreamClient serves long polls. It must not have a timeout; the
	// server ends the poll itself and cancellation comes from the context.
	StreamClient *http.Client

	// Dialer opens the websocket message channels.
	Dialer *websocket.Dialer

	// Now is the clock used for token expiry checks.
	Now func() time.Time
}

// NewSDKClient creates a new chat service client. The websocket base URL is
// derived from baseURL (http -> ws, https -> wss).
func NewSDKClient(baseURL string) *SDKClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	transport := &slogx.Transport{Base: http.DefaultTransport}

	return &SDKClient{
		BaseURL:   baseURL,
		WSBaseURL: WebsocketURL(baseURL),
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		StreamClient: &http.Client{
			Transport: transport,
		},
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		Now: time.Now,
	}
}

// WebsocketURL maps an http(s) base URL to its ws(s) counterpart.
func WebsocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func (c *SDKClient) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// AuthenticateWithSecret logs in with secret and returns a session holding
// the token. An incorrect secret returns ErrIncorrectCredential and no
// session.
func (c *SDKClient) AuthenticateWithSecret(ctx context.Context, secret Secret) (*Session, error) {
	token, err := c.Login(ctx, secret)
	if err != nil {
		return nil, err
	}

	s := c.NewSession(secret)
	s.token = token
	return s, nil
}

// NewSession creates a session that logs in lazily on first use.
func (c *SDKClient) NewSession(secret Secret) *Session {
	return &Session{
		client: c,
		id:     idx.New(),
		secret: secret,
	}
}

// NewSessionFromToken creates a session from a token obtained earlier. The
// session still logs in again with secret once the token expires.
func (c *SDKClient) NewSessionFromToken(secret Secret, rawToken string) (*Session, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	s := c.NewSession(secret)
	s.token = token
	return s, nil
}

func (c *SDKClient) logger(ctx context.Context) *slog.Logger {
	return slogx.FromContext(ctx)
}
