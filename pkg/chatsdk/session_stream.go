package chatsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// closeWait bounds how long SendMessage waits for the server to echo
	// the close frame.
	closeWait = 5 * time.Second
)

// ErrChannelClosed is returned by MessageConn.ReadFrame once the server or
// the caller closed the channel.
var ErrChannelClosed = errors.New("chatsdk: message channel closed")

// MessageConn is the inbound message channel. Reads must come from a single
// goroutine; writes and Close are safe from any goroutine.
type MessageConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// OpenMessages dials the inbound channel and sends offsets as the first
// frame. The server then pushes every message newer than its thread's
// offset.
func (s *Session) OpenMessages(ctx context.Context, offsets Offsets) (*MessageConn, error) {
	conn, err := s.dial(ctx, "/messages/down")
	if err != nil {
		return nil, err
	}

	mc := &MessageConn{conn: conn}
	if err := mc.writeJSON(offsets); err != nil {
		mc.Close()
		return nil, err
	}

	return mc, nil
}

// ReadFrame blocks for the next text frame.
func (mc *MessageConn) ReadFrame() (string, error) {
	_, data, err := mc.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return "", errors.Join(ErrChannelClosed, err)
		}
		return "", networkError(err)
	}
	return string(data), nil
}

// WriteFrame writes a single text frame, e.g. the PONG keepalive reply.
func (mc *MessageConn) WriteFrame(frame string) error {
	mc.writeMu.Lock()
	defer mc.writeMu.Unlock()

	_ = mc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := mc.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return networkError(err)
	}
	return nil
}

func (mc *MessageConn) writeJSON(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return mc.WriteFrame(string(buf))
}

// Close sends a close frame and closes the connection. It unblocks a
// pending ReadFrame and is safe to call more than once.
func (mc *MessageConn) Close() error {
	mc.closeOnce.Do(func() {
		mc.writeMu.Lock()
		_ = mc.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		mc.writeMu.Unlock()
		mc.closeErr = mc.conn.Close()
	})
	return mc.closeErr
}

// SendMessage sends text to threadID on a fresh outbound channel: one frame,
// then a graceful close.
func (s *Session) SendMessage(ctx context.Context, threadID, text string) error {
	conn, err := s.dial(ctx, "/messages/up")
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(OutboundMessage{ThreadID: threadID, Text: text}); err != nil {
		return networkError(err)
	}

	err = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	if err != nil {
		return networkError(err)
	}

	// Wait for the server to acknowledge the close so the frame is known
	// to be delivered.
	_ = conn.SetReadDeadline(time.Now().Add(closeWait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			if ctx.Err() != nil {
				return networkError(ctx.Err())
			}
			s.client.logger(ctx).Debug("outbound channel closed without handshake", "error", err)
			return nil
		}
	}
}

// dial opens a websocket at path with the session's bearer token. A 401
// handshake is retried once with a fresh token, like doAuthRequest.
func (s *Session) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	token, err := s.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialWithToken(ctx, path, token)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return conn, s.handshakeError(resp, err)
	}

	s.invalidate(token)
	token, err = s.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err = s.dialWithToken(ctx, path, token)
	return conn, s.handshakeError(resp, err)
}

func (s *Session) dialWithToken(ctx context.Context, path string, token *Token) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token.Raw)

	dialer := s.client.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, s.client.WSBaseURL+path, header)
	if resp != nil && resp.Body != nil && err != nil {
		defer resp.Body.Close()
	}
	return conn, resp, err
}

func (s *Session) handshakeError(resp *http.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		return unexpectedStatus(resp, nil)
	}
	return networkError(err)
}
