package chatsdk

import (
	"log/slog"
	"math"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/cryptox"
)

// ============================================================================
// Credential
// ============================================================================

// Secret is the opaque credential issued once at account creation. It logs
// as a fingerprint so it never ends up in a log file.
type Secret string

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("fp:" + cryptox.Fingerprint(string(s)))
}

// ============================================================================
// Timestamps
// ============================================================================

// Timestamp is a point in time as the chat service encodes it: seconds since
// the epoch with a fractional part. Offsets and message times use it.
type Timestamp float64

// TimestampOf converts t with microsecond precision.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixMicro()) / 1e6)
}

// TimestampFromMillis converts the millisecond form used by query
// parameters and the read offset.
func TimestampFromMillis(ms float64) Timestamp {
	return Timestamp(ms / 1000)
}

// Millis returns the timestamp in whole milliseconds, rounded down so a
// cursor never skips past an event it has not seen.
func (ts Timestamp) Millis() int64 {
	return ts.micros() / 1000
}

// Time converts back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(ts.micros())
}

// micros snaps to the microsecond grid first; seconds since the epoch do
// not survive a float multiply by 1000 exactly.
func (ts Timestamp) micros() int64 {
	return int64(math.Round(float64(ts) * 1e6))
}

// ============================================================================
// Domain Types
// ============================================================================

// Ticket is an open or resolved matchmaking request.
type Ticket struct {
	ID string `json:"id"`

	// ThreadID is empty while the ticket is unresolved (null on the wire)
	ThreadID string `json:"thread_id"`
}

// Resolved reports whether the ticket already has a thread.
func (t Ticket) Resolved() bool { return t.ThreadID != "" }

// Message is one chat line in a thread.
type Message struct {
	ID     string    `json:"id"`
	UserID string    `json:"uid"`
	Text   string    `json:"text"`
	Time   Timestamp `json:"time"`
}

// Notification codes the client reacts to. Others are informational.
const (
	NotificationThreadJoined = "thread_joined"
	NotificationThreadLeft   = "thread_leaved"
)

// Notification is a read-receipt or thread-lifecycle event.
type Notification struct {
	Code    string         `json:"code"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details"`
}

// ThreadID returns the thread the notification is about, if any.
func (n Notification) ThreadID() string {
	id, _ := n.Details["thread_id"].(string)
	return id
}

// Keepalive frames on the message channel.
const (
	FramePing = "PING"
	FramePong = "PONG"
)

// Offsets maps a thread id to the time of the newest message already seen.
// It is the first frame on the inbound message channel.
type Offsets map[string]Timestamp

// OutboundMessage is the single frame written to the outbound channel.
type OutboundMessage struct {
	ThreadID string `json:"tid"`
	Text     string `json:"text"`
}

// ============================================================================
// Internal Request/Response Types (used for JSON marshaling)
// ============================================================================

type tokenRequest struct {
	Secret Secret `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type createUserResponse struct {
	Secret Secret `json:"secret"`
}

type threadsResponse struct {
	IDs []string `json:"ids"`
}

type matchResponse struct {
	TicketID string `json:"ticket_id"`
}

type messagesResponse struct {
	Data []Message `json:"data"`
}

type readOffsetResponse struct {
	Offset float64 `json:"offset"`
}

type readOffsetRequest struct {
	NewOffset int64 `json:"new_offset"`
}
