// Package chattest runs an in-process fake of the chat service for tests.
// Every endpoint the client uses is served from memory, call counts are
// recorded per route and the interesting responses can be scripted.
package chattest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/jwtx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
	"github.com/gorilla/websocket"
)

// Route names as passed to Calls.
const (
	RouteCreateUser    = "POST /users"
	RouteLogin         = "POST /tokens"
	RouteThreads       = "GET /threads"
	RouteLeave         = "POST /threads/{id}/leave"
	RouteHistory       = "GET /threads/{id}"
	RouteTickets       = "GET /tickets"
	RouteDeleteTicket  = "DELETE /tickets/{id}"
	RouteMatch         = "POST /match"
	RouteWaitTicket    = "GET /match/tickets/{id}"
	RouteReadOffset    = "GET /users/me/notifications/read-offset"
	RouteSetReadOffset = "PATCH /users/me/notifications/read-offset"
	RouteNotifications = "GET /users/me/notifications"
	RouteMessagesDown  = "GET /messages/down"
	RouteMessagesUp    = "GET /messages/up"

	defaultTokenTTL = time.Minute
)

// Poll is one scripted answer to a ticket long poll.
type Poll struct {
	Status   int    // defaults to 200
	ThreadID string // empty with 200 simulates a malformed response
	Delay    time.Duration
}

type ticket struct {
	owner    string
	threadID string
}

// Server is the fake chat service. Create it with New.
type Server struct {
	*httptest.Server

	signer *jwtx.HS256

	mu            sync.Mutex
	tokenTTL      time.Duration
	calls         map[string]int
	secrets       map[chatsdk.Secret]string // secret -> user id
	threads       map[string][]string       // user id -> thread ids
	tickets       map[string]*ticket
	ticketOrder   []string
	polls         []Poll
	matchStatus   int
	reject        int
	failures      map[string][]int // route -> queued statuses
	history       map[string][]chatsdk.Message
	notifications []chatsdk.Notification
	readOffset    int64
	offsetWrites  []int64
	downOffsets   []chatsdk.Offsets
	sent          []chatsdk.OutboundMessage
	pongs         int
	down          chan string
	wake          chan struct{}
	hangup        chan struct{}
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	signer, err := jwtx.NewHS256([]byte("chattest-signing-key"))
	if err != nil {
		t.Fatalf("chattest: %v", err)
	}

	s := &Server{
		signer:   signer,
		tokenTTL: defaultTokenTTL,
		calls:    make(map[string]int),
		failures: make(map[string][]int),
		secrets:  make(map[chatsdk.Secret]string),
		threads:  make(map[string][]string),
		tickets:  make(map[string]*ticket),
		history:  make(map[string][]chatsdk.Message),
		down:     make(chan string, 128),
		wake:     make(chan struct{}),
		hangup:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = httptest.NewServer(slogx.HTTPMiddleware(slogx.Discard())(mux))
	t.Cleanup(s.Close)

	return s
}

// Close hangs up open streams and shuts the server down.
func (s *Server) Close() {
	s.HangUp()
	s.Server.CloseClientConnections()
	s.Server.Close()
}

// Client returns an SDK client pointed at the fake.
func (s *Server) Client() *chatsdk.SDKClient {
	return chatsdk.NewSDKClient(s.URL)
}

// ============================================================================
// Scripting
// ============================================================================

// AddUser registers secret and returns the new user's id.
func (s *Server) AddUser(secret chatsdk.Secret) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(secret)
}

func (s *Server) addUserLocked(secret chatsdk.Secret) string {
	userID := "u-" + newID()
	s.secrets[secret] = userID
	return userID
}

// SetTokenTTL changes the lifetime of tokens issued from now on. A negative
// ttl issues tokens that are already expired.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// IssueToken signs a token for userID outside of the login endpoint.
func (s *Server) IssueToken(userID string, ttl time.Duration) string {
	raw, err := s.signer.Sign(jwtx.NewAccessClaims(userID, ttl, time.Now()))
	if err != nil {
		panic(err)
	}
	return raw
}

// RejectNext makes the next n authenticated requests fail with 401.
func (s *Server) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = n
}

// FailNext makes the next n requests to route answer status before any
// other handling. A 2xx status is sent with no body.
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures[route] = append(s.failures[route], status)
	}
}

// AddThread puts userID into threadID.
func (s *Server) AddThread(userID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[userID] = append(s.threads[userID], threadID)
}

// AddTicket gives userID a ticket, resolved when threadID is not empty.
func (s *Server) AddTicket(userID, ticketID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticketID] = &ticket{owner: userID, threadID: threadID}
	s.ticketOrder = append(s.ticketOrder, ticketID)
}

// Tickets returns the tickets userID still holds.
func (s *Server) Tickets(userID string) []chatsdk.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketsLocked(userID)
}

func (s *Server) ticketsLocked(userID string) []chatsdk.Ticket {
	var out []chatsdk.Ticket
	for _, id := range s.ticketOrder {
		if tk, ok := s.tickets[id]; ok && tk.owner == userID {
			out = append(out, chatsdk.Ticket{ID: id, ThreadID: tk.threadID})
		}
	}
	return out
}

// ScriptPolls queues answers for ticket long polls. Once the script runs
// out polls answer 524, or the thread if the ticket is already resolved.
func (s *Server) ScriptPolls(polls ...Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, polls...)
}

// SetMatchStatus forces POST /match to answer with status. Zero restores
// the normal behaviour.
func (s *Server) SetMatchStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchStatus = status
}

// AddHistory appends messages to threadID's history.
func (s *Server) AddHistory(threadID string, msgs ...chatsdk.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[threadID] = append(s.history[threadID], msgs...)
}

// Notify appends a notification and wakes open notification streams.
func (s *Server) Notify(n chatsdk.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	s.broadcastLocked()
}

// SetReadOffset seeds the persisted read offset (milliseconds).
func (s *Server) SetReadOffset(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOffset = ms
}

// PushFrame queues a raw text frame for the inbound message channel.
func (s *Server) PushFrame(frame string) {
	s.down <- frame
}

// PushMessage queues m for the inbound message channel.
func (s *Server) PushMessage(m chatsdk.Message) {
	s.PushFrame(string(mustJSON(m)))
}

// HangUp ends every open stream and websocket. It may be called once.
func (s *Server) HangUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.hangup:
	default:
		close(s.hangup)
	}
}

func (s *Server) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// ============================================================================
// Inspection
// ============================================================================

// Calls returns how many times route was requested.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Threads returns the threads userID is in.
func (s *Server) Threads(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.threads[userID]...)
}

// OffsetWrites returns every PATCHed read offset in order.
func (s *Server) OffsetWrites() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsetWrites...)
}

// DownOffsets returns the first frame of every inbound channel opened.
func (s *Server) DownOffsets() []chatsdk.Offsets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatsdk.Offsets(nil), s.downOffsets...)
}

// Sent returns the messages received on outbound channels.
func (s *Server) Sent() []chatsdk.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatsdk.OutboundMessage(nil), s.sent...)
}

// Pongs returns how many PONG replies the server received.
func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// ============================================================================
// Helpers
// ============================================================================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}
