package chattest

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/cryptox"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/aussiebroadwan/randchat/pkg/idx"
	"github.com/aussiebroadwan/randchat/pkg/jwtx"
	"github.com/gorilla/websocket"
)

func (s *Server) routes(mux *http.ServeMux) {
	s.handle(mux, RouteCreateUser, s.handleCreateUser)
	s.handle(mux, RouteLogin, s.handleLogin)
	s.handle(mux, RouteThreads, s.authed(s.handleThreads))
	s.handle(mux, RouteLeave, s.authed(s.handleLeave))
	s.handle(mux, RouteHistory, s.authed(s.handleHistory))
	s.handle(mux, RouteTickets, s.authed(s.handleTickets))
	s.handle(mux, RouteDeleteTicket, s.authed(s.handleDeleteTicket))
	s.handle(mux, RouteMatch, s.authed(s.handleMatch))
	s.handle(mux, RouteWaitTicket, s.authed(s.handleWaitTicket))
	s.handle(mux, RouteReadOffset, s.authed(s.handleReadOffset))
	s.handle(mux, RouteSetReadOffset, s.authed(s.handleSetReadOffset))
	s.handle(mux, RouteNotifications, s.authed(s.handleNotifications))
	s.handle(mux, RouteMessagesDown, s.authed(s.handleMessagesDown))
	s.handle(mux, RouteMessagesUp, s.authed(s.handleMessagesUp))
}

func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		var status int
		if queued := s.failures[route]; len(queued) > 0 {
			status = queued[0]
			s.failures[route] = queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		h(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// authed verifies the bearer token. Expired or foreign tokens get 401.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.reject > 0 {
			s.reject--
			s.mu.Unlock()
			http.Error(w, "token rejected", http.StatusUnauthorized)
			return
		}
		s.mu.Unlock()

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := s.signer.Verify(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		h(w, r, claims.UserID)
	}
}

// ============================================================================
// Accounts
// ============================================================================

func (s *Server) handleCreateUser(w http.ResponseWriter, _ *http.Request) {
	secret, err := cryptox.NewSecret()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.addUserLocked(chatsdk.Secret(secret))
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"secret": secret})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret chatsdk.Secret `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	userID, ok := s.secrets[req.Secret]
	ttl := s.tokenTTL
	s.mu.Unlock()

	if !ok {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"detail": "incorrect secret"})
		return
	}

	raw, err := s.signer.Sign(jwtx.NewAccessClaims(userID, ttl, time.Now()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"access_token": raw})
}

// ============================================================================
// Threads
// ============================================================================

func (s *Server) handleThreads(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	ids := append([]string{}, s.threads[userID]...)
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, userID string) {
	threadID := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.threads[userID], threadID)
	if i < 0 {
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "not in thread"})
		return
	}
	s.threads[userID] = slices.Delete(s.threads[userID], i, i+1)

	s.notifications = append(s.notifications, chatsdk.Notification{
		Code:    chatsdk.NotificationThreadLeft,
		Time:    chatsdk.TimestampOf(time.Now()),
		Details: map[string]any{"thread_id": threadID, "user_id": userID},
	})
	s.broadcastLocked()

	httpx.WriteJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ string) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)

	s.mu.Lock()
	data := []chatsdk.Message{}
	for _, m := range s.history[r.PathValue("id")] {
		if m.Time.Millis() >= since {
			data = append(data, m)
		}
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string][]chatsdk.Message{"data": data})
}

// ============================================================================
// Matchmaking
// ============================================================================

func (s *Server) handleTickets(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	tickets := s.ticketsLocked(userID)
	s.mu.Unlock()

	out := make([]map[string]any, 0, len(tickets))
	for _, tk := range tickets {
		var threadID any
		if tk.Resolved() {
			threadID = tk.ThreadID
		}
		out = append(out, map[string]any{"id": tk.ID, "thread_id": threadID})
	}

	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request, userID string) {
	ticketID := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tickets[ticketID]
	switch {
	case !ok:
		http.Error(w, "no such ticket", http.StatusNotFound)
	case tk.owner != userID:
		http.Error(w, "wrong ticket", http.StatusForbidden)
	default:
		delete(s.tickets, ticketID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleMatch(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.matchStatus != 0 {
		httpx.WriteJSON(w, s.matchStatus, map[string]string{"detail": http.StatusText(s.matchStatus)})
		return
	}

	for _, tk := range s.ticketsLocked(userID) {
		if !tk.Resolved() {
			httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "already in matching"})
			return
		}
	}

	ticketID := "t-" + newID()
	s.tickets[ticketID] = &ticket{owner: userID}
	s.ticketOrder = append(s.ticketOrder, ticketID)

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"ticket_id": ticketID})
}

func (s *Server) handleWaitTicket(w http.ResponseWriter, r *http.Request, userID string) {
	ticketID := r.PathValue("id")

	s.mu.Lock()
	tk, ok := s.tickets[ticketID]
	if !ok || tk.owner != userID {
		s.mu.Unlock()
		http.Error(w, "wrong ticket", http.StatusForbidden)
		return
	}

	var poll Poll
	scripted := len(s.polls) > 0
	if scripted {
		poll = s.polls[0]
		s.polls = s.polls[1:]
	} else if tk.threadID != "" {
		poll = Poll{ThreadID: tk.threadID}
	} else {
		poll = Poll{Status: httpx.StatusOriginTimeout}
	}
	s.mu.Unlock()

	if poll.Delay > 0 {
		select {
		case <-time.After(poll.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if poll.Status != 0 && poll.Status != http.StatusOK {
		http.Error(w, http.StatusText(poll.Status), poll.Status)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if poll.ThreadID == "" {
		return
	}

	s.mu.Lock()
	if tk, ok := s.tickets[ticketID]; ok && tk.threadID == "" {
		tk.threadID = poll.ThreadID
		s.threads[userID] = append(s.threads[userID], poll.ThreadID)
	}
	s.mu.Unlock()

	_, _ = w.Write([]byte(poll.ThreadID + "\n"))
}

// ============================================================================
// Notifications
// ============================================================================

func (s *Server) handleReadOffset(w http.ResponseWriter, _ *http.Request, _ string) {
	s.mu.Lock()
	offset := s.readOffset
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"offset": offset})
}

func (s *Server) handleSetReadOffset(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		NewOffset int64 `json:"new_offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	s.readOffset = req.NewOffset
	s.offsetWrites = append(s.offsetWrites, req.NewOffset)
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]string{})
}

// handleNotifications streams every notification newer than t and then
// holds the poll open, writing new ones as they arrive.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, _ string) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	next := 0
	for {
		s.mu.Lock()
		pending := s.notifications[next:]
		next = len(s.notifications)
		wake, hangup := s.wake, s.hangup
		s.mu.Unlock()

		for _, n := range pending {
			if n.Time.Millis() <= since {
				continue
			}
			if err := httpx.WriteJSONLine(w, n); err != nil {
				return
			}
		}

		select {
		case <-wake:
		case <-hangup:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ============================================================================
// Message channels
// ============================================================================

func (s *Server) handleMessagesDown(w http.ResponseWriter, r *http.Request, _ string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var offsets chatsdk.Offsets
	if err := conn.ReadJSON(&offsets); err != nil {
		return
	}

	s.mu.Lock()
	s.downOffsets = append(s.downOffsets, offsets)
	hangup := s.hangup
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == chatsdk.FramePong {
				s.mu.Lock()
				s.pongs++
				s.mu.Unlock()
			}
		}
	}()

	for {
		select {
		case frame := <-s.down:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		case <-hangup:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			return
		case <-done:
			return
		}
	}
}

func (s *Server) handleMessagesUp(w http.ResponseWriter, r *http.Request, _ string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var msg chatsdk.OutboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	// The default close handler echoes the client's close frame.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newID() string {
	return idx.New().String()
}

func mustJSON(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return buf
}
