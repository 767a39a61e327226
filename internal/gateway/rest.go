package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	restMailboxSize = 64
	restMaxWait     = 60 * time.Second
)

// RESTAdapter accepts messages over HTTP and queues replies per channel
// until the client polls for them.
type RESTAdapter struct {
	handler   MessageHandler
	mailboxes map[string]chan *OutboundMessage // channelID -> pending replies
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter.
func NewRESTAdapter(logger *zap.Logger) *RESTAdapter {
	return &RESTAdapter{
		mailboxes: make(map[string]chan *OutboundMessage),
		logger:    logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{
		Platform:  "rest",
		Connected: true,
		Details:   fmt.Sprintf("channels=%d", len(a.mailboxes)),
	}
}

// Send queues a reply for a channel's next poll.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	ch := a.mailbox(msg.ChannelID, false)
	if ch == nil {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s mailbox full", msg.ChannelID)
	}
}

func (a *RESTAdapter) mailbox(channelID string, create bool) chan *OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.mailboxes[channelID]
	if !ok && create {
		ch = make(chan *OutboundMessage, restMailboxSize)
		a.mailboxes[channelID] = ch
	}
	return ch
}

// OpenChannel creates a mailbox so replies to channelID are kept before
// any client has posted to it.
func (a *RESTAdapter) OpenChannel(channelID string) {
	a.mailbox(channelID, true)
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	r.Get("/channels/{channelID}/messages", a.handlePoll)
	return r
}

// handleMessage accepts an inbound message. Replies arrive asynchronously
// and are collected with handlePoll.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channel_id"`
		UserID    string `json:"user_id"`
		UserName  string `json:"user_name"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = uuid.New().String()
	}
	a.mailbox(req.ChannelID, true)

	if a.handler != nil {
		a.handler(&InboundMessage{
			Platform:  "rest",
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Content:   req.Content,
			Timestamp: time.Now(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"channel_id": req.ChannelID,
		"address":    JoinChannel("rest", req.ChannelID),
	})
}

// handlePoll drains queued replies. With ?wait=<duration> it blocks until at
// least one reply arrives or the wait elapses.
func (a *RESTAdapter) handlePoll(w http.ResponseWriter, r *http.Request) {
	ch := a.mailbox(chi.URLParam(r, "channelID"), false)
	if ch == nil {
		writeJSONError(w, http.StatusNotFound, "unknown channel")
		return
	}

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		wait = min(d, restMaxWait)
	}

	msgs := drain(ch)
	if len(msgs) == 0 && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case m := <-ch:
			msgs = append([]*OutboundMessage{m}, drain(ch)...)
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}
	if msgs == nil {
		msgs = []*OutboundMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func drain(ch chan *OutboundMessage) []*OutboundMessage {
	var out []*OutboundMessage
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
