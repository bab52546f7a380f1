package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// sseQueueSize bounds each session's pending-notification queue; when full,
// the oldest queued message is dropped (spec.md §5 backpressure: "SSE
// notification queues drop the oldest notification when full").
const sseQueueSize = 64

type sseSession struct {
	id     string
	cancel context.CancelFunc
	dropped atomic.Uint64

	mu     sync.Mutex
	queue  chan []byte
	closed bool
}

// SSEServer is the C9 SSE transport: a GET stream per session pushing
// `event: message` frames, paired with a POST endpoint that accepts
// client->server requests and correlates their responses onto the same
// session's stream. Grounded on the teacher's HTTPTransport
// (transport_http.go) for the POST-request/SSE-push pairing shape,
// inverted from client-polls-server to server-pushes-client.
type SSEServer struct {
	handler *Handler
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sseSession
}

func NewSSEServer(handler *Handler) *SSEServer {
	return &SSEServer{
		handler:  handler,
		logger:   slog.Default().With("transport", "sse"),
		sessions: make(map[string]*sseSession),
	}
}

// StreamHandler serves the per-session GET stream. A new session ID is
// minted and returned via the `X-Session-Id` header so the client can pair
// its POSTs to this stream.
func (s *SSEServer) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sessCtx, cancel := context.WithCancel(r.Context())
		sess := &sseSession{id: uuid.New().String(), queue: make(chan []byte, sseQueueSize), cancel: cancel}

		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer s.removeSession(sess.id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Session-Id", sess.id)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-sessCtx.Done():
				return
			case msg, ok := <-sess.queue:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}

// RequestHandler serves the companion POST endpoint: one JSON-RPC message
// per body, session identified by the `X-Session-Id` header or
// `session_id` query parameter. Its response (or nothing, for a
// notification) is delivered asynchronously over that session's stream,
// not in the POST's own body — the POST itself only acknowledges receipt.
func (s *SSEServer) RequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-Id")
		if sessionID == "" {
			sessionID = r.URL.Query().Get("session_id")
		}

		s.mu.RLock()
		sess, ok := s.sessions[sessionID]
		s.mu.RUnlock()
		if !ok {
			http.Error(w, "unknown session_id", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var probe struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(body, &probe)

		if probe.ID == nil || string(probe.ID) == "null" {
			var notif Notification
			if err := json.Unmarshal(body, &notif); err == nil {
				s.handler.HandleNotification(r.Context(), notif.Method, notif.Params)
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := s.handler.HandleRequest(r.Context(), &req)
		resp.JSONRPC = "2.0"
		data, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.enqueue(sess, data)
		w.WriteHeader(http.StatusAccepted)
	}
}

// Broadcast implements watcher.Broadcaster by fanning a notification out
// to every open session's queue.
func (s *SSEServer) Broadcast(notification string) {
	method := ToolsListChangedMethod
	if notification != "" && notification != "tools/list_changed" {
		method = notification
	}
	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		s.enqueue(sess, data)
	}
}

func (s *SSEServer) enqueue(sess *sseSession, data []byte) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}

	select {
	case sess.queue <- data:
	default:
		// Queue full: drop the oldest pending message and retry once.
		select {
		case <-sess.queue:
			sess.dropped.Add(1)
		default:
		}
		select {
		case sess.queue <- data:
		default:
		}
	}
}

func (s *SSEServer) removeSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel()
	sess.mu.Lock()
	sess.closed = true
	close(sess.queue)
	sess.mu.Unlock()
}
