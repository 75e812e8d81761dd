package display

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/Maiori44/tmatebot/logger"
)

// writeTimeout bounds a single frame write to a websocket client.
const writeTimeout = 5 * time.Second

// Frame is the full state of one surface as sent to viewers.
type Frame struct {
	SurfaceID string    `json:"surface_id"`
	Text      string    `json:"text"`
	Action    *Action   `json:"action,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type surface struct {
	frame Frame
	// each viewer gets a one-slot channel; a newer frame replaces an unsent one
	viewers map[chan Frame]struct{}
}

// Hub is a Sink whose surfaces are streamed to browsers over websockets.
// Every frame carries the complete state, so a slow viewer only ever misses
// intermediate frames, never the latest one.
type Hub struct {
	mu       sync.Mutex
	surfaces map[string]*surface
	log      *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		surfaces: make(map[string]*surface),
		log:      logger.WithComponent("display"),
	}
}

// Open creates a new surface showing text and returns its id.
func (h *Hub) Open(text string, action *Action) string {
	id := uuid.New().String()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.surfaces[id] = &surface{
		frame:   Frame{SurfaceID: id, Text: text, Action: action, UpdatedAt: time.Now()},
		viewers: make(map[chan Frame]struct{}),
	}
	return id
}

// Discard forgets a surface and disconnects its viewers.
func (h *Hub) Discard(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[id]
	if !ok {
		return
	}
	for ch := range s.viewers {
		close(ch)
	}
	delete(h.surfaces, id)
}

// Prune discards every surface last updated before cutoff for which live
// returns false, and returns the discarded ids sorted.
func (h *Hub) Prune(cutoff time.Time, live func(id string) bool) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var pruned []string
	for id, s := range h.surfaces {
		if !s.frame.UpdatedAt.Before(cutoff) || live(id) {
			continue
		}
		for ch := range s.viewers {
			close(ch)
		}
		delete(h.surfaces, id)
		pruned = append(pruned, id)
	}
	sort.Strings(pruned)
	return pruned
}

// Frame returns the current state of surface id.
func (h *Hub) Frame(id string) (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[id]
	if !ok {
		return Frame{}, false
	}
	return s.frame, true
}

// IDs returns the ids of all open surfaces, sorted.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.surfaces))
	for id := range h.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Render(_ context.Context, id, text string) error {
	return h.update(id, func(f *Frame) { f.Text = text })
}

func (h *Hub) SetAction(_ context.Context, id string, action Action) error {
	return h.update(id, func(f *Frame) { f.Action = &action })
}

func (h *Hub) update(id string, apply func(*Frame)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.surfaces[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}
	apply(&s.frame)
	s.frame.UpdatedAt = time.Now()

	for ch := range s.viewers {
		publish(ch, s.frame)
	}
	return nil
}

// publish delivers f on a one-slot channel, replacing any frame not yet sent.
func publish(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) subscribe(id string) (chan Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[id]
	if !ok {
		return nil, false
	}
	ch := make(chan Frame, 1)
	ch <- s.frame
	s.viewers[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(id string, ch chan Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.surfaces[id]; ok {
		delete(s.viewers, ch)
	}
}

// Serve upgrades the request to a websocket and streams frames of surface id
// until the client goes away or the surface is discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id string) {
	frames, ok := h.subscribe(id)
	if !ok {
		http.Error(w, "surface not found", http.StatusNotFound)
		return
	}
	defer h.unsubscribe(id, frames)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("failed to accept websocket", "surface", id, "error", err)
		return
	}
	defer conn.CloseNow()

	// Viewers are read-only; CloseRead discards input and ends ctx on close.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case f, open := <-frames:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "surface closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, f)
			cancel()
			if err != nil {
				h.log.Debug("viewer write failed", "surface", id, "error", err)
				return
			}
		}
	}
}

var _ Sink = (*Hub)(nil)
