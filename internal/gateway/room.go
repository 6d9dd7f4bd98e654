package gateway

import (
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"reviewroom/api/internal/auth"
)

// peer owns one websocket connection. All writes go through queue and a
// single writer goroutine; a full queue closes the connection.
type peer struct {
	conn     *websocket.Conn
	identity auth.Identity
	done     chan struct{}

	mu      sync.Mutex
	queue   chan []byte
	closed  bool
	session string
}

func newPeer(conn *websocket.Conn, identity auth.Identity, queueSize int) *peer {
	return &peer{
		conn:     conn,
		identity: identity,
		queue:    make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. Frames for a closed peer are dropped; a full queue
// closes the connection and reports overflowed.
func (p *peer) enqueue(data []byte) (overflowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- data:
		return false
	default:
		p.closed = true
		close(p.queue)
		_ = p.conn.Close()
		return true
	}
}

func (p *peer) writeLoop() {
	defer close(p.done)
	for data := range p.queue {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.Message.Send(p.conn, string(data)); err != nil {
			_ = p.conn.Close()
			for range p.queue {
			}
			return
		}
	}
}

// shutdown stops accepting frames and waits for queued ones to be written.
func (p *peer) shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

// abort drops the connection without flushing.
func (p *peer) abort() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	_ = p.conn.Close()
}

func (p *peer) currentSession() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *peer) setSession(sessionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.session
	p.session = sessionID
	return previous
}

type roomHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*peer]struct{}
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]map[*peer]struct{})}
}

func (h *roomHub) join(sessionID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*peer]struct{})
		h.rooms[sessionID] = room
	}
	room[p] = struct{}{}
}

func (h *roomHub) leave(sessionID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, p)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *roomHub) members(sessionID string) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[sessionID]
	items := make([]*peer, 0, len(room))
	for p := range room {
		items = append(items, p)
	}
	return items
}

func (h *roomHub) size(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
