// Package wsbridge carries the channel contract between daemons over
// websockets. The Hub is the bridge process: peers connect with a group
// and peer id, and every binary message a peer sends is fanned out to the
// rest of its group wrapped in a sender envelope. The bridge never parses
// frame payloads.
package wsbridge

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	peerQueueDepth = 32
)

// Encoded frames plus envelope and wire overhead.
const maxMessageSize = media.MaxFramePayload + 1024

type bridgePeer struct {
	id    string
	group string
	conn  *websocket.Conn
	send  chan []byte
}

func (p *bridgePeer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub is the bridge server. It implements http.Handler; mount it wherever
// the daemon serves its websocket endpoint.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	groups map[string]map[*bridgePeer]struct{}

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		log: slog.With("component", "wsbridge"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		groups: make(map[string]map[*bridgePeer]struct{}),
	}
}

// Dropped reports payloads discarded because a peer's send queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Peers returns the number of connected peers across all groups.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.groups {
		n += len(subs)
	}
	return n
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	peerID := r.URL.Query().Get("peer")
	if group == "" || peerID == "" {
		http.Error(w, "group and peer query parameters required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &bridgePeer{
		id:    peerID,
		group: group,
		conn:  conn,
		send:  make(chan []byte, peerQueueDepth),
	}
	h.register(p)
	h.log.Info("peer joined", "peer", peerID, "group", group, "peers", h.Peers())

	go p.writeLoop()
	h.readLoop(p)

	h.unregister(p)
	h.log.Info("peer left", "peer", peerID, "group", group, "peers", h.Peers())
}

func (h *Hub) register(p *bridgePeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.groups[p.group]
	if peers == nil {
		peers = make(map[*bridgePeer]struct{})
		h.groups[p.group] = peers
	}
	peers[p] = struct{}{}
}

func (h *Hub) unregister(p *bridgePeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.groups[p.group]
	if !ok {
		return
	}
	if _, live := peers[p]; !live {
		return
	}
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.groups, p.group)
	}
	close(p.send)
}

func (h *Hub) readLoop(p *bridgePeer) {
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("read loop ended", "peer", p.id, "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		h.fanOut(p, msg)
	}
}

// fanOut wraps the payload in the sender envelope and offers it to every
// other peer in the group. A wedged peer loses frames, not the group.
func (h *Hub) fanOut(from *bridgePeer, payload []byte) {
	env := appendEnvelope(make([]byte, 0, len(from.id)+len(payload)+2), from.id, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.groups[from.group] {
		if p == from {
			continue
		}
		select {
		case p.send <- env:
		default:
			h.dropped.Add(1)
		}
	}
}
