package wal

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Notifier fans out "manifest advanced" events to subscribed websocket
// connections, so a consumer can wait for new log data instead of
// polling the manifest on a timer.
type Notifier struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewNotifier constructs a Notifier that accepts upgrades from any origin,
// matching the operator-facing services elsewhere in this module that run
// behind a trusted proxy rather than a public browser origin check.
func NewNotifier() *Notifier {
	n := &Notifier{conns: make(map[*websocket.Conn]struct{})}
	n.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return n
}

// ServeHTTP upgrades the request to a websocket and registers it as a
// subscriber until the client disconnects.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()

	go n.drain(conn)
}

// drain discards inbound frames (subscribers never send application data)
// until the connection closes, then unregisters it.
func (n *Notifier) drain(conn *websocket.Conn) {
	defer n.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (n *Notifier) remove(conn *websocket.Conn) {
	n.mu.Lock()
	delete(n.conns, conn)
	n.mu.Unlock()
	conn.Close()
}

// Broadcast pushes a "manifest advanced" notification carrying the new
// next-write-timestamp to every subscriber, dropping connections that
// fail to accept the write.
func (n *Notifier) Broadcast(nextWriteTimestamp uint64) {
	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	payload := []byte(`{"next_write_timestamp":` + strconv.FormatUint(nextWriteTimestamp, 10) + `}`)
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			n.remove(c)
		}
	}
}

// Close disconnects every subscriber.
func (n *Notifier) Close() {
	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.conns = make(map[*websocket.Conn]struct{})
	n.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
