// Package stream pushes freshly created notifications to connected users
// over websockets. The feed is a delivery convenience on top of the
// poll-based notification log: a missing or broken connection never fails
// the operation that raised the notice.
package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"rollcall/pkg/types"
)

const pingInterval = 30 * time.Second

// Feed upgrades HTTP requests to feed connections and implements the
// interfaces.Pusher interface for the notification fan-out.
type Feed struct {
	registry *Registry
	upgrader websocket.Upgrader
}

// NewFeed creates a feed over the given registry.
func NewFeed(registry *Registry) *Feed {
	return &Feed{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The engine carries no authentication; collaborators gate
			// access in front of it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleFeed is the websocket endpoint. The user identifies itself with the
// "user" query parameter; the connection then receives every notification
// created for that user until it closes.
func (f *Feed) HandleFeed(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if !types.IsValidUserID(userID) {
		http.Error(w, "valid user parameter required", http.StatusBadRequest)
		return
	}

	wsConn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Feed upgrade failed for %s: %v", userID, err)
		return
	}

	conn := NewConnection(wsConn, userID)
	if err := f.registry.Register(conn); err != nil {
		log.Printf("Feed registration failed for %s: %v", userID, err)
		_ = conn.Close()
		return
	}

	log.Printf("Feed connected: user=%s", userID)
	go f.pingLoop(conn)
	f.readLoop(conn)
}

// Push delivers a notification to the user's feed connection, if any.
func (f *Feed) Push(userID string, notification *types.Notification) {
	conn, exists := f.registry.Get(userID)
	if !exists {
		return
	}

	envelope := map[string]interface{}{
		"type":         "notification",
		"notification": notification,
	}
	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("Feed push failed for %s: %v", userID, err)
	}
}

// readLoop drains inbound frames until the peer goes away. The feed is
// one-way; inbound payloads are discarded but reads are required to process
// close and pong frames.
func (f *Feed) readLoop(conn *Connection) {
	defer func() {
		f.registry.Unregister(conn)
		_ = conn.Close()
		log.Printf("Feed disconnected: user=%s", conn.UserID())
	}()

	conn.conn.SetReadLimit(512)
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) pingLoop(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
