package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The UI is served from this process, so the default same-host origin
// check applies. Clients that send no Origin (CLI tools) are allowed.
var upgrader = websocket.Upgrader{}

// StreamCommand is an inbound websocket message, e.g. {"action":"plane"}.
type StreamCommand struct {
	Action string `json:"action"`
}

const streamWriteTimeout = 5 * time.Second

// streamHandler pushes every published state to the client as JSON and
// accepts calibration commands on the same socket.
func streamHandler(ctl Controller, states *StateBroadcaster) http.Handler {
	acts := actions(ctl)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id, ch := states.Subscribe(8)
		defer states.Unsubscribe(id)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var cmd StreamCommand
				if err := conn.ReadJSON(&cmd); err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						log.Printf("web: websocket read: %v", err)
					}
					return
				}
				fn, ok := acts[cmd.Action]
				if !ok {
					log.Printf("web: websocket unknown action %q", cmd.Action)
					continue
				}
				fn()
			}
		}()

		for {
			select {
			case <-done:
				return
			case st, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(st); err != nil {
					return
				}
			}
		}
	})
}
