package boardsim

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/syncx"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

type frame struct {
	data  []byte
	close bool // send a normal close frame after data
}

type subscriber struct {
	conn      *websocket.Conn
	projectID string
	send      chan frame
	done      chan struct{}
	once      sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans patch messages out to every websocket subscribed to a project.
// Messages for one project are queued in write order; a subscriber whose
// queue is full is disconnected rather than blocking writers.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.Logger.With().Str("component", "boardsim.hub").Logger(),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Serve upgrades the request and streams projectID's patches until either
// side closes
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, projectID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade")
		return
	}

	sub := &subscriber{
		conn:      conn,
		projectID: projectID,
		send:      make(chan frame, sendBuffer),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("projectId", projectID).Msg("stream subscriber connected")

	go h.readLoop(sub)
	h.writeLoop(sub)

	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	_ = conn.Close()
	h.logger.Debug().Str("projectId", projectID).Msg("stream subscriber disconnected")
}

// readLoop only exists to process control frames and notice disconnects
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.stop()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case f := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				h.logger.Warn().Err(err).Msg("stream write failed")
				return
			}
			if f.close {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished")
				_ = sub.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		}
	}
}

// Broadcast sends one JsonPatch message to the project's subscribers
func (h *Hub) Broadcast(projectID string, ops []syncx.Operation) error {
	data, err := syncx.EncodePatchMessage(ops)
	if err != nil {
		return err
	}
	h.publish(projectID, frame{data: data})
	return nil
}

// Finish sends the terminal message and closes the project's streams cleanly
func (h *Hub) Finish(projectID string) {
	h.publish(projectID, frame{data: syncx.EncodeFinishedMessage(), close: true})
}

// Drop severs every connection of a project without a close frame, the way
// a crashed server or a broken network would
func (h *Hub) Drop(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.projectID == projectID {
			_ = sub.conn.UnderlyingConn().Close()
			sub.stop()
		}
	}
}

// Subscribers counts the open streams of a project
func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subs {
		if sub.projectID == projectID {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.stop()
	}
}

func (h *Hub) publish(projectID string, f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.projectID != projectID {
			continue
		}
		select {
		case sub.send <- f:
		default:
			h.logger.Warn().Str("projectId", projectID).Msg("subscriber too slow, disconnecting")
			sub.stop()
		}
	}
}
