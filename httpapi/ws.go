package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/core"
	"pkt.systems/tabsync/internal/logx"
	"pkt.systems/tabsync/schema"
)

// SessionHeader carries the session id in the websocket upgrade response.
const SessionHeader = "X-Tabsync-Session"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := schema.SessionID(uuid.NewString())
	header := http.Header{}
	header.Set(SessionHeader, string(sessionID))
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		pslog.Ctx(r.Context()).Warn("ws upgrade failed", "err", err)
		return
	}

	log := logx.WithSession(r.Context(), sessionID)
	ctx, cancel := context.WithCancel(logx.ContextWithSessionLogger(r.Context(), log, sessionID))
	defer cancel()

	conn := core.NewConn(sessionID, s.tap)
	served := make(chan error, 1)
	go func() {
		served <- s.coord.Serve(ctx, conn)
	}()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(ctx, ws, conn)
	}()

	log.Info("ws session open", "remote", clientIP(r))
	readPump(ctx, ws, conn)
	conn.CloseInbound()
	if err := <-served; err != nil {
		log.Warn("ws session failed", "err", err)
	}
	<-writerDone
	log.Info("ws session closed")
}

// readPump decodes client frames and hands them to the coordinator until the
// socket fails.
func readPump(ctx context.Context, ws *websocket.Conn, conn *core.Conn) {
	log := pslog.Ctx(ctx)
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("ws read failed", "err", err)
			}
			return
		}
		var msg schema.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("ws message dropped", "err", errors.Join(schema.ErrInvalidRequest, err))
			continue
		}
		if err := conn.Deliver(ctx, msg); err != nil {
			return
		}
	}
}

// writePump drains the conn's outbound queue onto the socket. It closes the
// socket once the queue is closed and empty, which also ends readPump.
func writePump(ctx context.Context, ws *websocket.Conn, conn *core.Conn) {
	log := pslog.Ctx(ctx)
	pingDone := make(chan struct{})
	defer func() {
		close(pingDone)
		_ = ws.Close()
	}()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(msg); err != nil {
			log.Warn("ws write failed", "err", err)
			conn.Close()
			return
		}
	}
}
