package server

import (
	"net/http"
	"strings"
	"time"

	"workshop/internal/events"
	"workshop/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var allowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
	"http://[::1]",
	"https://[::1]",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// CLI tools send no origin
		if origin == "" {
			return true
		}

		for _, allowed := range allowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}

		logger.WithFields(logger.Fields{
			"origin": origin,
			"remote": r.RemoteAddr,
		}).Warn("WebSocket connection rejected - invalid origin")
		return false
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ClientMessage is sent by a stream subscriber
type ClientMessage struct {
	Type string `json:"type"`
}

// handleEvents godoc
// @Summary Live event stream
// @Description WebSocket stream of status, health, tier, incident and escalation events. Recent events are replayed on connect when replay=N is given.
// @Tags events
// @Param replay query int false "Number of recent events to replay"
// @Success 101 {string} string "Switching Protocols"
// @Router /api/events [get]
func (s *Server) handleEvents(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return nil
	}
	defer ws.Close()

	hub := s.ops.Hub()
	sub, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	log := logger.GetLogger(c)
	log.WithField("subscribers", hub.Subscribers()).Info("Event stream connected")

	if n := queryInt(c, "replay"); n > 0 {
		for _, ev := range hub.Recent(n) {
			if err := writeEvent(ws, ev); err != nil {
				return nil
			}
		}
	}

	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go readClient(ws, done, pings)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Info("Event stream disconnected")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeEvent(ws, ev); err != nil {
				return nil
			}
		case <-pings:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return nil
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readClient drains client frames so control frames are processed and a
// closed connection is noticed
func readClient(ws *websocket.Conn, done chan<- struct{}, pings chan<- struct{}) {
	defer close(done)

	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		if msg.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev events.Event) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(ev)
}
