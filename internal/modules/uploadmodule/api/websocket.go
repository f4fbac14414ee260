package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mantonx/tunevault/internal/api"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/logger"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// WebSocketMessage is one frame pushed to the client
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// HandleWebSocket handles GET /api/upload/ws. It streams the caller's session
// events until the client goes away.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.bus == nil {
		api.RespondWithError(c, apptypes.NewAppError(apptypes.ErrorCodeInternal,
			"event streaming is unavailable", http.StatusServiceUnavailable))
		return
	}

	s := currentSession(c)
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "user_id", s.UserID(), "error", err)
		return
	}
	defer conn.Close()

	send := make(chan WebSocketMessage, sendBuffer)
	sub, err := h.bus.Subscribe(c.Request.Context(), events.EventFilter{Targets: []string{s.UserID()}},
		func(event events.Event) error {
			msg := WebSocketMessage{
				Type:      string(event.Type),
				Message:   event.Message,
				Data:      event.Data,
				Timestamp: event.Timestamp.Unix(),
			}
			select {
			case send <- msg:
			default:
				logger.Debug("websocket client slow, dropping event", "user_id", s.UserID(), "type", event.Type)
			}
			return nil
		})
	if err != nil {
		logger.Error("event subscription failed", "user_id", s.UserID(), "error", err)
		return
	}
	defer h.bus.Unsubscribe(sub.ID)

	send <- WebSocketMessage{Type: "session", Data: s.View(), Timestamp: time.Now().Unix()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			// Clients only send keep-alives.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "user_id", s.UserID(), "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		origins[strings.TrimRight(strings.TrimSpace(origin), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origins["*"] {
			return true
		}
		return origins[origin]
	}
}
