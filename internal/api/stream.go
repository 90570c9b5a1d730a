package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/stream"
)

// Streamer is the push gateway. *stream.Hub satisfies it.
type Streamer interface {
	Serve(ctx context.Context, sink stream.Sink) error
}

const wsWriteTimeout = 10 * time.Second

type StreamHandler struct {
	streamer Streamer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(streamer Streamer, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Kiosk clients are served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// sseSink writes Server-Sent Events frames and flushes after each one.
type sseSink struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) SendState(state models.MessageState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) SendHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SSE handles GET /api/message/stream
func (h *StreamHandler) SSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unsupported"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	if err := h.streamer.Serve(c.Request.Context(), &sseSink{w: c.Writer, flusher: flusher}); err != nil {
		h.logger.Debug("sse channel ended", zap.Error(err))
	}
}

// wsSink sends state as JSON text frames and heartbeats as pings.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) SendState(state models.MessageState) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(state)
}

func (s *wsSink) SendHeartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// WebSocket handles GET /api/message/ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Viewers only listen. The read loop exists to process control frames
	// and to notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.streamer.Serve(ctx, &wsSink{conn: conn}); err != nil {
		h.logger.Debug("websocket channel ended", zap.Error(err))
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
