package server

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xhad/veritas/pkg/auth"
	"github.com/xhad/veritas/pkg/chat"
	"go.uber.org/zap"
)

// Message is the websocket frame in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	MessageQuery    = "query"
	MessageStream   = "stream"
	MessageResponse = "response"
	MessageError    = "error"
	MessagePing     = "ping"
	MessagePong     = "pong"
)

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

// handleWebSocket answers queries one at a time per connection, streaming
// the answer as "stream" frames followed by a "response" frame.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	owner := auth.Owner(c)
	ctx := c.Request.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ws, "message must be JSON")
			continue
		}

		switch msg.Type {
		case MessagePing:
			s.sendOrLog(ws, Message{Type: MessagePong})
		case MessageQuery:
			resp, err := s.chat.QueryStream(ctx, owner, msg.Content, func(chunk string) error {
				return ws.send(Message{Type: MessageStream, Content: chunk})
			})
			if err != nil {
				s.sendError(ws, wsErrorMessage(err))
				continue
			}
			s.record(ctx, owner, resp)
			s.sendOrLog(ws, Message{Type: MessageResponse, Content: resp.Response, Data: resp})
		default:
			s.sendError(ws, "unknown message type "+msg.Type)
		}
	}
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrInvalidQuery):
		return err.Error()
	case errors.Is(err, chat.ErrGenerationFailed):
		return "failed to generate an answer, try again later"
	default:
		return "internal error"
	}
}

func (s *Server) sendError(ws *wsConn, content string) {
	s.sendOrLog(ws, Message{Type: MessageError, Content: content})
}

func (s *Server) sendOrLog(ws *wsConn, msg Message) {
	if err := ws.send(msg); err != nil {
		s.logger.Warn("failed to send websocket message", zap.String("type", msg.Type), zap.Error(err))
	}
}
