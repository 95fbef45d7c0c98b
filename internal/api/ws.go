package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/chatsession"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens at the token layer; the socket carries no cookies.
		return true
	},
}

// inboundFrame is everything a client can send over the socket. Type
// selects which fields matter.
type inboundFrame struct {
	Type       string                 `json:"type"`
	Content    string                 `json:"content,omitempty"`
	MsgType    string                 `json:"message_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	MessageIDs []string               `json:"message_ids,omitempty"`
	Typing     bool                   `json:"typing,omitempty"`
}

// outboundFrame is one push to the client: the event, if any, plus the
// derived state rendered alongside the timeline.
type outboundFrame struct {
	Type        string      `json:"type"`
	State       string      `json:"state"`
	TypingText  string      `json:"typing_text,omitempty"`
	OnlineCount int         `json:"online_count"`
	Event       interface{} `json:"event,omitempty"`
}

// serveWS upgrades the connection and binds it to a chat session for one
// channel. Opening a second socket for the same channel replaces the
// first.
func (s *Server) serveWS(c *gin.Context) {
	ref, meta, ok := s.channelRef(c)
	if !ok {
		return
	}
	userID := c.GetString("userID")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The session outlives the HTTP handler; bound by socket teardown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := chatsession.Open(ctx, chatsession.Deps{
		Messages: s.messages,
		Bus:      s.bus,
		Presence: s.registry,
		Profiles: s.profiles,
		Log:      s.log,
	}, chatsession.Config{
		PageSize:           s.cfg.HistoryPageSize,
		MarkReadDelay:      s.cfg.MarkReadDelay,
		TypingTTL:          s.cfg.TypingSilence,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  10 * time.Second,
	}, clientID(userID, c), userID, ref, bus.Filter{Window: meta.Window})
	if err != nil {
		s.log.Error().Err(err).Str("channel", ref.String()).Msg("failed to open session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session open failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer session.Close()

	s.registry.Report(presence.Activity{
		UserID:  userID,
		Type:    presence.ActivityJoinedChannel,
		Channel: &ref,
	})
	defer s.registry.Report(presence.Activity{
		UserID:  userID,
		Type:    presence.ActivityLeftChannel,
		Channel: &ref,
	})

	go s.writePump(conn, session)
	s.readPump(conn, session, userID, ref)
}

// clientID keys bus subscriptions: one per user per channel per device,
// so a reconnecting device replaces itself without kicking the user's
// other devices.
func clientID(userID string, c *gin.Context) string {
	device := c.Query("device")
	if device == "" {
		device = uuid.New().String()
	}
	return userID + ":" + device
}

func (s *Server) writePump(conn *websocket.Conn, session *chatsession.Session) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(encodeUpdate(update)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, session *chatsession.Session, userID string, ref channel.Ref) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.registry.Heartbeat(userID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("channel", ref.String()).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case "send":
			_, err := session.Send(context.Background(), frame.Content,
				message.Type(frame.MsgType), frame.Metadata)
			if err != nil {
				s.writeSendError(conn, err)
			}
		case "typing":
			if frame.Typing {
				s.registry.StartTyping(userID, ref)
			} else {
				s.registry.StopTyping(userID, ref)
			}
		case "read":
			if len(frame.MessageIDs) > 0 {
				if _, err := s.messages.MarkRead(context.Background(), ref, frame.MessageIDs, userID); err != nil {
					s.log.Warn().Err(err).Msg("mark-read over socket failed")
				}
			}
		case "heartbeat":
			s.registry.Heartbeat(userID)
		}
	}
}

func (s *Server) writeSendError(conn *websocket.Conn, err error) {
	code := "SEND_FAILED"
	switch {
	case errors.Is(err, chatsession.ErrReconnecting):
		code = "RECONNECTING"
	case errors.Is(err, chatsession.ErrSessionClosed):
		code = "CLOSED"
	case errors.Is(err, message.ErrEmptyContent), errors.Is(err, message.ErrUnknownType):
		code = "INVALID_MESSAGE"
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(gin.H{"type": "error", "code": code, "error": err.Error()})
}

// encodeUpdate flattens a session update into a wire frame with a
// discriminated event payload.
func encodeUpdate(update chatsession.Update) outboundFrame {
	frame := outboundFrame{
		Type:        "update",
		State:       update.State.String(),
		TypingText:  update.TypingText,
		OnlineCount: update.OnlineCount,
	}

	switch e := update.Event.(type) {
	case bus.MessageEvent:
		frame.Event = gin.H{"kind": "message", "op": e.Op, "message": e.Message}
	case bus.ReactionEvent:
		frame.Event = gin.H{"kind": "reaction", "op": e.Op, "reaction": e.Reaction}
	case bus.ReceiptEvent:
		frame.Event = gin.H{"kind": "receipt", "receipt": e.Receipt}
	case bus.TypingEvent:
		frame.Event = gin.H{"kind": "typing", "user_id": e.UserID, "typing": e.Typing}
	case bus.PresenceEvent:
		frame.Event = gin.H{"kind": "presence", "user_id": e.UserID, "status": e.Status, "last_seen": e.LastSeen}
	case bus.ErrorEvent:
		frame.Event = gin.H{"kind": "error", "code": e.Code}
	}
	return frame
}
