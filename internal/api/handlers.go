package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fitchat/internal/channel"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

func (s *Server) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, channel.ErrInvalidRef):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid channel id"})
	case errors.Is(err, channel.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	case errors.Is(err, channel.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a channel member"})
	case errors.Is(err, message.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, message.ErrEmptyContent), errors.Is(err, message.ErrUnknownType):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) listChannels(c *gin.Context) {
	channels, err := s.directory.ListChannels(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if channels == nil {
		channels = []channel.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) getChannel(c *gin.Context) {
	_, meta, ok := s.channelRef(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) channelHistory(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}

	var query struct {
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
		Since  string `form:"since"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var messages []*message.Message
	var err error
	if query.Since != "" {
		since, parseErr := time.Parse(time.RFC3339, query.Since)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		messages, err = s.messages.HistorySince(c.Request.Context(), ref, since)
	} else {
		messages, err = s.messages.History(c.Request.Context(), ref, query.Limit, query.Offset)
	}
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if messages == nil {
		messages = []*message.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) sendMessage(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}

	var input struct {
		Content  string                 `json:"content"`
		Type     string                 `json:"type"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.messages.Send(c.Request.Context(), ref, c.GetString("userID"),
		input.Content, message.Type(input.Type), input.Metadata)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	if _, _, ok := s.channelRef(c); !ok {
		return
	}
	err := s.messages.SoftDelete(c.Request.Context(), c.Param("messageID"), c.GetString("userID"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) toggleReaction(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}

	var input struct {
		MessageID string `json:"message_id" binding:"required"`
		Emoji     string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reaction, added, err := s.messages.ToggleReaction(c.Request.Context(), ref,
		input.MessageID, c.GetString("userID"), input.Emoji)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "reaction": reaction})
}

func (s *Server) markRead(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}

	var input struct {
		MessageIDs []string `json:"message_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	marked, err := s.messages.MarkRead(c.Request.Context(), ref, input.MessageIDs, c.GetString("userID"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

func (s *Server) setTyping(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}

	var input struct {
		Typing bool `json:"typing"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if input.Typing {
		s.registry.StartTyping(userID, ref)
	} else {
		s.registry.StopTyping(userID, ref)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) channelPresence(c *gin.Context) {
	ref, _, ok := s.channelRef(c)
	if !ok {
		return
	}
	online := s.registry.OnlineUsers(ref)
	if online == nil {
		online = []presence.Record{}
	}
	typing := s.registry.TypingUsers(ref)
	if typing == nil {
		typing = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": online, "typing": typing})
}

func (s *Server) heartbeat(c *gin.Context) {
	s.registry.Heartbeat(c.GetString("userID"))
	c.Status(http.StatusNoContent)
}

func (s *Server) reportActivity(c *gin.Context) {
	var input struct {
		Type    string `json:"type" binding:"required"`
		Channel string `json:"channel"`
		Status  string `json:"status"`
		Device  string `json:"device"`
		Tag     string `json:"tag"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activity := presence.Activity{
		UserID: c.GetString("userID"),
		Type:   presence.ActivityType(input.Type),
		Status: presence.Status(input.Status),
		Device: input.Device,
		Tag:    input.Tag,
	}
	if input.Channel != "" {
		ref, err := channel.ParseRef(input.Channel)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid channel id"})
			return
		}
		activity.Channel = &ref
	}

	s.registry.Report(activity)
	c.Status(http.StatusNoContent)
}
