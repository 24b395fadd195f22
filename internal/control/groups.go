package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) handleListGroups(c *gin.Context) {
	userID := s.userIDFromContext(c)
	chats, err := s.broker.ListGroups(c.Request.Context(), userID)
	if err != nil {
		s.log.Warn("list groups failed", zap.Error(err))
		s.writeError(c, http.StatusBadGateway, err)
		return
	}

	groups := make([]gin.H, 0, len(chats))
	for _, chat := range chats {
		groups = append(groups, gin.H{
			"id":                    chat.ID,
			"title":                 chat.Title,
			"type":                  chat.Type,
			"username":              chat.Username,
			"members_count":         chat.MembersCount,
			"has_protected_content": chat.HasProtectedContent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "groups": groups})
}

type listMessagesRequest struct {
	ChatID    int64 `json:"chat_id" binding:"required"`
	Limit     int   `json:"limit"`
	OffsetID  int   `json:"offset_id"`
	MediaOnly bool  `json:"media_only"`
}

func (s *Server) handleListMessages(c *gin.Context) {
	var req listMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chat_id is required"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	userID := s.userIDFromContext(c)
	messages, count, err := s.broker.ListMessages(c.Request.Context(), userID, req.ChatID, req.Limit, req.OffsetID, req.MediaOnly)
	if err != nil {
		s.log.Warn("list messages failed", zap.Error(err))
		s.writeError(c, http.StatusBadGateway, err)
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, gin.H{
			"id":             msg.ID,
			"date":           msg.Date,
			"text":           msg.Text,
			"caption":        msg.Caption,
			"media_group_id": msg.MediaGroupID,
			"media_type":     msg.MediaType,
			"file_name":      msg.FileName,
			"file_size":      msg.FileSize,
			"mime_type":      msg.MimeType,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": out, "count": count})
}
