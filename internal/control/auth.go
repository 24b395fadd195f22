package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgdl/internal/storage"
	"tgdl/internal/upstream"
)

type sendCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func (s *Server) handleSendCode(c *gin.Context) {
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "phone is required"})
		return
	}
	sessionKey, phoneCodeHash, err := s.broker.StartAuth(c.Request.Context(), req.Phone)
	if err != nil {
		s.log.Warn("send_code failed", zap.Error(err))
		s.writeError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"session_key":     sessionKey,
		"phone_code_hash": phoneCodeHash,
	})
}

type verifyCodeRequest struct {
	SessionKey       string `json:"session_key" binding:"required"`
	VerificationCode string `json:"verification_code" binding:"required"`
}

func (s *Server) handleVerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_key and verification_code are required"})
		return
	}
	requiresPassword, info, err := s.broker.VerifyCode(c.Request.Context(), req.SessionKey, req.VerificationCode)
	if err != nil {
		s.writeError(c, http.StatusUnauthorized, err)
		return
	}
	if requiresPassword {
		c.JSON(http.StatusOK, gin.H{"success": true, "requires_password": true})
		return
	}
	s.completeLogin(c, info)
}

type verifyPasswordRequest struct {
	SessionKey string `json:"session_key" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (s *Server) handleVerifyPassword(c *gin.Context) {
	var req verifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_key and password are required"})
		return
	}
	info, err := s.broker.VerifyPassword(c.Request.Context(), req.SessionKey, req.Password)
	if err != nil {
		s.writeError(c, http.StatusUnauthorized, err)
		return
	}
	s.completeLogin(c, info)
}

func (s *Server) handleQRLogin(c *gin.Context) {
	sessionKey, qrToken, _, err := s.broker.StartQRLogin(c.Request.Context())
	if err != nil {
		s.log.Warn("qr_login failed", zap.Error(err))
		s.writeError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"session_key": sessionKey,
		"qr_token":    qrToken,
	})
}

type checkQRStatusRequest struct {
	SessionKey string `json:"session_key" binding:"required"`
}

func (s *Server) handleCheckQRStatus(c *gin.Context) {
	var req checkQRStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_key is required"})
		return
	}
	authenticated, expired, info, err := s.broker.CheckQRStatus(c.Request.Context(), req.SessionKey)
	if err != nil {
		s.writeError(c, http.StatusBadGateway, err)
		return
	}
	resp := gin.H{"success": true, "authenticated": authenticated, "expired": expired}
	if authenticated {
		s.completeLogin(c, info, gin.H{"authenticated": authenticated, "expired": expired})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// completeLogin binds a session cookie to info.UserID, records/updates the
// authorized-user row, and returns the normal user_info payload merged with
// any extra fields the caller passes.
func (s *Server) completeLogin(c *gin.Context, info upstream.UserInfo, extra ...gin.H) {
	token, expiresAt, err := s.sessions.Create(info.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create session"})
		return
	}
	s.setSessionCookie(c, token, expiresAt)

	_ = s.db.AuthorizedUsers.Add(&storage.AuthorizedUser{
		UserID:    info.UserID,
		Username:  info.Username,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	})

	resp := gin.H{
		"success": true,
		"user_info": gin.H{
			"user_id":    info.UserID,
			"username":   info.Username,
			"first_name": info.FirstName,
			"last_name":  info.LastName,
			"phone":      info.Phone,
		},
	}
	for _, e := range extra {
		for k, v := range e {
			resp[k] = v
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogout(c *gin.Context) {
	cookie, err := c.Cookie(s.cookieName())
	if err == nil {
		s.sessions.Revoke(cookie)
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
