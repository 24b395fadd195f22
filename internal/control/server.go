// Package control implements the HTTP control surface (C9): a gin-backed
// API that submits jobs into the custom-download manager and ZIP packager
// and reads progress back out of the tracker, in the same two-router shape
// the teacher uses for its streaming API plus a separate status-only router.
package control

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgdl/internal/apperr"
	"tgdl/internal/customdownload"
	"tgdl/internal/job"
	"tgdl/internal/progress"
	"tgdl/internal/scheduler"
	"tgdl/internal/storage"
	"tgdl/internal/upstream"
	"tgdl/internal/zippackager"
)

// Config bundles the control surface's tunables, carried over from the
// teacher's cobra-flag/envconfig-backed settings.
type Config struct {
	Dev                   bool
	LogLevel              string
	CookieName            string
	CookieSecure          bool
	CookieDomain          string
	SessionTTL            time.Duration
	SessionCleanupInterval time.Duration
	TempSavePath          string
	ChatTitleResolver     func(chatID int64) string
}

// Server owns every dependency a handler needs: the upstream broker, the
// storage repositories, the job registry/scheduler, the progress tracker,
// and the C7/C8 job managers. One Server backs both routers.
type Server struct {
	log *zap.Logger
	cfg Config

	broker     *upstream.Broker
	db         *storage.DB
	registry   *job.Registry
	tracker    *progress.Tracker
	sched      *scheduler.Scheduler
	customMgr  *customdownload.Manager
	zipReg     *zippackager.Registry
	sessions   *sessionStore

	startTime time.Time

	mu         sync.Mutex
	activeNode *job.Node

	zipServedMu sync.Mutex
	zipServed   map[string]bool
}

// NewServer wires every C1-C8 component the handlers dispatch to.
func NewServer(log *zap.Logger, cfg Config, broker *upstream.Broker, db *storage.DB, registry *job.Registry, tracker *progress.Tracker, sched *scheduler.Scheduler, customMgr *customdownload.Manager, zipReg *zippackager.Registry) *Server {
	return &Server{
		log:         log.Named("Control"),
		cfg:         cfg,
		broker:      broker,
		db:          db,
		registry:    registry,
		tracker:     tracker,
		sched:       sched,
		customMgr:   customMgr,
		zipReg:      zipReg,
		sessions:  newSessionStore(log, cfg.SessionTTL, cfg.SessionCleanupInterval),
		startTime: time.Now(),
		zipServed: make(map[string]bool),
	}
}

// Router builds the full authenticated API, gated by LogLevel exactly as
// the teacher's getRouter branches between gin.Default() and a
// Recovery()+ErrorLogger() pair.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	recovery := gin.CustomRecovery(func(c *gin.Context, _ any) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal server error"})
	})

	var r *gin.Engine
	if s.cfg.LogLevel == "error" || s.cfg.LogLevel == "warn" {
		r = gin.New()
		r.Use(recovery)
		r.Use(gin.ErrorLogger())
	} else {
		r = gin.Default()
		r.Use(recovery)
		r.Use(gin.ErrorLogger())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Server is running.", "success": true})
	})

	auth := r.Group("/api/auth")
	auth.POST("/send_code", s.handleSendCode)
	auth.POST("/verify_code", s.handleVerifyCode)
	auth.POST("/verify_password", s.handleVerifyPassword)
	auth.POST("/qr_login", s.handleQRLogin)
	auth.POST("/check_qr_status", s.handleCheckQRStatus)
	auth.POST("/logout", s.requireAuth, s.handleLogout)

	groups := r.Group("/api/groups", s.requireAuth)
	groups.GET("/list", s.handleListGroups)
	groups.POST("/messages", s.handleListMessages)

	fast := r.Group("/api/fast_download", s.requireAuth)
	fast.POST("/add_tasks", s.handleAddTasks)
	fast.GET("/status", s.handleFastDownloadStatus)
	fast.POST("/cleanup", s.handleCleanup)

	r.POST("/api/download/zip", s.requireAuth, s.handleCreateZip)
	r.GET("/api/download/zip/status/:manager_id", s.requireAuth, s.handleZipStatus)

	return r
}

// StatusRouter builds the unauthenticated liveness/ops router served on a
// separate port, mirroring the teacher's getStatusRouter.
func (s *Server) StatusRouter() *gin.Engine {
	if s.cfg.Dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var r *gin.Engine
	if s.cfg.LogLevel == "error" || s.cfg.LogLevel == "warn" {
		r = gin.New()
		r.Use(gin.Recovery())
	} else {
		r = gin.Default()
	}

	r.GET("/status", s.handleStatus)
	return r
}

const sessionContextUserID = "control_user_id"

// requireAuth validates the opaque session cookie, binding the resolved
// user id into the gin context for downstream handlers.
func (s *Server) requireAuth(c *gin.Context) {
	cookie, err := c.Cookie(s.cookieName())
	if err != nil || cookie == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "not authenticated"})
		return
	}
	sess, ok := s.sessions.Validate(cookie)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "session expired"})
		return
	}
	c.Set(sessionContextUserID, sess.UserID)
	c.Next()
}

func (s *Server) cookieName() string {
	if s.cfg.CookieName == "" {
		return "tgdl_session"
	}
	return s.cfg.CookieName
}

func (s *Server) userIDFromContext(c *gin.Context) int64 {
	v, _ := c.Get(sessionContextUserID)
	id, _ := v.(int64)
	return id
}

func (s *Server) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   maxAge,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// activeClient resolves the upstream.Client bound to the authenticated
// request's user id. Callers branch on the returned error (typically via
// apperr.KindOf) to decide how to respond, including whether auth_required
// belongs in the JSON body.
func (s *Server) activeClient(c *gin.Context) (upstream.Client, int64, error) {
	userID := s.userIDFromContext(c)
	client, err := s.broker.GetUserClient(c.Request.Context(), userID)
	if err != nil {
		return nil, userID, err
	}
	return client, userID, nil
}

// writeError emits the {success:false, error, auth_required?} contract
// SPEC_FULL §7 requires from every control-surface handler, setting
// auth_required whenever the failure's apperr.Kind means the client should
// route the user back through re-authentication.
func (s *Server) writeError(c *gin.Context, status int, err error) {
	body := gin.H{"success": false, "error": err.Error()}
	switch apperr.KindOf(err) {
	case apperr.KindAuthRequired, apperr.KindAuthExpired:
		body["auth_required"] = true
	}
	c.JSON(status, body)
}

// nodeFor returns the single shared run node, creating it on first use. The
// engine runs one logical job stream at a time per SPEC_FULL's run-state
// machine, so fast_download and custom-download submissions share a node.
func (s *Server) nodeFor(chatID int64) *job.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeNode == nil {
		s.activeNode = s.registry.NewNode(chatID)
	}
	return s.activeNode
}

// resetRun clears the shared node so a new run starts from Idle, used by
// cleanup/cancel.
func (s *Server) resetRun() {
	s.mu.Lock()
	s.activeNode = nil
	s.mu.Unlock()
}

// cancelZipManagers stops and cleans up every tracked ZIP job, then sweeps
// orphan temp dirs, per the "cancel" transition's extra obligations in
// SPEC_FULL §4.9.
func (s *Server) cancelZipManagers() {
	for _, p := range s.zipReg.All() {
		p.Cancel()
		p.Cleanup()
	}
	if err := s.zipReg.SweepOrphanTempDirs(os.TempDir()); err != nil {
		s.log.Warn("failed to sweep orphan zip temp dirs", zap.Error(err))
	}
}

func (s *Server) chatTitle(chatID int64) string {
	if s.cfg.ChatTitleResolver != nil {
		if title := s.cfg.ChatTitleResolver(chatID); title != "" {
			return title
		}
	}
	return strconv.FormatInt(chatID, 10)
}

func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// ActiveNode exposes the single shared run node to the bot-notifier glue
// built by internal/runtime; returns nil when idle.
func (s *Server) ActiveNode() *job.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeNode
}

// Shutdown stops the background session-cleanup goroutine.
func (s *Server) Shutdown() { s.sessions.Stop() }
