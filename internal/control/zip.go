package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	range_parser "github.com/quantumsheep/range-parser"
	"go.uber.org/zap"

	"tgdl/internal/zippackager"
)

type createZipRequest struct {
	ChatID     int64   `json:"chat_id" binding:"required"`
	MessageIDs []int64 `json:"message_ids" binding:"required"`
}

// handleCreateZip allocates a Packager, resolves its on-disk zip path
// synchronously, and kicks off the worker-pool download in the background,
// mirroring download_messages_async's "return manager_id immediately, finish
// asynchronously" contract.
func (s *Server) handleCreateZip(c *gin.Context) {
	var req createZipRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chat_id and message_ids are required"})
		return
	}

	client, _, err := s.activeClient(c)
	if err != nil {
		s.writeError(c, http.StatusUnauthorized, err)
		return
	}

	node := s.nodeFor(req.ChatID)
	tempRoot := os.TempDir()
	packager := zippackager.NewPackager(s.log, s.zipReg, s.sched, node, req.ChatID, req.MessageIDs, tempRoot)

	ctx, cancel := context.WithCancel(context.Background())
	if err := packager.Prepare(ctx, client); err != nil {
		cancel()
		s.log.Warn("zip prepare failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	go func() {
		defer cancel()
		if err := packager.StartDownloadsViaWorkerPool(ctx, client); err != nil {
			s.log.Warn("zip download failed to start", zap.Error(err))
		}
	}()

	signature, expiresAt := signZipLink(packager.ManagerID())

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"manager_id":            packager.ManagerID(),
		"expected_zip_filename": filepath.Base(packager.ZipPath()),
		"download_signature":    signature,
		"download_expires":      expiresAt,
	})
}

// handleZipStatus returns progress JSON, or — when ?download=true and the
// archive is ready — streams it with Range support, the same pattern the
// teacher's direct-download route uses for video/document streaming.
func (s *Server) handleZipStatus(c *gin.Context) {
	managerID := c.Param("manager_id")
	packager, ok := s.zipReg.Get(managerID)
	if !ok {
		if s.wasZipServed(managerID) {
			c.JSON(http.StatusGone, gin.H{"success": false, "error": "archive already served and removed"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown manager_id"})
		return
	}

	downloaded, failed, total := packager.Snapshot()
	ready := packager.ZipReady()

	if !ready || c.Query("download") != "true" {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"ready":      ready,
			"downloaded": downloaded,
			"failed":     failed,
			"total":      total,
		})
		return
	}

	if err := validateZipLink(managerID, c.Query("sig"), c.Query("expires")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
		return
	}

	if s.streamZipFile(c, packager) {
		// Served exactly once per SPEC_FULL §3/§4.8 step 6: purge the
		// archive and temp dir and drop the manager from the registry so a
		// repeat request sees 410 Gone rather than being served twice.
		s.markZipServed(packager.ManagerID())
		packager.Cleanup()
	}
}

// streamZipFile streams the archive, returning true once a non-HEAD request
// has actually consumed (some or all of) the body — a HEAD probe or a
// failure before any bytes are written does not count as "served".
func (s *Server) streamZipFile(c *gin.Context, packager *zippackager.Packager) bool {
	path := packager.ZipPath()
	info, err := os.Stat(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "archive not found"})
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open archive"})
		return false
	}
	defer f.Close()

	fileSize := info.Size()
	fileName := filepath.Base(path)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", fileName))
	c.Header("Accept-Ranges", "bytes")

	rangeHeader := c.GetHeader("Range")
	start, end := int64(0), fileSize-1
	status := http.StatusOK
	if rangeHeader != "" {
		ranges, err := range_parser.Parse(fileSize, rangeHeader)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid range header"})
			return false
		}
		start, end = ranges[0].Start, ranges[0].End
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
		status = http.StatusPartialContent
	}

	if _, err := f.Seek(start, 0); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to seek archive"})
		return false
	}

	c.Status(status)
	c.Writer.Header().Set("Content-Type", "application/zip")
	c.Writer.Header().Set("Content-Length", fmt.Sprint(end-start+1))
	if c.Request.Method == http.MethodHead {
		return false
	}
	_, _ = io.CopyN(c.Writer, f, end-start+1)
	return true
}

func (s *Server) markZipServed(managerID string) {
	s.zipServedMu.Lock()
	s.zipServed[managerID] = true
	s.zipServedMu.Unlock()
}

func (s *Server) wasZipServed(managerID string) bool {
	s.zipServedMu.Lock()
	defer s.zipServedMu.Unlock()
	return s.zipServed[managerID]
}
