package control

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgdl/internal/progress"
)

type addTasksRequest struct {
	ChatID     int64   `json:"chat_id" binding:"required"`
	MessageIDs []int64 `json:"message_ids" binding:"required"`
}

// handleAddTasks adds message_ids to chat_id's custom-download backlog and,
// if no run is already in progress, immediately triggers a download for
// just the newly-added ids, matching add_fast_download_tasks's
// add-then-auto-trigger behavior.
func (s *Server) handleAddTasks(c *gin.Context) {
	var req addTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chat_id and message_ids are required"})
		return
	}

	if s.tracker.RunState() == progress.Downloading {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "a download is already in progress"})
		return
	}

	chatKey := strconv.FormatInt(req.ChatID, 10)
	existing, err := s.db.CustomDownloads.GetAllTargetMessageIDs(chatKey)
	if err != nil {
		s.log.Warn("failed to read existing target ids", zap.Error(err))
	}
	seen := make(map[int64]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}

	var newIDs []int64
	for _, id := range req.MessageIDs {
		if !seen[id] {
			newIDs = append(newIDs, id)
			seen[id] = true
		}
	}

	if len(newIDs) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"success":            true,
			"added_count":        0,
			"total_count":        len(existing),
			"download_triggered": false,
		})
		return
	}

	if err := s.db.CustomDownloads.Add(chatKey, newIDs, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to persist new tasks"})
		return
	}

	client, userID, err := s.activeClient(c)
	downloadTriggered := false
	if err == nil {
		node := s.nodeFor(req.ChatID)
		node.FromUserID = userID
		s.tracker.SetRunState(progress.Downloading)
		title := s.chatTitle(req.ChatID)
		selected := map[int64][]int64{req.ChatID: newIDs}
		titles := map[int64]string{req.ChatID: title}
		go func() {
			s.customMgr.RunForSelected(context.Background(), client, node, selected, titles)
			if s.tracker.RunState() == progress.Downloading {
				s.tracker.SetRunState(progress.Completed)
			}
		}()
		downloadTriggered = true
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"added_count":        len(newIDs),
		"total_count":        len(existing) + len(newIDs),
		"download_triggered": downloadTriggered,
	})
}

func (s *Server) handleFastDownloadStatus(c *gin.Context) {
	s.mu.Lock()
	node := s.activeNode
	s.mu.Unlock()

	snapshot := s.tracker.Snapshot(node)
	userID := s.userIDFromContext(c)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"progress": gin.H{
			"active":          snapshot.Active,
			"total_task":      snapshot.TotalTask,
			"completed_task":  snapshot.CompletedTask,
			"downloaded_size": snapshot.DownloadedSize,
			"total_size":      snapshot.TotalSize,
			"download_speed":  snapshot.DownloadSpeed,
			"remaining_files": snapshot.RemainingFiles,
			"current_files":   snapshot.CurrentFiles,
			"eta_seconds":     snapshot.ETASeconds,
		},
		"session":        gin.H{"user_id": userID},
		"download_state": s.tracker.RunState().String(),
	})
}

// handleCleanup implements the "cancel" transition: stop the active node,
// tear down every ZIP manager, drop the active run node, and reset to Idle
// so a new run can start. Per-file progress entries already held by the
// tracker are not removed here.
func (s *Server) handleCleanup(c *gin.Context) {
	s.mu.Lock()
	node := s.activeNode
	s.mu.Unlock()

	s.tracker.SetRunState(progress.Cancelled)
	if node != nil {
		node.StopTransmission()
	}
	s.cancelZipManagers()
	s.resetRun()
	s.tracker.SetRunState(progress.Idle)

	c.JSON(http.StatusOK, gin.H{"success": true})
}
