package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleStatus serves the ambient liveness/ops endpoint on the separate
// status-only router, JSON only per SPEC_FULL §6 (no embedded HTML
// dashboard, unlike the teacher's /status route).
func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	node := s.activeNode
	s.mu.Unlock()

	workers := []gin.H{}
	if node != nil {
		workers = append(workers, gin.H{
			"task_id":         node.TaskID,
			"chat_id":         node.ChatID,
			"is_running":      node.IsRunning(),
			"total_task":      node.TotalTask.Load(),
			"finish_task":     node.FinishTask.Load(),
			"success_task":    node.SuccessDownloadTask.Load(),
			"failed_task":     node.FailedDownloadTask.Load(),
			"skipped_task":    node.SkipDownloadTask.Load(),
			"total_bytes":     node.TotalDownloadByte.Load(),
			"download_state":  s.tracker.RunState().String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"uptime":  s.Uptime().String(),
		"workers": workers,
	})
}
