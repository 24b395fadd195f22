package storage

import "time"

// QueueRepository is the durable retry ledger that backs up the in-memory
// job queue, grounded in DownloadQueueRepository.add_to_queue/
// get_pending_downloads/mark_as_processing/mark_as_completed/mark_as_failed/
// cleanup_old_completed.
type QueueRepository struct {
	*Repository[QueueEntry]
}

func (r *QueueRepository) AddToQueue(chatID string, messageID int64, priority, maxRetries int) error {
	entry := &QueueEntry{
		ChatID:      chatID,
		MessageID:   messageID,
		Priority:    priority,
		MaxRetries:  maxRetries,
		Status:      QueueStatusPending,
		ScheduledAt: time.Now().UTC(),
	}
	return r.Repository.Upsert([]string{"chat_id", "message_id"}, entry)
}

// GetPendingDownloads orders by priority DESC, scheduled_at ASC — the same
// ordering the original's raw SQL query enforces.
func (r *QueueRepository) GetPendingDownloads(limit int) ([]QueueEntry, error) {
	return r.FindAll(map[string]any{"status": QueueStatusPending}, "priority desc, scheduled_at asc", limit)
}

func (r *QueueRepository) MarkProcessing(id uint) error {
	_, err := r.Update(map[string]any{"id": id}, map[string]any{"status": QueueStatusProcessing})
	return err
}

func (r *QueueRepository) MarkCompleted(id uint) error {
	now := time.Now().UTC()
	_, err := r.Update(map[string]any{"id": id}, map[string]any{"status": QueueStatusCompleted, "processed_at": &now})
	return err
}

// MarkFailed increments current_retries; once it reaches max_retries the row
// is left in QueueStatusFailed instead of being retried again.
func (r *QueueRepository) MarkFailed(entry QueueEntry, errMsg string) error {
	now := time.Now().UTC()
	entry.CurrentRetries++
	entry.ErrorMessage = errMsg
	entry.ProcessedAt = &now
	if entry.CurrentRetries >= entry.MaxRetries {
		entry.Status = QueueStatusFailed
	} else {
		entry.Status = QueueStatusPending
	}
	_, err := r.Update(map[string]any{"id": entry.ID}, map[string]any{
		"status":          entry.Status,
		"current_retries": entry.CurrentRetries,
		"error_message":   entry.ErrorMessage,
		"processed_at":    entry.ProcessedAt,
	})
	return err
}

func (r *QueueRepository) CleanupOldCompleted(olderThan time.Time) (int64, error) {
	res := r.db.Where("status = ? AND processed_at < ?", QueueStatusCompleted, olderThan).Delete(&QueueEntry{})
	return res.RowsAffected, res.Error
}
