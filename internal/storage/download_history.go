package storage

import "time"

// DownloadHistoryRepository is the authoritative per-message download ledger,
// grounded in DownloadHistoryRepository.add_download_record/update_download_status/
// get_downloaded_message_ids/get_failed_message_ids/get_download_statistics.
type DownloadHistoryRepository struct {
	*Repository[DownloadRecord]
}

// UpsertRecord is the sole primitive used to transition a message's download
// state, per SPEC_FULL's storage contract.
func (r *DownloadHistoryRepository) UpsertRecord(rec *DownloadRecord) error {
	return r.Repository.Upsert([]string{"chat_id", "message_id"}, rec)
}

func (r *DownloadHistoryRepository) MarkStatus(chatID string, messageID int64, status, errMsg string) error {
	now := time.Now().UTC()
	patch := map[string]any{
		"download_status": status,
		"error_message":   errMsg,
		"download_date":   now,
	}
	_, err := r.Update(map[string]any{"chat_id": chatID, "message_id": messageID}, patch)
	return err
}

func (r *DownloadHistoryRepository) GetByChatAndMessage(chatID string, messageID int64) (*DownloadRecord, error) {
	return r.FindOne(map[string]any{"chat_id": chatID, "message_id": messageID})
}

// GetDownloadedMessageIDs returns message ids already recorded as success for
// chatID, used by the custom-download manager to skip already-fetched items.
func (r *DownloadHistoryRepository) GetDownloadedMessageIDs(chatID string) ([]int64, error) {
	rows, err := r.FindAll(map[string]any{"chat_id": chatID, "download_status": DownloadStatusSuccess}, "", 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.MessageID)
	}
	return ids, nil
}

func (r *DownloadHistoryRepository) GetFailedMessageIDs(chatID string) ([]int64, error) {
	rows, err := r.FindAll(map[string]any{"chat_id": chatID, "download_status": DownloadStatusFailed}, "", 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.MessageID)
	}
	return ids, nil
}

// Statistics mirrors the raw SQL GROUP BY in get_download_statistics, just
// expressed as a gorm aggregate query instead of hand-written SQL.
type Statistics struct {
	Total      int64
	Successful int64
	Failed     int64
	Skipped    int64
	TotalBytes int64
}

func (r *DownloadHistoryRepository) GetStatistics(chatID string) (Statistics, error) {
	var stats Statistics
	q := r.db.Model(&DownloadRecord{})
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	row := q.Select(
		"COUNT(*) as total",
		"SUM(CASE WHEN download_status = 'success' THEN 1 ELSE 0 END) as successful",
		"SUM(CASE WHEN download_status = 'failed' THEN 1 ELSE 0 END) as failed",
		"SUM(CASE WHEN download_status = 'skipped' THEN 1 ELSE 0 END) as skipped",
		"SUM(CASE WHEN download_status = 'success' THEN file_size ELSE 0 END) as total_bytes",
	).Row()
	if err := row.Scan(&stats.Total, &stats.Successful, &stats.Failed, &stats.Skipped, &stats.TotalBytes); err != nil {
		return Statistics{}, err
	}
	return stats, nil
}
