package runtime

import (
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"tgdl/internal/mediadownload"
	"tgdl/internal/storage"
)

// historyAdapter is the concrete scheduler.HistoryRecorder, translating a
// per-message mediadownload.Outcome into a download_history row.
type historyAdapter struct {
	log  *zap.Logger
	repo *storage.DownloadHistoryRepository
}

func (h *historyAdapter) RecordOutcome(chatID, messageID int64, outcome mediadownload.Outcome, path string, size int64, errMsg string) {
	status := storage.DownloadStatusSuccess
	switch outcome {
	case mediadownload.Skip:
		status = storage.DownloadStatusSkipped
	case mediadownload.Failed:
		status = storage.DownloadStatusFailed
	}

	rec := &storage.DownloadRecord{
		ChatID:         strconv.FormatInt(chatID, 10),
		MessageID:      messageID,
		FileName:       filepath.Base(path),
		FilePath:       path,
		FileSize:       size,
		DownloadStatus: status,
		ErrorMessage:   errMsg,
	}
	if err := h.repo.UpsertRecord(rec); err != nil {
		h.log.Warn("failed to record download outcome", zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
	}
}
