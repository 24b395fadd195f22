package runtime

import (
	"testing"

	"go.uber.org/zap"

	"tgdl/internal/mediadownload"
	"tgdl/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestChatTitleCacheResolvesKnownChat(t *testing.T) {
	db := openTestDB(t)
	if err := db.Chats.Upsert(&storage.Chat{ChatID: "100", ChatTitle: "Family Photos"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	c := &chatTitleCache{repo: db.Chats}

	if got := c.Resolve(100); got != "Family Photos" {
		t.Fatalf("expected 'Family Photos', got %q", got)
	}
}

func TestChatTitleCacheFallsBackToEmptyForUnknownChat(t *testing.T) {
	db := openTestDB(t)
	c := &chatTitleCache{repo: db.Chats}

	if got := c.Resolve(999); got != "" {
		t.Fatalf("expected empty string for an unknown chat, got %q", got)
	}
}

func TestHistoryAdapterRecordsSuccessOutcome(t *testing.T) {
	db := openTestDB(t)
	h := &historyAdapter{log: zap.NewNop(), repo: db.DownloadHistory}

	h.RecordOutcome(1, 10, mediadownload.Success, "/data/1/video.mp4", 2048, "")

	rec, err := db.DownloadHistory.GetByChatAndMessage("1", 10)
	if err != nil || rec == nil {
		t.Fatalf("expected a recorded history row: %v", err)
	}
	if rec.DownloadStatus != storage.DownloadStatusSuccess || rec.FileName != "video.mp4" || rec.FileSize != 2048 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestHistoryAdapterMapsOutcomeKindToStatus(t *testing.T) {
	db := openTestDB(t)
	h := &historyAdapter{log: zap.NewNop(), repo: db.DownloadHistory}

	h.RecordOutcome(1, 20, mediadownload.Skip, "", 0, "")
	h.RecordOutcome(1, 21, mediadownload.Failed, "", 0, "download failed")

	skip, err := db.DownloadHistory.GetByChatAndMessage("1", 20)
	if err != nil || skip == nil || skip.DownloadStatus != storage.DownloadStatusSkipped {
		t.Fatalf("expected a skipped record, got %+v (err=%v)", skip, err)
	}
	failed, err := db.DownloadHistory.GetByChatAndMessage("1", 21)
	if err != nil || failed == nil || failed.DownloadStatus != storage.DownloadStatusFailed || failed.ErrorMessage != "download failed" {
		t.Fatalf("expected a failed record with error message, got %+v (err=%v)", failed, err)
	}
}
