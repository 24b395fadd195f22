package storage

import (
	"testing"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open in-memory test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestChatRepositoryUpsertAndFetch(t *testing.T) {
	db := openTestDB(t)

	chat := &Chat{ChatID: "100", ChatTitle: "Family Photos", ChatType: "GROUP", IsActive: true}
	if err := db.Chats.Upsert(chat); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := db.Chats.GetByID("100")
	if err != nil || got == nil {
		t.Fatalf("GetByID failed: err=%v got=%v", err, got)
	}
	if got.ChatTitle != "Family Photos" {
		t.Fatalf("expected title 'Family Photos', got %q", got.ChatTitle)
	}

	chat.ChatTitle = "Family Photos (renamed)"
	if err := db.Chats.Upsert(chat); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	got, _ = db.Chats.GetByID("100")
	if got.ChatTitle != "Family Photos (renamed)" {
		t.Fatalf("expected upsert to update existing row, got %q", got.ChatTitle)
	}
}

func TestChatRepositoryGetActiveChatsExcludesInactive(t *testing.T) {
	db := openTestDB(t)
	_ = db.Chats.Upsert(&Chat{ChatID: "1", ChatTitle: "Active", IsActive: true})
	_ = db.Chats.Upsert(&Chat{ChatID: "2", ChatTitle: "Inactive", IsActive: false})

	active, err := db.Chats.GetActiveChats()
	if err != nil {
		t.Fatalf("GetActiveChats failed: %v", err)
	}
	if len(active) != 1 || active[0].ChatTitle != "Active" {
		t.Fatalf("expected only the active chat, got %+v", active)
	}
}

func TestDownloadHistoryUpsertAndStatistics(t *testing.T) {
	db := openTestDB(t)

	rec := &DownloadRecord{ChatID: "1", MessageID: 10, FileName: "a.mp4", FileSize: 1000, DownloadStatus: DownloadStatusSuccess}
	if err := db.DownloadHistory.UpsertRecord(rec); err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}
	rec2 := &DownloadRecord{ChatID: "1", MessageID: 11, DownloadStatus: DownloadStatusFailed}
	if err := db.DownloadHistory.UpsertRecord(rec2); err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}

	stats, err := db.DownloadHistory.GetStatistics("1")
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 2 || stats.Successful != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.TotalBytes != 1000 {
		t.Fatalf("expected total bytes from the successful record only, got %d", stats.TotalBytes)
	}

	// Upserting again on the same (chat_id, message_id) must update, not duplicate.
	rec.DownloadStatus = DownloadStatusSuccess
	rec.FileSize = 2000
	if err := db.DownloadHistory.UpsertRecord(rec); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	stats, _ = db.DownloadHistory.GetStatistics("1")
	if stats.Total != 2 {
		t.Fatalf("expected upsert to update the existing row rather than insert a new one, total=%d", stats.Total)
	}
	if stats.TotalBytes != 2000 {
		t.Fatalf("expected updated file size to be reflected, got %d", stats.TotalBytes)
	}
}

func TestDownloadHistoryGetDownloadedAndFailedIDs(t *testing.T) {
	db := openTestDB(t)
	_ = db.DownloadHistory.UpsertRecord(&DownloadRecord{ChatID: "5", MessageID: 1, DownloadStatus: DownloadStatusSuccess})
	_ = db.DownloadHistory.UpsertRecord(&DownloadRecord{ChatID: "5", MessageID: 2, DownloadStatus: DownloadStatusFailed})
	_ = db.DownloadHistory.UpsertRecord(&DownloadRecord{ChatID: "5", MessageID: 3, DownloadStatus: DownloadStatusSuccess})

	ok, err := db.DownloadHistory.GetDownloadedMessageIDs("5")
	if err != nil || len(ok) != 2 {
		t.Fatalf("expected 2 downloaded ids, got %v (err=%v)", ok, err)
	}
	failed, err := db.DownloadHistory.GetFailedMessageIDs("5")
	if err != nil || len(failed) != 1 || failed[0] != 2 {
		t.Fatalf("expected 1 failed id == 2, got %v (err=%v)", failed, err)
	}
}

func TestCustomDownloadRepositoryAddAndRemoveIDs(t *testing.T) {
	db := openTestDB(t)

	if err := db.CustomDownloads.Add("1", []int64{1, 2, 3}, "batch-1"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ids, err := db.CustomDownloads.GetAllTargetMessageIDs("1")
	if err != nil || len(ids) != 3 {
		t.Fatalf("expected 3 target ids, got %v (err=%v)", ids, err)
	}

	if err := db.CustomDownloads.RemoveIDs("1", []int64{2}); err != nil {
		t.Fatalf("RemoveIDs failed: %v", err)
	}
	ids, _ = db.CustomDownloads.GetAllTargetMessageIDs("1")
	if len(ids) != 2 {
		t.Fatalf("expected 2 remaining ids after removing one, got %v", ids)
	}

	if err := db.CustomDownloads.RemoveIDs("1", []int64{1, 3}); err != nil {
		t.Fatalf("RemoveIDs failed: %v", err)
	}
	rows, err := db.CustomDownloads.GetForChat("1")
	if err != nil {
		t.Fatalf("GetForChat failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected the row to be disabled once every id is resolved, got %d enabled rows", len(rows))
	}
}

func TestAuthorizedUserRepository(t *testing.T) {
	db := openTestDB(t)

	if db.AuthorizedUsers.IsAuthorized(99) {
		t.Fatalf("expected unknown user to be unauthorized")
	}

	if err := db.AuthorizedUsers.Add(&AuthorizedUser{UserID: 99, Username: "alice"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !db.AuthorizedUsers.IsAuthorized(99) {
		t.Fatalf("expected user to be authorized after Add")
	}

	if err := db.AuthorizedUsers.UpdateLastActivity(99); err != nil {
		t.Fatalf("UpdateLastActivity failed: %v", err)
	}

	all, err := db.AuthorizedUsers.GetAll()
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 authorized user, got %v (err=%v)", all, err)
	}
}
