package zippackager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgdl/internal/job"
	"tgdl/internal/mediadownload"
	"tgdl/internal/progress"
	"tgdl/internal/scheduler"
	"tgdl/internal/upstream"
)

type fakeClient struct{ title string }

func (f *fakeClient) GetChat(ctx context.Context, chatID int64) (upstream.Chat, error) {
	return upstream.Chat{ID: chatID, Title: f.title}, nil
}
func (f *fakeClient) GetMessages(ctx context.Context, chatID int64, ids []int) ([]upstream.Message, error) {
	return nil, nil
}
func (f *fakeClient) IterDialogs(ctx context.Context) (<-chan upstream.Chat, <-chan error) { return nil, nil }
func (f *fakeClient) IterChatHistory(ctx context.Context, chatID int64, limit, offsetID int, reverse bool) (<-chan upstream.Message, <-chan error) {
	return nil, nil
}
func (f *fakeClient) FetchMessage(ctx context.Context, msg upstream.Message) (upstream.Message, error) {
	return msg, nil
}
func (f *fakeClient) DownloadMedia(ctx context.Context, msg upstream.Message, destPath string, progress upstream.ProgressFunc) (string, error) {
	return "", nil
}
func (f *fakeClient) StopTransmission()                                               {}
func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string) error { return nil }
func (f *fakeClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return nil
}
func (f *fakeClient) ExportSessionString() (string, error) { return "", nil }
func (f *fakeClient) Close() error                         { return nil }

func newTestPackager(t *testing.T, chatID int64, ids []int64) (*Packager, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewRegistry(zap.NewNop())
	sched := scheduler.New(zap.NewNop(), 1, mediadownload.Config{}, progress.NewTracker(time.Minute), nil,
		func(n *job.Node) (upstream.Client, error) { return nil, nil },
		func() bool { return false },
	)
	node := job.NewRegistry().NewNode(chatID)
	p := NewPackager(zap.NewNop(), reg, sched, node, chatID, ids, root)
	if err := p.Prepare(context.Background(), &fakeClient{title: "Vacation Pics"}); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return p, root
}

func TestPackagerRegistersWithRegistryOnConstruction(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	sched := scheduler.New(zap.NewNop(), 1, mediadownload.Config{}, progress.NewTracker(time.Minute), nil,
		func(n *job.Node) (upstream.Client, error) { return nil, nil },
		func() bool { return false },
	)
	node := job.NewRegistry().NewNode(1)
	p := NewPackager(zap.NewNop(), reg, sched, node, 1, []int64{10, 20}, t.TempDir())

	got, ok := reg.Get(p.ManagerID())
	if !ok || got != p {
		t.Fatalf("expected the new packager to be registered under its own manager id")
	}
	if node.ZipOwner != p {
		t.Fatalf("expected NewPackager to set node.ZipOwner to itself")
	}
}

// TestScenarioS5ZipPackagingWithOneFailure reproduces spec scenario S5: two
// messages succeed, one has no media; the archive ends up non-empty with
// entries for the successes, and the failure list names the missing one.
func TestScenarioS5ZipPackagingWithOneFailure(t *testing.T) {
	p, root := newTestPackager(t, 1, []int64{11, 12, 13})

	srcDir := filepath.Join(root, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	file11 := filepath.Join(srcDir, "11 - a.jpg")
	file13 := filepath.Join(srcDir, "13 - c.jpg")
	for _, f := range []string{file11, file13} {
		if err := os.WriteFile(f, []byte("photo-bytes"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	p.OnFileDownloaded(11, file11, 11)
	p.OnFileFailed(12, "message has no media")
	p.OnFileDownloaded(13, file13, 11)

	deadline := time.After(2 * time.Second)
	for !p.ZipReady() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for zip to finalize")
		case <-time.After(5 * time.Millisecond):
		}
	}

	downloaded, failed, total := p.Snapshot()
	if downloaded != 2 || failed != 1 || total != 3 {
		t.Fatalf("unexpected snapshot: downloaded=%d failed=%d total=%d", downloaded, failed, total)
	}
	info, err := os.Stat(p.ZipPath())
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty zip archive: %v", err)
	}
}

func TestPackagerFinalizesAndBuildsZipOnceAllFilesResolve(t *testing.T) {
	p, root := newTestPackager(t, 1, []int64{10, 20})

	srcDir := filepath.Join(root, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	file1 := filepath.Join(srcDir, "10 - a.jpg")
	if err := os.WriteFile(file1, []byte("photo-bytes"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	p.OnFileDownloaded(10, file1, 11)
	if p.ZipReady() {
		t.Fatalf("zip should not be ready until every message resolves")
	}

	p.OnFileFailed(20, "message not found")

	deadline := time.After(2 * time.Second)
	for !p.ZipReady() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for zip to finalize")
		case <-time.After(5 * time.Millisecond):
		}
	}

	downloaded, failed, total := p.Snapshot()
	if downloaded != 1 || failed != 1 || total != 2 {
		t.Fatalf("unexpected snapshot: downloaded=%d failed=%d total=%d", downloaded, failed, total)
	}

	info, err := os.Stat(p.ZipPath())
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty zip archive at %q: %v", p.ZipPath(), err)
	}
	if _, err := os.Stat(file1); !os.IsNotExist(err) {
		t.Fatalf("expected source file to be removed once packed into the archive")
	}
}

func TestPackagerCancelPreventsFinalZip(t *testing.T) {
	p, _ := newTestPackager(t, 1, []int64{10})
	p.Cancel()
	p.OnFileFailed(10, "cancelled mid-flight")

	time.Sleep(20 * time.Millisecond)
	if p.ZipReady() {
		t.Fatalf("expected a cancelled packager to never mark the zip ready")
	}
	if _, err := os.Stat(p.ZipPath()); !os.IsNotExist(err) {
		t.Fatalf("expected Cleanup to remove any zip path on cancel")
	}
}

func TestRegistryOwnerLookup(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.SetOwner(1, 100, "manager-a")

	got, ok := reg.Lookup(1, 100)
	if !ok || got != "manager-a" {
		t.Fatalf("expected Lookup to find manager-a, got %q ok=%v", got, ok)
	}

	reg.ClearOwner(1, 100)
	if _, ok := reg.Lookup(1, 100); ok {
		t.Fatalf("expected Lookup to miss after ClearOwner")
	}
}
