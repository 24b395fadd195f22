package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgdl/internal/job"
	"tgdl/internal/mediadownload"
	"tgdl/internal/progress"
	"tgdl/internal/upstream"
)

type fakeClient struct {
	content []byte
}

func (f *fakeClient) GetChat(ctx context.Context, chatID int64) (upstream.Chat, error) { return upstream.Chat{}, nil }
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
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, f.content, 0o644); err != nil {
		return "", err
	}
	return destPath, nil
}
func (f *fakeClient) StopTransmission()                                                {}
func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string) error  { return nil }
func (f *fakeClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return nil
}
func (f *fakeClient) ExportSessionString() (string, error) { return "", nil }
func (f *fakeClient) Close() error                         { return nil }

type fakeHistory struct {
	mu      sync.Mutex
	records []mediadownload.Outcome
}

func (h *fakeHistory) RecordOutcome(chatID, messageID int64, outcome mediadownload.Outcome, path string, size int64, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, outcome)
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestSchedulerProcessesSubmittedItemsToCompletion(t *testing.T) {
	root := t.TempDir()
	cfg := mediadownload.Config{
		SavePath:        filepath.Join(root, "downloads"),
		TempSavePath:    filepath.Join(root, "tmp"),
		PathPrefixOrder: []string{"media_type"},
		MediaTypes:      []string{"document"},
		FileFormats:     map[string][]string{},
		RetryTimeout:    time.Millisecond,
	}
	tracker := progress.NewTracker(time.Minute)
	history := &fakeHistory{}
	client := &fakeClient{content: []byte("payload")}

	sched := New(zap.NewNop(), 2, cfg, tracker, history,
		func(n *job.Node) (upstream.Client, error) { return client, nil },
		func() bool { return true },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	node := job.NewNode(1, 100)
	for _, id := range []int64{1, 2, 3} {
		node.Submit(id)
		sched.Put(Item{
			Message: upstream.Message{ID: int(id), ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "f.pdf", FileSize: int64(len(client.content))},
			Node:    node,
		})
	}

	deadline := time.After(5 * time.Second)
	for node.IsRunning() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for scheduler to finish 3 items")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if node.SuccessDownloadTask.Load() != 3 {
		t.Fatalf("expected 3 successful downloads, got %d", node.SuccessDownloadTask.Load())
	}
	if history.count() != 3 {
		t.Fatalf("expected history to record 3 outcomes, got %d", history.count())
	}
}

func TestSchedulerSkipsWhenTransmissionAlreadyStopped(t *testing.T) {
	root := t.TempDir()
	cfg := mediadownload.Config{
		SavePath:        filepath.Join(root, "downloads"),
		TempSavePath:    filepath.Join(root, "tmp"),
		PathPrefixOrder: []string{"media_type"},
		MediaTypes:      []string{"document"},
		FileFormats:     map[string][]string{},
	}
	tracker := progress.NewTracker(time.Minute)
	client := &fakeClient{content: []byte("x")}

	sched := New(zap.NewNop(), 1, cfg, tracker, nil,
		func(n *job.Node) (upstream.Client, error) { return client, nil },
		func() bool { return true },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	node := job.NewNode(1, 100)
	node.Submit(1)
	node.StopTransmission()
	sched.Put(Item{Message: upstream.Message{ID: 1, ChatID: 100, MediaType: upstream.MediaDocument}, Node: node})

	deadline := time.After(5 * time.Second)
	for node.IsRunning() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for scheduler to mark the item skipped")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if node.SkipDownloadTask.Load() != 1 {
		t.Fatalf("expected the already-stopped item to be recorded as skipped, got skip=%d failed=%d",
			node.SkipDownloadTask.Load(), node.FailedDownloadTask.Load())
	}
}
