package scheduler

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
	"tgdl/internal/upstream"
)

type slowClient struct {
	delay   time.Duration
	content []byte
}

func (c *slowClient) GetChat(ctx context.Context, chatID int64) (upstream.Chat, error) { return upstream.Chat{}, nil }
func (c *slowClient) GetMessages(ctx context.Context, chatID int64, ids []int) ([]upstream.Message, error) {
	return nil, nil
}
func (c *slowClient) IterDialogs(ctx context.Context) (<-chan upstream.Chat, <-chan error) { return nil, nil }
func (c *slowClient) IterChatHistory(ctx context.Context, chatID int64, limit, offsetID int, reverse bool) (<-chan upstream.Message, <-chan error) {
	return nil, nil
}
func (c *slowClient) FetchMessage(ctx context.Context, msg upstream.Message) (upstream.Message, error) {
	return msg, nil
}
func (c *slowClient) DownloadMedia(ctx context.Context, msg upstream.Message, destPath string, progress upstream.ProgressFunc) (string, error) {
	time.Sleep(c.delay)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, c.content, 0o644); err != nil {
		return "", err
	}
	return destPath, nil
}
func (c *slowClient) StopTransmission()                                                {}
func (c *slowClient) SendMessage(ctx context.Context, chatID int64, text string) error  { return nil }
func (c *slowClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return nil
}
func (c *slowClient) ExportSessionString() (string, error) { return "", nil }
func (c *slowClient) Close() error                         { return nil }

// TestScenarioS6CancelMidFlight reproduces spec scenario S6: 20 messages are
// submitted to a single-worker scheduler with a slow fake download, the
// node's transmission is stopped ~100ms in, and within 5s every worker goes
// idle with the not-yet-started items recorded as skipped rather than hung.
func TestScenarioS6CancelMidFlight(t *testing.T) {
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
	client := &slowClient{delay: 30 * time.Millisecond, content: []byte("x")}

	sched := New(zap.NewNop(), 1, cfg, tracker, nil,
		func(n *job.Node) (upstream.Client, error) { return client, nil },
		func() bool { return true },
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	node := job.NewNode(1, 100)
	for i := int64(1); i <= 20; i++ {
		node.Submit(i)
		sched.Put(Item{
			Message: upstream.Message{ID: int(i), ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "f.pdf", FileSize: 1},
			Node:    node,
		})
	}

	time.Sleep(100 * time.Millisecond)
	node.StopTransmission()

	deadline := time.After(5 * time.Second)
	for node.IsRunning() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the node to go idle after cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if node.SkipDownloadTask.Load() == 0 {
		t.Fatalf("expected at least one item to be skipped once transmission was stopped, got skip=%d success=%d",
			node.SkipDownloadTask.Load(), node.SuccessDownloadTask.Load())
	}
	if node.SuccessDownloadTask.Load()+node.SkipDownloadTask.Load()+node.FailedDownloadTask.Load() != 20 {
		t.Fatalf("expected all 20 items to resolve to a terminal state, got success=%d skip=%d failed=%d",
			node.SuccessDownloadTask.Load(), node.SkipDownloadTask.Load(), node.FailedDownloadTask.Load())
	}
}
