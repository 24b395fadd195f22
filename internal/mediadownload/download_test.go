package mediadownload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgdl/internal/apperr"
	"tgdl/internal/job"
	"tgdl/internal/progress"
	"tgdl/internal/upstream"
)

// fakeClient is a minimal upstream.Client double: FetchMessage just echoes
// the message back, DownloadMedia writes fixed content to destPath (or
// returns a scripted error sequence).
type fakeClient struct {
	fetchErr      error
	downloadErrs  []error // consumed in order, last one repeats
	downloadCalls int
	content       []byte
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
	if f.fetchErr != nil {
		return upstream.Message{}, f.fetchErr
	}
	return msg, nil
}
func (f *fakeClient) DownloadMedia(ctx context.Context, msg upstream.Message, destPath string, progress upstream.ProgressFunc) (string, error) {
	idx := f.downloadCalls
	if idx >= len(f.downloadErrs) {
		idx = len(f.downloadErrs) - 1
	}
	f.downloadCalls++
	if idx >= 0 && f.downloadErrs[idx] != nil {
		return "", f.downloadErrs[idx]
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, f.content, 0o644); err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(f.content)), int64(len(f.content)))
	}
	return destPath, nil
}
func (f *fakeClient) StopTransmission()                                              {}
func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string) error { return nil }
func (f *fakeClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	return nil
}
func (f *fakeClient) ExportSessionString() (string, error) { return "", nil }
func (f *fakeClient) Close() error                         { return nil }

func baseConfig(t *testing.T) (Config, string) {
	root := t.TempDir()
	cfg := Config{
		SavePath:        filepath.Join(root, "downloads"),
		BotSavePath:     filepath.Join(root, "downloads", "bot"),
		TempSavePath:    filepath.Join(root, "tmp"),
		PathPrefixOrder: []string{"media_type"},
		MediaTypes:      []string{"document", "video", "photo"},
		FileFormats:     map[string][]string{},
		RetryTimeout:    time.Millisecond,
	}
	return cfg, root
}

func newReq(client upstream.Client, msg upstream.Message) Request {
	node := job.NewNode(1, msg.ChatID)
	node.Submit(int64(msg.ID))
	return Request{
		Client:   client,
		Message:  msg,
		Node:     node,
		Progress: progress.NewTracker(time.Minute),
	}
}

func TestDownloadSkipsNonMediaMessage(t *testing.T) {
	cfg, _ := baseConfig(t)
	client := &fakeClient{}
	msg := upstream.Message{ID: 1, ChatID: 100, MediaType: upstream.MediaNone, Text: "hello"}

	outcome, path, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if err != nil || outcome != Skip || path != "" {
		t.Fatalf("expected Skip/no-error for non-media message, got outcome=%v path=%q err=%v", outcome, path, err)
	}
}

func TestDownloadSkipsDisallowedMediaType(t *testing.T) {
	cfg, _ := baseConfig(t)
	cfg.MediaTypes = []string{"document"}
	client := &fakeClient{content: []byte("hi")}
	msg := upstream.Message{ID: 1, ChatID: 100, MediaType: upstream.MediaVoice, MimeType: "audio/ogg", FileSize: 2}

	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if err != nil || outcome != Skip {
		t.Fatalf("expected Skip for a media type not in MediaTypes, got outcome=%v err=%v", outcome, err)
	}
}

func TestDownloadSucceedsAndMovesFileToFinalPath(t *testing.T) {
	cfg, _ := baseConfig(t)
	content := []byte("file-bytes")
	client := &fakeClient{content: content, downloadErrs: []error{nil}}
	msg := upstream.Message{ID: 7, ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "report.pdf", FileSize: int64(len(content))}

	outcome, path, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
	got, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("expected final file to exist at %q: %v", path, readErr)
	}
	if string(got) != string(content) {
		t.Fatalf("final file content mismatch")
	}
}

func TestDownloadFailsOnSizeMismatch(t *testing.T) {
	cfg, _ := baseConfig(t)
	client := &fakeClient{content: []byte("short"), downloadErrs: []error{nil}}
	msg := upstream.Message{ID: 8, ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/zip", FileName: "a.zip", FileSize: 99999}

	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if outcome != Failed {
		t.Fatalf("expected Failed outcome on size mismatch, got %v", outcome)
	}
	if !apperr.Is(err, apperr.KindDownloadMismatch) {
		t.Fatalf("expected KindDownloadMismatch, got %v", err)
	}
}

func TestDownloadSkipsAlreadyDownloadedNonZipJob(t *testing.T) {
	cfg, _ := baseConfig(t)
	msg := upstream.Message{ID: 9, ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "dup.pdf", FileSize: 5}

	saveDir := SaveDir(cfg.SavePath, cfg.PathPrefixOrder, "", msg)
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	finalPath := filepath.Join(saveDir, BuildFileName(msg))
	if err := os.WriteFile(finalPath, []byte("exists"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	client := &fakeClient{}
	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if err != nil || outcome != Skip {
		t.Fatalf("expected Skip for an already-downloaded file, got outcome=%v err=%v", outcome, err)
	}
}

func TestDownloadRetriesOnStaleReferenceThenSucceeds(t *testing.T) {
	cfg, _ := baseConfig(t)
	content := []byte("refreshed-bytes")
	client := &fakeClient{
		content:      content,
		downloadErrs: []error{errors.New("FILE_REFERENCE_EXPIRED"), nil},
	}
	msg := upstream.Message{ID: 11, ChatID: 100, MediaType: upstream.MediaVideo, MimeType: "video/mp4", FileName: "clip.mp4", FileSize: int64(len(content))}

	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Success {
		t.Fatalf("expected eventual Success after one stale-reference retry, got %v", outcome)
	}
	if client.downloadCalls != 2 {
		t.Fatalf("expected exactly 2 DownloadMedia calls, got %d", client.downloadCalls)
	}
}

func TestDownloadStopsImmediatelyWhenTransmissionStopped(t *testing.T) {
	cfg, _ := baseConfig(t)
	client := &fakeClient{content: []byte("x"), downloadErrs: []error{nil}}
	msg := upstream.Message{ID: 12, ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "x.pdf", FileSize: 1}

	req := newReq(client, msg)
	req.Node.StopTransmission()

	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, req)
	if outcome != Failed || !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected immediate Failed/KindTransient once stopped, got outcome=%v err=%v", outcome, err)
	}
	if client.downloadCalls != 0 {
		t.Fatalf("expected DownloadMedia never called once transmission is stopped")
	}
}
