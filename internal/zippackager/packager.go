// Package zippackager implements the ZIP packager (C8): an ad-hoc job that
// downloads a caller-picked set of messages into a temp directory and bundles
// them into one archive for a single streamed download, grounded in
// web_zip_api.py's download_messages_async/download_messages_as_zip pair.
package zippackager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgdl/internal/apperr"
	"tgdl/internal/job"
	"tgdl/internal/mediadownload"
	"tgdl/internal/scheduler"
	"tgdl/internal/upstream"
)

// FileEntry is one successfully downloaded member of the archive.
type FileEntry struct {
	MessageID int64
	FilePath  string
	Size      int64
}

// Packager is one ZIP job's state, satisfying job.ZipOwner so a Node can
// route per-message outcomes back to it without a direct import cycle.
type Packager struct {
	id      string
	chatID  int64
	log     *zap.Logger
	node    *job.Node
	sched   *scheduler.Scheduler
	reg     *Registry

	messageIDs []int64
	tempDir    string
	zipPath    string

	safeChatTitle string
	timestamp     string

	mu              sync.Mutex
	downloadedFiles []FileEntry
	failedDownloads []string
	finalized       bool

	zipReady    atomic.Bool
	isCancelled atomic.Bool

	cancel context.CancelFunc
}

// NewPackager allocates a packager for chatID/messageIDs under tempRoot;
// manager id follows "{chat_id}_{uuid}", functionally the same
// "{chat_id}_{epoch_ms}" uniqueness contract the original used.
func NewPackager(log *zap.Logger, reg *Registry, sched *scheduler.Scheduler, node *job.Node, chatID int64, messageIDs []int64, tempRoot string) *Packager {
	id := fmt.Sprintf("%d_%s", chatID, uuid.NewString())
	p := &Packager{
		id:         id,
		chatID:     chatID,
		log:        log.Named("ZipPackager").With(zap.String("manager_id", id)),
		node:       node,
		sched:      sched,
		reg:        reg,
		messageIDs: messageIDs,
		tempDir:    filepath.Join(tempRoot, fmt.Sprintf("tgdl_zip_%s", uuid.NewString())),
	}
	node.ZipOwner = p
	reg.Register(p)
	return p
}

func (p *Packager) ManagerID() string { return p.id }

// Prepare resolves the chat title, computes zip_path, and creates tempDir.
func (p *Packager) Prepare(ctx context.Context, client upstream.Client) error {
	title := fmt.Sprintf("Chat_%d", p.chatID)
	if chat, err := client.GetChat(ctx, p.chatID); err == nil {
		if chat.Title != "" {
			title = chat.Title
		}
	} else {
		p.log.Warn("could not resolve chat title, using fallback", zap.Error(err))
	}
	p.safeChatTitle = mediadownload.SanitizeFileName(title)
	p.timestamp = time.Now().UTC().Format("20060102_150405")
	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindZipPackaging, "create temp directory", err)
	}
	p.zipPath = filepath.Join(p.tempDir, fmt.Sprintf("%s_%s.zip", p.safeChatTitle, p.timestamp))
	return nil
}

// StartDownloadsViaWorkerPool fetches each target message and either submits
// it to the scheduler (media present) or records an immediate failure.
func (p *Packager) StartDownloadsViaWorkerPool(ctx context.Context, client upstream.Client) error {
	if p.isCancelled.Load() {
		return apperr.New(apperr.KindZipPackaging, "packager cancelled before start")
	}

	intIDs := make([]int, len(p.messageIDs))
	for i, id := range p.messageIDs {
		intIDs[i] = int(id)
	}
	messages, err := client.GetMessages(ctx, p.chatID, intIDs)
	if err != nil {
		return apperr.Wrap(apperr.KindZipPackaging, "fetch target messages", err)
	}

	found := make(map[int64]upstream.Message, len(messages))
	for _, msg := range messages {
		found[int64(msg.ID)] = msg
	}

	for _, id := range p.messageIDs {
		msg, ok := found[id]
		if !ok {
			p.OnFileFailed(id, "message not found")
			continue
		}
		if !msg.HasMedia() {
			p.OnFileFailed(id, "message has no media")
			continue
		}
		p.reg.SetOwner(p.chatID, id, p.id)
		p.node.Submit(id)
		p.sched.Put(scheduler.Item{Message: msg, Node: p.node, ChatTitle: p.safeChatTitle, HasBot: false})
	}
	return nil
}

// OnFileDownloaded implements job.ZipOwner.
func (p *Packager) OnFileDownloaded(messageID int64, path string, size int64) {
	p.reg.ClearOwner(p.chatID, messageID)
	p.mu.Lock()
	p.downloadedFiles = append(p.downloadedFiles, FileEntry{MessageID: messageID, FilePath: path, Size: size})
	done := p.isComplete()
	p.mu.Unlock()
	if done {
		p.finalize()
	}
}

// OnFileFailed implements job.ZipOwner.
func (p *Packager) OnFileFailed(messageID int64, reason string) {
	p.reg.ClearOwner(p.chatID, messageID)
	p.mu.Lock()
	p.failedDownloads = append(p.failedDownloads, fmt.Sprintf("message %d: %s", messageID, reason))
	done := p.isComplete()
	p.mu.Unlock()
	if done {
		p.finalize()
	}
}

// isComplete must be called with mu held.
func (p *Packager) isComplete() bool {
	return len(p.downloadedFiles)+len(p.failedDownloads) >= len(p.messageIDs)
}

func (p *Packager) finalize() {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.finalized = true
	p.mu.Unlock()

	if p.isCancelled.Load() {
		p.Cleanup()
		return
	}
	if err := p.CreateZipFile(); err != nil {
		p.log.Error("zip packaging failed", zap.Error(err))
	}
}

// CreateZipFile bundles every downloaded file into zipPath, deleting each
// source file as it's added, per SPEC_FULL §4.8 step 5.
func (p *Packager) CreateZipFile() error {
	p.mu.Lock()
	files := append([]FileEntry(nil), p.downloadedFiles...)
	p.mu.Unlock()

	out, err := os.Create(p.zipPath)
	if err != nil {
		return apperr.Wrap(apperr.KindZipPackaging, "create archive", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, entry := range files {
		if err := p.addEntry(zw, entry); err != nil {
			p.mu.Lock()
			p.failedDownloads = append(p.failedDownloads, fmt.Sprintf("message %d: packaging error: %v", entry.MessageID, err))
			p.mu.Unlock()
			p.log.Warn("failed to add file to archive", zap.Int64("message_id", entry.MessageID), zap.Error(err))
			continue
		}
		os.Remove(entry.FilePath)
	}
	if err := zw.Close(); err != nil {
		return apperr.Wrap(apperr.KindZipPackaging, "close archive", err)
	}

	info, err := os.Stat(p.zipPath)
	if err != nil || info.Size() == 0 {
		return apperr.New(apperr.KindZipPackaging, "archive is empty or missing")
	}
	p.zipReady.Store(true)
	return nil
}

func (p *Packager) addEntry(zw *zip.Writer, entry FileEntry) error {
	src, err := os.Open(entry.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()

	name := fmt.Sprintf("msg_%d_%s", entry.MessageID, filepath.Base(entry.FilePath))
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// ZipReady reports whether the archive is complete and servable.
func (p *Packager) ZipReady() bool { return p.zipReady.Load() }

// ZipPath returns the archive's path once ready.
func (p *Packager) ZipPath() string { return p.zipPath }

// Snapshot reports progress for status polling without side effects.
func (p *Packager) Snapshot() (downloaded, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.downloadedFiles), len(p.failedDownloads), len(p.messageIDs)
}

// Cancel prevents further submissions from taking effect and discards any
// in-flight result once drained.
func (p *Packager) Cancel() {
	p.isCancelled.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
	p.node.StopTransmission()
}

// Cleanup removes the archive and temp directory; called on cancel/error or
// once the HTTP layer has finished streaming the archive to the client.
func (p *Packager) Cleanup() {
	if p.zipPath != "" {
		os.Remove(p.zipPath)
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
	}
	p.reg.Remove(p.id)
}
