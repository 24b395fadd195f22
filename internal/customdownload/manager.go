// Package customdownload implements the custom-download manager (C7): the
// curated "download these exact message ids" path, as distinct from C5's
// chat-backlog walk. download_history rows remain authoritative; a YAML
// side file mirrors the downloaded/failed id sets for fast restarts, the
// same role the original's custom_download_history.yaml played when the
// database itself didn't exist yet.
package customdownload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tgdl/internal/job"
	"tgdl/internal/progress"
	"tgdl/internal/scheduler"
	"tgdl/internal/storage"
	"tgdl/internal/upstream"
)

const (
	placeholderSize  = 50 * 1024 * 1024
	rampCap          = 0.9
	rampWindow       = 30 * time.Second
	pollInterval     = 2 * time.Second
	maxWait          = 300 * time.Second
	batchSize        = 100
)

// historyFile is the on-disk shape of custom_download_history.yaml.
type historyFile struct {
	DownloadedIDs map[string][]int64 `yaml:"downloaded_ids"`
	FailedIDs     map[string][]int64 `yaml:"failed_ids"`
}

// Submission tracks one message submitted into a job node so the finalizer
// can poll it and later fold its outcome back into history.
type Submission struct {
	chatID    int64
	chatKey   string
	messageID int
	notFound  bool
}

// Manager is the C7 custom-download manager.
type Manager struct {
	log         *zap.Logger
	historyPath string
	savePath    string
	botSavePath string

	history    *storage.DownloadHistoryRepository
	customRepo *storage.CustomDownloadRepository

	registry  *job.Registry
	tracker   *progress.Tracker
	scheduler *scheduler.Scheduler

	mu            sync.Mutex
	downloadedIDs map[string][]int64
	failedIDs     map[string][]int64
}

func New(log *zap.Logger, historyPath, savePath, botSavePath string, history *storage.DownloadHistoryRepository, customRepo *storage.CustomDownloadRepository, registry *job.Registry, tracker *progress.Tracker, sched *scheduler.Scheduler) *Manager {
	m := &Manager{
		log:           log.Named("CustomDownload"),
		historyPath:   historyPath,
		savePath:      savePath,
		botSavePath:   botSavePath,
		history:       history,
		customRepo:    customRepo,
		registry:      registry,
		tracker:       tracker,
		scheduler:     sched,
		downloadedIDs: make(map[string][]int64),
		failedIDs:     make(map[string][]int64),
	}
	m.loadHistory()
	return m
}

func (m *Manager) loadHistory() {
	data, err := os.ReadFile(m.historyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("error loading history file", zap.Error(err))
		}
		return
	}
	var hf historyFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		m.log.Error("error loading history file", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if hf.DownloadedIDs != nil {
		m.downloadedIDs = hf.DownloadedIDs
	}
	if hf.FailedIDs != nil {
		m.failedIDs = hf.FailedIDs
	}
}

func (m *Manager) saveHistory() {
	m.mu.Lock()
	hf := historyFile{DownloadedIDs: m.downloadedIDs, FailedIDs: m.failedIDs}
	m.mu.Unlock()

	out, err := yaml.Marshal(hf)
	if err != nil {
		m.log.Error("error saving history file", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.historyPath, out, 0o644); err != nil {
		m.log.Error("error saving history file", zap.Error(err))
	}
}

func (m *Manager) markDownloaded(chatKey string, messageID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !contains(m.downloadedIDs[chatKey], messageID) {
		m.downloadedIDs[chatKey] = append(m.downloadedIDs[chatKey], messageID)
	}
	m.failedIDs[chatKey] = remove(m.failedIDs[chatKey], messageID)
}

func (m *Manager) markFailed(chatKey string, messageID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !contains(m.failedIDs[chatKey], messageID) {
		m.failedIDs[chatKey] = append(m.failedIDs[chatKey], messageID)
	}
}

// ClearFailedForRerun drops chatKey's failed ids for the given messageIDs,
// letting a re-run retry them, while leaving downloaded ids untouched so
// existing files are never re-fetched.
func (m *Manager) ClearFailedForRerun(targets map[int64][]int64) {
	m.mu.Lock()
	for chatID, ids := range targets {
		key := strconv.FormatInt(chatID, 10)
		for _, id := range ids {
			m.failedIDs[key] = remove(m.failedIDs[key], id)
		}
	}
	m.mu.Unlock()
	m.saveHistory()
}

// IsDownloaded reports whether messageID in chatID has both a successful
// history record and a matching file still on disk, self-repairing the
// history when the file has gone missing.
func (m *Manager) IsDownloaded(chatID int64, chatTitle string, messageID int64) bool {
	chatKey := strconv.FormatInt(chatID, 10)
	rec, err := m.history.GetByChatAndMessage(chatKey, messageID)
	if err != nil || rec == nil || rec.DownloadStatus != storage.DownloadStatusSuccess {
		return false
	}
	if m.scanForFile(chatTitle, messageID) {
		return true
	}
	m.log.Info("removed missing file from history", zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID))
	_ = m.history.MarkStatus(chatKey, messageID, storage.DownloadStatusPending, "file missing on disk")
	m.mu.Lock()
	m.downloadedIDs[chatKey] = remove(m.downloadedIDs[chatKey], messageID)
	m.mu.Unlock()
	m.saveHistory()
	return false
}

// scanForFile walks both the regular and bot save roots for chatTitle
// looking for a file named "{id} - ..." or "{id}.." anywhere under it.
func (m *Manager) scanForFile(chatTitle string, messageID int64) bool {
	prefixA := fmt.Sprintf("%d - ", messageID)
	prefixB := fmt.Sprintf("%d..", messageID)
	for _, base := range []string{m.savePath, m.botSavePath} {
		if base == "" {
			continue
		}
		root := filepath.Join(base, chatTitle)
		found := false
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || found {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, prefixA) || strings.HasPrefix(name, prefixB) {
				found = true
			}
			return nil
		})
		if found {
			return true
		}
	}
	return false
}

// DownloadCustomMessages verifies access to each chat, fetches the targeted
// messages in batches, and submits each returned message to node via the
// scheduler. chatTitles is used for save-path computation downstream.
func (m *Manager) DownloadCustomMessages(ctx context.Context, client upstream.Client, node *job.Node, targets map[int64][]int64, chatTitles map[int64]string) []Submission {
	var submissions []Submission

	for chatID, ids := range targets {
		chatKey := strconv.FormatInt(chatID, 10)
		if len(ids) == 0 {
			continue
		}

		if _, err := client.GetChat(ctx, chatID); err != nil {
			m.log.Error("cannot access chat for custom download", zap.Int64("chat_id", chatID), zap.Error(err))
			for _, id := range ids {
				m.markFailed(chatKey, id)
			}
			continue
		}

		chatTitle := chatTitles[chatID]

		for i := 0; i < len(ids); i += batchSize {
			end := i + batchSize
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[i:end]
			intIDs := make([]int, len(batch))
			for j, id := range batch {
				intIDs[j] = int(id)
			}

			messages, err := client.GetMessages(ctx, chatID, intIDs)
			if err != nil {
				m.log.Error("error fetching custom download batch", zap.Int64("chat_id", chatID), zap.Error(err))
				for _, id := range batch {
					m.markFailed(chatKey, id)
				}
				continue
			}

			seen := make(map[int64]bool, len(messages))
			for _, msg := range messages {
				seen[int64(msg.ID)] = true
				submissions = append(submissions, m.submit(node, msg, chatID, chatKey, chatTitle))
			}
			for _, id := range batch {
				if !seen[id] {
					m.log.Warn("message not found, marking as not found", zap.Int64("chat_id", chatID), zap.Int64("message_id", id))
					m.markFailed(chatKey, id)
					submissions = append(submissions, Submission{chatID: chatID, chatKey: chatKey, messageID: int(id), notFound: true})
				}
			}
		}
	}

	m.saveHistory()
	return submissions
}

func (m *Manager) submit(node *job.Node, msg upstream.Message, chatID int64, chatKey, chatTitle string) Submission {
	node.Submit(int64(msg.ID))
	fileName := msg.FileName
	if fileName == "" {
		fileName = fmt.Sprintf("message_%d", msg.ID)
	}
	m.tracker.SeedPlaceholder(chatID, int64(msg.ID), fileName, placeholderSize, node.TaskID)
	m.scheduler.Put(scheduler.Item{Message: msg, Node: node, ChatTitle: chatTitle, HasBot: false, IsCustomDownload: true})
	return Submission{chatID: chatID, chatKey: chatKey, messageID: msg.ID}
}

// UpdateDownloadStatus is the finalizer: it polls node's per-message status
// until every submission is terminal (or maxWait elapses), ramping each
// still-downloading placeholder's simulated progress, then folds outcomes
// into history/the YAML mirror and prunes resolved ids from the persistent
// target list.
func (m *Manager) UpdateDownloadStatus(ctx context.Context, node *job.Node, submissions []Submission) {
	waited := time.Duration(0)
	for waited < maxWait {
		allDone := true
		for _, s := range submissions {
			if s.notFound {
				continue
			}
			status := node.StatusOf(int64(s.messageID))
			if status == job.StatusDownloading || status == job.StatusPending {
				allDone = false
				m.tracker.RampPlaceholder(s.chatID, int64(s.messageID), rampCap, rampWindow)
			}
		}
		if allDone {
			break
		}
		select {
		case <-ctx.Done():
			allDone = true
		case <-time.After(pollInterval):
		}
		waited += pollInterval
		if allDone {
			break
		}
	}

	resolvedByChat := make(map[string][]int64)
	for _, s := range submissions {
		if s.notFound {
			resolvedByChat[s.chatKey] = append(resolvedByChat[s.chatKey], int64(s.messageID))
			continue
		}
		status := node.StatusOf(int64(s.messageID))
		switch status {
		case job.StatusSuccess, job.StatusSkipped:
			m.markDownloaded(s.chatKey, int64(s.messageID))
			m.tracker.MarkPlaceholderDone(s.chatID, int64(s.messageID))
			resolvedByChat[s.chatKey] = append(resolvedByChat[s.chatKey], int64(s.messageID))
		default:
			m.markFailed(s.chatKey, int64(s.messageID))
			m.tracker.MarkPlaceholderDone(s.chatID, int64(s.messageID))
		}
	}

	m.saveHistory()
	for chatKey, ids := range resolvedByChat {
		if err := m.customRepo.RemoveIDs(chatKey, ids); err != nil {
			m.log.Warn("error pruning resolved custom-download ids", zap.String("chat_id", chatKey), zap.Error(err))
		}
	}

	m.log.Info("custom download finished", zap.Int64("task_id", node.TaskID), zap.Int("submitted", len(submissions)))
}

// RunForSelected drives the whole pipeline for a caller-supplied subset of
// targets instead of the full persisted backlog.
func (m *Manager) RunForSelected(ctx context.Context, client upstream.Client, node *job.Node, selected map[int64][]int64, chatTitles map[int64]string) {
	m.ClearFailedForRerun(selected)
	submissions := m.DownloadCustomMessages(ctx, client, node, selected, chatTitles)
	m.UpdateDownloadStatus(ctx, node, submissions)
}

func contains(list []int64, v int64) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []int64, v int64) []int64 {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
