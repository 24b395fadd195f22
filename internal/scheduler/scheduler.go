// Package scheduler implements the download scheduler & worker pool (C5): a
// FIFO queue of (message, node) pairs drained by a fixed pool of worker
// goroutines, rate-limited against the upstream exactly like the teacher
// bounds its own concurrent worker startup.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tgdl/internal/job"
	"tgdl/internal/mediadownload"
	"tgdl/internal/progress"
	"tgdl/internal/upstream"
)

// Item is one unit of scheduled work.
type Item struct {
	Message          upstream.Message
	Node             *job.Node
	ChatTitle        string
	HasBot           bool
	IsCustomDownload bool
}

// HistoryRecorder persists a terminal outcome for one message; implemented
// concretely by a thin adapter over storage.DownloadHistoryRepository so
// this package doesn't need to import storage directly.
type HistoryRecorder interface {
	RecordOutcome(chatID, messageID int64, outcome mediadownload.Outcome, path string, size int64, errMsg string)
}

const queueCapacity = 4096

// Scheduler owns the worker pool and the shared rate limiter every worker's
// client call is bounded by.
type Scheduler struct {
	log      *zap.Logger
	cfg      mediadownload.Config
	progress *progress.Tracker
	history  HistoryRecorder
	clientFor func(node *job.Node) (upstream.Client, error)
	isRunning func() bool

	queue    chan Item
	overflow struct {
		mu    sync.Mutex
		items []Item
	}

	limiter *rate.Limiter

	workerCount int
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// New constructs a Scheduler with workerCount workers sharing one rate
// limiter that admits workerCount*5 item dispatches per second (burst
// workerCount*5); it bounds the dispatch rate, not the number of concurrent
// transmissions.
func New(log *zap.Logger, workerCount int, cfg mediadownload.Config, progressTracker *progress.Tracker, history HistoryRecorder, clientFor func(*job.Node) (upstream.Client, error), isRunning func() bool) *Scheduler {
	if workerCount <= 0 {
		workerCount = 5
	}
	return &Scheduler{
		log:         log.Named("Scheduler"),
		cfg:         cfg,
		progress:    progressTracker,
		history:     history,
		clientFor:   clientFor,
		isRunning:   isRunning,
		queue:       make(chan Item, queueCapacity),
		limiter:     rate.NewLimiter(rate.Limit(workerCount*5), workerCount*5),
		workerCount: workerCount,
	}
}

// Put enqueues an item, spilling to an overflow slice if the buffered
// channel is momentarily full rather than blocking the submitter.
func (s *Scheduler) Put(item Item) {
	select {
	case s.queue <- item:
	default:
		s.overflow.mu.Lock()
		s.overflow.items = append(s.overflow.items, item)
		s.overflow.mu.Unlock()
	}
}

func (s *Scheduler) drainOverflow() {
	s.overflow.mu.Lock()
	defer s.overflow.mu.Unlock()
	for len(s.overflow.items) > 0 {
		select {
		case s.queue <- s.overflow.items[0]:
			s.overflow.items = s.overflow.items[1:]
		default:
			return
		}
	}
}

func (s *Scheduler) take(ctx context.Context) (Item, bool) {
	s.drainOverflow()
	select {
	case item := <-s.queue:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	case <-time.After(200 * time.Millisecond):
		return Item{}, false
	}
}

// Start launches the worker pool; it runs until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.With(zap.Int("worker", id))

	for s.isRunning() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := s.take(ctx)
		if !ok {
			continue
		}

		s.process(ctx, log, item)
	}
}

func (s *Scheduler) process(ctx context.Context, log *zap.Logger, item Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic in worker item processing", zap.Any("panic", r))
			item.Node.Complete(int64(item.Message.ID), job.StatusFailed)
		}
	}()

	if s.progress.RunState() == progress.Cancelled {
		item.Node.StopTransmission()
		item.Node.Complete(int64(item.Message.ID), job.StatusSkipped)
		return
	}
	if item.Node.IsStopTransmission() {
		item.Node.Complete(int64(item.Message.ID), job.StatusSkipped)
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		item.Node.Complete(int64(item.Message.ID), job.StatusFailed)
		return
	}

	client, err := s.clientFor(item.Node)
	if err != nil {
		log.Error("no client available for node", zap.Error(err))
		item.Node.Complete(int64(item.Message.ID), job.StatusFailed)
		if item.Node.ZipOwner != nil {
			item.Node.ZipOwner.OnFileFailed(int64(item.Message.ID), err.Error())
		}
		return
	}

	req := mediadownload.Request{
		Client:           client,
		Message:          item.Message,
		ChatTitle:        item.ChatTitle,
		Node:             item.Node,
		Progress:         s.progress,
		HasBot:           item.HasBot,
		IsZipJob:         item.Node.ZipOwner != nil,
		IsCustomDownload: item.IsCustomDownload,
	}

	outcome, path, dlErr := mediadownload.Download(ctx, log, s.cfg, req)

	switch outcome {
	case mediadownload.Success, mediadownload.Skip:
		status := job.StatusSuccess
		if outcome == mediadownload.Skip {
			status = job.StatusSkipped
		}
		item.Node.Complete(int64(item.Message.ID), status)
		if item.Node.ZipOwner != nil && path != "" {
			var size int64
			if info, statErr := statSize(path); statErr == nil {
				size = info
			}
			item.Node.ZipOwner.OnFileDownloaded(int64(item.Message.ID), path, size)
		}
		if s.history != nil {
			errMsg := ""
			if dlErr != nil {
				errMsg = dlErr.Error()
			}
			s.history.RecordOutcome(item.Node.ChatID, int64(item.Message.ID), outcome, path, item.Message.FileSize, errMsg)
		}
	default:
		item.Node.Complete(int64(item.Message.ID), job.StatusFailed)
		if item.Node.ZipOwner != nil {
			reason := "failed"
			if dlErr != nil {
				reason = dlErr.Error()
			}
			item.Node.ZipOwner.OnFileFailed(int64(item.Message.ID), reason)
		}
		if s.history != nil {
			errMsg := ""
			if dlErr != nil {
				errMsg = dlErr.Error()
			}
			s.history.RecordOutcome(item.Node.ChatID, int64(item.Message.ID), outcome, "", 0, errMsg)
		}
		if dlErr != nil {
			log.Warn("message download failed", zap.Int("message_id", item.Message.ID), zap.Error(dlErr))
		}
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
