// Package mediadownload implements the core per-message download routine
// (C6): fetch the latest message, classify its media, compute a save path,
// skip/dedupe checks, and a bounded-retry DownloadMedia call.
package mediadownload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"tgdl/internal/apperr"
	"tgdl/internal/job"
	"tgdl/internal/progress"
	"tgdl/internal/upstream"
)

// Outcome mirrors the {SuccessDownload, SkipDownload, FailedDownload}
// tri-state SPEC_FULL's pseudocode returns.
type Outcome int

const (
	Failed Outcome = iota
	Success
	Skip
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skip:
		return "skip"
	default:
		return "failed"
	}
}

// Config bundles the knobs the routine needs from the application config,
// kept narrow so this package doesn't import the config package directly.
type Config struct {
	SavePath     string
	BotSavePath  string
	TempSavePath string
	PathPrefixOrder []string
	MediaTypes   []string            // declared order, e.g. {"document","video","audio",...}
	FileFormats  map[string][]string // media type -> allowed extensions ("all" wildcard)
	RetryTimeout time.Duration
	EnableDownloadTxt bool
}

// Request is everything one call to Download needs about the target.
type Request struct {
	Client    upstream.Client
	Message   upstream.Message
	ChatTitle string
	Node      *job.Node
	Progress  *progress.Tracker
	HasBot    bool // whether this job has a bot attached (picks bot_save_path)
	IsZipJob  bool
	IsCustomDownload bool
	TempDirOverride string // when IsZipJob and a name collision occurred
}

// Download implements the 5-step routine from SPEC_FULL §4.6.
func Download(ctx context.Context, log *zap.Logger, cfg Config, req Request) (Outcome, string, error) {
	// 1. refresh file references
	msg, err := req.Client.FetchMessage(ctx, req.Message)
	if err != nil {
		return Failed, "", apperr.Wrap(apperr.KindStaleReference, "fetch message", err)
	}

	if !msg.HasMedia() {
		if (cfg.EnableDownloadTxt || req.IsCustomDownload) && msg.Text != "" {
			return downloadTextOnly(cfg, msg)
		}
		return Skip, "", nil
	}

	mediaType := string(msg.MediaType)
	allowed := false
	for _, t := range cfg.MediaTypes {
		if t == mediaType {
			allowed = true
			break
		}
	}
	if !allowed {
		return Skip, "", nil
	}

	format := FileFormat(msg)
	if formats, ok := cfg.FileFormats[mediaType]; ok && len(formats) > 0 && formats[0] != "all" {
		if !containsFold(formats, format) {
			return Skip, "", nil
		}
	}

	base := cfg.SavePath
	if req.HasBot {
		base = cfg.BotSavePath
	}
	saveDir := SaveDir(base, cfg.PathPrefixOrder, req.ChatTitle, msg)
	fileName := BuildFileName(msg)
	finalPath := filepath.Join(saveDir, fileName)

	if _, err := os.Stat(finalPath); err == nil {
		if !req.IsZipJob {
			log.Info("file already downloaded, skipping", zap.String("path", finalPath))
			return Skip, "", nil
		}
		// 2b. redirect to a fresh directory so the original isn't overwritten.
		saveDir = filepath.Join(saveDir, fmt.Sprintf("dup_%d", msg.ID))
		finalPath = filepath.Join(saveDir, fileName)
	}

	tempDir := cfg.TempSavePath
	if req.TempDirOverride != "" {
		tempDir = req.TempDirOverride
	}
	tempPath := filepath.Join(tempDir, fileName)

	return attemptDownload(ctx, log, cfg, req, msg, tempPath, finalPath, saveDir)
}

func attemptDownload(ctx context.Context, log *zap.Logger, cfg Config, req Request, msg upstream.Message, tempPath, finalPath, saveDir string) (Outcome, string, error) {
	start := time.Now()
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		if req.Node.IsStopTransmission() {
			return Failed, "", apperr.New(apperr.KindTransient, "transmission stopped")
		}

		progressFn := func(down, total int64) {
			req.Progress.UpdateProgress(msg.ChatID, int64(msg.ID), down, total, msg.FileName, start, req.Node, req.Client)
		}

		downloaded, err := req.Client.DownloadMedia(ctx, msg, tempPath, progressFn)
		if err == nil {
			info, statErr := os.Stat(downloaded)
			if statErr != nil {
				return Failed, "", apperr.Wrap(apperr.KindTransient, "stat downloaded file", statErr)
			}
			if msg.FileSize > 0 && info.Size() != msg.FileSize {
				os.Remove(downloaded)
				if attempt < maxRetries-1 {
					log.Warn("downloaded size does not match reported size, retrying", zap.Int("message_id", msg.ID))
					time.Sleep(cfg.RetryTimeout)
					continue
				}
				return Failed, "", apperr.New(apperr.KindDownloadMismatch, "downloaded size does not match reported size")
			}
			if err := os.MkdirAll(saveDir, 0o755); err != nil {
				return Failed, "", apperr.Wrap(apperr.KindTransient, "create save directory", err)
			}
			if err := os.Rename(downloaded, finalPath); err != nil {
				return Failed, "", apperr.Wrap(apperr.KindTransient, "move temp file to final path", err)
			}
			return Success, finalPath, nil
		}

		// FloodWait is primarily absorbed by the broker's flood-wait
		// middleware (see internal/upstream/middleware.go); this is a
		// defensive second layer in case an error surfaces anyway.
		if wait, ok := floodWaitSeconds(err); ok {
			log.Warn("flood wait on download, sleeping", zap.Duration("wait", wait), zap.Int("message_id", msg.ID))
			time.Sleep(wait)
			continue
		}

		if isStaleReferenceError(err) {
			if attempt == maxRetries-1 {
				return Failed, "", apperr.Wrap(apperr.KindStaleReference, "stale file reference exhausted retries", err)
			}
			time.Sleep(cfg.RetryTimeout)
			refreshed, fetchErr := req.Client.FetchMessage(ctx, msg)
			if fetchErr == nil {
				msg = refreshed
			}
			continue
		}

		if isTimeoutError(err) {
			if attempt == maxRetries-1 {
				return Failed, "", apperr.Wrap(apperr.KindTransient, "upstream timeout exhausted retries", err)
			}
			time.Sleep(cfg.RetryTimeout)
			continue
		}

		log.Error("download failed", zap.Error(err), zap.Int("message_id", msg.ID))
		return Failed, "", apperr.Wrap(apperr.KindTransient, "download media", err)
	}
	return Failed, "", apperr.New(apperr.KindTransient, "exhausted retries")
}

func downloadTextOnly(cfg Config, msg upstream.Message) (Outcome, string, error) {
	path := filepath.Join(cfg.SavePath, fmt.Sprintf("%d.txt", msg.ID))
	if _, err := os.Stat(path); err == nil {
		return Skip, "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Failed, "", apperr.Wrap(apperr.KindTransient, "create save directory", err)
	}
	if err := os.WriteFile(path, []byte(msg.Text), 0o644); err != nil {
		return Failed, "", apperr.Wrap(apperr.KindTransient, "write text-only file", err)
	}
	return Success, path, nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// floodWaitSeconds detects a FLOOD_WAIT_<n> RPC error by name, the same
// textual convention gotd/td's own FloodWait type formats its Error() as.
func floodWaitSeconds(err error) (time.Duration, bool) {
	msg := strings.ToUpper(err.Error())
	idx := strings.Index(msg, "FLOOD_WAIT_")
	if idx < 0 {
		return 0, false
	}
	rest := msg[idx+len("FLOOD_WAIT_"):]
	var n int
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func isStaleReferenceError(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "FILE_REFERENCE") ||
		strings.Contains(strings.ToUpper(err.Error()), "BAD_REQUEST")
}

func isTimeoutError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout") ||
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}
