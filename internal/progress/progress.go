// Package progress implements the process-wide progress & stats tracker
// (C3): one FileProgress per in-flight (chat_id, message_id), a rolling
// total-download-speed window, and the run-state machine every other
// component consults before starting or continuing work.
package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"tgdl/internal/job"
)

// RunState is the global download state machine SPEC_FULL §4.3 names.
type RunState int

const (
	Idle RunState = iota
	Downloading
	StopDownload
	Cancelled
	Completed
)

func (s RunState) String() string {
	switch s {
	case Downloading:
		return "downloading"
	case StopDownload:
		return "stop_download"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	default:
		return "idle"
	}
}

// FileProgress is the in-memory per-file tracking record.
type FileProgress struct {
	FileName                string
	TotalSize               int64
	DownByte                int64
	StartTime               time.Time
	EndTime                 time.Time
	DownloadSpeed           float64
	EachSecondTotalDownload int64
	TaskID                  int64
	Completed               bool
	lastDownByte            int64
}

// Notifier receives per-file progress updates; the runtime's bot notifier
// implements this to edit the active run's bot reply message.
type Notifier interface {
	OnProgress(fileName string, downByte, total int64, speed float64, messageID int64)
}

// ZipOwnerLookup resolves which ZIP manager currently owns (chatID,
// messageID), so UpdateProgress can detect a download being "overtaken".
type ZipOwnerLookup func(chatID, messageID int64) (managerID string, owned bool)

type key struct {
	chatID    int64
	messageID int64
}

// Tracker is the C3 process-wide structure.
type Tracker struct {
	pauseTimeout time.Duration

	mu       sync.Mutex
	files    map[key]*FileProgress
	runState RunState

	totalDownloadSpeed float64
	lastWindowBytes    int64
	lastWindowT        time.Time

	zipOwner ZipOwnerLookup
	notifier Notifier
}

func NewTracker(pauseTimeout time.Duration) *Tracker {
	return &Tracker{
		pauseTimeout: pauseTimeout,
		files:        make(map[key]*FileProgress),
		lastWindowT:  time.Now(),
	}
}

func (t *Tracker) SetNotifier(n Notifier)             { t.notifier = n }
func (t *Tracker) SetZipOwnerLookup(f ZipOwnerLookup)  { t.zipOwner = f }

// SeedPlaceholder inserts a synthetic FileProgress for a just-submitted
// message so the status endpoint can show a "pending" entry before the first
// real progress callback arrives, per C7's UpdateDownloadStatus contract.
func (t *Tracker) SeedPlaceholder(chatID, messageID int64, fileName string, placeholderTotal, taskID int64) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{chatID: chatID, messageID: messageID}
	if _, exists := t.files[k]; exists {
		return
	}
	t.files[k] = &FileProgress{
		FileName:  fileName,
		TotalSize: placeholderTotal,
		StartTime: now,
		EndTime:   now,
		TaskID:    taskID,
	}
}

// RampPlaceholder advances a placeholder entry's DownByte toward a capped
// fraction of its placeholder total, based on elapsed time since StartTime,
// until real progress callbacks overwrite it. capFrac is e.g. 0.9 and
// rampWindow the elapsed-time horizon (e.g. 30s) over which it ramps.
func (t *Tracker) RampPlaceholder(chatID, messageID int64, capFrac float64, rampWindow time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fp, ok := t.files[key{chatID: chatID, messageID: messageID}]
	if !ok || fp.Completed {
		return
	}
	elapsed := time.Since(fp.StartTime)
	frac := capFrac
	if rampWindow > 0 {
		frac = capFrac * float64(elapsed) / float64(rampWindow)
		if frac > capFrac {
			frac = capFrac
		}
	}
	simulated := int64(float64(fp.TotalSize) * frac)
	if simulated > fp.DownByte {
		fp.DownByte = simulated
	}
}

// MarkPlaceholderDone forces a placeholder entry to 100% and schedules its
// delayed removal, used when the real download finished without ever
// reporting a DownByte == TotalSize callback (e.g. it was a Skip).
func (t *Tracker) MarkPlaceholderDone(chatID, messageID int64) {
	t.mu.Lock()
	k := key{chatID: chatID, messageID: messageID}
	fp, ok := t.files[k]
	if ok {
		fp.DownByte = fp.TotalSize
		fp.EndTime = time.Now()
		fp.Completed = true
	}
	t.mu.Unlock()
	if ok {
		go func() {
			time.Sleep(2 * time.Second)
			t.mu.Lock()
			delete(t.files, k)
			t.mu.Unlock()
		}()
	}
}

func (t *Tracker) RunState() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runState
}

func (t *Tracker) SetRunState(s RunState) {
	t.mu.Lock()
	t.runState = s
	t.mu.Unlock()
}

// UpdateProgress implements the nine-step contract from SPEC_FULL §4.3.
// client is whatever upstream.Client-like value StopTransmission should be
// called on; it is typed as an interface here to avoid an upstream import.
func (t *Tracker) UpdateProgress(chatID, messageID int64, downByte, total int64, fileName string, startTime time.Time, node *job.Node, client interface{ StopTransmission() }) {
	// 1. already told to stop
	if node.IsStopTransmission() {
		client.StopTransmission()
		return
	}

	// 2. overtaken by a newer ZIP manager
	if node.ZipOwner != nil && t.zipOwner != nil {
		if current, owned := t.zipOwner(chatID, messageID); owned && current != node.ZipOwner.ManagerID() {
			node.StopTransmission()
			client.StopTransmission()
			return
		}
	}

	// 3. cancelled
	if t.RunState() == Cancelled {
		node.StopTransmission()
		return
	}

	// 4. paused, with a timeout to avoid indefinite hangs: once it elapses
	// the update carries on as if the run had been resumed
	pausedSince := time.Now()
	for t.RunState() == StopDownload {
		if time.Since(pausedSince) >= t.pauseTimeout {
			break
		}
		time.Sleep(1 * time.Second)
		if t.RunState() == Cancelled {
			node.StopTransmission()
			return
		}
	}

	now := time.Now()
	k := key{chatID: chatID, messageID: messageID}

	t.mu.Lock()
	fp, exists := t.files[k]
	if exists {
		delta := downByte - fp.lastDownByte
		if delta > 0 {
			fp.EachSecondTotalDownload += delta
		}
		fp.lastDownByte = downByte
		fp.DownByte = downByte
		if elapsed := now.Sub(fp.EndTime); elapsed >= time.Second {
			fp.DownloadSpeed = float64(fp.EachSecondTotalDownload) / elapsed.Seconds()
			fp.EachSecondTotalDownload = 0
			fp.EndTime = now
		}
	} else {
		elapsed := now.Sub(startTime).Seconds()
		speed := float64(0)
		if elapsed > 0 {
			speed = float64(downByte) / elapsed
		}
		fp = &FileProgress{
			FileName:      fileName,
			TotalSize:     total,
			DownByte:      downByte,
			StartTime:     startTime,
			EndTime:       now,
			DownloadSpeed: speed,
			TaskID:        node.TaskID,
			lastDownByte:  downByte,
		}
		t.files[k] = fp
	}

	// 6. recompute total speed on a 1s cadence
	if now.Sub(t.lastWindowT) >= time.Second {
		var sum float64
		for _, f := range t.files {
			sum += f.DownloadSpeed
		}
		t.totalDownloadSpeed = sum
		t.lastWindowT = now
	}
	completed := downByte == total && total > 0
	t.mu.Unlock()

	// 7. mirror into node's cumulative byte counter
	node.AddDownloadedBytes(messageID, downByte)

	// 8. notify UI adapter
	if t.notifier != nil {
		t.notifier.OnProgress(fileName, downByte, total, fp.DownloadSpeed, messageID)
	}

	// 9. schedule short-delayed cleanup on completion
	if completed {
		go func() {
			time.Sleep(2 * time.Second)
			t.mu.Lock()
			delete(t.files, k)
			t.mu.Unlock()
		}()
	}
}

// Snapshot is a humanize-formatted view suitable for the HTTP status
// endpoint, per SPEC_FULL §6.
type Snapshot struct {
	Active          int
	TotalTask       int64
	CompletedTask   int64
	DownloadedSize  string
	TotalSize       string
	DownloadSpeed   string
	RemainingFiles  int
	CurrentFiles    []string
	ETASeconds      int64
}

func (t *Tracker) Snapshot(node *job.Node) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var downloaded, totalSize int64
	var current []string
	for _, f := range t.files {
		downloaded += f.DownByte
		totalSize += f.TotalSize
		current = append(current, f.FileName)
	}

	var eta int64
	if t.totalDownloadSpeed > 0 && totalSize > downloaded {
		eta = int64(float64(totalSize-downloaded) / t.totalDownloadSpeed)
	}

	snap := Snapshot{
		Active:         len(t.files),
		DownloadedSize: humanize.Bytes(uint64(downloaded)),
		TotalSize:      humanize.Bytes(uint64(totalSize)),
		DownloadSpeed:  humanize.SIWithDigits(t.totalDownloadSpeed, 2, "B/s"),
		CurrentFiles:   current,
		ETASeconds:     eta,
	}
	if node != nil {
		snap.TotalTask = node.TotalTask.Load()
		snap.CompletedTask = node.FinishTask.Load()
		snap.RemainingFiles = int(snap.TotalTask - snap.CompletedTask)
	}
	return snap
}
