// Package job implements the in-memory TaskNode model (C4): the unit of
// work submitted by the custom-download manager, ZIP packager, or control
// surface before messages are enqueued to the scheduler.
package job

import (
	"sync"
	"sync/atomic"
)

// DownloadStatus is a single message's status within a TaskNode.
type DownloadStatus int

const (
	StatusPending DownloadStatus = iota
	StatusDownloading
	StatusSuccess
	StatusFailed
	StatusSkipped
)

// ZipOwner is the minimal view a TaskNode needs of its owning ZIP packager,
// satisfied concretely by *zippackager.Packager; kept as an interface here
// to avoid an import cycle between job and zippackager.
type ZipOwner interface {
	ManagerID() string
	OnFileDownloaded(messageID int64, path string, size int64)
	OnFileFailed(messageID int64, reason string)
}

// Node is a TaskNode: the aggregate state for one submitted job, shared by
// every worker goroutine processing its messages.
type Node struct {
	TaskID            int64
	ChatID            int64
	FromUserID        int64
	BotReplyMessageID int

	mu             sync.Mutex
	downloadStatus map[int64]DownloadStatus

	TotalTask            atomic.Int64
	FinishTask           atomic.Int64
	SuccessDownloadTask  atomic.Int64
	FailedDownloadTask   atomic.Int64
	SkipDownloadTask     atomic.Int64
	TotalDownloadByte    atomic.Int64

	isRunning          atomic.Bool
	isStopTransmission atomic.Bool

	Limit   int
	ZipOwner ZipOwner

	lastDownloadBytesMu sync.Mutex
	lastDownloadBytes   map[int64]int64
}

// NewNode constructs an empty Node for taskID/chatID; callers set
// FromUserID/BotReplyMessageID/ZipOwner/Limit as needed before submitting.
func NewNode(taskID, chatID int64) *Node {
	return &Node{
		TaskID:            taskID,
		ChatID:            chatID,
		downloadStatus:    make(map[int64]DownloadStatus),
		lastDownloadBytes: make(map[int64]int64),
	}
}

// Submit registers messageID as Downloading, incrementing TotalTask and
// marking the node running on first submission, per SPEC_FULL's "is_running
// = true after first enqueue" contract.
func (n *Node) Submit(messageID int64) {
	n.mu.Lock()
	n.downloadStatus[messageID] = StatusDownloading
	n.mu.Unlock()
	n.TotalTask.Add(1)
	n.isRunning.Store(true)
}

func (n *Node) StatusOf(messageID int64) DownloadStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.downloadStatus[messageID]
}

// Complete records messageID's outcome, advances the relevant counter, and
// clears is_running once every submitted message has finished.
func (n *Node) Complete(messageID int64, status DownloadStatus) {
	n.mu.Lock()
	n.downloadStatus[messageID] = status
	n.mu.Unlock()

	switch status {
	case StatusSuccess:
		n.SuccessDownloadTask.Add(1)
	case StatusFailed:
		n.FailedDownloadTask.Add(1)
	case StatusSkipped:
		n.SkipDownloadTask.Add(1)
	}
	finished := n.FinishTask.Add(1)
	if finished >= n.TotalTask.Load() {
		n.isRunning.Store(false)
	}
}

func (n *Node) IsRunning() bool { return n.isRunning.Load() }

// StopTransmission sets is_stop_transmission; workers observe this before
// each per-message attempt and inside progress callbacks.
func (n *Node) StopTransmission() { n.isStopTransmission.Store(true) }

func (n *Node) IsStopTransmission() bool { return n.isStopTransmission.Load() }

// AddDownloadedBytes mirrors the incremental-bytes bookkeeping C3's
// UpdateProgress performs against TotalDownloadByte: only the delta since
// the last report for this message is added.
func (n *Node) AddDownloadedBytes(messageID, downBytes int64) {
	n.lastDownloadBytesMu.Lock()
	defer n.lastDownloadBytesMu.Unlock()
	prev := n.lastDownloadBytes[messageID]
	if downBytes <= prev {
		return
	}
	delta := downBytes - prev
	n.lastDownloadBytes[messageID] = downBytes
	n.TotalDownloadByte.Add(delta)
}

// Registry is the job registry (C4) owning the monotonic task-id counter;
// held by runtime.Runtime, consumed by C9.
type Registry struct {
	counter atomic.Int64

	mu    sync.Mutex
	nodes map[int64]*Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[int64]*Node)}
}

func (r *Registry) NewNode(chatID int64) *Node {
	taskID := r.counter.Add(1)
	node := NewNode(taskID, chatID)
	r.mu.Lock()
	r.nodes[taskID] = node
	r.mu.Unlock()
	return node
}

func (r *Registry) Get(taskID int64) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[taskID]
	return n, ok
}

func (r *Registry) Remove(taskID int64) {
	r.mu.Lock()
	delete(r.nodes, taskID)
	r.mu.Unlock()
}

func (r *Registry) All() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}
