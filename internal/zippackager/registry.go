package zippackager

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type ownerKey struct {
	chatID    int64
	messageID int64
}

// Registry tracks every active ZIP job plus the (chat_id, message_id) →
// manager_id overtake map C3's progress tracker consults before letting a
// stale job keep streaming a message a newer job has since claimed.
type Registry struct {
	log *zap.Logger

	mu        sync.Mutex
	owners    map[ownerKey]string
	packagers map[string]*Packager
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:       log.Named("ZipRegistry"),
		owners:    make(map[ownerKey]string),
		packagers: make(map[string]*Packager),
	}
}

func (r *Registry) Register(p *Packager) {
	r.mu.Lock()
	r.packagers[p.id] = p
	r.mu.Unlock()
}

func (r *Registry) Remove(managerID string) {
	r.mu.Lock()
	delete(r.packagers, managerID)
	r.mu.Unlock()
}

func (r *Registry) Get(managerID string) (*Packager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packagers[managerID]
	return p, ok
}

// All returns every currently-registered packager, used by the control
// surface's "cancel" transition to tear down every active ZIP job.
func (r *Registry) All() []*Packager {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Packager, 0, len(r.packagers))
	for _, p := range r.packagers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) SetOwner(chatID, messageID int64, managerID string) {
	r.mu.Lock()
	r.owners[ownerKey{chatID, messageID}] = managerID
	r.mu.Unlock()
}

func (r *Registry) ClearOwner(chatID, messageID int64) {
	r.mu.Lock()
	delete(r.owners, ownerKey{chatID, messageID})
	r.mu.Unlock()
}

// Lookup satisfies progress.ZipOwnerLookup.
func (r *Registry) Lookup(chatID, messageID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owners[ownerKey{chatID, messageID}]
	return id, ok
}

// SweepOrphanTempDirs removes tgdl_zip_* directories under root that belong
// to no currently-registered packager, run on session reset to clean up
// after a crash that skipped Cleanup.
func (r *Registry) SweepOrphanTempDirs(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	active := make(map[string]bool, len(r.packagers))
	for _, p := range r.packagers {
		active[filepath.Base(p.tempDir)] = true
	}
	r.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "tgdl_zip_") {
			continue
		}
		if active[entry.Name()] {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.log.Warn("failed to sweep orphan zip temp dir", zap.String("path", path), zap.Error(err))
			continue
		}
		r.log.Info("swept orphan zip temp dir", zap.String("path", path))
	}
	return nil
}
