package cache

import (
	"sync"

	"github.com/eliaskho/MusicVault-Go/bot"
)

// PermanentSet tracks cache-root-relative filenames exempt from the
// age-based sweep. Entries are marked before any I/O on a fresh write, so a
// file can never be collected before its own registration finishes.
type PermanentSet struct {
	mu    sync.RWMutex
	files map[string]struct{}
}

func NewPermanentSet() *PermanentSet {
	return &PermanentSet{files: make(map[string]struct{})}
}

// Mark exempts a relative filename (e.g. "youtube/abc123.opus").
func (p *PermanentSet) Mark(relPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[relPath] = struct{}{}
}

func (p *PermanentSet) Unmark(relPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, relPath)
}

func (p *PermanentSet) Has(relPath string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.files[relPath]
	return ok
}

func (p *PermanentSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.files)
}

// Seed marks every record that has a remote mirror. Called at startup so
// locally resident copies of promoted files survive sweeps until the
// demotion path retires them.
func (p *PermanentSet) Seed(records []*bot.CacheRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, record := range records {
		if record == nil || record.Identifier == "" || record.FileExt == "" {
			continue
		}
		p.files[relFileName(record.Service, record.Identifier, record.FileExt)] = struct{}{}
	}
}
