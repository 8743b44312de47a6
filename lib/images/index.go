package images

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// index is the local metadata index: a single flat JSON object keyed by
// image name, loaded fully into memory at startup and rewritten
// wholesale on every mutation. All mutations go through a single-writer
// mutex so concurrent operations cannot interleave load-modify-persist
// cycles on the backing file.
type index struct {
	path string

	mu      sync.Mutex
	entries map[string]*ImageMetadata
}

// loadIndex reads the index file. A missing file is an empty index.
func loadIndex(path string) (*index, error) {
	ix := &index{
		path:    path,
		entries: map[string]*ImageMetadata{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, fmt.Errorf("read metadata index: %w", err)
	}

	if err := json.Unmarshal(data, &ix.entries); err != nil {
		return nil, fmt.Errorf("parse metadata index: %w", err)
	}
	return ix, nil
}

// persist rewrites the whole index atomically (tmp + rename). The
// caller must hold ix.mu.
func (ix *index) persist() error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	data, err := json.MarshalIndent(ix.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata index: %w", err)
	}

	tempPath := ix.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tempPath, ix.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

// get returns a copy of the entry for name, if present.
func (ix *index) get(name string) (*ImageMetadata, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.entries[name]
	if !ok {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// put inserts or replaces an entry and persists.
func (ix *index) put(meta *ImageMetadata) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	copied := *meta
	ix.entries[meta.Name] = &copied
	return ix.persist()
}

// remove drops an entry and persists. Removing an absent entry is a
// no-op that still persists, keeping the file canonical.
func (ix *index) remove(name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.entries, name)
	return ix.persist()
}

// reconcile lets the caller rebuild the entry set from the live image
// list in one locked step, then persists. The callback receives the
// current entries and returns the replacement set.
func (ix *index) reconcile(rebuild func(entries map[string]*ImageMetadata) map[string]*ImageMetadata) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = rebuild(ix.entries)
	return ix.persist()
}

// snapshot returns a copy of every entry.
func (ix *index) snapshot() map[string]*ImageMetadata {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make(map[string]*ImageMetadata, len(ix.entries))
	for name, entry := range ix.entries {
		copied := *entry
		out[name] = &copied
	}
	return out
}
