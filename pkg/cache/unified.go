package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PathEntry is one cached directory level in a source's tree cache.
type PathEntry struct {
	Items       json.RawMessage `json:"items"`
	Expanded    bool            `json:"expanded"`
	LastFetched float64         `json:"last_fetched"`
}

// sourceCacheFile is the on-disk shape of a per-source cache.json.
type sourceCacheFile struct {
	SourceID     string                `json:"source_id"`
	Active       bool                  `json:"active"`
	LastAccessed float64               `json:"last_accessed"`
	TreeCache    map[string]*PathEntry `json:"tree_cache"`
}

// SourceCache memoizes directory-tree levels for one source across processes.
// Each source gets its own directory with a single cache.json; every mutation
// is persisted atomically. TTL is checked per path on read.
type SourceCache struct {
	mu       sync.Mutex
	path     string
	sourceID string
	ttl      time.Duration
	now      func() time.Time
	data     *sourceCacheFile
}

// SourceCacheOption configures a SourceCache.
type SourceCacheOption func(*SourceCache)

func WithSourceTTL(ttl time.Duration) SourceCacheOption {
	return func(c *SourceCache) { c.ttl = ttl }
}

func WithSourceClock(now func() time.Time) SourceCacheOption {
	return func(c *SourceCache) { c.now = now }
}

// NewSourceCache opens (or initializes) the tree cache for sourceID under
// baseDir. An unreadable or corrupt cache file starts fresh.
func NewSourceCache(baseDir, sourceID string, opts ...SourceCacheOption) *SourceCache {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "sourcekit-sources")
	}
	c := &SourceCache{
		path:     filepath.Join(baseDir, sourceID, "cache.json"),
		sourceID: sourceID,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.data = c.load()
	return c
}

func (c *SourceCache) load() *sourceCacheFile {
	fresh := &sourceCacheFile{
		SourceID:  c.sourceID,
		TreeCache: map[string]*PathEntry{},
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fresh
	}
	var data sourceCacheFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fresh
	}
	if data.TreeCache == nil {
		data.TreeCache = map[string]*PathEntry{}
	}
	data.SourceID = c.sourceID
	return &data
}

// GetPath returns the cached items for path if present and fresh.
func (c *SourceCache) GetPath(ctx context.Context, path string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data.TreeCache[path]
	if !ok {
		return nil, false
	}
	age := float64(c.now().UnixNano())/float64(time.Second) - entry.LastFetched
	if age > c.ttl.Seconds() {
		delete(c.data.TreeCache, path)
		c.persistLocked(ctx)
		return nil, false
	}
	return entry.Items, true
}

// SetPath stores the items for one directory level.
func (c *SourceCache) SetPath(ctx context.Context, path string, items json.RawMessage, expanded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.TreeCache[path] = &PathEntry{
		Items:       items,
		Expanded:    expanded,
		LastFetched: float64(c.now().UnixNano()) / float64(time.Second),
	}
	c.data.LastAccessed = float64(c.now().UnixNano()) / float64(time.Second)
	c.persistLocked(ctx)
}

// SetActive records whether this source is the globally active one, so the
// per-source cache file stays consistent with source_state.json.
func (c *SourceCache) SetActive(ctx context.Context, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data.Active == active {
		return
	}
	c.data.Active = active
	c.writeLocked(ctx)
}

// Active reports the persisted active flag.
func (c *SourceCache) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Active
}

// ClearPath drops the entry for path and every descendant path.
func (c *SourceCache) ClearPath(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cached := range c.data.TreeCache {
		if hasPathPrefix(cached, path) {
			delete(c.data.TreeCache, cached)
		}
	}
	c.persistLocked(ctx)
}

// ClearAll drops every cached level but keeps the cache file.
func (c *SourceCache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data.TreeCache = map[string]*PathEntry{}
	c.persistLocked(ctx)
}

// Delete permanently removes the cache file from disk.
func (c *SourceCache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = &sourceCacheFile{SourceID: c.sourceID, TreeCache: map[string]*PathEntry{}}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// persistLocked writes the cache file. The active flag is owned by the State
// record and may have been flipped through another handle on the same file
// since load, so the on-disk value wins here; SetActive is the one writer
// allowed to change it.
func (c *SourceCache) persistLocked(ctx context.Context) {
	c.data.Active = c.load().Active
	c.writeLocked(ctx)
}

func (c *SourceCache) writeLocked(ctx context.Context) {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return
	}
	raw, err := json.Marshal(c.data)
	if err != nil {
		return
	}
	if err := atomicWrite(c.path, raw); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("source", c.sourceID).Msg("tree cache write failed")
	}
}

// stateFile is the global source_state.json shape.
type stateFile struct {
	CurrentSource string  `json:"current_source"`
	LastTool      string  `json:"last_tool"`
	OpenedAt      float64 `json:"opened_at"`
}

// State is the global active-source record shared across tools. It is a
// single JSON file; activating a source overwrites it, deactivating clears it
// only when the deactivating source is the active one.
type State struct {
	mu   sync.Mutex
	dir  string
	path string
	now  func() time.Time
}

// NewState opens the state file under baseDir.
func NewState(baseDir string) *State {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "sourcekit-sources")
	}
	return &State{
		dir:  baseDir,
		path: filepath.Join(baseDir, "source_state.json"),
		now:  time.Now,
	}
}

// Activate marks sourceID as the currently active source for tool. The active
// flag in each source's own cache file is kept in step: the previous source is
// cleared, the new one set.
func (s *State) Activate(ctx context.Context, sourceID, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.readLocked()
	s.writeLocked(ctx, &stateFile{
		CurrentSource: sourceID,
		LastTool:      tool,
		OpenedAt:      float64(s.now().UnixNano()) / float64(time.Second),
	})

	if previous != nil && previous.CurrentSource != "" && previous.CurrentSource != sourceID {
		NewSourceCache(s.dir, previous.CurrentSource).SetActive(ctx, false)
	}
	NewSourceCache(s.dir, sourceID).SetActive(ctx, true)
}

// Deactivate clears the state only if sourceID is the active source.
func (s *State) Deactivate(ctx context.Context, sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.readLocked()
	if current == nil || current.CurrentSource != sourceID {
		return
	}
	s.writeLocked(ctx, &stateFile{})
	NewSourceCache(s.dir, sourceID).SetActive(ctx, false)
}

// Current returns the active source id and tool, if any.
func (s *State) Current() (sourceID, tool string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.readLocked()
	if current == nil || current.CurrentSource == "" {
		return "", "", false
	}
	return current.CurrentSource, current.LastTool, true
}

func (s *State) readLocked() *stateFile {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var data stateFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return &data
}

func (s *State) writeLocked(ctx context.Context, data *stateFile) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := atomicWrite(s.path, raw); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("state write failed")
	}
}
