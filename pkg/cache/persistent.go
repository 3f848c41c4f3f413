// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache holds the two persistence tiers behind source listings: a
// process-wide TTL cache for paginated listing results, a per-source tree
// cache that survives across processes, and the global active-source state
// file. The cache is an optimization, never a correctness dependency: every
// I/O failure in here degrades to a miss or a no-op.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long a listing entry stays valid.
	DefaultTTL = time.Hour

	// DefaultMaxEntries bounds the in-memory tier; crossing it evicts the
	// oldest tenth.
	DefaultMaxEntries = 1000
)

// Entry is one cached payload with its insertion time and TTL, both in Unix
// seconds. Source and Path are recorded so invalidation can find entries
// without being able to reverse the key hash.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
	TTL       float64         `json:"ttl"`
	Source    string          `json:"source,omitempty"`
	Path      string          `json:"path,omitempty"`
}

// ExpiredAt reports whether the entry is stale as of now.
func (e *Entry) ExpiredAt(now time.Time) bool {
	return float64(now.UnixNano())/float64(time.Second)-e.Timestamp > e.TTL
}

// PersistentCache is the two-tier (memory + disk JSON) TTL cache for
// paginated listing results. Disk hits are promoted into memory. A disk
// directory that cannot be created silently downgrades the cache to
// memory-only.
type PersistentCache struct {
	mu         sync.Mutex
	mem        map[string]*Entry
	dir        string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// Option configures a PersistentCache.
type Option func(*PersistentCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *PersistentCache) { c.ttl = ttl }
}

func WithMaxEntries(n int) Option {
	return func(c *PersistentCache) { c.maxEntries = n }
}

// WithClock overrides the time source, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *PersistentCache) { c.now = now }
}

// NewPersistentCache creates a cache backed by dir. An empty dir selects the
// default under the system temp directory.
func NewPersistentCache(dir string, opts ...Option) *PersistentCache {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "sourcekit-cache")
	}
	c := &PersistentCache{
		mem:        map[string]*Entry{},
		dir:        dir,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		// Memory-only from here on.
		c.dir = ""
	}
	return c
}

// ListingKey derives the cache key for one (source, path, pagination) triple.
// Every field that changes the page content participates, so two calls that
// differ only in sort order or filter never share an entry.
func ListingKey(sourceID, path string, page, limit int, sortBy, sortOrder, filterType string) string {
	raw := fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s", sourceID, path, page, limit, sortBy, sortOrder, filterType)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached payload for key, checking memory first and falling
// back to disk. Expired entries are dropped on read.
func (c *PersistentCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.mem[key]; ok {
		if !entry.ExpiredAt(now) {
			return entry.Data, true
		}
		delete(c.mem, key)
		c.removeFileLocked(key)
		return nil, false
	}

	entry, ok := c.readFileLocked(key)
	if !ok {
		return nil, false
	}
	if entry.ExpiredAt(now) {
		c.removeFileLocked(key)
		return nil, false
	}

	// Promote to memory.
	c.mem[key] = entry
	c.evictLocked(ctx)
	return entry.Data, true
}

// Set stores a payload in both tiers. sourceID and path are recorded for
// invalidation; failures writing the disk tier are ignored.
func (c *PersistentCache) Set(ctx context.Context, key, sourceID, path string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Data:      data,
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
		TTL:       c.ttl.Seconds(),
		Source:    sourceID,
		Path:      path,
	}
	c.mem[key] = entry
	c.evictLocked(ctx)
	c.writeFileLocked(ctx, key, entry)
}

// InvalidateSource drops every entry belonging to sourceID, in memory and on
// disk.
func (c *PersistentCache) InvalidateSource(ctx context.Context, sourceID string) {
	c.invalidate(ctx, func(e *Entry) bool { return e.Source == sourceID })
}

// InvalidatePath drops every entry for sourceID whose path is pathPrefix or a
// descendant of it.
func (c *PersistentCache) InvalidatePath(ctx context.Context, sourceID, pathPrefix string) {
	c.invalidate(ctx, func(e *Entry) bool {
		return e.Source == sourceID && hasPathPrefix(e.Path, pathPrefix)
	})
}

func (c *PersistentCache) invalidate(ctx context.Context, match func(*Entry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.mem {
		if match(entry) {
			delete(c.mem, key)
		}
	}
	if c.dir == "" {
		return
	}
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		key := f.Name()[:len(f.Name())-len(".json")]
		entry, ok := c.readFileLocked(key)
		if ok && match(entry) {
			c.removeFileLocked(key)
		}
	}
	zerolog.Ctx(ctx).Debug().Msg("invalidated cache entries")
}

// evictLocked drops the oldest 10% of memory entries once the count exceeds
// maxEntries. Disk entries are left alone; they expire on read.
func (c *PersistentCache) evictLocked(ctx context.Context) {
	if len(c.mem) <= c.maxEntries {
		return
	}
	type aged struct {
		key string
		ts  float64
	}
	entries := make([]aged, 0, len(c.mem))
	for key, entry := range c.mem {
		entries = append(entries, aged{key, entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	drop := len(entries) / 10
	if drop < 1 {
		drop = 1
	}
	for _, e := range entries[:drop] {
		delete(c.mem, e.key)
	}
	zerolog.Ctx(ctx).Debug().Int("evicted", drop).Msg("cache eviction")
}

func (c *PersistentCache) filePath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *PersistentCache) readFileLocked(key string) (*Entry, bool) {
	if c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry, treat as a miss and clean up.
		c.removeFileLocked(key)
		return nil, false
	}
	return &entry, true
}

func (c *PersistentCache) writeFileLocked(ctx context.Context, key string, entry *Entry) {
	if c.dir == "" {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := atomicWrite(c.filePath(key), data); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("cache disk write failed")
	}
}

func (c *PersistentCache) removeFileLocked(key string) {
	if c.dir == "" {
		return
	}
	_ = os.Remove(c.filePath(key))
}

// atomicWrite writes via a temp file and rename so a concurrent reader never
// observes a half-written entry.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// hasPathPrefix matches path itself and any descendant of prefix. A bare
// string prefix is intentional: tree paths are stored exactly as the caller
// listed them, so "sub" also clears "sub/inner".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}
