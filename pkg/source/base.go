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

package source

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/sourcekit/pkg/cache"
	"github.com/walteh/sourcekit/pkg/config"
)

// DefaultMaxRetries bounds the advisory retry policy in ShouldRetry.
const DefaultMaxRetries = 3

// listerBackend is what Base needs back from the concrete backend to run the
// shared pagination and tree-walk algorithms. ChildPath is the one piece of
// per-backend glue: how a parent path and a child item combine into a path
// usable for the next listing call.
type listerBackend interface {
	ListContents(ctx context.Context, path string) ([]Item, error)
	ChildPath(parent string, item Item) string
}

// paginatorBackend is detected dynamically so ExploreLazy routes through a
// backend's native pagination when it has one.
type paginatorBackend interface {
	ListContentsPaginated(ctx context.Context, path string, p *Pagination) (*PaginatedResult, error)
}

// Base carries the state and behavior shared by every backend. Backends embed
// it and pass themselves to NewBase so the shared algorithms dispatch to their
// overrides.
type Base struct {
	cfg  *config.SourceConfig
	deps *Deps
	self any

	mu       sync.Mutex
	lastTest *TestResult
	tree     *cache.SourceCache
}

// NewBase wires a backend into the shared infrastructure. A nil deps selects
// DefaultDeps.
func NewBase(cfg *config.SourceConfig, deps *Deps, self any) Base {
	if deps == nil {
		deps = DefaultDeps()
	}
	return Base{cfg: cfg, deps: deps, self: self}
}

func (b *Base) Config() *config.SourceConfig {
	return b.cfg
}

// RecordTest stores the result as the instance's last test result and returns
// it, so backends can end TestConnection with `return b.RecordTest(res)`.
func (b *Base) RecordTest(res *TestResult) *TestResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTest = res
	return res
}

func (b *Base) LastTestResult() *TestResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTest
}

// Timeout is the per-source operation timeout.
func (b *Base) Timeout() time.Duration {
	return b.cfg.Timeout()
}

// ShouldRetry is the advisory retry policy: only connection failures are
// worth retrying, since auth and permission outcomes will not change.
func (b *Base) ShouldRetry(err error, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}
	return KindOf(err) == KindConnection
}

// TreeCache returns the per-source tree cache, creating it on first use.
func (b *Base) TreeCache() *cache.SourceCache {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tree == nil {
		b.tree = cache.NewSourceCache(b.deps.TreeDir, b.cfg.SourceID)
	}
	return b.tree
}

// State returns the global active-source state record.
func (b *Base) State() *cache.State {
	return b.deps.State
}

// ClearCache drops everything cached for this source.
func (b *Base) ClearCache(ctx context.Context) {
	b.deps.Listing.InvalidateSource(ctx, b.cfg.SourceID)
	b.TreeCache().ClearAll(ctx)
}

// ClearCachePath drops the cached listings for path and its descendants.
func (b *Base) ClearCachePath(ctx context.Context, path string) {
	b.deps.Listing.InvalidatePath(ctx, b.cfg.SourceID, path)
	b.TreeCache().ClearPath(ctx, path)
}

// Default capability probes; backends override what they support.

func (b *Base) IsReadable() bool     { return true }
func (b *Base) IsWritable() bool     { return false }
func (b *Base) IsListable() bool     { return false }
func (b *Base) SupportsExpiry() bool { return false }

func (b *Base) ExpiryTime(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

// OverrideIsDirectory reports the explicit directory override on the config,
// if any. Backends must consult this before their own detection.
func (b *Base) OverrideIsDirectory() (value, ok bool) {
	if b.cfg.IsDirectory == nil {
		return false, false
	}
	return *b.cfg.IsDirectory, true
}

func (b *Base) IsDirectory(ctx context.Context) bool {
	value, ok := b.OverrideIsDirectory()
	return ok && value
}

func (b *Base) IsFile(ctx context.Context) bool {
	if value, ok := b.OverrideIsDirectory(); ok {
		return !value
	}
	return true
}

// WriteData's default marks the backend read-only.
func (b *Base) WriteData(ctx context.Context, data []byte, opts WriteOptions) error {
	return ConfigurationErrf("source type %s is read-only", b.cfg.SourceType)
}

// ListContents' default marks the backend non-listable.
func (b *Base) ListContents(ctx context.Context, path string) ([]Item, error) {
	return nil, ConfigurationErrf("source type %s does not support listing", b.cfg.SourceType)
}

// ChildPath's default joins with a forward slash; backends with other path
// vocabularies (S3 keys, URLs, UNC paths) override it.
func (b *Base) ChildPath(parent string, item Item) string {
	if parent == "" {
		return item.Name
	}
	return strings.TrimSuffix(parent, "/") + "/" + item.Name
}

func (b *Base) Close() error {
	return nil
}

// listingPage is the cached payload for one page of a listing.
type listingPage struct {
	Items      []Item `json:"items"`
	TotalCount int    `json:"total_count"`
}

// ListContentsPaginated is the generic pagination-over-listing used by every
// backend without a native pagination API: fetch the full listing, filter,
// sort, slice, and cache the page keyed by every argument that affects it.
func (b *Base) ListContentsPaginated(ctx context.Context, path string, p *Pagination) (*PaginatedResult, error) {
	if p == nil {
		p = &Pagination{}
	}
	p.Normalize()

	logger := zerolog.Ctx(ctx)
	key := cache.ListingKey(b.cfg.SourceID, path, p.Page, p.Limit, p.SortBy, p.SortOrder, p.FilterType)
	if raw, ok := b.deps.Listing.Get(ctx, key); ok {
		var page listingPage
		if err := json.Unmarshal(raw, &page); err == nil {
			logger.Debug().Str("source", b.cfg.SourceID).Str("path", path).Msg("listing served from cache")
			return NewPaginatedResult(page.Items, page.TotalCount, p), nil
		}
	}

	backend, ok := b.self.(listerBackend)
	if !ok {
		return nil, ConfigurationErrf("source type %s does not support listing", b.cfg.SourceType)
	}
	items, err := backend.ListContents(ctx, path)
	if err != nil {
		return nil, err
	}

	items = filterItems(items, p.FilterType)
	sortItems(items, p.SortBy, p.SortOrder)

	total := len(items)
	offset := p.EffectiveOffset()
	if offset > total {
		offset = total
	}
	end := offset + p.Limit
	if end > total {
		end = total
	}
	page := make([]Item, end-offset)
	copy(page, items[offset:end])

	// Directory entries on a page are always lazily explorable; children are
	// never pre-populated here.
	for i := range page {
		if page[i].IsDirectory {
			page[i].HasChildren = boolPtr(true)
			page[i].Explorable = boolPtr(true)
			page[i].Children = []Item{}
		}
	}

	if raw, err := json.Marshal(listingPage{Items: page, TotalCount: total}); err == nil {
		b.deps.Listing.Set(ctx, key, b.cfg.SourceID, path, raw)
	}

	return NewPaginatedResult(page, total, p), nil
}

// ExploreLazy lists a single level with pagination, routing through the
// backend's own paginator so native pagination is honored.
func (b *Base) ExploreLazy(ctx context.Context, startPath string, p *Pagination) (*PaginatedResult, error) {
	if backend, ok := b.self.(paginatorBackend); ok {
		return backend.ListContentsPaginated(ctx, startPath, p)
	}
	return b.ListContentsPaginated(ctx, startPath, p)
}

// ExploreTree walks directories recursively down to the configured level.
func (b *Base) ExploreTree(ctx context.Context, startPath string) ([]Item, error) {
	return b.walkTree(ctx, startPath, 0)
}

func (b *Base) walkTree(ctx context.Context, path string, depth int) ([]Item, error) {
	backend, ok := b.self.(listerBackend)
	if !ok {
		return nil, ConfigurationErrf("source type %s does not support listing", b.cfg.SourceType)
	}

	maxDepth := b.cfg.EffectiveLevel()
	items, err := b.listLevelCached(ctx, backend, path)
	if err != nil {
		return nil, err
	}

	if maxDepth == 0 {
		// Flat mode: never descend, directories are terminal.
		for i := range items {
			if items[i].IsDirectory {
				items[i].Explorable = boolPtr(false)
				items[i].Children = []Item{}
			}
		}
		return items, nil
	}

	for i := range items {
		if !items[i].IsDirectory {
			continue
		}
		if depth+1 < maxDepth {
			childPath := backend.ChildPath(path, items[i])
			children, err := b.walkTree(ctx, childPath, depth+1)
			if err != nil {
				// One inaccessible subdirectory must not abort the walk.
				items[i].Children = []Item{}
				items[i].HasChildren = boolPtr(false)
				items[i].Explorable = boolPtr(false)
				items[i].Error = err.Error()
				continue
			}
			items[i].Children = children
			items[i].HasChildren = boolPtr(len(children) > 0)
			items[i].Explorable = boolPtr(true)
		} else {
			// Depth boundary: optimistically assume non-empty rather than
			// spending a remote call per boundary node.
			items[i].Children = []Item{}
			items[i].HasChildren = boolPtr(true)
			items[i].Explorable = boolPtr(false)
		}
	}
	return items, nil
}

// listLevelCached consults the per-source tree cache before asking the
// backend, so repeated walks across processes skip the remote calls.
func (b *Base) listLevelCached(ctx context.Context, backend listerBackend, path string) ([]Item, error) {
	tree := b.TreeCache()
	if raw, ok := tree.GetPath(ctx, path); ok {
		var items []Item
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
	}
	items, err := backend.ListContents(ctx, path)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(items); err == nil {
		tree.SetPath(ctx, path, raw, false)
	}
	return items, nil
}

// ResponseTime measures elapsed seconds for a connection test result.
func ResponseTime(start time.Time) *float64 {
	seconds := time.Since(start).Seconds()
	return &seconds
}

// ReadAll drains a stream honoring the byte limit, for backends that
// implement ReadData on top of their ReadStream.
func ReadAll(stream io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		stream = io.LimitReader(stream, limit)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, ConnectionErrf("reading stream: %w", err)
	}
	return data, nil
}

func filterItems(items []Item, filterType string) []Item {
	if filterType == "" {
		return items
	}
	filtered := items[:0:0]
	for _, item := range items {
		switch filterType {
		case FilterFiles:
			if !item.IsDirectory {
				filtered = append(filtered, item)
			}
		case FilterDirectories:
			if item.IsDirectory {
				filtered = append(filtered, item)
			}
		default:
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func sortItems(items []Item, sortBy, sortOrder string) {
	less := func(i, j int) bool {
		switch sortBy {
		case SortBySize:
			return sizeOf(items[i]) < sizeOf(items[j])
		case SortByModified:
			// Lexicographic ISO-8601 comparison sorts chronologically.
			return items[i].LastModified < items[j].LastModified
		default:
			return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
		}
	}
	if sortOrder == SortDesc {
		orig := less
		less = func(i, j int) bool { return orig(j, i) }
	}
	sort.SliceStable(items, less)
}

func sizeOf(item Item) int64 {
	if item.Size == nil {
		return 0
	}
	return *item.Size
}
