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

// Package source defines the uniform data-source contract implemented by
// every backend (local filesystem, S3, SFTP, Samba, HTTP) plus the shared
// pagination, tree-walk and retry logic they all inherit through Base.
package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/walteh/sourcekit/pkg/cache"
	"github.com/walteh/sourcekit/pkg/config"
)

// Source is the primary interface for interacting with a configured data
// source. TestConnection and Exists never fail: every error they encounter is
// folded into their return value. Every other method reports failures through
// the Kind taxonomy in this package.
type Source interface {
	// Config returns the configuration this source was built from.
	Config() *config.SourceConfig

	// TestConnection probes the source and returns a structured result. The
	// result is also cached on the instance for LastTestResult.
	TestConnection(ctx context.Context) *TestResult

	// LastTestResult returns the most recent test result without re-testing,
	// or nil if the source was never tested.
	LastTestResult() *TestResult

	// GetMetadata describes the resource behind the resolved path.
	GetMetadata(ctx context.Context) (*Metadata, error)

	// Exists reports whether the resource is reachable; errors are false.
	Exists(ctx context.Context) bool

	// ReadData reads the resource, honoring mode/encoding/limit options.
	ReadData(ctx context.Context, opts ReadOptions) ([]byte, error)

	// ReadStream returns a single-pass reader over the resource. The caller
	// owns the returned reader and must close it; closing releases the
	// underlying connection even when the stream is abandoned early.
	ReadStream(ctx context.Context, opts ReadOptions) (io.ReadCloser, error)

	// WriteData writes the resource. Read-only backends return a
	// configuration error.
	WriteData(ctx context.Context, data []byte, opts WriteOptions) error

	// ListContents enumerates the immediate children of path (or of the
	// resolved path when path is empty).
	ListContents(ctx context.Context, path string) ([]Item, error)

	// ListContentsPaginated returns one sorted, filtered page of a listing.
	// Backends without native pagination get the in-memory implementation
	// from Base, which consults the persistent cache.
	ListContentsPaginated(ctx context.Context, path string, p *Pagination) (*PaginatedResult, error)

	// ExploreTree recursively walks directories down to the configured level.
	ExploreTree(ctx context.Context, startPath string) ([]Item, error)

	// ExploreLazy lists one level with pagination, for incremental loading.
	ExploreLazy(ctx context.Context, startPath string, p *Pagination) (*PaginatedResult, error)

	// Capability probes.
	IsReadable() bool
	IsWritable() bool
	IsListable() bool
	IsDirectory(ctx context.Context) bool
	IsFile(ctx context.Context) bool
	SupportsExpiry() bool

	// ExpiryTime returns when the source's credentials expire, when known.
	// Only meaningful for backends where SupportsExpiry is true.
	ExpiryTime(ctx context.Context) (*time.Time, error)

	// TreeCache exposes the per-source cache so callers can implement
	// user-facing refresh.
	TreeCache() *cache.SourceCache

	// ClearCache drops every cached listing and tree level for this source.
	ClearCache(ctx context.Context)

	// ClearCachePath drops the cached listings for one path and all of its
	// descendants.
	ClearCachePath(ctx context.Context, path string)

	// Close releases any live connection held by the backend. Safe to call
	// more than once.
	Close() error
}

// Deps carries the shared infrastructure injected into every source at
// construction: the listing cache, the base directory for per-source tree
// caches, and the global active-source state. Passing these explicitly (as
// opposed to package-level singletons) is what makes the layer safe to use
// from concurrent callers.
type Deps struct {
	Listing *cache.PersistentCache
	TreeDir string
	State   *cache.State
}

// DefaultDeps builds the default dependency set rooted under the system temp
// directory.
func DefaultDeps() *Deps {
	treeDir := filepath.Join(os.TempDir(), "sourcekit-sources")
	return &Deps{
		Listing: cache.NewPersistentCache(""),
		TreeDir: treeDir,
		State:   cache.NewState(treeDir),
	}
}
