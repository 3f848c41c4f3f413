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

package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c := NewSourceCache(dir, "mysource")
	_, ok := c.GetPath(ctx, "sub")
	assert.False(t, ok)

	c.SetPath(ctx, "sub", json.RawMessage(`["a"]`), true)

	got, ok := c.GetPath(ctx, "sub")
	require.True(t, ok)
	assert.Equal(t, `["a"]`, string(got))

	// A second instance over the same directory sees the persisted entry.
	reopened := NewSourceCache(dir, "mysource")
	got, ok = reopened.GetPath(ctx, "sub")
	require.True(t, ok)
	assert.Equal(t, `["a"]`, string(got))
}

func TestSourceCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := &now
	c := NewSourceCache(t.TempDir(), "mysource",
		WithSourceTTL(time.Hour),
		WithSourceClock(func() time.Time { return *clock }),
	)

	c.SetPath(ctx, "sub", json.RawMessage(`[]`), false)

	_, ok := c.GetPath(ctx, "sub")
	assert.True(t, ok)

	expired := now.Add(2 * time.Hour)
	clock = &expired
	_, ok = c.GetPath(ctx, "sub")
	assert.False(t, ok, "stale levels must be refetched")
}

func TestSourceCacheClearPath(t *testing.T) {
	ctx := context.Background()
	c := NewSourceCache(t.TempDir(), "mysource")

	c.SetPath(ctx, "sub", json.RawMessage(`1`), false)
	c.SetPath(ctx, "sub/inner", json.RawMessage(`2`), false)
	c.SetPath(ctx, "other", json.RawMessage(`3`), false)

	c.ClearPath(ctx, "sub")

	_, ok := c.GetPath(ctx, "sub")
	assert.False(t, ok)
	_, ok = c.GetPath(ctx, "sub/inner")
	assert.False(t, ok, "descendants are cleared with their parent")
	_, ok = c.GetPath(ctx, "other")
	assert.True(t, ok)
}

func TestSourceCacheClearAllAndDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewSourceCache(dir, "mysource")

	c.SetPath(ctx, "sub", json.RawMessage(`1`), false)
	c.ClearAll(ctx)
	_, ok := c.GetPath(ctx, "sub")
	assert.False(t, ok)

	c.SetPath(ctx, "sub", json.RawMessage(`1`), false)
	require.NoError(t, c.Delete())

	reopened := NewSourceCache(dir, "mysource")
	_, ok = reopened.GetPath(ctx, "sub")
	assert.False(t, ok, "delete removes the cache file")
}

func TestSourceCacheSurvivesCorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c := NewSourceCache(dir, "mysource")
	c.SetPath(ctx, "sub", json.RawMessage(`1`), false)

	require.NoError(t, atomicWrite(c.path, []byte("{broken")))

	fresh := NewSourceCache(dir, "mysource")
	_, ok := fresh.GetPath(ctx, "sub")
	assert.False(t, ok, "a corrupt cache file starts fresh")
	fresh.SetPath(ctx, "sub", json.RawMessage(`2`), false)
	_, ok = fresh.GetPath(ctx, "sub")
	assert.True(t, ok)
}

func TestState(t *testing.T) {
	ctx := context.Background()
	s := NewState(t.TempDir())

	_, _, ok := s.Current()
	assert.False(t, ok, "no state file means no active source")

	s.Activate(ctx, "alpha", "editor")
	id, tool, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "alpha", id)
	assert.Equal(t, "editor", tool)

	// Deactivating a non-active source is a no-op.
	s.Deactivate(ctx, "beta")
	id, _, ok = s.Current()
	require.True(t, ok)
	assert.Equal(t, "alpha", id)

	s.Deactivate(ctx, "alpha")
	_, _, ok = s.Current()
	assert.False(t, ok, "the owner can deactivate")
}

func TestStateMarksSourceCacheActive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewState(dir)

	s.Activate(ctx, "alpha", "cli")
	assert.True(t, NewSourceCache(dir, "alpha").Active(), "activation sets the per-source flag")

	s.Activate(ctx, "beta", "cli")
	assert.False(t, NewSourceCache(dir, "alpha").Active(), "activating another source clears the old flag")
	assert.True(t, NewSourceCache(dir, "beta").Active())

	s.Deactivate(ctx, "beta")
	assert.False(t, NewSourceCache(dir, "beta").Active(), "deactivation clears the flag")
}

func TestSourceCachePersistKeepsActiveFlag(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// A handle opened before activation must not clobber the flag when it
	// later persists a tree entry.
	c := NewSourceCache(dir, "alpha")
	NewState(dir).Activate(ctx, "alpha", "cli")
	c.SetPath(ctx, "sub", json.RawMessage(`[]`), false)

	assert.True(t, NewSourceCache(dir, "alpha").Active())
}

func TestStateSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	NewState(dir).Activate(ctx, "alpha", "cli")

	id, _, ok := NewState(dir).Current()
	require.True(t, ok, "state is a file, not process memory")
	assert.Equal(t, "alpha", id)
}
