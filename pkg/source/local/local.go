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

// Package local implements the data-source contract against the local
// filesystem.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("local", New)
}

// checksumLimit caps the file size for which metadata computes an MD5; larger
// files get no checksum rather than a forced full read.
const checksumLimit = 10 * 1024 * 1024

// contentTypes is the fixed extension table for guessed MIME types.
var contentTypes = map[string]string{
	".txt":  "text/plain",
	".json": "application/json",
	".xml":  "application/xml",
	".csv":  "text/csv",
	".log":  "text/plain",
	".py":   "text/x-python",
	".js":   "application/javascript",
	".html": "text/html",
	".css":  "text/css",
}

// Source reads, writes and lists paths on the local filesystem.
type Source struct {
	source.Base
	path string
}

var _ source.Source = (*Source)(nil)

// New builds a local source from cfg. The resolved path has ~ expanded.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	s := &Source{path: expandHome(cfg.ResolvedPath())}
	s.Base = source.NewBase(cfg, deps, s)
	return s, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func (s *Source) IsWritable() bool { return true }
func (s *Source) IsListable() bool { return true }

func (s *Source) IsDirectory(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return value
	}
	info, err := os.Stat(s.path)
	return err == nil && info.IsDir()
}

func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// TestConnection distinguishes a missing path from one that exists but cannot
// be read; readability is checked with an access probe, not by reading.
func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	info, err := os.Stat(s.path)
	switch {
	case os.IsNotExist(err):
		res.Message = fmt.Sprintf("path does not exist: %s", s.path)
		res.Error = err.Error()
	case err != nil:
		res.Message = fmt.Sprintf("cannot stat path: %s", s.path)
		res.Error = err.Error()
	case unix.Access(s.path, unix.R_OK) != nil:
		res.Status = source.StatusUnauthorized
		res.Message = fmt.Sprintf("path exists but is not readable: %s", s.path)
	default:
		res.Success = true
		res.Status = source.StatusConnected
		res.Message = "local path accessible"
		res.Metadata = map[string]any{
			"path":         s.path,
			"is_directory": info.IsDir(),
		}
		if !info.IsDir() {
			res.Metadata["size"] = info.Size()
		}
	}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) Exists(ctx context.Context) bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, statError(err, s.path)
	}

	meta := &source.Metadata{
		Permissions: fmt.Sprintf("%04o", info.Mode().Perm()),
		Extra:       map[string]any{"absolute_path": s.path},
	}
	meta.Modified, meta.LastModified = source.NormalizeTimestamp(info.ModTime())

	if info.IsDir() {
		return meta, nil
	}

	size := info.Size()
	meta.Size = &size
	meta.ContentType = guessContentType(s.path)
	meta.Encoding = "utf-8"
	if size < checksumLimit {
		// Checksum failures are silent: the hash is a convenience, not a
		// contract.
		if sum, err := fileChecksum(s.path); err == nil {
			meta.Checksum = sum
		} else {
			zerolog.Ctx(ctx).Debug().Err(err).Str("path", s.path).Msg("checksum skipped")
		}
	}
	return meta, nil
}

func (s *Source) ReadData(ctx context.Context, opts source.ReadOptions) ([]byte, error) {
	stream, err := s.ReadStream(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, source.DataErrf("reading %s: %w", s.path, err)
	}
	if opts.Mode != source.ModeBinary {
		if err := checkEncoding(data, opts.Encoding); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, statError(err, s.path)
	}
	if opts.Limit > 0 {
		return &limitedFile{Reader: io.LimitReader(f, opts.Limit), f: f}, nil
	}
	return f, nil
}

// limitedFile bounds the read while still closing the underlying file.
type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error {
	return l.f.Close()
}

// WriteData checks the parent directory and write permission proactively, so
// the caller gets a taxonomy error rather than whatever the OS felt like
// raising.
func (s *Source) WriteData(ctx context.Context, data []byte, opts source.WriteOptions) error {
	parent := filepath.Dir(s.path)
	if _, err := os.Stat(parent); os.IsNotExist(err) {
		return source.NotFoundErrf("parent directory does not exist: %s", parent)
	}
	if err := unix.Access(parent, unix.W_OK); err != nil {
		return source.PermissionErrf("parent directory is not writable: %s", parent)
	}
	if _, err := os.Stat(s.path); err == nil {
		if err := unix.Access(s.path, unix.W_OK); err != nil {
			return source.PermissionErrf("file is not writable: %s", s.path)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return statError(err, s.path)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return source.DataErrf("writing %s: %w", s.path, err)
	}
	return nil
}

// ListContents enumerates immediate children including dot-files. Entries
// that cannot be stat'ed are reported as unknown instead of failing the
// listing.
func (s *Source) ListContents(ctx context.Context, path string) ([]Item, error) {
	dir := s.path
	if path != "" {
		dir = expandHome(path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, statError(err, dir)
	}

	ignorePatterns := s.Config().StaticStrings("ignore_patterns")

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if matchesIgnore(entry.Name(), ignorePatterns) {
			continue
		}
		fullPath := filepath.Join(dir, entry.Name())
		item := Item{
			Name: entry.Name(),
			Path: fullPath,
		}
		info, err := entry.Info()
		if err != nil {
			item.Type = source.TypeUnknown
			item.Error = "Permission denied"
			items = append(items, item)
			continue
		}
		if info.IsDir() {
			item.Type = source.TypeDirectory
			item.IsDirectory = true
		} else {
			item.Type = source.TypeFile
			size := info.Size()
			item.Size = &size
		}
		item.Modified, item.LastModified = source.NormalizeTimestamp(info.ModTime())
		item.Extra = map[string]any{
			"permissions": fmt.Sprintf("%04o", info.Mode().Perm()),
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Source) ChildPath(parent string, item source.Item) string {
	if parent == "" {
		parent = s.path
	}
	return filepath.Join(parent, item.Name)
}

// Item aliases source.Item so the listing code reads naturally.
type Item = source.Item

func matchesIgnore(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func guessContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func checkEncoding(data []byte, encoding string) error {
	if encoding == "" || strings.EqualFold(encoding, "utf-8") || strings.EqualFold(encoding, "utf8") {
		if !utf8.Valid(data) {
			return source.DataErrf("content is not valid UTF-8")
		}
	}
	return nil
}

func statError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return source.NotFoundErrf("path not found: %s", path)
	case os.IsPermission(err):
		return source.PermissionErrf("permission denied: %s", path)
	default:
		return source.ConnectionErrf("accessing %s: %w", path, err)
	}
}
