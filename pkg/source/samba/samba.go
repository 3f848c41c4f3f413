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

// Package samba implements the data-source contract over SMB/CIFS shares.
package samba

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("samba", New)
}

const defaultDomain = "WORKGROUP"

// Source reads and lists paths on an SMB share. The session is dialed lazily
// and reused until Close.
type Source struct {
	source.Base
	host  string
	share string
	path  string

	mu      sync.Mutex
	conn    net.Conn
	session *smb2.Session
	mount   *smb2.Share
}

var _ source.Source = (*Source)(nil)

// New parses the smb://host/share/path URL. The share name is mandatory.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	resolved := cfg.ResolvedPath()
	if !strings.HasPrefix(resolved, "smb://") {
		return nil, source.ConfigurationErrf("SMB path must start with smb://, got %q", resolved)
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return nil, source.ConfigurationErrf("invalid SMB URL %q: %w", resolved, err)
	}

	s := &Source{host: u.Hostname()}
	if s.host == "" {
		s.host = cfg.StaticString("host", "")
	}
	if s.host == "" {
		return nil, source.ConfigurationErrf("SMB source %s has no host", cfg.SourceID)
	}

	trimmed := strings.Trim(u.Path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	s.share = parts[0]
	if s.share == "" {
		s.share = cfg.StaticString("share", "")
	}
	if s.share == "" {
		return nil, source.ConfigurationErrf("SMB source %s has no share name", cfg.SourceID)
	}
	if len(parts) == 2 {
		s.path = parts[1]
	}

	s.Base = source.NewBase(cfg, deps, s)
	return s, nil
}

func (s *Source) IsWritable() bool { return true }
func (s *Source) IsListable() bool { return true }

func (s *Source) dial(ctx context.Context) (*smb2.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialLocked(ctx)
}

func (s *Source) dialLocked(ctx context.Context) (*smb2.Session, error) {
	if s.session != nil {
		return s.session, nil
	}

	cfg := s.Config()
	port := cfg.StaticInt("port", 445)
	addr := fmt.Sprintf("%s:%d", s.host, port)

	conn, err := net.DialTimeout("tcp", addr, s.Timeout())
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, source.TimeoutErrf("connection to %s timed out: %w", addr, err)
		}
		return nil, source.ConnectionErrf("cannot connect to %s: %w", addr, err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     cfg.StaticString("username", ""),
			Password: cfg.StaticString("password", ""),
			Domain:   cfg.StaticString("domain", defaultDomain),
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, classify(err, addr)
	}
	s.conn = conn
	s.session = session
	return session, nil
}

// mountShare mounts the configured share, verifying first that the share is
// among the server's advertised shares so a typo'd name reads as "share not
// found" instead of a generic path error.
func (s *Source) mountShare(ctx context.Context) (*smb2.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mount != nil {
		return s.mount, nil
	}

	session, err := s.dialLocked(ctx)
	if err != nil {
		return nil, err
	}

	names, err := session.ListSharenames()
	if err != nil {
		return nil, classify(err, s.host)
	}
	found := false
	for _, name := range names {
		if strings.EqualFold(name, s.share) {
			found = true
			break
		}
	}
	if !found {
		return nil, source.NotFoundErrf("share %q not found on %s (available: %s)",
			s.share, s.host, strings.Join(names, ", "))
	}

	mount, err := session.Mount(s.share)
	if err != nil {
		return nil, classify(err, s.share)
	}
	s.mount = mount
	return mount, nil
}

// remotePath converts a slash path into the share-relative form the library
// expects.
func remotePath(p string) string {
	return strings.ReplaceAll(strings.Trim(p, "/"), "/", `\`)
}

func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	mount, err := s.mountShare(ctx)
	if err != nil {
		switch source.KindOf(err) {
		case source.KindAuthentication, source.KindPermission:
			res.Status = source.StatusUnauthorized
		case source.KindTimeout:
			res.Status = source.StatusTimeout
		}
		res.Message = err.Error()
		res.Error = err.Error()
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}

	if s.path != "" {
		if _, err := mount.Stat(remotePath(s.path)); err != nil {
			classified := classify(err, s.path)
			res.Message = classified.Error()
			res.Error = err.Error()
			res.ResponseTime = source.ResponseTime(start)
			return s.RecordTest(res)
		}
	}

	res.Success = true
	res.Status = source.StatusConnected
	res.Message = fmt.Sprintf("connected to smb://%s/%s/%s", s.host, s.share, s.path)
	res.Metadata = map[string]any{"host": s.host, "share": s.share}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) Exists(ctx context.Context) bool {
	mount, err := s.mountShare(ctx)
	if err != nil {
		return false
	}
	_, err = mount.Stat(remotePath(s.path))
	return err == nil
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	mount, err := s.mountShare(ctx)
	if err != nil {
		return nil, err
	}
	info, err := mount.Stat(remotePath(s.path))
	if err != nil {
		return nil, classify(err, s.path)
	}

	meta := &source.Metadata{
		Permissions: fmt.Sprintf("%04o", info.Mode().Perm()),
		Extra:       map[string]any{"host": s.host, "share": s.share},
	}
	meta.Modified, meta.LastModified = source.NormalizeTimestamp(info.ModTime())
	if !info.IsDir() {
		size := info.Size()
		meta.Size = &size
	}
	return meta, nil
}

// ReadData reads the whole remote file and truncates in memory when a limit
// is set; the protocol library has no native range read, and this
// inefficiency is accepted rather than papered over.
func (s *Source) ReadData(ctx context.Context, opts source.ReadOptions) ([]byte, error) {
	mount, err := s.mountShare(ctx)
	if err != nil {
		return nil, err
	}
	data, err := mount.ReadFile(remotePath(s.path))
	if err != nil {
		return nil, classify(err, s.path)
	}
	if opts.Limit > 0 && int64(len(data)) > opts.Limit {
		data = data[:opts.Limit]
	}
	return data, nil
}

func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	data, err := s.ReadData(ctx, opts)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Source) WriteData(ctx context.Context, data []byte, opts source.WriteOptions) error {
	mount, err := s.mountShare(ctx)
	if err != nil {
		return err
	}

	target := remotePath(s.path)
	if opts.Append {
		f, err := mount.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return classify(err, s.path)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return source.DataErrf("writing %s: %w", s.path, err)
		}
		return nil
	}
	if err := mount.WriteFile(target, data, 0o644); err != nil {
		return classify(err, s.path)
	}
	return nil
}

func (s *Source) ListContents(ctx context.Context, dirPath string) ([]source.Item, error) {
	mount, err := s.mountShare(ctx)
	if err != nil {
		return nil, err
	}
	dir := s.path
	if dirPath != "" {
		dir = dirPath
	}

	infos, err := mount.ReadDir(remotePath(dir))
	if err != nil {
		return nil, classify(err, dir)
	}

	items := make([]source.Item, 0, len(infos))
	for _, info := range infos {
		item := source.Item{
			Name: info.Name(),
			Path: path.Join("/", dir, info.Name()),
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
		items = append(items, item)
	}
	return items, nil
}

func (s *Source) ChildPath(parent string, item source.Item) string {
	if parent == "" {
		parent = s.path
	}
	return path.Join(parent, item.Name)
}

func (s *Source) IsDirectory(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return value
	}
	mount, err := s.mountShare(ctx)
	if err != nil {
		return false
	}
	info, err := mount.Stat(remotePath(s.path))
	return err == nil && info.IsDir()
}

func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	mount, err := s.mountShare(ctx)
	if err != nil {
		return false
	}
	info, err := mount.Stat(remotePath(s.path))
	return err == nil && !info.IsDir()
}

// Close unmounts the share and tears down the session and TCP connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mount != nil {
		_ = s.mount.Umount()
		s.mount = nil
	}
	if s.session != nil {
		_ = s.session.Logoff()
		s.session = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// classify maps library errors into the taxonomy by matching message text.
// The SMB library exposes no structured error codes, so this is best-effort
// by design; callers should treat the result accordingly.
func classify(err error, what string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such file"),
		strings.Contains(msg, "object_name_not_found"),
		strings.Contains(msg, "object_path_not_found"),
		strings.Contains(msg, "bad_network_name"):
		return source.NotFoundErrf("%s not found", what)
	case strings.Contains(msg, "access_denied"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "permission denied"):
		return source.PermissionErrf("access denied to %s", what)
	case strings.Contains(msg, "logon_failure"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "credential"):
		return source.AuthenticationErrf("SMB authentication failed: %w", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return source.TimeoutErrf("SMB operation timed out for %s: %w", what, err)
	default:
		return source.ConnectionErrf("SMB operation failed for %s: %w", what, err)
	}
}
