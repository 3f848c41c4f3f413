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

// Package sftp implements the data-source contract over SSH file transfer.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgsftp "github.com/pkg/sftp"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("sftp", New)
}

// defaultKeyNames are tried under ~/.ssh when no explicit key or password is
// configured and no agent is reachable.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Source reads and lists paths over SFTP. The SSH session is dialed lazily
// and reused until Close.
type Source struct {
	source.Base
	host string
	port int
	path string

	mu     sync.Mutex
	conn   *ssh.Client
	client *pkgsftp.Client
}

var _ source.Source = (*Source)(nil)

// New parses the sftp:// URL. Host may come from the URL or static config;
// without one the config is rejected immediately.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	s := &Source{port: 22}

	resolved := cfg.ResolvedPath()
	if strings.HasPrefix(resolved, "sftp://") {
		u, err := url.Parse(resolved)
		if err != nil {
			return nil, source.ConfigurationErrf("invalid SFTP URL %q: %w", resolved, err)
		}
		s.host = u.Hostname()
		if p := u.Port(); p != "" {
			fmt.Sscanf(p, "%d", &s.port)
		}
		s.path = u.Path
	} else {
		s.path = resolved
	}
	if s.host == "" {
		s.host = cfg.StaticString("host", "")
	}
	if s.host == "" {
		return nil, source.ConfigurationErrf("SFTP source %s has no host", cfg.SourceID)
	}
	if port := cfg.StaticInt("port", 0); port > 0 {
		s.port = port
	}
	if s.path == "" {
		s.path = "."
	}

	s.Base = source.NewBase(cfg, deps, s)
	return s, nil
}

func (s *Source) IsWritable() bool { return true }
func (s *Source) IsListable() bool { return true }

// connect dials and authenticates once, caching the session.
func (s *Source) connect(ctx context.Context) (*pkgsftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	cfg := s.Config()
	sshCfg := &ssh.ClientConfig{
		User:            cfg.StaticString("username", os.Getenv("USER")),
		Auth:            s.authMethods(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.Timeout(),
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, classifyDial(err, addr)
	}

	client, err := pkgsftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, source.ConnectionErrf("opening SFTP subsystem on %s: %w", addr, err)
	}
	s.conn = conn
	s.client = client
	return client, nil
}

// authMethods prefers an explicit private key, then a password, then the
// agent and default keys.
func (s *Source) authMethods() []ssh.AuthMethod {
	cfg := s.Config()
	var methods []ssh.AuthMethod

	if keyPath := cfg.StaticString("private_key", ""); keyPath != "" {
		if signer := loadKey(keyPath, cfg.StaticString("passphrase", "")); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if password := cfg.StaticString("password", ""); password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) > 0 {
		return methods
	}

	// Fall back to agent and conventional key locations.
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultKeyNames {
			if signer := loadKey(filepath.Join(home, ".ssh", name), ""); signer != nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}
	return methods
}

func loadKey(path, passphrase string) ssh.Signer {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
	}
	if err != nil {
		return nil
	}
	return signer
}

func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	client, err := s.connect(ctx)
	if err != nil {
		switch source.KindOf(err) {
		case source.KindAuthentication:
			res.Status = source.StatusUnauthorized
		case source.KindTimeout:
			res.Status = source.StatusTimeout
		}
		res.Message = err.Error()
		res.Error = err.Error()
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}

	info, err := client.Stat(s.path)
	if err != nil {
		res.Message = fmt.Sprintf("connected but cannot stat %s: %v", s.path, err)
		res.Error = err.Error()
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}

	res.Success = true
	res.Status = source.StatusConnected
	res.Message = fmt.Sprintf("connected to sftp://%s:%d%s", s.host, s.port, s.path)
	res.Metadata = map[string]any{
		"host":         s.host,
		"port":         s.port,
		"is_directory": info.IsDir(),
	}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) Exists(ctx context.Context) bool {
	client, err := s.connect(ctx)
	if err != nil {
		return false
	}
	_, err = client.Stat(s.path)
	return err == nil
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(s.path)
	if err != nil {
		return nil, classifyStat(err, s.path)
	}

	meta := &source.Metadata{
		Permissions: fmt.Sprintf("%04o", info.Mode().Perm()),
		Extra:       map[string]any{"host": s.host, "remote_path": s.path},
	}
	meta.Modified, meta.LastModified = source.NormalizeTimestamp(info.ModTime())
	if !info.IsDir() {
		size := info.Size()
		meta.Size = &size
	}
	if stat, ok := info.Sys().(*pkgsftp.FileStat); ok {
		meta.Extra["uid"] = stat.UID
		meta.Extra["gid"] = stat.GID
	}
	return meta, nil
}

func (s *Source) ReadData(ctx context.Context, opts source.ReadOptions) ([]byte, error) {
	stream, err := s.ReadStream(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return source.ReadAll(stream, 0)
}

func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(s.path)
	if err != nil {
		return nil, classifyStat(err, s.path)
	}
	if opts.Limit > 0 {
		return &limitedReader{Reader: io.LimitReader(f, opts.Limit), closer: f}, nil
	}
	return f, nil
}

type limitedReader struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReader) Close() error {
	return l.closer.Close()
}

func (s *Source) WriteData(ctx context.Context, data []byte, opts source.WriteOptions) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := client.OpenFile(s.path, flags)
	if err != nil {
		return classifyStat(err, s.path)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return source.DataErrf("writing %s: %w", s.path, err)
	}
	return nil
}

// ListContents mirrors the local backend's listing over the remote protocol:
// mode bits decide directory-ness, and each entry carries permission octal
// plus owner ids.
func (s *Source) ListContents(ctx context.Context, dirPath string) ([]source.Item, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	dir := s.path
	if dirPath != "" {
		dir = dirPath
	}

	infos, err := client.ReadDir(dir)
	if err != nil {
		return nil, classifyStat(err, dir)
	}

	items := make([]source.Item, 0, len(infos))
	for _, info := range infos {
		item := source.Item{
			Name: info.Name(),
			Path: path.Join(dir, info.Name()),
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
		if stat, ok := info.Sys().(*pkgsftp.FileStat); ok {
			item.Extra["uid"] = stat.UID
			item.Extra["gid"] = stat.GID
		}
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
	client, err := s.connect(ctx)
	if err != nil {
		return false
	}
	info, err := client.Stat(s.path)
	return err == nil && info.IsDir()
}

func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	client, err := s.connect(ctx)
	if err != nil {
		return false
	}
	info, err := client.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Close releases the SFTP client and the SSH session underneath it.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.client != nil {
		firstErr = s.client.Close()
		s.client = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.conn = nil
	}
	return firstErr
}

// classifyDial tells authentication, DNS and timeout failures apart; they
// need different operator responses.
func classifyDial(err error, addr string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return source.AuthenticationErrf("SFTP authentication failed for %s: %w", addr, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return source.ConnectionErrf("cannot resolve host %s: %w", addr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return source.TimeoutErrf("connection to %s timed out: %w", addr, err)
	}
	return source.ConnectionErrf("cannot connect to %s: %w", addr, err)
}

func classifyStat(err error, path string) error {
	if os.IsNotExist(err) {
		return source.NotFoundErrf("remote path not found: %s", path)
	}
	if os.IsPermission(err) {
		return source.PermissionErrf("permission denied: %s", path)
	}
	return source.ConnectionErrf("SFTP operation failed for %s: %w", path, err)
}
