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

// Package github implements a read-only data source backed by the contents of
// a GitHub repository. Paths take the form github://owner/repo/path, with an
// optional ref pinned in the static config.
package github

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/oauth2"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("github", New)
}

// Source serves reads and listings out of a repository tree via the GitHub
// contents API.
type Source struct {
	source.Base
	owner string
	repo  string
	path  string
	ref   string

	client *gogithub.Client
}

var _ source.Source = (*Source)(nil)

// New parses github://owner/repo[/path]. The token comes from the static
// config or GITHUB_TOKEN; without one the source still works against public
// repositories at the anonymous rate limit.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	resolved := cfg.ResolvedPath()
	trimmed := strings.TrimPrefix(resolved, "github://")
	if trimmed == resolved {
		return nil, source.ConfigurationErrf("GitHub path must start with github://, got %q", resolved)
	}

	parts := strings.SplitN(strings.Trim(trimmed, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, source.ConfigurationErrf("GitHub path %q must name owner and repository", resolved)
	}

	s := &Source{
		owner: parts[0],
		repo:  parts[1],
		ref:   cfg.StaticString("ref", ""),
	}
	if len(parts) == 3 {
		s.path = parts[2]
	}

	token := cfg.StaticString("token", "")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	httpClient := http.DefaultClient
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	s.client = gogithub.NewClient(httpClient)
	if base := cfg.StaticString("base_url", ""); base != "" {
		client, err := s.client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, source.ConfigurationErrf("invalid GitHub base_url %q: %w", base, err)
		}
		s.client = client
	}

	s.Base = source.NewBase(cfg, deps, s)
	return s, nil
}

func (s *Source) IsListable() bool { return true }

func (s *Source) contentOpts() *gogithub.RepositoryContentGetOptions {
	if s.ref == "" {
		return nil
	}
	return &gogithub.RepositoryContentGetOptions{Ref: s.ref}
}

func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	repo, _, err := s.client.Repositories.Get(ctx, s.owner, s.repo)
	if err != nil {
		classified := classify(err, s.owner+"/"+s.repo)
		switch source.KindOf(classified) {
		case source.KindAuthentication, source.KindPermission:
			res.Status = source.StatusUnauthorized
		case source.KindTimeout:
			res.Status = source.StatusTimeout
		}
		res.Message = classified.Error()
		res.Error = err.Error()
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}

	if s.path != "" {
		if _, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, s.contentOpts()); err != nil {
			classified := classify(err, s.path)
			res.Message = classified.Error()
			res.Error = err.Error()
			res.ResponseTime = source.ResponseTime(start)
			return s.RecordTest(res)
		}
	}

	res.Success = true
	res.Status = source.StatusConnected
	res.Message = "connected to " + repo.GetFullName()
	res.Metadata = map[string]any{
		"repository":     repo.GetFullName(),
		"default_branch": repo.GetDefaultBranch(),
		"private":        repo.GetPrivate(),
	}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) Exists(ctx context.Context) bool {
	_, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, s.contentOpts())
	return err == nil
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	file, dir, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, s.contentOpts())
	if err != nil {
		return nil, classify(err, s.path)
	}

	meta := &source.Metadata{
		Extra: map[string]any{"repository": s.owner + "/" + s.repo},
	}
	if s.ref != "" {
		meta.Extra["ref"] = s.ref
	}
	if file != nil {
		size := int64(file.GetSize())
		meta.Size = &size
		meta.Checksum = file.GetSHA()
		meta.ContentType = "text/plain"
	} else {
		meta.Extra["entries"] = len(dir)
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
	return data, nil
}

// ReadStream downloads the blob. The contents API inlines small files base64
// encoded; DownloadContents handles both that and the raw download path for
// larger blobs.
func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	reader, _, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, s.path, s.contentOpts())
	if err != nil {
		return nil, classify(err, s.path)
	}
	if opts.Limit > 0 {
		return &limitedDownload{inner: reader, limited: io.LimitReader(reader, opts.Limit)}, nil
	}
	return reader, nil
}

func (s *Source) ListContents(ctx context.Context, dirPath string) ([]source.Item, error) {
	target := s.path
	if dirPath != "" {
		target = dirPath
	}

	file, entries, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, target, s.contentOpts())
	if err != nil {
		return nil, classify(err, target)
	}
	if file != nil {
		return nil, source.ConfigurationErrf("%s is a file, not a directory", target)
	}

	items := make([]source.Item, 0, len(entries))
	for _, entry := range entries {
		item := source.Item{
			Name: entry.GetName(),
			Path: entry.GetPath(),
			Extra: map[string]any{
				"sha": entry.GetSHA(),
			},
		}
		switch entry.GetType() {
		case "dir":
			item.Type = source.TypeDirectory
			item.IsDirectory = true
		case "file", "symlink":
			item.Type = source.TypeFile
			size := int64(entry.GetSize())
			item.Size = &size
		default:
			item.Type = source.TypeUnknown
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Source) ChildPath(parent string, item source.Item) string {
	if item.Path != "" {
		return item.Path
	}
	if parent == "" {
		parent = s.path
	}
	return path.Join(parent, item.Name)
}

func (s *Source) IsDirectory(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return value
	}
	if s.path == "" {
		return true
	}
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, s.contentOpts())
	return err == nil && file == nil
}

func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	if s.path == "" {
		return false
	}
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, s.contentOpts())
	return err == nil && file != nil
}

// limitedDownload closes the underlying download when the capped reader is
// closed.
type limitedDownload struct {
	inner   io.ReadCloser
	limited io.Reader
}

func (l *limitedDownload) Read(p []byte) (int, error) { return l.limited.Read(p) }
func (l *limitedDownload) Close() error               { return l.inner.Close() }

func classify(err error, what string) error {
	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return source.ConnectionErrf("GitHub rate limit exceeded until %s", rateErr.Rate.Reset.Format(time.RFC3339))
	}
	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return source.NotFoundErrf("%s not found", what)
		case http.StatusUnauthorized:
			return source.AuthenticationErrf("GitHub authentication failed: %w", err)
		case http.StatusForbidden:
			if strings.Contains(strings.ToLower(ghErr.Message), "rate limit") {
				return source.ConnectionErrf("GitHub rate limit exceeded: %w", err)
			}
			return source.PermissionErrf("access denied to %s: %w", what, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return source.TimeoutErrf("GitHub request timed out for %s: %w", what, err)
	}
	return source.ConnectionErrf("GitHub request failed for %s: %w", what, err)
}
