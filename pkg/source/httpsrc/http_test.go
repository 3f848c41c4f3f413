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

package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/sourcekit/pkg/cache"
	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func newSource(t *testing.T, cfg *config.SourceConfig) source.Source {
	t.Helper()
	deps := &source.Deps{
		Listing: cache.NewPersistentCache(t.TempDir()),
		TreeDir: t.TempDir(),
		State:   cache.NewState(t.TempDir()),
	}
	src, err := New(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func httpConfig(url string, static map[string]any) *config.SourceConfig {
	if static == nil {
		static = map[string]any{}
	}
	// Keep transport retries out of tests that count requests.
	if _, ok := static["retry_total"]; !ok {
		static["retry_total"] = 0
	}
	return &config.SourceConfig{
		SourceID:     "web",
		SourceType:   "http",
		PathTemplate: url,
		StaticConfig: static,
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *config.SourceConfig
		errContains string
	}{
		{
			name:        "non_http_scheme",
			cfg:         httpConfig("ftp://host/file", nil),
			errContains: "must start with http",
		},
		{
			name:        "bearer_without_token",
			cfg:         httpConfig("https://host/file", map[string]any{"auth_type": "bearer"}),
			errContains: "bearer auth requires a token",
		},
		{
			name:        "api_key_without_key",
			cfg:         httpConfig("https://host/file", map[string]any{"auth_type": "api_key"}),
			errContains: "api_key auth requires an api_key",
		},
		{
			name:        "basic_without_username",
			cfg:         httpConfig("https://host/file", map[string]any{"auth_type": "basic"}),
			errContains: "basic auth requires a username",
		},
		{
			name:        "unknown_auth_type",
			cfg:         httpConfig("https://host/file", map[string]any{"auth_type": "kerberos"}),
			errContains: "unknown auth_type",
		},
		{
			name: "directory_api_without_endpoint",
			cfg: httpConfig("https://host/file", map[string]any{
				"directory_api": map[string]any{"items_path": "items"},
			}),
			errContains: "directory_api requires an endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.True(t, source.IsKind(err, source.KindConfiguration))
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantOK     bool
		wantStatus string
	}{
		{name: "ok", statusCode: http.StatusOK, wantOK: true, wantStatus: source.StatusConnected},
		{name: "no_content_is_still_connected", statusCode: http.StatusNoContent, wantOK: true, wantStatus: source.StatusConnected},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantStatus: source.StatusUnauthorized},
		{name: "forbidden", statusCode: http.StatusForbidden, wantStatus: source.StatusUnauthorized},
		{name: "not_found", statusCode: http.StatusNotFound, wantStatus: source.StatusError},
		{name: "server_error", statusCode: http.StatusInternalServerError, wantStatus: source.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			src := newSource(t, httpConfig(server.URL, nil))
			res := src.TestConnection(context.Background())
			assert.Equal(t, tt.wantOK, res.Success)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.NotNil(t, res.ResponseTime)
		})
	}

	t.Run("unreachable_host", func(t *testing.T) {
		src := newSource(t, httpConfig("http://127.0.0.1:1/file", map[string]any{"timeout": 1}))
		res := src.TestConnection(context.Background())
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	})
}

func TestAuthHeaders(t *testing.T) {
	var gotAuth, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Custom-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	ctx := context.Background()

	t.Run("basic", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{
			"auth_type": "basic",
			"username":  "alice",
			"password":  "secret",
		}))
		src.TestConnection(ctx)
		assert.Equal(t, "Basic YWxpY2U6c2VjcmV0", gotAuth)
	})

	t.Run("bearer", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{
			"auth_type": "bearer",
			"token":     "tok123",
		}))
		src.TestConnection(ctx)
		assert.Equal(t, "Bearer tok123", gotAuth)
	})

	t.Run("api_key_custom_header", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{
			"auth_type":      "api_key",
			"api_key":        "k-1",
			"api_key_header": "X-Custom-Key",
		}))
		src.TestConnection(ctx)
		assert.Equal(t, "k-1", gotAPIKey)
	})

	t.Run("custom_headers_always_sent", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{
			"headers": map[string]any{"Authorization": "Token abc"},
		}))
		src.TestConnection(ctx)
		assert.Equal(t, "Token abc", gotAuth)
	})
}

func TestGetMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Sat, 15 Jun 2024 12:30:00 GMT")
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	src := newSource(t, httpConfig(server.URL, nil))
	meta, err := src.GetMetadata(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "application/json", meta.ContentType)
	assert.Equal(t, "abc123", meta.Checksum, "ETag quotes are stripped")
	require.NotNil(t, meta.Size)
	assert.Equal(t, int64(42), *meta.Size)
	assert.Equal(t, "2024-06-15T12:30:00Z", meta.LastModified)
}

func TestReadData(t *testing.T) {
	body := "0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if rng := r.Header.Get("Range"); rng != "" {
			// A cooperative server honors bytes=0-N.
			var from, to int
			_, err := fmt.Sscanf(rng, "bytes=%d-%d", &from, &to)
			require.NoError(t, err)
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte(body[from : to+1]))
			return
		}
		w.Write([]byte(body))
	}))
	defer server.Close()
	ctx := context.Background()

	src := newSource(t, httpConfig(server.URL, nil))

	t.Run("full", func(t *testing.T) {
		data, err := src.ReadData(ctx, source.ReadOptions{})
		require.NoError(t, err)
		assert.Equal(t, body, string(data))
	})

	t.Run("limit_becomes_range_request", func(t *testing.T) {
		data, err := src.ReadData(ctx, source.ReadOptions{Limit: 4})
		require.NoError(t, err)
		assert.Equal(t, "0123", string(data))
	})

}

func TestReadDataTruncatesWhenRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore Range entirely.
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	src := newSource(t, httpConfig(server.URL, nil))
	data, err := src.ReadData(context.Background(), source.ReadOptions{Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data), "the caller's bound holds even against a stubborn server")
}

func TestReadDataStatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   source.Kind
	}{
		{name: "not_found", statusCode: http.StatusNotFound, wantKind: source.KindNotFound},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantKind: source.KindAuthentication},
		{name: "forbidden", statusCode: http.StatusForbidden, wantKind: source.KindPermission},
		{name: "gateway_timeout", statusCode: http.StatusGatewayTimeout, wantKind: source.KindTimeout},
		{name: "server_error", statusCode: http.StatusInternalServerError, wantKind: source.KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			src := newSource(t, httpConfig(server.URL, nil))
			_, err := src.ReadData(context.Background(), source.ReadOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, source.KindOf(err))
		})
	}
}

func TestWriteData(t *testing.T) {
	var gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	ctx := context.Background()

	t.Run("read_only_by_default", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, nil))
		err := src.WriteData(ctx, []byte("x"), source.WriteOptions{})
		assert.True(t, source.IsKind(err, source.KindConfiguration))
	})

	t.Run("put_when_writable", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{"writable": true}))
		require.NoError(t, src.WriteData(ctx, []byte("payload"), source.WriteOptions{}))
		assert.Equal(t, http.MethodPut, gotMethod, "PUT is the default verb")
		assert.Equal(t, "payload", gotBody)
	})

	t.Run("post_on_request", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{"writable": true}))
		require.NoError(t, src.WriteData(ctx, []byte("p2"), source.WriteOptions{Method: "post"}))
		assert.Equal(t, http.MethodPost, gotMethod)
	})

	t.Run("other_verbs_rejected", func(t *testing.T) {
		src := newSource(t, httpConfig(server.URL, map[string]any{"writable": true}))
		err := src.WriteData(ctx, []byte("x"), source.WriteOptions{Method: "DELETE"})
		assert.True(t, source.IsKind(err, source.KindConfiguration))
	})
}

func TestListContentsWithoutDirectoryAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	src := newSource(t, httpConfig(server.URL+"/report.csv", nil))
	assert.False(t, src.IsListable())

	items, err := src.ListContents(context.Background(), "")
	require.NoError(t, err, "a file-like HTTP source lists itself, not an error")
	require.Len(t, items, 1)
	assert.Equal(t, "report.csv", items[0].Name)
	assert.Equal(t, source.TypeFile, items[0].Type)
}

func directoryAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	all := []map[string]any{
		{"filename": "a.txt", "bytes": 100, "kind": "file", "mtime": "2024-06-15T12:30:00Z"},
		{"filename": "b.txt", "bytes": 200, "kind": "file", "mtime": "2024-06-16T12:30:00Z"},
		{"filename": "docs", "kind": "folder"},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := all
		if p := r.URL.Query().Get("p"); p != "" {
			page, _ := strconv.Atoi(p)
			size, _ := strconv.Atoi(r.URL.Query().Get("n"))
			from := (page - 1) * size
			to := from + size
			if from > len(all) {
				from = len(all)
			}
			if to > len(all) {
				to = len(all)
			}
			items = all[from:to]
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"entries":[`)
		for i, item := range items {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"filename":%q,"kind":%q`, item["filename"], item["kind"])
			if size, ok := item["bytes"].(int); ok {
				fmt.Fprintf(w, `,"bytes":%d`, size)
			}
			if mtime, ok := item["mtime"].(string); ok {
				fmt.Fprintf(w, `,"mtime":%q`, mtime)
			}
			fmt.Fprint(w, "}")
		}
		fmt.Fprintf(w, `],"total":%d}}`, len(all))
	}))
}

func TestListContentsWithDirectoryAPI(t *testing.T) {
	server := directoryAPIServer(t)
	defer server.Close()

	src := newSource(t, httpConfig(server.URL+"/root", map[string]any{
		"directory_api": map[string]any{
			"endpoint":       server.URL + "/api/list",
			"items_path":     "result.entries",
			"total_path":     "result.total",
			"name_field":     "filename",
			"size_field":     "bytes",
			"type_field":     "kind",
			"modified_field": "mtime",
		},
	}))
	assert.True(t, src.IsListable())

	items, err := src.ListContents(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "a.txt", items[0].Name)
	require.NotNil(t, items[0].Size)
	assert.Equal(t, int64(100), *items[0].Size)
	assert.Equal(t, "2024-06-15T12:30:00Z", items[0].LastModified)
	require.NotNil(t, items[0].Modified)

	docs := items[2]
	assert.Equal(t, source.TypeDirectory, docs.Type, `"folder" maps onto the directory type`)
	assert.True(t, docs.IsDirectory)
	assert.Nil(t, docs.Size)
}

func TestListContentsPaginatedNative(t *testing.T) {
	server := directoryAPIServer(t)
	defer server.Close()

	src := newSource(t, httpConfig(server.URL+"/root", map[string]any{
		"directory_api": map[string]any{
			"endpoint":    server.URL + "/api/list",
			"items_path":  "result.entries",
			"total_path":  "result.total",
			"name_field":  "filename",
			"size_field":  "bytes",
			"type_field":  "kind",
			"page_param":  "p",
			"limit_param": "n",
		},
	}))

	result, err := src.ListContentsPaginated(context.Background(), "", &source.Pagination{Page: 2, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalCount, "the server-reported total is trusted")
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "docs", result.Items[0].Name)
	assert.False(t, result.HasNext)
}
