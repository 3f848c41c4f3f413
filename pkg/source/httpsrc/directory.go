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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/walteh/sourcekit/pkg/source"
)

// directoryAPI describes a remote listing endpoint: where the items live in
// the response JSON, which fields map onto the item record, and which query
// parameters carry pagination arguments.
type directoryAPI struct {
	endpoint  string
	itemsPath string
	totalPath string

	nameField     string
	sizeField     string
	typeField     string
	modifiedField string
	pathField     string

	pageParam   string
	limitParam  string
	sortParam   string
	orderParam  string
	filterParam string
	pathParam   string
}

func parseDirectoryAPI(raw map[string]any) (*directoryAPI, error) {
	str := func(key, fallback string) string {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}

	api := &directoryAPI{
		endpoint:      str("endpoint", ""),
		itemsPath:     str("items_path", "items"),
		totalPath:     str("total_path", ""),
		nameField:     str("name_field", "name"),
		sizeField:     str("size_field", "size"),
		typeField:     str("type_field", "type"),
		modifiedField: str("modified_field", "modified"),
		pathField:     str("path_field", "path"),
		pageParam:     str("page_param", ""),
		limitParam:    str("limit_param", ""),
		sortParam:     str("sort_param", ""),
		orderParam:    str("order_param", ""),
		filterParam:   str("filter_param", ""),
		pathParam:     str("path_param", ""),
	}
	if api.endpoint == "" {
		return nil, source.ConfigurationErrf("directory_api requires an endpoint")
	}
	return api, nil
}

// hasNativePagination reports whether the endpoint accepts paging arguments;
// without them the generic in-memory pagination takes over.
func (api *directoryAPI) hasNativePagination() bool {
	return api.pageParam != "" && api.limitParam != ""
}

// ListContents lists via the configured directory API when there is one.
// Without it an HTTP source is file-like: the listing is a single synthetic
// entry describing the resource itself, not an error.
func (s *Source) ListContents(ctx context.Context, path string) ([]source.Item, error) {
	if s.dirAPI == nil {
		return s.selfListing(ctx)
	}
	items, _, err := s.fetchListing(ctx, path, nil)
	return items, err
}

// ListContentsPaginated calls through to the remote API with the mapped page
// parameters when the endpoint paginates natively; otherwise it falls back to
// the shared in-memory pagination.
func (s *Source) ListContentsPaginated(ctx context.Context, path string, p *source.Pagination) (*source.PaginatedResult, error) {
	if s.dirAPI == nil || !s.dirAPI.hasNativePagination() {
		return s.Base.ListContentsPaginated(ctx, path, p)
	}
	if p == nil {
		p = &source.Pagination{}
	}
	p.Normalize()

	items, total, err := s.fetchListing(ctx, path, p)
	if err != nil {
		return nil, err
	}
	if total < 0 {
		// The endpoint reported no total; infer a conservative one.
		total = p.EffectiveOffset() + len(items)
		if len(items) == p.Limit {
			total++
		}
	}
	for i := range items {
		if items[i].IsDirectory {
			items[i].HasChildren = boolPtr(true)
			items[i].Explorable = boolPtr(true)
			items[i].Children = []source.Item{}
		}
	}
	return source.NewPaginatedResult(items, total, p), nil
}

// fetchListing issues the listing GET and extracts items from the (possibly
// nested) JSON path. total is -1 when the response does not report one.
func (s *Source) fetchListing(ctx context.Context, path string, p *source.Pagination) ([]source.Item, int, error) {
	api := s.dirAPI

	endpoint, err := url.Parse(api.endpoint)
	if err != nil {
		return nil, -1, source.ConfigurationErrf("invalid directory_api endpoint %q: %w", api.endpoint, err)
	}
	query := endpoint.Query()
	if path != "" && api.pathParam != "" {
		query.Set(api.pathParam, path)
	}
	if p != nil {
		query.Set(api.pageParam, strconv.Itoa(p.Page))
		query.Set(api.limitParam, strconv.Itoa(p.Limit))
		if api.sortParam != "" {
			query.Set(api.sortParam, p.SortBy)
		}
		if api.orderParam != "" {
			query.Set(api.orderParam, p.SortOrder)
		}
		if api.filterParam != "" && p.FilterType != "" {
			query.Set(api.filterParam, p.FilterType)
		}
	}
	endpoint.RawQuery = query.Encode()

	req, err := s.newRequest(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, -1, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, -1, classifyTransport(err, endpoint.String())
	}
	defer resp.Body.Close()
	if err := statusError(resp.StatusCode, endpoint.String()); err != nil {
		return nil, -1, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, -1, source.ConnectionErrf("reading listing response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, -1, source.DataErrf("directory API returned invalid JSON")
	}

	listing := gjson.GetBytes(body, api.itemsPath)
	if !listing.Exists() || !listing.IsArray() {
		return nil, -1, source.DataErrf("directory API response has no item list at %q", api.itemsPath)
	}

	var items []source.Item
	listing.ForEach(func(_, raw gjson.Result) bool {
		item := source.Item{
			Name: raw.Get(api.nameField).String(),
			Path: raw.Get(api.pathField).String(),
			Type: source.TypeFile,
		}
		if item.Path == "" {
			item.Path = item.Name
		}
		switch raw.Get(api.typeField).String() {
		case "directory", "dir", "folder":
			item.Type = source.TypeDirectory
			item.IsDirectory = true
		}
		if size := raw.Get(api.sizeField); size.Exists() && !item.IsDirectory {
			bytes := size.Int()
			item.Size = &bytes
		}
		if modified := raw.Get(api.modifiedField); modified.Exists() {
			item.Modified, item.LastModified = source.NormalizeTimestamp(modified.Value())
		}
		items = append(items, item)
		return true
	})

	total := -1
	if api.totalPath != "" {
		if t := gjson.GetBytes(body, api.totalPath); t.Exists() {
			total = int(t.Int())
		}
	}
	return items, total, nil
}

// selfListing is the single-entry listing for file-like HTTP sources.
func (s *Source) selfListing(ctx context.Context) ([]source.Item, error) {
	item := source.Item{
		Name: urlBaseName(s.url),
		Path: s.url,
		Type: source.TypeFile,
	}
	if meta, err := s.GetMetadata(ctx); err == nil {
		item.Size = meta.Size
		item.Modified = meta.Modified
		item.LastModified = meta.LastModified
	}
	return []source.Item{item}, nil
}

func urlBaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return rawURL
	}
	trimmed := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func boolPtr(b bool) *bool { return &b }
