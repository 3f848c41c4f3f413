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
	"math"
)

// Item type discriminators. Unknown is used for entries that could not be
// stat'ed during a listing; the listing itself still succeeds.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeUnknown   = "unknown"
)

// Connection test statuses.
const (
	StatusConnected    = "connected"
	StatusError        = "error"
	StatusTimeout      = "timeout"
	StatusUnauthorized = "unauthorized"
)

// Sort fields and orders accepted by Pagination.
const (
	SortByName     = "name"
	SortBySize     = "size"
	SortByModified = "modified"

	SortAsc  = "asc"
	SortDesc = "desc"

	FilterFiles       = "files"
	FilterDirectories = "directories"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// Metadata describes the state of a source's target resource. Size is nil for
// directories; Modified/LastModified come from NormalizeTimestamp so they are
// either both set or both empty.
type Metadata struct {
	Size         *int64         `json:"size"`
	Modified     *float64       `json:"modified,omitempty"`
	LastModified string         `json:"last_modified,omitempty"`
	ContentType  string         `json:"content_type,omitempty"`
	Encoding     string         `json:"encoding,omitempty"`
	Checksum     string         `json:"checksum,omitempty"`
	Permissions  string         `json:"permissions,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// TestResult is the outcome of TestConnection. It is a value, never an error:
// every failure mode a connection test can hit is folded into these fields.
type TestResult struct {
	Success      bool           `json:"success"`
	Status       string         `json:"status"`
	Message      string         `json:"message"`
	ResponseTime *float64       `json:"response_time,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Item is one entry in a directory listing or exploration tree.
//
// HasChildren/Explorable/Children are only populated by the pagination and
// tree-walk paths; a plain ListContents leaves them unset. Error marks entries
// that could not be fully resolved (stat failure, inaccessible subdirectory)
// without failing the whole operation.
type Item struct {
	Name         string         `json:"name"`
	Path         string         `json:"path"`
	Type         string         `json:"type"`
	IsDirectory  bool           `json:"is_directory"`
	Size         *int64         `json:"size"`
	Modified     *float64       `json:"modified,omitempty"`
	LastModified string         `json:"last_modified,omitempty"`
	HasChildren  *bool          `json:"has_children,omitempty"`
	Explorable   *bool          `json:"explorable,omitempty"`
	Children     []Item         `json:"children"`
	Error        string         `json:"error,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Pagination carries the paging, sorting and filtering arguments for
// ListContentsPaginated. The zero value is usable; Normalize fills defaults.
type Pagination struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	Offset    *int   `json:"offset,omitempty"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`

	// FilterType is "files", "directories", or empty for no filtering.
	FilterType string `json:"filter_type,omitempty"`
}

// Normalize clamps the pagination into its valid ranges and fills defaults.
// It returns the receiver for chaining.
func (p *Pagination) Normalize() *Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	switch p.SortBy {
	case SortByName, SortBySize, SortByModified:
	default:
		p.SortBy = SortByName
	}
	switch p.SortOrder {
	case SortAsc, SortDesc:
	default:
		p.SortOrder = SortAsc
	}
	return p
}

// EffectiveOffset is the explicit offset when given, else (page-1)*limit.
func (p *Pagination) EffectiveOffset() int {
	if p.Offset != nil && *p.Offset >= 0 {
		return *p.Offset
	}
	return (p.Page - 1) * p.Limit
}

// PaginatedResult is one page of a listing plus enough bookkeeping for a
// caller to iterate without re-deriving anything.
type PaginatedResult struct {
	Items       []Item `json:"items"`
	TotalCount  int    `json:"total_count"`
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
	HasNext     bool   `json:"has_next"`
	HasPrevious bool   `json:"has_previous"`
	TotalPages  int    `json:"total_pages"`
	SortBy      string `json:"sort_by"`
	SortOrder   string `json:"sort_order"`
}

// NewPaginatedResult builds a result page from an already-sliced item set and
// the true total count of the unsliced listing.
func NewPaginatedResult(items []Item, totalCount int, p *Pagination) *PaginatedResult {
	totalPages := int(math.Ceil(float64(totalCount) / float64(p.Limit)))
	return &PaginatedResult{
		Items:       items,
		TotalCount:  totalCount,
		Page:        p.Page,
		Limit:       p.Limit,
		HasNext:     p.EffectiveOffset()+len(items) < totalCount,
		HasPrevious: p.Page > 1,
		TotalPages:  totalPages,
		SortBy:      p.SortBy,
		SortOrder:   p.SortOrder,
	}
}

// Read modes. ModeAuto lets the backend decide (local defaults to text, HTTP
// inspects the Content-Type header).
const (
	ModeText   = "text"
	ModeBinary = "binary"
	ModeAuto   = "auto"
)

// ReadOptions controls ReadData and ReadStream.
type ReadOptions struct {
	// Mode is text, binary or auto.
	Mode string

	// Encoding is the text decoding to apply in text mode. Defaults to utf-8,
	// which is also the only encoding verified natively; anything else is
	// passed through as raw bytes with the declared encoding recorded.
	Encoding string

	// Limit caps the number of bytes read. Backends that can express it at the
	// protocol level (range requests, bounded reads) do so; others read fully
	// and truncate.
	Limit int64
}

// WriteOptions controls WriteData.
type WriteOptions struct {
	// Append appends instead of overwriting, where the backend supports it.
	Append bool

	// Method selects the HTTP verb for HTTP writes (PUT or POST).
	Method string
}

func boolPtr(b bool) *bool { return &b }
