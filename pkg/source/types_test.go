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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Pagination
		want Pagination
	}{
		{
			name: "zero_value_gets_defaults",
			in:   Pagination{},
			want: Pagination{Page: 1, Limit: DefaultPageLimit, SortBy: SortByName, SortOrder: SortAsc},
		},
		{
			name: "limit_clamped_to_max",
			in:   Pagination{Page: 2, Limit: 9000},
			want: Pagination{Page: 2, Limit: MaxPageLimit, SortBy: SortByName, SortOrder: SortAsc},
		},
		{
			name: "negative_page_becomes_first",
			in:   Pagination{Page: -3, Limit: 10},
			want: Pagination{Page: 1, Limit: 10, SortBy: SortByName, SortOrder: SortAsc},
		},
		{
			name: "invalid_sort_falls_back_to_name",
			in:   Pagination{Page: 1, Limit: 10, SortBy: "color", SortOrder: "sideways"},
			want: Pagination{Page: 1, Limit: 10, SortBy: SortByName, SortOrder: SortAsc},
		},
		{
			name: "valid_values_kept",
			in:   Pagination{Page: 3, Limit: 25, SortBy: SortBySize, SortOrder: SortDesc},
			want: Pagination{Page: 3, Limit: 25, SortBy: SortBySize, SortOrder: SortDesc},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.Normalize()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveOffset(t *testing.T) {
	p := (&Pagination{Page: 3, Limit: 20}).Normalize()
	assert.Equal(t, 40, p.EffectiveOffset(), "page-derived offset")

	p.Offset = intPtr(7)
	assert.Equal(t, 7, p.EffectiveOffset(), "explicit offset wins")
}

func TestNewPaginatedResult(t *testing.T) {
	p := (&Pagination{Page: 2, Limit: 10}).Normalize()
	items := make([]Item, 10)

	result := NewPaginatedResult(items, 35, p)
	assert.Equal(t, 4, result.TotalPages, "35 items at 10 per page is 4 pages")
	assert.True(t, result.HasNext)
	assert.True(t, result.HasPrevious)

	last := NewPaginatedResult(make([]Item, 5), 35, (&Pagination{Page: 4, Limit: 10}).Normalize())
	assert.False(t, last.HasNext, "the final partial page has no next")
	assert.True(t, last.HasPrevious)
}
