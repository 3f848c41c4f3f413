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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/tozd/go/errors"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "not_found", err: NotFoundErrf("missing"), want: KindNotFound},
		{name: "connection", err: ConnectionErrf("down"), want: KindConnection},
		{name: "configuration", err: ConfigurationErrf("bad"), want: KindConfiguration},
		{name: "permission", err: PermissionErrf("denied"), want: KindPermission},
		{name: "data", err: DataErrf("garbled"), want: KindData},
		{name: "timeout", err: TimeoutErrf("slow"), want: KindTimeout},
		{name: "authentication", err: AuthenticationErrf("rejected"), want: KindAuthentication},
		{name: "foreign_error_is_unclassified", err: io.ErrUnexpectedEOF, want: KindNone},
		{
			name: "kind_survives_wrapping",
			err:  errors.Errorf("listing failed: %w", NotFoundErrf("missing")),
			want: KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrfKeepsCauseInChain(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := ConnectionErrf("reading stream: %w", cause)

	assert.True(t, errors.Is(err, cause), "the native error stays unwrappable")
	assert.True(t, IsKind(err, KindConnection))
	assert.Contains(t, err.Error(), "reading stream")
}
