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

package sftp

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      config.SourceConfig
		wantErr  bool
		wantHost string
		wantPort int
		wantPath string
	}{
		{
			name: "url_with_port_and_path",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "sftp://files.example.com:2022/data/report.csv",
			},
			wantHost: "files.example.com",
			wantPort: 2022,
			wantPath: "/data/report.csv",
		},
		{
			name: "url_default_port",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "sftp://files.example.com/data",
			},
			wantHost: "files.example.com",
			wantPort: 22,
			wantPath: "/data",
		},
		{
			name: "bare_path_with_static_host",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "/data/report.csv",
				StaticConfig: map[string]any{"host": "files.example.com", "port": 2200},
			},
			wantHost: "files.example.com",
			wantPort: 2200,
			wantPath: "/data/report.csv",
		},
		{
			name: "static_port_overrides_default",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "sftp://files.example.com/data",
				StaticConfig: map[string]any{"port": 2200},
			},
			wantHost: "files.example.com",
			wantPort: 2200,
			wantPath: "/data",
		},
		{
			name: "empty_path_defaults_to_dot",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "sftp://files.example.com",
			},
			wantHost: "files.example.com",
			wantPort: 22,
			wantPath: ".",
		},
		{
			name: "no_host_anywhere",
			cfg: config.SourceConfig{
				SourceID:     "srv",
				PathTemplate: "/data/report.csv",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(ctx, &tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, source.IsKind(err, source.KindConfiguration))
				return
			}
			require.NoError(t, err)
			defer src.Close()

			s := src.(*Source)
			assert.Equal(t, tt.wantHost, s.host)
			assert.Equal(t, tt.wantPort, s.port)
			assert.Equal(t, tt.wantPath, s.path)
			assert.True(t, s.IsWritable())
			assert.True(t, s.IsListable())
		})
	}
}

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestClassifyDial(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want source.Kind
	}{
		{
			name: "auth_failure",
			err:  errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]"),
			want: source.KindAuthentication,
		},
		{
			name: "no_methods_remain",
			err:  errors.New("ssh: no supported methods remain"),
			want: source.KindAuthentication,
		},
		{
			name: "dns_failure",
			err:  &net.DNSError{Err: "no such host", Name: "nope.example.com", IsNotFound: true},
			want: source.KindConnection,
		},
		{
			name: "dial_timeout",
			err:  fakeTimeout{},
			want: source.KindTimeout,
		},
		{
			name: "refused",
			err:  errors.New("dial tcp 10.0.0.1:22: connect: connection refused"),
			want: source.KindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyDial(tt.err, "files.example.com:22")
			assert.Equal(t, tt.want, source.KindOf(got))
			assert.Contains(t, got.Error(), "files.example.com:22")
		})
	}
}

func TestClassifyStat(t *testing.T) {
	assert.Equal(t, source.KindNotFound, source.KindOf(classifyStat(os.ErrNotExist, "/data/nope")))
	assert.Equal(t, source.KindPermission, source.KindOf(classifyStat(os.ErrPermission, "/data/locked")))
	assert.Equal(t, source.KindConnection, source.KindOf(classifyStat(errors.New("connection lost"), "/data/file")))
}

func TestLoadKeyMissingFile(t *testing.T) {
	assert.Nil(t, loadKey("/nonexistent/id_rsa", ""))
}
