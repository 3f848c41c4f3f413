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

package s3

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "bucket_and_key", input: "s3://my-bucket/path/to/file.csv", wantBucket: "my-bucket", wantKey: "path/to/file.csv"},
		{name: "bucket_only", input: "s3://my-bucket", wantBucket: "my-bucket"},
		{name: "bucket_with_trailing_slash", input: "s3://my-bucket/", wantBucket: "my-bucket", wantKey: ""},
		{name: "prefix_key", input: "s3://my-bucket/reports/", wantBucket: "my-bucket", wantKey: "reports/"},
		{name: "wrong_scheme", input: "gs://my-bucket/file", wantErr: true},
		{name: "no_bucket", input: "s3:///file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := splitPath(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, source.IsKind(err, source.KindConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestValidateBucketName(t *testing.T) {
	valid := []string{"abc", "my-bucket", "my.bucket.2024", "a1b"}
	for _, name := range valid {
		assert.NoError(t, validateBucketName(name), name)
	}

	invalid := []string{"ab", "UPPERCASE", "under_score", "spaces here", "x"}
	for _, name := range invalid {
		err := validateBucketName(name)
		require.Error(t, err, name)
		assert.True(t, source.IsKind(err, source.KindConfiguration), name)
	}

	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, validateBucketName(string(long)))
}

func TestNewValidatesEagerly(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, &config.SourceConfig{
		SourceID:     "b",
		SourceType:   "s3",
		PathTemplate: "s3://Bad_Bucket/file",
	}, nil)
	require.Error(t, err)
	assert.True(t, source.IsKind(err, source.KindConfiguration), "bucket syntax fails before any remote call")

	src, err := New(ctx, &config.SourceConfig{
		SourceID:     "b",
		SourceType:   "s3",
		PathTemplate: "s3://my-bucket/reports/q1.csv",
		StaticConfig: map[string]any{
			"region":     "eu-west-1",
			"access_key": "AKIAEXAMPLE",
			"secret_key": "secret",
		},
	}, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.True(t, src.IsWritable())
	assert.True(t, src.IsListable())
	assert.True(t, src.SupportsExpiry())
}

func TestExpiryTime(t *testing.T) {
	ctx := context.Background()

	writeCredentials := func(t *testing.T, content string) {
		t.Helper()
		path := filepath.Join(t.TempDir(), "credentials")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("AWS_SHARED_CREDENTIALS_FILE", path)
	}

	newS3 := func(t *testing.T, profile string) source.Source {
		t.Helper()
		static := map[string]any{"access_key": "AKIAEXAMPLE", "secret_key": "secret"}
		if profile != "" {
			static["profile"] = profile
		}
		src, err := New(ctx, &config.SourceConfig{
			SourceID:     "b",
			SourceType:   "s3",
			PathTemplate: "s3://my-bucket/file",
			StaticConfig: static,
		}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { src.Close() })
		return src
	}

	t.Run("session_expiry_from_default_profile", func(t *testing.T) {
		writeCredentials(t, `[default]
aws_access_key_id = AKIAEXAMPLE
aws_secret_access_key = secret
x_security_token_expires = 2024-06-15T12:30:00Z
`)
		expiry, err := newS3(t, "").ExpiryTime(ctx)
		require.NoError(t, err)
		require.NotNil(t, expiry)
		assert.Equal(t, time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC), expiry.UTC())
	})

	t.Run("named_profile", func(t *testing.T) {
		writeCredentials(t, `[default]
aws_access_key_id = AKIAEXAMPLE

[staging]
aws_session_expiration = 1718454600
`)
		expiry, err := newS3(t, "staging").ExpiryTime(ctx)
		require.NoError(t, err)
		require.NotNil(t, expiry)
		assert.Equal(t, time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC), expiry.UTC())
	})

	t.Run("long_lived_keys_have_no_expiry", func(t *testing.T) {
		writeCredentials(t, `[default]
aws_access_key_id = AKIAEXAMPLE
aws_secret_access_key = secret
`)
		expiry, err := newS3(t, "").ExpiryTime(ctx)
		require.NoError(t, err)
		assert.Nil(t, expiry, "no expiry key means no expiry, not an error")
	})

	t.Run("missing_credentials_file", func(t *testing.T) {
		t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "nope"))
		expiry, err := newS3(t, "").ExpiryTime(ctx)
		require.NoError(t, err)
		assert.Nil(t, expiry)
	})
}
