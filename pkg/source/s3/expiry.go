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
	"time"

	"gopkg.in/ini.v1"

	"github.com/walteh/sourcekit/pkg/source"
)

// expiryKeys are the credential-file keys tools record a session token's
// expiry under, in the order we trust them.
var expiryKeys = []string{
	"x_security_token_expires",
	"aws_session_expiration",
	"aws_expiration",
}

// ExpiryTime reads the session-token expiry recorded in the local AWS
// credentials file for the active profile. Sources using long-lived keys have
// no expiry; that is a nil time, not an error.
func (s *Source) ExpiryTime(ctx context.Context) (*time.Time, error) {
	path := credentialsFilePath()
	if path == "" {
		return nil, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return nil, nil
	}

	profile := s.profile
	if profile == "" {
		profile = "default"
	}
	section, err := file.GetSection(profile)
	if err != nil {
		return nil, nil
	}

	for _, key := range expiryKeys {
		if !section.HasKey(key) {
			continue
		}
		// Either an ISO-8601 string or a numeric timestamp, same parser as
		// every listing timestamp.
		ts, _ := source.NormalizeTimestamp(section.Key(key).String())
		if ts != nil {
			expiry := time.Unix(int64(*ts), 0).UTC()
			return &expiry, nil
		}
	}
	return nil, nil
}

func credentialsFilePath() string {
	if env := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "credentials")
}
