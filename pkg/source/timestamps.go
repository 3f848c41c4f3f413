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
	"strconv"
	"strings"
	"time"
)

// isoLayouts are tried in order when parsing string timestamps. RFC3339 covers
// ISO-8601 with offsets and trailing Z; the bare layouts cover backends that
// emit naive timestamps.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp converts any last-modified value a backend produces into
// the pair every listing carries: a Unix timestamp in seconds and an ISO-8601
// string. Accepted inputs: time.Time, *time.Time, any int/float Unix
// timestamp, an ISO-8601 string (with or without trailing Z), or a numeric
// string. Both outputs are empty together when the input is absent, of an
// unrecognized type, or fails every parse attempt.
func NormalizeTimestamp(v any) (*float64, string) {
	switch t := v.(type) {
	case nil:
		return nil, ""
	case time.Time:
		return fromTime(t)
	case *time.Time:
		if t == nil {
			return nil, ""
		}
		return fromTime(*t)
	case int:
		return fromUnix(float64(t))
	case int32:
		return fromUnix(float64(t))
	case int64:
		return fromUnix(float64(t))
	case uint32:
		return fromUnix(float64(t))
	case uint64:
		return fromUnix(float64(t))
	case float32:
		return fromUnix(float64(t))
	case float64:
		return fromUnix(t)
	case string:
		return fromString(t)
	default:
		return nil, ""
	}
}

func fromTime(t time.Time) (*float64, string) {
	if t.IsZero() {
		return nil, ""
	}
	ts := float64(t.UnixNano()) / float64(time.Second)
	return &ts, t.UTC().Format(time.RFC3339)
}

func fromUnix(ts float64) (*float64, string) {
	if ts <= 0 {
		return nil, ""
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return &ts, time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

func fromString(s string) (*float64, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ""
	}
	if ts, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(ts)
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fromTime(t)
		}
	}
	return nil, ""
}
