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
	"gitlab.com/tozd/go/errors"
)

// Kind is the closed vocabulary of source failures. Every backend maps its
// native errors into exactly one Kind at the boundary; callers branch on Kind,
// never on backend-specific error types or message text.
type Kind string

const (
	KindNone           Kind = ""
	KindGeneric        Kind = "source"
	KindNotFound       Kind = "not_found"
	KindConnection     Kind = "connection"
	KindConfiguration  Kind = "configuration"
	KindPermission     Kind = "permission"
	KindData           Kind = "data"
	KindTimeout        Kind = "timeout"
	KindAuthentication Kind = "authentication"
)

// Error is the one error type that escapes a backend's public methods.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

// Errf builds a kinded error. The format string supports %w so backends can
// keep the native error in the chain for logging while callers still see only
// the Kind.
func Errf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: errors.Errorf(format, args...)}
}

// NotFoundErrf and friends are shorthands for the common kinds.
func NotFoundErrf(format string, args ...any) error {
	return Errf(KindNotFound, format, args...)
}

func ConnectionErrf(format string, args ...any) error {
	return Errf(KindConnection, format, args...)
}

func ConfigurationErrf(format string, args ...any) error {
	return Errf(KindConfiguration, format, args...)
}

func PermissionErrf(format string, args ...any) error {
	return Errf(KindPermission, format, args...)
}

func DataErrf(format string, args ...any) error {
	return Errf(KindData, format, args...)
}

func TimeoutErrf(format string, args ...any) error {
	return Errf(KindTimeout, format, args...)
}

func AuthenticationErrf(format string, args ...any) error {
	return Errf(KindAuthentication, format, args...)
}

// KindOf classifies any error. Errors that did not come from this package
// report KindNone so callers can tell "unclassified" apart from "generic".
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return KindNone
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
