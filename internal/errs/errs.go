/*
Copyright (C) 2025  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package errs defines the core's error taxonomy (spec §7): a fixed set of
// Kinds, not a type hierarchy. Every error the core returns across a
// package boundary wraps one of these kinds so callers can branch on
// "what went wrong" without type-asserting concrete error structs.
package errs

import "errors"

// Kind classifies why an operation failed, independent of which package
// raised it.
type Kind int

const (
	Internal Kind = iota
	Schema
	Durability
	Storage
	Resource
	Protocol
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Schema:
		return "schema"
	case Durability:
		return "durability"
	case Storage:
		return "storage"
	case Resource:
		return "resource"
	case Protocol:
		return "protocol"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error pairs a Kind with the underlying cause. It satisfies the standard
// errors.Is/As/Unwrap protocol so wrapped causes stay inspectable.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind an error was wrapped with, defaulting to
// Internal for errors that never passed through Wrap/New — an invariant
// violation deep in an unfamiliar code path is exactly what Internal means.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
