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

// Package command defines the typed command object contract between the
// core and its upstream parser/dispatcher (spec §6.1). It is data only:
// no lexer, no grammar, no dispatch loop. The upstream parser/dispatcher
// (out of scope per spec §1) is the only producer of these values; the
// core (internal/engine) is the only consumer.
package command

import (
	"fmt"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
)

// FieldDecl declares one field of a Define command.
type FieldDecl struct {
	Name     string
	Type     event.Kind
	Nullable bool
	Variants []string // only meaningful when Type == event.KindEnum
}

// Define registers a new event_type or a new version of an existing one.
// Version is not consulted when the command runs: Engine.Execute registers
// every Define as the registry's next version, whatever value it holds.
type Define struct {
	EventType string
	Fields    []FieldDecl
	Version   int
}

// Store appends one event, to be validated against EventType's current
// schema.
type Store struct {
	EventType string
	ContextID string
	Timestamp int64
	Payload   map[string]event.Value
}

// OrderTerm is one ORDER BY term of a Query.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Query is an ad-hoc filter over one event_type, optionally scoped to a
// single context and a time window.
type Query struct {
	EventType      string
	ContextID      string // optional: empty scans every context
	Since          int64
	UsingTimeField string
	ReturnFields   []string // empty means every declared field
	Filter         filter.Node
	Limit          int
	Offset         int
	OrderBy        []OrderTerm
}

// Replay returns one context's events in write order. EventType may be
// empty to replay every event_type for ContextID.
type Replay struct {
	EventType      string
	ContextID      string
	Since          int64
	UsingTimeField string
}

// Flush forces every shard to rotate its active memtable and durably
// publish the resulting segment before returning.
type Flush struct{}

// Command is a tagged union over the five command kinds (spec §6.1).
// Exactly one field is non-nil, the same struct-of-pointers shape as
// stream.Frame, for the same reason: a type switch on five concrete
// structs reads worse than five named fields a caller can check directly.
type Command struct {
	Define *Define
	Store  *Store
	Query  *Query
	Replay *Replay
	Flush  *Flush
}

// Validate reports whether c carries exactly one populated variant with
// its required fields set. A malformed command object from the upstream
// parser is a Protocol error (spec §7), not a panic: the core must stay
// up regardless of what the parser hands it.
func (c Command) Validate() error {
	set := 0
	var err error
	if c.Define != nil {
		set++
		err = c.Define.validate()
	}
	if c.Store != nil {
		set++
		err = c.Store.validate()
	}
	if c.Query != nil {
		set++
		err = c.Query.validate()
	}
	if c.Replay != nil {
		set++
		err = c.Replay.validate()
	}
	if c.Flush != nil {
		set++
	}
	if set == 0 {
		return errs.New(errs.Protocol, "command: no variant set")
	}
	if set > 1 {
		return errs.New(errs.Protocol, "command: more than one variant set")
	}
	if err != nil {
		return err
	}
	return nil
}

func (d *Define) validate() error {
	if d.EventType == "" {
		return errs.New(errs.Protocol, "command: define: event_type required")
	}
	if len(d.Fields) == 0 {
		return errs.New(errs.Protocol, "command: define: at least one field required")
	}
	for _, f := range d.Fields {
		if f.Name == "" {
			return errs.New(errs.Protocol, "command: define: field name required")
		}
		if f.Type == event.KindEnum && len(f.Variants) == 0 {
			return errs.New(errs.Protocol, fmt.Sprintf("command: define: field %q: enum requires variants", f.Name))
		}
	}
	return nil
}

func (s *Store) validate() error {
	if s.EventType == "" {
		return errs.New(errs.Protocol, "command: store: event_type required")
	}
	if s.ContextID == "" {
		return errs.New(errs.Protocol, "command: store: context_id required")
	}
	return nil
}

func (q *Query) validate() error {
	if q.EventType == "" {
		return errs.New(errs.Protocol, "command: query: event_type required")
	}
	if q.Limit < 0 {
		return errs.New(errs.Protocol, "command: query: limit must be >= 0")
	}
	if q.Offset < 0 {
		return errs.New(errs.Protocol, "command: query: offset must be >= 0")
	}
	return nil
}

func (r *Replay) validate() error {
	if r.ContextID == "" {
		return errs.New(errs.Protocol, "command: replay: context_id required")
	}
	return nil
}
