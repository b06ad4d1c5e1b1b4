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

// Package schema implements the persistent event_type -> UID + field
// schema registry (spec §3, §4's "Schema registry" component).
package schema

import (
	"fmt"

	"github.com/sneldb/sneldb/internal/event"
)

// FieldDef is one (name, type) pair of a schema.
type FieldDef struct {
	Name     string
	Type     event.Kind
	Nullable bool
	Variants []string // only meaningful when Type == event.KindEnum
}

// Schema is one versioned event_type definition.
type Schema struct {
	UID       string
	EventType string
	Version   int
	Fields    []FieldDef
}

func (s *Schema) field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Validate checks a payload against the schema: every non-nullable field
// must be present, no extra fields are allowed, enum variants are
// case-sensitive and must be declared (spec §3).
func (s *Schema) Validate(payload map[string]event.Value) error {
	seen := make(map[string]struct{}, len(payload))
	for name, v := range payload {
		f, ok := s.field(name)
		if !ok {
			return fmt.Errorf("%w: unexpected field %q for event type %q", ErrSchema, name, s.EventType)
		}
		if err := validateValue(f, v); err != nil {
			return err
		}
		seen[name] = struct{}{}
	}
	for _, f := range s.Fields {
		if _, ok := seen[f.Name]; !ok && !f.Nullable {
			return fmt.Errorf("%w: missing required field %q for event type %q", ErrSchema, f.Name, s.EventType)
		}
	}
	return nil
}

func validateValue(f FieldDef, v event.Value) error {
	if v.IsNull() {
		if !f.Nullable {
			return fmt.Errorf("%w: field %q is not nullable", ErrSchema, f.Name)
		}
		return nil
	}
	if v.Kind != f.Type {
		return fmt.Errorf("%w: field %q expects %s, got %s", ErrSchema, f.Name, f.Type, v.Kind)
	}
	if f.Type == event.KindEnum {
		for _, variant := range f.Variants {
			if variant == v.Str {
				return nil
			}
		}
		return fmt.Errorf("%w: field %q has invalid enum variant %q", ErrSchema, f.Name, v.Str)
	}
	return nil
}

// ErrSchema tags every schema-validation failure, matching the "Schema"
// kind of spec §7's error taxonomy. Callers use errors.Is.
var ErrSchema = fmt.Errorf("schema error")
