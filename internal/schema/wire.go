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
package schema

import (
	"fmt"

	"github.com/sneldb/sneldb/internal/event"
)

// KindFromWire maps the §6.1 wire type names to event.Kind.
func KindFromWire(name string) (event.Kind, error) {
	switch name {
	case "string":
		return event.KindString, nil
	case "int":
		return event.KindInt, nil
	case "float":
		return event.KindFloat, nil
	case "bool":
		return event.KindBool, nil
	case "datetime":
		return event.KindDateTime, nil
	case "date":
		return event.KindDate, nil
	case "enum":
		return event.KindEnum, nil
	case "null":
		return event.KindNull, nil
	default:
		return 0, fmt.Errorf("%w: unknown field type %q", ErrSchema, name)
	}
}

func kindToWire(k event.Kind) string {
	return k.String()
}

func toWire(s *Schema) wireSchema {
	w := wireSchema{UID: s.UID, EventType: s.EventType, Version: s.Version}
	w.Fields = make([]wireField, len(s.Fields))
	for i, f := range s.Fields {
		w.Fields[i] = wireField{
			Name:     f.Name,
			Type:     kindToWire(f.Type),
			Nullable: f.Nullable,
			Variants: f.Variants,
		}
	}
	return w
}

func fromWire(w wireSchema) *Schema {
	s := &Schema{UID: w.UID, EventType: w.EventType, Version: w.Version}
	s.Fields = make([]FieldDef, len(w.Fields))
	for i, f := range w.Fields {
		k, err := KindFromWire(f.Type)
		if err != nil {
			k = event.KindString // tolerate unknown future types on replay
		}
		s.Fields[i] = FieldDef{Name: f.Name, Type: k, Nullable: f.Nullable, Variants: f.Variants}
	}
	return s
}
