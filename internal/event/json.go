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
package event

import (
	"encoding/json"
	"fmt"
)

// wireValue is the WAL/JSON-record shape of a Value (§4.1: "Records are
// JSON objects, one per line").
type wireValue struct {
	K string      `json:"k"`
	V interface{} `json:"v,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{K: v.Kind.String()}
	switch v.Kind {
	case KindNull:
		// no value
	case KindString, KindEnum:
		w.V = v.Str
	case KindInt, KindDateTime, KindDate:
		w.V = v.Int
	case KindFloat:
		w.V = v.Flt
	case KindBool:
		w.V = v.Bool
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.K {
	case "null", "":
		*v = Null()
	case "string":
		s, _ := w.V.(string)
		*v = FromString(s)
	case "enum":
		s, _ := w.V.(string)
		*v = FromEnum(s)
	case "int":
		*v = FromInt(toInt64(w.V))
	case "datetime":
		*v = FromDateTime(toInt64(w.V))
	case "date":
		*v = FromDate(toInt64(w.V))
	case "float":
		f, _ := w.V.(float64)
		*v = FromFloat(f)
	case "bool":
		b, _ := w.V.(bool)
		*v = FromBool(b)
	default:
		return fmt.Errorf("event: unknown value kind %q", w.K)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// Record is the exact on-the-wire shape of one WAL line (§4.1/§6.2).
type Record struct {
	EventType string           `json:"event_type"`
	ContextID string           `json:"context_id"`
	Timestamp int64            `json:"timestamp"`
	Payload   map[string]Value `json:"payload"`
}

func (e Event) ToRecord() Record {
	return Record{EventType: e.EventType, ContextID: e.ContextID, Timestamp: e.Timestamp, Payload: e.Payload}
}

func (r Record) ToEvent() Event {
	return Event{EventType: r.EventType, ContextID: r.ContextID, Timestamp: r.Timestamp, Payload: r.Payload}
}
