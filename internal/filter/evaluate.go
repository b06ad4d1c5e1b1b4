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
package filter

import "github.com/sneldb/sneldb/internal/event"

// Row is anything the evaluator can pull a field value out of — satisfied
// both by a memtable event.Event.Payload and by a hydrated column batch row.
type Row interface {
	Field(name string) (event.Value, bool)
}

// MapRow adapts a plain payload map to Row.
type MapRow map[string]event.Value

func (m MapRow) Field(name string) (event.Value, bool) { v, ok := m[name]; return v, ok }

// Matches evaluates a compiled filter tree against one row (§4.5
// "evaluate(filter, batch) -> row_mask", applied one row at a time here; the
// segment reader calls this per row of a hydrated ColumnBatch).
func Matches(n Node, row Row) bool {
	switch n.Kind {
	case KindLeaf:
		return matchLeaf(n, row)
	case KindAnd:
		for _, c := range n.Children {
			if !Matches(c, row) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if Matches(c, row) {
				return true
			}
		}
		return false
	case KindNot:
		return !Matches(n.Children[0], row)
	default:
		return false
	}
}

func matchLeaf(n Node, row Row) bool {
	v, ok := row.Field(n.Field)
	if !ok || v.IsNull() {
		return false
	}
	if n.LeafOp != In && safeCompare(v, n.Value) == 2 {
		return false
	}
	switch n.LeafOp {
	case Eq:
		return safeCompare(v, n.Value) == 0
	case Neq:
		return safeCompare(v, n.Value) != 0
	case Lt:
		return safeCompare(v, n.Value) < 0
	case Lte:
		return safeCompare(v, n.Value) <= 0
	case Gt:
		return safeCompare(v, n.Value) > 0
	case Gte:
		return safeCompare(v, n.Value) >= 0
	case In:
		for _, cand := range n.Values {
			if safeCompare(v, cand) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// safeCompare never panics on a type mismatch (§7 "Arithmetic over
// incompatible types is a type error", surfaced to callers as "no match"
// rather than crashing the evaluator for one bad row).
func safeCompare(a, b event.Value) (result int) {
	defer func() {
		if recover() != nil {
			result = 2 // sentinel: never equal, never ordered
		}
	}()
	return event.Compare(a, b)
}
