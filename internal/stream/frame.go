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

// Package stream implements the core's result-delivery contract (spec
// §6.1, §9 "coroutine-style streaming"): a bounded producer/consumer
// channel of typed frames — SchemaSnapshot, then zero or more RowBatches,
// then a terminal End or Error. A Query/Replay caller ranges over the
// channel like the teacher's storage/scan.go ranges over its own result
// channel; dropping the range loop (or cancelling the context) is the
// whole cancellation story, no callback graph required.
package stream

import (
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
)

// ColumnDef is one column of a SchemaSnapshot: name plus logical type.
type ColumnDef struct {
	Name string
	Type event.Kind
}

// SchemaSnapshot is always the first frame of a result stream.
type SchemaSnapshot struct {
	Columns []ColumnDef
}

// RowBatch carries up to a configured batch size of rows (spec's
// streaming_batch_size). Batches preserve the order rows arrived in from
// their source; the coordinator does not reorder within a batch.
type RowBatch struct {
	Rows []event.Event
}

// End is the terminal success frame.
type End struct {
	RowCount int
}

// ErrorFrame is the terminal failure frame. Rows already emitted on the
// stream remain valid (spec §7): a terminal error does not retract them.
type ErrorFrame struct {
	Kind    errs.Kind
	Message string
}

func (e ErrorFrame) Error() string { return e.Message }

// Frame is a tagged union over the four frame kinds. Exactly one field is
// non-nil. A struct-of-pointers is used instead of an interface with
// marker methods so callers can switch on the populated field directly.
type Frame struct {
	Schema *SchemaSnapshot
	Rows   *RowBatch
	End    *End
	Err    *ErrorFrame
}

func schemaFrame(s SchemaSnapshot) Frame { return Frame{Schema: &s} }
func rowsFrame(rows []event.Event) Frame { return Frame{Rows: &RowBatch{Rows: rows}} }
func endFrame(count int) Frame           { return Frame{End: &End{RowCount: count}} }
func errFrame(k errs.Kind, msg string) Frame {
	return Frame{Err: &ErrorFrame{Kind: k, Message: msg}}
}
