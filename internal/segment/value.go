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
package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sneldb/sneldb/internal/binfmt"
	"github.com/sneldb/sneldb/internal/event"
)

// writeValue encodes one column cell: a kind tag byte followed by a
// kind-specific payload. Spec §4.3c calls for "length-prefixed UTF-8
// values"; string-like kinds use exactly that, while numeric kinds use a
// fixed-width encoding so hydrate() can hand back a typed event.Value
// instead of re-parsing text on every read.
func writeValue(w io.Writer, v event.Value) error {
	if _, err := w.Write([]byte{byte(v.Kind)}); err != nil {
		return err
	}
	switch v.Kind {
	case event.KindNull:
		return nil
	case event.KindString, event.KindEnum:
		return binfmt.WriteU16LenPrefixed(w, []byte(v.Str))
	case event.KindInt, event.KindDateTime, event.KindDate:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Int))
		_, err := w.Write(buf[:])
		return err
	case event.KindFloat:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Flt))
		_, err := w.Write(buf[:])
		return err
	case event.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	default:
		return fmt.Errorf("segment: unknown value kind %d", v.Kind)
	}
}

// valueEncodedSize returns the exact byte length writeValue produces for v,
// so callers can track byte offsets (the ".zfc" per-zone offset table)
// without depending on an io.Writer's internal buffering state.
func valueEncodedSize(v event.Value) int {
	const kindTag = 1
	switch v.Kind {
	case event.KindNull:
		return kindTag
	case event.KindString, event.KindEnum:
		return kindTag + 2 + len(v.Str)
	case event.KindInt, event.KindDateTime, event.KindDate, event.KindFloat:
		return kindTag + 8
	case event.KindBool:
		return kindTag + 1
	default:
		return kindTag
	}
}

func readValue(r io.Reader) (event.Value, error) {
	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return event.Value{}, err
	}
	kind := event.Kind(kindBuf[0])
	switch kind {
	case event.KindNull:
		return event.Null(), nil
	case event.KindString:
		raw, err := binfmt.ReadU16LenPrefixed(r)
		if err != nil {
			return event.Value{}, err
		}
		return event.FromString(string(raw)), nil
	case event.KindEnum:
		raw, err := binfmt.ReadU16LenPrefixed(r)
		if err != nil {
			return event.Value{}, err
		}
		return event.FromEnum(string(raw)), nil
	case event.KindInt:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return event.Value{}, err
		}
		return event.FromInt(int64(binary.LittleEndian.Uint64(buf[:]))), nil
	case event.KindDateTime:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return event.Value{}, err
		}
		return event.FromDateTime(int64(binary.LittleEndian.Uint64(buf[:]))), nil
	case event.KindDate:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return event.Value{}, err
		}
		return event.FromDate(int64(binary.LittleEndian.Uint64(buf[:]))), nil
	case event.KindFloat:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return event.Value{}, err
		}
		return event.FromFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case event.KindBool:
		var buf [1]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return event.Value{}, err
		}
		return event.FromBool(buf[0] != 0), nil
	default:
		return event.Value{}, fmt.Errorf("segment: unknown value kind %d on disk", kind)
	}
}
