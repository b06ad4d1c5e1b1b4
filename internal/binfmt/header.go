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

// Package binfmt implements the 20-byte binary envelope shared by every
// on-disk file kind: columns, zones, context index, index catalog, the
// filter/index files, schemas.bin and segments.idx.
//
// Layout: MAGIC(8) | VERSION(2) | FLAGS(2) | RESERVED(4) | HEADER_CRC32(4),
// little-endian, CRC32 computed over the first 16 bytes.
package binfmt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const HeaderSize = 20

// Magic values, one per on-disk file kind (§6.2).
var (
	MagicColumn    = [8]byte{'E', 'V', 'D', 'B', 'C', 'O', 'L', 0}
	MagicZoneFC    = [8]byte{'E', 'V', 'D', 'B', 'Z', 'C', 'F', 0}
	MagicZones     = [8]byte{'E', 'V', 'D', 'B', 'Z', 'O', 'N', 0}
	MagicZoneIndex = [8]byte{'E', 'V', 'D', 'B', 'U', 'I', 'D', 0}
	MagicCatalog   = [8]byte{'E', 'V', 'D', 'B', 'I', 'C', 'X', 0}
	MagicSchema    = [8]byte{'E', 'V', 'D', 'B', 'S', 'C', 'H', 0}
	MagicSegIndex  = [8]byte{'E', 'V', 'D', 'B', 'S', 'I', 'X', 0}
	MagicXOR       = [8]byte{'E', 'V', 'D', 'B', 'X', 'F', 0, 0}
	MagicZoneXOR   = [8]byte{'E', 'V', 'D', 'B', 'Z', 'X', 'F', 0}
	MagicZoneSuRF  = [8]byte{'E', 'V', 'D', 'B', 'Z', 'S', 'R', 'F'}
	MagicEnumBM    = [8]byte{'E', 'V', 'D', 'B', 'E', 'B', 'M', 0}
	MagicCalendar  = [8]byte{'E', 'V', 'D', 'B', 'C', 'A', 'L', 0}
	MagicTemporal  = [8]byte{'E', 'V', 'D', 'B', 'T', 'F', 'I', 0}
)

const CurrentVersion uint16 = 1

// Header is the fixed 20-byte preamble of every binary file.
type Header struct {
	Magic   [8]byte
	Version uint16
	Flags   uint16
	// Reserved is always zero on write; readers must not reject a nonzero value.
}

// Encode serialises h (with a freshly computed CRC) into a 20-byte slice.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], 0) // reserved
	crc := crc32.ChecksumIEEE(buf[0:16])
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

// WriteHeader writes the header for magic/flags and returns any write error.
func WriteHeader(w io.Writer, magic [8]byte, flags uint16) error {
	_, err := w.Write(Encode(Header{Magic: magic, Version: CurrentVersion, Flags: flags}))
	return err
}

// ReadHeader reads and validates a 20-byte header, checking magic and CRC.
func ReadHeader(r io.Reader, wantMagic [8]byte) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("binfmt: short header read: %w", err)
	}
	var h Header
	copy(h.Magic[:], buf[0:8])
	h.Version = binary.LittleEndian.Uint16(buf[8:10])
	h.Flags = binary.LittleEndian.Uint16(buf[10:12])
	wantCRC := binary.LittleEndian.Uint32(buf[16:20])
	gotCRC := crc32.ChecksumIEEE(buf[0:16])
	if gotCRC != wantCRC {
		return Header{}, fmt.Errorf("binfmt: header CRC mismatch (corrupt file)")
	}
	if h.Magic != wantMagic {
		return Header{}, fmt.Errorf("binfmt: bad magic %q, want %q", h.Magic, wantMagic)
	}
	return h, nil
}

// Fixed-width length-prefix helpers (a u16 or u32 length, then the raw bytes)
// used by the length-prefixed column/index formats.

// WriteU16LenPrefixed writes a u16 length followed by the raw bytes (the
// ".col" encoding from §6.2).
func WriteU16LenPrefixed(w io.Writer, b []byte) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("binfmt: value too long for u16-prefixed encoding (%d bytes)", len(b))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadU16LenPrefixed reads one length-prefixed value. io.EOF signals a clean
// end of stream; any other error (including a short read mid-value) signals
// truncation and callers must stop at the last complete record.
func ReadU16LenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("binfmt: truncated value: %w", err)
	}
	return b, nil
}

// WriteU32LenPrefixed writes a u32 length followed by the raw bytes, used
// by records that can exceed 64KB (schemas.bin entries, segments.idx).
func WriteU32LenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadU32LenPrefixed reads one u32-length-prefixed value. See
// ReadU16LenPrefixed for truncation semantics.
func ReadU32LenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("binfmt: truncated value: %w", err)
	}
	return b, nil
}
