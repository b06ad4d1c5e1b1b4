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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sneldb/sneldb/internal/binfmt"
)

// wireSchema is the on-disk ("mini_schema") JSON shape of one schemas.bin
// record, independent of the in-memory event.Kind representation so the
// wire format is stable even if internal types change.
type wireSchema struct {
	UID       string        `json:"uid"`
	EventType string        `json:"event_type"`
	Version   int           `json:"version"`
	Fields    []wireField   `json:"fields"`
}

type wireField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Nullable bool     `json:"nullable"`
	Variants []string `json:"variants,omitempty"`
}

// Registry is a persistent, mostly-read map of event_type -> latest Schema,
// plus every historical UID so old segments stay readable after a DEFINE
// bumps the version (spec §3 "Schema may be versioned"). Writes are
// serialised by mu; readers take a snapshot (§5 "Schema registry: mostly-
// read; writes serialised via an internal lock. Readers take a cheap
// snapshot handle.").
type Registry struct {
	mu       sync.Mutex
	path     string
	byType   map[string]*Schema   // event_type -> current version
	byUID    map[string]*Schema   // uid -> schema (all versions)
	file     *os.File
}

// Open loads an existing schemas.bin (if any) and keeps it open for append.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "schemas.bin")
	r := &Registry{
		path:   path,
		byType: make(map[string]*Schema),
		byUID:  make(map[string]*Schema),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	r.file = f
	if stat, _ := f.Stat(); stat != nil && stat.Size() == 0 {
		if err := binfmt.WriteHeader(f, binfmt.MagicSchema, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) load() error {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicSchema); err != nil {
		// Empty or never-initialised file: nothing to replay.
		return nil
	}
	for {
		raw, err := binfmt.ReadU32LenPrefixed(f)
		if err != nil {
			// Tail truncation is tolerated (§6.2): stop at the last whole record.
			break
		}
		var w wireSchema
		if err := json.Unmarshal(raw, &w); err != nil {
			break
		}
		s := fromWire(w)
		r.byUID[s.UID] = s
		if cur, ok := r.byType[s.EventType]; !ok || s.Version > cur.Version {
			r.byType[s.EventType] = s
		}
	}
	return nil
}

// Define registers a new schema version for eventType. A DEFINE that exactly
// repeats the current version's field set is idempotent; anything else
// yields a new UID and version (spec §3).
func (r *Registry) Define(eventType string, fields []FieldDef) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byType[eventType]; ok && sameFields(cur.Fields, fields) {
		return cur, nil
	}

	version := 1
	if cur, ok := r.byType[eventType]; ok {
		version = cur.Version + 1
	}
	s := &Schema{
		UID:       newUID(),
		EventType: eventType,
		Version:   version,
		Fields:    fields,
	}
	raw, err := json.Marshal(toWire(s))
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	if err := binfmt.WriteU32LenPrefixed(r.file, raw); err != nil {
		return nil, fmt.Errorf("%w: write schemas.bin: %v", ErrSchema, err)
	}
	if err := r.file.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync schemas.bin: %v", ErrSchema, err)
	}
	r.byUID[s.UID] = s
	r.byType[eventType] = s
	return s, nil
}

// Lookup returns the current schema for an event type.
func (r *Registry) Lookup(eventType string) (*Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byType[eventType]
	return s, ok
}

// ByUID resolves a UID to its (possibly historical) schema, used by the
// segment reader to interpret old columns after a DEFINE bumped the version.
func (r *Registry) ByUID(uid string) (*Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUID[uid]
	return s, ok
}

// AllCurrent returns the current schema for every defined event type, used
// by REPLAY when no event_type filter is given and every UID must be
// checked for a matching context.
func (r *Registry) AllCurrent() []*Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Schema, 0, len(r.byType))
	for _, s := range r.byType {
		out = append(out, s)
	}
	return out
}

// Close releases the underlying file handle.
func (r *Registry) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

func sameFields(a, b []FieldDef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type || a[i].Nullable != b[i].Nullable {
			return false
		}
		if len(a[i].Variants) != len(b[i].Variants) {
			return false
		}
		for j := range a[i].Variants {
			if a[i].Variants[j] != b[i].Variants[j] {
				return false
			}
		}
	}
	return true
}
