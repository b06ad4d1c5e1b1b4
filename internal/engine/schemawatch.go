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

package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/logging"
	"github.com/sneldb/sneldb/internal/schema"
)

// schemaWatcher hot-reloads event_type definitions from
// config.Schema.DefDir: every *.json file in the directory is parsed and
// handed to the registry's normal Define path, so a definition dropped
// onto disk goes live without a process restart. This is additional to
// the upstream-parser-driven Define command; it exists because schema
// definitions are naturally managed as files by operators, the same way
// the teacher's own config lives on disk rather than behind an API.
type schemaWatcher struct {
	w        *fsnotify.Watcher
	dir      string
	registry *schema.Registry
	done     chan struct{}
}

func newSchemaWatcher(dir string, registry *schema.Registry) (*schemaWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine: schema.def_dir not set")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &schemaWatcher{w: w, dir: dir, registry: registry, done: make(chan struct{})}, nil
}

// Start loads every definition already on disk, then watches for further
// writes in its own goroutine.
func (s *schemaWatcher) Start() {
	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				s.reload(filepath.Join(s.dir, e.Name()))
			}
		}
	}
	go s.run()
}

func (s *schemaWatcher) run() {
	for {
		select {
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.reload(ev.Name)
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			logging.L().Warnw("engine: schema watcher error", "err", err)
		case <-s.done:
			return
		}
	}
}

func (s *schemaWatcher) Stop() {
	close(s.done)
	s.w.Close()
}

// defFile is the on-disk shape of one hot-reloadable schema definition.
type defFile struct {
	EventType string `json:"event_type"`
	Fields    []struct {
		Name     string   `json:"name"`
		Type     string   `json:"type"`
		Nullable bool     `json:"nullable"`
		Variants []string `json:"variants"`
	} `json:"fields"`
}

func (s *schemaWatcher) reload(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logging.L().Warnw("engine: schema def read failed", "path", path, "err", err)
		return
	}
	var def defFile
	if err := json.Unmarshal(raw, &def); err != nil {
		logging.L().Warnw("engine: schema def parse failed", "path", path, "err", err)
		return
	}
	if def.EventType == "" {
		logging.L().Warnw("engine: schema def missing event_type", "path", path)
		return
	}
	fields := make([]schema.FieldDef, len(def.Fields))
	for i, f := range def.Fields {
		fields[i] = schema.FieldDef{
			Name:     f.Name,
			Type:     parseKind(f.Type),
			Nullable: f.Nullable,
			Variants: f.Variants,
		}
	}
	if _, err := s.registry.Define(def.EventType, fields); err != nil {
		logging.L().Warnw("engine: schema def define failed", "path", path, "event_type", def.EventType, "err", err)
	}
}

func parseKind(s string) event.Kind {
	switch strings.ToLower(s) {
	case "string":
		return event.KindString
	case "int":
		return event.KindInt
	case "float":
		return event.KindFloat
	case "bool":
		return event.KindBool
	case "datetime":
		return event.KindDateTime
	case "date":
		return event.KindDate
	case "enum":
		return event.KindEnum
	default:
		return event.KindNull
	}
}
