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

// Package logging provides the single structured logger used throughout the
// engine. The teacher logs with bare fmt.Println (storage/*.go); the rest
// of the retrieval pack's WAL implementations reach for a real logging
// library instead, so this wraps go.uber.org/zap the way ulysseses-wal
// depends on it directly.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	global *zap.SugaredLogger
)

// L returns the process-wide logger, constructing a production zap logger
// on first use.
func L() *zap.SugaredLogger {
	once.Do(func() {
		z, err := zap.NewProduction()
		if err != nil {
			z = zap.NewNop()
		}
		global = z.Sugar()
	})
	return global
}

// SetForTesting installs a logger for tests (e.g. zap's observer core) and
// returns a restore function.
func SetForTesting(l *zap.SugaredLogger) func() {
	once.Do(func() {}) // ensure once is consumed so L() doesn't clobber us
	prev := global
	global = l
	return func() { global = prev }
}

// Sync flushes any buffered log entries; call on shutdown.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
