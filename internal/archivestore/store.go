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

// Package archivestore generalises the teacher's multi-backend
// `storage.PersistenceEngine`/`PersistenceFactory` (storage/persistence.go,
// persistence-s3.go) into the narrow contract WAL archiving actually
// needs: put a blob, get a blob, list blobs under a prefix. `wal.archive_dir`
// names either a local directory or an `s3://bucket/prefix` URL; Open picks
// the backend.
package archivestore

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store is the pluggable archive backend (spec §4.1 "may point at a local
// path or ... an S3 bucket"). Keys are backend-relative (no leading
// slash); callers pass the same key to Put and Get.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open resolves archiveDir into a Store: an "s3://bucket/prefix" URL opens
// an S3Store, anything else is treated as a local directory path.
func Open(archiveDir string) (Store, error) {
	if bucket, prefix, ok := parseS3URL(archiveDir); ok {
		return NewS3Store(DefaultS3Config(), bucket, prefix), nil
	}
	return NewLocalStore(archiveDir), nil
}

func parseS3URL(url string) (bucket, prefix string, ok bool) {
	const schema = "s3://"
	if !strings.HasPrefix(url, schema) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, schema)
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	if bucket == "" {
		return "", "", false
	}
	return bucket, prefix, true
}

func missingKeyError(key string) error {
	return fmt.Errorf("archivestore: key %q not found", key)
}
