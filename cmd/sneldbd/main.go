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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sneldb/sneldb/internal/archivestore"
	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/engine"
	"github.com/sneldb/sneldb/internal/logging"
	"github.com/sneldb/sneldb/internal/wal"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "archives" {
		os.Exit(runArchivesCmd(os.Args[2:]))
	}
	os.Exit(runServe(os.Args[1:]))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("sneldbd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON config file overriding the defaults")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: config:", err)
		return 1
	}

	fmt.Printf("sneldbd starting: %d shard(s), data_dir=%s\n", cfg.Engine.ShardCount, cfg.Engine.DataDir)

	e, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: open engine:", err)
		return 1
	}
	defer logging.Sync()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.L().Info("sneldbd: shutting down")
	if err := e.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: shutdown:", err)
		return 1
	}
	return 0
}

// runArchivesCmd is a read-only inspection subcommand over whatever
// archivestore.Store `wal.archive_dir` names (local directory or
// s3://bucket/prefix), listing archives and optionally dumping one
// header. It never writes: archiving itself only ever happens from
// within wal.Manager.
func runArchivesCmd(args []string) int {
	fs := flag.NewFlagSet("sneldbd archives", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a JSON config file overriding the defaults")
	show := fs.String("show", "", "print the header of one archive key")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: config:", err)
		return 1
	}

	store, err := archivestore.Open(cfg.WAL.ArchiveDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: open archive store:", err)
		return 1
	}
	ctx := context.Background()

	if *show != "" {
		hdr, events, err := wal.ReadArchiveFromStore(ctx, store, *show)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sneldbd: read archive:", err)
			return 1
		}
		fmt.Printf("%s: shard=%d log=%d entries=%d ts=[%d,%d] algo=%s (decoded %d events)\n",
			*show, hdr.ShardID, hdr.LogID, hdr.EntryCount, hdr.TsMin, hdr.TsMax, hdr.Algorithm, len(events))
		return 0
	}

	names, err := store.List(ctx, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "sneldbd: list archives:", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}
