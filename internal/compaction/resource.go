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
package compaction

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceSample is one snapshot of system load, sampled immediately before
// a compaction cycle runs (spec §4.10 "the compactor samples system
// IO/memory"). IOBusyFraction approximates IO pressure as the iowait share
// of total CPU time — gopsutil exposes per-core wait time but no single
// cross-platform "disk busy %", so CPU iowait is the closest portable
// proxy available without a platform-specific syscall.
type ResourceSample struct {
	IOBusyFraction     float64
	MemoryUsedFraction float64
}

// SampleResources reads current aggregate CPU times and memory usage via
// gopsutil — a dependency already present in the retrieval pack (pulled in
// transitively by ashita-ai-akashi) and promoted here to a direct import
// for the compactor's resource gate.
func SampleResources() (ResourceSample, error) {
	times, err := cpu.Times(false)
	if err != nil {
		return ResourceSample{}, err
	}
	var ioFrac float64
	if len(times) > 0 {
		t := times[0]
		total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
		if total > 0 {
			ioFrac = t.Iowait / total
		}
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return ResourceSample{}, err
	}

	return ResourceSample{
		IOBusyFraction:     ioFrac,
		MemoryUsedFraction: vm.UsedPercent / 100,
	}, nil
}

// ExceedsThresholds reports whether the sample breaches either configured
// gate (spec §4.10 "sys_io_threshold", "sys_memory_threshold"); a
// non-positive threshold disables that particular check.
func (s ResourceSample) ExceedsThresholds(ioThreshold, memThreshold float64) bool {
	if ioThreshold > 0 && s.IOBusyFraction > ioThreshold {
		return true
	}
	if memThreshold > 0 && s.MemoryUsedFraction > memThreshold {
		return true
	}
	return false
}
