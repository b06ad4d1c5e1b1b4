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
	"fmt"
	"os"

	"github.com/sneldb/sneldb/internal/binfmt"
)

// verifySegment implements spec §4.3 step 3: re-open each UID's ".idx",
// ".icx" and ".zones" files, check their binary headers, and confirm each
// UID's ".zones" is non-empty. Column and per-field index files are not
// re-checked here.
// Never partial-publish — any failure here means the caller abandons the
// whole segment directory.
func verifySegment(m *Manifest) error {
	for _, um := range m.UIDs {
		if len(um.Zones) == 0 {
			return fmt.Errorf("segment: uid %s has no zones", um.UID)
		}
		if err := checkHeader(idxFile(m.Dir, um.UID), binfmt.MagicZoneIndex); err != nil {
			return err
		}
		if err := checkHeader(icxFile(m.Dir, um.UID), binfmt.MagicCatalog); err != nil {
			return err
		}
		if err := checkHeader(zonesFile(m.Dir, um.UID), binfmt.MagicZones); err != nil {
			return err
		}
	}
	return nil
}

func checkHeader(path string, want [8]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("segment: verify open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, want); err != nil {
		return fmt.Errorf("segment: verify header %s: %w", path, err)
	}
	return nil
}
