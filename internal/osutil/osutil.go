// Copyright 2022 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package osutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace returns the number of bytes available to unprivileged users on
// the filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("FreeSpace: unable to stat filesystem for %q: %w", path, err)
	}
	size := stat.Bavail * uint64(stat.Bsize)
	return size, nil
}

// EnsureFreeSpace returns an error if the filesystem holding dir has less than
// need bytes available.
func EnsureFreeSpace(dir string, need uint64) error {
	free, err := FreeSpace(dir)
	if err != nil {
		return err
	}
	if free < need {
		return fmt.Errorf("not enough space in %q: need %d bytes, %d available", dir, need, free)
	}
	return nil
}
