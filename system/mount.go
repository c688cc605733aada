// Copyright 2021 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package system

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// MountEntry is one parsed line of /proc/mounts: device, mountpoint and the
// comma separated mount options.
type MountEntry struct {
	Device     string
	Mountpoint string
	FsType     string
	Options    []string
}

func readMounts() ([]MountEntry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open /proc/mounts")
	}
	defer f.Close()

	var entries []MountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, MountEntry{
			Device:     fields[0],
			Mountpoint: fields[1],
			FsType:     fields[2],
			Options:    strings.Split(fields[3], ","),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to parse /proc/mounts")
	}
	return entries, nil
}

// IsMounted reports whether devOrMountpoint (either a device node or a
// mountpoint path) appears in /proc/mounts.
func IsMounted(devOrMountpoint string) (bool, error) {
	entries, err := readMounts()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Device == devOrMountpoint || e.Mountpoint == devOrMountpoint {
			return true, nil
		}
	}
	return false, nil
}

// GetMountpoint returns the mountpoint a device is currently mounted on, or
// "" if it isn't mounted.
func GetMountpoint(device string) (string, error) {
	entries, err := readMounts()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Device == device {
			return e.Mountpoint, nil
		}
	}
	return "", nil
}

// MountHasFlag reports whether the mount covering mountpoint carries the
// given option (e.g. "rw", "ro").
func MountHasFlag(mountpoint string, flag string) (bool, error) {
	entries, err := readMounts()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Mountpoint == mountpoint {
			for _, opt := range e.Options {
				if opt == flag {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return false, errors.Errorf("%s is not mounted", mountpoint)
}

// Mount mounts device at mountpoint with the given comma separated options
// string (may be empty).
func Mount(cmd Commander, device, mountpoint, options string) error {
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return errors.Wrapf(err, "failed to create mountpoint %s", mountpoint)
	}

	args := []string{device, mountpoint}
	if options != "" {
		args = append([]string{"-o", options}, args...)
	}
	out, err := cmd.Command("mount", args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "mount %s on %s failed: %s", device, mountpoint, string(out))
	}
	return nil
}

// MountRW mounts device at mountpoint read-write, or, if it is already
// mounted, remounts it read-write in place.
func MountRW(cmd Commander, device, mountpoint string) error {
	mounted, err := IsMounted(mountpoint)
	if err != nil {
		return err
	}
	if !mounted {
		return Mount(cmd, device, mountpoint, "")
	}
	out, err := cmd.Command("mount", "-o", "remount,rw", mountpoint).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "remount rw of %s failed: %s", mountpoint, string(out))
	}
	return nil
}

// Umount unmounts mountpoint, succeeding silently if it is not mounted.
func Umount(cmd Commander, mountpoint string) error {
	mounted, err := IsMounted(mountpoint)
	if err != nil {
		return err
	}
	if !mounted {
		return nil
	}
	out, err := cmd.Command("umount", mountpoint).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "umount %s failed: %s", mountpoint, string(out))
	}
	return nil
}
