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

// Package bootloader retargets the device's bootloader configuration to
// switch which A/B partition it boots from next, one text file per
// platform.
package bootloader

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/fsutil"
	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/topology"
)

// Retarget dispatches on deviceType and rewrites the boot file that
// selects the active root partition so it now points old -> new.
func Retarget(deviceType string, cmd system.Commander, boot topology.Partition, oldDevice, newDevice string) error {
	if err := mountBootRW(cmd, boot); err != nil {
		return errors.Wrap(err, "bootloader: failed to mount boot partition read-write")
	}

	switch deviceType {
	case "raspberry-pi", "raspberry-pi2", "raspberrypi3":
		return configureRaspberryPi(boot.Mountpoint, oldDevice, newDevice)
	case "intel-nuc":
		return configureGrub(boot.Mountpoint, oldDevice, newDevice)
	case "beaglebone-black":
		oldIdx, err := system.GetPartitionIndex(oldDevice)
		if err != nil {
			return errors.Wrap(err, "bootloader: failed to determine old partition index")
		}
		newIdx, err := system.GetPartitionIndex(newDevice)
		if err != nil {
			return errors.Wrap(err, "bootloader: failed to determine new partition index")
		}
		return configureUBoot(boot.Mountpoint, oldIdx, newIdx)
	default:
		return errors.Errorf("bootloader: unsupported device type %q", deviceType)
	}
}

func mountBootRW(cmd system.Commander, boot topology.Partition) error {
	if boot.Mountpoint == "" {
		return errors.Errorf("bootloader: boot partition %s has no mountpoint", boot.Device)
	}
	return system.MountRW(cmd, boot.Device, boot.Mountpoint)
}

// applyTextTransformation reads path, applies transform line by line, and
// writes the result back through the atomic scratch+rename+fsync
// discipline every persisted file in this agent goes through.
func applyTextTransformation(path string, transform func(lines []string) []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "bootloader: failed to read %s", path)
	}

	lines := splitLines(string(data))
	lines = transform(lines)

	fi, err := os.Stat(path)
	mode := os.FileMode(0644)
	if err == nil {
		mode = fi.Mode()
	}

	return fsutil.WriteAtomic(path, []byte(joinLines(lines)), mode)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func bootFile(mountpoint, relPath string) string {
	return filepath.Join(mountpoint, relPath)
}
