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
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var partitionIndexRe = regexp.MustCompile(`(.*?)(\d+)$`)

// GetDeviceByLabel resolves a filesystem LABEL to its backing device node
// via blkid, e.g. "resin-boot" -> "/dev/mmcblk0p1".
func GetDeviceByLabel(cmd Commander, label string) (string, error) {
	out, err := cmd.Command("blkid", "-l", "-o", "device", "-t", "LABEL="+label).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "no device found with label %s", label)
	}
	device := strings.TrimSpace(string(out))
	if device == "" {
		return "", errors.Errorf("no device found with label %s", label)
	}
	return device, nil
}

// GetPartitionLabel returns the filesystem label of device, or "" if it
// carries none.
func GetPartitionLabel(cmd Commander, device string) (string, error) {
	out, err := cmd.Command("lsblk", "-n", "-o", "label", device).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "failed to read label of %s", device)
	}
	return strings.TrimSpace(string(out)), nil
}

// SetDeviceLabel labels an ext-family filesystem on device.
func SetDeviceLabel(cmd Commander, device, label string) error {
	out, err := cmd.Command("e2label", device, label).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to label %s as %s: %s", device, label, string(out))
	}
	return nil
}

// SetVFATDeviceLabel labels a FAT filesystem on device.
func SetVFATDeviceLabel(cmd Commander, device, label string) error {
	out, err := cmd.Command("dosfslabel", device, label).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to label %s as %s: %s", device, label, string(out))
	}
	return nil
}

// SetBTRFSDeviceLabel labels a btrfs filesystem on device. Relabeling a
// mounted btrfs filesystem is not supported; callers must unmount first.
func SetBTRFSDeviceLabel(cmd Commander, device, label string) error {
	out, err := cmd.Command("btrfs", "filesystem", "label", device, label).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to label %s as %s: %s", device, label, string(out))
	}
	return nil
}

// FormatEXT3 creates an ext3 filesystem on device with the given label.
func FormatEXT3(cmd Commander, device, label string) error {
	out, err := cmd.Command("mkfs.ext3", "-F", "-L", label, device).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to format %s as ext3: %s", device, string(out))
	}
	return nil
}

// FormatVFAT creates a FAT32 filesystem on device with the given label.
func FormatVFAT(cmd Commander, device, label string) error {
	out, err := cmd.Command("mkfs.vfat", "-F", "32", "-n", label, device).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to format %s as vfat: %s", device, string(out))
	}
	return nil
}

// GetPartitionIndex extracts the trailing partition number from a device
// node, e.g. "/dev/mmcblk0p2" -> 2, "/dev/sda1" -> 1.
func GetPartitionIndex(device string) (int, error) {
	m := partitionIndexRe.FindStringSubmatch(device)
	if m == nil {
		return 0, errors.Errorf("could not determine partition index of %s", device)
	}
	idx := 0
	for _, c := range m[2] {
		idx = idx*10 + int(c-'0')
	}
	return idx, nil
}

// GetExtendedPartition returns the device node of the extended partition
// on disk, as reported by fdisk -l. Legacy MBR layouts nest the
// resin-conf/resin-data partitions inside it when they predate blkid
// labeling.
func GetExtendedPartition(cmd Commander, disk string) (string, error) {
	out, err := cmd.Command("fdisk", "-l", disk).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "fdisk -l %s failed", disk)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "Extended") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		return fields[0], nil
	}
	return "", errors.Errorf("no extended partition found on %s", disk)
}

// StartUdevDaemon (re)starts udev and waits for it to settle so freshly
// repartitioned devices appear under /dev before the next step runs.
func StartUdevDaemon(cmd Commander) error {
	_, _ = cmd.Command("udevd", "--daemon").CombinedOutput()
	out, err := cmd.Command("udevadm", "settle").CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "udevadm settle failed: %s", string(out))
	}
	return nil
}
