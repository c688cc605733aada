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

// Package topology discovers the device's partition layout: the live
// root, its A/B twin, the boot partition, and the legacy config/data
// partitions nested in the extended partition.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/system"
)

// Filesystem is the filesystem kind found on a partition.
type Filesystem string

const (
	FilesystemFAT32   Filesystem = "fat32"
	FilesystemEXT3    Filesystem = "ext3"
	FilesystemBTRFS   Filesystem = "btrfs"
	FilesystemUnknown Filesystem = "other"
)

const (
	LabelBoot = "resin-boot"
	LabelRootA = "resin-root"
	LabelRootB = "resin-updt"
	LabelConf  = "resin-conf"
	LabelData  = "resin-data"
)

// Partition describes one partition on the device's disk.
type Partition struct {
	Device     string
	Index      int
	Label      string
	Filesystem Filesystem
	Mountpoint string // "" if not mounted
}

// Topology is the full, once-discovered picture of the device's disk.
type Topology struct {
	Disk            string
	BlockSize       int64
	ActiveRoot      Partition // currently live root, resin-root or resin-updt
	InactiveRoot    Partition // the A/B twin
	Boot            Partition
	Conf            *Partition // nil if not present (legacy device)
	Data            *Partition // nil if not present
}

var partitionIndexRe = regexp.MustCompile(`(.*?)(\d+)$`)

// Discover builds the Topology by looking up the live root's device via
// stat(/) and deriving siblings by label, with index-arithmetic fallbacks.
func Discover(cmd system.Commander, bootPartitionIndexOverride int) (*Topology, error) {
	rootDevice, err := getRootDevice()
	if err != nil {
		return nil, errors.Wrap(err, "failed to determine root device")
	}

	rootLabel, err := system.GetPartitionLabel(cmd, rootDevice)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read label of root device %s", rootDevice)
	}
	rootLabel = strings.TrimSpace(rootLabel)

	rootIdx, err := system.GetPartitionIndex(rootDevice)
	if err != nil {
		return nil, err
	}

	disk := StripPartitionSuffix(rootDevice)

	active := Partition{Device: rootDevice, Index: rootIdx, Label: rootLabel, Filesystem: FilesystemEXT3}
	active.Mountpoint, _ = system.GetMountpoint(rootDevice)

	inactive, err := findInactiveRoot(cmd, disk, active)
	if err != nil {
		return nil, err
	}

	boot, err := findBootPartition(cmd, disk, rootIdx, bootPartitionIndexOverride)
	if err != nil {
		return nil, err
	}

	topo := &Topology{
		Disk:         disk,
		ActiveRoot:   active,
		InactiveRoot: inactive,
		Boot:         boot,
	}

	if confDev, err := system.GetDeviceByLabel(cmd, LabelConf); err == nil {
		idx, _ := system.GetPartitionIndex(confDev)
		p := Partition{Device: confDev, Index: idx, Label: LabelConf, Filesystem: FilesystemFAT32}
		p.Mountpoint, _ = system.GetMountpoint(confDev)
		topo.Conf = &p
	}
	if dataDev, err := system.GetDeviceByLabel(cmd, LabelData); err == nil {
		idx, _ := system.GetPartitionIndex(dataDev)
		p := Partition{Device: dataDev, Index: idx, Label: LabelData, Filesystem: FilesystemBTRFS}
		p.Mountpoint, _ = system.GetMountpoint(dataDev)
		topo.Data = &p
	}

	if topo.Conf == nil || topo.Data == nil {
		fallbackConf, fallbackData := findLegacyConfAndData(cmd, disk)
		if topo.Conf == nil {
			topo.Conf = fallbackConf
		}
		if topo.Data == nil {
			topo.Data = fallbackData
		}
	}

	return topo, nil
}

// findLegacyConfAndData resolves the config/data partitions on devices
// where they predate blkid labeling: both are nested inside the extended
// partition, conf at index+1 and data at index+2. Returns nil, nil if no
// extended partition can be found, or if the expected device nodes don't
// exist.
func findLegacyConfAndData(cmd system.Commander, disk string) (*Partition, *Partition) {
	extDev, err := system.GetExtendedPartition(cmd, disk)
	if err != nil {
		return nil, nil
	}
	extIdx, err := system.GetPartitionIndex(extDev)
	if err != nil {
		return nil, nil
	}

	var conf, data *Partition
	if confDev := devicePathForIndex(disk, extIdx+1); fileExists(confDev) {
		p := Partition{Device: confDev, Index: extIdx + 1, Label: LabelConf, Filesystem: FilesystemFAT32}
		p.Mountpoint, _ = system.GetMountpoint(confDev)
		conf = &p
	}
	if dataDev := devicePathForIndex(disk, extIdx+2); fileExists(dataDev) {
		p := Partition{Device: dataDev, Index: extIdx + 2, Label: LabelData, Filesystem: FilesystemBTRFS}
		p.Mountpoint, _ = system.GetMountpoint(dataDev)
		data = &p
	}
	return conf, data
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// findInactiveRoot resolves the A/B twin of active by label, falling back
// to index arithmetic (root index +/- 1) with a warning when the expected
// label can't be found by blkid.
func findInactiveRoot(cmd system.Commander, disk string, active Partition) (Partition, error) {
	twinLabel := LabelRootB
	if active.Label == LabelRootB {
		twinLabel = LabelRootA
	}

	if dev, err := system.GetDeviceByLabel(cmd, twinLabel); err == nil {
		idx, err := system.GetPartitionIndex(dev)
		if err != nil {
			return Partition{}, err
		}
		p := Partition{Device: dev, Index: idx, Label: twinLabel, Filesystem: FilesystemEXT3}
		p.Mountpoint, _ = system.GetMountpoint(dev)
		return p, nil
	}

	// Label lookup failed: derive the twin device node from the active
	// root's index, incrementing or decrementing by one.
	candidates := []int{active.Index + 1, active.Index - 1}
	for _, idx := range candidates {
		if idx <= 0 {
			continue
		}
		dev := devicePathForIndex(disk, idx)
		if _, err := os.Stat(dev); err == nil {
			return Partition{Device: dev, Index: idx, Label: twinLabel, Filesystem: FilesystemEXT3}, nil
		}
	}

	return Partition{}, errors.Errorf("could not locate A/B twin partition of %s on %s", active.Device, disk)
}

// findBootPartition resolves resin-boot by label with a fallback to the
// heuristic from the design notes: boot is the first partition on the
// same disk as root. A config override always wins when set.
func findBootPartition(cmd system.Commander, disk string, rootIdx, override int) (Partition, error) {
	if override > 0 {
		dev := devicePathForIndex(disk, override)
		return Partition{Device: dev, Index: override, Label: LabelBoot, Filesystem: FilesystemFAT32}, nil
	}

	if dev, err := system.GetDeviceByLabel(cmd, LabelBoot); err == nil {
		idx, err := system.GetPartitionIndex(dev)
		if err != nil {
			return Partition{}, err
		}
		p := Partition{Device: dev, Index: idx, Label: LabelBoot, Filesystem: FilesystemFAT32}
		p.Mountpoint, _ = system.GetMountpoint(dev)
		return p, nil
	}

	dev := devicePathForIndex(disk, 1)
	return Partition{Device: dev, Index: 1, Label: LabelBoot, Filesystem: FilesystemFAT32}, nil
}

// getRootDevice resolves the device backing "/" via stat(2) and a scan of
// /sys/class/block/*/dev for the matching major:minor pair.
func getRootDevice() (string, error) {
	var st syscall.Stat_t
	if err := syscall.Stat("/", &st); err != nil {
		return "", errors.Wrap(err, "failed to stat /")
	}
	major := (st.Dev >> 8) & 0xfff
	minor := st.Dev & 0xff

	entries, err := os.ReadDir("/sys/class/block")
	if err != nil {
		return "", errors.Wrap(err, "failed to read /sys/class/block")
	}

	want := fmt.Sprintf("%d:%d", major, minor)
	for _, e := range entries {
		devFile := filepath.Join("/sys/class/block", e.Name(), "dev")
		data, err := os.ReadFile(devFile)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == want {
			return "/dev/" + e.Name(), nil
		}
	}

	return resolveRootFromMounts()
}

// resolveRootFromMounts is the fallback used when the major:minor scan
// above fails to find a match (e.g. under an overlay or bind-mounted
// rootfs): scan /proc/mounts for the device mounted at "/".
func resolveRootFromMounts() (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", errors.Wrap(err, "failed to open /proc/mounts")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == "/" {
			return maybeResolveLink(fields[0]), nil
		}
	}
	return "", errors.New("no device mounted at / found in /proc/mounts")
}

// maybeResolveLink follows /dev/root and /dev/disk/by-partuuid/* style
// entries down to their backing /dev/<name> node.
func maybeResolveLink(device string) string {
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		return resolved
	}
	return device
}

// StripPartitionSuffix removes the trailing partition number from a
// device path: all trailing digits for "sdX"-style devices, the "pN"
// suffix for "mmcblkX"/"nvmeXnY" styles.
func StripPartitionSuffix(device string) string {
	base := filepath.Base(device)
	if strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "nvme") {
		if idx := strings.LastIndex(device, "p"); idx > 0 {
			if _, err := strconv.Atoi(device[idx+1:]); err == nil {
				return device[:idx]
			}
		}
	}
	m := partitionIndexRe.FindStringSubmatch(device)
	if m == nil {
		return device
	}
	return m[1]
}

// devicePathForIndex reconstructs a partition device node for disk+index,
// inserting the "p" infix mmcblk/nvme devices require.
func devicePathForIndex(disk string, index int) string {
	base := filepath.Base(disk)
	if strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "nvme") {
		return fmt.Sprintf("%sp%d", disk, index)
	}
	return fmt.Sprintf("%s%d", disk, index)
}
