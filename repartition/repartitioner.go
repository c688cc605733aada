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

// Package repartition grows the boot partition to a minimum size across
// one or more reboots, since the live root can never be resized in place.
//
//	State | Condition                                   | Transition
//	A     | booted resin-root,  L(root)=L(updt)         | shrink updt, clone root->updt, point bootloader at updt, reboot
//	B     | booted resin-updt,  L(root)=L(updt)         | point bootloader back at root, reboot
//	C     | booted resin-updt,  L(root)!=L(updt)        | shrink+shift root, extend boot by delta -> D
//	D     | L(boot) >= target                           | terminal / success
//	E     | booted resin-root,  L(root)!=L(updt)        | inconsistent, abort
package repartition

import (
	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/resin-io/resinhup/bootloader"
	"github.com/resin-io/resinhup/fsutil"
	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/topology"
)

// ErrRebootRequired is returned by IncreaseBootTo when an intermediate
// state has been reached and the caller must reboot the device before
// calling IncreaseBootTo again.
var ErrRebootRequired = errors.New("repartition: reboot required to continue")

// ErrInconsistentState is returned for state E, where the live root and
// its A/B twin disagree on geometry in a way the state machine cannot
// recover from automatically.
var ErrInconsistentState = errors.New("repartition: inconsistent partition geometry (state E)")

const sectorSize = 512

// Repartitioner drives the boot-partition enlargement state machine.
type Repartitioner struct {
	cmd      system.Commander
	rebooter *system.SystemRebootCmd
	device   string // target device type, e.g. "raspberry-pi2", for bootloader dispatch
}

func New(cmd system.Commander, device string) *Repartitioner {
	return &Repartitioner{
		cmd:      cmd,
		rebooter: system.NewSystemRebootCmd(cmd),
		device:   device,
	}
}

// IncreaseBootTo grows topo.Boot to at least targetMiB, executing exactly
// one state transition per call. If more reboots are needed it retargets
// the bootloader, calls Reboot(), and (since Reboot never returns on
// success) the process is killed by the kernel; ErrRebootRequired is
// returned only if the reboot call itself failed to kill the process.
func (r *Repartitioner) IncreaseBootTo(topo *topology.Topology, targetMiB int64) error {
	bootMiB, err := partitionSizeMiB(topo.Boot.Device)
	if err != nil {
		return errors.Wrap(err, "failed to determine boot partition size")
	}
	if bootMiB >= targetMiB {
		log.Infof("resin-boot is already %d MiB (target %d MiB), nothing to do", bootMiB, targetMiB)
		return nil
	}

	rootMiB, err := partitionSizeMiB(topo.ActiveRoot.Device)
	if err != nil {
		return errors.Wrap(err, "failed to determine active root partition size")
	}
	updtMiB, err := partitionSizeMiB(topo.InactiveRoot.Device)
	if err != nil {
		return errors.Wrap(err, "failed to determine inactive root partition size")
	}

	bootedFromRoot := topo.ActiveRoot.Label == topology.LabelRootA
	equalSizes := rootMiB == updtMiB

	state := classify(bootedFromRoot, equalSizes)
	log.Infof("repartitioner: state %s (booted-from-root=%v, root=%dMiB, updt=%dMiB, boot=%dMiB, target=%dMiB)",
		state, bootedFromRoot, rootMiB, updtMiB, bootMiB, targetMiB)

	delta := targetMiB - bootMiB

	switch state {
	case StateA:
		return r.runStateA(topo, delta)
	case StateB:
		return r.runStateB(topo)
	case StateC:
		return r.runStateC(topo, delta)
	case StateE:
		return ErrInconsistentState
	default:
		return errors.Errorf("repartition: unexpected state %s", state)
	}
}

func classify(bootedFromRoot, equalSizes bool) BootState {
	switch {
	case bootedFromRoot && equalSizes:
		return StateA
	case !bootedFromRoot && equalSizes:
		return StateB
	case !bootedFromRoot && !equalSizes:
		return StateC
	default: // bootedFromRoot && !equalSizes
		return StateE
	}
}

// runStateA shrinks resin-updt from its left edge by delta/2, reformats
// it, clones the live root onto it, points the bootloader at resin-updt,
// and reboots.
func (r *Repartitioner) runStateA(topo *topology.Topology, delta int64) error {
	half := delta / 2

	if err := system.Umount(r.cmd, topo.InactiveRoot.Device); err != nil {
		return errors.Wrap(err, "state A: failed to unmount resin-updt")
	}

	if err := r.shrinkFromLeft(topo.InactiveRoot.Device, half); err != nil {
		return errors.Wrap(err, "state A: failed to shrink resin-updt")
	}

	if err := system.FormatEXT3(r.cmd, topo.InactiveRoot.Device, topology.LabelRootB); err != nil {
		return errors.Wrap(err, "state A: failed to reformat resin-updt")
	}

	if err := r.cloneRoot(topo.ActiveRoot.Device, topo.InactiveRoot.Device); err != nil {
		return errors.Wrap(err, "state A: failed to clone live root onto resin-updt")
	}

	if err := bootloader.Retarget(r.device, r.cmd, topo.Boot, topo.ActiveRoot.Device, topo.InactiveRoot.Device); err != nil {
		return errors.Wrap(err, "state A: failed to retarget bootloader at resin-updt")
	}

	if err := writeMarker(bootMountpointOf(topo), marker{ExpectedState: StateB, DeltaMiB: delta}); err != nil {
		return err
	}

	log.Warn("repartitioner: rebooting to continue boot-partition enlargement (state A -> B)")
	return r.reboot()
}

// runStateB points the bootloader back at resin-root (now that resin-updt
// has the cloned, shrunk copy it booted from) and reboots again.
func (r *Repartitioner) runStateB(topo *topology.Topology) error {
	if err := bootloader.Retarget(r.device, r.cmd, topo.Boot, topo.InactiveRoot.Device, topo.ActiveRoot.Device); err != nil {
		return errors.Wrap(err, "state B: failed to retarget bootloader back at resin-root")
	}

	m, err := readMarker(bootMountpointOf(topo))
	if err != nil {
		return err
	}
	delta := int64(40)
	if m != nil {
		delta = m.DeltaMiB
	}
	if err := writeMarker(bootMountpointOf(topo), marker{ExpectedState: StateC, DeltaMiB: delta}); err != nil {
		return err
	}

	log.Warn("repartitioner: rebooting to continue boot-partition enlargement (state B -> C)")
	return r.reboot()
}

// runStateC shrinks and shifts resin-root to open up delta MiB at the
// front of the disk, then extends resin-boot into that space.
func (r *Repartitioner) runStateC(topo *topology.Topology, delta int64) error {
	half := delta / 2

	if err := system.Umount(r.cmd, topo.ActiveRoot.Device); err != nil {
		return errors.Wrap(err, "state C: failed to unmount resin-root")
	}

	if err := r.shiftPartition(topo.ActiveRoot.Device, delta, half); err != nil {
		return errors.Wrap(err, "state C: failed to shift resin-root")
	}
	if err := system.FormatEXT3(r.cmd, topo.ActiveRoot.Device, topology.LabelRootA); err != nil {
		return errors.Wrap(err, "state C: failed to reformat resin-root")
	}

	// resin-boot is not reformatted here: extendBoot only grows its
	// geometry, so the bootloader config the retargeter already wrote in
	// state A survives the resize.
	if err := r.extendBoot(topo.Boot.Device, delta); err != nil {
		return errors.Wrap(err, "state C: failed to extend resin-boot")
	}

	return clearMarker(bootMountpointOf(topo))
}

// cloneRoot performs a file-by-file clone of the live root onto a freshly
// formatted target, fsyncing every file and the containing directory, with
// a final sync() once the whole tree has landed.
func (r *Repartitioner) cloneRoot(srcDevice, dstDevice string) error {
	const srcMount = "/"
	const dstMount = "/mnt/resinhup-clone-target"

	if err := system.Mount(r.cmd, dstDevice, dstMount, ""); err != nil {
		return err
	}
	defer system.Umount(r.cmd, dstMount)

	if err := fsutil.SafeDirCopy(srcMount, dstMount, []string{"proc", "sys", "dev", "run", "tmp"}); err != nil {
		return err
	}

	fsutil.Sync()
	return nil
}

func bootMountpointOf(topo *topology.Topology) string {
	if topo.Boot.Mountpoint != "" {
		return topo.Boot.Mountpoint
	}
	return "/mnt/resinhup-boot"
}

// reboot calls Reboot(), which blocks indefinitely on success (the kernel
// kills the process). If it returns at all, the reboot did not happen;
// that's reported as ErrRebootRequired so the caller can distinguish it
// from an ordinary step failure.
func (r *Repartitioner) reboot() error {
	if err := r.rebooter.Reboot(); err != nil {
		log.Errorf("reboot did not take effect: %v", err)
		return ErrRebootRequired
	}
	return nil
}

// partitionSizeMiB reads a partition's size in MiB straight from the MBR
// table of its parent disk.
func partitionSizeMiB(partDevice string) (int64, error) {
	idx, err := system.GetPartitionIndex(partDevice)
	if err != nil {
		return 0, err
	}
	disk, table, err := openTable(stripSuffixForDisk(partDevice))
	if err != nil {
		return 0, err
	}
	defer disk.Close()

	if idx < 1 || idx > len(table.Partitions) {
		return 0, errors.Errorf("partition index %d out of range for %s", idx, partDevice)
	}
	p := table.Partitions[idx-1]
	sizeBytes := int64(p.Size) * sectorSize
	return sizeBytes / (1024 * 1024), nil
}

func openTable(disk string) (*diskfs.Disk, *mbr.Table, error) {
	d, err := diskfs.Open(disk)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open disk %s", disk)
	}
	pt, err := d.GetPartitionTable()
	if err != nil {
		d.Close()
		return nil, nil, errors.Wrapf(err, "failed to read partition table of %s", disk)
	}
	table, ok := pt.(*mbr.Table)
	if !ok {
		d.Close()
		return nil, nil, errors.Errorf("%s does not carry an MBR partition table", disk)
	}
	return d, table, nil
}

// shrinkFromLeft deletes and recreates partDevice's partition entry with
// its start moved forward by deltaMiB, keeping the same end offset.
func (r *Repartitioner) shrinkFromLeft(partDevice string, deltaMiB int64) error {
	return r.editGeometry(partDevice, deltaMiB*1024*1024/sectorSize, 0)
}

// shiftPartition moves partDevice's start forward by totalDeltaMiB and its
// end forward by halfDeltaMiB, net-shrinking it by totalDeltaMiB-halfDeltaMiB
// while donating the freed leading space to resin-boot.
func (r *Repartitioner) shiftPartition(partDevice string, totalDeltaMiB, halfDeltaMiB int64) error {
	startShift := totalDeltaMiB * 1024 * 1024 / sectorSize
	endShift := halfDeltaMiB * 1024 * 1024 / sectorSize
	return r.editGeometry(partDevice, startShift, endShift)
}

// extendBoot extends partDevice's end offset by deltaMiB, without
// reformatting (its existing contents are preserved).
func (r *Repartitioner) extendBoot(partDevice string, deltaMiB int64) error {
	endShift := deltaMiB * 1024 * 1024 / sectorSize
	return r.editGeometry(partDevice, 0, endShift)
}

// editGeometry rewrites one partition table entry's start/end sector,
// honouring optimal alignment, then asks udev to settle before the
// updated device node is touched again.
func (r *Repartitioner) editGeometry(partDevice string, startShiftSectors, endShiftSectors int64) error {
	idx, err := system.GetPartitionIndex(partDevice)
	if err != nil {
		return err
	}
	disk, table, err := openTable(stripSuffixForDisk(partDevice))
	if err != nil {
		return err
	}
	defer disk.Close()

	if idx < 1 || idx > len(table.Partitions) {
		return errors.Errorf("partition index %d out of range for %s", idx, partDevice)
	}
	p := table.Partitions[idx-1]

	newStart := alignToOptimal(uint32(int64(p.Start) + startShiftSectors))
	// The end is the old end plus endShiftSectors, whatever alignment did
	// to the start.
	newEnd := int64(p.Start) + int64(p.Size) + endShiftSectors
	newSize := uint32(newEnd - int64(newStart))

	table.Partitions[idx-1] = &mbr.Partition{
		Start: newStart,
		Size:  newSize,
		Type:  p.Type,
	}

	if err := disk.Partition(table); err != nil {
		return errors.Wrapf(err, "failed to commit partition table change to %s", partDevice)
	}

	return system.StartUdevDaemon(r.cmd)
}

// alignToOptimal rounds a starting sector up to the next 1 MiB boundary,
// the alignment modern block devices expect for good write performance.
func alignToOptimal(sector uint32) uint32 {
	const sectorsPerMiB = 1024 * 1024 / sectorSize
	if sector%sectorsPerMiB == 0 {
		return sector
	}
	return ((sector / sectorsPerMiB) + 1) * sectorsPerMiB
}

func stripSuffixForDisk(partDevice string) string {
	// Reuses the same disk/partition split topology discovery uses.
	return topology.StripPartitionSuffix(partDevice)
}
