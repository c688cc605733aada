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

// Package updater executes the core update sequence: format the target
// root, unpack the rootfs, overlay preserved files, install boot files,
// migrate config.json between historical schemas, retarget the bootloader,
// and adjust supervisor configuration.
package updater

import (
	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/bootloader"
	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/fetcher"
	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/topology"
)

// Updater drives the per-sub-step pipeline described in the package doc,
// aborting on the first failure; cleanup is done by the caller through
// Cleanup.
type Updater struct {
	cfg        *conf.HostConfig
	cmd        system.Commander
	fetcher    fetcher.Fetcher
	topo       *topology.Topology
	deviceType string

	rootMountpoint string
	target         topology.Partition
}

// New builds an Updater for one upgrade run.
func New(cfg *conf.HostConfig, cmd system.Commander, f fetcher.Fetcher, topo *topology.Topology, deviceType, rootMountpoint string) *Updater {
	return &Updater{
		cfg:            cfg,
		cmd:            cmd,
		fetcher:        f,
		topo:           topo,
		deviceType:     deviceType,
		rootMountpoint: rootMountpoint,
	}
}

// UpgradeSystem runs every sub-step in order, aborting on the first
// failure. Callers must call Cleanup regardless of the outcome.
func (u *Updater) UpgradeSystem() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"select update device", u.selectUpdateDevice},
		{"unmount target", u.unmountTarget},
		{"format target", u.formatTarget},
		{"mount target", u.mountTarget},
		{"unpack rootfs", u.unpackRootfs},
		{"rootfs overlay", u.rootfsOverlay},
		{"update boot files", u.updateBootFiles},
		{"label filesystems", u.labelFilesystems},
		{"migrate config.json", u.migrateConfigJSON},
		{"verify config.json", u.verifyConfigJSON},
		{"configure bootloader", u.configureBootloader},
		{"update supervisor conf", u.updateSupervisorConf},
	}

	for _, step := range steps {
		log.Infof("updater: %s", step.name)
		if err := step.fn(); err != nil {
			return errors.Wrapf(err, "updater: %s failed", step.name)
		}
	}

	return nil
}

// selectUpdateDevice picks resin-root's A/B twin as the update target. If
// the live root carries no recognized label it is force-labeled
// resin-root so the rest of the pipeline has a stable starting point.
func (u *Updater) selectUpdateDevice() error {
	active := u.topo.ActiveRoot
	if active.Label != topology.LabelRootA && active.Label != topology.LabelRootB {
		log.Warnf("live root %s has no recognized label, forcing %s", active.Device, topology.LabelRootA)
		if err := system.SetDeviceLabel(u.cmd, active.Device, topology.LabelRootA); err != nil {
			return errors.Wrap(err, "failed to force-label live root")
		}
		active.Label = topology.LabelRootA
		u.topo.ActiveRoot = active
	}

	u.target = u.topo.InactiveRoot
	if u.target.Label == "" {
		u.target.Label = topology.LabelRootB
		if active.Label == topology.LabelRootB {
			u.target.Label = topology.LabelRootA
		}
	}
	return nil
}

func (u *Updater) unmountTarget() error {
	return system.Umount(u.cmd, u.target.Device)
}

func (u *Updater) formatTarget() error {
	return system.FormatEXT3(u.cmd, u.target.Device, u.target.Label)
}

func (u *Updater) mountTarget() error {
	return system.Mount(u.cmd, u.target.Device, u.rootMountpoint, "")
}

func (u *Updater) unpackRootfs() error {
	if err := u.fetcher.UnpackRootfs(u.rootMountpoint); err != nil {
		return err
	}
	return u.fetcher.UnpackQuirks(u.rootMountpoint)
}

// configureBootloader retargets the bootloader from the live root to the
// partition the rest of this run just populated.
func (u *Updater) configureBootloader() error {
	return bootloader.Retarget(u.deviceType, u.cmd, u.topo.Boot, u.topo.ActiveRoot.Device, u.target.Device)
}

// Cleanup unmounts the target and remounts the live boot partition
// read-only, regardless of how the run ended.
func (u *Updater) Cleanup() error {
	var firstErr error
	if err := system.Umount(u.cmd, u.rootMountpoint); err != nil {
		firstErr = err
	}
	if u.topo.Boot.Mountpoint != "" {
		if _, err := u.cmd.Command("mount", "-o", "remount,ro", u.topo.Boot.Mountpoint).CombinedOutput(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "failed to remount boot partition read-only")
		}
	}
	return firstErr
}
