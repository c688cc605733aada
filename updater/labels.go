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

package updater

import (
	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/topology"
)

// labelFilesystems ensures resin-boot carries its VFAT label, confirms
// resin-root/resin-updt were labeled back in formatTarget, and requires
// resin-data to already be labeled (btrfs relabel while mounted isn't
// supported, so this is a hard error rather than a fixup).
func (u *Updater) labelFilesystems() error {
	label, err := system.GetPartitionLabel(u.cmd, u.topo.Boot.Device)
	if err != nil || label != topology.LabelBoot {
		if err := system.SetVFATDeviceLabel(u.cmd, u.topo.Boot.Device, topology.LabelBoot); err != nil {
			return errors.Wrap(err, "failed to label resin-boot")
		}
	}

	if u.target.Label != topology.LabelRootA && u.target.Label != topology.LabelRootB {
		return errors.Errorf("target partition %s was not labeled during format", u.target.Device)
	}

	if u.topo.Data == nil {
		return errors.New("resin-data partition must already be labeled resin-data; btrfs relabeling is not automated")
	}
	dataLabel, err := system.GetPartitionLabel(u.cmd, u.topo.Data.Device)
	if err != nil || dataLabel != topology.LabelData {
		return errors.New("resin-data partition must already be labeled resin-data; btrfs relabeling is not automated")
	}

	return nil
}
