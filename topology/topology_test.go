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

package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resin-io/resinhup/system"
)

func TestStripPartitionSuffix(t *testing.T) {
	cases := map[string]string{
		"/dev/sda1":      "/dev/sda",
		"/dev/sda2":      "/dev/sda",
		"/dev/mmcblk0p1": "/dev/mmcblk0",
		"/dev/mmcblk0p6": "/dev/mmcblk0",
		"/dev/nvme0n1p3": "/dev/nvme0n1",
	}
	for device, want := range cases {
		assert.Equal(t, want, StripPartitionSuffix(device), device)
	}
}

func TestDevicePathForIndex(t *testing.T) {
	assert.Equal(t, "/dev/sda3", devicePathForIndex("/dev/sda", 3))
	assert.Equal(t, "/dev/mmcblk0p2", devicePathForIndex("/dev/mmcblk0", 2))
	assert.Equal(t, "/dev/nvme0n1p1", devicePathForIndex("/dev/nvme0n1", 1))
}

// fakeFdiskCommander answers "fdisk -l" with a canned listing line via
// /usr/bin/printf, so findLegacyConfAndData can be exercised without a
// real disk.
type fakeFdiskCommander struct {
	extendedLine string
}

func (f *fakeFdiskCommander) Command(name string, args ...string) *system.Cmd {
	if name == "fdisk" && f.extendedLine != "" {
		return system.Command("printf", "%s\n", f.extendedLine)
	}
	return system.Command("printf", "")
}

func TestFindLegacyConfAndDataFallsBackViaExtendedPartition(t *testing.T) {
	dir := t.TempDir()
	disk := filepath.Join(dir, "sda")
	extDev := disk + "2"
	confDev := disk + "3"
	dataDev := disk + "4"
	require.NoError(t, os.WriteFile(confDev, nil, 0644))
	require.NoError(t, os.WriteFile(dataDev, nil, 0644))

	cmd := &fakeFdiskCommander{extendedLine: extDev + "   2048   4095   2048    1M  5  Extended"}

	conf, data := findLegacyConfAndData(cmd, disk)
	require.NotNil(t, conf)
	require.NotNil(t, data)
	assert.Equal(t, confDev, conf.Device)
	assert.Equal(t, LabelConf, conf.Label)
	assert.Equal(t, dataDev, data.Device)
	assert.Equal(t, LabelData, data.Label)
}

func TestFindLegacyConfAndDataNoExtendedPartitionFound(t *testing.T) {
	cmd := &fakeFdiskCommander{}
	conf, data := findLegacyConfAndData(cmd, "/dev/sda")
	assert.Nil(t, conf)
	assert.Nil(t, data)
}

func TestFindLegacyConfAndDataMissingDeviceNodes(t *testing.T) {
	dir := t.TempDir()
	disk := filepath.Join(dir, "sda")
	extDev := disk + "2"

	cmd := &fakeFdiskCommander{extendedLine: extDev + "   2048   4095   2048    1M  5  Extended"}

	conf, data := findLegacyConfAndData(cmd, disk)
	assert.Nil(t, conf)
	assert.Nil(t, data)
}
