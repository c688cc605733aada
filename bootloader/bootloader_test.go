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

package bootloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRaspberryPi(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline.txt"),
		[]byte("console=serial0,115200 root=/dev/mmcblk0p2 rootfstype=ext3 rootwait\n"), 0644))

	require.NoError(t, configureRaspberryPi(dir, "/dev/mmcblk0p2", "/dev/mmcblk0p3"))

	got, err := os.ReadFile(filepath.Join(dir, "cmdline.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "root=/dev/mmcblk0p3")
	assert.NotContains(t, string(got), "mmcblk0p2")
}

func TestConfigureGrub(t *testing.T) {
	dir := t.TempDir()
	grubDir := filepath.Join(dir, "EFI", "BOOT")
	require.NoError(t, os.MkdirAll(grubDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(grubDir, "grub.cfg"),
		[]byte("linux /vmlinuz root=/dev/sda2 ro\n"), 0644))

	require.NoError(t, configureGrub(dir, "/dev/sda2", "/dev/sda3"))

	got, err := os.ReadFile(filepath.Join(grubDir, "grub.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "root=/dev/sda3")
}

func TestConfigureUBoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uEnv.txt"), []byte(
		"bootpart=1:2\n"+
			"setemmcroot=setenv bootpart 1:1\n"+
			"uenvcmd=run loaduimage\n"), 0644))

	require.NoError(t, configureUBoot(dir, 2, 3))

	got, err := os.ReadFile(filepath.Join(dir, "uEnv.txt"))
	require.NoError(t, err)
	content := string(got)
	assert.Contains(t, content, "bootpart=1:3")
	assert.NotContains(t, content, "setemmcroot")
	assert.Contains(t, content, "finduuid=part uuid mmc ${bootpart} uuid")
}

func TestConfigureUBootKeepsExistingFinduuid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uEnv.txt"), []byte(
		"bootpart=1:2\n"+
			"finduuid=part uuid mmc ${bootpart} uuid\n"), 0644))

	require.NoError(t, configureUBoot(dir, 2, 3))

	got, err := os.ReadFile(filepath.Join(dir, "uEnv.txt"))
	require.NoError(t, err)
	count := 0
	for _, l := range splitLines(string(got)) {
		if l == "finduuid=part uuid mmc ${bootpart} uuid" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
