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

package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConf = `
[General]
host_bind_mount = /
supported_machines = raspberry-pi raspberry-pi2 intel-nuc

[fetcher]
type = tar
remote = https://files.example.com
update_file_fingerprints = resin-boot/bcm2708-rpi-b.dtb

[rootfs]
to_keep_files = etc/resin-wifi etc/NetworkManager/system-connections:etc/NetworkManager/system-connections

[Supervisor]
supervisor_image = resin/rpi-supervisor
supervisor_tag = v10.0.0

[config.json]
possible_locations = mnt/conf/config.json mnt/data-disk/config.json
type = production

[production]
apiEndpoint = https://api.resin.io
registryEndpoint = registry.resin.io
`

func writeSampleConf(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "resinhup.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConf), 0644))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	hc, err := Load(writeSampleConf(t))
	require.NoError(t, err)

	assert.Equal(t, "/", hc.General.HostBindMount)
	assert.Equal(t, []string{"raspberry-pi", "raspberry-pi2", "intel-nuc"}, hc.General.SupportedMachines)
	assert.Equal(t, "tar", hc.Fetcher.Type)
	assert.Equal(t, "https://files.example.com", hc.Fetcher.Remote)
	assert.Equal(t, []string{"resin-boot/bcm2708-rpi-b.dtb"}, hc.Fetcher.UpdateFileFingerprints)
	assert.Equal(t, "resin/rpi-supervisor", hc.Supervisor.SupervisorImage)
	assert.Equal(t, "production", hc.ConfigJSON.Type)
}

func TestEnvironmentSection(t *testing.T) {
	hc, err := Load(writeSampleConf(t))
	require.NoError(t, err)

	env, err := hc.EnvironmentSection("production")
	require.NoError(t, err)
	assert.Equal(t, "https://api.resin.io", env["apiEndpoint"])
	assert.Equal(t, "registry.resin.io", env["registryEndpoint"])
}

func TestEnvironmentSectionMissing(t *testing.T) {
	hc, err := Load(writeSampleConf(t))
	require.NoError(t, err)

	_, err = hc.EnvironmentSection("staging")
	assert.Error(t, err)
}

func TestSetConfigJSONTypePersists(t *testing.T) {
	path := writeSampleConf(t)
	hc, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, hc.SetConfigJSONType("staging"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", reloaded.ConfigJSON.Type)
}
