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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/fsutil"
	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/utils"
)

// legacyConfKeyMap translates historical etc/resin.conf KEY=VALUE entries
// into their config.json attribute names.
var legacyConfKeyMap = map[string]string{
	"API_ENDPOINT":         "apiEndpoint",
	"REGISTRY_ENDPOINT":    "registryEndpoint",
	"PUBNUB_SUBSCRIBE_KEY": "pubnubSubscribeKey",
	"PUBNUB_PUBLISH_KEY":   "pubnubPublishKey",
	"MIXPANEL_TOKEN":       "mixpanelToken",
	"LISTEN_PORT":          "listenPort",
}

func (u *Updater) bootConfigJSONPath() string {
	return filepath.Join(u.topo.Boot.Mountpoint, "config.json")
}

// migrateConfigJSON resolves config.json onto the boot partition via the
// three historical layouts, tried in priority order.
func (u *Updater) migrateConfigJSON() error {
	dst := u.bootConfigJSONPath()
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	legacyJSON := filepath.Join(u.cfg.General.HostBindMount, "mnt/data-disk/config.json")
	legacyConf := filepath.Join(u.cfg.General.HostBindMount, "etc/resin.conf")
	if fileExists(legacyJSON) && fileExists(legacyConf) {
		return u.migrateLegacy(legacyJSON, legacyConf, dst)
	}

	if u.topo.Conf != nil {
		return u.migrateFromConfPartition(dst)
	}

	return errors.New("no config.json source found: neither legacy resin.conf layout nor a resin-conf partition is present")
}

// migrateLegacy merges resin.conf's translated keys into the existing
// data-disk config.json (without overwriting attributes already present)
// and synthesizes vpnEndpoint from registryEndpoint.
func (u *Updater) migrateLegacy(legacyJSON, legacyConf, dst string) error {
	m, err := fsutil.ReadJSON(legacyJSON)
	if err != nil {
		return err
	}

	f, err := os.Open(legacyConf)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", legacyConf)
	}
	defer f.Close()

	var kv utils.KeyValParser
	if err := kv.Parse(f); err != nil {
		return errors.Wrapf(err, "failed to parse %s", legacyConf)
	}

	for key, attr := range legacyConfKeyMap {
		if _, already := m[attr]; already {
			continue
		}
		values, ok := kv.Collect()[key]
		if !ok || len(values) == 0 {
			continue
		}
		m[attr] = values[0]
	}

	if _, already := m["vpnEndpoint"]; !already {
		if registry, ok := m["registryEndpoint"].(string); ok && registry != "" {
			m["vpnEndpoint"] = strings.Replace(registry, "registry", "vpn", 1)
		}
	}

	return fsutil.WriteJSON(dst, m)
}

// migrateFromConfPartition copies mnt/conf/config.json from resin-conf to
// the boot partition.
func (u *Updater) migrateFromConfPartition(dst string) error {
	confPart := *u.topo.Conf
	mountpoint := confPart.Mountpoint
	if mountpoint == "" {
		mountpoint = conf.DefaultConfTempMountpoint
		if err := system.Mount(u.cmd, confPart.Device, mountpoint, ""); err != nil {
			return errors.Wrap(err, "failed to mount resin-conf partition")
		}
		defer system.Umount(u.cmd, mountpoint)
	}

	src := filepath.Join(mountpoint, "config.json")
	return fsutil.SafeCopy(src, dst, nil)
}

// verifyConfigJSON ensures every option declared in the environment
// section named by [config.json].type is present in the boot partition's
// config.json, overwriting with the host configuration's value when one is
// given, defaulting registered_at to the current time, and aborting on any
// other gap.
func (u *Updater) verifyConfigJSON() error {
	section, err := u.cfg.EnvironmentSection(u.cfg.ConfigJSON.Type)
	if err != nil {
		return err
	}

	dst := u.bootConfigJSONPath()
	m, err := fsutil.ReadJSON(dst)
	if err != nil {
		return err
	}

	for option, value := range section {
		if value != "" {
			m[option] = value
			continue
		}
		if _, present := m[option]; present {
			continue
		}
		if option == "registered_at" {
			m[option] = currentUnixTime()
			continue
		}
		return errors.Errorf("config.json: don't know the value for required option %q", option)
	}

	return fsutil.WriteJSON(dst, m)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var currentUnixTime = func() int64 {
	return time.Now().Unix()
}
