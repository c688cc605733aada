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

const (
	// DefaultConfFile is where the host configuration lives unless
	// overridden by --configuration-file.
	DefaultConfFile = "/etc/resinhup.conf"

	// DefaultWorkspace is the scratch directory the fetcher and updater
	// use for the unpacked update bundle and temporary mountpoints.
	DefaultWorkspace = "/var/run/resinhup"

	// DefaultRootTempMountpoint is where the updater mounts the inactive
	// root partition while it populates it.
	DefaultRootTempMountpoint = DefaultWorkspace + "/root-tempmountpoint"

	// DefaultBootTempMountpoint names a scratch mountpoint for the boot
	// partition under the workspace. No component mounts there: the
	// bootloader and updater use the boot partition's existing mountpoint.
	DefaultBootTempMountpoint = DefaultWorkspace + "/boot-tempmountpoint"

	// DefaultConfTempMountpoint is used to read resin-conf's config.json
	// during the conf-partition migration case.
	DefaultConfTempMountpoint = DefaultWorkspace + "/conf-tempmountpoint"
)
