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

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/fsutil"
)

const supervisorConfPath = "etc/supervisor.conf"

// updateSupervisorConf rewrites SUPERVISOR_IMAGE/SUPERVISOR_TAG in the
// target rootfs's supervisor.conf, when either is configured. Existing
// lines for each configured key are dropped first so the file ends up with
// exactly one definition of it; a key that is not configured is left as
// it is.
func (u *Updater) updateSupervisorConf() error {
	if u.cfg.Supervisor.SupervisorImage == "" && u.cfg.Supervisor.SupervisorTag == "" {
		return nil
	}

	path := filepath.Join(u.rootMountpoint, supervisorConfPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if u.cfg.Supervisor.SupervisorImage != "" && strings.HasPrefix(trimmed, "SUPERVISOR_IMAGE=") {
			continue
		}
		if u.cfg.Supervisor.SupervisorTag != "" && strings.HasPrefix(trimmed, "SUPERVISOR_TAG=") {
			continue
		}
		kept = append(kept, line)
	}

	if u.cfg.Supervisor.SupervisorImage != "" {
		kept = append(kept, "SUPERVISOR_IMAGE="+u.cfg.Supervisor.SupervisorImage)
	}
	if u.cfg.Supervisor.SupervisorTag != "" {
		kept = append(kept, "SUPERVISOR_TAG="+u.cfg.Supervisor.SupervisorTag)
	}

	return fsutil.WriteAtomic(path, []byte(strings.Join(kept, "\n")), 0644)
}
