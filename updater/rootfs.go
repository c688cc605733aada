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
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/resin-io/resinhup/fsutil"
)

// rootfsOverlay copies every entry named in [rootfs].to_keep_files from the
// live root onto the freshly unpacked target, so files the new rootfs
// doesn't ship (machine ids, ssh host keys, user data under /data-like
// paths bind-mounted elsewhere) survive the update. Each entry is either a
// bare path, copied to the same path on the target, or a "src:dst" pair.
// Blank lines and lines starting with # or ; are ignored.
func (u *Updater) rootfsOverlay() error {
	for _, entry := range u.cfg.Rootfs.ToKeepFiles {
		entry = strings.TrimSpace(entry)
		if entry == "" || strings.HasPrefix(entry, "#") || strings.HasPrefix(entry, ";") {
			continue
		}

		src, dst := entry, entry
		if idx := strings.Index(entry, ":"); idx >= 0 {
			src, dst = entry[:idx], entry[idx+1:]
		}

		srcPath := filepath.Join(u.cfg.General.HostBindMount, src)
		dstPath := filepath.Join(u.rootMountpoint, dst)

		if err := fsutil.SafeCopy(srcPath, dstPath, nil); err != nil {
			log.Warnf("rootfs overlay: skipping %s: %v", src, err)
			continue
		}
	}
	return nil
}
