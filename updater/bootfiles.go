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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/resin-io/resinhup/fsutil"
	"github.com/resin-io/resinhup/system"
)

// updateBootFiles installs every file the bundle ships under resin-boot/
// onto the live boot partition, skipping anything listed in
// [FingerPrintScanner].boot_whitelist. An existing destination is renamed
// to "<name>.hup.old" only when both the incoming and outgoing files are
// text; a binary on either side is overwritten in place. Text files
// (cmdline.txt, config.txt, uEnv.txt, grub.cfg) are still plain-copied
// here; the bootloader-specific rewrites happen afterwards in
// configureBootloader.
func (u *Updater) updateBootFiles() error {
	names, err := u.fetcher.GetBootFiles()
	if err != nil {
		return errors.Wrap(err, "failed to list boot files")
	}
	if len(names) == 0 {
		return nil
	}

	if err := system.MountRW(u.cmd, u.topo.Boot.Device, u.topo.Boot.Mountpoint); err != nil {
		return errors.Wrap(err, "failed to mount boot partition read-write")
	}

	whitelist := make(map[string]bool, len(u.cfg.FingerPrintScanner.BootWhitelist))
	for _, name := range u.cfg.FingerPrintScanner.BootWhitelist {
		whitelist[name] = true
	}

	for _, name := range names {
		if whitelist[name] {
			log.Debugf("updater: skipping boot file %s, listed in boot_whitelist", name)
			continue
		}
		if err := u.installBootFile(name); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) installBootFile(name string) error {
	src, err := u.fetcher.OpenBootFile(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.Join(u.topo.Boot.Mountpoint, name)

	if _, err := os.Stat(dst); err == nil {
		backup, berr := shouldBackupBootFile(src, dst)
		if berr != nil {
			return errors.Wrapf(berr, "failed to inspect boot file %s", name)
		}
		if backup {
			backupPath := dst + ".hup.old"
			os.Remove(backupPath)
			if err := os.Rename(dst, backupPath); err != nil {
				return errors.Wrapf(err, "failed to back up existing boot file %s", dst)
			}
			log.Debugf("updater: backed up existing boot file %s to %s", dst, backupPath)
		} else {
			log.Debugf("updater: overwriting binary boot file %s in place", dst)
		}
	}

	if err := fsutil.WriteAtomicFrom(dst, src, 0644); err != nil {
		return errors.Wrapf(err, "failed to install boot file %s", name)
	}
	return nil
}

// shouldBackupBootFile reports whether an existing destination should be
// preserved as "<dst>.hup.old" rather than overwritten in place: only when
// both the incoming file and the one it replaces are text.
func shouldBackupBootFile(src *os.File, dst string) (bool, error) {
	srcIsText, err := isLikelyTextReader(src)
	if err != nil {
		return false, err
	}
	if !srcIsText {
		return false, nil
	}
	return fsutil.IsTextFile(dst)
}

// isLikelyTextReader mirrors fsutil.IsTextFile's NUL-byte heuristic for a
// reader whose source isn't a path fsutil can stat directly.
func isLikelyTextReader(f *os.File) (bool, error) {
	buf := make([]byte, 8000)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		if _, serr := f.Seek(0, 0); serr != nil {
			return false, serr
		}
		return true, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return false, err
	}
	for _, b := range buf[:n] {
		if b == 0 {
			return false, nil
		}
	}
	return true, nil
}
