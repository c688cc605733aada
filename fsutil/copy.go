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

package fsutil

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SafeCopy dispatches on the type of src: files and symlinks go through
// SafeFileCopy, directories through SafeDirCopy. Anything else (sockets,
// FIFOs, device nodes) is an error.
func SafeCopy(src, dst string, ignore []string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "safeCopy: cannot stat %s", src)
	}

	switch {
	case fi.Mode()&os.ModeSymlink != 0, fi.Mode().IsRegular():
		return SafeFileCopy(src, dst)
	case fi.IsDir():
		return SafeDirCopy(src, dst, ignore)
	default:
		return errors.Errorf("safeCopy: unknown src target to copy %s", src)
	}
}

// SafeFileCopy copies a regular file or symlink from src to dst via the
// atomic write contract: write to "<dst>.tmp", fsync, rename, fsync the
// parent directory.
func SafeFileCopy(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "safeFileCopy: cannot stat %s", src)
	}

	if dfi, err := os.Lstat(dst); err == nil {
		if dfi.IsDir() {
			return errors.Errorf("safeFileCopy: destination %s is a directory", dst)
		}
		log.Warnf("safeFileCopy: destination file %s already exists, overwriting", dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "safeFileCopy: failed to create directory structure for %s", dst)
	}

	tmp := dst + ".tmp"
	os.Remove(tmp)

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return errors.Wrapf(err, "safeFileCopy: failed to read link %s", src)
		}
		if err := os.Symlink(target, tmp); err != nil {
			return errors.Wrapf(err, "safeFileCopy: failed to recreate symlink %s", tmp)
		}
	} else {
		srcFd, err := os.Open(src)
		if err != nil {
			return errors.Wrapf(err, "safeFileCopy: failed to open %s", src)
		}
		// WriteAtomicFrom writes via its own "<tmp>.tmp" scratch file and
		// renames into tmp; the outer rename below then promotes tmp to dst.
		err = WriteAtomicFrom(tmp, srcFd, fi.Mode().Perm())
		srcFd.Close()
		if err != nil {
			return errors.Wrapf(err, "safeFileCopy: failed to copy %s", src)
		}
	}

	if err := os.Rename(tmp, dst); err != nil {
		return errors.Wrapf(err, "safeFileCopy: failed to rename %s to %s", tmp, dst)
	}

	return FsyncParent(dst)
}

// SafeDirCopy walks src and recreates it under dst file by file, via
// SafeFileCopy, skipping names in ignore and not crossing mountpoints.
// Names in ignore are matched against the base name only. FIFOs are
// skipped silently, matching the original implementation's behavior.
func SafeDirCopy(src, dst string, ignore []string) error {
	fi, err := os.Stat(src)
	if err != nil || !fi.IsDir() {
		return errors.Errorf("safeDirCopy: %s is not a directory", src)
	}

	absSrc, _ := filepath.Abs(src)
	absDst, _ := filepath.Abs(dst)
	if absSrc == absDst {
		return errors.Errorf("safeDirCopy: cannot copy %s onto itself", src)
	}

	ignored := func(name string) bool {
		for _, i := range ignore {
			if i == name {
				return true
			}
		}
		return false
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)

		if ignored(info.Name()) {
			log.Warnf("safeDirCopy: ignored %s", info.Name())
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if path != src && isMountpoint(path) {
				log.Warnf("safeDirCopy: %s is a mountpoint, not descending", path)
				return filepath.SkipDir
			}
			if err := os.MkdirAll(dstPath, info.Mode().Perm()); err != nil {
				return errors.Wrapf(err, "safeDirCopy: failed to create %s", dstPath)
			}
			return nil
		}

		if info.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}

		return SafeFileCopy(path, dstPath)
	})
}

// isMountpoint reports whether path's device differs from its parent's,
// meaning a separate filesystem is mounted there.
func isMountpoint(path string) bool {
	var pst, ppst syscall.Stat_t
	if err := syscall.Lstat(path, &pst); err != nil {
		return false
	}
	if err := syscall.Lstat(filepath.Dir(path), &ppst); err != nil {
		return false
	}
	return pst.Dev != ppst.Dev
}
