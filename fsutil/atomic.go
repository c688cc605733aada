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

// Package fsutil implements the atomic write and safe-copy contract every
// other component relies on to persist files across the device's rootfs,
// boot and config partitions.
package fsutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// WriteAtomic writes data to path via a "<path>.tmp" scratch file, fsyncs
// it, renames it into place, then fsyncs the parent directory so the
// rename itself is durable. mode is applied to the scratch file before the
// rename.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	return WriteAtomicFrom(path, bytes.NewReader(data), mode)
}

// WriteAtomicFrom is WriteAtomic taking an io.Reader instead of a byte
// slice, for streaming copies that should not buffer the whole payload.
func WriteAtomicFrom(path string, src io.Reader, mode os.FileMode) error {
	tmp := path + ".tmp"

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create parent directory of %s", path)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to create scratch file %s", tmp)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to write scratch file %s", tmp)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to fsync scratch file %s", tmp)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to close scratch file %s", tmp)
	}

	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to set mode on %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to rename %s to %s", tmp, path)
	}

	return FsyncParent(path)
}

// FsyncParent opens the parent directory of path and fsyncs it, making a
// prior rename or unlink inside it durable.
func FsyncParent(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return errors.Wrapf(err, "failed to open parent directory of %s", path)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return errors.Wrapf(err, "failed to fsync parent directory of %s", path)
	}
	return nil
}

// Sync calls the sync(2) syscall, flushing all pending filesystem writes.
// Used once at the end of a partition clone, per the atomic write contract.
func Sync() {
	unix.Sync()
}
