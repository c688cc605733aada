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

// Package fetcher obtains the update bundle from a remote (HTTP tarball or
// container registry export), validates it, and streams it into a local
// workspace the updater then consumes.
package fetcher

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/fsutil"
)

// Fetcher is the contract both the tarball and registry implementations
// satisfy.
type Fetcher interface {
	// Download checks that the payload can be obtained from the remote.
	// It writes nothing to the workspace; Unpack does the transfer.
	Download() error
	// Unpack fetches the payload from the remote and materializes it under
	// workspace/update, then validates every configured fingerprint path
	// exists. Both implementations fetch on every call; downloadFirst does
	// not change what they do.
	Unpack(downloadFirst bool) error
	// UnpackRootfs copies everything under workspace/update into location,
	// excluding resin-boot/ and quirks/.
	UnpackRootfs(location string) error
	// UnpackQuirks copies workspace/update/quirks into location; a no-op
	// if quirks are absent from the bundle.
	UnpackQuirks(location string) error
	// GetBootFiles lists, depth-first, the relative paths of every file
	// under workspace/update/resin-boot.
	GetBootFiles() ([]string, error)
	// OpenBootFile opens one of the paths GetBootFiles returned.
	OpenBootFile(name string) (*os.File, error)
	// Cleanup removes the workspace's unpack directory.
	Cleanup() error
}

// New builds the Fetcher named by cfg.Fetcher.Type ("tar" or "dockerhub"),
// for the given machine (device type) and target version.
func New(cfg *conf.HostConfig, machine, version string) (Fetcher, error) {
	workspace := cfg.Fetcher.Workspace
	if workspace == "" {
		workspace = "/var/run/resinhup"
	}

	switch cfg.Fetcher.Type {
	case "tar", "":
		return newTarFetcher(cfg, machine, version, workspace), nil
	case "dockerhub":
		return newRegistryFetcher(cfg, machine, version, workspace), nil
	default:
		return nil, errors.Errorf("fetcher: unknown fetcher type %q", cfg.Fetcher.Type)
	}
}

// workspaceLayout is embedded by both fetcher implementations: it's the
// shared notion of where the unpacked bundle and its subtrees live.
type workspaceLayout struct {
	workspace       string
	workspaceUnpack string
	bootFilesDir    string
	quirksDir       string
}

func newWorkspaceLayout(workspace string) workspaceLayout {
	unpack := filepath.Join(workspace, "update")
	return workspaceLayout{
		workspace:       workspace,
		workspaceUnpack: unpack,
		bootFilesDir:    filepath.Join(unpack, "resin-boot"),
		quirksDir:       filepath.Join(unpack, "quirks"),
	}
}

func (w workspaceLayout) cleanWorkspace() error {
	if err := os.RemoveAll(w.workspace); err != nil {
		return errors.Wrapf(err, "failed to clean workspace %s", w.workspace)
	}
	return os.MkdirAll(w.workspace, 0755)
}

func (w workspaceLayout) cleanUnpack() error {
	if err := os.RemoveAll(w.workspaceUnpack); err != nil {
		return errors.Wrapf(err, "failed to clean unpack dir %s", w.workspaceUnpack)
	}
	return os.MkdirAll(w.workspaceUnpack, 0755)
}

func (w workspaceLayout) testUpdate(fingerprints []string) error {
	for _, fp := range fingerprints {
		path := filepath.Join(w.workspaceUnpack, fp)
		if _, err := os.Stat(path); err != nil {
			return errors.Errorf("update bundle fingerprint missing: %s", fp)
		}
	}
	return nil
}

// UnpackQuirks is promoted to satisfy Fetcher.UnpackQuirks for both the
// tarball and registry implementations.
func (w workspaceLayout) UnpackQuirks(location string) error {
	if _, err := os.Stat(w.quirksDir); os.IsNotExist(err) {
		return nil
	}
	return fsutil.SafeDirCopy(w.quirksDir, location, nil)
}

// UnpackRootfs is promoted to satisfy Fetcher.UnpackRootfs.
func (w workspaceLayout) UnpackRootfs(location string) error {
	return fsutil.SafeDirCopy(w.workspaceUnpack, location, []string{"resin-boot", "quirks"})
}

// GetBootFiles is promoted to satisfy Fetcher.GetBootFiles.
func (w workspaceLayout) GetBootFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(w.bootFilesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.bootFilesDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}

// Cleanup is promoted to satisfy Fetcher.Cleanup.
func (w workspaceLayout) Cleanup() error {
	return os.RemoveAll(w.workspaceUnpack)
}

// OpenBootFile opens a file previously listed by GetBootFiles for reading,
// by its path relative to the boot-files subtree.
func (w workspaceLayout) OpenBootFile(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(w.bootFilesDir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open boot file %s", name)
	}
	return f, nil
}
