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

package fetcher

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/utils"
)

// tarFetcher downloads <remote>/resinos-<machine>/resinhup-<version>.tar.gz
// and streams it straight into the extractor, no intermediate file.
type tarFetcher struct {
	workspaceLayout

	remoteFile   string
	fingerprints []string
}

func newTarFetcher(cfg *conf.HostConfig, machine, version, workspace string) *tarFetcher {
	remote := cfg.Fetcher.Remote
	return &tarFetcher{
		workspaceLayout: newWorkspaceLayout(workspace),
		remoteFile:      fmt.Sprintf("%s/resinos-%s/resinhup-%s.tar.gz", remote, machine, version),
		fingerprints:    cfg.Fetcher.UpdateFileFingerprints,
	}
}

// Download only validates reachability: it issues a GET, checks for a 200
// status and discards the body. Unpack does the actual streaming with a
// GET of its own, so the archive is never buffered in memory or on disk.
func (t *tarFetcher) Download() error {
	resp, err := http.Get(t.remoteFile)
	if err != nil {
		return errors.Wrapf(err, "failed to reach %s", t.remoteFile)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to download %s: status %d", t.remoteFile, resp.StatusCode)
	}
	return nil
}

func (t *tarFetcher) Unpack(downloadFirst bool) error {
	if err := t.cleanUnpack(); err != nil {
		return err
	}

	resp, err := http.Get(t.remoteFile)
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", t.remoteFile)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to download %s: status %d", t.remoteFile, resp.StatusCode)
	}

	progress := &utils.ProgressWriter{Out: log.StandardLogger().Out, N: resp.ContentLength}
	reader := io.TeeReader(resp.Body, progress)

	if err := extractTarAutoDetect(reader, t.workspaceUnpack); err != nil {
		return errors.Wrapf(err, "failed to extract %s", t.remoteFile)
	}

	return t.testUpdate(t.fingerprints)
}

// extractTarAutoDetect peeks the stream for the gzip magic number and
// extracts it as tar or tar.gz accordingly.
func extractTarAutoDetect(r io.Reader, dst string) error {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "failed to inspect stream")
	}

	var tr *tar.Reader
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "failed to open gzip stream")
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	} else {
		tr = tar.NewReader(br)
	}

	return extractTar(tr, dst)
}

func extractTar(tr *tar.Reader, dst string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read tar entry")
		}

		target := filepath.Join(dst, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return errors.Wrapf(err, "failed to create directory %s", target)
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrapf(err, "failed to create symlink %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrapf(err, "failed to create %s", target)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return errors.Wrapf(err, "failed to write %s", target)
			}
			f.Close()
		default:
			// FIFOs, device nodes, hard links and any other entry type
			// are skipped.
			continue
		}
	}
}
