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
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resin-io/resinhup/conf"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestTarFetcherUnpack(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"resin-boot/cmdline.txt":  "root=/dev/mmcblk0p2",
		"quirks/patch.txt":        "patched",
		"etc/os-release":          "ID=resin-os",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	workspace := t.TempDir()
	cfg := &conf.HostConfig{}
	cfg.Fetcher.Remote = srv.URL
	cfg.Fetcher.UpdateFileFingerprints = []string{"resin-boot/cmdline.txt"}

	f := newTarFetcher(cfg, "raspberry-pi2", "2.1.0", workspace)
	require.NoError(t, f.Unpack(true))

	bootFiles, err := f.GetBootFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"cmdline.txt"}, bootFiles)

	rootfsDst := t.TempDir()
	require.NoError(t, f.UnpackRootfs(rootfsDst))
	_, err = os.Stat(filepath.Join(rootfsDst, "etc", "os-release"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(rootfsDst, "resin-boot"))
	assert.True(t, os.IsNotExist(err), "resin-boot must be excluded from the rootfs copy")

	quirksDst := t.TempDir()
	require.NoError(t, f.UnpackQuirks(quirksDst))
	_, err = os.Stat(filepath.Join(quirksDst, "patch.txt"))
	assert.NoError(t, err)
}

func TestTarFetcherUnpackMissingFingerprintFails(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"etc/os-release": "ID=resin-os"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	cfg := &conf.HostConfig{}
	cfg.Fetcher.Remote = srv.URL
	cfg.Fetcher.UpdateFileFingerprints = []string{"resin-boot/cmdline.txt"}

	f := newTarFetcher(cfg, "raspberry-pi2", "2.1.0", t.TempDir())
	err := f.Unpack(true)
	assert.Error(t, err)
}

func TestTarFetcherUnpackNon200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := &conf.HostConfig{}
	cfg.Fetcher.Remote = srv.URL

	f := newTarFetcher(cfg, "raspberry-pi2", "2.1.0", t.TempDir())
	err := f.Unpack(true)
	assert.Error(t, err)
}
