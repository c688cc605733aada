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
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/utils"
)

// registryFetcher pulls <remote>:<version>-<machine> and flattens its
// layers into a single filesystem tar stream with mutate.Extract, taking
// the place of the original's "create a throwaway container, export it"
// dance - no daemon or container lifecycle is needed.
type registryFetcher struct {
	workspaceLayout

	ref          string
	fingerprints []string
}

func newRegistryFetcher(cfg *conf.HostConfig, machine, version, workspace string) *registryFetcher {
	return &registryFetcher{
		workspaceLayout: newWorkspaceLayout(workspace),
		ref:             fmt.Sprintf("%s:%s-%s", cfg.Fetcher.Remote, version, machine),
		fingerprints:    cfg.Fetcher.UpdateFileFingerprints,
	}
}

func (r *registryFetcher) Download() error {
	_, err := r.resolve()
	return err
}

func (r *registryFetcher) Unpack(downloadFirst bool) error {
	if err := r.cleanUnpack(); err != nil {
		return err
	}

	img, err := r.resolve()
	if err != nil {
		return err
	}

	rc := mutate.Extract(img)
	defer rc.Close()

	progress := &utils.ProgressWriter{Out: log.StandardLogger().Out}
	reader := io.TeeReader(rc, progress)

	if err := extractTarAutoDetect(reader, r.workspaceUnpack); err != nil {
		return errors.Wrapf(err, "failed to extract image %s", r.ref)
	}

	return r.testUpdate(r.fingerprints)
}

func (r *registryFetcher) resolve() (v1.Image, error) {
	ref, err := name.ParseReference(r.ref)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid image reference %s", r.ref)
	}
	img, err := remote.Image(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pull %s", r.ref)
	}
	return img, nil
}
