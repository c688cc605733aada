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

package repartition

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/fsutil"
)

// BootState is one of the five states of the boot-partition enlargement
// state machine (see the package doc in repartitioner.go).
type BootState string

const (
	StateA BootState = "A"
	StateB BootState = "B"
	StateC BootState = "C"
	StateD BootState = "D"
	StateE BootState = "E"
)

// marker is the on-disk record of "what we expect to find on next boot",
// so recovery after a reboot is a lookup rather than a geometry guess.
type marker struct {
	ExpectedState  BootState `json:"expected_state"`
	TargetBootMiB  int64     `json:"target_boot_mib"`
	DeltaMiB       int64     `json:"delta_mib"`
}

func markerPath(bootMountpoint string) string {
	return filepath.Join(bootMountpoint, ".resinhup-repartition-state")
}

func writeMarker(bootMountpoint string, m marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode repartition marker")
	}
	return fsutil.WriteAtomic(markerPath(bootMountpoint), data, 0644)
}

func readMarker(bootMountpoint string) (*marker, error) {
	data, err := os.ReadFile(markerPath(bootMountpoint))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read repartition marker")
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode repartition marker")
	}
	return &m, nil
}

func clearMarker(bootMountpoint string) error {
	err := os.Remove(markerPath(bootMountpoint))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear repartition marker")
	}
	return nil
}
