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

// Package kernelmod implements the precondition that refuses to update if
// any currently loaded kernel module cannot be traced back to a file on
// the standard module tree: such a module carries code whose persistence
// across a reboot into the new OS cannot be assumed.
package kernelmod

import (
	"bufio"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/resin-io/resinhup/system"
)

// HasCustomLoadedModules enumerates loaded kernel modules (lsmod) and
// resolves each one's on-disk filename (modinfo). It returns true, and
// logs the offending module, as soon as one has no resolvable filename.
func HasCustomLoadedModules(cmd system.Commander) (bool, error) {
	modules, err := loadedModules(cmd)
	if err != nil {
		return false, err
	}

	for _, name := range modules {
		filename, err := modinfoFilename(cmd, name)
		if err != nil || filename == "" {
			log.Errorf("kernel module %s has no resolvable on-disk path, refusing update", name)
			return true, nil
		}
	}

	return false, nil
}

// loadedModules parses `lsmod` output, skipping its header line, and
// returns just the module names (first column).
func loadedModules(cmd system.Commander) ([]string, error) {
	out, err := cmd.Command("lsmod").Output()
	if err != nil {
		return nil, errors.Wrap(err, "failed to run lsmod")
	}

	var modules []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		modules = append(modules, fields[0])
	}
	return modules, scanner.Err()
}

// modinfoFilename parses `modinfo <name>` output for its "filename:"
// attribute, returning "" if the attribute is absent.
func modinfoFilename(cmd system.Commander, name string) (string, error) {
	out, err := cmd.Command("modinfo", name).Output()
	if err != nil {
		// A module with no modinfo entry at all (e.g. built directly into
		// the kernel image under a synthetic name) is treated the same as
		// an unresolvable filename.
		return "", nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == "filename" {
			return strings.TrimSpace(parts[1]), nil
		}
	}
	return "", nil
}
