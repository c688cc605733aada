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

package bootloader

import (
	"fmt"
	"strings"
)

// configureUBoot rewrites uEnv.txt for the BeagleBone: it drops any line
// mentioning setemmcroot, makes sure a finduuid line is present, and
// switches the bootpart=1:<idx> entry from oldIdx to newIdx.
func configureUBoot(bootMountpoint string, oldIdx, newIdx int) error {
	path := bootFile(bootMountpoint, "uEnv.txt")
	return applyTextTransformation(path, func(lines []string) []string {
		lines = tweakUEnv(lines)
		lines = switchUEnvBootpart(lines, oldIdx, newIdx)
		return lines
	})
}

// tweakUEnv drops any setemmcroot line and ensures a finduuid line exists.
func tweakUEnv(lines []string) []string {
	out := make([]string, 0, len(lines)+1)
	haveFinduuid := false
	for _, l := range lines {
		if strings.Contains(l, "setemmcroot") {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(l), "finduuid=") {
			haveFinduuid = true
		}
		out = append(out, l)
	}
	if !haveFinduuid {
		out = append(out, "finduuid=part uuid mmc ${bootpart} uuid")
	}
	return out
}

// switchUEnvBootpart substitutes bootpart=1:<oldIdx> with bootpart=1:<newIdx>.
func switchUEnvBootpart(lines []string, oldIdx, newIdx int) []string {
	old := fmt.Sprintf("bootpart=1:%d", oldIdx)
	newVal := fmt.Sprintf("bootpart=1:%d", newIdx)
	for i, l := range lines {
		lines[i] = strings.ReplaceAll(l, old, newVal)
	}
	return lines
}
