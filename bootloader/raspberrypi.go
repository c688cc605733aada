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

import "strings"

// configureRaspberryPi switches the root= argument in cmdline.txt from old
// to new via plain text substitution.
func configureRaspberryPi(bootMountpoint, old, newDev string) error {
	path := bootFile(bootMountpoint, "cmdline.txt")
	return applyTextTransformation(path, func(lines []string) []string {
		for i, l := range lines {
			lines[i] = strings.ReplaceAll(l, old, newDev)
		}
		return lines
	})
}
