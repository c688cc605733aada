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

package system

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandOutput(t *testing.T) {
	out, err := Command("echo", "hello").Output()
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestOsCallsStat(t *testing.T) {
	var oc OsCalls
	fi, err := oc.Stat(os.Args[0])
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
}

func TestGetPartitionIndex(t *testing.T) {
	cases := map[string]int{
		"/dev/mmcblk0p2": 2,
		"/dev/sda1":      1,
		"/dev/nvme0n1p3": 3,
	}
	for device, want := range cases {
		got, err := GetPartitionIndex(device)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGetPartitionIndexInvalid(t *testing.T) {
	_, err := GetPartitionIndex("/dev/disk/by-partuuid/not-a-number")
	assert.Error(t, err)
}
