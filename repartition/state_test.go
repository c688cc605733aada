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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := readMarker(dir)
	require.NoError(t, err)
	assert.Nil(t, m, "no marker should exist yet")

	require.NoError(t, writeMarker(dir, marker{ExpectedState: StateB, DeltaMiB: 40}))

	got, err := readMarker(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateB, got.ExpectedState)
	assert.Equal(t, int64(40), got.DeltaMiB)

	require.NoError(t, clearMarker(dir))
	got, err = readMarker(dir)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StateA, classify(true, true))
	assert.Equal(t, StateB, classify(false, true))
	assert.Equal(t, StateC, classify(false, false))
	assert.Equal(t, StateE, classify(true, false))
}

func TestAlignToOptimal(t *testing.T) {
	const sectorsPerMiB = 1024 * 1024 / 512
	assert.Equal(t, uint32(sectorsPerMiB), alignToOptimal(1))
	assert.Equal(t, uint32(sectorsPerMiB), alignToOptimal(sectorsPerMiB))
	assert.Equal(t, uint32(2*sectorsPerMiB), alignToOptimal(sectorsPerMiB+1))
}
