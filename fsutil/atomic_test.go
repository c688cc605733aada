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

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	require.NoError(t, WriteAtomic(path, []byte("payload"), 0644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = os.Lstat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomicOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestJSONSetAttributeCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, JSONSetAttribute(path, "apiEndpoint", "https://api.example"))

	exists, err := JSONAttributeExists(path, "apiEndpoint")
	require.NoError(t, err)
	assert.True(t, exists)

	m, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example", m["apiEndpoint"])
}

func TestIsTextFile(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "text.txt")
	binPath := filepath.Join(dir, "bin.dat")

	require.NoError(t, os.WriteFile(textPath, []byte("hello\nworld\n"), 0644))
	require.NoError(t, os.WriteFile(binPath, []byte{0x00, 0x01, 0x02, 0xff}, 0644))

	isText, err := IsTextFile(textPath)
	require.NoError(t, err)
	assert.True(t, isText)

	isText, err = IsTextFile(binPath)
	require.NoError(t, err)
	assert.False(t, isText)
}
