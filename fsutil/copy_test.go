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

func TestSafeFileCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")

	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0644))

	require.NoError(t, SafeFileCopy(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	_, err = os.Lstat(dst + ".tmp")
	assert.True(t, os.IsNotExist(err), "no .tmp scratch file should remain")
}

func TestSafeFileCopyOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, SafeFileCopy(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestSafeFileCopyRejectsDirectoryDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	require.NoError(t, os.Mkdir(dst, 0755))

	err := SafeFileCopy(src, dst)
	assert.Error(t, err)
}

func TestSafeFileCopyPreservesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	src := filepath.Join(dir, "link")
	dst := filepath.Join(dir, "dst-link")

	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
	require.NoError(t, os.Symlink(target, src))

	require.NoError(t, SafeFileCopy(src, dst))

	fi, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, fi.Mode()&os.ModeSymlink != 0)

	resolved, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
}

func TestSafeDirCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "mid.txt"), []byte("2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "deep.txt"), []byte("3"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "skip-me.txt"), []byte("4"), 0644))

	require.NoError(t, SafeDirCopy(src, dst, []string{"skip-me.txt"}))

	got, err := os.ReadFile(filepath.Join(dst, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "a", "b", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))

	_, err = os.Stat(filepath.Join(dst, "skip-me.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSafeDirCopyRefusesOntoItself(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0755))
	err := SafeDirCopy(dir, dir, nil)
	assert.Error(t, err)
}

func TestSafeCopyDispatchesOnSourceType(t *testing.T) {
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "f.txt")
	srcDir := filepath.Join(dir, "d")
	require.NoError(t, os.WriteFile(srcFile, []byte("x"), 0644))
	require.NoError(t, os.Mkdir(srcDir, 0755))

	assert.NoError(t, SafeCopy(srcFile, filepath.Join(dir, "f2.txt"), nil))
	assert.NoError(t, SafeCopy(srcDir, filepath.Join(dir, "d2"), nil))
}
