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
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// ReadJSON decodes a JSON object file into a generic map, returning an
// empty map if the file does not exist yet.
func ReadJSON(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return m, nil
}

// WriteJSON re-encodes m and writes it to path through the atomic write
// contract.
func WriteJSON(path string, m map[string]interface{}) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return WriteAtomic(path, data, 0644)
}

// JSONSetAttribute sets attribute to value in the JSON object at path,
// creating the file if absent, and persists it atomically.
func JSONSetAttribute(path, attribute string, value interface{}) error {
	m, err := ReadJSON(path)
	if err != nil {
		return err
	}
	m[attribute] = value
	return WriteJSON(path, m)
}

// JSONAttributeExists reports whether attribute is present in the JSON
// object at path.
func JSONAttributeExists(path, attribute string) (bool, error) {
	m, err := ReadJSON(path)
	if err != nil {
		return false, err
	}
	_, ok := m[attribute]
	return ok, nil
}

// IsTextFile makes a best-effort guess at whether a file is text, by
// checking the first 8000 bytes for a NUL byte - the same heuristic
// binaryornot and most "is this binary" detectors use.
func IsTextFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	buf := make([]byte, 8000)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		// empty file counts as text
		return true, nil
	}
	return !bytes.Contains(buf[:n], []byte{0}), nil
}
