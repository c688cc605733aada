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

// Package conf loads the host's resinhup.conf, an INI file sectioned as
// [General], [fetcher], [rootfs], [FingerPrintScanner], [Supervisor],
// [config.json], plus one section per deployment environment.
package conf

import (
	"strings"

	"github.com/mvo5/goconfigparser"
	"github.com/pkg/errors"
)

// HostConfig is a typed view over the sectioned INI store described in
// external interfaces: rather than exposing the raw parser to every
// caller, the recognized sections and keys are read out explicitly here.
type HostConfig struct {
	path   string
	parser *goconfigparser.ConfigParser

	General            GeneralSection
	Fetcher            FetcherSection
	Rootfs             RootfsSection
	FingerPrintScanner FingerPrintScannerSection
	Supervisor         SupervisorSection
	ConfigJSON         ConfigJSONSection
}

type GeneralSection struct {
	HostBindMount      string
	SupportedMachines  []string
	BootPartitionIndex int // 0 = not set, use the heuristic
	MinimumVersion     string
}

type FetcherSection struct {
	Type                   string // "tar" or "dockerhub"
	Remote                 string
	Workspace              string
	UpdateFileFingerprints []string
	RegistryV1             bool
}

type RootfsSection struct {
	ToKeepFiles []string
}

type FingerPrintScannerSection struct {
	RootWhitelist            []string
	BootWhitelist            []string
	RootDefaultFingerPrintFile string
	BootDefaultFingerPrintFile string
}

type SupervisorSection struct {
	SupervisorImage string
	SupervisorTag   string
}

type ConfigJSONSection struct {
	PossibleLocations []string
	Type              string // which per-environment section to verify against
	DefaultMountpoint string
}

// Load reads and parses the host configuration file at path.
func Load(path string) (*HostConfig, error) {
	p := goconfigparser.New()
	if err := p.ReadFile(path); err != nil {
		return nil, errors.Wrapf(err, "failed to read host configuration %s", path)
	}

	hc := &HostConfig{path: path, parser: p}
	hc.General = GeneralSection{
		HostBindMount:      getOr(p, "General", "host_bind_mount", "/"),
		SupportedMachines:  fields(getOr(p, "General", "supported_machines", "")),
		BootPartitionIndex: getIntOr(p, "General", "boot_partition_index", 0),
		MinimumVersion:     getOr(p, "General", "minimum_version", ""),
	}
	hc.Fetcher = FetcherSection{
		Type:                   getOr(p, "fetcher", "type", "tar"),
		Remote:                 getOr(p, "fetcher", "remote", ""),
		Workspace:              getOr(p, "fetcher", "workspace", DefaultWorkspace),
		UpdateFileFingerprints: fields(getOr(p, "fetcher", "update_file_fingerprints", "")),
		RegistryV1:             getBoolOr(p, "fetcher", "registryv1", false),
	}
	hc.Rootfs = RootfsSection{
		ToKeepFiles: fields(getOr(p, "rootfs", "to_keep_files", "")),
	}
	hc.FingerPrintScanner = FingerPrintScannerSection{
		RootWhitelist:              fields(getOr(p, "FingerPrintScanner", "root_whitelist", "")),
		BootWhitelist:              fields(getOr(p, "FingerPrintScanner", "boot_whitelist", "")),
		RootDefaultFingerPrintFile: getOr(p, "FingerPrintScanner", "root_defaultFingerPrintFile", ""),
		BootDefaultFingerPrintFile: getOr(p, "FingerPrintScanner", "boot_defaultFingerPrintFile", ""),
	}
	hc.Supervisor = SupervisorSection{
		SupervisorImage: getOr(p, "Supervisor", "supervisor_image", ""),
		SupervisorTag:   getOr(p, "Supervisor", "supervisor_tag", ""),
	}
	hc.ConfigJSON = ConfigJSONSection{
		PossibleLocations: fields(getOr(p, "config.json", "possible_locations", "")),
		Type:              getOr(p, "config.json", "type", "production"),
		DefaultMountpoint: getOr(p, "config.json", "default_mountpoint", ""),
	}

	return hc, nil
}

// EnvironmentSection returns the key/value pairs of a per-environment
// section such as [staging] or [production], used by the config.json
// verification step.
func (h *HostConfig) EnvironmentSection(name string) (map[string]string, error) {
	if !h.parser.HasSection(name) {
		return nil, errors.Errorf("no such environment section %q in host configuration", name)
	}
	out := map[string]string{}
	for _, opt := range h.parser.Options(name) {
		v, err := h.parser.Get(name, opt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s.%s", name, opt)
		}
		out[opt] = v
	}
	return out, nil
}

// SetConfigJSONType persists the staging/production selection back into
// [config.json].type and saves the file, mirroring the original's
// "persist staging/production selection into host config" step.
func (h *HostConfig) SetConfigJSONType(envType string) error {
	h.ConfigJSON.Type = envType
	h.parser.Set("config.json", "type", envType)
	return errors.Wrap(h.parser.Write(h.path), "failed to persist host configuration")
}

func getOr(p *goconfigparser.ConfigParser, section, option, def string) string {
	v, err := p.Get(section, option)
	if err != nil || v == "" {
		return def
	}
	return v
}

func getIntOr(p *goconfigparser.ConfigParser, section, option string, def int) int {
	v, err := p.GetInt(section, option)
	if err != nil {
		return def
	}
	return v
}

func getBoolOr(p *goconfigparser.ConfigParser, section, option string, def bool) bool {
	v, err := p.GetBool(section, option)
	if err != nil {
		return def
	}
	return v
}

func fields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
