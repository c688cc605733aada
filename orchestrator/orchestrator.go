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

// Package orchestrator drives the linear, fail-fast update pipeline: load
// configuration, discover topology, grow the boot partition if needed,
// fetch the update bundle with retries, then hand off to the updater.
package orchestrator

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/fetcher"
	"github.com/resin-io/resinhup/kernelmod"
	"github.com/resin-io/resinhup/repartition"
	"github.com/resin-io/resinhup/system"
	"github.com/resin-io/resinhup/topology"
	"github.com/resin-io/resinhup/updater"
)

// ExitCode mirrors spec.md §6's exit code contract.
type ExitCode int

const (
	ExitSuccess           ExitCode = 0
	ExitFailure           ExitCode = 1
	ExitAlreadyUpToDate   ExitCode = 3
)

const (
	targetBootSizeMiB   = 40
	maxFetchAttempts     = 3
	minRetrySleepSeconds = 30
	maxRetrySleepSeconds = 120
)

// Options carries every CLI-derived input the orchestrator needs.
type Options struct {
	ConfigurationFile string
	Device            string
	Remote            string
	TargetVersion     string
	CurrentVersion    string
	Staging           bool
	Force             bool
	AllowDowngrades   bool
	SupervisorImage   string
	SupervisorTag     string
}

// FingerprintOracle is the injected boolean precondition the real
// fingerprint scanner implements; Run only ever calls it when --force is
// not set.
type FingerprintOracle func(cfg *conf.HostConfig) bool

// Run executes the full pipeline and returns the process exit code.
func Run(opts Options, oracle FingerprintOracle) ExitCode {
	cmd := system.OsCalls{}

	cfg, err := conf.Load(opts.ConfigurationFile)
	if err != nil {
		log.Errorf("failed to load host configuration: %v", err)
		return ExitFailure
	}
	applyOverrides(cfg, opts)

	if opts.TargetVersion == "" {
		log.Error("--update-to-version is required")
		return ExitFailure
	}
	if !opts.Force && cfg.General.MinimumVersion != "" && opts.TargetVersion < cfg.General.MinimumVersion {
		log.Errorf("update-to-version %s is below the minimum supported version %s", opts.TargetVersion, cfg.General.MinimumVersion)
		return ExitFailure
	}
	if !opts.Force && !opts.AllowDowngrades && opts.CurrentVersion != "" && opts.CurrentVersion >= opts.TargetVersion {
		log.Infof("already at or above requested version %s (current %s)", opts.TargetVersion, opts.CurrentVersion)
		return ExitAlreadyUpToDate
	}

	if !supportedMachine(cfg, opts.Device) {
		log.Errorf("device type %q is not in supported_machines", opts.Device)
		return ExitFailure
	}

	customModules, err := kernelmod.HasCustomLoadedModules(cmd)
	if err != nil {
		log.Errorf("failed to inspect loaded kernel modules: %v", err)
		return ExitFailure
	}
	if customModules {
		log.Error("refusing to update: a loaded kernel module has no resolvable on-disk path")
		return ExitFailure
	}

	if !opts.Force && oracle != nil && !oracle(cfg) {
		log.Error("fingerprint precondition failed")
		return ExitFailure
	}

	envType := "production"
	if opts.Staging {
		envType = "staging"
	}
	if err := cfg.SetConfigJSONType(envType); err != nil {
		log.Errorf("failed to persist staging/production selection: %v", err)
		return ExitFailure
	}

	topo, err := topology.Discover(cmd, cfg.General.BootPartitionIndex)
	if err != nil {
		log.Errorf("failed to discover partition topology: %v", err)
		return ExitFailure
	}

	repartitioner := repartition.New(cmd, topo.Disk)
	if err := repartitioner.IncreaseBootTo(topo, targetBootSizeMiB); err != nil {
		if errors.Is(err, repartition.ErrRebootRequired) {
			log.Info("repartitioner requested a reboot, continuing on next boot")
			return ExitSuccess
		}
		log.Errorf("failed to grow boot partition: %v", err)
		return ExitFailure
	}

	f, err := fetchWithRetries(cfg, opts.Device, opts.TargetVersion)
	if err != nil {
		log.Errorf("failed to fetch update bundle: %v", err)
		return ExitFailure
	}

	u := updater.New(cfg, cmd, f, topo, opts.Device, conf.DefaultRootTempMountpoint)
	runErr := u.UpgradeSystem()
	if cleanupErr := u.Cleanup(); cleanupErr != nil {
		log.Warnf("cleanup failed: %v", cleanupErr)
	}
	if cleanupErr := f.Cleanup(); cleanupErr != nil {
		log.Warnf("fetcher cleanup failed: %v", cleanupErr)
	}

	if runErr != nil {
		log.Errorf("update failed: %v", runErr)
		return ExitFailure
	}

	log.Info("update completed successfully, reboot to switch to the new root")
	return ExitSuccess
}

func applyOverrides(cfg *conf.HostConfig, opts Options) {
	if opts.Remote != "" {
		cfg.Fetcher.Remote = opts.Remote
	}
	if opts.SupervisorImage != "" {
		cfg.Supervisor.SupervisorImage = opts.SupervisorImage
	}
	if opts.SupervisorTag != "" {
		cfg.Supervisor.SupervisorTag = opts.SupervisorTag
	}
}

func supportedMachine(cfg *conf.HostConfig, device string) bool {
	if len(cfg.General.SupportedMachines) == 0 {
		return true
	}
	for _, m := range cfg.General.SupportedMachines {
		if m == device {
			return true
		}
	}
	return false
}

// fetchWithRetries builds the Fetcher and retries Unpack up to
// maxFetchAttempts times, sleeping a randomized 30-120s between attempts.
// The sleep is computed after a failure and only used before the next
// attempt, so the first attempt never waits.
func fetchWithRetries(cfg *conf.HostConfig, machine, version string) (fetcher.Fetcher, error) {
	f, err := fetcher.New(cfg, machine, version)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		lastErr = f.Unpack(true)
		if lastErr == nil {
			return f, nil
		}
		log.Warnf("fetch attempt %d/%d failed: %v", attempt, maxFetchAttempts, lastErr)
		if attempt < maxFetchAttempts {
			sleep := retrySleepDuration()
			log.Infof("retrying fetch in %s", sleep)
			time.Sleep(sleep)
		}
	}
	return nil, errors.Wrapf(lastErr, "fetch failed after %d attempts", maxFetchAttempts)
}

func retrySleepDuration() time.Duration {
	n := minRetrySleepSeconds + rand.Intn(maxRetrySleepSeconds-minRetrySleepSeconds+1)
	return time.Duration(n) * time.Second
}
