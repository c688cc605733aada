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

// Package cli wires the command-line flags and environment overrides from
// the external-interfaces contract onto orchestrator.Options, and sets up
// logging before the orchestrator runs.
package cli

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/resin-io/resinhup/conf"
	"github.com/resin-io/resinhup/orchestrator"
)

// Run parses args and executes the orchestrator, returning the process
// exit code from orchestrator.Run (or 1 if flag parsing itself fails).
func Run(args []string) int {
	app := newApp()

	exitCode := 1
	app.Action = func(c *cli.Context) error {
		setupLogging(c)

		opts := orchestrator.Options{
			ConfigurationFile: c.String("configuration-file"),
			Device:            c.String("device"),
			Remote:            c.String("remote"),
			TargetVersion:     c.String("update-to-version"),
			CurrentVersion:    currentVersion(c),
			Staging:           c.Bool("staging"),
			Force:             c.Bool("force"),
			AllowDowngrades:   c.Bool("allow-downgrades"),
			SupervisorImage:   c.String("supervisor-image"),
			SupervisorTag:     c.String("supervisor-tag"),
		}

		// The fingerprint scanner is an external collaborator (spec's
		// pre-flight integrity check lives outside this agent); there is
		// no oracle to invoke here, so the precondition is a no-op unless
		// a future integration supplies one.
		exitCode = int(orchestrator.Run(opts, nil))
		return nil
	}

	if err := app.Run(args); err != nil {
		log.Error(err)
		return 1
	}
	return exitCode
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "resinhup",
		Usage: "update the host OS of a resin/balena device in place",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "update-to-version",
				Usage:    "target OS version to update to",
				EnvVars:  []string{"VERSION"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "device type, e.g. raspberry-pi2, intel-nuc, beaglebone-black",
			},
			&cli.StringFlag{
				Name:  "configuration-file",
				Usage: "path to the host configuration file",
				Value: conf.DefaultConfFile,
			},
			&cli.StringFlag{
				Name:    "remote",
				Usage:   "override [fetcher].remote from the host configuration",
				EnvVars: []string{"REMOTE"},
			},
			&cli.BoolFlag{
				Name:    "staging",
				Usage:   "use the staging environment section when migrating config.json",
				EnvVars: []string{"RESINHUP_STAGING"},
			},
			&cli.BoolFlag{
				Name:    "force",
				Usage:   "skip the fingerprint precondition and version checks",
				EnvVars: []string{"RESINHUP_FORCE"},
			},
			&cli.BoolFlag{
				Name:    "allow-downgrades",
				Usage:   "allow updating to a version older than the current one",
				EnvVars: []string{"ALLOW_DOWNGRADES"},
			},
			&cli.StringFlag{
				Name:    "supervisor-image",
				Usage:   "override [Supervisor].supervisor_image",
				EnvVars: []string{"SUPERVISOR_IMAGE"},
			},
			&cli.StringFlag{
				Name:    "supervisor-tag",
				Usage:   "override [Supervisor].supervisor_tag",
				EnvVars: []string{"SUPERVISOR_TAG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-colors",
				Usage: "disable colored log output",
			},
			&cli.StringFlag{
				Name:  "current-version",
				Usage: "current OS version, used for the downgrade check (the check is skipped when this is not given)",
			},
		},
	}
}

func setupLogging(c *cli.Context) {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		DisableColors: c.Bool("no-colors"),
		FullTimestamp: true,
	})
}

func currentVersion(c *cli.Context) string {
	if v := c.String("current-version"); v != "" {
		return v
	}
	return ""
}
