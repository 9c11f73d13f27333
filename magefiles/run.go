//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Scenario builds the host and replays the scenario named by $SCENARIO
func (Run) Scenario() error {
	mg.Deps(Build.Binary)

	scenario := os.Getenv("SCENARIO")
	if scenario == "" {
		scenario = "cross-context"
	}
	_, err := executeCmd(filepath.Join("bin", binaryName), withArgs("-scenario", scenario), withStream())
	return err
}
