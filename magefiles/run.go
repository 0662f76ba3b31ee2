//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with the configuration in vri.toml.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "--config", "vri.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed with the Vulkan validation layers forced on.
func (Run) Validation() error {
	mg.Deps(Build.Engine)
	_, err := executeCmd("bin/vri", withArgs("--config", "vri.validation.toml", "--no-watch"), withStream())
	return err
}
