//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/vri", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go mod tidy.
func (Build) Tidy() error {
	return goModTidy()
}

type Test mg.Namespace

// Runs every unit test. None of them needs a GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the core packages under the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/core/...", "./engine/containers/...", "./engine/config/...", "./engine/renderer/vri/..."), withStream())
	return err
}

// Runs go vet, which also reports copied resource handles.
func (Test) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
