//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the software backend for 600 frames.
func (Run) Software() error {
	fmt.Println("Run testbed on the software backend...")
	_, err := executeCmd("go", withArgs("run", ".", "-backend", "software", "-frames", "600"), withStream())
	return err
}

// Runs the testbed on the first Vulkan device found.
func (Run) Vulkan() error {
	fmt.Println("Run testbed on the Vulkan backend...")
	_, err := executeCmd("go", withArgs("run", ".", "-backend", "vulkan", "-frames", "600"), withStream())
	return err
}

// Runs the testbed with configs/anima.toml, reloading it on change, and
// serves metrics on :9090.
func (Run) Config() error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", "configs/anima.toml", "-metrics-addr", ":9090"), withStream())
	return err
}
