//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test with the race detector.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}

// Runs the config watcher and engine tests, which touch the filesystem and
// run real frames.
func (Test) Integration() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./engine", "./engine/config", "./testbed"), withStream())
	return err
}

type Bench mg.Namespace

// Runs the queue and scheduler benchmarks.
func (Bench) Scheduler() error {
	_, err := executeCmd("go", withArgs("test", "-run", "^$", "-bench", ".", "-benchmem", "./engine/scheduler"), withStream())
	return err
}
