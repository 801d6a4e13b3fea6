package engine

import (
	"time"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name     string
	LogLevel core.LogLevel
	// MaxFrames stops the loop after that many frames, 0 runs until Stop.
	MaxFrames uint64
	// TargetFrameTime paces the loop. 0 starts the next frame as soon as the
	// previous one is submitted.
	TargetFrameTime time.Duration
	Scheduler       scheduler.Config
	// ConfigPath, if set, is watched and scheduler tuning and log level
	// changes are applied while running.
	ConfigPath string
}
