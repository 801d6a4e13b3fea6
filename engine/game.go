package engine

import "github.com/spaghettifunk/anima-sched/engine/scheduler"

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func(s *scheduler.Scheduler) error
type Update func(deltaTime float64) error

// Render submits the work of one frame. It runs between BeginFrame and
// EndFrame; frame is the index of the open frame.
type Render func(s *scheduler.Scheduler, frame uint64, deltaTime float64) error
type Shutdown func() error
