package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/config"
	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

type Stage uint32

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

var ErrMissingRender = errors.New("game has no render function")

// Engine drives a Game frame by frame: update, open a frame on the
// scheduler, let the game submit work, close and submit the frame.
type Engine struct {
	currentStage atomic.Uint32
	gameInstance *Game
	scheduler    *scheduler.Scheduler
	watcher      *config.Watcher
	isRunning    atomic.Bool

	clock   *core.Clock
	metrics *core.MetricsState
	frames  atomic.Uint64
}

func New(g *Game, backend renderer.CommandBackend) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine: game and application config are required")
	}
	if g.FnRender == nil {
		return nil, ErrMissingRender
	}
	core.SetLogLevel(g.ApplicationConfig.LogLevel)

	cfg := g.ApplicationConfig.Scheduler
	s, err := scheduler.New(backend, &cfg)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		gameInstance: g,
		scheduler:    s,
		clock:        core.NewClock(),
		metrics:      core.NewMetricsState(),
	}
	e.currentStage.Store(uint32(EngineStageUninitialized))
	return e, nil
}

func (e *Engine) Stage() Stage { return Stage(e.currentStage.Load()) }

func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Frames returns how many frames have been submitted.
func (e *Engine) Frames() uint64 { return e.frames.Load() }

// FrameMetrics returns the frames per second and the rolling average frame
// time in milliseconds.
func (e *Engine) FrameMetrics() (float64, float64) { return e.metrics.Frame() }

func (e *Engine) Initialize() error {
	e.currentStage.Store(uint32(EngineStageInitializing))

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		w, err := config.NewWatcher(path)
		if err != nil {
			return err
		}
		e.watcher = w
		core.LogInfo("watching %s for configuration changes", w.Path())
	}

	if err := e.scheduler.Start(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.scheduler); err != nil {
			return err
		}
	}

	e.currentStage.Store(uint32(EngineStageInitialized))
	core.LogInfo("%s initialized with scheduler %s", e.gameInstance.ApplicationConfig.Name, e.scheduler.Name())
	return nil
}

// Run loops until Stop is called, ctx is done, MaxFrames is reached or a
// frame fails.
func (e *Engine) Run(ctx context.Context) error {
	if e.Stage() != EngineStageInitialized {
		return fmt.Errorf("engine: run from stage %d", e.Stage())
	}
	e.currentStage.Store(uint32(EngineStageRunning))
	e.isRunning.Store(true)
	defer e.isRunning.Store(false)

	appConfig := e.gameInstance.ApplicationConfig
	e.clock.Start()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			return nil
		}
		e.pollConfig()

		frameStart := time.Now()
		delta := e.clock.Lap().Seconds()

		if err := e.frame(ctx, delta); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			core.LogError("frame %d failed, shutting down: %v", e.scheduler.FrameIndex(), err)
			return err
		}

		frameElapsed := time.Since(frameStart)
		e.metrics.Update(frameElapsed.Seconds())
		if n := e.frames.Add(1); appConfig.MaxFrames > 0 && n >= appConfig.MaxFrames {
			core.LogInfo("reached %d frames, stopping", n)
			return nil
		}

		// If there is time left, give it back to the OS.
		if remaining := appConfig.TargetFrameTime - frameElapsed; remaining > 0 {
			t := time.NewTimer(remaining)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil
			}
		}
	}
	return nil
}

// frame runs one update and one bracketed render.
func (e *Engine) frame(ctx context.Context, delta float64) error {
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}
	if err := e.scheduler.BeginFrame(ctx); err != nil {
		return err
	}
	renderErr := e.gameInstance.FnRender(e.scheduler, e.scheduler.FrameIndex(), delta)
	if renderErr != nil {
		renderErr = fmt.Errorf("game render: %w", renderErr)
	}
	// the frame is closed even when the game failed, so the scheduler stays
	// usable for shutdown
	return errors.Join(renderErr, e.scheduler.EndFrame(ctx))
}

// pollConfig applies the latest reloaded configuration, if any.
func (e *Engine) pollConfig() {
	if e.watcher == nil {
		return
	}
	select {
	case f := <-e.watcher.Updates():
		e.applyConfig(f)
	case err := <-e.watcher.Errors():
		core.LogWarn("configuration reload failed: %v", err)
	default:
	}
}

func (e *Engine) applyConfig(f *config.File) {
	tuning, err := f.Scheduler.Tuning()
	if err != nil {
		core.LogWarn("ignoring scheduler tuning: %v", err)
	} else if err := e.scheduler.ApplyTuning(tuning); err != nil {
		core.LogWarn("ignoring scheduler tuning: %v", err)
	} else {
		core.LogInfo("applied tuning: strategy %s, idle backoff %s", tuning.LoadBalancing, tuning.IdleBackoff)
	}

	if f.Application.LogLevel == "" {
		return
	}
	level, err := f.Application.Level()
	if err != nil {
		core.LogWarn("ignoring log level: %v", err)
		return
	}
	core.SetLogLevel(level)
}

// Stop makes Run return after the frame in flight.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.Stop()
	e.currentStage.Store(uint32(EngineStageShuttingDown))

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	errs = append(errs, e.scheduler.Destroy())

	e.currentStage.Store(uint32(EngineStageShutdown))
	return errors.Join(errs...)
}
