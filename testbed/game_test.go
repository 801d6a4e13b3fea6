package testbed

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine"
	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-sched/engine/renderer/software"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// drain keeps the frame open until every submitted item was recorded, so
// each frame's work lands in that frame's batch.
func drain(s *scheduler.Scheduler) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := s.Stats()
		if st.CompletedItems+st.FailedItems >= st.TotalItems {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("frame did not drain")
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func runFrames(t *testing.T, backend *software.Backend, resources Resources, frames uint64) *TestGame {
	t.Helper()
	appConfig := &engine.ApplicationConfig{
		Name:      "testbed",
		LogLevel:  core.ErrorLevel,
		MaxFrames: frames,
		Scheduler: scheduler.Config{
			WorkerCount:       3,
			ContextsPerWorker: 2,
			IdleBackoff:       50 * time.Microsecond,
			FenceTimeout:      time.Second,
		},
	}
	g := NewTestGame(appConfig, resources, 7)
	render := g.FnRender
	g.FnRender = func(s *scheduler.Scheduler, frame uint64, delta float64) error {
		if err := render(s, frame, delta); err != nil {
			return err
		}
		return drain(s)
	}
	e, err := engine.New(g.Game, backend)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	require.NoError(t, e.Shutdown())
	return g
}

func TestTestbedRecordsMixedWork(t *testing.T) {
	backend := software.New()
	g := runFrames(t, backend, SoftwareResources(), 10)

	submitted, completed, failed, rejected := g.Totals()
	assert.Greater(t, submitted, uint64(0))
	assert.Equal(t, submitted, completed)
	assert.Zero(t, failed)
	assert.Zero(t, rejected)

	kinds := make(map[metadata.WorkKind]int)
	for _, batch := range backend.Batches() {
		for _, c := range batch.Contexts {
			for _, cmd := range c.Commands {
				kinds[cmd.Kind]++
			}
		}
	}
	assert.NotZero(t, kinds[metadata.WORK_KIND_RENDER_PASS_BEGIN])
	assert.NotZero(t, kinds[metadata.WORK_KIND_DRAW])
	assert.NotZero(t, kinds[metadata.WORK_KIND_COMPUTE_DISPATCH])
	assert.NotZero(t, kinds[metadata.WORK_KIND_COPY])
	assert.Zero(t, kinds[metadata.WORK_KIND_RAY_TRACE])
}

func TestTestbedSkipsMissingResources(t *testing.T) {
	backend := software.New()
	g := runFrames(t, backend, Resources{Staging: 1, Target: 2}, 3)

	submitted, _, _, _ := g.Totals()
	// update, barrier and copy per frame
	assert.Equal(t, uint64(9), submitted)
	for _, batch := range backend.Batches() {
		for _, c := range batch.Contexts {
			for _, cmd := range c.Commands {
				assert.NotEqual(t, metadata.WORK_KIND_DRAW, cmd.Kind)
			}
		}
	}
}

func TestTestbedRayTracingRejectedWithoutSupport(t *testing.T) {
	resources := SoftwareResources()
	resources.RayTracing = true
	g := runFrames(t, software.New(software.WithRayTracing(false)), resources, 2)

	_, _, _, rejected := g.Totals()
	assert.Equal(t, uint64(2), rejected)
}

func TestTestbedRayTracingWithSupport(t *testing.T) {
	resources := SoftwareResources()
	resources.RayTracing = true
	g := runFrames(t, software.New(software.WithRayTracing(true)), resources, 2)

	_, _, failed, rejected := g.Totals()
	assert.Zero(t, rejected)
	assert.Zero(t, failed)
}
