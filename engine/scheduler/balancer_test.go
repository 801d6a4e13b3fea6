package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

func TestRoundRobinCycles(t *testing.T) {
	b := NewLoadBalancer(StrategyRoundRobin, 3)
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, b.SelectWorker(draw(1)))
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestAffinityIsKept(t *testing.T) {
	for _, s := range []LoadBalancingStrategy{StrategyRoundRobin, StrategyLeastLoaded, StrategyWorkStealing, StrategyAffinityBased} {
		b := NewLoadBalancer(s, 4)
		b.UpdateLoad(2, 1)
		assert.Equal(t, 2, b.SelectWorker(draw(1, metadata.WithAffinity(2))), s.String())
	}
}

func TestLiteralItemIsBalanced(t *testing.T) {
	b := NewLoadBalancer(StrategyLeastLoaded, 3)
	b.UpdateLoad(0, 0.8)
	b.UpdateLoad(1, 0.1)
	b.UpdateLoad(2, 0.5)

	item := metadata.WorkItem{Kind: metadata.WORK_KIND_DRAW, Payload: metadata.DrawPayload{VertexCount: 3}}
	assert.Equal(t, 1, b.SelectWorker(item))
}

func TestLeastLoaded(t *testing.T) {
	b := NewLoadBalancer(StrategyLeastLoaded, 4)

	// all equal: lowest index
	assert.Equal(t, 0, b.SelectWorker(draw(1)))

	b.UpdateLoad(0, 0.9)
	b.UpdateLoad(1, 0.4)
	b.UpdateLoad(2, 0.2)
	b.UpdateLoad(3, 0.2)
	assert.Equal(t, 2, b.SelectWorker(draw(1)))
	assert.Equal(t, 2, b.SelectWorker(draw(1)))

	b.UpdateLoad(2, 0.5)
	assert.Equal(t, 3, b.SelectWorker(draw(1)))
}

func TestAliasedStrategiesActLikeLeastLoaded(t *testing.T) {
	for _, s := range []LoadBalancingStrategy{StrategyWorkStealing, StrategyAffinityBased} {
		b := NewLoadBalancer(s, 3)
		b.UpdateLoad(0, 0.7)
		b.UpdateLoad(1, 0.1)
		b.UpdateLoad(2, 0.3)
		assert.Equal(t, 1, b.SelectWorker(draw(1)), s.String())
		assert.Equal(t, s, b.Strategy())
	}
}

func TestUpdateLoadClampsAndIgnoresUnknownWorkers(t *testing.T) {
	b := NewLoadBalancer(StrategyLeastLoaded, 2)
	b.UpdateLoad(0, 3)
	b.UpdateLoad(1, -1)
	b.UpdateLoad(5, 0.5)
	b.UpdateLoad(-1, 0.5)
	assert.Equal(t, []float64{1, 0}, b.Loads())
	assert.Equal(t, 2, b.Workers())
}

func TestSetStrategy(t *testing.T) {
	b := NewLoadBalancer(StrategyRoundRobin, 2)
	b.UpdateLoad(0, 0.5)
	assert.Equal(t, 0, b.SelectWorker(draw(1)))
	assert.Equal(t, 1, b.SelectWorker(draw(1)))

	b.SetStrategy(StrategyLeastLoaded)
	assert.Equal(t, StrategyLeastLoaded, b.Strategy())
	assert.Equal(t, 1, b.SelectWorker(draw(1)))
	assert.Equal(t, 1, b.SelectWorker(draw(1)))
}

type lastWorkerPolicy struct{}

func (lastWorkerPolicy) Select(_ metadata.WorkItem, loads []float64) int { return len(loads) - 1 }

func TestCustomPolicy(t *testing.T) {
	b := NewLoadBalancerWithPolicy(lastWorkerPolicy{}, 3)
	assert.Equal(t, 2, b.SelectWorker(draw(1)))
	assert.Equal(t, StrategyWorkStealing, b.Strategy())
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]LoadBalancingStrategy{
		"":               StrategyRoundRobin,
		"round_robin":    StrategyRoundRobin,
		"Least-Loaded":   StrategyLeastLoaded,
		" work_stealing": StrategyWorkStealing,
		"affinity-based": StrategyAffinityBased,
	}
	for in, want := range cases {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStrategy("random")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
