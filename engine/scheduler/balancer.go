package scheduler

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	amath "github.com/spaghettifunk/anima-sched/engine/math"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type LoadBalancingStrategy int

const (
	StrategyRoundRobin LoadBalancingStrategy = iota
	StrategyLeastLoaded
	// StrategyWorkStealing currently behaves like StrategyLeastLoaded.
	StrategyWorkStealing
	// StrategyAffinityBased currently behaves like StrategyLeastLoaded.
	StrategyAffinityBased
)

var strategyNames = map[LoadBalancingStrategy]string{
	StrategyRoundRobin:    "round_robin",
	StrategyLeastLoaded:   "least_loaded",
	StrategyWorkStealing:  "work_stealing",
	StrategyAffinityBased: "affinity_based",
}

func (s LoadBalancingStrategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("LoadBalancingStrategy(%d)", int(s))
}

func (s LoadBalancingStrategy) valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy accepts the names used in configuration files. Dashes and
// underscores are interchangeable.
func ParseStrategy(name string) (LoadBalancingStrategy, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if n == "" {
		return StrategyRoundRobin, nil
	}
	for s, sn := range strategyNames {
		if sn == n {
			return s, nil
		}
	}
	return StrategyRoundRobin, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Policy picks a worker for an item that has no affinity yet. loads holds
// one utilization in [0, 1] per worker.
type Policy interface {
	Select(item metadata.WorkItem, loads []float64) int
}

type roundRobinPolicy struct {
	next atomic.Uint64
}

func (p *roundRobinPolicy) Select(_ metadata.WorkItem, loads []float64) int {
	return int((p.next.Add(1) - 1) % uint64(len(loads)))
}

type leastLoadedPolicy struct{}

func (leastLoadedPolicy) Select(_ metadata.WorkItem, loads []float64) int {
	return amath.ArgMin(loads)
}

func policyFor(s LoadBalancingStrategy) Policy {
	switch s {
	case StrategyRoundRobin:
		return &roundRobinPolicy{}
	default:
		return leastLoadedPolicy{}
	}
}

type policyBox struct {
	strategy LoadBalancingStrategy
	policy   Policy
}

// LoadBalancer maps work items to worker indices. Loads are written by the
// scheduler once per frame and read by any submitting goroutine; a stale
// read only skews placement.
type LoadBalancer struct {
	loads  []atomic.Uint64
	policy atomic.Pointer[policyBox]
}

func NewLoadBalancer(strategy LoadBalancingStrategy, workers int) *LoadBalancer {
	b := &LoadBalancer{loads: make([]atomic.Uint64, workers)}
	b.SetStrategy(strategy)
	return b
}

// NewLoadBalancerWithPolicy installs a custom policy, for instance a real
// work-stealing one. Strategy reports StrategyWorkStealing for it.
func NewLoadBalancerWithPolicy(p Policy, workers int) *LoadBalancer {
	b := &LoadBalancer{loads: make([]atomic.Uint64, workers)}
	b.policy.Store(&policyBox{strategy: StrategyWorkStealing, policy: p})
	return b
}

func (b *LoadBalancer) SetStrategy(s LoadBalancingStrategy) {
	cur := b.policy.Load()
	if cur != nil && cur.strategy == s {
		return
	}
	b.policy.Store(&policyBox{strategy: s, policy: policyFor(s)})
}

func (b *LoadBalancer) Strategy() LoadBalancingStrategy {
	return b.policy.Load().strategy
}

// SelectWorker returns the worker that should record item. An affinity
// already set on the item always wins.
func (b *LoadBalancer) SelectWorker(item metadata.WorkItem) int {
	if item.HasAffinity() {
		return item.Affinity()
	}
	if len(b.loads) == 0 {
		return 0
	}
	return b.policy.Load().policy.Select(item, b.Loads())
}

// UpdateLoad stores the utilization of worker, clamped to [0, 1].
func (b *LoadBalancer) UpdateLoad(worker int, utilization float64) {
	if worker < 0 || worker >= len(b.loads) {
		return
	}
	b.loads[worker].Store(math.Float64bits(amath.Clamp(utilization, 0, 1)))
}

func (b *LoadBalancer) Loads() []float64 {
	out := make([]float64, len(b.loads))
	for i := range b.loads {
		out[i] = math.Float64frombits(b.loads[i].Load())
	}
	return out
}

func (b *LoadBalancer) Workers() int {
	return len(b.loads)
}
