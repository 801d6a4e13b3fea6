package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement     LockGroup = "command_pool_management"
	SynchronizationManagement LockGroup = "synchronization_management"
	QueueManagement           LockGroup = "queue_management"
)

// VulkanLockPool hands out one mutex per group of externally synchronized
// Vulkan objects and one per queue family.
type VulkanLockPool struct {
	mu           sync.Mutex
	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) queueLock(family uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.queueMutexes[family]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[family] = l
	}
	return l
}

// SafeCall runs fn while holding the mutex of group.
func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeQueueCall runs fn while holding the mutex of the queue family. Every
// vkQueueSubmit on a queue must go through here.
func (vs *VulkanLockPool) SafeQueueCall(family uint32, fn func() error) error {
	l := vs.queueLock(family)
	l.Lock()
	defer l.Unlock()
	return fn()
}
