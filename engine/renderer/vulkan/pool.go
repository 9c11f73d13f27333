package vulkan

import "sync"

type LockGroup string

const (
	ResourceManagement LockGroup = "resource_management"
	InstanceManagement LockGroup = "instance_management"
)

// VulkanLockPool hands out one mutex per lock group and one per device queue.
// Callers always take a group lock before a queue lock.
type VulkanLockPool struct {
	mu     sync.Mutex
	locks  map[LockGroup]*sync.Mutex
	queues map[uint64]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[uint64]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) group(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) queue(key uint64) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.queues[key]
	if !ok {
		l = &sync.Mutex{}
		vs.queues[key] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.group(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeQueueCall serializes submissions to the queue of one device.
func (vs *VulkanLockPool) SafeQueueCall(key uint64, fn func() error) error {
	l := vs.queue(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// ForgetQueue drops the lock of a destroyed device.
func (vs *VulkanLockPool) ForgetQueue(key uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.queues, key)
}
