package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// An event query is a fence that an empty submission signals once all
// earlier work of the queue completed.
type query struct {
	device metadata.DeviceHandle
	fence  *VulkanFence
	issued bool
}

func (d *Driver) query(q metadata.QueryHandle) (*query, error) {
	qu, err := d.queries.Lookup(toID(uint64(q)))
	if err != nil {
		return nil, fmt.Errorf("vulkan driver: unknown query %d: %w", q, err)
	}
	return qu, nil
}

func (d *Driver) CreateEventQuery(dev metadata.DeviceHandle) (metadata.QueryHandle, error) {
	var h metadata.QueryHandle
	err := d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.liveDevice(dev)
		if err != nil {
			return err
		}
		// created signaled so a query that was never issued polls as done
		fence, err := NewFence(d.context, dv.vk, true)
		if err != nil {
			return d.observe(dv, err)
		}
		id, err := d.queries.Allocate(&query{device: dev, fence: fence})
		if err != nil {
			fence.FenceDestroy(d.context, dv.vk)
			return fmt.Errorf("vulkan driver: create query: %s: %w", err, core.ErrResourceCreation)
		}
		h = metadata.QueryHandle(toHandle(id))
		return nil
	})
	return h, err
}

func (d *Driver) IssueQuery(q metadata.QueryHandle) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		qu, err := d.query(q)
		if err != nil {
			return err
		}
		dv, err := d.liveDevice(qu.device)
		if err != nil {
			return err
		}
		if err := d.observe(dv, qu.fence.FenceReset(dv.vk)); err != nil {
			return err
		}
		err = d.locks.SafeQueueCall(uint64(qu.device), func() error {
			return resultError(vk.QueueSubmit(dv.vk.Queue, 0, nil, qu.fence.Handle), "issue event query")
		})
		if err != nil {
			return d.observe(dv, err)
		}
		qu.issued = true
		return nil
	})
}

func (d *Driver) PollQuery(q metadata.QueryHandle) (metadata.QueryStatus, error) {
	status := metadata.QueryPending
	err := d.locks.SafeCall(ResourceManagement, func() error {
		qu, err := d.query(q)
		if err != nil {
			return err
		}
		dv, err := d.liveDevice(qu.device)
		if err != nil {
			return err
		}
		signaled, err := qu.fence.FenceStatus(dv.vk)
		if err != nil {
			return d.observe(dv, err)
		}
		if signaled {
			qu.issued = false
			status = metadata.QuerySignaled
		}
		return nil
	})
	return status, err
}

func (d *Driver) DestroyQuery(q metadata.QueryHandle) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		qu, err := d.query(q)
		if err != nil {
			return err
		}
		if dv, err := d.device(qu.device); err == nil {
			qu.fence.FenceDestroy(d.context, dv.vk)
		}
		return d.queries.Free(toID(uint64(q)))
	})
}
