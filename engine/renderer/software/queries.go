package software

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type query struct {
	device metadata.DeviceHandle
	issued bool
	polls  int
}

func (d *Driver) query(q metadata.QueryHandle) (*query, error) {
	qu, err := d.queries.Lookup(toID(uint64(q)))
	if err != nil {
		return nil, fmt.Errorf("software driver: unknown query %d: %w", q, err)
	}
	return qu, nil
}

func (d *Driver) CreateEventQuery(dev metadata.DeviceHandle) (metadata.QueryHandle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.device(dev); err != nil {
		return metadata.NullHandle, err
	}
	id, err := d.queries.Allocate(&query{device: dev})
	if err != nil {
		return metadata.NullHandle, fmt.Errorf("software driver: create query: %s: %w", err, core.ErrResourceCreation)
	}
	return metadata.QueryHandle(toHandle(id)), nil
}

func (d *Driver) IssueQuery(q metadata.QueryHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	qu, err := d.query(q)
	if err != nil {
		return err
	}
	if _, err := d.liveDevice(qu.device); err != nil {
		return err
	}
	qu.issued = true
	qu.polls = 0
	return nil
}

// PollQuery reports signaled once the query was polled QueryLatency times
// after its last issue. A query that was never issued is signaled.
func (d *Driver) PollQuery(q metadata.QueryHandle) (metadata.QueryStatus, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	qu, err := d.query(q)
	if err != nil {
		return metadata.QueryPending, err
	}
	if _, err := d.liveDevice(qu.device); err != nil {
		return metadata.QueryPending, err
	}
	if !qu.issued {
		return metadata.QuerySignaled, nil
	}
	qu.polls++
	if qu.polls >= d.queryLatency {
		qu.issued = false
		return metadata.QuerySignaled, nil
	}
	return metadata.QueryPending, nil
}

func (d *Driver) DestroyQuery(q metadata.QueryHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.query(q); err != nil {
		return err
	}
	return d.queries.Free(toID(uint64(q)))
}

// SetQueryLatency changes how many polls a newly issued query stays pending.
func (d *Driver) SetQueryLatency(polls int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if polls < 1 {
		polls = 1
	}
	d.queryLatency = polls
}
