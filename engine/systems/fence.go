package systems

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type FenceState int

const (
	FenceStateNull FenceState = iota
	FenceStateBuilding
	FenceStateIssued
	FenceStateSignaled
)

/** @brief An event query issued on one context, guarding one surface. */
type Fence struct {
	Query     metadata.QueryHandle
	ContextID uint32
	State     FenceState
}

/** @brief The configuration for the fence tracker. */
type FenceTrackerConfig struct {
	/** @brief Sleep between two polls of a pending fence. */
	PollInterval time.Duration
	/** @brief Polls before a flush gives up. */
	MaxPolls uint32
}

type FenceTracker struct {
	Config  FenceTrackerConfig
	table   *ResourceTable
	driver  renderer.HostDriver
	metrics *core.Metrics
	clock   *core.Clock
}

func NewFenceTracker(config FenceTrackerConfig, table *ResourceTable, driver renderer.HostDriver, metrics *core.Metrics) (*FenceTracker, error) {
	if config.MaxPolls == 0 {
		err := fmt.Errorf("func NewFenceTracker - config.MaxPolls must be > 0: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	return &FenceTracker{
		Config:  config,
		table:   table,
		driver:  driver,
		metrics: metrics,
		clock:   core.NewClock(),
	}, nil
}

// TrackUsage records that cid touched s. It only matters for surfaces with
// shared entries; a fence from another context that was never flushed is a
// caller bug and is corrected with a flush.
func (ft *FenceTracker) TrackUsage(s *Surface, cid uint32) error {
	if len(s.Shared) == 0 {
		return nil
	}
	if s.Fence != nil {
		if s.Fence.ContextID == cid {
			ft.Release(s)
		} else {
			err := fmt.Errorf("surface %d used by context %d while the fence of context %d is pending: %w",
				s.ID, cid, s.Fence.ContextID, core.ErrSynchronizationViolation)
			core.LogError(err.Error())
			ft.metrics.DefensiveFlushes++
			if err := ft.Flush(s); err != nil {
				return err
			}
		}
	}
	return ft.Issue(s, cid)
}

// Issue puts a new fence on s in the stream of cid. A pending fence must be
// flushed or released before.
func (ft *FenceTracker) Issue(s *Surface, cid uint32) error {
	if s.Fence != nil {
		ft.Release(s)
	}
	c, err := ft.table.Context(cid)
	if err != nil {
		return err
	}
	fence := &Fence{ContextID: cid, State: FenceStateBuilding}
	fence.Query, err = ft.driver.CreateEventQuery(c.Device)
	if err != nil {
		return fmt.Errorf("surface %d: create fence on context %d: %w", s.ID, cid, err)
	}
	if err := ft.driver.IssueQuery(fence.Query); err != nil {
		_ = ft.driver.DestroyQuery(fence.Query)
		return fmt.Errorf("surface %d: issue fence on context %d: %w", s.ID, cid, err)
	}
	fence.State = FenceStateIssued
	s.Fence = fence
	return nil
}

// Flush blocks until the pending fence of s signaled, then releases it.
func (ft *FenceTracker) Flush(s *Surface) error {
	if s.Fence == nil {
		return nil
	}
	ft.clock.Start()
	defer ft.clock.Stop()

	for polls := uint32(0); polls < ft.Config.MaxPolls; polls++ {
		status, err := ft.driver.PollQuery(s.Fence.Query)
		ft.metrics.FencePolls++
		if err != nil {
			ft.Release(s)
			return fmt.Errorf("surface %d: poll fence: %w", s.ID, err)
		}
		if status == metadata.QuerySignaled {
			s.Fence.State = FenceStateSignaled
			ft.Release(s)
			ft.clock.Update()
			ft.metrics.FlushObserved(ft.clock.Elapsed())
			return nil
		}
		if ft.Config.PollInterval > 0 {
			time.Sleep(ft.Config.PollInterval)
		}
	}
	ft.metrics.FenceTimeouts++
	ft.Release(s)
	err := fmt.Errorf("surface %d: fence not signaled after %d polls: %w", s.ID, ft.Config.MaxPolls, core.ErrFenceTimeout)
	core.LogError(err.Error())
	return err
}

// FlushForeign waits for a fence that another context than cid issued on s.
func (ft *FenceTracker) FlushForeign(s *Surface, cid uint32) error {
	if s.Fence == nil || s.Fence.ContextID == cid {
		return nil
	}
	return ft.Flush(s)
}

// Release drops the fence of s without waiting for it.
func (ft *FenceTracker) Release(s *Surface) {
	if s.Fence == nil {
		return
	}
	if err := ft.driver.DestroyQuery(s.Fence.Query); err != nil && !errors.Is(err, core.ErrInvalidID) {
		core.LogWarn("surface %d: failed to destroy fence query: %s", s.ID, err)
	}
	s.Fence = nil
}

// ReleaseContext drops every fence issued by cid.
func (ft *FenceTracker) ReleaseContext(cid uint32) {
	ft.table.EachSurface(func(s *Surface) bool {
		if s.Fence != nil && s.Fence.ContextID == cid {
			ft.Release(s)
		}
		return true
	})
}
