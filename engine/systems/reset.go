package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
)

// ResetCoordinator rebuilds contexts after a host mode change or device loss.
type ResetCoordinator struct {
	table    *ResourceTable
	driver   renderer.HostDriver
	surfaces *SurfaceSystem
	contexts *ContextSystem
	metrics  *core.Metrics
	events   *core.EventBus
}

func NewResetCoordinator(table *ResourceTable, driver renderer.HostDriver, surfaces *SurfaceSystem, contexts *ContextSystem, metrics *core.Metrics, events *core.EventBus) *ResetCoordinator {
	return &ResetCoordinator{
		table:    table,
		driver:   driver,
		surfaces: surfaces,
		contexts: contexts,
		metrics:  metrics,
		events:   events,
	}
}

// OnModeChange resets every live context.
func (rc *ResetCoordinator) OnModeChange() error {
	n, err := rc.resetAll()
	ctx := core.EventContext{Err: err}
	ctx.Data.U32[0] = n
	rc.events.Fire(core.EVENT_CODE_MODE_CHANGED, rc, ctx)
	return err
}

// OnDeviceLost resets every live context after cid reported a lost device.
func (rc *ResetCoordinator) OnDeviceLost(cid uint32) error {
	core.LogWarn("context %d lost its device, resetting every context", cid)
	ctx := core.EventContext{}
	ctx.Data.U32[0] = cid
	rc.events.Fire(core.EVENT_CODE_DEVICE_LOST, rc, ctx)
	_, err := rc.resetAll()
	return err
}

// Reset resets the single context cid.
func (rc *ResetCoordinator) Reset(cid uint32) error {
	if err := rc.resetContext(cid); err != nil {
		return err
	}
	rc.metrics.Resets++
	return nil
}

func (rc *ResetCoordinator) resetAll() (uint32, error) {
	var errs []error
	n := uint32(0)
	for _, cid := range rc.table.ContextIDs() {
		if err := rc.resetContext(cid); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	rc.metrics.Resets++
	return n, errors.Join(errs...)
}

/**
 * @brief Resets one context. Surfaces whose objects will not survive are read
 * back into their mirrors and released, the device is reset, the snapshot is
 * replayed and the released surfaces are recreated from their mirrors.
 */
func (rc *ResetCoordinator) resetContext(cid uint32) error {
	c, err := rc.table.Context(cid)
	if err != nil {
		return err
	}

	var released []*Surface
	rc.table.EachSurface(func(s *Surface) bool {
		if s.ContextID != cid || !s.HasObject() {
			return true
		}
		if rc.driver.SurvivesReset(s.Object.Handle) && (!s.HasBounce() || rc.driver.SurvivesReset(s.Bounce.Handle)) {
			// Duplicates are plain default pool objects.
			rc.surfaces.shared.ReleaseAll(s)
			rc.surfaces.fences.Release(s)
			return true
		}
		if !s.KeepsMirror() && !s.anyDirty() {
			if err := rc.surfaces.readBack(s); err != nil {
				core.LogWarn("surface %d: read back before reset failed, content is lost: %s", s.ID, err)
			}
		}
		s.ensureMirror()
		rc.surfaces.releaseObjects(s)
		released = append(released, s)
		return true
	})
	c.Decls.Purge()

	if err := rc.driver.ResetDevice(c.Device, c.Params); err != nil {
		err = fmt.Errorf("context %d: reset device: %w", cid, err)
		core.LogError(err.Error())
		return err
	}

	errs := []error{rc.contexts.replay(c)}
	for _, s := range released {
		if s.HasObject() {
			continue
		}
		if _, err := rc.surfaces.materializeOn(s, cid); err != nil {
			errs = append(errs, err)
		}
	}
	core.LogInfo("context %d reset, %d surfaces recreated", cid, len(released))
	return errors.Join(errs...)
}
