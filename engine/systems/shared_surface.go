package systems

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// SharedSurfaceCache hands out per context duplicates of surfaces whose
// backend object lives on another context's device.
type SharedSurfaceCache struct {
	table   *ResourceTable
	driver  renderer.HostDriver
	fences  *FenceTracker
	metrics *core.Metrics
}

func NewSharedSurfaceCache(table *ResourceTable, driver renderer.HostDriver, fences *FenceTracker, metrics *core.Metrics) *SharedSurfaceCache {
	return &SharedSurfaceCache{
		table:   table,
		driver:  driver,
		fences:  fences,
		metrics: metrics,
	}
}

/**
 * @brief Returns the object cid should use for s. The duplicate is refreshed
 * from the original on every call and the copy is waited for, so its content
 * always matches the original at the time of the call.
 */
func (sc *SharedSurfaceCache) Get(s *Surface, cid uint32) (metadata.ObjectHandle, error) {
	if s.ContextID == cid {
		return s.Object.Handle, nil
	}
	if !s.HasObject() {
		return metadata.NullHandle, fmt.Errorf("surface %d has no backend object to share: %w", s.ID, core.ErrInvalidParameter)
	}
	if s.Kind.IsBuffer() {
		return metadata.NullHandle, fmt.Errorf("surface %d: %s objects are not shared: %w", s.ID, s.Kind, core.ErrInvalidParameter)
	}
	owner, err := sc.table.Context(s.ContextID)
	if err != nil {
		return metadata.NullHandle, err
	}

	entry, ok := s.Shared[cid]
	if !ok {
		desc := metadata.ObjectDesc{
			Kind:             s.Kind,
			Format:           s.Desc.Format,
			Faces:            s.Desc.Faces,
			Sizes:            s.Desc.MipSizes,
			Usage:            renderUsage(s.Desc.Format),
			Pool:             metadata.PoolDefault,
			Shared:           true,
			MultisampleCount: s.Desc.MultisampleCount,
		}
		var obj metadata.Object
		if s.Kind == metadata.ObjectKindSurface {
			obj, err = sc.driver.CreateRenderTargetObject(owner.Device, desc)
		} else {
			obj, err = sc.driver.CreateTextureObject(owner.Device, desc)
		}
		if err != nil {
			err = fmt.Errorf("surface %d: create shared duplicate for context %d: %w", s.ID, cid, err)
			core.LogError(err.Error())
			return metadata.NullHandle, err
		}
		entry = &SharedSurfaceEntry{ContextID: cid, Object: obj, Kind: s.Kind}
		s.Shared[cid] = entry
		core.LogDebug("surface %d shared with context %d as %s", s.ID, cid, obj.ShareHandle)
	}

	if err := sc.fences.FlushForeign(s, s.ContextID); err != nil {
		return metadata.NullHandle, err
	}
	err = s.eachLevel(func(face, mip uint32, level *metadata.MipLevel) error {
		sub := metadata.SubResource{Face: face, Mip: mip}
		box := metadata.Box{W: level.Size.Width, H: level.Size.Height, D: level.Size.Depth}
		return sc.driver.Copy(owner.Device, entry.Object.Handle, sub, box, s.Object.Handle, sub, box, metadata.FilterNone)
	})
	if err != nil {
		sc.Release(s, cid)
		return metadata.NullHandle, fmt.Errorf("surface %d: copy to shared duplicate for context %d: %w", s.ID, cid, err)
	}
	if err := sc.fences.Issue(s, s.ContextID); err != nil {
		return metadata.NullHandle, err
	}
	if err := sc.fences.Flush(s); err != nil {
		return metadata.NullHandle, err
	}
	sc.metrics.SharedCopies++
	return entry.Object.Handle, nil
}

func (sc *SharedSurfaceCache) Entry(s *Surface, cid uint32) (*SharedSurfaceEntry, bool) {
	entry, ok := s.Shared[cid]
	return entry, ok
}

func (sc *SharedSurfaceCache) Release(s *Surface, cid uint32) {
	entry, ok := s.Shared[cid]
	if !ok {
		return
	}
	if err := sc.driver.DestroyObject(entry.Object.Handle); err != nil {
		core.LogWarn("surface %d: failed to destroy shared duplicate for context %d: %s", s.ID, cid, err)
	}
	delete(s.Shared, cid)
}

func (sc *SharedSurfaceCache) ReleaseAll(s *Surface) {
	for cid := range s.Shared {
		sc.Release(s, cid)
	}
}

// ReleaseContext drops the duplicates cid consumed.
func (sc *SharedSurfaceCache) ReleaseContext(cid uint32) {
	sc.table.EachSurface(func(s *Surface) bool {
		sc.Release(s, cid)
		return true
	})
}
