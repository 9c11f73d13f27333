package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

/** @brief The configuration for the surface system. */
type SurfaceSystemConfig struct {
	/** @brief Retry failed creations with lockable dynamic usage. */
	AllowFallback bool
	/** @brief Skip surface to guest transfers of YUV surfaces. */
	DisableYUVReadback bool
	/** @brief Skip guest to surface transfers of YUV surfaces. */
	DisableYUVUpload bool
}

/** @brief The result of materializing a surface. */
type Materialized struct {
	Object    metadata.ObjectHandle
	ContextID uint32
	/** @brief Set when this call created the backend object. */
	Created bool
	/** @brief Set when the object was created with the fallback usage. */
	Degraded bool
}

type SurfaceSystem struct {
	Config  SurfaceSystemConfig
	table   *ResourceTable
	driver  renderer.HostDriver
	fences  *FenceTracker
	shared  *SharedSurfaceCache
	metrics *core.Metrics
	events  *core.EventBus
}

func NewSurfaceSystem(config SurfaceSystemConfig, table *ResourceTable, driver renderer.HostDriver, fences *FenceTracker, shared *SharedSurfaceCache, metrics *core.Metrics, events *core.EventBus) *SurfaceSystem {
	return &SurfaceSystem{
		Config:  config,
		table:   table,
		driver:  driver,
		fences:  fences,
		shared:  shared,
		metrics: metrics,
		events:  events,
	}
}

// Define creates the logical surface with zeroed mirrors. A live sid is destroyed first.
func (ss *SurfaceSystem) Define(sid uint32, desc metadata.SurfaceDescriptor) error {
	if err := desc.Validate(); err != nil {
		core.LogError("surface %d: %s", sid, err)
		return err
	}
	if desc.IsBuffer() && (desc.Faces != 1 || desc.MipLevels() != 1) {
		err := fmt.Errorf("surface %d: buffers have one face and one level: %w", sid, core.ErrInvalidParameter)
		core.LogError(err.Error())
		return err
	}
	if ss.table.surfaces.Contains(sid) {
		if err := ss.Destroy(sid); err != nil {
			return err
		}
	}
	s, err := newSurface(sid, desc, ss.table.LowestContextID())
	if err != nil {
		return fmt.Errorf("surface %d: %w", sid, err)
	}
	if err := ss.table.surfaces.Define(sid, s); err != nil {
		core.LogError("surface %d: %s", sid, err)
		return err
	}
	core.LogDebug("surface %d defined: %s, %d faces, %d levels, flags 0x%x", sid, desc.Format, desc.Faces, desc.MipLevels(), uint32(desc.Flags))
	return nil
}

func (ss *SurfaceSystem) Destroy(sid uint32) error {
	s, err := ss.table.Surface(sid)
	if err != nil {
		return err
	}
	if err := ss.fences.Flush(s); err != nil {
		core.LogWarn("surface %d: flush before destroy: %s", sid, err)
	}
	ss.unbindEverywhere(sid)
	ss.releaseObjects(s)
	return ss.table.surfaces.Free(sid)
}

// unbindEverywhere removes sid from sampler slots and render targets of every context.
func (ss *SurfaceSystem) unbindEverywhere(sid uint32) {
	ss.table.EachContext(func(c *Context) bool {
		for stage, bound := range c.Snapshot.Textures {
			if bound == sid {
				c.Snapshot.Textures[stage] = core.InvalidID
				if err := ss.driver.SetTexture(c.Device, uint32(stage), metadata.NullHandle); err != nil {
					core.LogWarn("context %d: unbind texture stage %d: %s", c.ID, stage, err)
				}
			}
		}
		for slot, img := range c.Snapshot.RenderTargets {
			if img.SID == sid {
				c.Snapshot.RenderTargets[slot] = unboundImage()
				if err := ss.driver.SetRenderTarget(c.Device, metadata.RenderTargetType(slot), metadata.NullHandle, metadata.SubResource{}); err != nil {
					core.LogWarn("context %d: unbind render target %d: %s", c.ID, slot, err)
				}
			}
		}
		return true
	})
}

// releaseObjects drops shared duplicates, fence, bounce and primary. The
// mirror is left as it is.
func (ss *SurfaceSystem) releaseObjects(s *Surface) {
	ss.shared.ReleaseAll(s)
	ss.fences.Release(s)
	if s.HasBounce() {
		if err := ss.driver.DestroyObject(s.Bounce.Handle); err != nil {
			core.LogWarn("surface %d: destroy bounce object: %s", s.ID, err)
		}
	}
	if s.HasObject() {
		if err := ss.driver.DestroyObject(s.Object.Handle); err != nil {
			core.LogWarn("surface %d: destroy %s object: %s", s.ID, s.Kind, err)
		}
	}
	s.Object = metadata.Object{}
	s.Bounce = metadata.Object{}
	s.Usage = 0
	s.Degraded = false
	s.ContextID = core.InvalidID
}

// MaterializeSurface creates the backend object of sid on first use. A new
// object goes to the surface's home context while it is live, else to cid.
func (ss *SurfaceSystem) MaterializeSurface(sid, cid uint32) (Materialized, error) {
	s, err := ss.table.Surface(sid)
	if err != nil {
		return Materialized{}, err
	}
	return ss.materialize(s, cid)
}

func (ss *SurfaceSystem) materialize(s *Surface, cid uint32) (Materialized, error) {
	if !s.HasObject() && core.IsValidID(s.HomeContextID) && ss.table.HasContext(s.HomeContextID) {
		cid = s.HomeContextID
	}
	return ss.materializeOn(s, cid)
}

// materializeOn creates the object on cid when the surface has none. An
// existing object is returned wherever it lives.
func (ss *SurfaceSystem) materializeOn(s *Surface, cid uint32) (Materialized, error) {
	if s.HasObject() {
		return Materialized{Object: s.Object.Handle, ContextID: s.ContextID, Degraded: s.Degraded}, nil
	}
	c, err := ss.table.Context(cid)
	if err != nil {
		return Materialized{}, err
	}
	if err := ss.create(s, c, objectKind(&s.Desc)); err != nil {
		return Materialized{}, err
	}
	return Materialized{Object: s.Object.Handle, ContextID: s.ContextID, Created: true, Degraded: s.Degraded}, nil
}

// migrate moves the backend object of s to cid, keeping its content.
func (ss *SurfaceSystem) migrate(s *Surface, cid uint32) error {
	if !s.HasObject() || s.ContextID == cid {
		return nil
	}
	core.LogDebug("surface %d moves from context %d to context %d", s.ID, s.ContextID, cid)
	if !s.anyDirty() {
		if err := ss.readBack(s); err != nil {
			return err
		}
	}
	ss.releaseObjects(s)
	_, err := ss.materializeOn(s, cid)
	return err
}

func objectKind(desc *metadata.SurfaceDescriptor) metadata.ObjectKind {
	volume := len(desc.MipSizes) > 0 && desc.MipSizes[0].Depth > 1
	switch {
	case desc.Flags.Has(metadata.SurfaceCubemap):
		return metadata.ObjectKindCubeTexture
	case desc.Flags.Has(metadata.SurfaceHintVertexBuffer):
		return metadata.ObjectKindVertexBuffer
	case desc.Flags.Has(metadata.SurfaceHintIndexBuffer):
		return metadata.ObjectKindIndexBuffer
	case desc.Format == metadata.FormatBuffer:
		return metadata.ObjectKindVertexBuffer
	case desc.Flags.Has(metadata.SurfaceHintTexture):
		if volume {
			return metadata.ObjectKindVolumeTexture
		}
		return metadata.ObjectKindTexture
	case desc.Flags.Any(metadata.SurfaceHintRenderTarget | metadata.SurfaceHintDepthStencil):
		return metadata.ObjectKindSurface
	case volume:
		return metadata.ObjectKindVolumeTexture
	}
	return metadata.ObjectKindTexture
}

func renderUsage(format metadata.SurfaceFormat) metadata.Usage {
	if format.IsDepthStencil() {
		return metadata.UsageDepthStencil
	}
	return metadata.UsageRenderTarget
}

// objectDesc returns the primary description and whether it needs a bounce object.
func objectDesc(s *Surface, kind metadata.ObjectKind) (metadata.ObjectDesc, bool) {
	desc := metadata.ObjectDesc{
		Kind:             kind,
		Format:           s.Desc.Format,
		Faces:            s.Desc.Faces,
		Sizes:            s.Desc.MipSizes,
		Pool:             metadata.PoolDefault,
		MultisampleCount: s.Desc.MultisampleCount,
		AutogenFilter:    s.Desc.AutogenFilter,
	}
	bounce := false
	switch {
	case kind.IsBuffer():
		desc.Usage = metadata.UsageDynamic
		if s.Desc.Flags.Has(metadata.SurfaceHintWriteOnly) {
			desc.Usage |= metadata.UsageWriteOnly
		}
	case kind == metadata.ObjectKindVolumeTexture:
		desc.Usage = metadata.UsageDynamic
	default:
		desc.Usage = renderUsage(s.Desc.Format)
		bounce = true
	}
	if kind.IsTexture() && s.Desc.Flags.Has(metadata.SurfaceAutogenMipmaps) {
		desc.Usage |= metadata.UsageAutoGenMips
	}
	return desc, bounce
}

// bounceDesc is the lockable host memory twin of a primary description.
func bounceDesc(desc metadata.ObjectDesc) metadata.ObjectDesc {
	desc.Usage = desc.Usage&^(metadata.UsageRenderTarget|metadata.UsageDepthStencil|metadata.UsageAutoGenMips) | metadata.UsageDynamic
	desc.Pool = metadata.PoolSystemMem
	desc.Shared = false
	return desc
}

// fallbackDesc keeps the usage bits but asks for lockable host memory.
func fallbackDesc(desc metadata.ObjectDesc) metadata.ObjectDesc {
	desc.Usage |= metadata.UsageDynamic
	desc.Pool = metadata.PoolSystemMem
	return desc
}

func (ss *SurfaceSystem) createObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	switch {
	case desc.Kind.IsBuffer():
		return ss.driver.CreateBufferObject(dev, desc)
	case desc.Kind == metadata.ObjectKindSurface:
		return ss.driver.CreateRenderTargetObject(dev, desc)
	}
	return ss.driver.CreateTextureObject(dev, desc)
}

func (ss *SurfaceSystem) createPair(dev metadata.DeviceHandle, desc metadata.ObjectDesc, withBounce bool) (metadata.Object, metadata.Object, error) {
	primary, err := ss.createObject(dev, desc)
	if err != nil {
		return metadata.Object{}, metadata.Object{}, err
	}
	if !withBounce {
		return primary, metadata.Object{}, nil
	}
	bounce, err := ss.createObject(dev, bounceDesc(desc))
	if err != nil {
		_ = ss.driver.DestroyObject(primary.Handle)
		return metadata.Object{}, metadata.Object{}, err
	}
	return primary, bounce, nil
}

func (ss *SurfaceSystem) create(s *Surface, c *Context, kind metadata.ObjectKind) error {
	desc, withBounce := objectDesc(s, kind)

	primary, bounce, err := ss.createPair(c.Device, desc, withBounce)
	degraded := false
	if err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			err = fmt.Errorf("surface %d: create %s on context %d: %w", s.ID, kind, c.ID, err)
			core.LogError(err.Error())
			return err
		}
		if !ss.Config.AllowFallback {
			err = fmt.Errorf("surface %d: create %s on context %d: %w: %w", s.ID, kind, c.ID, err, core.ErrResourceCreation)
			core.LogError(err.Error())
			return err
		}
		core.LogWarn("surface %d: %s creation on context %d failed (%s), retrying with lockable dynamic usage", s.ID, kind, c.ID, err)
		desc = fallbackDesc(desc)
		primary, bounce, err = ss.createPair(c.Device, desc, false)
		if err != nil {
			err = fmt.Errorf("surface %d: create %s on context %d with fallback usage: %w: %w", s.ID, kind, c.ID, err, core.ErrResourceCreation)
			core.LogError(err.Error())
			return err
		}
		degraded = true
	}

	s.Kind = kind
	s.Object = primary
	s.Bounce = bounce
	s.Usage = desc.Usage
	s.Degraded = degraded
	s.ContextID = c.ID

	if degraded {
		ss.metrics.DegradedCreations++
		ctx := core.EventContext{}
		ctx.Data.U32[0] = s.ID
		ctx.Data.U32[1] = c.ID
		ss.events.Fire(core.EVENT_CODE_SURFACE_DEGRADED, ss, ctx)
	}

	if err := ss.upload(s, c, false); err != nil {
		ss.releaseObjects(s)
		return err
	}
	// a new object has no shared duplicates and no fence to track
	if !s.KeepsMirror() {
		s.freeMirror()
	}
	core.LogDebug("surface %d materialized as %s on context %d (degraded=%t)", s.ID, kind, c.ID, degraded)
	return nil
}

// upload pushes mirror levels to the backend object, all of them or only the dirty ones.
func (ss *SurfaceSystem) upload(s *Surface, c *Context, onlyDirty bool) error {
	if s.Desc.Format.IsYUV() && ss.Config.DisableYUVUpload {
		core.LogDebug("surface %d: %s upload disabled", s.ID, s.Desc.Format)
		return nil
	}
	return s.eachLevel(func(face, mip uint32, level *metadata.MipLevel) error {
		if level.Data == nil || (onlyDirty && !level.Dirty) {
			return nil
		}
		sub := metadata.SubResource{Face: face, Mip: mip}
		target := s.Object.Handle
		if s.HasBounce() {
			target = s.Bounce.Handle
		}
		m, err := ss.driver.Lock(target, sub, metadata.LockWrite)
		if err != nil {
			return fmt.Errorf("surface %d: lock face %d mip %d for upload: %w", s.ID, face, mip, err)
		}
		copyLevel(m.Data, m.Pitch, m.SlicePitch, level.Data, level.Pitch, level.SlicePitch, level)
		if err := ss.driver.Unlock(target, sub); err != nil {
			return err
		}
		if s.HasBounce() {
			box := levelBox(level)
			if err := ss.driver.Copy(c.Device, s.Object.Handle, sub, box, s.Bounce.Handle, sub, box, metadata.FilterNone); err != nil {
				return fmt.Errorf("surface %d: copy bounce to primary: %w", s.ID, err)
			}
		}
		level.Dirty = false
		return nil
	})
}

// ReadBack refreshes the mirror of sid from its backend object.
func (ss *SurfaceSystem) ReadBack(sid uint32) error {
	s, err := ss.table.Surface(sid)
	if err != nil {
		return err
	}
	return ss.readBack(s)
}

func (ss *SurfaceSystem) readBack(s *Surface) error {
	if !s.HasObject() || s.KeepsMirror() {
		return nil
	}
	if s.Desc.Format.IsYUV() && ss.Config.DisableYUVReadback {
		core.LogDebug("surface %d: %s read back disabled", s.ID, s.Desc.Format)
		return s.eachLevel(func(_, _ uint32, level *metadata.MipLevel) error {
			if level.Data == nil {
				level.Allocate()
			}
			return nil
		})
	}
	if err := ss.fences.Flush(s); err != nil {
		return err
	}
	c, err := ss.table.Context(s.ContextID)
	if err != nil {
		return err
	}
	return s.eachLevel(func(face, mip uint32, level *metadata.MipLevel) error {
		sub := metadata.SubResource{Face: face, Mip: mip}
		source := s.Object.Handle
		if s.HasBounce() {
			box := levelBox(level)
			if err := ss.driver.Copy(c.Device, s.Bounce.Handle, sub, box, s.Object.Handle, sub, box, metadata.FilterNone); err != nil {
				return fmt.Errorf("surface %d: copy primary to bounce: %w", s.ID, err)
			}
			source = s.Bounce.Handle
		}
		m, err := ss.driver.Lock(source, sub, metadata.LockRead)
		if err != nil {
			return fmt.Errorf("surface %d: lock face %d mip %d for read back: %w", s.ID, face, mip, err)
		}
		if level.Data == nil {
			level.Allocate()
		}
		copyLevel(level.Data, level.Pitch, level.SlicePitch, m.Data, m.Pitch, m.SlicePitch, level)
		level.Dirty = false
		return ss.driver.Unlock(source, sub)
	})
}

// WriteThrough pushes dirty mirror levels of sid to its backend object.
func (ss *SurfaceSystem) WriteThrough(sid uint32) error {
	s, err := ss.table.Surface(sid)
	if err != nil {
		return err
	}
	return ss.writeThrough(s)
}

func (ss *SurfaceSystem) writeThrough(s *Surface) error {
	if !s.HasObject() || !s.anyDirty() {
		return nil
	}
	if err := ss.fences.Flush(s); err != nil {
		return err
	}
	c, err := ss.table.Context(s.ContextID)
	if err != nil {
		return err
	}
	if err := ss.upload(s, c, true); err != nil {
		return err
	}
	return ss.fences.TrackUsage(s, c.ID)
}

func levelBox(level *metadata.MipLevel) metadata.Box {
	return metadata.Box{W: level.Size.Width, H: level.Size.Height, D: level.Size.Depth}
}

// copyLevel copies one whole level between two layouts that may differ in pitch.
func copyLevel(dst []byte, dstPitch, dstSlice uint32, src []byte, srcPitch, srcSlice uint32, level *metadata.MipLevel) {
	if dstPitch == srcPitch && dstSlice == srcSlice {
		copy(dst, src)
		return
	}
	rowBytes := level.Pitch
	for z := uint32(0); z < level.Size.Depth; z++ {
		for row := uint32(0); row < level.BlocksY; row++ {
			d := z*dstSlice + row*dstPitch
			s := z*srcSlice + row*srcPitch
			copy(dst[d:d+rowBytes], src[s:s+rowBytes])
		}
	}
}
