package systems

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

/** @brief The configuration for the context system. */
type ContextSystemConfig struct {
	/** @brief Vertex declarations cached per context. */
	VertexDeclCacheSize int
	/** @brief Size of the hidden surface backing a new device. */
	DeviceParams metadata.DeviceParams
}

// ContextSystem owns guest contexts: their devices, state snapshots, shaders
// and the draw path.
type ContextSystem struct {
	Config   ContextSystemConfig
	table    *ResourceTable
	driver   renderer.HostDriver
	surfaces *SurfaceSystem
	shared   *SharedSurfaceCache
	fences   *FenceTracker
	metrics  *core.Metrics
	events   *core.EventBus
}

func NewContextSystem(config ContextSystemConfig, table *ResourceTable, driver renderer.HostDriver, surfaces *SurfaceSystem, shared *SharedSurfaceCache, fences *FenceTracker, metrics *core.Metrics, events *core.EventBus) (*ContextSystem, error) {
	if config.VertexDeclCacheSize <= 0 {
		err := fmt.Errorf("func NewContextSystem - config.VertexDeclCacheSize must be > 0: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	return &ContextSystem{
		Config:   config,
		table:    table,
		driver:   driver,
		surfaces: surfaces,
		shared:   shared,
		fences:   fences,
		metrics:  metrics,
		events:   events,
	}, nil
}

// Define creates a context and its host device. A live cid is destroyed first.
func (cs *ContextSystem) Define(cid uint32) error {
	if !core.IsValidID(cid) || cid >= cs.table.Config.MaxContextIDs {
		err := fmt.Errorf("context %d: %w", cid, core.ErrInvalidID)
		core.LogError(err.Error())
		return err
	}
	if cs.table.HasContext(cid) {
		if err := cs.Destroy(cid); err != nil {
			return err
		}
	}
	dev, err := cs.driver.CreateDevice(cid, cs.Config.DeviceParams)
	if err != nil {
		err = fmt.Errorf("context %d: create device: %w", cid, err)
		core.LogError(err.Error())
		return err
	}
	decls, err := NewVertexDeclCache(cs.Config.VertexDeclCacheSize, cs.driver, dev)
	if err != nil {
		_ = cs.driver.DestroyDevice(dev)
		return err
	}
	block, maxIDs := cs.table.Config.GrowBlock, cs.table.Config.MaxShaderIDs
	c := &Context{
		ID:     cid,
		Device: dev,
		Params: cs.Config.DeviceParams,
		Shaders: map[metadata.ShaderType]*containers.SlotTable[*Shader]{
			metadata.ShaderTypeVertex: containers.NewSlotTable[*Shader](block, maxIDs),
			metadata.ShaderTypePixel:  containers.NewSlotTable[*Shader](block, maxIDs),
		},
		Snapshot: NewSnapshot(),
		Decls:    decls,
	}
	if err := cs.table.contexts.Define(cid, c); err != nil {
		_ = cs.driver.DestroyDevice(dev)
		core.LogError("context %d: %s", cid, err)
		return err
	}
	core.LogInfo("context %d defined on %s device %d", cid, cs.driver.Name(), dev)
	return nil
}

/**
 * @brief Destroys a context. Surfaces whose object lived on its device fall
 * back to zeroed, object-less mirrors; shared duplicates, fences, shaders and
 * vertex declarations of the context are released with the device.
 */
func (cs *ContextSystem) Destroy(cid uint32) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}

	cs.table.EachSurface(func(s *Surface) bool {
		if s.ContextID != cid {
			return true
		}
		cs.surfaces.releaseObjects(s)
		fresh, err := newSurface(s.ID, s.Desc, s.HomeContextID)
		if err != nil {
			core.LogWarn("surface %d: reset mirror: %s", s.ID, err)
			return true
		}
		s.Levels = fresh.Levels
		return true
	})
	cs.shared.ReleaseContext(cid)
	cs.fences.ReleaseContext(cid)

	for t, shaders := range c.Shaders {
		shaders.Each(func(_ uint32, sh *Shader) bool {
			if err := cs.driver.DestroyShader(c.Device, sh.Handle); err != nil {
				core.LogWarn("context %d: destroy %s shader %d: %s", cid, t, sh.ID, err)
			}
			return true
		})
	}
	c.Decls.Purge()

	var result error
	if err := cs.driver.DestroyDevice(c.Device); err != nil {
		result = fmt.Errorf("context %d: destroy device: %w", cid, err)
		core.LogError(result.Error())
	}
	if err := cs.table.contexts.Free(cid); err != nil {
		return err
	}

	ctx := core.EventContext{}
	ctx.Data.U32[0] = cid
	cs.events.Fire(core.EVENT_CODE_CONTEXT_DESTROYED, cs, ctx)
	core.LogInfo("context %d destroyed", cid)
	return result
}

// resolveTexture returns the object sid is sampled through on c.
func (cs *ContextSystem) resolveTexture(c *Context, sid uint32) (metadata.ObjectHandle, error) {
	s, err := cs.table.Surface(sid)
	if err != nil {
		return metadata.NullHandle, err
	}
	if s.KeepsMirror() {
		return metadata.NullHandle, fmt.Errorf("surface %d: buffers can not be sampled: %w", sid, core.ErrInvalidParameter)
	}
	if _, err := cs.surfaces.materialize(s, c.ID); err != nil {
		return metadata.NullHandle, err
	}
	if s.ContextID == c.ID {
		if err := cs.fences.FlushForeign(s, c.ID); err != nil {
			return metadata.NullHandle, err
		}
		return s.Object.Handle, nil
	}
	return cs.shared.Get(s, c.ID)
}

// resolveRenderTarget moves the surface of img to c when needed and returns its object.
func (cs *ContextSystem) resolveRenderTarget(c *Context, img metadata.SurfaceImageID) (metadata.ObjectHandle, error) {
	s, err := cs.table.Surface(img.SID)
	if err != nil {
		return metadata.NullHandle, err
	}
	if s.KeepsMirror() {
		return metadata.NullHandle, fmt.Errorf("surface %d: buffers can not be render targets: %w", img.SID, core.ErrInvalidParameter)
	}
	if _, err := s.Level(img.Face, img.Mipmap); err != nil {
		return metadata.NullHandle, err
	}
	if err := cs.surfaces.migrate(s, c.ID); err != nil {
		return metadata.NullHandle, err
	}
	if _, err := cs.surfaces.materializeOn(s, c.ID); err != nil {
		return metadata.NullHandle, err
	}
	if err := cs.fences.FlushForeign(s, c.ID); err != nil {
		return metadata.NullHandle, err
	}
	return s.Object.Handle, nil
}

func (cs *ContextSystem) SetRenderTarget(cid uint32, slot metadata.RenderTargetType, img metadata.SurfaceImageID) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if uint32(slot) >= metadata.MaxRenderTargets {
		return fmt.Errorf("context %d: render target slot %d: %w", cid, slot, core.ErrInvalidParameter)
	}
	obj := metadata.ObjectHandle(metadata.NullHandle)
	sub := metadata.SubResource{}
	if core.IsValidID(img.SID) {
		obj, err = cs.resolveRenderTarget(c, img)
		if err != nil {
			core.LogError("context %d: render target %d: %s", cid, slot, err)
			return err
		}
		sub = metadata.SubResource{Face: img.Face, Mip: img.Mipmap}
	} else {
		img = unboundImage()
	}
	if err := cs.driver.SetRenderTarget(c.Device, slot, obj, sub); err != nil {
		return err
	}
	c.Snapshot.SetRenderTarget(slot, img)

	// Binding a target resets viewport and scissor on the host.
	return cs.applyViewState(c)
}

func (cs *ContextSystem) applyViewState(c *Context) error {
	snap := c.Snapshot
	if snap.Dirty.Has(StateViewport) {
		if err := cs.driver.SetViewport(c.Device, snap.Viewport); err != nil {
			return err
		}
	}
	if snap.Dirty.Has(StateScissor) {
		if err := cs.driver.SetScissor(c.Device, snap.Scissor); err != nil {
			return err
		}
	}
	if snap.Dirty.Has(StateZRange) {
		if err := cs.driver.SetZRange(c.Device, snap.ZRange); err != nil {
			return err
		}
	}
	return nil
}

func (cs *ContextSystem) BindTexture(cid, stage, sid uint32) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if stage >= metadata.MaxSamplers {
		return fmt.Errorf("context %d: texture stage %d: %w", cid, stage, core.ErrInvalidParameter)
	}
	obj := metadata.ObjectHandle(metadata.NullHandle)
	if core.IsValidID(sid) {
		obj, err = cs.resolveTexture(c, sid)
		if err != nil {
			core.LogError("context %d: bind texture %d to stage %d: %s", cid, sid, stage, err)
			return err
		}
	} else {
		sid = core.InvalidID
	}
	if err := cs.driver.SetTexture(c.Device, stage, obj); err != nil {
		return err
	}
	c.Snapshot.SetTexture(stage, sid)
	return nil
}

func (cs *ContextSystem) SetRenderState(cid uint32, states []metadata.RenderState) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetRenderState(c.Device, states); err != nil {
		return err
	}
	c.Snapshot.SetRenderStates(states)
	return nil
}

// SetTextureState applies texture stage states. The bind texture state is
// routed to BindTexture.
func (cs *ContextSystem) SetTextureState(cid uint32, states []metadata.TextureState) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	plain := make([]metadata.TextureState, 0, len(states))
	for _, ts := range states {
		if ts.Name == metadata.TextureStateBindTexture {
			if err := cs.BindTexture(cid, ts.Stage, ts.Value); err != nil {
				return err
			}
			continue
		}
		plain = append(plain, ts)
	}
	if len(plain) == 0 {
		return nil
	}
	if err := cs.driver.SetTextureState(c.Device, plain); err != nil {
		return err
	}
	c.Snapshot.SetTextureStates(plain)
	return nil
}

func (cs *ContextSystem) SetTransform(cid uint32, t metadata.TransformType, m metadata.Matrix) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetTransform(c.Device, t, m); err != nil {
		return err
	}
	c.Snapshot.SetTransform(t, m)
	return nil
}

func (cs *ContextSystem) SetMaterial(cid uint32, face metadata.Face, m metadata.Material) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetMaterial(c.Device, face, m); err != nil {
		return err
	}
	c.Snapshot.SetMaterial(face, m)
	return nil
}

func (cs *ContextSystem) SetLightData(cid, index uint32, light metadata.LightData) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if index >= metadata.MaxLights {
		return fmt.Errorf("context %d: light %d: %w", cid, index, core.ErrInvalidParameter)
	}
	if err := cs.driver.SetLightData(c.Device, index, light); err != nil {
		return err
	}
	c.Snapshot.SetLightData(index, light)
	return nil
}

func (cs *ContextSystem) SetLightEnabled(cid, index uint32, enabled bool) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if index >= metadata.MaxLights {
		return fmt.Errorf("context %d: light %d: %w", cid, index, core.ErrInvalidParameter)
	}
	if err := cs.driver.SetLightEnabled(c.Device, index, enabled); err != nil {
		return err
	}
	c.Snapshot.SetLightEnabled(index, enabled)
	return nil
}

func (cs *ContextSystem) SetClipPlane(cid, index uint32, plane metadata.ClipPlane) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if index >= metadata.MaxClipPlanes {
		return fmt.Errorf("context %d: clip plane %d: %w", cid, index, core.ErrInvalidParameter)
	}
	if err := cs.driver.SetClipPlane(c.Device, index, plane); err != nil {
		return err
	}
	c.Snapshot.SetClipPlane(index, plane)
	return nil
}

func (cs *ContextSystem) SetViewport(cid uint32, r metadata.Rect) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetViewport(c.Device, r); err != nil {
		return err
	}
	c.Snapshot.SetViewport(r)
	return nil
}

func (cs *ContextSystem) SetScissorRect(cid uint32, r metadata.Rect) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetScissor(c.Device, r); err != nil {
		return err
	}
	c.Snapshot.SetScissor(r)
	return nil
}

func (cs *ContextSystem) SetZRange(cid uint32, z metadata.ZRange) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.driver.SetZRange(c.Device, z); err != nil {
		return err
	}
	c.Snapshot.SetZRange(z)
	return nil
}

// SnapshotOf returns a copy of the recorded state of cid.
func (cs *ContextSystem) SnapshotOf(cid uint32) (*Snapshot, error) {
	c, err := cs.table.Context(cid)
	if err != nil {
		return nil, err
	}
	return c.Snapshot.Clone()
}

/**
 * @brief Applies the recorded state of c to its device in a fixed order:
 * render targets, render states, texture states, textures, transforms,
 * materials, lights, clip planes, view state, shaders and constants. The
 * snapshot itself is left unchanged. Every failing step is logged and the
 * first error is returned.
 */
func (cs *ContextSystem) replay(c *Context) error {
	snap := c.Snapshot
	var first error
	fail := func(what string, err error) {
		if err == nil {
			return
		}
		core.LogWarn("context %d: replay %s: %s", c.ID, what, err)
		if first == nil {
			first = fmt.Errorf("context %d: replay %s: %w", c.ID, what, err)
		}
	}

	for slot, img := range snap.RenderTargets {
		if !core.IsValidID(img.SID) {
			continue
		}
		obj, err := cs.resolveRenderTarget(c, img)
		if err == nil {
			err = cs.driver.SetRenderTarget(c.Device, metadata.RenderTargetType(slot), obj, metadata.SubResource{Face: img.Face, Mip: img.Mipmap})
		}
		fail(fmt.Sprintf("render target %d", slot), err)
	}

	if len(snap.RenderStates) > 0 {
		states := make([]metadata.RenderState, 0, len(snap.RenderStates))
		for _, name := range sortedKeys(snap.RenderStates) {
			states = append(states, metadata.RenderState{State: name, Value: snap.RenderStates[name]})
		}
		fail("render states", cs.driver.SetRenderState(c.Device, states))
	}

	var textureStates []metadata.TextureState
	for _, stage := range sortedKeys(snap.TextureStates) {
		for _, name := range sortedKeys(snap.TextureStates[stage]) {
			textureStates = append(textureStates, metadata.TextureState{Stage: stage, Name: name, Value: snap.TextureStates[stage][name]})
		}
	}
	if len(textureStates) > 0 {
		fail("texture states", cs.driver.SetTextureState(c.Device, textureStates))
	}

	for stage, sid := range snap.Textures {
		if !core.IsValidID(sid) {
			continue
		}
		obj, err := cs.resolveTexture(c, sid)
		if err == nil {
			err = cs.driver.SetTexture(c.Device, uint32(stage), obj)
		}
		fail(fmt.Sprintf("texture %d", stage), err)
	}

	for _, t := range sortedKeys(snap.Transforms) {
		fail(fmt.Sprintf("transform %d", t), cs.driver.SetTransform(c.Device, t, snap.Transforms[t]))
	}
	for _, face := range sortedKeys(snap.Materials) {
		fail(fmt.Sprintf("material %d", face), cs.driver.SetMaterial(c.Device, face, snap.Materials[face]))
	}
	for i, light := range snap.Lights {
		if light.Defined {
			fail(fmt.Sprintf("light %d", i), cs.driver.SetLightData(c.Device, uint32(i), light.Data))
		}
		if light.Enabled {
			fail(fmt.Sprintf("light %d enable", i), cs.driver.SetLightEnabled(c.Device, uint32(i), true))
		}
	}
	for i, plane := range snap.ClipPlanes {
		if plane.Defined {
			fail(fmt.Sprintf("clip plane %d", i), cs.driver.SetClipPlane(c.Device, uint32(i), plane.Plane))
		}
	}
	fail("view state", cs.applyViewState(c))

	for _, t := range sortedKeys(snap.Shaders) {
		shid := snap.Shaders[t]
		if !core.IsValidID(shid) {
			continue
		}
		sh, err := c.Shader(t, shid)
		if err == nil {
			err = cs.driver.SetShader(c.Device, t, sh.Handle)
		}
		fail(fmt.Sprintf("%s shader %d", t, shid), err)
	}
	for _, t := range sortedKeys(snap.ShaderConsts) {
		regs := snap.ShaderConsts[t]
		for _, reg := range sortedKeys(regs) {
			fail(fmt.Sprintf("%s constant %d", t, reg), cs.driver.SetShaderConst(c.Device, t, regs[reg]))
		}
	}
	return first
}
