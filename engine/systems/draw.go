package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// resolveBuffer makes sure the buffer surface sid has an object of kind on c.
// A buffer last used with another kind or on another context is recreated
// from its mirror.
func (cs *ContextSystem) resolveBuffer(c *Context, sid uint32, kind metadata.ObjectKind) (metadata.ObjectHandle, error) {
	s, err := cs.table.Surface(sid)
	if err != nil {
		return metadata.NullHandle, err
	}
	if !s.KeepsMirror() {
		return metadata.NullHandle, fmt.Errorf("surface %d: not a buffer: %w", sid, core.ErrInvalidParameter)
	}
	if s.HasObject() && (s.Kind != kind || s.ContextID != c.ID) {
		core.LogDebug("surface %d: retarget %s on context %d to %s on context %d", sid, s.Kind, s.ContextID, kind, c.ID)
		cs.surfaces.releaseObjects(s)
	}
	if !s.HasObject() {
		if err := cs.surfaces.create(s, c, kind); err != nil {
			return metadata.NullHandle, err
		}
		return s.Object.Handle, nil
	}
	if err := cs.surfaces.writeThrough(s); err != nil {
		return metadata.NullHandle, err
	}
	return s.Object.Handle, nil
}

/**
 * @brief Draws primitive ranges on cid. Vertex elements name their buffer
 * surfaces; every distinct surface becomes one stream. A surface cannot be
 * both a stream and an index array of the same draw. Bound textures owned by
 * other contexts are refreshed before the draw.
 */
func (cs *ContextSystem) DrawPrimitives(cid uint32, decls []metadata.VertexDecl, ranges []metadata.PrimitiveRange) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if len(decls) == 0 || len(ranges) == 0 {
		return fmt.Errorf("context %d: draw with %d elements and %d ranges: %w", cid, len(decls), len(ranges), core.ErrInvalidParameter)
	}

	vertexSurfaces := make(map[uint32]bool, len(decls))
	for _, d := range decls {
		vertexSurfaces[d.Array.SurfaceID] = true
	}
	for _, r := range ranges {
		if core.IsValidID(r.IndexArray.SurfaceID) && vertexSurfaces[r.IndexArray.SurfaceID] {
			err := fmt.Errorf("context %d: surface %d used as vertex and index buffer in one draw: %w", cid, r.IndexArray.SurfaceID, core.ErrInvalidParameter)
			core.LogError(err.Error())
			return err
		}
	}

	if err := cs.prepareBound(c); err != nil {
		return err
	}

	var streams []metadata.StreamBinding
	streamOf := make(map[uint32]uint32)
	elements := make([]metadata.VertexDecl, len(decls))
	for i, d := range decls {
		stream, ok := streamOf[d.Array.SurfaceID]
		if !ok {
			obj, err := cs.resolveBuffer(c, d.Array.SurfaceID, metadata.ObjectKindVertexBuffer)
			if err != nil {
				core.LogError("context %d: vertex buffer %d: %s", cid, d.Array.SurfaceID, err)
				return err
			}
			stream = uint32(len(streams))
			streamOf[d.Array.SurfaceID] = stream
			streams = append(streams, metadata.StreamBinding{Object: obj, Stride: d.Array.Stride})
		}
		elements[i] = d
		elements[i].Array.SurfaceID = stream
	}

	decl, err := c.Decls.Get(elements)
	if err != nil {
		return fmt.Errorf("context %d: vertex declaration: %w", cid, err)
	}

	for _, r := range ranges {
		call := metadata.DrawCall{
			Decl:    decl,
			Streams: streams,
			Range:   r,
		}
		if core.IsValidID(r.IndexArray.SurfaceID) {
			obj, err := cs.resolveBuffer(c, r.IndexArray.SurfaceID, metadata.ObjectKindIndexBuffer)
			if err != nil {
				core.LogError("context %d: index buffer %d: %s", cid, r.IndexArray.SurfaceID, err)
				return err
			}
			call.IndexBuffer = obj
			call.IndexOffset = r.IndexArray.Offset
			call.IndexWidth = r.IndexWidth
		}
		if err := cs.driver.DrawPrimitives(c.Device, call); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				return err
			}
			return fmt.Errorf("context %d: draw: %w", cid, err)
		}
		cs.metrics.Draws++
	}
	return cs.trackBound(c)
}

// prepareBound waits for fences other contexts left on bound surfaces and
// rebinds sampled surfaces whose object lives on another context.
func (cs *ContextSystem) prepareBound(c *Context) error {
	for stage, sid := range c.Snapshot.Textures {
		if !core.IsValidID(sid) {
			continue
		}
		s, err := cs.table.Surface(sid)
		if err != nil {
			return err
		}
		if s.HasObject() && s.ContextID == c.ID {
			if err := cs.fences.FlushForeign(s, c.ID); err != nil {
				return err
			}
			continue
		}
		obj, err := cs.resolveTexture(c, sid)
		if err != nil {
			return err
		}
		if err := cs.driver.SetTexture(c.Device, uint32(stage), obj); err != nil {
			return err
		}
	}
	for _, img := range c.Snapshot.RenderTargets {
		if !core.IsValidID(img.SID) {
			continue
		}
		s, err := cs.table.Surface(img.SID)
		if err != nil {
			return err
		}
		if err := cs.fences.FlushForeign(s, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// trackBound fences every surface c just read or wrote.
func (cs *ContextSystem) trackBound(c *Context) error {
	var errs []error
	track := func(sid uint32) {
		s, err := cs.table.Surface(sid)
		if err != nil || !s.HasObject() {
			return
		}
		errs = append(errs, cs.fences.TrackUsage(s, c.ID))
	}
	for _, sid := range c.Snapshot.Textures {
		if core.IsValidID(sid) {
			track(sid)
		}
	}
	for _, img := range c.Snapshot.RenderTargets {
		if core.IsValidID(img.SID) {
			track(img.SID)
		}
	}
	return errors.Join(errs...)
}

// Clear fills the bound targets of cid, limited to rects when given.
func (cs *ContextSystem) Clear(cid uint32, flags metadata.ClearFlags, color uint32, depth float32, stencil uint32, rects []metadata.Rect) error {
	c, err := cs.table.Context(cid)
	if err != nil {
		return err
	}
	if err := cs.prepareBound(c); err != nil {
		return err
	}
	if err := cs.driver.Clear(c.Device, flags, color, depth, stencil, rects); err != nil {
		return fmt.Errorf("context %d: clear: %w", cid, err)
	}
	return cs.trackBound(c)
}
