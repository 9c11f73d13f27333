package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type shader struct {
	device   metadata.DeviceHandle
	kind     metadata.ShaderType
	bytecode []byte
}

type vertexDecl struct {
	device   metadata.DeviceHandle
	elements []metadata.VertexDecl
}

func invalidParam(format string, args ...interface{}) error {
	return fmt.Errorf("software driver: "+format+": %w", append(args, core.ErrInvalidParameter)...)
}

// objectOn resolves h for use on dev. Shared objects of other devices are accepted.
func (d *Driver) objectOn(dev metadata.DeviceHandle, h metadata.ObjectHandle) (*object, error) {
	o, err := d.object(h)
	if err != nil {
		return nil, err
	}
	if o.device != dev && !o.desc.Shared {
		return nil, invalidParam("object %d belongs to device %d, not %d", h, o.device, dev)
	}
	return o, nil
}

func (d *Driver) SetRenderTarget(dev metadata.DeviceHandle, slot metadata.RenderTargetType, obj metadata.ObjectHandle, sub metadata.SubResource) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if uint32(slot) >= metadata.MaxRenderTargets {
		return invalidParam("render target slot %d", slot)
	}
	if obj != metadata.NullHandle {
		o, err := d.objectOn(dev, obj)
		if err != nil {
			return err
		}
		if o.desc.Usage&(metadata.UsageRenderTarget|metadata.UsageDepthStencil) == 0 {
			return invalidParam("object %d was not created as a render target", obj)
		}
		if slot.IsDepthStencil() != o.info.Depth {
			return invalidParam("%s object %d in render target slot %d", o.desc.Format, obj, slot)
		}
		if _, err := o.sub(sub); err != nil {
			return err
		}
	}
	dv.renderTargets[slot] = renderTargetBinding{Object: obj, Sub: sub}
	dv.record("rendertarget %d", slot)
	return nil
}

func (d *Driver) SetTexture(dev metadata.DeviceHandle, stage uint32, obj metadata.ObjectHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if stage >= metadata.MaxSamplers {
		return invalidParam("texture stage %d", stage)
	}
	if obj != metadata.NullHandle {
		o, err := d.objectOn(dev, obj)
		if err != nil {
			return err
		}
		if !o.desc.Kind.IsTexture() {
			return invalidParam("%s %d bound as texture", o.desc.Kind, obj)
		}
	}
	dv.textures[stage] = obj
	dv.record("texture %d", stage)
	return nil
}

func (d *Driver) SetRenderState(dev metadata.DeviceHandle, states []metadata.RenderState) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	for _, s := range states {
		if s.State == 0 || s.State >= metadata.RenderStateMax {
			return invalidParam("render state %d", s.State)
		}
	}
	for _, s := range states {
		dv.renderStates[s.State] = s.Value
	}
	dv.record("renderstate")
	return nil
}

func (d *Driver) SetTextureState(dev metadata.DeviceHandle, states []metadata.TextureState) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	for _, s := range states {
		if s.Stage >= metadata.MaxSamplers || s.Name == 0 || s.Name >= metadata.TextureStateMax {
			return invalidParam("texture state %d on stage %d", s.Name, s.Stage)
		}
	}
	for _, s := range states {
		dv.textureStates[s] = struct{}{}
	}
	dv.record("texturestate")
	return nil
}

func (d *Driver) SetTransform(dev metadata.DeviceHandle, t metadata.TransformType, m metadata.Matrix) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if t == 0 || uint32(t) >= metadata.MaxTransforms {
		return invalidParam("transform %d", t)
	}
	dv.transforms[t] = m
	dv.record("transform %d", t)
	return nil
}

func (d *Driver) SetMaterial(dev metadata.DeviceHandle, face metadata.Face, m metadata.Material) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if face < metadata.FaceFront || face > metadata.FaceFrontBack {
		return invalidParam("material face %d", face)
	}
	dv.materials[face] = m
	dv.record("material %d", face)
	return nil
}

func (d *Driver) SetLightData(dev metadata.DeviceHandle, index uint32, light metadata.LightData) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if index >= metadata.MaxLights {
		return invalidParam("light %d", index)
	}
	dv.lights[index] = light
	dv.record("light %d", index)
	return nil
}

func (d *Driver) SetLightEnabled(dev metadata.DeviceHandle, index uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if index >= metadata.MaxLights {
		return invalidParam("light %d", index)
	}
	dv.lightEnabled[index] = enabled
	dv.record("lightenable %d", index)
	return nil
}

func (d *Driver) SetClipPlane(dev metadata.DeviceHandle, index uint32, plane metadata.ClipPlane) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if index >= metadata.MaxClipPlanes {
		return invalidParam("clip plane %d", index)
	}
	dv.clipPlanes[index] = plane
	dv.record("clipplane %d", index)
	return nil
}

func (d *Driver) SetViewport(dev metadata.DeviceHandle, r metadata.Rect) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	dv.viewport = r
	dv.record("viewport")
	return nil
}

func (d *Driver) SetScissor(dev metadata.DeviceHandle, r metadata.Rect) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	dv.scissor = r
	dv.record("scissor")
	return nil
}

func (d *Driver) SetZRange(dev metadata.DeviceHandle, z metadata.ZRange) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if z.Min > z.Max {
		return invalidParam("z range %f..%f", z.Min, z.Max)
	}
	dv.zRange = z
	dv.record("zrange")
	return nil
}

func (d *Driver) CreateShader(dev metadata.DeviceHandle, t metadata.ShaderType, bytecode []byte) (metadata.ShaderHandle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.device(dev); err != nil {
		return metadata.NullHandle, err
	}
	if !t.Valid() {
		return metadata.NullHandle, invalidParam("shader type %d", t)
	}
	if len(bytecode) == 0 || len(bytecode)%4 != 0 {
		return metadata.NullHandle, invalidParam("%s shader bytecode of %d bytes", t, len(bytecode))
	}
	id, err := d.shaders.Allocate(&shader{device: dev, kind: t, bytecode: append([]byte(nil), bytecode...)})
	if err != nil {
		return metadata.NullHandle, fmt.Errorf("software driver: create shader: %s: %w", err, core.ErrResourceCreation)
	}
	return metadata.ShaderHandle(toHandle(id)), nil
}

func (d *Driver) shader(dev metadata.DeviceHandle, sh metadata.ShaderHandle) (*shader, error) {
	s, err := d.shaders.Lookup(toID(uint64(sh)))
	if err != nil {
		return nil, fmt.Errorf("software driver: unknown shader %d: %w", sh, err)
	}
	if s.device != dev {
		return nil, invalidParam("shader %d belongs to device %d, not %d", sh, s.device, dev)
	}
	return s, nil
}

func (d *Driver) DestroyShader(dev metadata.DeviceHandle, sh metadata.ShaderHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s, err := d.shader(dev, sh)
	if err != nil {
		return err
	}
	if dv, err := d.device(dev); err == nil && dv.shaders[s.kind] == sh {
		delete(dv.shaders, s.kind)
	}
	return d.shaders.Free(toID(uint64(sh)))
}

func (d *Driver) SetShader(dev metadata.DeviceHandle, t metadata.ShaderType, sh metadata.ShaderHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if !t.Valid() {
		return invalidParam("shader type %d", t)
	}
	if sh == metadata.NullHandle {
		delete(dv.shaders, t)
		dv.record("shader %s", t)
		return nil
	}
	s, err := d.shader(dev, sh)
	if err != nil {
		return err
	}
	if s.kind != t {
		return invalidParam("%s shader %d set as %s", s.kind, sh, t)
	}
	dv.shaders[t] = sh
	dv.record("shader %s", t)
	return nil
}

func (d *Driver) SetShaderConst(dev metadata.DeviceHandle, t metadata.ShaderType, c metadata.ShaderConst) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.device(dev)
	if err != nil {
		return err
	}
	if !t.Valid() || c.Register >= metadata.MaxShaderConsts {
		return invalidParam("%s shader constant %d", t, c.Register)
	}
	if dv.consts[t] == nil {
		dv.consts[t] = make(map[uint32]metadata.ShaderConst)
	}
	dv.consts[t][c.Register] = c
	dv.record("shaderconst %s %d", t, c.Register)
	return nil
}

func (d *Driver) CreateVertexDecl(dev metadata.DeviceHandle, elements []metadata.VertexDecl) (metadata.DeclHandle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.device(dev); err != nil {
		return metadata.NullHandle, err
	}
	if len(elements) == 0 {
		return metadata.NullHandle, invalidParam("empty vertex declaration")
	}
	id, err := d.decls.Allocate(&vertexDecl{device: dev, elements: append([]metadata.VertexDecl(nil), elements...)})
	if err != nil {
		return metadata.NullHandle, fmt.Errorf("software driver: create vertex declaration: %s: %w", err, core.ErrResourceCreation)
	}
	return metadata.DeclHandle(toHandle(id)), nil
}

func (d *Driver) DestroyVertexDecl(dev metadata.DeviceHandle, decl metadata.DeclHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	v, err := d.decls.Lookup(toID(uint64(decl)))
	if err != nil {
		return fmt.Errorf("software driver: unknown vertex declaration %d: %w", decl, err)
	}
	if v.device != dev {
		return invalidParam("vertex declaration %d belongs to device %d, not %d", decl, v.device, dev)
	}
	return d.decls.Free(toID(uint64(decl)))
}

// VertexDeclCount reports the live vertex declarations of dev.
func (d *Driver) VertexDeclCount(dev metadata.DeviceHandle) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	n := 0
	d.decls.Each(func(_ uint32, v *vertexDecl) bool {
		if v.device == dev {
			n++
		}
		return true
	})
	return n
}

// DrawPrimitives validates the draw. Every buffer must live on dev, shared or not.
func (d *Driver) DrawPrimitives(dev metadata.DeviceHandle, call metadata.DrawCall) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.liveDevice(dev)
	if err != nil {
		return err
	}
	v, err := d.decls.Lookup(toID(uint64(call.Decl)))
	if err != nil || v.device != dev {
		return invalidParam("draw with vertex declaration %d", call.Decl)
	}
	if call.Range.PrimitiveCount == 0 {
		return invalidParam("draw of zero primitives")
	}
	for _, s := range call.Streams {
		o, err := d.object(s.Object)
		if err != nil {
			return err
		}
		if o.device != dev || !o.desc.Kind.IsBuffer() {
			return invalidParam("vertex stream %s %d not usable on device %d", o.desc.Kind, s.Object, dev)
		}
	}
	if call.IndexBuffer != metadata.NullHandle {
		o, err := d.object(call.IndexBuffer)
		if err != nil {
			return err
		}
		if o.device != dev || !o.desc.Kind.IsBuffer() {
			return invalidParam("index buffer %s %d not usable on device %d", o.desc.Kind, call.IndexBuffer, dev)
		}
		if call.IndexWidth != 2 && call.IndexWidth != 4 {
			return invalidParam("index width %d", call.IndexWidth)
		}
	}
	dv.draws++
	dv.record("draw")
	return nil
}

// Clear fills the bound colour target and depth buffer, limited to rects when given.
func (d *Driver) Clear(dev metadata.DeviceHandle, flags metadata.ClearFlags, color uint32, depth float32, stencil uint32, rects []metadata.Rect) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	dv, err := d.liveDevice(dev)
	if err != nil {
		return err
	}
	if flags&metadata.ClearColor != 0 {
		if b := dv.renderTargets[metadata.RenderTargetColor0]; b.Object != metadata.NullHandle {
			if err := d.fill(b, colorPixel(color), rects); err != nil {
				return err
			}
		}
	}
	if flags&(metadata.ClearDepth|metadata.ClearStencil) != 0 {
		if b := dv.renderTargets[metadata.RenderTargetDepth]; b.Object != metadata.NullHandle {
			if err := d.fill(b, depthPixel(depth, stencil), rects); err != nil {
				return err
			}
		}
	}
	dv.record("clear")
	return nil
}

func (d *Driver) fill(b renderTargetBinding, pixel func(info metadata.FormatInfo, out []byte), rects []metadata.Rect) error {
	o, err := d.object(b.Object)
	if err != nil {
		return err
	}
	sub, err := o.sub(b.Sub)
	if err != nil {
		return err
	}
	size := sub.level.Size
	if len(rects) == 0 {
		rects = []metadata.Rect{{W: size.Width, H: size.Height}}
	}
	bpp := o.info.BytesPerBlock
	value := make([]byte, bpp)
	pixel(o.info, value)
	for _, r := range rects {
		box := metadata.Box{X: r.X, Y: r.Y, W: r.W, H: r.H, D: 1}.Clip(size)
		for y := box.Y; y < box.Y+box.H; y++ {
			for x := box.X; x < box.X+box.W; x++ {
				off := y*sub.level.Pitch + x*bpp
				copy(sub.data[off:off+bpp], value)
			}
		}
	}
	return nil
}

func colorPixel(color uint32) func(metadata.FormatInfo, []byte) {
	return func(info metadata.FormatInfo, out []byte) {
		switch len(out) {
		case 1:
			out[0] = uint8(color)
		case 2:
			binary.LittleEndian.PutUint16(out, uint16(color))
		default:
			for i := 0; i+4 <= len(out); i += 4 {
				binary.LittleEndian.PutUint32(out[i:], color)
			}
		}
	}
}

func depthPixel(depth float32, stencil uint32) func(metadata.FormatInfo, []byte) {
	depth = metadata.Clamp(depth, 0, 1)
	return func(info metadata.FormatInfo, out []byte) {
		switch {
		case len(out) == 2 && info.Stencil:
			binary.LittleEndian.PutUint16(out, uint16(depth*0x7FFF)<<1|uint16(stencil&1))
		case len(out) == 2:
			binary.LittleEndian.PutUint16(out, uint16(depth*0xFFFF))
		case info.Stencil:
			binary.LittleEndian.PutUint32(out, uint32(depth*0xFFFFFF)<<8|stencil&0xFF)
		default:
			binary.LittleEndian.PutUint32(out, uint32(float64(depth)*math.MaxUint32))
		}
	}
}
