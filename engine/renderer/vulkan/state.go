package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

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

type renderTargetBinding struct {
	Object metadata.ObjectHandle
	Sub    metadata.SubResource
}

// deviceState is the fixed function state of one device as last set.
type deviceState struct {
	renderTargets [metadata.MaxRenderTargets]renderTargetBinding
	textures      [metadata.MaxSamplers]metadata.ObjectHandle
	renderStates  map[metadata.RenderStateName]uint32
	textureStates map[uint32]map[metadata.TextureStateName]uint32
	transforms    map[metadata.TransformType]metadata.Matrix
	materials     map[metadata.Face]metadata.Material
	lights        map[uint32]metadata.LightData
	lightEnabled  map[uint32]bool
	clipPlanes    map[uint32]metadata.ClipPlane
	viewport      metadata.Rect
	scissor       metadata.Rect
	zRange        metadata.ZRange
	shaders       map[metadata.ShaderType]metadata.ShaderHandle
	consts        map[metadata.ShaderType]map[uint32]metadata.ShaderConst
}

func newDeviceState(params metadata.DeviceParams) *deviceState {
	return &deviceState{
		renderStates:  make(map[metadata.RenderStateName]uint32),
		textureStates: make(map[uint32]map[metadata.TextureStateName]uint32),
		transforms:    make(map[metadata.TransformType]metadata.Matrix),
		materials:     make(map[metadata.Face]metadata.Material),
		lights:        make(map[uint32]metadata.LightData),
		lightEnabled:  make(map[uint32]bool),
		clipPlanes:    make(map[uint32]metadata.ClipPlane),
		viewport:      metadata.Rect{W: params.Width, H: params.Height},
		zRange:        metadata.ZRange{Min: 0, Max: 1},
		shaders:       make(map[metadata.ShaderType]metadata.ShaderHandle),
		consts:        make(map[metadata.ShaderType]map[uint32]metadata.ShaderConst),
	}
}

func (s *deviceState) unbind(obj metadata.ObjectHandle) {
	for i := range s.renderTargets {
		if s.renderTargets[i].Object == obj {
			s.renderTargets[i] = renderTargetBinding{}
		}
	}
	for i := range s.textures {
		if s.textures[i] == obj {
			s.textures[i] = metadata.NullHandle
		}
	}
}

func invalidParam(format string, args ...interface{}) error {
	return fmt.Errorf("vulkan driver: "+format+": %w", append(args, core.ErrInvalidParameter)...)
}

// withState runs fn on the state of dev under the resource lock.
func (d *Driver) withState(dev metadata.DeviceHandle, fn func(s *deviceState) error) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.device(dev)
		if err != nil {
			return err
		}
		return fn(dv.state)
	})
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
	if uint32(slot) >= metadata.MaxRenderTargets {
		return invalidParam("render target slot %d", slot)
	}
	return d.withState(dev, func(s *deviceState) error {
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
		s.renderTargets[slot] = renderTargetBinding{Object: obj, Sub: sub}
		return nil
	})
}

func (d *Driver) SetTexture(dev metadata.DeviceHandle, stage uint32, obj metadata.ObjectHandle) error {
	if stage >= metadata.MaxSamplers {
		return invalidParam("texture stage %d", stage)
	}
	return d.withState(dev, func(s *deviceState) error {
		if obj != metadata.NullHandle {
			o, err := d.objectOn(dev, obj)
			if err != nil {
				return err
			}
			if !o.desc.Kind.IsTexture() {
				return invalidParam("%s %d bound as texture", o.desc.Kind, obj)
			}
		}
		s.textures[stage] = obj
		return nil
	})
}

func (d *Driver) SetRenderState(dev metadata.DeviceHandle, states []metadata.RenderState) error {
	for _, rs := range states {
		if rs.State == 0 || rs.State >= metadata.RenderStateMax {
			return invalidParam("render state %d", rs.State)
		}
	}
	return d.withState(dev, func(s *deviceState) error {
		for _, rs := range states {
			s.renderStates[rs.State] = rs.Value
		}
		return nil
	})
}

func (d *Driver) SetTextureState(dev metadata.DeviceHandle, states []metadata.TextureState) error {
	for _, ts := range states {
		if ts.Stage >= metadata.MaxSamplers || ts.Name == 0 || ts.Name >= metadata.TextureStateMax {
			return invalidParam("texture state %d on stage %d", ts.Name, ts.Stage)
		}
	}
	return d.withState(dev, func(s *deviceState) error {
		for _, ts := range states {
			if s.textureStates[ts.Stage] == nil {
				s.textureStates[ts.Stage] = make(map[metadata.TextureStateName]uint32)
			}
			s.textureStates[ts.Stage][ts.Name] = ts.Value
		}
		return nil
	})
}

func (d *Driver) SetTransform(dev metadata.DeviceHandle, t metadata.TransformType, m metadata.Matrix) error {
	if t == 0 || uint32(t) >= metadata.MaxTransforms {
		return invalidParam("transform %d", t)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.transforms[t] = m
		return nil
	})
}

func (d *Driver) SetMaterial(dev metadata.DeviceHandle, face metadata.Face, m metadata.Material) error {
	if face < metadata.FaceFront || face > metadata.FaceFrontBack {
		return invalidParam("material face %d", face)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.materials[face] = m
		return nil
	})
}

func (d *Driver) SetLightData(dev metadata.DeviceHandle, index uint32, light metadata.LightData) error {
	if index >= metadata.MaxLights {
		return invalidParam("light %d", index)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.lights[index] = light
		return nil
	})
}

func (d *Driver) SetLightEnabled(dev metadata.DeviceHandle, index uint32, enabled bool) error {
	if index >= metadata.MaxLights {
		return invalidParam("light %d", index)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.lightEnabled[index] = enabled
		return nil
	})
}

func (d *Driver) SetClipPlane(dev metadata.DeviceHandle, index uint32, plane metadata.ClipPlane) error {
	if index >= metadata.MaxClipPlanes {
		return invalidParam("clip plane %d", index)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.clipPlanes[index] = plane
		return nil
	})
}

func (d *Driver) SetViewport(dev metadata.DeviceHandle, r metadata.Rect) error {
	return d.withState(dev, func(s *deviceState) error {
		s.viewport = r
		return nil
	})
}

func (d *Driver) SetScissor(dev metadata.DeviceHandle, r metadata.Rect) error {
	return d.withState(dev, func(s *deviceState) error {
		s.scissor = r
		return nil
	})
}

func (d *Driver) SetZRange(dev metadata.DeviceHandle, z metadata.ZRange) error {
	if z.Min > z.Max {
		return invalidParam("z range %f..%f", z.Min, z.Max)
	}
	return d.withState(dev, func(s *deviceState) error {
		s.zRange = z
		return nil
	})
}

// CreateShader keeps the guest bytecode. It is validated, not translated.
func (d *Driver) CreateShader(dev metadata.DeviceHandle, t metadata.ShaderType, bytecode []byte) (metadata.ShaderHandle, error) {
	if !t.Valid() {
		return metadata.NullHandle, invalidParam("shader type %d", t)
	}
	if len(bytecode) == 0 || len(bytecode)%4 != 0 {
		return metadata.NullHandle, invalidParam("%s shader bytecode of %d bytes", t, len(bytecode))
	}
	var h metadata.ShaderHandle
	err := d.withState(dev, func(*deviceState) error {
		id, err := d.shaders.Allocate(&shader{device: dev, kind: t, bytecode: append([]byte(nil), bytecode...)})
		if err != nil {
			return fmt.Errorf("vulkan driver: create shader: %s: %w", err, core.ErrResourceCreation)
		}
		h = metadata.ShaderHandle(toHandle(id))
		return nil
	})
	return h, err
}

func (d *Driver) shader(dev metadata.DeviceHandle, sh metadata.ShaderHandle) (*shader, error) {
	s, err := d.shaders.Lookup(toID(uint64(sh)))
	if err != nil {
		return nil, fmt.Errorf("vulkan driver: unknown shader %d: %w", sh, err)
	}
	if s.device != dev {
		return nil, invalidParam("shader %d belongs to device %d, not %d", sh, s.device, dev)
	}
	return s, nil
}

func (d *Driver) DestroyShader(dev metadata.DeviceHandle, sh metadata.ShaderHandle) error {
	return d.withState(dev, func(s *deviceState) error {
		sd, err := d.shader(dev, sh)
		if err != nil {
			return err
		}
		if s.shaders[sd.kind] == sh {
			delete(s.shaders, sd.kind)
		}
		return d.shaders.Free(toID(uint64(sh)))
	})
}

func (d *Driver) SetShader(dev metadata.DeviceHandle, t metadata.ShaderType, sh metadata.ShaderHandle) error {
	if !t.Valid() {
		return invalidParam("shader type %d", t)
	}
	return d.withState(dev, func(s *deviceState) error {
		if sh == metadata.NullHandle {
			delete(s.shaders, t)
			return nil
		}
		sd, err := d.shader(dev, sh)
		if err != nil {
			return err
		}
		if sd.kind != t {
			return invalidParam("%s shader %d set as %s", sd.kind, sh, t)
		}
		s.shaders[t] = sh
		return nil
	})
}

func (d *Driver) SetShaderConst(dev metadata.DeviceHandle, t metadata.ShaderType, c metadata.ShaderConst) error {
	if !t.Valid() || c.Register >= metadata.MaxShaderConsts {
		return invalidParam("%s shader constant %d", t, c.Register)
	}
	return d.withState(dev, func(s *deviceState) error {
		if s.consts[t] == nil {
			s.consts[t] = make(map[uint32]metadata.ShaderConst)
		}
		s.consts[t][c.Register] = c
		return nil
	})
}

func (d *Driver) CreateVertexDecl(dev metadata.DeviceHandle, elements []metadata.VertexDecl) (metadata.DeclHandle, error) {
	if len(elements) == 0 {
		return metadata.NullHandle, invalidParam("empty vertex declaration")
	}
	var h metadata.DeclHandle
	err := d.withState(dev, func(*deviceState) error {
		id, err := d.decls.Allocate(&vertexDecl{device: dev, elements: append([]metadata.VertexDecl(nil), elements...)})
		if err != nil {
			return fmt.Errorf("vulkan driver: create vertex declaration: %s: %w", err, core.ErrResourceCreation)
		}
		h = metadata.DeclHandle(toHandle(id))
		return nil
	})
	return h, err
}

func (d *Driver) DestroyVertexDecl(dev metadata.DeviceHandle, decl metadata.DeclHandle) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		v, err := d.decls.Lookup(toID(uint64(decl)))
		if err != nil {
			return fmt.Errorf("vulkan driver: unknown vertex declaration %d: %w", decl, err)
		}
		if v.device != dev {
			return invalidParam("vertex declaration %d belongs to device %d, not %d", decl, v.device, dev)
		}
		return d.decls.Free(toID(uint64(decl)))
	})
}

// DrawPrimitives validates the call. Guest shaders are not translated to
// SPIR-V, so nothing is rasterized.
func (d *Driver) DrawPrimitives(dev metadata.DeviceHandle, call metadata.DrawCall) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		if _, err := d.liveDevice(dev); err != nil {
			return err
		}
		v, err := d.decls.Lookup(toID(uint64(call.Decl)))
		if err != nil || v.device != dev {
			return invalidParam("draw with vertex declaration %d", call.Decl)
		}
		if call.Range.PrimitiveCount == 0 {
			return invalidParam("draw of zero primitives")
		}
		return fmt.Errorf("vulkan driver: draw of %d primitives: %w", call.Range.PrimitiveCount, core.ErrNotImplemented)
	})
}

// Clear fills the bound colour target and depth buffer, limited to rects when
// given. Word sized formats are filled on the queue, the rest on the host.
func (d *Driver) Clear(dev metadata.DeviceHandle, flags metadata.ClearFlags, color uint32, depth float32, stencil uint32, rects []metadata.Rect) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.liveDevice(dev)
		if err != nil {
			return err
		}
		if flags&metadata.ClearColor != 0 {
			if b := dv.state.renderTargets[metadata.RenderTargetColor0]; b.Object != metadata.NullHandle {
				if err := d.fill(dev, dv, b, func(info metadata.FormatInfo) []byte {
					return colorPixel(color, info.BytesPerBlock)
				}, rects); err != nil {
					return err
				}
			}
		}
		if flags&(metadata.ClearDepth|metadata.ClearStencil) != 0 {
			if b := dv.state.renderTargets[metadata.RenderTargetDepth]; b.Object != metadata.NullHandle {
				if err := d.fill(dev, dv, b, func(info metadata.FormatInfo) []byte {
					return depthPixel(info, depth, stencil)
				}, rects); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (d *Driver) fill(dev metadata.DeviceHandle, dv *device, b renderTargetBinding, pixel func(info metadata.FormatInfo) []byte, rects []metadata.Rect) error {
	o, err := d.object(b.Object)
	if err != nil {
		return err
	}
	i, err := o.sub(b.Sub)
	if err != nil {
		return err
	}
	value := pixel(o.info)
	rows := fillRows(o.layout.levels[i], o.layout.offsets[i], o.info.BytesPerBlock, rects)
	if len(rows) == 0 {
		return nil
	}
	if len(value) != 4 || o.device != dev {
		if err := d.observe(dv, dv.vk.WaitIdle()); err != nil {
			return err
		}
		hostFill(o.buffer.Data, rows, value)
		return nil
	}
	word := binary.LittleEndian.Uint32(value)
	return d.submit(dev, dv, func(cmd vk.CommandBuffer) {
		for _, row := range rows {
			vk.CmdFillBuffer(cmd, o.buffer.Handle, vk.DeviceSize(row.offset), vk.DeviceSize(row.size), word)
		}
	})
}
