package systems

import (
	"github.com/jinzhu/copier"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// StateCategory marks which parts of a snapshot the guest has set.
type StateCategory uint32

const (
	StateRenderTargets StateCategory = 1 << iota
	StateRenderStates
	StateTextureStates
	StateTextures
	StateTransforms
	StateMaterials
	StateLights
	StateClipPlanes
	StateViewport
	StateScissor
	StateZRange
	StateShaders
	StateShaderConsts
)

func (c StateCategory) Has(flag StateCategory) bool {
	return c&flag == flag
}

type LightSlot struct {
	Defined bool
	Enabled bool
	Data    metadata.LightData
}

type ClipPlaneSlot struct {
	Defined bool
	Plane   metadata.ClipPlane
}

/**
 * @brief Everything the guest set on a context, kept so a device reset can
 * rebuild the host state. Maps are never nil.
 */
type Snapshot struct {
	Dirty StateCategory

	RenderTargets [metadata.MaxRenderTargets]metadata.SurfaceImageID
	/** @brief Bound surface id per sampler stage, core.InvalidID when unbound. */
	Textures [metadata.MaxSamplers]uint32

	RenderStates map[metadata.RenderStateName]uint32
	/** @brief Texture states by stage, then by name. */
	TextureStates map[uint32]map[metadata.TextureStateName]uint32
	Transforms    map[metadata.TransformType]metadata.Matrix
	Materials     map[metadata.Face]metadata.Material

	Lights     [metadata.MaxLights]LightSlot
	ClipPlanes [metadata.MaxClipPlanes]ClipPlaneSlot

	Viewport metadata.Rect
	Scissor  metadata.Rect
	ZRange   metadata.ZRange

	Shaders      map[metadata.ShaderType]uint32
	ShaderConsts map[metadata.ShaderType]map[uint32]metadata.ShaderConst
}

func unboundImage() metadata.SurfaceImageID {
	return metadata.SurfaceImageID{SID: core.InvalidID}
}

func NewSnapshot() *Snapshot {
	s := &Snapshot{
		RenderStates:  make(map[metadata.RenderStateName]uint32),
		TextureStates: make(map[uint32]map[metadata.TextureStateName]uint32),
		Transforms:    make(map[metadata.TransformType]metadata.Matrix),
		Materials:     make(map[metadata.Face]metadata.Material),
		Shaders: map[metadata.ShaderType]uint32{
			metadata.ShaderTypeVertex: core.InvalidID,
			metadata.ShaderTypePixel:  core.InvalidID,
		},
		ShaderConsts: make(map[metadata.ShaderType]map[uint32]metadata.ShaderConst),
	}
	for i := range s.RenderTargets {
		s.RenderTargets[i] = unboundImage()
	}
	for i := range s.Textures {
		s.Textures[i] = core.InvalidID
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() (*Snapshot, error) {
	out := &Snapshot{}
	if err := copier.CopyWithOption(out, s, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Snapshot) SetRenderTarget(slot metadata.RenderTargetType, img metadata.SurfaceImageID) {
	s.RenderTargets[slot] = img
	s.Dirty |= StateRenderTargets
}

func (s *Snapshot) SetTexture(stage, sid uint32) {
	s.Textures[stage] = sid
	s.Dirty |= StateTextures
}

func (s *Snapshot) SetRenderStates(states []metadata.RenderState) {
	for _, rs := range states {
		s.RenderStates[rs.State] = rs.Value
	}
	s.Dirty |= StateRenderStates
}

func (s *Snapshot) SetTextureStates(states []metadata.TextureState) {
	for _, ts := range states {
		stage, ok := s.TextureStates[ts.Stage]
		if !ok {
			stage = make(map[metadata.TextureStateName]uint32)
			s.TextureStates[ts.Stage] = stage
		}
		stage[ts.Name] = ts.Value
	}
	s.Dirty |= StateTextureStates
}

func (s *Snapshot) SetTransform(t metadata.TransformType, m metadata.Matrix) {
	s.Transforms[t] = m
	s.Dirty |= StateTransforms
}

func (s *Snapshot) SetMaterial(face metadata.Face, m metadata.Material) {
	s.Materials[face] = m
	s.Dirty |= StateMaterials
}

func (s *Snapshot) SetLightData(index uint32, light metadata.LightData) {
	s.Lights[index].Defined = true
	s.Lights[index].Data = light
	s.Dirty |= StateLights
}

func (s *Snapshot) SetLightEnabled(index uint32, enabled bool) {
	s.Lights[index].Enabled = enabled
	s.Dirty |= StateLights
}

func (s *Snapshot) SetClipPlane(index uint32, plane metadata.ClipPlane) {
	s.ClipPlanes[index] = ClipPlaneSlot{Defined: true, Plane: plane}
	s.Dirty |= StateClipPlanes
}

func (s *Snapshot) SetViewport(r metadata.Rect) {
	s.Viewport = r
	s.Dirty |= StateViewport
}

func (s *Snapshot) SetScissor(r metadata.Rect) {
	s.Scissor = r
	s.Dirty |= StateScissor
}

func (s *Snapshot) SetZRange(z metadata.ZRange) {
	s.ZRange = z
	s.Dirty |= StateZRange
}

func (s *Snapshot) SetShader(t metadata.ShaderType, shid uint32) {
	s.Shaders[t] = shid
	s.Dirty |= StateShaders
}

func (s *Snapshot) SetShaderConst(t metadata.ShaderType, c metadata.ShaderConst) {
	regs, ok := s.ShaderConsts[t]
	if !ok {
		regs = make(map[uint32]metadata.ShaderConst)
		s.ShaderConsts[t] = regs
	}
	regs[c.Register] = c
	s.Dirty |= StateShaderConsts
}

// forgetShader clears every reference to shid of type t.
func (s *Snapshot) forgetShader(t metadata.ShaderType, shid uint32) {
	if s.Shaders[t] == shid {
		s.Shaders[t] = core.InvalidID
	}
}

// sortedKeys gives replay a stable order.
func sortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
