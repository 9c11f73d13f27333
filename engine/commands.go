package engine

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
	"github.com/spaghettifunk/vmsvga3d/engine/systems"
)

// Command is one decoded guest command. Commands run on the executor only.
type Command interface {
	Apply(sm *systems.SystemManager) error
	String() string
}

// contextCommand is implemented by commands that run against one context, so
// a lost device can be attributed.
type contextCommand interface {
	Context() uint32
}

type ContextDefineCmd struct{ CID uint32 }

func (c ContextDefineCmd) Apply(sm *systems.SystemManager) error { return sm.Contexts.Define(c.CID) }
func (c ContextDefineCmd) String() string                        { return fmt.Sprintf("ContextDefine(%d)", c.CID) }
func (c ContextDefineCmd) Context() uint32                       { return c.CID }

type ContextDestroyCmd struct{ CID uint32 }

func (c ContextDestroyCmd) Apply(sm *systems.SystemManager) error { return sm.Contexts.Destroy(c.CID) }
func (c ContextDestroyCmd) String() string                        { return fmt.Sprintf("ContextDestroy(%d)", c.CID) }

type SurfaceDefineCmd struct {
	SID  uint32
	Desc metadata.SurfaceDescriptor
}

func (c SurfaceDefineCmd) Apply(sm *systems.SystemManager) error {
	return sm.Surfaces.Define(c.SID, c.Desc)
}
func (c SurfaceDefineCmd) String() string { return fmt.Sprintf("SurfaceDefine(%d, %s)", c.SID, c.Desc.Format) }

type SurfaceDestroyCmd struct{ SID uint32 }

func (c SurfaceDestroyCmd) Apply(sm *systems.SystemManager) error { return sm.Surfaces.Destroy(c.SID) }
func (c SurfaceDestroyCmd) String() string                        { return fmt.Sprintf("SurfaceDestroy(%d)", c.SID) }

type BindTextureCmd struct {
	CID, Stage, SID uint32
}

func (c BindTextureCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.BindTexture(c.CID, c.Stage, c.SID)
}
func (c BindTextureCmd) String() string {
	return fmt.Sprintf("BindTexture(%d, %d, %d)", c.CID, c.Stage, c.SID)
}
func (c BindTextureCmd) Context() uint32 { return c.CID }

type SetRenderTargetCmd struct {
	CID   uint32
	Slot  metadata.RenderTargetType
	Image metadata.SurfaceImageID
}

func (c SetRenderTargetCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetRenderTarget(c.CID, c.Slot, c.Image)
}
func (c SetRenderTargetCmd) String() string {
	return fmt.Sprintf("SetRenderTarget(%d, %d, %d)", c.CID, c.Slot, c.Image.SID)
}
func (c SetRenderTargetCmd) Context() uint32 { return c.CID }

type SurfaceCopyCmd struct {
	Dst, Src metadata.SurfaceImageID
	Boxes    []metadata.CopyBox
}

func (c SurfaceCopyCmd) Apply(sm *systems.SystemManager) error {
	return sm.Surfaces.SurfaceCopy(c.Dst, c.Src, c.Boxes)
}
func (c SurfaceCopyCmd) String() string {
	return fmt.Sprintf("SurfaceCopy(%d <- %d, %d boxes)", c.Dst.SID, c.Src.SID, len(c.Boxes))
}

type SurfaceStretchBltCmd struct {
	Dst    metadata.SurfaceImageID
	DstBox metadata.Box
	Src    metadata.SurfaceImageID
	SrcBox metadata.Box
	Mode   metadata.StretchBltMode
}

func (c SurfaceStretchBltCmd) Apply(sm *systems.SystemManager) error {
	return sm.Surfaces.SurfaceStretchBlt(c.Dst, c.DstBox, c.Src, c.SrcBox, c.Mode)
}
func (c SurfaceStretchBltCmd) String() string {
	return fmt.Sprintf("SurfaceStretchBlt(%d <- %d)", c.Dst.SID, c.Src.SID)
}

type SurfaceDMACmd struct {
	Image     metadata.SurfaceImageID
	Guest     metadata.GuestImage
	Direction metadata.TransferDirection
	Boxes     []metadata.CopyBox
}

func (c SurfaceDMACmd) Apply(sm *systems.SystemManager) error {
	return sm.Surfaces.SurfaceDMA(c.Image, c.Guest, c.Direction, c.Boxes)
}
func (c SurfaceDMACmd) String() string {
	return fmt.Sprintf("SurfaceDMA(%d, direction %d, %d boxes)", c.Image.SID, c.Direction, len(c.Boxes))
}

type GenerateMipmapsCmd struct {
	SID    uint32
	Filter metadata.TextureFilter
}

func (c GenerateMipmapsCmd) Apply(sm *systems.SystemManager) error {
	return sm.Surfaces.GenerateMipmaps(c.SID, c.Filter)
}
func (c GenerateMipmapsCmd) String() string { return fmt.Sprintf("GenerateMipmaps(%d)", c.SID) }

type DrawPrimitivesCmd struct {
	CID    uint32
	Decls  []metadata.VertexDecl
	Ranges []metadata.PrimitiveRange
}

func (c DrawPrimitivesCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.DrawPrimitives(c.CID, c.Decls, c.Ranges)
}
func (c DrawPrimitivesCmd) String() string {
	return fmt.Sprintf("DrawPrimitives(%d, %d elements, %d ranges)", c.CID, len(c.Decls), len(c.Ranges))
}
func (c DrawPrimitivesCmd) Context() uint32 { return c.CID }

type ClearCmd struct {
	CID     uint32
	Flags   metadata.ClearFlags
	Color   uint32
	Depth   float32
	Stencil uint32
	Rects   []metadata.Rect
}

func (c ClearCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.Clear(c.CID, c.Flags, c.Color, c.Depth, c.Stencil, c.Rects)
}
func (c ClearCmd) String() string  { return fmt.Sprintf("Clear(%d, 0x%x)", c.CID, uint32(c.Flags)) }
func (c ClearCmd) Context() uint32 { return c.CID }

type SetRenderStateCmd struct {
	CID    uint32
	States []metadata.RenderState
}

func (c SetRenderStateCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetRenderState(c.CID, c.States)
}
func (c SetRenderStateCmd) String() string {
	return fmt.Sprintf("SetRenderState(%d, %d states)", c.CID, len(c.States))
}
func (c SetRenderStateCmd) Context() uint32 { return c.CID }

type SetTextureStateCmd struct {
	CID    uint32
	States []metadata.TextureState
}

func (c SetTextureStateCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetTextureState(c.CID, c.States)
}
func (c SetTextureStateCmd) String() string {
	return fmt.Sprintf("SetTextureState(%d, %d states)", c.CID, len(c.States))
}
func (c SetTextureStateCmd) Context() uint32 { return c.CID }

type SetTransformCmd struct {
	CID    uint32
	Type   metadata.TransformType
	Matrix metadata.Matrix
}

func (c SetTransformCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetTransform(c.CID, c.Type, c.Matrix)
}
func (c SetTransformCmd) String() string  { return fmt.Sprintf("SetTransform(%d, %d)", c.CID, c.Type) }
func (c SetTransformCmd) Context() uint32 { return c.CID }

type SetMaterialCmd struct {
	CID      uint32
	Face     metadata.Face
	Material metadata.Material
}

func (c SetMaterialCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetMaterial(c.CID, c.Face, c.Material)
}
func (c SetMaterialCmd) String() string  { return fmt.Sprintf("SetMaterial(%d, %d)", c.CID, c.Face) }
func (c SetMaterialCmd) Context() uint32 { return c.CID }

type SetLightDataCmd struct {
	CID   uint32
	Index uint32
	Light metadata.LightData
}

func (c SetLightDataCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetLightData(c.CID, c.Index, c.Light)
}
func (c SetLightDataCmd) String() string  { return fmt.Sprintf("SetLightData(%d, %d)", c.CID, c.Index) }
func (c SetLightDataCmd) Context() uint32 { return c.CID }

type SetLightEnabledCmd struct {
	CID     uint32
	Index   uint32
	Enabled bool
}

func (c SetLightEnabledCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetLightEnabled(c.CID, c.Index, c.Enabled)
}
func (c SetLightEnabledCmd) String() string {
	return fmt.Sprintf("SetLightEnabled(%d, %d, %t)", c.CID, c.Index, c.Enabled)
}
func (c SetLightEnabledCmd) Context() uint32 { return c.CID }

type SetClipPlaneCmd struct {
	CID   uint32
	Index uint32
	Plane metadata.ClipPlane
}

func (c SetClipPlaneCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetClipPlane(c.CID, c.Index, c.Plane)
}
func (c SetClipPlaneCmd) String() string  { return fmt.Sprintf("SetClipPlane(%d, %d)", c.CID, c.Index) }
func (c SetClipPlaneCmd) Context() uint32 { return c.CID }

type SetViewportCmd struct {
	CID  uint32
	Rect metadata.Rect
}

func (c SetViewportCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetViewport(c.CID, c.Rect)
}
func (c SetViewportCmd) String() string  { return fmt.Sprintf("SetViewport(%d, %+v)", c.CID, c.Rect) }
func (c SetViewportCmd) Context() uint32 { return c.CID }

type SetScissorRectCmd struct {
	CID  uint32
	Rect metadata.Rect
}

func (c SetScissorRectCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetScissorRect(c.CID, c.Rect)
}
func (c SetScissorRectCmd) String() string  { return fmt.Sprintf("SetScissorRect(%d, %+v)", c.CID, c.Rect) }
func (c SetScissorRectCmd) Context() uint32 { return c.CID }

type SetZRangeCmd struct {
	CID   uint32
	Range metadata.ZRange
}

func (c SetZRangeCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetZRange(c.CID, c.Range)
}
func (c SetZRangeCmd) String() string  { return fmt.Sprintf("SetZRange(%d, %+v)", c.CID, c.Range) }
func (c SetZRangeCmd) Context() uint32 { return c.CID }

type ShaderDefineCmd struct {
	CID      uint32
	SHID     uint32
	Type     metadata.ShaderType
	Bytecode []byte
}

func (c ShaderDefineCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.ShaderDefine(c.CID, c.SHID, c.Type, c.Bytecode)
}
func (c ShaderDefineCmd) String() string {
	return fmt.Sprintf("ShaderDefine(%d, %d, %s)", c.CID, c.SHID, c.Type)
}
func (c ShaderDefineCmd) Context() uint32 { return c.CID }

type ShaderDestroyCmd struct {
	CID  uint32
	SHID uint32
	Type metadata.ShaderType
}

func (c ShaderDestroyCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.ShaderDestroy(c.CID, c.SHID, c.Type)
}
func (c ShaderDestroyCmd) String() string {
	return fmt.Sprintf("ShaderDestroy(%d, %d, %s)", c.CID, c.SHID, c.Type)
}
func (c ShaderDestroyCmd) Context() uint32 { return c.CID }

type ShaderSetCmd struct {
	CID  uint32
	Type metadata.ShaderType
	SHID uint32
}

func (c ShaderSetCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.ShaderSet(c.CID, c.Type, c.SHID)
}
func (c ShaderSetCmd) String() string  { return fmt.Sprintf("ShaderSet(%d, %s, %d)", c.CID, c.Type, c.SHID) }
func (c ShaderSetCmd) Context() uint32 { return c.CID }

type SetShaderConstCmd struct {
	CID   uint32
	Type  metadata.ShaderType
	Const metadata.ShaderConst
}

func (c SetShaderConstCmd) Apply(sm *systems.SystemManager) error {
	return sm.Contexts.SetShaderConst(c.CID, c.Type, c.Const)
}
func (c SetShaderConstCmd) String() string {
	return fmt.Sprintf("SetShaderConst(%d, %s, %d)", c.CID, c.Type, c.Const.Register)
}
func (c SetShaderConstCmd) Context() uint32 { return c.CID }

type ModeChangeCmd struct{}

func (ModeChangeCmd) Apply(sm *systems.SystemManager) error { return sm.Resets.OnModeChange() }
func (ModeChangeCmd) String() string                        { return "OnModeChange" }

// DumpSurfaceCmd hands the bitmap path, or the write error, to Done.
type DumpSurfaceCmd struct {
	Image metadata.SurfaceImageID
	Done  func(path string, err error)
}

func (c DumpSurfaceCmd) Apply(sm *systems.SystemManager) error {
	path, err := sm.Dumps.DumpSurface(c.Image, c.Done)
	if err != nil {
		return err
	}
	if path == "" {
		core.LogDebug("surface %d not dumped", c.Image.SID)
		if c.Done != nil {
			c.Done("", nil)
		}
	}
	return nil
}
func (c DumpSurfaceCmd) String() string { return fmt.Sprintf("DumpSurface(%d)", c.Image.SID) }
