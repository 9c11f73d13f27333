package renderer

import (
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type DeviceDriver interface {
	CreateDevice(cid uint32, params metadata.DeviceParams) (metadata.DeviceHandle, error)
	DestroyDevice(dev metadata.DeviceHandle) error
	// ResetDevice invalidates every object for which SurvivesReset is false.
	ResetDevice(dev metadata.DeviceHandle, params metadata.DeviceParams) error
}

type ObjectDriver interface {
	CreateTextureObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error)
	CreateBufferObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error)
	CreateRenderTargetObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error)
	DestroyObject(obj metadata.ObjectHandle) error
	Lock(obj metadata.ObjectHandle, sub metadata.SubResource, mode metadata.LockMode) (metadata.Mapping, error)
	Unlock(obj metadata.ObjectHandle, sub metadata.SubResource) error
	// Copy runs on dev. src must belong to dev or be shared.
	Copy(dev metadata.DeviceHandle, dst metadata.ObjectHandle, dstSub metadata.SubResource, dstBox metadata.Box, src metadata.ObjectHandle, srcSub metadata.SubResource, srcBox metadata.Box, filter metadata.Filter) error
	SurvivesReset(obj metadata.ObjectHandle) bool
	GenerateMipmaps(dev metadata.DeviceHandle, obj metadata.ObjectHandle, filter metadata.TextureFilter) error
}

type QueryDriver interface {
	CreateEventQuery(dev metadata.DeviceHandle) (metadata.QueryHandle, error)
	IssueQuery(q metadata.QueryHandle) error
	PollQuery(q metadata.QueryHandle) (metadata.QueryStatus, error)
	DestroyQuery(q metadata.QueryHandle) error
}

type StateDriver interface {
	SetRenderTarget(dev metadata.DeviceHandle, slot metadata.RenderTargetType, obj metadata.ObjectHandle, sub metadata.SubResource) error
	SetTexture(dev metadata.DeviceHandle, stage uint32, obj metadata.ObjectHandle) error
	SetRenderState(dev metadata.DeviceHandle, states []metadata.RenderState) error
	SetTextureState(dev metadata.DeviceHandle, states []metadata.TextureState) error
	SetTransform(dev metadata.DeviceHandle, t metadata.TransformType, m metadata.Matrix) error
	SetMaterial(dev metadata.DeviceHandle, face metadata.Face, m metadata.Material) error
	SetLightData(dev metadata.DeviceHandle, index uint32, light metadata.LightData) error
	SetLightEnabled(dev metadata.DeviceHandle, index uint32, enabled bool) error
	SetClipPlane(dev metadata.DeviceHandle, index uint32, plane metadata.ClipPlane) error
	SetViewport(dev metadata.DeviceHandle, r metadata.Rect) error
	SetScissor(dev metadata.DeviceHandle, r metadata.Rect) error
	SetZRange(dev metadata.DeviceHandle, z metadata.ZRange) error
	CreateShader(dev metadata.DeviceHandle, t metadata.ShaderType, bytecode []byte) (metadata.ShaderHandle, error)
	DestroyShader(dev metadata.DeviceHandle, sh metadata.ShaderHandle) error
	SetShader(dev metadata.DeviceHandle, t metadata.ShaderType, sh metadata.ShaderHandle) error
	SetShaderConst(dev metadata.DeviceHandle, t metadata.ShaderType, c metadata.ShaderConst) error
	CreateVertexDecl(dev metadata.DeviceHandle, elements []metadata.VertexDecl) (metadata.DeclHandle, error)
	DestroyVertexDecl(dev metadata.DeviceHandle, decl metadata.DeclHandle) error
	DrawPrimitives(dev metadata.DeviceHandle, call metadata.DrawCall) error
	Clear(dev metadata.DeviceHandle, flags metadata.ClearFlags, color uint32, depth float32, stencil uint32, rects []metadata.Rect) error
}

// HostDriver is the host graphics API the device is realized on.
type HostDriver interface {
	DeviceDriver
	ObjectDriver
	QueryDriver
	StateDriver
	Name() string
	Shutdown() error
}
