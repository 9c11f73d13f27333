package metadata

import "github.com/google/uuid"

// Opaque handles handed out by a host driver. Zero is never a valid handle.
type (
	DeviceHandle uint64
	ObjectHandle uint64
	QueryHandle  uint64
	ShaderHandle uint64
	DeclHandle   uint64
)

const NullHandle = 0

type ObjectKind int

const (
	ObjectKindSurface ObjectKind = iota
	ObjectKindTexture
	ObjectKindCubeTexture
	ObjectKindVolumeTexture
	ObjectKindVertexBuffer
	ObjectKindIndexBuffer
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectKindSurface:
		return "surface"
	case ObjectKindTexture:
		return "texture"
	case ObjectKindCubeTexture:
		return "cube texture"
	case ObjectKindVolumeTexture:
		return "volume texture"
	case ObjectKindVertexBuffer:
		return "vertex buffer"
	case ObjectKindIndexBuffer:
		return "index buffer"
	}
	return "unknown"
}

func (k ObjectKind) IsBuffer() bool {
	return k == ObjectKindVertexBuffer || k == ObjectKindIndexBuffer
}

func (k ObjectKind) IsTexture() bool {
	return k == ObjectKindTexture || k == ObjectKindCubeTexture || k == ObjectKindVolumeTexture
}

type Pool int

const (
	/** @brief Device memory. Render target and depth objects here cannot be locked. */
	PoolDefault Pool = iota
	/** @brief Host memory, always lockable, used for bounce objects. */
	PoolSystemMem
)

type Usage uint32

const (
	UsageRenderTarget Usage = 0x1
	UsageDepthStencil Usage = 0x2
	UsageDynamic      Usage = 0x4
	UsageWriteOnly    Usage = 0x8
	UsageAutoGenMips  Usage = 0x10
)

/**
 * @brief Shape and placement of a backend object. Sizes lists the mip levels
 * of one face.
 */
type ObjectDesc struct {
	Kind             ObjectKind
	Format           SurfaceFormat
	Faces            uint32
	Sizes            []Size3D
	Usage            Usage
	Pool             Pool
	Shared           bool
	MultisampleCount uint32
	AutogenFilter    TextureFilter
}

// Lockable reports whether objects created from d can be mapped by the CPU.
func (d *ObjectDesc) Lockable() bool {
	return !(d.Pool == PoolDefault && d.Usage&(UsageRenderTarget|UsageDepthStencil) != 0)
}

type Object struct {
	Handle ObjectHandle
	/** @brief Set when the object was created shared, usable from other devices. */
	ShareHandle uuid.UUID
}

/** @brief Face and mip level of an object. Buffers only have 0/0. */
type SubResource struct {
	Face uint32
	Mip  uint32
}

type LockMode int

const (
	LockRead LockMode = iota
	LockWrite
	LockReadWrite
)

/** @brief A mapped sub resource. Data starts at the first block of the level. */
type Mapping struct {
	Data       []byte
	Pitch      uint32
	SlicePitch uint32
}

type Filter int

const (
	FilterNone Filter = iota
	FilterPoint
	FilterLinear
)

type QueryStatus int

const (
	QueryPending QueryStatus = iota
	QuerySignaled
)

type DeviceParams struct {
	Width  uint32
	Height uint32
}

type StreamBinding struct {
	Object ObjectHandle
	Offset uint32
	Stride uint32
}

/**
 * @brief One draw after resources were resolved to backend objects. A zero
 * IndexBuffer draws without indices.
 */
type DrawCall struct {
	Decl        DeclHandle
	Streams     []StreamBinding
	IndexBuffer ObjectHandle
	IndexOffset uint32
	IndexWidth  uint32
	Range       PrimitiveRange
}
