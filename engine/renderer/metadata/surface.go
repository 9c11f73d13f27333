package metadata

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

/** @brief Holds usage hint bits of a surface, numbered as on the wire. */
type SurfaceFlags uint32

const (
	SurfaceCubemap           SurfaceFlags = 1 << 0
	SurfaceHintStatic        SurfaceFlags = 1 << 1
	SurfaceHintDynamic       SurfaceFlags = 1 << 2
	SurfaceHintIndexBuffer   SurfaceFlags = 1 << 3
	SurfaceHintVertexBuffer  SurfaceFlags = 1 << 4
	SurfaceHintTexture       SurfaceFlags = 1 << 5
	SurfaceHintRenderTarget  SurfaceFlags = 1 << 6
	SurfaceHintDepthStencil  SurfaceFlags = 1 << 7
	SurfaceHintWriteOnly     SurfaceFlags = 1 << 8
	SurfaceMaskableAntialias SurfaceFlags = 1 << 9
	SurfaceAutogenMipmaps    SurfaceFlags = 1 << 10
)

func (f SurfaceFlags) Has(bits SurfaceFlags) bool {
	return f&bits == bits
}

func (f SurfaceFlags) Any(bits SurfaceFlags) bool {
	return f&bits != 0
}

/** @brief Maximum number of cube faces. */
const MaxSurfaceFaces uint32 = 6

/** @brief Maximum mip levels of one face. */
const MaxMipLevels uint32 = 24

type Size3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

/**
 * @brief Per mip level CPU mirror. Data is nil once the backend object holds
 * the authoritative copy.
 */
type MipLevel struct {
	Size       Size3D
	BlocksX    uint32
	BlocksY    uint32
	Pitch      uint32
	SlicePitch uint32
	Data       []byte
	Dirty      bool
}

// NewMipLevel computes the block layout of one level without allocating its mirror.
func NewMipLevel(format SurfaceFormat, size Size3D) (MipLevel, error) {
	info, err := format.Info()
	if err != nil {
		return MipLevel{}, err
	}
	depth := size.Depth
	if depth == 0 {
		depth = 1
	}
	blocksX := (size.Width + info.BlockWidth - 1) / info.BlockWidth
	blocksY := (size.Height + info.BlockHeight - 1) / info.BlockHeight
	pitch := blocksX * info.BytesPerBlock
	return MipLevel{
		Size:       Size3D{Width: size.Width, Height: size.Height, Depth: depth},
		BlocksX:    blocksX,
		BlocksY:    blocksY,
		Pitch:      pitch,
		SlicePitch: pitch * blocksY,
	}, nil
}

func (m *MipLevel) ByteSize() uint32 {
	return m.SlicePitch * m.Size.Depth
}

// Allocate gives the level a zeroed mirror of the right size.
func (m *MipLevel) Allocate() {
	m.Data = make([]byte, m.ByteSize())
}

/**
 * @brief Everything needed to recreate a surface. MipSizes lists the levels of
 * one face, every face shares them.
 */
type SurfaceDescriptor struct {
	Flags            SurfaceFlags
	Format           SurfaceFormat
	Faces            uint32
	MipSizes         []Size3D
	MultisampleCount uint32
	AutogenFilter    TextureFilter
}

func (d *SurfaceDescriptor) MipLevels() uint32 {
	return uint32(len(d.MipSizes))
}

func (d *SurfaceDescriptor) Validate() error {
	if _, err := d.Format.Info(); err != nil {
		return fmt.Errorf("surface descriptor: %s: %w", err, core.ErrInvalidParameter)
	}
	if d.Faces == 0 || d.Faces > MaxSurfaceFaces {
		return fmt.Errorf("surface descriptor: %d faces: %w", d.Faces, core.ErrInvalidParameter)
	}
	if d.Flags.Has(SurfaceCubemap) && d.Faces != MaxSurfaceFaces {
		return fmt.Errorf("surface descriptor: cubemap with %d faces: %w", d.Faces, core.ErrInvalidParameter)
	}
	if len(d.MipSizes) == 0 || uint32(len(d.MipSizes)) > MaxMipLevels {
		return fmt.Errorf("surface descriptor: %d mip levels: %w", len(d.MipSizes), core.ErrInvalidParameter)
	}
	for i, s := range d.MipSizes {
		if s.Width == 0 || s.Height == 0 {
			return fmt.Errorf("surface descriptor: mip %d has an empty size: %w", i, core.ErrInvalidParameter)
		}
	}
	return nil
}

func (d *SurfaceDescriptor) IsBuffer() bool {
	return d.Flags.Any(SurfaceHintVertexBuffer | SurfaceHintIndexBuffer)
}

// Clone copies the descriptor so the mip size slice is not shared.
func (d SurfaceDescriptor) Clone() SurfaceDescriptor {
	d.MipSizes = append([]Size3D(nil), d.MipSizes...)
	return d
}

/** @brief Addresses a single face and mip level of a surface. */
type SurfaceImageID struct {
	SID    uint32
	Face   uint32
	Mipmap uint32
}

type Box struct {
	X, Y, Z uint32
	W, H, D uint32
}

func (b Box) Empty() bool {
	return b.W == 0 || b.H == 0 || b.D == 0
}

// Clip restricts the box to a level of the given size.
func (b Box) Clip(size Size3D) Box {
	b.W = clipExtent(b.X, b.W, size.Width)
	b.H = clipExtent(b.Y, b.H, size.Height)
	depth := size.Depth
	if depth == 0 {
		depth = 1
	}
	if b.D == 0 {
		b.D = 1
	}
	b.D = clipExtent(b.Z, b.D, depth)
	return b
}

func clipExtent(origin, extent, limit uint32) uint32 {
	if origin >= limit {
		return 0
	}
	if extent > limit-origin {
		return limit - origin
	}
	return extent
}

/**
 * @brief A box with a separate source origin, used by copies and DMA.
 * X/Y/Z address the destination.
 */
type CopyBox struct {
	X, Y, Z          uint32
	W, H, D          uint32
	SrcX, SrcY, SrcZ uint32
}

func (c CopyBox) Dst() Box {
	return Box{X: c.X, Y: c.Y, Z: c.Z, W: c.W, H: c.H, D: c.D}
}

func (c CopyBox) Src() Box {
	return Box{X: c.SrcX, Y: c.SrcY, Z: c.SrcZ, W: c.W, H: c.H, D: c.D}
}

type Rect struct {
	X, Y uint32
	W, H uint32
}

/** @brief DMA direction as seen from the guest. */
type TransferDirection uint32

const (
	/** @brief Guest memory to surface. */
	TransferWriteHostVRAM TransferDirection = 1
	/** @brief Surface to guest memory. */
	TransferReadHostVRAM TransferDirection = 2
)
