package metadata

import "fmt"

/** @brief Guest visible surface format, numbered as on the wire. */
type SurfaceFormat uint32

const (
	FormatInvalid      SurfaceFormat = 0
	FormatX8R8G8B8     SurfaceFormat = 1
	FormatA8R8G8B8     SurfaceFormat = 2
	FormatR5G6B5       SurfaceFormat = 3
	FormatX1R5G5B5     SurfaceFormat = 4
	FormatA1R5G5B5     SurfaceFormat = 5
	FormatA4R4G4B4     SurfaceFormat = 6
	FormatZD32         SurfaceFormat = 7
	FormatZD16         SurfaceFormat = 8
	FormatZD24S8       SurfaceFormat = 9
	FormatZD15S1       SurfaceFormat = 10
	FormatLuminance8   SurfaceFormat = 11
	FormatLuminance8A8 SurfaceFormat = 14
	FormatDXT1         SurfaceFormat = 15
	FormatDXT3         SurfaceFormat = 17
	FormatDXT5         SurfaceFormat = 19
	FormatA2R10G10B10  SurfaceFormat = 26
	FormatAlpha8       SurfaceFormat = 32
	FormatRS23E8       SurfaceFormat = 34
	FormatBuffer       SurfaceFormat = 37
	FormatZD24X8       SurfaceFormat = 38
	FormatG16R16       SurfaceFormat = 40
	FormatA16B16G16R16 SurfaceFormat = 41
	FormatUYVY         SurfaceFormat = 42
	FormatYUY2         SurfaceFormat = 43
)

/**
 * @brief Block layout of a format. Uncompressed formats use 1x1 blocks,
 * DXT uses 4x4 blocks and packed YUV uses 2x1 blocks.
 */
type FormatInfo struct {
	Name          string
	BlockWidth    uint32
	BlockHeight   uint32
	BytesPerBlock uint32
	Depth         bool
	Stencil       bool
	Compressed    bool
	YUV           bool
}

var formatTable = map[SurfaceFormat]FormatInfo{
	FormatX8R8G8B8:     {Name: "X8R8G8B8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4},
	FormatA8R8G8B8:     {Name: "A8R8G8B8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4},
	FormatR5G6B5:       {Name: "R5G6B5", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2},
	FormatX1R5G5B5:     {Name: "X1R5G5B5", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2},
	FormatA1R5G5B5:     {Name: "A1R5G5B5", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2},
	FormatA4R4G4B4:     {Name: "A4R4G4B4", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2},
	FormatZD32:         {Name: "Z_D32", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4, Depth: true},
	FormatZD16:         {Name: "Z_D16", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2, Depth: true},
	FormatZD24S8:       {Name: "Z_D24S8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4, Depth: true, Stencil: true},
	FormatZD15S1:       {Name: "Z_D15S1", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2, Depth: true, Stencil: true},
	FormatZD24X8:       {Name: "Z_D24X8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4, Depth: true},
	FormatLuminance8:   {Name: "LUMINANCE8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 1},
	FormatLuminance8A8: {Name: "LUMINANCE8_ALPHA8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 2},
	FormatAlpha8:       {Name: "ALPHA8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 1},
	FormatDXT1:         {Name: "DXT1", BlockWidth: 4, BlockHeight: 4, BytesPerBlock: 8, Compressed: true},
	FormatDXT3:         {Name: "DXT3", BlockWidth: 4, BlockHeight: 4, BytesPerBlock: 16, Compressed: true},
	FormatDXT5:         {Name: "DXT5", BlockWidth: 4, BlockHeight: 4, BytesPerBlock: 16, Compressed: true},
	FormatA2R10G10B10:  {Name: "A2R10G10B10", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4},
	FormatRS23E8:       {Name: "R_S23E8", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4},
	FormatG16R16:       {Name: "G16R16", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 4},
	FormatA16B16G16R16: {Name: "A16B16G16R16", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 8},
	FormatBuffer:       {Name: "BUFFER", BlockWidth: 1, BlockHeight: 1, BytesPerBlock: 1},
	FormatUYVY:         {Name: "UYVY", BlockWidth: 2, BlockHeight: 1, BytesPerBlock: 4, YUV: true},
	FormatYUY2:         {Name: "YUY2", BlockWidth: 2, BlockHeight: 1, BytesPerBlock: 4, YUV: true},
}

func (f SurfaceFormat) Info() (FormatInfo, error) {
	info, ok := formatTable[f]
	if !ok {
		return FormatInfo{}, fmt.Errorf("unsupported surface format %d", uint32(f))
	}
	return info, nil
}

func (f SurfaceFormat) IsDepthStencil() bool {
	return formatTable[f].Depth
}

func (f SurfaceFormat) IsYUV() bool {
	return formatTable[f].YUV
}

func (f SurfaceFormat) String() string {
	if info, ok := formatTable[f]; ok {
		return info.Name
	}
	return fmt.Sprintf("FORMAT_%d", uint32(f))
}
