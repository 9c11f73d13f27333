package vulkan

import (
	"encoding/binary"
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// Sub resources start on this boundary so fills stay word aligned.
const subresourceAlignment uint64 = 16

/**
 * @brief Placement of every face and mip level inside the one buffer that
 * backs an object. Levels are stored face major.
 */
type objectLayout struct {
	levels  []metadata.MipLevel
	offsets []uint64
	size    uint64
}

func newObjectLayout(desc metadata.ObjectDesc) (objectLayout, error) {
	if desc.Faces == 0 || len(desc.Sizes) == 0 {
		return objectLayout{}, fmt.Errorf("vulkan driver: %s without faces or levels: %w", desc.Kind, core.ErrResourceCreation)
	}
	var l objectLayout
	for face := uint32(0); face < desc.Faces; face++ {
		for _, size := range desc.Sizes {
			level, err := metadata.NewMipLevel(desc.Format, size)
			if err != nil {
				return objectLayout{}, fmt.Errorf("vulkan driver: %s: %w", err, core.ErrResourceCreation)
			}
			l.offsets = append(l.offsets, l.size)
			l.levels = append(l.levels, level)
			l.size = metadata.GetAligned(l.size+uint64(level.ByteSize()), subresourceAlignment)
		}
	}
	return l, nil
}

func (l *objectLayout) index(faces, mips uint32, s metadata.SubResource) (int, error) {
	if s.Face >= faces || s.Mip >= mips {
		return 0, fmt.Errorf("vulkan driver: sub resource %d/%d out of range (faces=%d, mips=%d): %w",
			s.Face, s.Mip, faces, mips, core.ErrInvalidParameter)
	}
	return int(s.Face*mips + s.Mip), nil
}

func toBlocks(b metadata.Box, info metadata.FormatInfo) (x, y, w, h uint32) {
	x = b.X / info.BlockWidth
	y = b.Y / info.BlockHeight
	w = (b.X+b.W+info.BlockWidth-1)/info.BlockWidth - x
	h = (b.Y+b.H+info.BlockHeight-1)/info.BlockHeight - y
	return
}

// copyRegions splits an unscaled box copy into one buffer copy per block row.
func copyRegions(dst metadata.MipLevel, dstBase uint64, dstBox metadata.Box,
	src metadata.MipLevel, srcBase uint64, srcBox metadata.Box, info metadata.FormatInfo) []vk.BufferCopy {
	dx, dy, w, h := toBlocks(dstBox, info)
	sx, sy, _, _ := toBlocks(srcBox, info)
	rowBytes := uint64(w * info.BytesPerBlock)
	regions := make([]vk.BufferCopy, 0, h*dstBox.D)
	for z := uint32(0); z < dstBox.D; z++ {
		for row := uint32(0); row < h; row++ {
			do := uint64((dstBox.Z+z)*dst.SlicePitch+(dy+row)*dst.Pitch+dx*info.BytesPerBlock) + dstBase
			so := uint64((srcBox.Z+z)*src.SlicePitch+(sy+row)*src.Pitch+sx*info.BytesPerBlock) + srcBase
			regions = append(regions, vk.BufferCopy{
				SrcOffset: vk.DeviceSize(so),
				DstOffset: vk.DeviceSize(do),
				Size:      vk.DeviceSize(rowBytes),
			})
		}
	}
	return regions
}

// applyRegions runs copy regions on the host, used when source and
// destination live on different logical devices.
// Regions inside one buffer that move data towards higher offsets run last first.
func applyRegions(dst, src []byte, regions []vk.BufferCopy) {
	backwards := len(regions) > 0 && len(dst) > 0 && len(src) > 0 && &dst[0] == &src[0] && regions[0].DstOffset > regions[0].SrcOffset
	for i := range regions {
		r := regions[i]
		if backwards {
			r = regions[len(regions)-1-i]
		}
		copy(dst[r.DstOffset:r.DstOffset+r.Size], src[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

type fillRegion struct {
	offset uint64
	size   uint64
}

// fillRows lists the byte ranges of every row inside rects, clipped to the level.
func fillRows(level metadata.MipLevel, base uint64, bpp uint32, rects []metadata.Rect) []fillRegion {
	size := level.Size
	if len(rects) == 0 {
		rects = []metadata.Rect{{W: size.Width, H: size.Height}}
	}
	var rows []fillRegion
	for _, r := range rects {
		box := metadata.Box{X: r.X, Y: r.Y, W: r.W, H: r.H, D: 1}.Clip(size)
		if box.Empty() {
			continue
		}
		for y := box.Y; y < box.Y+box.H; y++ {
			rows = append(rows, fillRegion{
				offset: base + uint64(y*level.Pitch+box.X*bpp),
				size:   uint64(box.W * bpp),
			})
		}
	}
	return rows
}

func colorPixel(color uint32, bpp uint32) []byte {
	out := make([]byte, bpp)
	switch bpp {
	case 1:
		out[0] = uint8(color)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(color))
	default:
		for i := 0; i+4 <= len(out); i += 4 {
			binary.LittleEndian.PutUint32(out[i:], color)
		}
	}
	return out
}

func depthPixel(info metadata.FormatInfo, depth float32, stencil uint32) []byte {
	depth = metadata.Clamp(depth, 0, 1)
	out := make([]byte, info.BytesPerBlock)
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
	return out
}

func hostFill(data []byte, rows []fillRegion, pixel []byte) {
	for _, row := range rows {
		for off := row.offset; off+uint64(len(pixel)) <= row.offset+row.size; off += uint64(len(pixel)) {
			copy(data[off:], pixel)
		}
	}
}

// downsample averages 2x2 texels of src into dst. Every channel must be one byte.
func downsample(dst []byte, dstLevel metadata.MipLevel, src []byte, srcLevel metadata.MipLevel, bpp uint32) {
	maxX, maxY := srcLevel.Size.Width-1, srcLevel.Size.Height-1
	for z := uint32(0); z < dstLevel.Size.Depth; z++ {
		sz := metadata.Clamp(z*2, 0, srcLevel.Size.Depth-1)
		for y := uint32(0); y < dstLevel.Size.Height; y++ {
			y0, y1 := metadata.Clamp(y*2, 0, maxY), metadata.Clamp(y*2+1, 0, maxY)
			for x := uint32(0); x < dstLevel.Size.Width; x++ {
				x0, x1 := metadata.Clamp(x*2, 0, maxX), metadata.Clamp(x*2+1, 0, maxX)
				at := func(px, py uint32) uint32 {
					return sz*srcLevel.SlicePitch + py*srcLevel.Pitch + px*bpp
				}
				out := z*dstLevel.SlicePitch + y*dstLevel.Pitch + x*bpp
				for c := uint32(0); c < bpp; c++ {
					sum := uint32(src[at(x0, y0)+c]) + uint32(src[at(x1, y0)+c]) +
						uint32(src[at(x0, y1)+c]) + uint32(src[at(x1, y1)+c])
					dst[out+c] = uint8((sum + 2) / 4)
				}
			}
		}
	}
}

// byteChannels reports formats whose channels are all 8 bit wide.
func byteChannels(f metadata.SurfaceFormat) bool {
	switch f {
	case metadata.FormatX8R8G8B8, metadata.FormatA8R8G8B8, metadata.FormatLuminance8,
		metadata.FormatLuminance8A8, metadata.FormatAlpha8:
		return true
	}
	return false
}
