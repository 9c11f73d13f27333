package systems

import (
	"errors"
	"fmt"
	"io"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

// levelAccess is CPU access to one level, either its mirror or a locked object.
type levelAccess struct {
	data       []byte
	pitch      uint32
	slicePitch uint32
	release    func() error
}

/**
 * @brief Gives CPU access to a level. Surfaces without an object and buffers
 * use the mirror; otherwise the bounce object (refreshed from the primary) or
 * the lockable primary is locked. Writes through a bounce are pushed to the
 * primary on release.
 */
func (ss *SurfaceSystem) accessLevel(s *Surface, face, mip uint32, write bool) (levelAccess, error) {
	level, err := s.Level(face, mip)
	if err != nil {
		return levelAccess{}, err
	}
	if !s.HasObject() || s.KeepsMirror() {
		if level.Data == nil {
			level.Allocate()
		}
		return levelAccess{
			data:       level.Data,
			pitch:      level.Pitch,
			slicePitch: level.SlicePitch,
			release: func() error {
				if write {
					level.Dirty = true
				}
				return nil
			},
		}, nil
	}

	if err := ss.fences.FlushForeign(s, s.ContextID); err != nil {
		return levelAccess{}, err
	}
	c, err := ss.table.Context(s.ContextID)
	if err != nil {
		return levelAccess{}, err
	}
	sub := metadata.SubResource{Face: face, Mip: mip}
	box := levelBox(level)
	target := s.Object.Handle
	if s.HasBounce() {
		if err := ss.driver.Copy(c.Device, s.Bounce.Handle, sub, box, s.Object.Handle, sub, box, metadata.FilterNone); err != nil {
			return levelAccess{}, fmt.Errorf("surface %d: copy primary to bounce: %w", s.ID, err)
		}
		target = s.Bounce.Handle
	}
	mode := metadata.LockRead
	if write {
		mode = metadata.LockReadWrite
	}
	m, err := ss.driver.Lock(target, sub, mode)
	if err != nil {
		return levelAccess{}, fmt.Errorf("surface %d: lock face %d mip %d: %w", s.ID, face, mip, err)
	}
	return levelAccess{
		data:       m.Data,
		pitch:      m.Pitch,
		slicePitch: m.SlicePitch,
		release: func() error {
			if err := ss.driver.Unlock(target, sub); err != nil {
				return err
			}
			if !write {
				return nil
			}
			if s.HasBounce() {
				if err := ss.driver.Copy(c.Device, s.Object.Handle, sub, box, s.Bounce.Handle, sub, box, metadata.FilterNone); err != nil {
					return fmt.Errorf("surface %d: copy bounce to primary: %w", s.ID, err)
				}
			}
			return ss.fences.TrackUsage(s, c.ID)
		},
	}, nil
}

// blockRange converts a clipped pixel box to block coordinates.
func blockRange(b metadata.Box, info metadata.FormatInfo) (x, y, w, h uint32) {
	x = b.X / info.BlockWidth
	y = b.Y / info.BlockHeight
	w = (b.X+b.W+info.BlockWidth-1)/info.BlockWidth - x
	h = (b.Y+b.H+info.BlockHeight-1)/info.BlockHeight - y
	return
}

// SurfaceDMA moves the boxes of one level between guest memory and the surface.
func (ss *SurfaceSystem) SurfaceDMA(img metadata.SurfaceImageID, guest metadata.GuestImage, direction metadata.TransferDirection, boxes []metadata.CopyBox) error {
	s, err := ss.table.Surface(img.SID)
	if err != nil {
		return err
	}
	level, err := s.Level(img.Face, img.Mipmap)
	if err != nil {
		return err
	}
	if direction != metadata.TransferWriteHostVRAM && direction != metadata.TransferReadHostVRAM {
		return fmt.Errorf("surface %d: dma direction %d: %w", s.ID, direction, core.ErrInvalidParameter)
	}
	if guest.Memory == nil {
		return fmt.Errorf("surface %d: dma without guest memory: %w", s.ID, core.ErrInvalidParameter)
	}
	if s.Desc.Format.IsYUV() {
		if direction == metadata.TransferReadHostVRAM && ss.Config.DisableYUVReadback {
			core.LogDebug("surface %d: %s dma read back disabled", s.ID, s.Desc.Format)
			return nil
		}
		if direction == metadata.TransferWriteHostVRAM && ss.Config.DisableYUVUpload {
			core.LogDebug("surface %d: %s dma upload disabled", s.ID, s.Desc.Format)
			return nil
		}
	}
	info, err := s.Desc.Format.Info()
	if err != nil {
		return err
	}

	write := direction == metadata.TransferWriteHostVRAM
	acc, err := ss.accessLevel(s, img.Face, img.Mipmap, write)
	if err != nil {
		return err
	}
	var transferErr error
	for _, box := range boxes {
		if transferErr = transferBox(acc, level, info, box, guest, write); transferErr != nil {
			break
		}
	}
	if err := acc.release(); err != nil && transferErr == nil {
		transferErr = err
	}
	if transferErr != nil {
		core.LogError("surface %d: dma: %s", s.ID, transferErr)
	}
	return transferErr
}

func transferBox(acc levelAccess, level *metadata.MipLevel, info metadata.FormatInfo, box metadata.CopyBox, guest metadata.GuestImage, write bool) error {
	dst := box.Dst().Clip(level.Size)
	if dst.Empty() {
		return nil
	}
	bx, by, wb, hb := blockRange(dst, info)
	gx := box.SrcX / info.BlockWidth
	gy := box.SrcY / info.BlockHeight
	pitch := guest.Pitch
	if pitch == 0 {
		pitch = level.Pitch
	}
	slicePitch := guest.SlicePitch
	if slicePitch == 0 {
		slicePitch = pitch * level.BlocksY
	}
	rowBytes := wb * info.BytesPerBlock

	for z := uint32(0); z < dst.D; z++ {
		for row := uint32(0); row < hb; row++ {
			so := (dst.Z+z)*acc.slicePitch + (by+row)*acc.pitch + bx*info.BytesPerBlock
			buf := acc.data[so : so+rowBytes]
			off := guest.Offset + int64(box.SrcZ+z)*int64(slicePitch) + int64(gy+row)*int64(pitch) + int64(gx*info.BytesPerBlock)
			if write {
				n, err := guest.Memory.ReadAt(buf, off)
				if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
					return fmt.Errorf("guest read of %d bytes at %d: %w", len(buf), off, err)
				}
			} else if _, err := guest.Memory.WriteAt(buf, off); err != nil {
				return fmt.Errorf("guest write of %d bytes at %d: %w", len(buf), off, err)
			}
		}
	}
	return nil
}

func sameBlockLayout(a, b metadata.FormatInfo) bool {
	return a.BlockWidth == b.BlockWidth && a.BlockHeight == b.BlockHeight && a.BytesPerBlock == b.BytesPerBlock
}

// SurfaceCopy copies boxes between two levels without scaling.
func (ss *SurfaceSystem) SurfaceCopy(dstImg, srcImg metadata.SurfaceImageID, boxes []metadata.CopyBox) error {
	dst, err := ss.table.Surface(dstImg.SID)
	if err != nil {
		return err
	}
	src, err := ss.table.Surface(srcImg.SID)
	if err != nil {
		return err
	}
	dl, err := dst.Level(dstImg.Face, dstImg.Mipmap)
	if err != nil {
		return err
	}
	sl, err := src.Level(srcImg.Face, srcImg.Mipmap)
	if err != nil {
		return err
	}
	dInfo, err := dst.Desc.Format.Info()
	if err != nil {
		return err
	}
	sInfo, err := src.Desc.Format.Info()
	if err != nil {
		return err
	}
	if !sameBlockLayout(dInfo, sInfo) {
		err := fmt.Errorf("surface copy %d <- %d: %s and %s differ in layout: %w", dst.ID, src.ID, dst.Desc.Format, src.Desc.Format, core.ErrInvalidParameter)
		core.LogError(err.Error())
		return err
	}

	// clip and drop boxes that do nothing
	type pair struct{ d, s metadata.Box }
	var work []pair
	for _, b := range boxes {
		d := b.Dst().Clip(dl.Size)
		sb := b.Src().Clip(sl.Size)
		d.W, d.H, d.D = min(d.W, sb.W), min(d.H, sb.H), min(d.D, sb.D)
		sb.W, sb.H, sb.D = d.W, d.H, d.D
		if d.Empty() {
			continue
		}
		if dstImg == srcImg && d.X == sb.X && d.Y == sb.Y && d.Z == sb.Z {
			continue
		}
		work = append(work, pair{d: d, s: sb})
	}
	if len(work) == 0 {
		return nil
	}

	if src.HasObject() && !dst.HasObject() && !dst.KeepsMirror() && dst.Desc.Flags.Has(metadata.SurfaceHintTexture) {
		if _, err := ss.materializeOn(dst, src.ContextID); err != nil {
			return err
		}
	}

	if src.HasObject() && dst.HasObject() && !src.KeepsMirror() && !dst.KeepsMirror() {
		cid := dst.ContextID
		c, err := ss.table.Context(cid)
		if err != nil {
			return err
		}
		srcObj, err := ss.shared.Get(src, cid)
		if err != nil {
			return err
		}
		if err := ss.fences.FlushForeign(dst, cid); err != nil {
			return err
		}
		dsub := metadata.SubResource{Face: dstImg.Face, Mip: dstImg.Mipmap}
		ssub := metadata.SubResource{Face: srcImg.Face, Mip: srcImg.Mipmap}
		for _, p := range work {
			if err := ss.driver.Copy(c.Device, dst.Object.Handle, dsub, p.d, srcObj, ssub, p.s, metadata.FilterNone); err != nil {
				return fmt.Errorf("surface copy %d <- %d: %w", dst.ID, src.ID, err)
			}
		}
		return ss.fences.TrackUsage(dst, cid)
	}

	// at least one side lives in host memory
	sameLevel := dstImg == srcImg
	da, err := ss.accessLevel(dst, dstImg.Face, dstImg.Mipmap, true)
	if err != nil {
		return err
	}
	sa := da
	if !sameLevel {
		if sa, err = ss.accessLevel(src, srcImg.Face, srcImg.Mipmap, false); err != nil {
			_ = da.release()
			return err
		}
	}
	for _, p := range work {
		dx, dy, w, h := blockRange(p.d, dInfo)
		sx, sy, _, _ := blockRange(p.s, sInfo)
		rowBytes := w * dInfo.BytesPerBlock
		// a destination below its source in the same level is copied bottom up
		backwards := sameLevel && (p.d.Z > p.s.Z || (p.d.Z == p.s.Z && dy > sy))
		for i := uint32(0); i < p.d.D; i++ {
			z := i
			if backwards {
				z = p.d.D - 1 - i
			}
			for j := uint32(0); j < h; j++ {
				row := j
				if backwards {
					row = h - 1 - j
				}
				do := (p.d.Z+z)*da.slicePitch + (dy+row)*da.pitch + dx*dInfo.BytesPerBlock
				so := (p.s.Z+z)*sa.slicePitch + (sy+row)*sa.pitch + sx*sInfo.BytesPerBlock
				copy(da.data[do:do+rowBytes], sa.data[so:so+rowBytes])
			}
		}
	}
	if !sameLevel {
		if err := sa.release(); err != nil {
			_ = da.release()
			return err
		}
	}
	return da.release()
}

// SurfaceStretchBlt copies with scaling on the host. Both surfaces get backend objects.
func (ss *SurfaceSystem) SurfaceStretchBlt(dstImg metadata.SurfaceImageID, dstBox metadata.Box, srcImg metadata.SurfaceImageID, srcBox metadata.Box, mode metadata.StretchBltMode) error {
	dst, err := ss.table.Surface(dstImg.SID)
	if err != nil {
		return err
	}
	src, err := ss.table.Surface(srcImg.SID)
	if err != nil {
		return err
	}
	if dst.KeepsMirror() || src.KeepsMirror() {
		return fmt.Errorf("stretch blt %d <- %d: buffers cannot be blitted: %w", dst.ID, src.ID, core.ErrInvalidParameter)
	}
	if _, err := dst.Level(dstImg.Face, dstImg.Mipmap); err != nil {
		return err
	}
	if _, err := src.Level(srcImg.Face, srcImg.Mipmap); err != nil {
		return err
	}

	hint := dst.ContextID
	if !core.IsValidID(hint) {
		hint = ss.table.LowestContextID()
	}
	if !core.IsValidID(hint) {
		return fmt.Errorf("stretch blt %d <- %d: no live context: %w", dst.ID, src.ID, core.ErrInvalidParameter)
	}
	if _, err := ss.materialize(src, hint); err != nil {
		return err
	}
	if _, err := ss.materializeOn(dst, src.ContextID); err != nil {
		return err
	}
	cid := dst.ContextID
	c, err := ss.table.Context(cid)
	if err != nil {
		return err
	}
	srcObj, err := ss.shared.Get(src, cid)
	if err != nil {
		return err
	}
	if err := ss.fences.FlushForeign(dst, cid); err != nil {
		return err
	}
	filter := metadata.FilterPoint
	if mode == metadata.StretchBltLinear {
		filter = metadata.FilterLinear
	}
	dsub := metadata.SubResource{Face: dstImg.Face, Mip: dstImg.Mipmap}
	ssub := metadata.SubResource{Face: srcImg.Face, Mip: srcImg.Mipmap}
	if err := ss.driver.Copy(c.Device, dst.Object.Handle, dsub, dstBox, srcObj, ssub, srcBox, filter); err != nil {
		err = fmt.Errorf("stretch blt %d <- %d: %w", dst.ID, src.ID, err)
		core.LogError(err.Error())
		return err
	}
	return ss.fences.TrackUsage(dst, cid)
}

// GenerateMipmaps rebuilds the sub levels of sid on the host.
func (ss *SurfaceSystem) GenerateMipmaps(sid uint32, filter metadata.TextureFilter) error {
	s, err := ss.table.Surface(sid)
	if err != nil {
		return err
	}
	if s.KeepsMirror() {
		return fmt.Errorf("surface %d: buffers have no mipmaps: %w", sid, core.ErrInvalidParameter)
	}
	cid := s.ContextID
	if !core.IsValidID(cid) {
		cid = ss.table.LowestContextID()
	}
	m, err := ss.materialize(s, cid)
	if err != nil {
		return err
	}
	if !s.Kind.IsTexture() {
		return fmt.Errorf("surface %d: %s has no mipmaps: %w", sid, s.Kind, core.ErrInvalidParameter)
	}
	c, err := ss.table.Context(m.ContextID)
	if err != nil {
		return err
	}
	s.Desc.AutogenFilter = filter
	if err := ss.driver.GenerateMipmaps(c.Device, s.Object.Handle, filter); err != nil {
		return fmt.Errorf("surface %d: generate mipmaps: %w", sid, err)
	}
	return ss.fences.TrackUsage(s, c.ID)
}
