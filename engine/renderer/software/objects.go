package software

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type subresource struct {
	level  metadata.MipLevel
	data   []byte
	locked bool
}

type object struct {
	device  metadata.DeviceHandle
	desc    metadata.ObjectDesc
	info    metadata.FormatInfo
	share   uuid.UUID
	subs    []*subresource
	gen     uint32
	invalid bool
}

// Object handles carry a creation generation above the slot, so a handle kept
// past DestroyObject never resolves to a later object in the same slot.
func objectHandle(id, gen uint32) metadata.ObjectHandle {
	return metadata.ObjectHandle(uint64(gen)<<32 | toHandle(id))
}

func splitObjectHandle(h metadata.ObjectHandle) (id, gen uint32) {
	return toID(uint64(h) & 0xFFFFFFFF), uint32(uint64(h) >> 32)
}

func (o *object) survivesReset() bool {
	if o.desc.Pool == metadata.PoolSystemMem {
		return true
	}
	return o.desc.Usage&(metadata.UsageRenderTarget|metadata.UsageDepthStencil|metadata.UsageDynamic) == 0
}

func (o *object) sub(s metadata.SubResource) (*subresource, error) {
	mips := uint32(len(o.desc.Sizes))
	if s.Face >= o.desc.Faces || s.Mip >= mips {
		return nil, fmt.Errorf("software driver: sub resource %d/%d out of range (faces=%d, mips=%d): %w",
			s.Face, s.Mip, o.desc.Faces, mips, core.ErrInvalidParameter)
	}
	return o.subs[s.Face*mips+s.Mip], nil
}

func (d *Driver) lookupObject(h metadata.ObjectHandle) (uint32, *object, error) {
	id, gen := splitObjectHandle(h)
	o, err := d.objects.Lookup(id)
	if err == nil && o.gen != gen {
		err = core.ErrInvalidID
	}
	if err != nil {
		return 0, nil, fmt.Errorf("software driver: unknown object %d: %w", h, err)
	}
	return id, o, nil
}

func (d *Driver) object(h metadata.ObjectHandle) (*object, error) {
	_, o, err := d.lookupObject(h)
	if err != nil {
		return nil, err
	}
	if o.invalid {
		return nil, fmt.Errorf("software driver: object %d did not survive a device reset: %w", h, core.ErrInvalidID)
	}
	return o, nil
}

func (d *Driver) createObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, err := d.liveDevice(dev); err != nil {
		return metadata.Object{}, err
	}
	if d.failNext > 0 {
		d.failNext--
		return metadata.Object{}, fmt.Errorf("software driver: injected failure creating %s: %w", desc.Kind, core.ErrResourceCreation)
	}
	if d.failUsage != 0 && desc.Usage&d.failUsage != 0 {
		return metadata.Object{}, fmt.Errorf("software driver: usage 0x%x rejected for %s: %w", uint32(desc.Usage), desc.Kind, core.ErrResourceCreation)
	}
	info, err := desc.Format.Info()
	if err != nil {
		return metadata.Object{}, fmt.Errorf("software driver: %s: %w", err, core.ErrResourceCreation)
	}
	if desc.Faces == 0 || len(desc.Sizes) == 0 {
		return metadata.Object{}, fmt.Errorf("software driver: %s without faces or levels: %w", desc.Kind, core.ErrResourceCreation)
	}

	d.objectGen++
	o := &object{
		device: dev,
		desc:   desc,
		info:   info,
		gen:    d.objectGen,
	}
	o.desc.Sizes = append([]metadata.Size3D(nil), desc.Sizes...)
	for face := uint32(0); face < desc.Faces; face++ {
		for _, size := range desc.Sizes {
			level, err := metadata.NewMipLevel(desc.Format, size)
			if err != nil {
				return metadata.Object{}, fmt.Errorf("software driver: %s: %w", err, core.ErrResourceCreation)
			}
			o.subs = append(o.subs, &subresource{level: level, data: make([]byte, level.ByteSize())})
		}
	}
	if desc.Shared {
		o.share = uuid.New()
	}

	id, err := d.objects.Allocate(o)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("software driver: %s: %w", err, core.ErrResourceCreation)
	}
	return metadata.Object{Handle: objectHandle(id, o.gen), ShareHandle: o.share}, nil
}

func (d *Driver) CreateTextureObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if !desc.Kind.IsTexture() {
		return metadata.Object{}, fmt.Errorf("software driver: %s is not a texture kind: %w", desc.Kind, core.ErrInvalidParameter)
	}
	if desc.Kind == metadata.ObjectKindCubeTexture && desc.Faces != metadata.MaxSurfaceFaces {
		return metadata.Object{}, fmt.Errorf("software driver: cube texture with %d faces: %w", desc.Faces, core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) CreateBufferObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if !desc.Kind.IsBuffer() {
		return metadata.Object{}, fmt.Errorf("software driver: %s is not a buffer kind: %w", desc.Kind, core.ErrInvalidParameter)
	}
	if desc.Faces != 1 || len(desc.Sizes) != 1 {
		return metadata.Object{}, fmt.Errorf("software driver: buffers have exactly one face and level: %w", core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) CreateRenderTargetObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if desc.Kind != metadata.ObjectKindSurface {
		return metadata.Object{}, fmt.Errorf("software driver: %s is not a plain surface: %w", desc.Kind, core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) DestroyObject(obj metadata.ObjectHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	id, o, err := d.lookupObject(obj)
	if err != nil {
		return fmt.Errorf("software driver: destroy: %w", err)
	}
	if dv, err := d.device(o.device); err == nil {
		for i := range dv.renderTargets {
			if dv.renderTargets[i].Object == obj {
				dv.renderTargets[i] = renderTargetBinding{}
			}
		}
		for i := range dv.textures {
			if dv.textures[i] == obj {
				dv.textures[i] = metadata.NullHandle
			}
		}
	}
	return d.objects.Free(id)
}

func (d *Driver) Lock(obj metadata.ObjectHandle, s metadata.SubResource, mode metadata.LockMode) (metadata.Mapping, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	o, err := d.object(obj)
	if err != nil {
		return metadata.Mapping{}, err
	}
	if _, err := d.liveDevice(o.device); err != nil {
		return metadata.Mapping{}, err
	}
	if !o.desc.Lockable() {
		return metadata.Mapping{}, fmt.Errorf("software driver: lock %s %d in the default pool: %w", o.desc.Kind, obj, core.ErrNotLockable)
	}
	sub, err := o.sub(s)
	if err != nil {
		return metadata.Mapping{}, err
	}
	if sub.locked {
		return metadata.Mapping{}, fmt.Errorf("software driver: object %d sub resource %d/%d already locked: %w", obj, s.Face, s.Mip, core.ErrInvalidParameter)
	}
	sub.locked = true
	return metadata.Mapping{Data: sub.data, Pitch: sub.level.Pitch, SlicePitch: sub.level.SlicePitch}, nil
}

func (d *Driver) Unlock(obj metadata.ObjectHandle, s metadata.SubResource) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	o, err := d.object(obj)
	if err != nil {
		return err
	}
	sub, err := o.sub(s)
	if err != nil {
		return err
	}
	if !sub.locked {
		return fmt.Errorf("software driver: unlock of object %d sub resource %d/%d that is not locked: %w", obj, s.Face, s.Mip, core.ErrInvalidParameter)
	}
	sub.locked = false
	return nil
}

func (d *Driver) SurvivesReset(obj metadata.ObjectHandle) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	o, err := d.object(obj)
	if err != nil {
		return false
	}
	return o.survivesReset()
}

func sameLayout(a, b metadata.FormatInfo) bool {
	return a.BlockWidth == b.BlockWidth && a.BlockHeight == b.BlockHeight && a.BytesPerBlock == b.BytesPerBlock
}

func (d *Driver) Copy(dev metadata.DeviceHandle, dst metadata.ObjectHandle, dstSub metadata.SubResource, dstBox metadata.Box,
	src metadata.ObjectHandle, srcSub metadata.SubResource, srcBox metadata.Box, filter metadata.Filter) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	dv, err := d.liveDevice(dev)
	if err != nil {
		return err
	}
	do, err := d.object(dst)
	if err != nil {
		return err
	}
	so, err := d.object(src)
	if err != nil {
		return err
	}
	if do.device != dev {
		return fmt.Errorf("software driver: copy destination %d belongs to device %d, not %d: %w", dst, do.device, dev, core.ErrInvalidParameter)
	}
	if so.device != dev && !so.desc.Shared {
		return fmt.Errorf("software driver: copy source %d belongs to device %d and is not shared: %w", src, so.device, core.ErrInvalidParameter)
	}
	if !sameLayout(do.info, so.info) {
		return fmt.Errorf("software driver: copy between %s and %s: %w", so.desc.Format, do.desc.Format, core.ErrInvalidParameter)
	}
	ds, err := do.sub(dstSub)
	if err != nil {
		return err
	}
	ss, err := so.sub(srcSub)
	if err != nil {
		return err
	}
	dstBox = dstBox.Clip(ds.level.Size)
	srcBox = srcBox.Clip(ss.level.Size)
	if dstBox.Empty() || srcBox.Empty() {
		return nil
	}

	if dstBox.W == srcBox.W && dstBox.H == srcBox.H && dstBox.D == srcBox.D {
		copyBlocks(ds, dstBox, ss, srcBox, do.info)
	} else {
		if do.info.BlockWidth != 1 || do.info.BlockHeight != 1 || dstBox.D != srcBox.D {
			return fmt.Errorf("software driver: scaled copy of %s %dx%dx%d to %dx%dx%d: %w", do.desc.Format,
				srcBox.W, srcBox.H, srcBox.D, dstBox.W, dstBox.H, dstBox.D, core.ErrNotImplemented)
		}
		scale(ds, dstBox, ss, srcBox, do.info.BytesPerBlock, filter == metadata.FilterLinear)
	}
	dv.record("copy %d<-%d", dst, src)
	return nil
}

func toBlocks(b metadata.Box, info metadata.FormatInfo) (x, y, w, h uint32) {
	x = b.X / info.BlockWidth
	y = b.Y / info.BlockHeight
	w = (b.X+b.W+info.BlockWidth-1)/info.BlockWidth - x
	h = (b.Y+b.H+info.BlockHeight-1)/info.BlockHeight - y
	return
}

func copyBlocks(dst *subresource, dstBox metadata.Box, src *subresource, srcBox metadata.Box, info metadata.FormatInfo) {
	dx, dy, w, h := toBlocks(dstBox, info)
	sx, sy, _, _ := toBlocks(srcBox, info)
	rowBytes := w * info.BytesPerBlock
	// inside one sub resource a destination below its source is copied bottom up
	backwards := dst == src && (dstBox.Z > srcBox.Z || (dstBox.Z == srcBox.Z && dy > sy))
	for i := uint32(0); i < dstBox.D; i++ {
		z := i
		if backwards {
			z = dstBox.D - 1 - i
		}
		for j := uint32(0); j < h; j++ {
			row := j
			if backwards {
				row = h - 1 - j
			}
			do := (dstBox.Z+z)*dst.level.SlicePitch + (dy+row)*dst.level.Pitch + dx*info.BytesPerBlock
			so := (srcBox.Z+z)*src.level.SlicePitch + (sy+row)*src.level.Pitch + sx*info.BytesPerBlock
			copy(dst.data[do:do+rowBytes], src.data[so:so+rowBytes])
		}
	}
}

// scale resamples per byte channel, which is exact for 8 bit channel formats.
func scale(dst *subresource, dstBox metadata.Box, src *subresource, srcBox metadata.Box, bpp uint32, linear bool) {
	at := func(z, x, y uint32) uint32 {
		return (srcBox.Z+z)*src.level.SlicePitch + (srcBox.Y+y)*src.level.Pitch + (srcBox.X+x)*bpp
	}
	for z := uint32(0); z < dstBox.D; z++ {
		for y := uint32(0); y < dstBox.H; y++ {
			fy := (float32(y)+0.5)*float32(srcBox.H)/float32(dstBox.H) - 0.5
			fy = metadata.Clamp(fy, 0, float32(srcBox.H-1))
			for x := uint32(0); x < dstBox.W; x++ {
				fx := (float32(x)+0.5)*float32(srcBox.W)/float32(dstBox.W) - 0.5
				fx = metadata.Clamp(fx, 0, float32(srcBox.W-1))
				out := (dstBox.Z+z)*dst.level.SlicePitch + (dstBox.Y+y)*dst.level.Pitch + (dstBox.X+x)*bpp
				if !linear {
					in := at(z, uint32(fx+0.5), uint32(fy+0.5))
					copy(dst.data[out:out+bpp], src.data[in:in+bpp])
					continue
				}
				x0, y0 := uint32(fx), uint32(fy)
				x1 := metadata.Clamp(x0+1, 0, srcBox.W-1)
				y1 := metadata.Clamp(y0+1, 0, srcBox.H-1)
				ax, ay := fx-float32(x0), fy-float32(y0)
				p00, p10, p01, p11 := at(z, x0, y0), at(z, x1, y0), at(z, x0, y1), at(z, x1, y1)
				for c := uint32(0); c < bpp; c++ {
					top := float32(src.data[p00+c])*(1-ax) + float32(src.data[p10+c])*ax
					bottom := float32(src.data[p01+c])*(1-ax) + float32(src.data[p11+c])*ax
					v := top*(1-ay) + bottom*ay
					dst.data[out+c] = uint8(metadata.Clamp(v+0.5, 0, 255))
				}
			}
		}
	}
}

// GenerateMipmaps rebuilds every level below the first from its parent.
func (d *Driver) GenerateMipmaps(dev metadata.DeviceHandle, obj metadata.ObjectHandle, filter metadata.TextureFilter) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	dv, err := d.liveDevice(dev)
	if err != nil {
		return err
	}
	o, err := d.object(obj)
	if err != nil {
		return err
	}
	if o.device != dev || !o.desc.Kind.IsTexture() {
		return fmt.Errorf("software driver: generate mipmaps on %s %d: %w", o.desc.Kind, obj, core.ErrInvalidParameter)
	}
	if o.info.BlockWidth != 1 || o.info.BlockHeight != 1 {
		return fmt.Errorf("software driver: generate mipmaps for %s: %w", o.desc.Format, core.ErrNotImplemented)
	}
	mips := uint32(len(o.desc.Sizes))
	linear := filter != metadata.TextureFilterNearest && filter != metadata.TextureFilterNone
	for face := uint32(0); face < o.desc.Faces; face++ {
		for mip := uint32(1); mip < mips; mip++ {
			parent := o.subs[face*mips+mip-1]
			child := o.subs[face*mips+mip]
			ps, cs := parent.level.Size, child.level.Size
			scale(child, metadata.Box{W: cs.Width, H: cs.Height, D: 1}, parent, metadata.Box{W: ps.Width, H: ps.Height, D: 1}, o.info.BytesPerBlock, linear)
		}
	}
	dv.record("mipmaps %d", obj)
	return nil
}
