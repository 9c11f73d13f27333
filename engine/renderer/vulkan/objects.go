package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

type object struct {
	device  metadata.DeviceHandle
	desc    metadata.ObjectDesc
	info    metadata.FormatInfo
	share   uuid.UUID
	layout  objectLayout
	buffer  *VulkanBuffer
	locked  []bool
	invalid bool
}

func (o *object) survivesReset() bool {
	if o.desc.Pool == metadata.PoolSystemMem {
		return true
	}
	return o.desc.Usage&(metadata.UsageRenderTarget|metadata.UsageDepthStencil|metadata.UsageDynamic) == 0
}

func (o *object) release(context *VulkanContext, device *VulkanDevice) {
	if o.buffer != nil {
		o.buffer.Destroy(context, device)
		o.buffer = nil
	}
}

func (o *object) sub(s metadata.SubResource) (int, error) {
	return o.layout.index(o.desc.Faces, uint32(len(o.desc.Sizes)), s)
}

// bytes returns the mapped range of sub resource i.
func (o *object) bytes(i int) []byte {
	off := o.layout.offsets[i]
	return o.buffer.Data[off : off+uint64(o.layout.levels[i].ByteSize())]
}

func (d *Driver) object(h metadata.ObjectHandle) (*object, error) {
	o, err := d.objects.Lookup(toID(uint64(h)))
	if err != nil {
		return nil, fmt.Errorf("vulkan driver: unknown object %d: %w", h, err)
	}
	if o.invalid {
		return nil, fmt.Errorf("vulkan driver: object %d did not survive a device reset: %w", h, core.ErrInvalidID)
	}
	return o, nil
}

func (d *Driver) createObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	var out metadata.Object
	err := d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.liveDevice(dev)
		if err != nil {
			return err
		}
		info, err := desc.Format.Info()
		if err != nil {
			return fmt.Errorf("vulkan driver: %s: %w", err, core.ErrResourceCreation)
		}
		layout, err := newObjectLayout(desc)
		if err != nil {
			return err
		}
		buffer, err := NewHostBuffer(d.context, dv.vk, layout.size)
		if err != nil {
			return d.observe(dv, err)
		}

		o := &object{
			device: dev,
			desc:   desc,
			info:   info,
			layout: layout,
			buffer: buffer,
			locked: make([]bool, len(layout.levels)),
		}
		o.desc.Sizes = append([]metadata.Size3D(nil), desc.Sizes...)
		if desc.Shared {
			o.share = uuid.New()
		}
		id, err := d.objects.Allocate(o)
		if err != nil {
			buffer.Destroy(d.context, dv.vk)
			return fmt.Errorf("vulkan driver: %s: %w", err, core.ErrResourceCreation)
		}
		out = metadata.Object{Handle: metadata.ObjectHandle(toHandle(id)), ShareHandle: o.share}
		return nil
	})
	return out, err
}

func (d *Driver) CreateTextureObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if !desc.Kind.IsTexture() {
		return metadata.Object{}, fmt.Errorf("vulkan driver: %s is not a texture kind: %w", desc.Kind, core.ErrInvalidParameter)
	}
	if desc.Kind == metadata.ObjectKindCubeTexture && desc.Faces != metadata.MaxSurfaceFaces {
		return metadata.Object{}, fmt.Errorf("vulkan driver: cube texture with %d faces: %w", desc.Faces, core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) CreateBufferObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if !desc.Kind.IsBuffer() {
		return metadata.Object{}, fmt.Errorf("vulkan driver: %s is not a buffer kind: %w", desc.Kind, core.ErrInvalidParameter)
	}
	if desc.Faces != 1 || len(desc.Sizes) != 1 {
		return metadata.Object{}, fmt.Errorf("vulkan driver: buffers have exactly one face and level: %w", core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) CreateRenderTargetObject(dev metadata.DeviceHandle, desc metadata.ObjectDesc) (metadata.Object, error) {
	if desc.Kind != metadata.ObjectKindSurface {
		return metadata.Object{}, fmt.Errorf("vulkan driver: %s is not a plain surface: %w", desc.Kind, core.ErrInvalidParameter)
	}
	return d.createObject(dev, desc)
}

func (d *Driver) DestroyObject(obj metadata.ObjectHandle) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		id := toID(uint64(obj))
		o, err := d.objects.Lookup(id)
		if err != nil {
			return fmt.Errorf("vulkan driver: destroy object %d: %w", obj, err)
		}
		if dv, err := d.device(o.device); err == nil {
			if !dv.lost {
				// the queue may still read the buffer
				_ = d.observe(dv, dv.vk.WaitIdle())
			}
			o.release(d.context, dv.vk)
			dv.state.unbind(obj)
		}
		return d.objects.Free(id)
	})
}

func (d *Driver) Lock(obj metadata.ObjectHandle, s metadata.SubResource, mode metadata.LockMode) (metadata.Mapping, error) {
	var m metadata.Mapping
	err := d.locks.SafeCall(ResourceManagement, func() error {
		o, err := d.object(obj)
		if err != nil {
			return err
		}
		if _, err := d.liveDevice(o.device); err != nil {
			return err
		}
		if !o.desc.Lockable() {
			return fmt.Errorf("vulkan driver: lock %s %d in the default pool: %w", o.desc.Kind, obj, core.ErrNotLockable)
		}
		i, err := o.sub(s)
		if err != nil {
			return err
		}
		if o.locked[i] {
			return fmt.Errorf("vulkan driver: object %d sub resource %d/%d already locked: %w", obj, s.Face, s.Mip, core.ErrInvalidParameter)
		}
		o.locked[i] = true
		level := o.layout.levels[i]
		m = metadata.Mapping{Data: o.bytes(i), Pitch: level.Pitch, SlicePitch: level.SlicePitch}
		return nil
	})
	return m, err
}

func (d *Driver) Unlock(obj metadata.ObjectHandle, s metadata.SubResource) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		o, err := d.object(obj)
		if err != nil {
			return err
		}
		i, err := o.sub(s)
		if err != nil {
			return err
		}
		if !o.locked[i] {
			return fmt.Errorf("vulkan driver: unlock of object %d sub resource %d/%d that is not locked: %w", obj, s.Face, s.Mip, core.ErrInvalidParameter)
		}
		o.locked[i] = false
		return nil
	})
}

func (d *Driver) SurvivesReset(obj metadata.ObjectHandle) bool {
	survives := false
	_ = d.locks.SafeCall(ResourceManagement, func() error {
		o, err := d.object(obj)
		if err != nil {
			return err
		}
		survives = o.survivesReset()
		return nil
	})
	return survives
}

func sameLayout(a, b metadata.FormatInfo) bool {
	return a.BlockWidth == b.BlockWidth && a.BlockHeight == b.BlockHeight && a.BytesPerBlock == b.BytesPerBlock
}

/**
 * @brief Copies between two sub resources. Copies inside one device run on its
 * queue; a shared source of another device is read through its mapping once
 * that device drained. Scaled copies are not supported.
 */
func (d *Driver) Copy(dev metadata.DeviceHandle, dst metadata.ObjectHandle, dstSub metadata.SubResource, dstBox metadata.Box,
	src metadata.ObjectHandle, srcSub metadata.SubResource, srcBox metadata.Box, filter metadata.Filter) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
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
			return fmt.Errorf("vulkan driver: copy destination %d belongs to device %d, not %d: %w", dst, do.device, dev, core.ErrInvalidParameter)
		}
		if so.device != dev && !so.desc.Shared {
			return fmt.Errorf("vulkan driver: copy source %d belongs to device %d and is not shared: %w", src, so.device, core.ErrInvalidParameter)
		}
		if !sameLayout(do.info, so.info) {
			return fmt.Errorf("vulkan driver: copy between %s and %s: %w", so.desc.Format, do.desc.Format, core.ErrInvalidParameter)
		}
		di, err := do.sub(dstSub)
		if err != nil {
			return err
		}
		si, err := so.sub(srcSub)
		if err != nil {
			return err
		}
		dl, sl := do.layout.levels[di], so.layout.levels[si]
		dstBox = dstBox.Clip(dl.Size)
		srcBox = srcBox.Clip(sl.Size)
		if dstBox.Empty() || srcBox.Empty() {
			return nil
		}
		if dstBox.W != srcBox.W || dstBox.H != srcBox.H || dstBox.D != srcBox.D {
			return fmt.Errorf("vulkan driver: scaled copy %dx%d to %dx%d: %w", srcBox.W, srcBox.H, dstBox.W, dstBox.H, core.ErrNotImplemented)
		}

		regions := copyRegions(dl, do.layout.offsets[di], dstBox, sl, so.layout.offsets[si], srcBox, do.info)
		if do == so {
			// CmdCopyBuffer regions must not overlap
			if err := d.observe(dv, dv.vk.WaitIdle()); err != nil {
				return err
			}
			applyRegions(do.buffer.Data, so.buffer.Data, regions)
			return nil
		}
		if so.device == dev {
			return d.submit(dev, dv, func(cmd vk.CommandBuffer) {
				vk.CmdCopyBuffer(cmd, so.buffer.Handle, do.buffer.Handle, uint32(len(regions)), regions)
			})
		}

		sv, err := d.liveDevice(so.device)
		if err != nil {
			return err
		}
		if err := d.observe(sv, sv.vk.WaitIdle()); err != nil {
			return err
		}
		if err := d.observe(dv, dv.vk.WaitIdle()); err != nil {
			return err
		}
		applyRegions(do.buffer.Data, so.buffer.Data, regions)
		return nil
	})
}

// GenerateMipmaps box filters level 0 of every face down the chain on the host.
func (d *Driver) GenerateMipmaps(dev metadata.DeviceHandle, obj metadata.ObjectHandle, filter metadata.TextureFilter) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.liveDevice(dev)
		if err != nil {
			return err
		}
		o, err := d.object(obj)
		if err != nil {
			return err
		}
		if o.device != dev {
			return fmt.Errorf("vulkan driver: object %d belongs to device %d, not %d: %w", obj, o.device, dev, core.ErrInvalidParameter)
		}
		if !byteChannels(o.desc.Format) {
			return fmt.Errorf("vulkan driver: mipmap generation for %s: %w", o.desc.Format, core.ErrNotImplemented)
		}
		if err := d.observe(dv, dv.vk.WaitIdle()); err != nil {
			return err
		}
		mips := uint32(len(o.desc.Sizes))
		for face := uint32(0); face < o.desc.Faces; face++ {
			for mip := uint32(1); mip < mips; mip++ {
				si, di := int(face*mips+mip-1), int(face*mips+mip)
				downsample(o.bytes(di), o.layout.levels[di], o.bytes(si), o.layout.levels[si], o.info.BytesPerBlock)
			}
		}
		return nil
	})
}
