package vulkan

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/containers"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/platform/window"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

const handleTableBlock = 64
const handleTableMax = 1 << 24

type Config struct {
	AppName string
	/** @brief Enables the validation layer and routes its reports to the log. */
	Debug bool
	/** @brief vkGetInstanceProcAddr as resolved by the window system. */
	ProcAddr unsafe.Pointer
	/** @brief Gives every device its hidden window. Optional. */
	Windows *window.Platform
}

type device struct {
	cid    uint32
	params metadata.DeviceParams
	lost   bool
	vk     *VulkanDevice
	state  *deviceState
}

/**
 * @brief Host driver on top of Vulkan. Every guest context gets its own
 * logical device; objects are linear buffers in host visible memory, copies
 * and clears run on the device queue and event queries are fences. Fixed
 * function state is kept on the host, draws are not translated.
 */
type Driver struct {
	context *VulkanContext
	windows *window.Platform
	locks   *VulkanLockPool

	devices *containers.SlotTable[*device]
	objects *containers.SlotTable[*object]
	queries *containers.SlotTable[*query]
	shaders *containers.SlotTable[*shader]
	decls   *containers.SlotTable[*vertexDecl]
}

func New(cfg Config) (*Driver, error) {
	vc, err := newVulkanContext(cfg.AppName, cfg.Debug, cfg.ProcAddr)
	if err != nil {
		return nil, err
	}
	return &Driver{
		context: vc,
		windows: cfg.Windows,
		locks:   NewVulkanLockPool(),
		devices: containers.NewSlotTable[*device](handleTableBlock, handleTableMax),
		objects: containers.NewSlotTable[*object](handleTableBlock, handleTableMax),
		queries: containers.NewSlotTable[*query](handleTableBlock, handleTableMax),
		shaders: containers.NewSlotTable[*shader](handleTableBlock, handleTableMax),
		decls:   containers.NewSlotTable[*vertexDecl](handleTableBlock, handleTableMax),
	}, nil
}

func (d *Driver) Name() string {
	return "vulkan"
}

// handles are slot ids shifted by one so that zero stays the null handle
func toHandle(id uint32) uint64 {
	return uint64(id) + 1
}

func toID(h uint64) uint32 {
	if h == 0 || h > handleTableMax {
		return core.InvalidID
	}
	return uint32(h - 1)
}

func (d *Driver) device(dev metadata.DeviceHandle) (*device, error) {
	dv, err := d.devices.Lookup(toID(uint64(dev)))
	if err != nil {
		return nil, fmt.Errorf("vulkan driver: unknown device %d: %w", dev, err)
	}
	return dv, nil
}

func (d *Driver) liveDevice(dev metadata.DeviceHandle) (*device, error) {
	dv, err := d.device(dev)
	if err != nil {
		return nil, err
	}
	if dv.lost {
		return nil, fmt.Errorf("vulkan driver: device %d: %w", dev, core.ErrDeviceLost)
	}
	return dv, nil
}

// observe marks dv lost when err says so and passes err through.
func (d *Driver) observe(dv *device, err error) error {
	if err != nil && errors.Is(err, core.ErrDeviceLost) && !dv.lost {
		core.LogWarn("vulkan device of context %d lost", dv.cid)
		dv.lost = true
	}
	return err
}

// submit records work for dv and waits until its queue completed it.
func (d *Driver) submit(dev metadata.DeviceHandle, dv *device, record func(cmd vk.CommandBuffer)) error {
	err := d.locks.SafeQueueCall(uint64(dev), func() error {
		return SubmitSingleUse(d.context, dv.vk, record)
	})
	return d.observe(dv, err)
}

func (d *Driver) CreateDevice(cid uint32, params metadata.DeviceParams) (metadata.DeviceHandle, error) {
	var h metadata.DeviceHandle
	err := d.locks.SafeCall(ResourceManagement, func() error {
		if d.windows != nil {
			if _, err := d.windows.CreateHiddenWindow(context.Background(), cid, params.Width, params.Height); err != nil {
				return err
			}
		}
		vd, err := DeviceCreate(d.context)
		if err != nil {
			d.destroyWindow(cid)
			return err
		}
		id, err := d.devices.Allocate(&device{cid: cid, params: params, vk: vd, state: newDeviceState(params)})
		if err != nil {
			vd.Destroy(d.context)
			d.destroyWindow(cid)
			return err
		}
		h = metadata.DeviceHandle(toHandle(id))
		return nil
	})
	if err != nil {
		return metadata.NullHandle, fmt.Errorf("vulkan driver: create device for context %d: %w", cid, err)
	}
	core.LogDebug("vulkan device %d created for context %d", h, cid)
	return h, nil
}

func (d *Driver) destroyWindow(cid uint32) {
	if d.windows == nil {
		return
	}
	if err := d.windows.DestroyWindow(context.Background(), cid); err != nil {
		core.LogWarn("could not destroy the window of context %d: %s", cid, err)
	}
}

// releaseDeviceObjects frees everything owned by dev. Objects are only
// invalidated when keepHandles is set so stale handles report a reset.
func (d *Driver) releaseDeviceObjects(dev metadata.DeviceHandle, dv *device, keepHandles bool) {
	d.objects.Each(func(id uint32, o *object) bool {
		if o.device != dev {
			return true
		}
		o.release(d.context, dv.vk)
		if keepHandles {
			o.invalid = true
		} else {
			core.LogWarn("vulkan device %d destroyed with live object %d", dev, toHandle(id))
			_ = d.objects.Free(id)
		}
		return true
	})
	d.queries.Each(func(id uint32, q *query) bool {
		if q.device == dev {
			q.fence.FenceDestroy(d.context, dv.vk)
			if !keepHandles {
				_ = d.queries.Free(id)
			}
		}
		return true
	})
}

func (d *Driver) DestroyDevice(dev metadata.DeviceHandle) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.device(dev)
		if err != nil {
			return err
		}
		d.releaseDeviceObjects(dev, dv, false)
		d.shaders.Each(func(id uint32, s *shader) bool {
			if s.device == dev {
				_ = d.shaders.Free(id)
			}
			return true
		})
		d.decls.Each(func(id uint32, v *vertexDecl) bool {
			if v.device == dev {
				_ = d.decls.Free(id)
			}
			return true
		})
		dv.vk.Destroy(d.context)
		d.locks.ForgetQueue(uint64(dev))
		d.destroyWindow(dv.cid)
		return d.devices.Free(toID(uint64(dev)))
	})
}

/**
 * @brief Drops every object of dev that does not survive a reset and restores
 * the default device state. A lost device is recreated, which invalidates
 * all of its objects and rearms its queries.
 */
func (d *Driver) ResetDevice(dev metadata.DeviceHandle, params metadata.DeviceParams) error {
	return d.locks.SafeCall(ResourceManagement, func() error {
		dv, err := d.device(dev)
		if err != nil {
			return err
		}
		if !dv.lost {
			if err := d.observe(dv, dv.vk.WaitIdle()); err != nil && !errors.Is(err, core.ErrDeviceLost) {
				return err
			}
		}

		if dv.lost {
			d.releaseDeviceObjects(dev, dv, true)
			dv.vk.Destroy(d.context)
			vd, err := DeviceCreate(d.context)
			if err != nil {
				return err
			}
			dv.vk = vd
			var rearm error
			d.queries.Each(func(_ uint32, q *query) bool {
				if q.device == dev {
					q.fence, rearm = NewFence(d.context, vd, true)
					q.issued = false
				}
				return rearm == nil
			})
			if rearm != nil {
				return rearm
			}
			core.LogInfo("vulkan device %d of context %d recreated", dev, dv.cid)
		} else {
			d.objects.Each(func(_ uint32, o *object) bool {
				if o.device == dev && !o.survivesReset() {
					o.release(d.context, dv.vk)
					o.invalid = true
				}
				return true
			})
		}
		dv.lost = false
		dv.params = params
		dv.state = newDeviceState(params)
		return nil
	})
}

func (d *Driver) Shutdown() error {
	err := d.locks.SafeCall(ResourceManagement, func() error {
		if n := d.objects.Live(); n > 0 {
			core.LogWarn("vulkan driver shut down with %d live objects", n)
		}
		d.devices.Each(func(id uint32, dv *device) bool {
			dev := metadata.DeviceHandle(toHandle(id))
			d.releaseDeviceObjects(dev, dv, false)
			dv.vk.Destroy(d.context)
			_ = d.devices.Free(id)
			return true
		})
		d.context.Destroy()
		return nil
	})
	if d.windows != nil {
		err = errors.Join(err, d.windows.Shutdown(context.Background()))
	}
	return err
}
