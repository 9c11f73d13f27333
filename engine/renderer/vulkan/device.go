package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

/** @brief One logical device with its queue and command pool, created per guest context. */
type VulkanDevice struct {
	LogicalDevice vk.Device
	Queue         vk.Queue
	CommandPool   vk.CommandPool
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics    bool
	Transfer    bool
	DiscreteGPU bool
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "unknown"
}

// selectPhysicalDevice prefers a discrete GPU and falls back to the first
// device with a queue family that does graphics and transfer work.
func (vc *VulkanContext) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, nil); res != vk.Success {
		return resultError(res, "enumerate physical devices")
	}
	if count == 0 {
		err := fmt.Errorf("vulkan driver: no devices which support Vulkan were found: %w", core.ErrNotImplemented)
		core.LogError(err.Error())
		return err
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, devices); res != vk.Success {
		return resultError(res, "enumerate physical devices")
	}

	for _, discrete := range []bool{true, false} {
		requirements := VulkanPhysicalDeviceRequirements{Graphics: true, Transfer: true, DiscreteGPU: discrete}
		for _, pd := range devices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()

			family, ok := physicalDeviceMeetsRequirements(pd, &properties, &requirements)
			if !ok {
				continue
			}
			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
			memory.Deref()

			vc.PhysicalDevice = pd
			vc.Properties = properties
			vc.MemoryProperties = memory
			vc.QueueFamilyIndex = family
			core.LogInfo("Selected %s device '%s', Vulkan API %d.%d.%d",
				deviceTypeName(properties.DeviceType),
				cString(properties.DeviceName[:]),
				vk.Version(properties.ApiVersion).Major(),
				vk.Version(properties.ApiVersion).Minor(),
				vk.Version(properties.ApiVersion).Patch())
			return nil
		}
	}
	err := fmt.Errorf("vulkan driver: no physical device meets the requirements: %w", core.ErrNotImplemented)
	core.LogError(err.Error())
	return err
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (uint32, bool) {
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		return 0, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	var want vk.QueueFlagBits
	if requirements.Graphics {
		want |= vk.QueueGraphicsBit
	}
	if requirements.Transfer {
		want |= vk.QueueTransferBit
	}
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		// graphics queues implicitly support transfer
		if flags&vk.QueueGraphicsBit != 0 {
			flags |= vk.QueueTransferBit
		}
		if flags&want == want {
			core.LogDebug("device '%s' queue family %d meets the requirements", cString(properties.DeviceName[:]), i)
			return uint32(i), true
		}
	}
	return 0, false
}

func DeviceCreate(context *VulkanContext) (*VulkanDevice, error) {
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: context.QueueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{{}},
	}

	device := &VulkanDevice{}
	if res := vk.CreateDevice(context.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice); res != vk.Success {
		err := resultError(res, "create logical device")
		core.LogError(err.Error())
		return nil, err
	}
	vk.GetDeviceQueue(device.LogicalDevice, context.QueueFamilyIndex, 0, &device.Queue)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: context.QueueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit | vk.CommandPoolCreateTransientBit),
	}
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &device.CommandPool); res != vk.Success {
		err := resultError(res, "create command pool")
		core.LogError(err.Error())
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		return nil, err
	}
	return device, nil
}

// WaitIdle blocks until the queue drained. A lost device reports core.ErrDeviceLost.
func (d *VulkanDevice) WaitIdle() error {
	return resultError(vk.DeviceWaitIdle(d.LogicalDevice), "wait for device idle")
}

func (d *VulkanDevice) Destroy(context *VulkanContext) {
	if d.LogicalDevice == nil {
		return
	}
	// a lost device cannot drain, destruction proceeds regardless
	_ = d.WaitIdle()
	if d.CommandPool != nil {
		vk.DestroyCommandPool(d.LogicalDevice, d.CommandPool, context.Allocator)
		d.CommandPool = nil
	}
	vk.DestroyDevice(d.LogicalDevice, context.Allocator)
	d.LogicalDevice = nil
	d.Queue = nil
}
