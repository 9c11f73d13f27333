package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

const hostMemoryFlags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit

const bufferUsageFlags = vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit |
	vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit

/**
 * @brief A buffer in host visible, coherent memory. It stays mapped for its
 * whole life, Data aliases the mapping.
 */
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	Data   []byte
}

func NewHostBuffer(context *VulkanContext, device *VulkanDevice, size uint64) (*VulkanBuffer, error) {
	if size == 0 {
		err := fmt.Errorf("func NewHostBuffer - empty buffer: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	b := &VulkanBuffer{Size: size}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(bufferUsageFlags),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(device.LogicalDevice, &createInfo, context.Allocator, &b.Handle); res != vk.Success {
		return nil, resultError(res, "create buffer")
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device.LogicalDevice, b.Handle, &requirements)
	requirements.Deref()

	index := context.FindMemoryIndex(requirements.MemoryTypeBits, hostMemoryFlags)
	if index < 0 {
		b.Destroy(context, device)
		return nil, fmt.Errorf("vulkan driver: no host visible memory for %d bytes: %w", size, core.ErrResourceCreation)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	if res := vk.AllocateMemory(device.LogicalDevice, &allocateInfo, context.Allocator, &b.Memory); res != vk.Success {
		b.Destroy(context, device)
		return nil, resultError(res, "allocate buffer memory")
	}
	if res := vk.BindBufferMemory(device.LogicalDevice, b.Handle, b.Memory, 0); res != vk.Success {
		b.Destroy(context, device)
		return nil, resultError(res, "bind buffer memory")
	}

	var ptr unsafe.Pointer
	if res := vk.MapMemory(device.LogicalDevice, b.Memory, 0, vk.DeviceSize(size), 0, &ptr); res != vk.Success {
		b.Destroy(context, device)
		return nil, resultError(res, "map buffer memory")
	}
	b.Data = unsafe.Slice((*byte)(ptr), size)
	// fresh objects read as zero like the software host
	clear(b.Data)
	return b, nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext, device *VulkanDevice) {
	if b.Data != nil {
		vk.UnmapMemory(device.LogicalDevice, b.Memory)
		b.Data = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
