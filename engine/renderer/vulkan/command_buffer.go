package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// How long a single use submission may take before the device is treated as hung.
const singleUseTimeoutNs uint64 = 5_000_000_000

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
}

func NewVulkanCommandBuffer(device *VulkanDevice) (*VulkanCommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        device.CommandPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := resultError(res, "allocate command buffer")
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandBuffer{Handle: handles[0], State: COMMAND_BUFFER_STATE_READY}, nil
}

func (v *VulkanCommandBuffer) Free(device *VulkanDevice) {
	vk.FreeCommandBuffers(device.LogicalDevice, device.CommandPool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return resultError(res, "begin command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError(res, "end command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

/**
 * @brief Allocates a command buffer, records into it with record, submits it
 * and waits on a fence until the queue finished it.
 */
func SubmitSingleUse(context *VulkanContext, device *VulkanDevice, record func(cmd vk.CommandBuffer)) error {
	cb, err := NewVulkanCommandBuffer(device)
	if err != nil {
		return err
	}
	defer cb.Free(device)

	if err := cb.Begin(true); err != nil {
		return err
	}
	record(cb.Handle)
	if err := cb.End(); err != nil {
		return err
	}

	fence, err := NewFence(context, device, false)
	if err != nil {
		return err
	}
	defer fence.FenceDestroy(context, device)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if res := vk.QueueSubmit(device.Queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
		return resultError(res, "submit command buffer")
	}
	cb.State = COMMAND_BUFFER_STATE_SUBMITTED
	return fence.FenceWait(device, singleUseTimeoutNs)
}
