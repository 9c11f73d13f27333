package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, device *VulkanDevice, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{IsSignaled: createSignaled}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	if res := vk.CreateFence(device.LogicalDevice, &fenceCreateInfo, context.Allocator, &fence.Handle); res != vk.Success {
		err := resultError(res, "create fence")
		core.LogError(err.Error())
		return nil, err
	}
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext, device *VulkanDevice) {
	if vf == nil {
		return
	}
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// FenceStatus checks the fence without blocking.
func (vf *VulkanFence) FenceStatus(device *VulkanDevice) (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	switch res := vk.GetFenceStatus(device.LogicalDevice, vf.Handle); res {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError(res, "fence status")
	}
}

func (vf *VulkanFence) FenceWait(device *VulkanDevice, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	res := vk.WaitForFences(device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	if res != vk.Success {
		err := resultError(res, "wait for fence")
		core.LogWarn(err.Error())
		return err
	}
	vf.IsSignaled = true
	return nil
}

func (vf *VulkanFence) FenceReset(device *VulkanDevice) error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return resultError(res, "reset fence")
	}
	vf.IsSignaled = false
	return nil
}
