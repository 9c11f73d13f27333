package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

/**
 * @brief Process wide Vulkan state shared by every device: the instance, the
 * selected physical device and its memory layout.
 */
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	debugMessenger vk.DebugReportCallback

	PhysicalDevice   vk.PhysicalDevice
	Properties       vk.PhysicalDeviceProperties
	MemoryProperties vk.PhysicalDeviceMemoryProperties
	// Family used for both graphics and transfer work.
	QueueFamilyIndex uint32
}

func newVulkanContext(appName string, debug bool, procAddr unsafe.Pointer) (*VulkanContext, error) {
	if procAddr == nil {
		err := fmt.Errorf("func newVulkanContext - GetInstanceProcAddress is nil: %w", core.ErrInvalidParameter)
		core.LogError(err.Error())
		return nil, err
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, fmt.Errorf("vulkan driver: init: %s: %w", err, core.ErrNotImplemented)
	}

	vc := &VulkanContext{}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("vmsvga3d"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// devices render offscreen, no surface extension is needed
	extensions := []string{}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1
	}
	layers := []string{}
	if debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = append(layers, "VK_LAYER_KHRONOS_validation")
		if err := requireLayers(layers); err != nil {
			return nil, err
		}
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, vc.Allocator, &vc.Instance); res != vk.Success {
		err := resultError(res, "create instance")
		core.LogError(err.Error())
		return nil, err
	}
	if err := vk.InitInstance(vc.Instance); err != nil {
		core.LogError(err.Error())
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vc.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			vc.debugMessenger = dbg
		}
	}

	if err := vc.selectPhysicalDevice(); err != nil {
		vc.Destroy()
		return nil, err
	}
	return vc, nil
}

func requireLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError(res, "enumerate layers")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError(res, "enumerate layers")
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("vulkan driver: required validation layer %s is missing: %w", name, core.ErrNotImplemented)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

func (vc *VulkanContext) Destroy() {
	if vc.debugMessenger != nil {
		vk.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger, vc.Allocator)
		vc.debugMessenger = nil
	}
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	vc.PhysicalDevice = nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// every bit of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) int32 {
	props := vc.MemoryProperties
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		props.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlagBits(props.MemoryTypes[i].PropertyFlags)
		if typeFilter&(1<<i) != 0 && flags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
