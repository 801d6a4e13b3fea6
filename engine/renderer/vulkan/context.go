package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/core"
)

// VulkanContext is the device the backend records for. It is either handed
// over by a host that already owns a device, or created headless by
// NewHeadlessContext.
type VulkanContext struct {
	Instance         vk.Instance
	PhysicalDevice   vk.PhysicalDevice
	Device           vk.Device
	Queue            vk.Queue
	QueueFamilyIndex uint32
	Allocator        *vk.AllocationCallbacks

	// owned is set when Destroy must release the device and instance.
	owned bool
}

// NewHeadlessContext loads the system Vulkan loader and creates an instance
// and a logical device with a single graphics queue. No surface or swapchain
// is created.
func NewHeadlessContext(appName string) (*VulkanContext, error) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vulkan init: %w", err)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(appName),
		PEngineName:        safeString("Anima Scheduler"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}
	if runtime.GOOS == "darwin" {
		extensions := []string{"VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2"}
		createInfo.Flags |= 1
		createInfo.EnabledExtensionCount = uint32(len(extensions))
		createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	}

	vc := &VulkanContext{owned: true}
	if res := vk.CreateInstance(&createInfo, vc.Allocator, &vc.Instance); res != vk.Success {
		return nil, resultError("create instance", res)
	}
	if err := vk.InitInstance(vc.Instance); err != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if err := vc.selectPhysicalDevice(); err != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		return nil, err
	}
	if err := vc.createDevice(); err != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		return nil, err
	}
	return vc, nil
}

// selectPhysicalDevice picks the first device exposing a graphics queue
// family, preferring discrete GPUs.
func (vc *VulkanContext) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, nil); res != vk.Success {
		return resultError("enumerate physical devices", res)
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, devices); res != vk.Success {
		return resultError("enumerate physical devices", res)
	}

	found := false
	for _, device := range devices {
		family, ok := graphicsQueueFamily(device)
		if !ok {
			continue
		}
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(device, &properties)
		properties.Deref()

		discrete := properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		if found && !discrete {
			continue
		}
		vc.PhysicalDevice = device
		vc.QueueFamilyIndex = family
		found = true

		end := firstZero(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s' (queue family %d).", vk.ToString(properties.DeviceName[:end+1]), family)
		if discrete {
			break
		}
	}
	if !found {
		return fmt.Errorf("no physical device exposes a graphics queue")
	}
	return nil
}

func graphicsQueueFamily(device vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)
	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit > 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func (vc *VulkanContext) createDevice() error {
	queueInfo := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: vc.QueueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	deviceInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfo)),
		PQueueCreateInfos:    queueInfo,
	}
	if res := vk.CreateDevice(vc.PhysicalDevice, &deviceInfo, vc.Allocator, &vc.Device); res != vk.Success {
		return resultError("create logical device", res)
	}
	vk.GetDeviceQueue(vc.Device, vc.QueueFamilyIndex, 0, &vc.Queue)
	core.LogInfo("Logical device created.")
	return nil
}

// Destroy releases the device and instance when this context created them.
// Contexts supplied by a host are left alone.
func (vc *VulkanContext) Destroy() {
	if !vc.owned {
		return
	}
	if vc.Device != nil {
		vk.DeviceWaitIdle(vc.Device)
		vk.DestroyDevice(vc.Device, vc.Allocator)
		vc.Device = nil
	}
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	vc.Queue = nil
	vc.PhysicalDevice = nil
	core.LogInfo("Vulkan device destroyed.")
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

func firstZero(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr) - 1
}
