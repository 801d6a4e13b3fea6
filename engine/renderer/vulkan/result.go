package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/renderer"
)

var resultNames = map[vk.Result]string{
	vk.Success:                   "VK_SUCCESS",
	vk.NotReady:                  "VK_NOT_READY",
	vk.Timeout:                   "VK_TIMEOUT",
	vk.Incomplete:                "VK_INCOMPLETE",
	vk.ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	vk.ErrorLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorUnknown:              "VK_ERROR_UNKNOWN",
}

// ResultString returns the C enumerant name of res.
func ResultString(res vk.Result) string {
	if n, ok := resultNames[res]; ok {
		return n
	}
	return fmt.Sprintf("VkResult(%d)", int32(res))
}

// resultError turns a failed VkResult into an error. Device loss and
// timeouts map onto the renderer sentinels so callers can test for them.
func resultError(op string, res vk.Result) error {
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorDeviceLost:
		return fmt.Errorf("vulkan: %s: %w", op, renderer.ErrDeviceLost)
	case vk.Timeout:
		return fmt.Errorf("vulkan: %s: %w", op, renderer.ErrFenceTimeout)
	}
	return fmt.Errorf("vulkan: %s failed with %s", op, ResultString(res))
}
