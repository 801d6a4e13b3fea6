package vulkan

import (
	"context"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/renderer"
)

// fenceWaitSlice bounds a single vkWaitForFences call so cancellation of the
// caller's context is noticed.
const fenceWaitSlice = 10 * time.Millisecond

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{IsSignaled: createSignaled}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, resultError("create fence", res)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence is signaled, timeout passes or ctx is done.
// A timeout of zero waits without bound.
func (vf *VulkanFence) Wait(ctx context.Context, vc *VulkanContext, timeout time.Duration) error {
	if vf.IsSignaled {
		return nil
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		slice := fenceWaitSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return renderer.ErrFenceTimeout
			}
			slice = min(slice, remaining)
		}
		switch res := vk.WaitForFences(vc.Device, 1, []vk.Fence{vf.Handle}, vk.True, uint64(slice.Nanoseconds())); res {
		case vk.Success:
			vf.IsSignaled = true
			return nil
		case vk.Timeout:
			continue
		default:
			return resultError("wait for fence", res)
		}
	}
}

func (vf *VulkanFence) Reset(vc *VulkanContext) error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(vc.Device, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return resultError("reset fence", res)
	}
	vf.IsSignaled = false
	return nil
}
