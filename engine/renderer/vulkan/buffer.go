package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/core"
)

// VulkanBuffer is a device buffer with its own allocation. The backend only
// needs the vk.Buffer; the memory stays with whoever created it.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
}

// NewTransferBuffer creates a device local buffer usable as copy source,
// copy destination and inline update target.
func NewTransferBuffer(context *VulkanContext, size uint64) (*VulkanBuffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit | vk.BufferUsageStorageBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}
	vb := &VulkanBuffer{Size: size}
	if res := vk.CreateBuffer(context.Device, &bufferInfo, context.Allocator, &vb.Handle); res != vk.Success {
		return nil, resultError("create buffer", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device, vb.Handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex == -1 {
		vk.DestroyBuffer(context.Device, vb.Handle, context.Allocator)
		return nil, fmt.Errorf("vulkan: no device local memory type for a %d byte buffer", size)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(context.Device, &allocateInfo, context.Allocator, &vb.Memory); res != vk.Success {
		vk.DestroyBuffer(context.Device, vb.Handle, context.Allocator)
		return nil, resultError("allocate buffer memory", res)
	}
	if res := vk.BindBufferMemory(context.Device, vb.Handle, vb.Memory, 0); res != vk.Success {
		vb.Destroy(context)
		return nil, resultError("bind buffer memory", res)
	}
	return vb, nil
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	if vb.Memory != nil {
		vk.FreeMemory(context.Device, vb.Memory, context.Allocator)
		vb.Memory = nil
	}
	if vb.Handle != nil {
		vk.DestroyBuffer(context.Device, vb.Handle, context.Allocator)
		vb.Handle = nil
	}
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
