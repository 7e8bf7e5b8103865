/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package driver defines the hardware boundary consumed by vkcore.

Every GPU object is an opaque non zero integer, zero is the null handle.
Implementations are not required to be thread safe, the core drives them from a
single goroutine.
*/
package driver

import (
	"time"

	"goarrg.com/gmath"
)

type (
	Fence         uint64
	Semaphore     uint64
	Queue         uint64
	CommandPool   uint64
	CommandBuffer uint64
	QueryPool     uint64
	DeviceMemory  uint64
	Buffer        uint64
	Image         uint64
)

const (
	NullFence        Fence        = 0
	NullSemaphore    Semaphore    = 0
	NullDeviceMemory DeviceMemory = 0
)

type QueueFlags uint32

const (
	QueueGraphicsBit QueueFlags = 1 << iota
	QueueComputeBit
	QueueTransferBit
	QueueSparseBindingBit
)

func (f QueueFlags) HasBits(want QueueFlags) bool {
	return (f & want) == want
}

type QueueFamily struct {
	Index      uint32
	Flags      QueueFlags
	QueueCount uint32
}

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
)

func (f MemoryPropertyFlags) HasBits(want MemoryPropertyFlags) bool {
	return (f & want) == want
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type Limits struct {
	MaxImageDimension2D    uint32
	MaxImageDimension3D    uint32
	MaxImageArrayLayers    uint32
	MaxMemoryAllocations   uint32
	BufferImageGranularity uint64
	SparseAddressSpaceSize uint64
	TimestampPeriod        float32
}

type Properties struct {
	DeviceName    string
	VendorID      uint32
	API           uint32
	Limits        Limits
	QueueFamilies []QueueFamily
	MemoryTypes   []MemoryType

	SparseBinding          bool
	SparseResidencyImage2D bool
	TimelineSemaphore      bool
}

type PipelineStage uint64

const (
	PipelineStageNone           PipelineStage = 0
	PipelineStageTopOfPipe      PipelineStage = 0x00000001
	PipelineStageVertexShader   PipelineStage = 0x00000008
	PipelineStageFragmentShader PipelineStage = 0x00000080
	PipelineStageColorOutput    PipelineStage = 0x00000400
	PipelineStageComputeShader  PipelineStage = 0x00000800
	PipelineStageTransfer       PipelineStage = 0x00001000
	PipelineStageBottomOfPipe   PipelineStage = 0x00002000
	PipelineStageAllCommands    PipelineStage = 0x00010000
)

type SemaphoreSubmitInfo struct {
	Semaphore Semaphore
	// Value is the timeline value, zero for binary semaphores.
	Value uint64
	Stage PipelineStage
}

type SubmitInfo struct {
	Waits          []SemaphoreSubmitInfo
	CommandBuffers []CommandBuffer
	Signals        []SemaphoreSubmitInfo
}

type ImageAspectFlags uint32

const (
	ImageAspectColor ImageAspectFlags = 0x1
	ImageAspectDepth ImageAspectFlags = 0x2
)

type ImageSubresource struct {
	Aspect     ImageAspectFlags
	MipLevel   uint32
	ArrayLayer uint32
}

// SparseMemoryBind is an opaque bind, used for the mip tail.
type SparseMemoryBind struct {
	ResourceOffset uint64
	Size           uint64
	Memory         DeviceMemory
	MemoryOffset   uint64
}

type SparseImageMemoryBind struct {
	Subresource  ImageSubresource
	Offset       gmath.Vector3i32
	Extent       gmath.Extent3u32
	Memory       DeviceMemory
	MemoryOffset uint64
}

type SparseImageOpaqueMemoryBindInfo struct {
	Image Image
	Binds []SparseMemoryBind
}

type SparseImageMemoryBindInfo struct {
	Image Image
	Binds []SparseImageMemoryBind
}

type BindSparseInfo struct {
	Waits            []SemaphoreSubmitInfo
	ImageOpaqueBinds []SparseImageOpaqueMemoryBindInfo
	ImageBinds       []SparseImageMemoryBindInfo
	Signals          []SemaphoreSubmitInfo
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type SparseImageMemoryRequirements struct {
	Aspect          ImageAspectFlags
	Granularity     gmath.Extent3u32
	MipTailFirstLod uint32
	MipTailSize     uint64
	MipTailOffset   uint64
	MipTailStride   uint64
	// SingleMipTail is set when the device packs the tail of every array layer into one region.
	SingleMipTail bool
}

type Format uint32

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc ImageUsageFlags = 0x1
	ImageUsageTransferDst ImageUsageFlags = 0x2
	ImageUsageSampled     ImageUsageFlags = 0x4
	ImageUsageStorage     ImageUsageFlags = 0x8
)

type ImageCreateInfo struct {
	Name        string
	Format      Format
	Extent      gmath.Extent3u32
	MipLevels   uint32
	ArrayLayers uint32
	Usage       ImageUsageFlags
	// Sparse requests sparse binding and sparse residency.
	Sparse bool
}

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 0x1
	BufferUsageTransferDst BufferUsageFlags = 0x2
	BufferUsageUniform     BufferUsageFlags = 0x10
	BufferUsageStorage     BufferUsageFlags = 0x20
	BufferUsageIndex       BufferUsageFlags = 0x40
	BufferUsageVertex      BufferUsageFlags = 0x80
)

type BufferCreateInfo struct {
	Name  string
	Size  uint64
	Usage BufferUsageFlags
}

// Infinite may be passed as a timeout to block until the operation completes.
const Infinite time.Duration = -1

type Driver interface {
	Properties() Properties
	GetQueue(family, index uint32) Queue

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(Fence)
	ResetFences(fences []Fence) error
	// GetFenceStatus returns nil when signaled, NotReady when not, or an error.
	GetFenceStatus(Fence) error
	WaitForFences(fences []Fence, waitAll bool, timeout time.Duration) error

	CreateSemaphore() (Semaphore, error)
	CreateTimelineSemaphore(initial uint64) (Semaphore, error)
	DestroySemaphore(Semaphore)
	GetSemaphoreValue(Semaphore) (uint64, error)
	WaitSemaphore(s Semaphore, value uint64, timeout time.Duration) error
	SignalSemaphore(s Semaphore, value uint64) error

	CreateCommandPool(family uint32) (CommandPool, error)
	DestroyCommandPool(CommandPool)
	ResetCommandPool(CommandPool) error
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)
	BeginCommandBuffer(CommandBuffer) error
	EndCommandBuffer(CommandBuffer) error

	CreateQueryPool(count uint32) (QueryPool, error)
	DestroyQueryPool(QueryPool)
	CmdResetQueryPool(cb CommandBuffer, pool QueryPool, first, count uint32)
	CmdWriteTimestamp(cb CommandBuffer, stage PipelineStage, pool QueryPool, query uint32)
	GetQueryPoolResults(pool QueryPool, first, count uint32) ([]uint64, error)

	QueueSubmit(q Queue, submits []SubmitInfo, fence Fence) error
	QueueBindSparse(q Queue, binds []BindSparseInfo, fence Fence) error
	QueueWaitIdle(Queue) error
	DeviceWaitIdle() error

	AllocateMemory(size uint64, memoryTypeIndex uint32) (DeviceMemory, error)
	FreeMemory(DeviceMemory)

	CreateBuffer(BufferCreateInfo) (Buffer, MemoryRequirements, error)
	DestroyBuffer(Buffer)
	BindBufferMemory(b Buffer, mem DeviceMemory, offset uint64) error

	CreateImage(ImageCreateInfo) (Image, MemoryRequirements, error)
	DestroyImage(Image)
	BindImageMemory(img Image, mem DeviceMemory, offset uint64) error
	GetImageSparseMemoryRequirements(Image) (SparseImageMemoryRequirements, error)

	Destroy()
}
