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

package vkdriver

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
)

func (d *Device) CreateCommandPool(family uint32) (driver.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: family,
	}
	var pool vk.CommandPool
	if err := result(vk.CreateCommandPool(d.device, &info, nil, &pool)); err != nil {
		return 0, err
	}
	return driver.CommandPool(d.commandPools.insert(pool)), nil
}

// DestroyCommandPool also frees every command buffer allocated from the pool.
func (d *Device) DestroyCommandPool(p driver.CommandPool) {
	pool := d.commandPools.remove(uint64(p))
	for id, owner := range d.commandBufferPools {
		if owner == p {
			delete(d.commandBuffers.handles, id)
			delete(d.commandBufferPools, id)
		}
	}
	vk.DestroyCommandPool(d.device, pool, nil)
}

func (d *Device) ResetCommandPool(p driver.CommandPool) error {
	return result(vk.ResetCommandPool(d.device, d.commandPools.get(uint64(p)), 0))
}

func (d *Device) AllocateCommandBuffers(p driver.CommandPool, count int) ([]driver.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPools.get(uint64(p)),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	cbs := make([]vk.CommandBuffer, count)
	if err := result(vk.AllocateCommandBuffers(d.device, &info, cbs)); err != nil {
		return nil, err
	}
	ids := make([]driver.CommandBuffer, count)
	for i, cb := range cbs {
		id := d.commandBuffers.insert(cb)
		d.commandBufferPools[id] = p
		ids[i] = driver.CommandBuffer(id)
	}
	return ids, nil
}

func (d *Device) BeginCommandBuffer(cb driver.CommandBuffer) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return result(vk.BeginCommandBuffer(d.commandBuffers.get(uint64(cb)), &info))
}

func (d *Device) EndCommandBuffer(cb driver.CommandBuffer) error {
	return result(vk.EndCommandBuffer(d.commandBuffers.get(uint64(cb))))
}

func (d *Device) CreateQueryPool(count uint32) (driver.QueryPool, error) {
	info := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: count,
	}
	var pool vk.QueryPool
	if err := result(vk.CreateQueryPool(d.device, &info, nil, &pool)); err != nil {
		return 0, err
	}
	return driver.QueryPool(d.queryPools.insert(pool)), nil
}

func (d *Device) DestroyQueryPool(p driver.QueryPool) {
	vk.DestroyQueryPool(d.device, d.queryPools.remove(uint64(p)), nil)
}

func (d *Device) CmdResetQueryPool(cb driver.CommandBuffer, p driver.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(d.commandBuffers.get(uint64(cb)), d.queryPools.get(uint64(p)), first, count)
}

func (d *Device) CmdWriteTimestamp(cb driver.CommandBuffer, stage driver.PipelineStage, p driver.QueryPool, query uint32) {
	vk.CmdWriteTimestamp(d.commandBuffers.get(uint64(cb)), vk.PipelineStageFlagBits(stage), d.queryPools.get(uint64(p)), query)
}

// GetQueryPoolResults blocks until every query in the range is available.
func (d *Device) GetQueryPoolResults(p driver.QueryPool, first, count uint32) ([]uint64, error) {
	if count == 0 {
		return nil, nil
	}
	data := make([]uint64, count)
	ret := vk.GetQueryPoolResults(d.device, d.queryPools.get(uint64(p)), first, count,
		uint(len(data))*8, unsafe.Pointer(&data[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if err := result(ret); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Device) vkMemory(m driver.DeviceMemory) vk.DeviceMemory {
	if m == driver.NullDeviceMemory {
		return vk.NullDeviceMemory
	}
	return d.memory.get(uint64(m))
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (driver.DeviceMemory, error) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	var mem vk.DeviceMemory
	if err := result(vk.AllocateMemory(d.device, &info, nil, &mem)); err != nil {
		return driver.NullDeviceMemory, err
	}
	return driver.DeviceMemory(d.memory.insert(mem)), nil
}

func (d *Device) FreeMemory(m driver.DeviceMemory) {
	vk.FreeMemory(d.device, d.memory.remove(uint64(m)), nil)
}

func memoryRequirements(reqs vk.MemoryRequirements) driver.MemoryRequirements {
	reqs.Deref()
	return driver.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) CreateBuffer(info driver.BufferCreateInfo) (driver.Buffer, driver.MemoryRequirements, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       vk.BufferUsageFlags(info.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := result(vk.CreateBuffer(d.device, &createInfo, nil, &buffer)); err != nil {
		return 0, driver.MemoryRequirements{}, err
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &reqs)
	return driver.Buffer(d.buffers.insert(buffer)), memoryRequirements(reqs), nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	vk.DestroyBuffer(d.device, d.buffers.remove(uint64(b)), nil)
}

func (d *Device) BindBufferMemory(b driver.Buffer, m driver.DeviceMemory, offset uint64) error {
	return result(vk.BindBufferMemory(d.device, d.buffers.get(uint64(b)), d.memory.get(uint64(m)), vk.DeviceSize(offset)))
}

// CreateImage creates an optimally tiled image, the memory requirements of a
// sparse image describe its sparse pages.
func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, driver.MemoryRequirements, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.X,
			Height: info.Extent.Y,
			Depth:  info.Extent.Z,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if info.Extent.Z > 1 {
		createInfo.ImageType = vk.ImageType3d
	}
	if info.Sparse {
		createInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateSparseBindingBit | vk.ImageCreateSparseResidencyBit)
	}

	var image vk.Image
	if err := result(vk.CreateImage(d.device, &createInfo, nil, &image)); err != nil {
		return 0, driver.MemoryRequirements{}, err
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &reqs)
	return driver.Image(d.images.insert(image)), memoryRequirements(reqs), nil
}

func (d *Device) DestroyImage(i driver.Image) {
	vk.DestroyImage(d.device, d.images.remove(uint64(i)), nil)
}

func (d *Device) BindImageMemory(i driver.Image, m driver.DeviceMemory, offset uint64) error {
	return result(vk.BindImageMemory(d.device, d.images.get(uint64(i)), d.memory.get(uint64(m)), vk.DeviceSize(offset)))
}

// GetImageSparseMemoryRequirements returns the requirements of the color
// aspect, depth and stencil sparse images are not supported.
func (d *Device) GetImageSparseMemoryRequirements(i driver.Image) (driver.SparseImageMemoryRequirements, error) {
	image := d.images.get(uint64(i))
	// the binding takes the count as a one element slice
	count := []uint32{0}
	vk.GetImageSparseMemoryRequirements(d.device, image, count, nil)
	reqs := make([]vk.SparseImageMemoryRequirements, count[0])
	vk.GetImageSparseMemoryRequirements(d.device, image, count, reqs)

	for _, r := range reqs {
		r.Deref()
		r.FormatProperties.Deref()
		r.FormatProperties.ImageGranularity.Deref()
		if vk.ImageAspectFlagBits(r.FormatProperties.AspectMask)&vk.ImageAspectColorBit == 0 {
			continue
		}
		g := r.FormatProperties.ImageGranularity
		return driver.SparseImageMemoryRequirements{
			Aspect:          driver.ImageAspectColor,
			Granularity:     gmath.Extent3u32{X: g.Width, Y: g.Height, Z: g.Depth},
			MipTailFirstLod: r.ImageMipTailFirstLod,
			MipTailSize:     uint64(r.ImageMipTailSize),
			MipTailOffset:   uint64(r.ImageMipTailOffset),
			MipTailStride:   uint64(r.ImageMipTailStride),
			SingleMipTail: vk.SparseImageFormatFlagBits(r.FormatProperties.Flags)&
				vk.SparseImageFormatSingleMiptailBit != 0,
		}, nil
	}
	return driver.SparseImageMemoryRequirements{}, driver.ErrorFormatNotSupported
}
