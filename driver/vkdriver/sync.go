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
	"time"

	vk "github.com/vulkan-go/vulkan"

	"goarrg.com/rhi/vkcore/driver"
)

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := result(vk.CreateFence(d.device, &info, nil, &fence)); err != nil {
		return driver.NullFence, err
	}
	return driver.Fence(d.fences.insert(fence)), nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	vk.DestroyFence(d.device, d.fences.remove(uint64(f)), nil)
}

func (d *Device) vkFences(fences []driver.Fence) []vk.Fence {
	vkFences := make([]vk.Fence, len(fences))
	for i, f := range fences {
		vkFences[i] = d.fences.get(uint64(f))
	}
	return vkFences
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	if len(fences) == 0 {
		return nil
	}
	return result(vk.ResetFences(d.device, uint32(len(fences)), d.vkFences(fences)))
}

func (d *Device) GetFenceStatus(f driver.Fence) error {
	return result(vk.GetFenceStatus(d.device, d.fences.get(uint64(f))))
}

func (d *Device) WaitForFences(fences []driver.Fence, waitAll bool, timeout time.Duration) error {
	if len(fences) == 0 {
		return nil
	}
	return result(vk.WaitForFences(d.device, uint32(len(fences)), d.vkFences(fences),
		boolean(waitAll), timeoutNS(int64(timeout))))
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if err := result(vk.CreateSemaphore(d.device, &info, nil, &semaphore)); err != nil {
		return driver.NullSemaphore, err
	}
	return driver.Semaphore(d.semaphores.insert(semaphore)), nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	vk.DestroySemaphore(d.device, d.semaphores.remove(uint64(s)), nil)
}

func (d *Device) CreateTimelineSemaphore(uint64) (driver.Semaphore, error) {
	return driver.NullSemaphore, driver.ErrorFeatureNotPresent
}

func (d *Device) GetSemaphoreValue(driver.Semaphore) (uint64, error) {
	return 0, driver.ErrorFeatureNotPresent
}

func (d *Device) WaitSemaphore(driver.Semaphore, uint64, time.Duration) error {
	return driver.ErrorFeatureNotPresent
}

func (d *Device) SignalSemaphore(driver.Semaphore, uint64) error {
	return driver.ErrorFeatureNotPresent
}

func (d *Device) vkSemaphores(infos []driver.SemaphoreSubmitInfo) ([]vk.Semaphore, []vk.PipelineStageFlags) {
	if len(infos) == 0 {
		return nil, nil
	}
	semaphores := make([]vk.Semaphore, len(infos))
	stages := make([]vk.PipelineStageFlags, len(infos))
	for i, info := range infos {
		if info.Value != 0 {
			logger.EPrintf("Timeline value %d on semaphore %d without timeline semaphore support", info.Value, info.Semaphore)
			panic("Fatal Error")
		}
		semaphores[i] = d.semaphores.get(uint64(info.Semaphore))
		stages[i] = vk.PipelineStageFlags(info.Stage)
	}
	return semaphores, stages
}

func (d *Device) vkFence(f driver.Fence) vk.Fence {
	if f == driver.NullFence {
		return vk.NullFence
	}
	return d.fences.get(uint64(f))
}

func (d *Device) QueueSubmit(q driver.Queue, submits []driver.SubmitInfo, f driver.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		waits, stages := d.vkSemaphores(s.Waits)
		signals, _ := d.vkSemaphores(s.Signals)
		cbs := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, cb := range s.CommandBuffers {
			cbs[j] = d.commandBuffers.get(uint64(cb))
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cbs)),
			PCommandBuffers:      cbs,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	return result(vk.QueueSubmit(d.queues.get(uint64(q)), uint32(len(infos)), infos, d.vkFence(f)))
}

func (d *Device) QueueBindSparse(q driver.Queue, binds []driver.BindSparseInfo, f driver.Fence) error {
	infos := make([]vk.BindSparseInfo, len(binds))
	for i, b := range binds {
		waits, _ := d.vkSemaphores(b.Waits)
		signals, _ := d.vkSemaphores(b.Signals)

		opaque := make([]vk.SparseImageOpaqueMemoryBindInfo, len(b.ImageOpaqueBinds))
		for j, o := range b.ImageOpaqueBinds {
			memBinds := make([]vk.SparseMemoryBind, len(o.Binds))
			for k, mb := range o.Binds {
				memBinds[k] = vk.SparseMemoryBind{
					ResourceOffset: vk.DeviceSize(mb.ResourceOffset),
					Size:           vk.DeviceSize(mb.Size),
					Memory:         d.vkMemory(mb.Memory),
					MemoryOffset:   vk.DeviceSize(mb.MemoryOffset),
				}
			}
			opaque[j] = vk.SparseImageOpaqueMemoryBindInfo{
				Image:     d.images.get(uint64(o.Image)),
				BindCount: uint32(len(memBinds)),
				PBinds:    memBinds,
			}
		}

		images := make([]vk.SparseImageMemoryBindInfo, len(b.ImageBinds))
		for j, ib := range b.ImageBinds {
			imgBinds := make([]vk.SparseImageMemoryBind, len(ib.Binds))
			for k, mb := range ib.Binds {
				imgBinds[k] = vk.SparseImageMemoryBind{
					Subresource: vk.ImageSubresource{
						AspectMask: vk.ImageAspectFlags(mb.Subresource.Aspect),
						MipLevel:   mb.Subresource.MipLevel,
						ArrayLayer: mb.Subresource.ArrayLayer,
					},
					Offset:       vk.Offset3D{X: mb.Offset.X, Y: mb.Offset.Y, Z: mb.Offset.Z},
					Extent:       vk.Extent3D{Width: mb.Extent.X, Height: mb.Extent.Y, Depth: mb.Extent.Z},
					Memory:       d.vkMemory(mb.Memory),
					MemoryOffset: vk.DeviceSize(mb.MemoryOffset),
				}
			}
			images[j] = vk.SparseImageMemoryBindInfo{
				Image:     d.images.get(uint64(ib.Image)),
				BindCount: uint32(len(imgBinds)),
				PBinds:    imgBinds,
			}
		}

		infos[i] = vk.BindSparseInfo{
			SType:                vk.StructureTypeBindSparseInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			ImageOpaqueBindCount: uint32(len(opaque)),
			PImageOpaqueBinds:    opaque,
			ImageBindCount:       uint32(len(images)),
			PImageBinds:          images,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	return result(vk.QueueBindSparse(d.queues.get(uint64(q)), uint32(len(infos)), infos, d.vkFence(f)))
}
