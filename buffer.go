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

package vkcore

import (
	"strings"

	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/memalloc"
)

func bufferUsageString(u driver.BufferUsageFlags) string {
	str := ""
	if hasBits(u, driver.BufferUsageTransferSrc) {
		str += "TransferSrc|"
	}
	if hasBits(u, driver.BufferUsageTransferDst) {
		str += "TransferDst|"
	}
	if hasBits(u, driver.BufferUsageUniform) {
		str += "UniformBuffer|"
	}
	if hasBits(u, driver.BufferUsageStorage) {
		str += "StorageBuffer|"
	}
	if hasBits(u, driver.BufferUsageIndex) {
		str += "IndexBuffer|"
	}
	if hasBits(u, driver.BufferUsageVertex) {
		str += "VertexBuffer|"
	}
	return strings.TrimSuffix(str, "|")
}

type Buffer struct {
	buffer driver.Buffer
	info   driver.BufferCreateInfo
	alloc  memalloc.Allocation
}

func (b *Buffer) Handle() driver.Buffer {
	return b.buffer
}

func (b *Buffer) Size() uint64 {
	return b.info.Size
}

func (b *Buffer) Usage() driver.BufferUsageFlags {
	return b.info.Usage
}

// Memory returns the memory the buffer is bound to and the offset into it.
func (b *Buffer) Memory() (driver.DeviceMemory, uint64) {
	return b.alloc.Memory, b.alloc.Offset
}

// CreateBuffer creates a buffer bound to memory with every flag in required.
func (d *Device) CreateBuffer(info driver.BufferCreateInfo, required driver.MemoryPropertyFlags) (Handle, error) {
	d.noCopy.Check()
	if err := d.usable(); err != nil {
		return InvalidHandle, err
	}
	if info.Size == 0 {
		return InvalidHandle, debug.Errorf("Buffer %q has zero size", info.Name)
	}

	buffer, reqs, err := d.drv.CreateBuffer(info)
	if err != nil {
		return InvalidHandle, d.wrapResult(err, "Failed to create buffer %q", info.Name)
	}
	alloc, err := d.allocator.Allocate(reqs, required)
	if err != nil {
		d.drv.DestroyBuffer(buffer)
		return InvalidHandle, d.wrapResult(err, "Failed to allocate %d bytes for buffer %q", reqs.Size, info.Name)
	}
	if err := d.drv.BindBufferMemory(buffer, alloc.Memory, alloc.Offset); err != nil {
		d.drv.DestroyBuffer(buffer)
		if err := d.allocator.Free(alloc); err != nil {
			instance.logger.WPrintf("%v", err)
		}
		return InvalidHandle, d.wrapResult(err, "Failed to bind memory to buffer %q", info.Name)
	}

	instance.logger.VPrintf("Created buffer %q size: %d usage: %s", info.Name, info.Size, bufferUsageString(info.Usage))
	return d.buffers.Insert(Buffer{buffer: buffer, info: info, alloc: alloc}), nil
}

// Buffer returns nil for a handle that was destroyed.
func (d *Device) Buffer(h Handle) *Buffer {
	d.noCopy.Check()
	return d.buffers.Get(h)
}

func (d *Device) RetainBuffer(h Handle) {
	d.noCopy.Check()
	d.buffers.Retain(h)
}

// ReleaseBuffer drops a reference, the last one destroys the buffer as
// DestroyBuffer does.
func (d *Device) ReleaseBuffer(h Handle) {
	d.noCopy.Check()
	d.buffers.Release(h)
}

// DestroyBuffer frees the handle now, the buffer and its memory are destroyed
// once every frame submitted so far retired.
func (d *Device) DestroyBuffer(h Handle) {
	d.noCopy.Check()
	if !d.buffers.Delete(h) {
		abort("DestroyBuffer on dead handle %s", h)
	}
}

func (d *Device) destroyBuffer(b *Buffer) {
	buffer, alloc, name := b.buffer, b.alloc, b.info.Name
	d.deletionSlot().deletion.push(DestroyFunc(func() {
		d.drv.DestroyBuffer(buffer)
		if err := d.allocator.Free(alloc); err != nil {
			instance.logger.WPrintf("Failed to free memory of buffer %q: %v", name, err)
		}
		instance.logger.VPrintf("Destroyed buffer %q", name)
	}))
}
