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

package simdriver

import (
	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
)

func (d *Device) CreateCommandPool(family uint32) (driver.CommandPool, error) {
	if err := d.fault("CreateCommandPool"); err != nil {
		return 0, err
	}
	h := driver.CommandPool(d.id())
	d.pools[h] = &commandPool{family: family}
	return h, nil
}

func (d *Device) DestroyCommandPool(p driver.CommandPool) {
	pool, ok := d.pools[p]
	if !ok {
		d.violation("DestroyCommandPool: unknown pool %d", p)
		return
	}
	for _, cb := range pool.buffers {
		if d.cbs[cb].inFlight > 0 {
			d.violation("DestroyCommandPool: command buffer %d is in flight", cb)
		}
		delete(d.cbs, cb)
	}
	delete(d.pools, p)
}

func (d *Device) ResetCommandPool(p driver.CommandPool) error {
	if err := d.fault("ResetCommandPool"); err != nil {
		return err
	}
	pool, ok := d.pools[p]
	if !ok {
		d.violation("ResetCommandPool: unknown pool %d", p)
		return driver.ErrorUnknown
	}
	for _, cb := range pool.buffers {
		c := d.cbs[cb]
		if c.inFlight > 0 {
			d.violation("ResetCommandPool: command buffer %d is in flight", cb)
		}
		c.recording = false
		c.ops = nil
	}
	return nil
}

func (d *Device) AllocateCommandBuffers(p driver.CommandPool, count int) ([]driver.CommandBuffer, error) {
	if err := d.fault("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	pool, ok := d.pools[p]
	if !ok {
		d.violation("AllocateCommandBuffers: unknown pool %d", p)
		return nil, driver.ErrorUnknown
	}
	out := make([]driver.CommandBuffer, count)
	for i := range out {
		h := driver.CommandBuffer(d.id())
		d.cbs[h] = &commandBuffer{pool: p}
		pool.buffers = append(pool.buffers, h)
		out[i] = h
	}
	return out, nil
}

func (d *Device) BeginCommandBuffer(cb driver.CommandBuffer) error {
	if err := d.fault("BeginCommandBuffer"); err != nil {
		return err
	}
	c, ok := d.cbs[cb]
	if !ok {
		d.violation("BeginCommandBuffer: unknown command buffer %d", cb)
		return driver.ErrorUnknown
	}
	if c.inFlight > 0 {
		d.violation("BeginCommandBuffer: command buffer %d is in flight", cb)
	}
	c.recording = true
	c.ops = nil
	return nil
}

func (d *Device) EndCommandBuffer(cb driver.CommandBuffer) error {
	if err := d.fault("EndCommandBuffer"); err != nil {
		return err
	}
	c, ok := d.cbs[cb]
	if !ok {
		d.violation("EndCommandBuffer: unknown command buffer %d", cb)
		return driver.ErrorUnknown
	}
	if !c.recording {
		d.violation("EndCommandBuffer: command buffer %d is not recording", cb)
	}
	c.recording = false
	return nil
}

func (d *Device) recording(op string, cb driver.CommandBuffer) *commandBuffer {
	c, ok := d.cbs[cb]
	if !ok {
		d.violation("%s: unknown command buffer %d", op, cb)
		return nil
	}
	if !c.recording {
		d.violation("%s: command buffer %d is not recording", op, cb)
		return nil
	}
	return c
}

func (d *Device) CreateQueryPool(count uint32) (driver.QueryPool, error) {
	if err := d.fault("CreateQueryPool"); err != nil {
		return 0, err
	}
	h := driver.QueryPool(d.id())
	d.queries[h] = &queryPool{values: make([]uint64, count), valid: make([]bool, count)}
	return h, nil
}

func (d *Device) DestroyQueryPool(p driver.QueryPool) {
	if _, ok := d.queries[p]; !ok {
		d.violation("DestroyQueryPool: unknown pool %d", p)
		return
	}
	delete(d.queries, p)
}

func (d *Device) CmdResetQueryPool(cb driver.CommandBuffer, p driver.QueryPool, first, count uint32) {
	c := d.recording("CmdResetQueryPool", cb)
	if c == nil {
		return
	}
	c.ops = append(c.ops, func() {
		if q, ok := d.queries[p]; ok {
			for i := first; i < first+count && int(i) < len(q.valid); i++ {
				q.valid[i] = false
				q.values[i] = 0
			}
		}
	})
}

func (d *Device) CmdWriteTimestamp(cb driver.CommandBuffer, stage driver.PipelineStage, p driver.QueryPool, query uint32) {
	c := d.recording("CmdWriteTimestamp", cb)
	if c == nil {
		return
	}
	c.ops = append(c.ops, func() {
		q, ok := d.queries[p]
		if !ok || int(query) >= len(q.values) {
			d.violation("CmdWriteTimestamp: query %d out of range", query)
			return
		}
		if q.valid[query] {
			d.violation("CmdWriteTimestamp: query %d written without a reset", query)
		}
		d.clock++
		q.values[query] = d.clock
		q.valid[query] = true
	})
}

func (d *Device) GetQueryPoolResults(p driver.QueryPool, first, count uint32) ([]uint64, error) {
	if err := d.fault("GetQueryPoolResults"); err != nil {
		return nil, err
	}
	q, ok := d.queries[p]
	if !ok {
		d.violation("GetQueryPoolResults: unknown pool %d", p)
		return nil, driver.ErrorUnknown
	}
	if int(first+count) > len(q.values) {
		d.violation("GetQueryPoolResults: range [%d, %d) out of bounds", first, first+count)
		return nil, driver.ErrorUnknown
	}
	out := make([]uint64, count)
	for i := range out {
		if !q.valid[int(first)+i] {
			return nil, driver.NotReady
		}
		out[i] = q.values[int(first)+i]
	}
	return out, nil
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (driver.DeviceMemory, error) {
	if err := d.fault("AllocateMemory"); err != nil {
		return 0, err
	}
	if int(memoryTypeIndex) >= len(d.props.MemoryTypes) {
		d.violation("AllocateMemory: memory type %d out of range", memoryTypeIndex)
		return 0, driver.ErrorUnknown
	}
	if limit := d.props.Limits.MaxMemoryAllocations; limit > 0 && uint32(len(d.memory)) >= limit {
		return 0, driver.ErrorTooManyObjects
	}
	h := driver.DeviceMemory(d.id())
	d.memory[h] = size
	d.allocations++
	return h, nil
}

func (d *Device) FreeMemory(m driver.DeviceMemory) {
	if _, ok := d.memory[m]; !ok {
		d.violation("FreeMemory: unknown memory %d", m)
		return
	}
	for h, img := range d.images {
		if img.memory == m {
			d.violation("FreeMemory: memory %d is bound to image %d", m, h)
		}
		for _, pages := range img.pageBinds {
			for _, pm := range pages {
				if pm == m {
					d.violation("FreeMemory: memory %d is bound to a sparse page of image %d", m, h)
				}
			}
		}
		for _, tm := range img.tailBinds {
			if tm == m {
				d.violation("FreeMemory: memory %d is bound to the mip tail of image %d", m, h)
			}
		}
	}
	for h, b := range d.buffers {
		if b.memory == m {
			d.violation("FreeMemory: memory %d is bound to buffer %d", m, h)
		}
	}
	delete(d.memory, m)
}

func (d *Device) allMemoryTypes() uint32 {
	return uint32(1)<<len(d.props.MemoryTypes) - 1
}

func (d *Device) CreateBuffer(info driver.BufferCreateInfo) (driver.Buffer, driver.MemoryRequirements, error) {
	if err := d.fault("CreateBuffer"); err != nil {
		return 0, driver.MemoryRequirements{}, err
	}
	if info.Size == 0 {
		d.violation("CreateBuffer: %q has zero size", info.Name)
	}
	h := driver.Buffer(d.id())
	d.buffers[h] = &buffer{info: info}
	const align = 256
	return h, driver.MemoryRequirements{
		Size:           (info.Size + align - 1) &^ (align - 1),
		Alignment:      align,
		MemoryTypeBits: d.allMemoryTypes(),
	}, nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	if _, ok := d.buffers[b]; !ok {
		d.violation("DestroyBuffer: unknown buffer %d", b)
		return
	}
	delete(d.buffers, b)
}

func (d *Device) BindBufferMemory(b driver.Buffer, m driver.DeviceMemory, offset uint64) error {
	buf, ok := d.buffers[b]
	if !ok {
		d.violation("BindBufferMemory: unknown buffer %d", b)
		return driver.ErrorUnknown
	}
	if _, ok := d.memory[m]; !ok {
		d.violation("BindBufferMemory: unknown memory %d", m)
		return driver.ErrorUnknown
	}
	if buf.memory != driver.NullDeviceMemory {
		d.violation("BindBufferMemory: buffer %d is already bound", b)
	}
	buf.memory = m
	return nil
}

func mipExtent(e gmath.Extent3u32, level uint32) gmath.Extent3u32 {
	return gmath.Extent3u32{
		X: max(e.X>>level, 1),
		Y: max(e.Y>>level, 1),
		Z: max(e.Z>>level, 1),
	}
}

// pageCount is the number of granularity sized pages covering extent.
func pageCount(extent, granularity gmath.Extent3u32) uint64 {
	x := uint64((extent.X + granularity.X - 1) / granularity.X)
	y := uint64((extent.Y + granularity.Y - 1) / granularity.Y)
	z := uint64((extent.Z + granularity.Z - 1) / granularity.Z)
	return x * y * z
}

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, driver.MemoryRequirements, error) {
	if err := d.fault("CreateImage"); err != nil {
		return 0, driver.MemoryRequirements{}, err
	}
	if info.Sparse && !d.props.SparseResidencyImage2D {
		return 0, driver.MemoryRequirements{}, driver.ErrorFeatureNotPresent
	}
	if info.MipLevels == 0 || info.ArrayLayers == 0 {
		d.violation("CreateImage: %q has zero mip levels or layers", info.Name)
		return 0, driver.MemoryRequirements{}, driver.ErrorUnknown
	}

	img := &image{info: info}
	page := d.options.SparsePageSize
	g := d.options.SparseGranularity

	tailLod := info.MipLevels
	for l := uint32(0); l < info.MipLevels; l++ {
		e := mipExtent(info.Extent, l)
		if e.X < g.X || e.Y < g.Y {
			tailLod = l
			break
		}
	}

	// every paged mip and one tail page per layer
	layerSize := uint64(0)
	for l := uint32(0); l < tailLod; l++ {
		layerSize += pageCount(mipExtent(info.Extent, l), g) * page
	}
	tailSize := uint64(0)
	if tailLod < info.MipLevels {
		tailSize = page
	}
	layerStride := layerSize + tailSize
	size := layerStride * uint64(info.ArrayLayers)

	if info.Sparse {
		img.pageBinds = map[driver.ImageSubresource]map[gmath.Vector3i32]driver.DeviceMemory{}
		img.tailBinds = map[uint64]driver.DeviceMemory{}
		img.sparseReqs = driver.SparseImageMemoryRequirements{
			Aspect:          driver.ImageAspectColor,
			Granularity:     g,
			MipTailFirstLod: tailLod,
			MipTailSize:     tailSize,
			MipTailOffset:   layerSize,
			MipTailStride:   layerStride,
			SingleMipTail:   d.options.SingleMipTail,
		}
		if d.options.SingleMipTail {
			img.sparseReqs.MipTailStride = 0
			img.sparseReqs.MipTailOffset = layerSize * uint64(info.ArrayLayers)
		}
	}

	h := driver.Image(d.id())
	d.images[h] = img
	return h, driver.MemoryRequirements{
		Size:           size,
		Alignment:      page,
		MemoryTypeBits: 1,
	}, nil
}

func (d *Device) DestroyImage(i driver.Image) {
	if _, ok := d.images[i]; !ok {
		d.violation("DestroyImage: unknown image %d", i)
		return
	}
	delete(d.images, i)
}

func (d *Device) BindImageMemory(i driver.Image, m driver.DeviceMemory, offset uint64) error {
	img, ok := d.images[i]
	if !ok {
		d.violation("BindImageMemory: unknown image %d", i)
		return driver.ErrorUnknown
	}
	if img.info.Sparse {
		d.violation("BindImageMemory: image %d is sparse", i)
	}
	if _, ok := d.memory[m]; !ok {
		d.violation("BindImageMemory: unknown memory %d", m)
		return driver.ErrorUnknown
	}
	img.memory = m
	return nil
}

func (d *Device) GetImageSparseMemoryRequirements(i driver.Image) (driver.SparseImageMemoryRequirements, error) {
	img, ok := d.images[i]
	if !ok {
		d.violation("GetImageSparseMemoryRequirements: unknown image %d", i)
		return driver.SparseImageMemoryRequirements{}, driver.ErrorUnknown
	}
	if !img.info.Sparse {
		return driver.SparseImageMemoryRequirements{}, driver.ErrorFeatureNotPresent
	}
	return img.sparseReqs, nil
}

func (d *Device) applyBinds(b *driver.BindSparseInfo) {
	for _, ob := range b.ImageOpaqueBinds {
		img, ok := d.images[ob.Image]
		if !ok {
			continue
		}
		for _, bind := range ob.Binds {
			if bind.Memory == driver.NullDeviceMemory {
				delete(img.tailBinds, bind.ResourceOffset)
			} else {
				img.tailBinds[bind.ResourceOffset] = bind.Memory
			}
		}
	}
	for _, ib := range b.ImageBinds {
		img, ok := d.images[ib.Image]
		if !ok {
			continue
		}
		for _, bind := range ib.Binds {
			pages := img.pageBinds[bind.Subresource]
			if pages == nil {
				pages = map[gmath.Vector3i32]driver.DeviceMemory{}
				img.pageBinds[bind.Subresource] = pages
			}
			if bind.Memory == driver.NullDeviceMemory {
				delete(pages, bind.Offset)
				if len(pages) == 0 {
					delete(img.pageBinds, bind.Subresource)
				}
			} else {
				pages[bind.Offset] = bind.Memory
			}
		}
	}
}
