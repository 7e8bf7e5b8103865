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
	"slices"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/memalloc"
)

type sparsePage struct {
	alloc memalloc.Allocation
	bind  driver.SparseImageMemoryBind
}

/*
sparseState tracks which mip levels of a sparse image are backed by memory.
Mips in [availableMip, mipTail) are bound page by page, every mip from mipTail
on lives in the mip tail which stays bound for the lifetime of the image.
*/
type sparseState struct {
	reqs    driver.SparseImageMemoryRequirements
	memReqs driver.MemoryRequirements

	mipTail      uint32
	availableMip uint32
	mips         [][]sparsePage
	tail         []memalloc.Allocation

	pending      bool
	pendingFence driver.Fence
}

func (s *sparseState) allocations() []memalloc.Allocation {
	all := slices.Clone(s.tail)
	for _, pages := range s.mips {
		for _, p := range pages {
			all = append(all, p.alloc)
		}
	}
	return all
}

func (s *sparseState) residentPages() int {
	n := 0
	for _, pages := range s.mips {
		n += len(pages)
	}
	return n
}

func (d *Device) sparseImage(op string, h Handle) (*Image, *sparseState) {
	img := d.images.Get(h)
	if img == nil {
		abort("%s on dead handle %s", op, h)
		return nil, nil
	}
	if img.sparse == nil {
		abort("%s on image %q which is not sparse", op, img.info.Name)
	}
	return img, img.sparse
}

func (d *Device) freeAllocations(allocs []memalloc.Allocation) {
	for _, a := range allocs {
		if err := d.allocator.Free(a); err != nil {
			instance.logger.WPrintf("%v", err)
		}
	}
}

func (d *Device) freePages(pages []sparsePage) {
	for _, p := range pages {
		if err := d.allocator.Free(p.alloc); err != nil {
			instance.logger.WPrintf("%v", err)
		}
	}
}

// sparseBindError turns a failed bind into ErrorSparseBind unless the device
// was lost.
func (d *Device) sparseBindError(err error, format string, args ...any) error {
	d.stats.SparseBindErrors++
	if driver.ResultOf(err) == driver.ErrorDeviceLost {
		return d.wrapResult(err, format, args...)
	}
	args = append(args, err)
	instance.logger.WPrintf(format+": %v", args...)
	return debug.ErrorWrapf(ErrorSparseBind{}, format+": %v", args...)
}

/*
CreateSparseImage creates a partially resident image with only its mip tail
bound. The bind is handed to the transfer queue as a wait so uploads into the
tail are ordered after it. Use UpsizeSparseImage to make more levels resident.
*/
func (d *Device) CreateSparseImage(info driver.ImageCreateInfo) (Handle, error) {
	d.noCopy.Check()
	info.Sparse = true
	d.validateImage(info)
	if err := d.usable(); err != nil {
		return InvalidHandle, err
	}
	if !d.props.SparseBinding || !d.props.SparseResidencyImage2D || d.sparseQueue == 0 {
		return InvalidHandle, debug.ErrorWrapf(driver.ErrorFeatureNotPresent, "Sparse images are not supported by %q", d.props.DeviceName)
	}

	image, memReqs, err := d.drv.CreateImage(info)
	if err != nil {
		return InvalidHandle, d.wrapResult(err, "Failed to create sparse image %q", info.Name)
	}
	reqs, err := d.drv.GetImageSparseMemoryRequirements(image)
	if err != nil {
		d.drv.DestroyImage(image)
		return InvalidHandle, d.wrapResult(err, "Failed to get sparse memory requirements of %q", info.Name)
	}

	s := &sparseState{
		reqs:    reqs,
		memReqs: memReqs,
		mipTail: min(reqs.MipTailFirstLod, info.MipLevels),
	}
	s.availableMip = s.mipTail
	s.mips = make([][]sparsePage, s.mipTail)

	if s.mipTail < info.MipLevels && reqs.MipTailSize > 0 {
		if err := d.bindMipTail(image, info, s); err != nil {
			d.drv.DestroyImage(image)
			return InvalidHandle, err
		}
	}

	instance.logger.VPrintf("Created sparse image %q format: %s extent: %+v mips: %d layers: %d mip tail: %d",
		info.Name, info.Format, info.Extent, info.MipLevels, info.ArrayLayers, s.mipTail)
	return d.images.Insert(Image{image: image, info: info, sparse: s}), nil
}

// bindMipTail binds one tail region for the whole image when the device packs
// every layer into a single tail, else one region per layer.
func (d *Device) bindMipTail(image driver.Image, info driver.ImageCreateInfo, s *sparseState) error {
	regions := info.ArrayLayers
	if s.reqs.SingleMipTail {
		regions = 1
	}
	req := driver.MemoryRequirements{
		Size:           s.reqs.MipTailSize,
		Alignment:      s.memReqs.Alignment,
		MemoryTypeBits: s.memReqs.MemoryTypeBits,
	}

	binds := make([]driver.SparseMemoryBind, 0, regions)
	for layer := uint32(0); layer < regions; layer++ {
		alloc, err := d.allocator.Allocate(req, driver.MemoryPropertyDeviceLocal)
		if err != nil {
			d.freeAllocations(s.tail)
			s.tail = nil
			return d.wrapResult(err, "Failed to allocate mip tail of %q", info.Name)
		}
		s.tail = append(s.tail, alloc)
		binds = append(binds, driver.SparseMemoryBind{
			ResourceOffset: s.reqs.MipTailOffset + uint64(layer)*s.reqs.MipTailStride,
			Size:           s.reqs.MipTailSize,
			Memory:         alloc.Memory,
			MemoryOffset:   alloc.Offset,
		})
	}

	sem, err := d.semaphores.RequestSemaphore()
	if err != nil {
		d.freeAllocations(s.tail)
		s.tail = nil
		return err
	}
	err = d.drv.QueueBindSparse(d.sparseQueue, []driver.BindSparseInfo{{
		ImageOpaqueBinds: []driver.SparseImageOpaqueMemoryBindInfo{{Image: image, Binds: binds}},
		Signals:          []driver.SemaphoreSubmitInfo{{Semaphore: sem, Stage: driver.PipelineStageAllCommands}},
	}}, driver.NullFence)
	if err != nil {
		d.semaphores.RecycleSemaphore(sem)
		d.freeAllocations(s.tail)
		s.tail = nil
		return d.sparseBindError(err, "Failed to bind mip tail of %q", info.Name)
	}
	d.stats.SparseBinds++
	d.semaphores.markSignaled(sem, d.frameNumber)
	return d.AddWaitSemaphore(QueueTransfer, sem, driver.PipelineStageTransfer, false)
}

// stagePages allocates one page per granularity sized block of every layer of mip.
func (d *Device) stagePages(img *Image, mip uint32) ([]sparsePage, error) {
	s := img.sparse
	g := s.reqs.Granularity
	e := mipExtent(img.info.Extent, mip)
	req := driver.MemoryRequirements{
		Size:           s.memReqs.Alignment,
		Alignment:      s.memReqs.Alignment,
		MemoryTypeBits: s.memReqs.MemoryTypeBits,
	}

	var pages []sparsePage
	for layer := uint32(0); layer < img.info.ArrayLayers; layer++ {
		for z := uint32(0); z < e.Z; z += g.Z {
			for y := uint32(0); y < e.Y; y += g.Y {
				for x := uint32(0); x < e.X; x += g.X {
					alloc, err := d.allocator.Allocate(req, driver.MemoryPropertyDeviceLocal)
					if err != nil {
						d.freePages(pages)
						return nil, d.wrapResult(err, "Failed to allocate page of mip %d of %q", mip, img.info.Name)
					}
					pages = append(pages, sparsePage{
						alloc: alloc,
						bind: driver.SparseImageMemoryBind{
							Subresource: driver.ImageSubresource{
								Aspect:     s.reqs.Aspect,
								MipLevel:   mip,
								ArrayLayer: layer,
							},
							Offset:       gmath.Vector3i32{X: int32(x), Y: int32(y), Z: int32(z)},
							Extent:       gmath.Extent3u32{X: min(g.X, e.X-x), Y: min(g.Y, e.Y-y), Z: min(g.Z, e.Z-z)},
							Memory:       alloc.Memory,
							MemoryOffset: alloc.Offset,
						},
					})
				}
			}
		}
	}
	return pages, nil
}

/*
UpsizeSparseImage makes every mip from target on resident, target is clamped to
the mip tail and a target that is already resident is a no op. The bind signals
a semaphore the transfer queue waits on before any upload into the new levels.
*/
func (d *Device) UpsizeSparseImage(h Handle, target uint32) error {
	d.noCopy.Check()
	img, s := d.sparseImage("UpsizeSparseImage", h)
	if err := d.usable(); err != nil {
		return err
	}
	if s.pending {
		return debug.ErrorWrapf(ErrorResizePending{}, "Failed to upsize %q", img.info.Name)
	}
	target = min(target, s.mipTail)
	if target >= s.availableMip {
		return nil
	}

	staged := make(map[uint32][]sparsePage, s.availableMip-target)
	var binds []driver.SparseImageMemoryBind
	for mip := s.availableMip; mip > target; mip-- {
		pages, err := d.stagePages(img, mip-1)
		if err != nil {
			for _, p := range staged {
				d.freePages(p)
			}
			return err
		}
		staged[mip-1] = pages
		for _, p := range pages {
			binds = append(binds, p.bind)
		}
	}
	freeStaged := func() {
		for _, p := range staged {
			d.freePages(p)
		}
	}

	sem, err := d.semaphores.RequestSemaphore()
	if err != nil {
		freeStaged()
		return err
	}
	fence, err := d.fences.RequestRawFence()
	if err != nil {
		d.semaphores.RecycleSemaphore(sem)
		freeStaged()
		return err
	}
	d.fences.checkSubmit(fence)

	err = d.drv.QueueBindSparse(d.sparseQueue, []driver.BindSparseInfo{{
		ImageBinds: []driver.SparseImageMemoryBindInfo{{Image: img.image, Binds: binds}},
		Signals:    []driver.SemaphoreSubmitInfo{{Semaphore: sem, Stage: driver.PipelineStageAllCommands}},
	}}, fence)
	if err != nil {
		d.fences.Recycle(fence)
		d.semaphores.RecycleSemaphore(sem)
		freeStaged()
		return d.sparseBindError(err, "Failed to upsize %q to mip %d", img.info.Name, target)
	}
	d.stats.SparseBinds++
	d.stats.ResidentPages += len(binds)
	d.fences.markSubmitted(fence)
	d.semaphores.markSignaled(sem, d.frameNumber)

	for mip, pages := range staged {
		s.mips[mip] = pages
	}
	s.availableMip = target
	s.pending = true
	s.pendingFence = fence
	d.fences.AddFenceCallback(fence, func() {
		s.pending = false
		s.pendingFence = driver.NullFence
	})

	instance.logger.VPrintf("Upsized %q to mip %d with %d pages", img.info.Name, target, len(binds))
	return d.AddWaitSemaphore(QueueTransfer, sem, driver.PipelineStageTransfer, false)
}

/*
DownsizeSparseImage releases every mip below target, target is clamped to the
mip tail and a target at or below the current residency is a no op. Every queue
is flushed so the unbind waits until prior reads of the released levels are
done, the pages are freed once the unbind completes.
*/
func (d *Device) DownsizeSparseImage(h Handle, target uint32) error {
	d.noCopy.Check()
	img, s := d.sparseImage("DownsizeSparseImage", h)
	if err := d.usable(); err != nil {
		return err
	}
	if s.pending {
		return debug.ErrorWrapf(ErrorResizePending{}, "Failed to downsize %q", img.info.Name)
	}
	target = min(target, s.mipTail)
	if target <= s.availableMip {
		return nil
	}
	// only a downsize that flushes the queues needs a frame
	d.activeFrame("DownsizeSparseImage")

	var waits []driver.SemaphoreSubmitInfo
	for t := QueueType(0); t < queueTypeCount; t++ {
		sem, err := d.semaphores.RequestSemaphore()
		if err != nil {
			return err
		}
		signal := driver.SemaphoreSubmitInfo{Semaphore: sem, Stage: driver.PipelineStageAllCommands}
		if err := d.SubmitQueue(t, driver.NullFence, signal); err != nil {
			d.semaphores.RecycleSemaphore(sem)
			return err
		}
		waits = append(waits, signal)
	}

	var retired []sparsePage
	var binds []driver.SparseImageMemoryBind
	for mip := s.availableMip; mip < target; mip++ {
		for _, p := range s.mips[mip] {
			unbind := p.bind
			unbind.Memory = driver.NullDeviceMemory
			unbind.MemoryOffset = 0
			binds = append(binds, unbind)
		}
		retired = append(retired, s.mips[mip]...)
	}

	fence, err := d.fences.RequestRawFence()
	if err != nil {
		return err
	}
	d.fences.checkSubmit(fence)
	err = d.drv.QueueBindSparse(d.sparseQueue, []driver.BindSparseInfo{{
		Waits:      waits,
		ImageBinds: []driver.SparseImageMemoryBindInfo{{Image: img.image, Binds: binds}},
	}}, fence)
	if err != nil {
		// the flush semaphores stay signaled and are destroyed with the frame
		d.fences.Recycle(fence)
		return d.sparseBindError(err, "Failed to downsize %q to mip %d", img.info.Name, target)
	}
	d.stats.SparseBinds++
	d.stats.ResidentPages -= len(retired)
	d.fences.markSubmitted(fence)
	for _, w := range waits {
		d.semaphores.markWaited(w.Semaphore)
	}

	for mip := s.availableMip; mip < target; mip++ {
		s.mips[mip] = nil
	}
	s.availableMip = target
	s.pending = true
	s.pendingFence = fence
	d.fences.AddFenceCallback(fence, func() {
		d.freePages(retired)
		for _, w := range waits {
			d.semaphores.DestroySemaphore(w.Semaphore)
		}
		s.pending = false
		s.pendingFence = driver.NullFence
	})

	instance.logger.VPrintf("Downsized %q to mip %d releasing %d pages", img.info.Name, target, len(retired))
	return nil
}

// ChangeMipLevel makes target the most detailed resident mip.
func (d *Device) ChangeMipLevel(h Handle, target uint32) error {
	d.noCopy.Check()
	_, s := d.sparseImage("ChangeMipLevel", h)
	if target < s.availableMip {
		return d.UpsizeSparseImage(h, target)
	}
	return d.DownsizeSparseImage(h, target)
}

// SparseResidency returns the most detailed resident mip, the first mip of
// the mip tail, and whether a resize is still in flight.
func (d *Device) SparseResidency(h Handle) (availableMip, mipTail uint32, pending bool) {
	d.noCopy.Check()
	_, s := d.sparseImage("SparseResidency", h)
	return s.availableMip, s.mipTail, s.pending
}

func (d *Device) waitSparseResize(img *Image) {
	if img.sparse == nil || !img.sparse.pending {
		return
	}
	if err := d.fences.Wait(img.sparse.pendingFence); err != nil {
		instance.logger.WPrintf("Failed to wait on pending resize of %q: %v", img.info.Name, err)
	}
}
