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
	"fmt"
	"math/bits"

	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/memalloc"
	"goarrg.com/rhi/vkcore/internal/util"
)

type FormatClass uint8

const (
	FormatClassLinear FormatClass = iota
	FormatClassBlockCompressed
)

func (c FormatClass) String() string {
	switch c {
	case FormatClassLinear:
		return "Linear"
	case FormatClassBlockCompressed:
		return "BlockCompressed"
	default:
		return fmt.Sprintf("FormatClass(%d)", uint8(c))
	}
}

// formatInfo returns the class of f and its texel size, or block size for
// block compressed formats which all use 4x4 blocks.
func formatInfo(f driver.Format) (FormatClass, uint64) {
	switch f {
	case driver.FormatR8Unorm:
		return FormatClassLinear, 1
	case driver.FormatR8G8B8A8Unorm, driver.FormatR8G8B8A8Srgb, driver.FormatB8G8R8A8Unorm:
		return FormatClassLinear, 4
	case driver.FormatR16G16B16A16Sfloat:
		return FormatClassLinear, 8
	case driver.FormatR32G32B32A32Sfloat:
		return FormatClassLinear, 16
	case driver.FormatBC1RGBUnormBlock, driver.FormatBC1RGBAUnormBlock:
		return FormatClassBlockCompressed, 8
	case driver.FormatBC3UnormBlock, driver.FormatBC5UnormBlock, driver.FormatBC7UnormBlock, driver.FormatBC7SrgbBlock:
		return FormatClassBlockCompressed, 16
	default:
		abort("Unsupported format: %s", f)
		return 0, 0
	}
}

/*
MipInfo is the tightly packed host layout of one mip level. Linear formats
are described by their row pitch, block compressed ones by the size of the
whole level, asking for the other one aborts.
*/
type MipInfo struct {
	Level  uint32
	Extent gmath.Extent3u32
	Class  FormatClass
	size   uint64
}

func (m MipInfo) RowPitch() uint64 {
	if m.Class != FormatClassLinear {
		abort("RowPitch called on mip %d of format class %s", m.Level, m.Class)
	}
	return m.size
}

func (m MipInfo) LinearSize() uint64 {
	if m.Class != FormatClassBlockCompressed {
		abort("LinearSize called on mip %d of format class %s", m.Level, m.Class)
	}
	return m.size
}

func mipExtent(e gmath.Extent3u32, level uint32) gmath.Extent3u32 {
	return gmath.Extent3u32{
		X: max(e.X>>level, 1),
		Y: max(e.Y>>level, 1),
		Z: max(e.Z>>level, 1),
	}
}

func mipInfo(info driver.ImageCreateInfo, level uint32) MipInfo {
	if level >= info.MipLevels {
		abort("Mip level %d out of range [0, %d)", level, info.MipLevels)
	}
	class, size := formatInfo(info.Format)
	e := mipExtent(info.Extent, level)
	m := MipInfo{Level: level, Extent: e, Class: class}
	switch class {
	case FormatClassLinear:
		m.size = uint64(e.X) * size
	case FormatClassBlockCompressed:
		m.size = uint64(util.DivCeil(e.X, 4)) * uint64(util.DivCeil(e.Y, 4)) * uint64(e.Z) * size
	}
	return m
}

type Image struct {
	image driver.Image
	info  driver.ImageCreateInfo
	// unused by sparse images
	alloc  memalloc.Allocation
	sparse *sparseState
}

func (img *Image) Handle() driver.Image {
	return img.image
}

func (img *Image) Name() string {
	return img.info.Name
}

func (img *Image) Format() driver.Format {
	return img.info.Format
}

func (img *Image) Extent() gmath.Extent3u32 {
	return img.info.Extent
}

func (img *Image) MipLevels() uint32 {
	return img.info.MipLevels
}

func (img *Image) ArrayLayers() uint32 {
	return img.info.ArrayLayers
}

func (img *Image) Sparse() bool {
	return img.sparse != nil
}

func (img *Image) MipInfo(level uint32) MipInfo {
	return mipInfo(img.info, level)
}

func (d *Device) validateImage(info driver.ImageCreateInfo) {
	limits := d.props.Limits
	if info.Extent.X == 0 || info.Extent.Y == 0 || info.Extent.Z == 0 {
		abort("Trying to create image %q with Extent [%+v], all values must be >= 1", info.Name, info.Extent)
	}
	if info.MipLevels == 0 || info.ArrayLayers == 0 {
		abort("Trying to create image %q with MipLevels [%d] and ArrayLayers [%d], both values must be >= 1",
			info.Name, info.MipLevels, info.ArrayLayers)
	}
	if info.Extent.X > limits.MaxImageDimension2D || info.Extent.Y > limits.MaxImageDimension2D {
		abort("Trying to create image %q with Extent [%+v] which is larger than Limits.MaxImageDimension2D [%d]",
			info.Name, info.Extent, limits.MaxImageDimension2D)
	}
	if info.Extent.Z > 1 && (info.Extent.Z > limits.MaxImageDimension3D || info.ArrayLayers != 1) {
		abort("Trying to create 3D image %q with Extent [%+v] and ArrayLayers [%d], depth must be <= Limits.MaxImageDimension3D [%d] with a single layer",
			info.Name, info.Extent, info.ArrayLayers, limits.MaxImageDimension3D)
	}
	if info.ArrayLayers > limits.MaxImageArrayLayers {
		abort("Trying to create image %q with ArrayLayers [%d] which is larger than Limits.MaxImageArrayLayers [%d]",
			info.Name, info.ArrayLayers, limits.MaxImageArrayLayers)
	}
	if maxMips := uint32(bits.Len32(max(info.Extent.X, info.Extent.Y, info.Extent.Z))); info.MipLevels > maxMips {
		abort("Trying to create image %q with MipLevels [%d] but Extent [%+v] only has %d levels",
			info.Name, info.MipLevels, info.Extent, maxMips)
	}
	formatInfo(info.Format)
}

// CreateImage creates a device local image.
func (d *Device) CreateImage(info driver.ImageCreateInfo) (Handle, error) {
	d.noCopy.Check()
	if info.Sparse {
		abort("CreateImage called with Sparse set on %q, use CreateSparseImage", info.Name)
	}
	d.validateImage(info)
	if err := d.usable(); err != nil {
		return InvalidHandle, err
	}

	image, reqs, err := d.drv.CreateImage(info)
	if err != nil {
		return InvalidHandle, d.wrapResult(err, "Failed to create image %q", info.Name)
	}
	alloc, err := d.allocator.Allocate(reqs, driver.MemoryPropertyDeviceLocal)
	if err != nil {
		d.drv.DestroyImage(image)
		return InvalidHandle, d.wrapResult(err, "Failed to allocate %d bytes for image %q", reqs.Size, info.Name)
	}
	if err := d.drv.BindImageMemory(image, alloc.Memory, alloc.Offset); err != nil {
		d.drv.DestroyImage(image)
		if err := d.allocator.Free(alloc); err != nil {
			instance.logger.WPrintf("%v", err)
		}
		return InvalidHandle, d.wrapResult(err, "Failed to bind memory to image %q", info.Name)
	}

	instance.logger.VPrintf("Created image %q format: %s extent: %+v mips: %d layers: %d",
		info.Name, info.Format, info.Extent, info.MipLevels, info.ArrayLayers)
	return d.images.Insert(Image{image: image, info: info, alloc: alloc}), nil
}

// Image returns nil for a handle that was destroyed.
func (d *Device) Image(h Handle) *Image {
	d.noCopy.Check()
	return d.images.Get(h)
}

func (d *Device) RetainImage(h Handle) {
	d.noCopy.Check()
	d.images.Retain(h)
}

// ReleaseImage drops a reference, the last one destroys the image as
// DestroyImage does.
func (d *Device) ReleaseImage(h Handle) {
	d.noCopy.Check()
	if img := d.images.Get(h); img != nil && d.images.RefCount(h) == 1 {
		d.waitSparseResize(img)
	}
	d.images.Release(h)
}

// DestroyImage frees the handle now, the image and its memory are destroyed
// once every frame submitted so far retired. A pending sparse resize is waited on first.
func (d *Device) DestroyImage(h Handle) {
	d.noCopy.Check()
	img := d.images.Get(h)
	if img == nil {
		abort("DestroyImage on dead handle %s", h)
		return
	}
	d.waitSparseResize(img)
	d.images.Delete(h)
}

func (d *Device) destroyImage(img *Image) {
	image, name := img.image, img.info.Name
	var allocs []memalloc.Allocation
	if img.sparse != nil {
		allocs = img.sparse.allocations()
		d.stats.ResidentPages -= img.sparse.residentPages()
	} else {
		allocs = []memalloc.Allocation{img.alloc}
	}
	d.deletionSlot().deletion.push(DestroyFunc(func() {
		d.drv.DestroyImage(image)
		for _, a := range allocs {
			if err := d.allocator.Free(a); err != nil {
				instance.logger.WPrintf("Failed to free memory of image %q: %v", name, err)
			}
		}
		instance.logger.VPrintf("Destroyed image %q", name)
	}))
}
