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
	"testing"

	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

func TestMipInfo(t *testing.T) {
	linear := driver.ImageCreateInfo{Format: driver.FormatR8G8B8A8Unorm, Extent: extent2D(300, 200), MipLevels: 9, ArrayLayers: 1}
	bc := driver.ImageCreateInfo{Format: driver.FormatBC7UnormBlock, Extent: extent2D(256, 256), MipLevels: 9, ArrayLayers: 1}
	bc1 := driver.ImageCreateInfo{Format: driver.FormatBC1RGBUnormBlock, Extent: extent2D(10, 6), MipLevels: 4, ArrayLayers: 1}

	tests := []struct {
		info   driver.ImageCreateInfo
		level  uint32
		extent gmath.Extent3u32
		size   uint64
	}{
		{linear, 0, extent2D(300, 200), 1200},
		{linear, 1, extent2D(150, 100), 600},
		{linear, 8, extent2D(1, 1), 4},
		{bc, 0, extent2D(256, 256), 65536},
		{bc, 6, extent2D(4, 4), 16},
		{bc, 8, extent2D(1, 1), 16},
		{bc1, 0, extent2D(10, 6), 3 * 2 * 8},
		{bc1, 3, extent2D(1, 1), 8},
	}
	for _, test := range tests {
		m := mipInfo(test.info, test.level)
		if m.Level != test.level || m.Extent != test.extent {
			t.Errorf("%s mip %d: Level = %d Extent = %+v, want %+v", test.info.Format, test.level, m.Level, m.Extent, test.extent)
			continue
		}
		var size uint64
		if m.Class == FormatClassLinear {
			size = m.RowPitch()
		} else {
			size = m.LinearSize()
		}
		if size != test.size {
			t.Errorf("%s mip %d: size = %d, want %d", test.info.Format, test.level, size, test.size)
		}
	}

	mustAbort(t, func() { mipInfo(linear, 0).LinearSize() })
	mustAbort(t, func() { mipInfo(bc, 0).RowPitch() })
	mustAbort(t, func() { mipInfo(bc, 9) })
}

func TestValidateImage(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	valid := driver.ImageCreateInfo{Name: "valid", Format: driver.FormatR8G8B8A8Srgb, Extent: extent2D(512, 256), MipLevels: 10, ArrayLayers: 6}
	d.validateImage(valid)

	tests := []struct {
		name   string
		modify func(*driver.ImageCreateInfo)
	}{
		{"zero width", func(i *driver.ImageCreateInfo) { i.Extent.X = 0 }},
		{"zero depth", func(i *driver.ImageCreateInfo) { i.Extent.Z = 0 }},
		{"zero mips", func(i *driver.ImageCreateInfo) { i.MipLevels = 0 }},
		{"zero layers", func(i *driver.ImageCreateInfo) { i.ArrayLayers = 0 }},
		{"too many mips", func(i *driver.ImageCreateInfo) { i.MipLevels = 11 }},
		{"too large", func(i *driver.ImageCreateInfo) { i.Extent.X = 20000 }},
		{"3d with layers", func(i *driver.ImageCreateInfo) { i.Extent.Z = 4 }},
		{"too many layers", func(i *driver.ImageCreateInfo) { i.ArrayLayers = 4096 }},
		{"unsupported format", func(i *driver.ImageCreateInfo) { i.Format = driver.FormatUndefined }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			info := valid
			test.modify(&info)
			mustAbort(t, func() { d.validateImage(info) })
		})
	}
}

func TestImageLifetime(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{MaxFramesInFlight: 2})
	h, err := d.CreateImage(driver.ImageCreateInfo{
		Name:        "albedo",
		Format:      driver.FormatR8G8B8A8Unorm,
		Extent:      extent2D(512, 512),
		MipLevels:   10,
		ArrayLayers: 1,
		Usage:       driver.ImageUsageSampled,
	})
	if err != nil {
		t.Fatal(err)
	}
	img := d.Image(h)
	if img == nil || img.Name() != "albedo" || img.MipLevels() != 10 || img.Sparse() {
		t.Fatalf("Image = %+v", img)
	}
	if got := img.MipInfo(9).Extent; got != extent2D(1, 1) {
		t.Fatalf("MipInfo(9).Extent = %+v", got)
	}

	d.RetainImage(h)
	d.ReleaseImage(h)
	if d.Image(h) == nil {
		t.Fatal("ReleaseImage destroyed a retained image")
	}
	d.DestroyImage(h)
	if d.Image(h) != nil {
		t.Fatal("Image returned a destroyed image")
	}
	mustAbort(t, func() { d.DestroyImage(h) })

	endFrame(t, beginFrame(t, d))
	if sim.Live().Images != 1 {
		t.Fatal("image destroyed before its slot was reused")
	}
	endFrame(t, beginFrame(t, d))
	if sim.Live().Images != 0 {
		t.Fatal("image not destroyed after its slot was reused")
	}
}
