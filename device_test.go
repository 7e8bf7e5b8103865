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
	"encoding/json"
	"errors"
	"os"
	"testing"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

type panicPlatform struct{}

func (panicPlatform) Abort()                     { panic("abort") }
func (panicPlatform) AbortPopup(string, ...any) { panic("abort") }

func TestMain(m *testing.M) {
	SetPlatform(panicPlatform{})
	SetLogLevel(debug.LogLevelWarn)
	os.Exit(m.Run())
}

func mustAbort(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected abort")
		}
	}()
	f()
}

// newTestDevice creates a Device on a simulated driver, on cleanup both are
// destroyed and any misuse the driver recorded fails the test.
func newTestDevice(t *testing.T, o simdriver.Options, config Config) (*Device, *simdriver.Device) {
	t.Helper()
	if config.MaxFramesInFlight == 0 {
		config.MaxFramesInFlight = 2
	}
	if config.NumThreads == 0 {
		config.NumThreads = 1
	}
	sim := simdriver.New(o)
	d, err := NewDevice(sim, config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if d.current != nil {
			t.Error("test left a frame active")
			return
		}
		d.Destroy()
		sim.Destroy()
		for _, v := range sim.Violations() {
			t.Errorf("driver violation: %s", v)
		}
	})
	return d, sim
}

func extent2D(w, h uint32) gmath.Extent3u32 {
	return gmath.Extent3u32{X: w, Y: h, Z: 1}
}

func beginFrame(t *testing.T, d *Device) *Frame {
	t.Helper()
	f, err := d.BeginFrame()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func endFrame(t *testing.T, f *Frame) {
	t.Helper()
	if err := f.End(); err != nil {
		t.Fatal(err)
	}
}

func requestCB(t *testing.T, f *Frame, typ QueueType, thread int) *CommandBuffer {
	t.Helper()
	cb, err := f.RequestCommandBuffer(typ, thread)
	if err != nil {
		t.Fatal(err)
	}
	return cb
}

func TestSelectQueueFamilies(t *testing.T) {
	all := driver.QueueGraphicsBit | driver.QueueComputeBit | driver.QueueTransferBit | driver.QueueSparseBindingBit
	tests := []struct {
		name     string
		families []driver.QueueFamily
		want     queueFamilies
		err      bool
	}{
		{
			name:     "default",
			families: simdriver.DefaultProperties().QueueFamilies,
			want:     queueFamilies{graphics: 0, compute: 1, transfer: 2, sparse: 0},
		},
		{
			name:     "single family",
			families: []driver.QueueFamily{{Index: 0, Flags: all, QueueCount: 16}},
			want:     queueFamilies{graphics: 0, compute: 0, transfer: 0, sparse: 0},
		},
		{
			name: "transfer falls back to async compute",
			families: []driver.QueueFamily{
				{Index: 0, Flags: driver.QueueGraphicsBit | driver.QueueComputeBit | driver.QueueTransferBit, QueueCount: 1},
				{Index: 1, Flags: driver.QueueComputeBit | driver.QueueTransferBit | driver.QueueSparseBindingBit, QueueCount: 1},
			},
			want: queueFamilies{graphics: 0, compute: 1, transfer: 1, sparse: 1},
		},
		{
			name: "empty families are skipped",
			families: []driver.QueueFamily{
				{Index: 0, Flags: driver.QueueComputeBit | driver.QueueTransferBit, QueueCount: 0},
				{Index: 1, Flags: all, QueueCount: 1},
			},
			want: queueFamilies{graphics: 1, compute: 1, transfer: 1, sparse: 1},
		},
		{
			name:     "no sparse binding",
			families: []driver.QueueFamily{{Index: 0, Flags: driver.QueueGraphicsBit | driver.QueueComputeBit, QueueCount: 1}},
			want:     queueFamilies{graphics: 0, compute: 0, transfer: 0, sparse: -1},
		},
		{
			name:     "no graphics",
			families: []driver.QueueFamily{{Index: 0, Flags: driver.QueueComputeBit | driver.QueueTransferBit, QueueCount: 1}},
			err:      true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := selectQueueFamilies(test.families)
			if test.err {
				if err == nil {
					t.Fatalf("selectQueueFamilies succeeded with %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Fatalf("selectQueueFamilies = %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestNewDeviceQueues(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})
	for typ, want := range map[QueueType]uint32{QueueGraphics: 0, QueueCompute: 1, QueueTransfer: 2} {
		if got := d.QueueFamily(typ); got != want {
			t.Errorf("QueueFamily(%s) = %d, want %d", typ, got, want)
		}
	}
	if got := sim.QueueFamily(d.sparseQueue); got != 0 {
		t.Errorf("sparse queue family = %d, want 0", got)
	}
	mustAbort(t, func() { d.QueueFamily(queueTypeCount) })
}

func TestDescribeJSON(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	var got struct {
		DeviceName    string
		VendorID      string
		API           string
		QueueFamilies []struct {
			Index uint32
			Flags string
		}
		Queues        map[string]uint32
		SparseBinding bool
	}
	if err := json.Unmarshal([]byte(prettyString(d.describe())), &got); err != nil {
		t.Fatal(err)
	}
	if got.DeviceName != simdriver.DefaultProperties().DeviceName {
		t.Errorf("DeviceName = %q", got.DeviceName)
	}
	if got.API != "1.3.0" {
		t.Errorf("API = %q, want 1.3.0", got.API)
	}
	if len(got.QueueFamilies) != 3 || got.QueueFamilies[0].Flags != "GRAPHICS|COMPUTE|TRANSFER|SPARSE_BINDING" {
		t.Errorf("QueueFamilies = %+v", got.QueueFamilies)
	}
	want := map[string]uint32{"graphics": 0, "compute": 1, "transfer": 2, "sparse": 0}
	for k, v := range want {
		if got.Queues[k] != v {
			t.Errorf("Queues[%q] = %d, want %d", k, got.Queues[k], v)
		}
	}
	if !got.SparseBinding {
		t.Error("SparseBinding = false")
	}
}

func TestStatsJSON(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	for i := 0; i < 3; i++ {
		f := beginFrame(t, d)
		cb := requestCB(t, f, QueueGraphics, 0)
		if _, err := d.Submit(cb, 0, driver.NullFence); err != nil {
			t.Fatal(err)
		}
		endFrame(t, f)
	}

	var got struct {
		Frames struct {
			InFlight int
			Begun    float64
			Ended    float64
		}
		Submits struct {
			Submits int
		}
		Allocator map[string]any
	}
	if err := json.Unmarshal(d.StatsJSON(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Frames.InFlight != 2 || got.Frames.Begun != 3 || got.Frames.Ended != 3 {
		t.Errorf("frames = %+v", got.Frames)
	}
	if got.Submits.Submits != 3 {
		t.Errorf("submits = %d, want 3", got.Submits.Submits)
	}
	if _, ok := got.Allocator["blockCount"]; !ok {
		t.Errorf("allocator stats missing: %v", got.Allocator)
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	sim := simdriver.New(simdriver.Options{})
	d, err := NewDevice(sim, Config{MaxFramesInFlight: 2, NumThreads: 2})
	if err != nil {
		t.Fatal(err)
	}

	buf, err := d.CreateBuffer(driver.BufferCreateInfo{Name: "vertices", Size: 4096, Usage: driver.BufferUsageVertex}, driver.MemoryPropertyDeviceLocal)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateSparseImage(driver.ImageCreateInfo{
		Name:        "terrain",
		Format:      driver.FormatBC7UnormBlock,
		Extent:      extent2D(1024, 1024),
		MipLevels:   11,
		ArrayLayers: 1,
		Usage:       driver.ImageUsageSampled,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		f := beginFrame(t, d)
		for thread := 0; thread < 2; thread++ {
			for typ := QueueType(0); typ < queueTypeCount; typ++ {
				cb := requestCB(t, f, typ, thread)
				if _, err := d.Submit(cb, 0, driver.NullFence); err != nil {
					t.Fatal(err)
				}
			}
		}
		if i == 1 {
			d.DestroyBuffer(buf)
		}
		endFrame(t, f)
	}

	d.Destroy()
	sim.Destroy()
	if live := sim.Live(); live != (simdriver.LiveObjects{}) {
		t.Errorf("live driver objects after Destroy: %+v", live)
	}
	for _, v := range sim.Violations() {
		t.Errorf("driver violation: %s", v)
	}

	if _, err := d.BeginFrame(); !errors.Is(err, ErrorDeviceDestroyed{}) {
		t.Errorf("BeginFrame after Destroy = %v, want ErrorDeviceDestroyed", err)
	}
	d.Destroy()
}

func TestDeviceLostLatches(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})

	f := beginFrame(t, d)
	cb := requestCB(t, f, QueueGraphics, 0)
	sim.FailNext("QueueSubmit", driver.ErrorDeviceLost)
	if _, err := d.Submit(cb, 1, driver.NullFence); !errors.Is(err, ErrorDeviceLost{}) {
		t.Fatalf("Submit = %v, want ErrorDeviceLost", err)
	}
	if !d.Lost() {
		t.Fatal("Lost() = false after a device lost result")
	}
	if err := f.End(); !errors.Is(err, ErrorDeviceLost{}) {
		t.Errorf("End = %v, want ErrorDeviceLost", err)
	}

	if _, err := d.BeginFrame(); !errors.Is(err, ErrorDeviceLost{}) {
		t.Errorf("BeginFrame = %v, want ErrorDeviceLost", err)
	}
	if _, err := d.CreateBuffer(driver.BufferCreateInfo{Name: "b", Size: 64}, driver.MemoryPropertyDeviceLocal); !errors.Is(err, ErrorDeviceLost{}) {
		t.Errorf("CreateBuffer = %v, want ErrorDeviceLost", err)
	}
	if _, err := d.Fences().RequestRawFence(); !errors.Is(err, ErrorDeviceLost{}) {
		t.Errorf("RequestRawFence = %v, want ErrorDeviceLost", err)
	}
	if err := d.WaitIdle(); !errors.Is(err, ErrorDeviceLost{}) {
		t.Errorf("WaitIdle = %v, want ErrorDeviceLost", err)
	}
}

func TestOutOfMemoryIsReported(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})
	sim.FailNext("CreateBuffer", driver.ErrorOutOfDeviceMemory)
	_, err := d.CreateBuffer(driver.BufferCreateInfo{Name: "big", Size: 1 << 20}, driver.MemoryPropertyDeviceLocal)
	if !errors.Is(err, ErrorOutOfMemory{}) {
		t.Fatalf("CreateBuffer = %v, want ErrorOutOfMemory", err)
	}
	if d.Lost() {
		t.Fatal("out of memory marked the device lost")
	}
}
