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
Package simdriver implements driver.Driver with an in process model of a GPU.

Work submitted to a queue is held as batches which complete in submission order
once every semaphore they wait on is signaled. With AutoComplete set, batches run
as soon as they are submitted, otherwise they only run when the host blocks on
them (WaitForFences, WaitSemaphore, *WaitIdle) or when Complete is called. This
lets tests observe exactly which fences the host had to wait on.

Misuse that a validation layer would report (double signal of a binary semaphore,
freeing memory that is still bound, resetting a pool in flight …) is recorded and
returned by Violations.
*/
package simdriver

import (
	"fmt"
	"slices"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore/driver"
)

type SubmitRecord struct {
	Queue   driver.Queue
	Family  uint32
	Submits []driver.SubmitInfo
	Fence   driver.Fence
}

type BindRecord struct {
	Queue driver.Queue
	Binds []driver.BindSparseInfo
	Fence driver.Fence
}

type Options struct {
	// Properties overrides the default properties when non nil.
	Properties *driver.Properties
	// SparseGranularity defaults to 128x128x1.
	SparseGranularity gmath.Extent3u32
	// SparsePageSize defaults to 64KiB.
	SparsePageSize uint64
	// SingleMipTail makes every sparse image report one mip tail for all layers.
	SingleMipTail bool
	AutoComplete  bool
}

type Device struct {
	logger  *debug.Logger
	props   driver.Properties
	options Options
	next    uint64
	clock   uint64

	queues     map[driver.Queue]*queue
	queueOrder []driver.Queue
	fences     map[driver.Fence]*fence
	semaphores map[driver.Semaphore]*semaphore
	pools      map[driver.CommandPool]*commandPool
	cbs        map[driver.CommandBuffer]*commandBuffer
	queries    map[driver.QueryPool]*queryPool
	memory     map[driver.DeviceMemory]uint64
	buffers    map[driver.Buffer]*buffer
	images     map[driver.Image]*image

	faults map[string][]error

	submits    []SubmitRecord
	binds      []BindRecord
	fenceWaits [][]driver.Fence
	violations []string

	createdFences     int
	createdSemaphores int
	allocations       int
}

var _ driver.Driver = (*Device)(nil)

type queue struct {
	family  uint32
	index   uint32
	pending []*batch
}

type batch struct {
	waits   []driver.SemaphoreSubmitInfo
	cbs     []driver.CommandBuffer
	signals []driver.SemaphoreSubmitInfo
	binds   *driver.BindSparseInfo
	fence   driver.Fence
}

type fence struct {
	signaled bool
	pending  bool
}

type semaphore struct {
	timeline      bool
	value         uint64
	signaled      bool
	signalPending bool
}

type commandPool struct {
	family  uint32
	buffers []driver.CommandBuffer
}

type commandBuffer struct {
	pool      driver.CommandPool
	recording bool
	inFlight  int
	ops       []func()
}

type queryPool struct {
	values []uint64
	valid  []bool
}

type buffer struct {
	info   driver.BufferCreateInfo
	memory driver.DeviceMemory
}

type image struct {
	info       driver.ImageCreateInfo
	memory     driver.DeviceMemory
	sparseReqs driver.SparseImageMemoryRequirements
	pageBinds  map[driver.ImageSubresource]map[gmath.Vector3i32]driver.DeviceMemory
	tailBinds  map[uint64]driver.DeviceMemory
}

func DefaultProperties() driver.Properties {
	return driver.Properties{
		DeviceName: "vkcore simulated device",
		VendorID:   0x10005,
		API:        (1 << 22) | (3 << 12),
		Limits: driver.Limits{
			MaxImageDimension2D:    16384,
			MaxImageDimension3D:    2048,
			MaxImageArrayLayers:    2048,
			MaxMemoryAllocations:   4096,
			BufferImageGranularity: 1,
			SparseAddressSpaceSize: 1 << 40,
			TimestampPeriod:        1,
		},
		QueueFamilies: []driver.QueueFamily{
			{Index: 0, Flags: driver.QueueGraphicsBit | driver.QueueComputeBit | driver.QueueTransferBit | driver.QueueSparseBindingBit, QueueCount: 1},
			{Index: 1, Flags: driver.QueueComputeBit | driver.QueueTransferBit, QueueCount: 1},
			{Index: 2, Flags: driver.QueueTransferBit | driver.QueueSparseBindingBit, QueueCount: 1},
		},
		MemoryTypes: []driver.MemoryType{
			{PropertyFlags: driver.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		SparseBinding:          true,
		SparseResidencyImage2D: true,
		TimelineSemaphore:      true,
	}
}

func New(o Options) *Device {
	d := &Device{
		logger:     debug.NewLogger("vkcore", "simdriver"),
		options:    o,
		queues:     map[driver.Queue]*queue{},
		fences:     map[driver.Fence]*fence{},
		semaphores: map[driver.Semaphore]*semaphore{},
		pools:      map[driver.CommandPool]*commandPool{},
		cbs:        map[driver.CommandBuffer]*commandBuffer{},
		queries:    map[driver.QueryPool]*queryPool{},
		memory:     map[driver.DeviceMemory]uint64{},
		buffers:    map[driver.Buffer]*buffer{},
		images:     map[driver.Image]*image{},
		faults:     map[string][]error{},
	}
	if o.Properties != nil {
		d.props = *o.Properties
	} else {
		d.props = DefaultProperties()
	}
	if d.options.SparseGranularity == (gmath.Extent3u32{}) {
		d.options.SparseGranularity = gmath.Extent3u32{X: 128, Y: 128, Z: 1}
	}
	if d.options.SparsePageSize == 0 {
		d.options.SparsePageSize = 64 * 1024
	}
	for _, f := range d.props.QueueFamilies {
		for i := uint32(0); i < max(f.QueueCount, 1); i++ {
			h := driver.Queue(d.id())
			d.queues[h] = &queue{family: f.Index, index: i}
			d.queueOrder = append(d.queueOrder, h)
		}
	}
	return d
}

func (d *Device) id() uint64 {
	d.next++
	return d.next
}

func (d *Device) violation(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.logger.WPrintf("%s", msg)
	d.violations = append(d.violations, msg)
}

// FailNext makes the next call to op return err, calls queue up in order.
// Supported ops are the Driver method names.
func (d *Device) FailNext(op string, err error) {
	d.faults[op] = append(d.faults[op], err)
}

func (d *Device) fault(op string) error {
	if f := d.faults[op]; len(f) > 0 {
		d.faults[op] = f[1:]
		return f[0]
	}
	return nil
}

func (d *Device) SetAutoComplete(b bool) {
	d.options.AutoComplete = b
	if b {
		d.process()
	}
}

// Complete runs every batch that can make progress.
func (d *Device) Complete() {
	d.process()
}

func (d *Device) Submissions() []SubmitRecord {
	return slices.Clone(d.submits)
}

func (d *Device) BindSparseCalls() []BindRecord {
	return slices.Clone(d.binds)
}

func (d *Device) FenceWaits() [][]driver.Fence {
	return slices.Clone(d.fenceWaits)
}

func (d *Device) Violations() []string {
	return slices.Clone(d.violations)
}

func (d *Device) CreatedFences() int {
	return d.createdFences
}

func (d *Device) CreatedSemaphores() int {
	return d.createdSemaphores
}

func (d *Device) MemoryAllocationCount() int {
	return d.allocations
}

func (d *Device) QueueFamily(q driver.Queue) uint32 {
	return d.queues[q].family
}

// Pending returns the number of batches not yet executed.
func (d *Device) Pending() int {
	n := 0
	for _, q := range d.queues {
		n += len(q.pending)
	}
	return n
}

type LiveObjects struct {
	Fences, Semaphores, CommandPools, QueryPools, Memory, Buffers, Images int
}

func (d *Device) Live() LiveObjects {
	return LiveObjects{
		Fences:       len(d.fences),
		Semaphores:   len(d.semaphores),
		CommandPools: len(d.pools),
		QueryPools:   len(d.queries),
		Memory:       len(d.memory),
		Buffers:      len(d.buffers),
		Images:       len(d.images),
	}
}

// ResidentPages returns the number of bound pages of a sparse image mip level across all layers.
func (d *Device) ResidentPages(img driver.Image, mip uint32) int {
	i, ok := d.images[img]
	if !ok {
		return 0
	}
	n := 0
	for sub, pages := range i.pageBinds {
		if sub.MipLevel == mip {
			n += len(pages)
		}
	}
	return n
}

// TailBinds returns the number of opaque mip tail regions bound for img.
func (d *Device) TailBinds(img driver.Image) int {
	if i, ok := d.images[img]; ok {
		return len(i.tailBinds)
	}
	return 0
}

func (d *Device) Properties() driver.Properties {
	p := d.props
	p.QueueFamilies = slices.Clone(d.props.QueueFamilies)
	p.MemoryTypes = slices.Clone(d.props.MemoryTypes)
	return p
}

func (d *Device) GetQueue(family, index uint32) driver.Queue {
	for _, h := range d.queueOrder {
		if q := d.queues[h]; q.family == family && q.index == index {
			return h
		}
	}
	return 0
}

func (d *Device) Destroy() {
	d.process()
	live := d.Live()
	if live != (LiveObjects{}) {
		d.violation("Destroy called with live objects: %+v", live)
	}
}
