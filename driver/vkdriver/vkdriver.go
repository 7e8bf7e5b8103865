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
Package vkdriver implements driver.Driver on a Vulkan 1.0 device through
github.com/vulkan-go/vulkan.

Vulkan handles are kept in per type tables and handed out as the integer ids
driver expects. Timeline semaphores are not exposed by the binding and report
driver.ErrorFeatureNotPresent.
*/
package vkdriver

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
)

var (
	logger   = debug.NewLogger("vkcore", "vkdriver")
	initOnce sync.Once
	errInit  error
)

type Options struct {
	ApplicationName string
	// Validation enables VK_LAYER_KHRONOS_validation, creation fails if it is
	// not installed.
	Validation bool
	// DeviceIndex selects the physical device, -1 picks the first discrete GPU
	// or the first device when there is none.
	DeviceIndex int
}

// table maps the ids handed to the core to vulkan handles, ids are never reused.
type table[T comparable] struct {
	next    uint64
	handles map[uint64]T
}

func newTable[T comparable]() table[T] {
	return table[T]{handles: make(map[uint64]T)}
}

func (t *table[T]) insert(h T) uint64 {
	t.next++
	t.handles[t.next] = h
	return t.next
}

func (t *table[T]) get(id uint64) T {
	h, ok := t.handles[id]
	if !ok {
		logger.EPrintf("Unknown handle: %d", id)
		panic("Fatal Error")
	}
	return h
}

func (t *table[T]) remove(id uint64) T {
	h := t.get(id)
	delete(t.handles, id)
	return h
}

type Device struct {
	instance vk.Instance
	physical vk.PhysicalDevice
	device   vk.Device
	props    driver.Properties

	queues         table[vk.Queue]
	queueIDs       map[[2]uint32]driver.Queue
	fences         table[vk.Fence]
	semaphores     table[vk.Semaphore]
	commandPools   table[vk.CommandPool]
	commandBuffers table[vk.CommandBuffer]
	queryPools     table[vk.QueryPool]
	memory         table[vk.DeviceMemory]
	buffers        table[vk.Buffer]
	images         table[vk.Image]

	// owning pool of every command buffer
	commandBufferPools map[uint64]driver.CommandPool
}

var _ driver.Driver = (*Device)(nil)

func result(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return driver.Result(ret)
}

func cString(s string) string {
	return s + "\x00"
}

func timeoutNS(t int64) uint64 {
	if t < 0 {
		return vk.MaxUint64
	}
	return uint64(t)
}

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func loadVulkan() error {
	initOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			errInit = debug.ErrorWrapf(err, "Failed to load vulkan")
			return
		}
		if err := vk.Init(); err != nil {
			errInit = debug.ErrorWrapf(err, "Failed to init vulkan")
		}
	})
	return errInit
}

// New creates a Vulkan device with one queue from every queue family, enabling
// sparse binding and 2D sparse residency when the device supports them.
func New(o Options) (*Device, error) {
	if err := loadVulkan(); err != nil {
		return nil, err
	}

	d := &Device{
		queues:             newTable[vk.Queue](),
		queueIDs:           make(map[[2]uint32]driver.Queue),
		fences:             newTable[vk.Fence](),
		semaphores:         newTable[vk.Semaphore](),
		commandPools:       newTable[vk.CommandPool](),
		commandBuffers:     newTable[vk.CommandBuffer](),
		queryPools:         newTable[vk.QueryPool](),
		memory:             newTable[vk.DeviceMemory](),
		buffers:            newTable[vk.Buffer](),
		images:             newTable[vk.Image](),
		commandBufferPools: make(map[uint64]driver.CommandPool),
	}

	if err := d.createInstance(o); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(o.DeviceIndex); err != nil {
		vk.DestroyInstance(d.instance, nil)
		return nil, err
	}
	if err := d.createDevice(); err != nil {
		vk.DestroyInstance(d.instance, nil)
		return nil, err
	}

	logger.IPrintf("Created device %q", d.props.DeviceName)
	return d, nil
}

func (d *Device) createInstance(o Options) error {
	name := o.ApplicationName
	if name == "" {
		name = "vkcore"
	}
	info := vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			PApplicationName: cString(name),
			PEngineName:      cString("vkcore"),
			ApiVersion:       vk.MakeVersion(1, 0, 0),
		},
	}
	if o.Validation {
		info.EnabledLayerCount = 1
		info.PpEnabledLayerNames = []string{cString("VK_LAYER_KHRONOS_validation")}
	}

	var instance vk.Instance
	if err := result(vk.CreateInstance(&info, nil, &instance)); err != nil {
		return debug.ErrorWrapf(err, "Failed to create instance")
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return debug.ErrorWrapf(err, "Failed to init instance")
	}
	d.instance = instance
	return nil
}

func (d *Device) selectPhysicalDevice(index int) error {
	var count uint32
	if err := result(vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return debug.ErrorWrapf(err, "Failed to enumerate physical devices")
	}
	if count == 0 {
		return debug.Errorf("No vulkan device found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := result(vk.EnumeratePhysicalDevices(d.instance, &count, devices)); err != nil {
		return debug.ErrorWrapf(err, "Failed to enumerate physical devices")
	}

	switch {
	case index >= 0:
		if index >= len(devices) {
			return debug.Errorf("DeviceIndex %d out of range, found %d devices", index, len(devices))
		}
		d.physical = devices[index]
	default:
		d.physical = devices[0]
		for _, pd := range devices {
			var props vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &props)
			props.Deref()
			if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
				d.physical = pd
				break
			}
		}
	}

	d.props = d.queryProperties()
	return nil
}

func (d *Device) queryProperties() driver.Properties {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.physical, &props)
	props.Deref()
	props.Limits.Deref()

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(d.physical, &features)
	features.Deref()

	p := driver.Properties{
		DeviceName: vk.ToString(props.DeviceName[:]),
		VendorID:   props.VendorID,
		API:        props.ApiVersion,
		Limits: driver.Limits{
			MaxImageDimension2D:    props.Limits.MaxImageDimension2D,
			MaxImageDimension3D:    props.Limits.MaxImageDimension3D,
			MaxImageArrayLayers:    props.Limits.MaxImageArrayLayers,
			MaxMemoryAllocations:   props.Limits.MaxMemoryAllocationCount,
			BufferImageGranularity: uint64(props.Limits.BufferImageGranularity),
			SparseAddressSpaceSize: uint64(props.Limits.SparseAddressSpaceSize),
			TimestampPeriod:        props.Limits.TimestampPeriod,
		},
		SparseBinding:          features.SparseBinding == vk.True,
		SparseResidencyImage2D: features.SparseResidencyImage2D == vk.True,
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physical, &count, families)
	for i := range families {
		families[i].Deref()
		// bit values match VkQueueFlagBits
		flags := driver.QueueFlags(families[i].QueueFlags) &
			(driver.QueueGraphicsBit | driver.QueueComputeBit | driver.QueueTransferBit | driver.QueueSparseBindingBit)
		p.QueueFamilies = append(p.QueueFamilies, driver.QueueFamily{
			Index:      uint32(i),
			Flags:      flags,
			QueueCount: families[i].QueueCount,
		})
	}

	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &mem)
	mem.Deref()
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		mem.MemoryTypes[i].Deref()
		p.MemoryTypes = append(p.MemoryTypes, driver.MemoryType{
			PropertyFlags: driver.MemoryPropertyFlags(mem.MemoryTypes[i].PropertyFlags) &
				(driver.MemoryPropertyDeviceLocal | driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent),
			HeapIndex: mem.MemoryTypes[i].HeapIndex,
		})
	}

	return p
}

func (d *Device) createDevice() error {
	priority := []float32{1}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(d.props.QueueFamilies))
	for _, f := range d.props.QueueFamilies {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f.Index,
			QueueCount:       1,
			PQueuePriorities: priority,
		})
	}

	features := vk.PhysicalDeviceFeatures{
		SparseBinding:          boolean(d.props.SparseBinding),
		SparseResidencyImage2D: boolean(d.props.SparseResidencyImage2D),
	}
	info := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{features},
	}

	var device vk.Device
	if err := result(vk.CreateDevice(d.physical, &info, nil, &device)); err != nil {
		return debug.ErrorWrapf(err, "Failed to create device")
	}
	d.device = device

	for i := range d.props.QueueFamilies {
		d.props.QueueFamilies[i].QueueCount = 1
	}
	return nil
}

func (d *Device) Properties() driver.Properties {
	return d.props
}

func (d *Device) GetQueue(family, index uint32) driver.Queue {
	key := [2]uint32{family, index}
	if q, ok := d.queueIDs[key]; ok {
		return q
	}
	var queue vk.Queue
	vk.GetDeviceQueue(d.device, family, index, &queue)
	q := driver.Queue(d.queues.insert(queue))
	d.queueIDs[key] = q
	return q
}

func (d *Device) DeviceWaitIdle() error {
	return result(vk.DeviceWaitIdle(d.device))
}

func (d *Device) QueueWaitIdle(q driver.Queue) error {
	return result(vk.QueueWaitIdle(d.queues.get(uint64(q))))
}

// Destroy destroys every object still alive then the device and instance.
func (d *Device) Destroy() {
	leaked := len(d.fences.handles) + len(d.semaphores.handles) + len(d.commandPools.handles) +
		len(d.queryPools.handles) + len(d.memory.handles) + len(d.buffers.handles) + len(d.images.handles)
	if leaked > 0 {
		logger.WPrintf("Destroying device with %d live objects", leaked)
	}

	for _, h := range d.fences.handles {
		vk.DestroyFence(d.device, h, nil)
	}
	for _, h := range d.semaphores.handles {
		vk.DestroySemaphore(d.device, h, nil)
	}
	for _, h := range d.commandPools.handles {
		vk.DestroyCommandPool(d.device, h, nil)
	}
	for _, h := range d.queryPools.handles {
		vk.DestroyQueryPool(d.device, h, nil)
	}
	for _, h := range d.buffers.handles {
		vk.DestroyBuffer(d.device, h, nil)
	}
	for _, h := range d.images.handles {
		vk.DestroyImage(d.device, h, nil)
	}
	for _, h := range d.memory.handles {
		vk.FreeMemory(d.device, h, nil)
	}

	vk.DestroyDevice(d.device, nil)
	vk.DestroyInstance(d.instance, nil)
	logger.IPrintf("Destroyed device %q", d.props.DeviceName)
}
