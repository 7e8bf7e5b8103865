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
Package vkcore tracks the lifetime of GPU objects and drives command submission
across the graphics, compute and transfer queues of a driver.Driver.

A Device is not safe for concurrent use. Command and query pools are sharded per
recording thread index so a caller may hand out indices to its own workers, but
every call into the Device has to be serialized by the caller.
*/
package vkcore

import (
	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/memalloc"
	"goarrg.com/rhi/vkcore/internal/util"
)

type Device struct {
	noCopy util.NoCopy
	drv    driver.Driver
	config Config
	props  driver.Properties

	queues       [queueTypeCount]queueState
	sparseQueue  driver.Queue
	sparseFamily uint32

	fences     *FenceManager
	semaphores *SemaphoreManager
	allocator  *memalloc.Allocator
	buffers    *Arena[Buffer]
	images     *Arena[Image]

	frames      []*frameResource
	frameIndex  int
	frameNumber uint64
	current     *Frame

	lost      bool
	destroyed bool
	stats     Stats
}

// NewDevice takes over a driver that no other Device uses, the driver stays
// owned by the caller and must outlive the Device.
func NewDevice(drv driver.Driver, config Config) (*Device, error) {
	config.validate()
	instance.logger.IPrintf("User requested config: %s", prettyString(&config))

	d := &Device{
		drv:    drv,
		config: config,
		props:  drv.Properties(),
	}
	d.noCopy.Init()

	if err := d.initQueues(); err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to select queues on %q", d.props.DeviceName)
	}
	instance.logger.IPrintf("%s", prettyString(d.describe()))

	allocator, err := memalloc.New(drv, d.props.MemoryTypes, memalloc.Options{
		BlockSize: config.MemoryBlockSize,
		PageSize:  config.MemoryPageSize,
	})
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create memory allocator")
	}
	d.allocator = allocator

	d.fences = newFenceManager(d)
	d.semaphores = newSemaphoreManager(d)
	d.buffers = NewArena(d.destroyBuffer)
	d.images = NewArena(d.destroyImage)

	d.frames = make([]*frameResource, config.MaxFramesInFlight)
	for i := range d.frames {
		d.frames[i] = newFrameResource(i, int(config.NumThreads))
	}

	instance.logger.IPrintf("Initialization Completed")
	return d, nil
}

func (d *Device) Config() Config {
	d.noCopy.Check()
	return d.config
}

func (d *Device) Properties() driver.Properties {
	d.noCopy.Check()
	return d.props
}

func (d *Device) Fences() *FenceManager {
	d.noCopy.Check()
	return d.fences
}

func (d *Device) Semaphores() *SemaphoreManager {
	d.noCopy.Check()
	return d.semaphores
}

// Lost reports whether the driver reported device lost, every later call
// fails with ErrorDeviceLost.
func (d *Device) Lost() bool {
	d.noCopy.Check()
	return d.lost
}

/*
Destroy waits for the device to go idle, runs every deletion queue and
destroys every object the Device created. Live arena entries are destroyed as
well. Calls after Destroy fail with ErrorDeviceDestroyed.
*/
func (d *Device) Destroy() {
	d.noCopy.Check()
	if d.current != nil {
		abort("Destroy called when there's an active frame")
	}
	if d.destroyed {
		return
	}

	if !d.lost {
		if err := d.drv.DeviceWaitIdle(); err != nil {
			instance.logger.WPrintf("Failed to wait for device idle: %v", d.wrapResult(err, "DeviceWaitIdle"))
		}
	}
	if !d.lost {
		if _, err := d.fences.poll(); err != nil {
			instance.logger.WPrintf("%v", err)
		}
	}
	for _, r := range d.frames {
		d.stats.DestroyersRun += r.deletion.flush()
	}

	if n := d.buffers.Len() + d.images.Len(); n > 0 {
		instance.logger.WPrintf("Destroying %d live buffers and images", n)
	}
	d.buffers.Clear()
	d.images.Clear()

	for _, r := range d.frames {
		r.destroy(d)
	}
	instance.logger.VPrintf("stats: %s", d.StatsJSON())

	d.fences.destroy()
	d.semaphores.destroy()
	if err := d.allocator.Destroy(); err != nil {
		instance.logger.WPrintf("%v", err)
	}

	d.destroyed = true
	instance.logger.IPrintf("Device destroyed")
}
