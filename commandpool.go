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
	"goarrg.com/rhi/vkcore/driver"
)

/*
commandPool owns every command buffer one thread records for one queue type in
one frame slot. Buffers are never freed individually, request hands out the
buffer at the cursor and reset rewinds the cursor after resetting the whole pool.
*/
type commandPool struct {
	device  *Device
	pool    driver.CommandPool
	family  uint32
	buffers []driver.CommandBuffer
	cursor  int
}

func newCommandPool(d *Device, family uint32) (*commandPool, error) {
	pool, err := d.drv.CreateCommandPool(family)
	if err != nil {
		return nil, d.wrapResult(err, "Failed to create command pool for family %d", family)
	}
	instance.logger.VPrintf("Created command pool %s for family %d", toHex(uint64(pool)), family)
	return &commandPool{device: d, pool: pool, family: family}, nil
}

// request returns a command buffer in the recording state.
func (p *commandPool) request() (driver.CommandBuffer, error) {
	if p.cursor == len(p.buffers) {
		cbs, err := p.device.drv.AllocateCommandBuffers(p.pool, 1)
		if err != nil {
			return 0, p.device.wrapResult(err, "Failed to allocate command buffer")
		}
		p.buffers = append(p.buffers, cbs...)
	}
	cb := p.buffers[p.cursor]
	if err := p.device.drv.BeginCommandBuffer(cb); err != nil {
		return 0, p.device.wrapResult(err, "Failed to begin command buffer")
	}
	p.cursor++
	return cb, nil
}

// reset must only be called once every buffer handed out since the last
// reset has retired.
func (p *commandPool) reset() error {
	if p.cursor == 0 {
		return nil
	}
	p.cursor = 0
	if err := p.device.drv.ResetCommandPool(p.pool); err != nil {
		return p.device.wrapResult(err, "Failed to reset command pool")
	}
	return nil
}

func (p *commandPool) destroy() {
	p.device.drv.DestroyCommandPool(p.pool)
	p.buffers = nil
	p.cursor = 0
}
