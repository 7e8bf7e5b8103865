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

// timestampPool is one thread's query pool of a frame slot. The reset of the
// whole pool is recorded into the first command buffer writing a timestamp in
// the frame, so timestamps of one thread must be submitted in record order on
// a single queue.
type timestampPool struct {
	pool     driver.QueryPool
	capacity uint32
	used     uint32
	reset    bool
}

func (d *Device) newTimestampPool() (*timestampPool, error) {
	pool, err := d.drv.CreateQueryPool(d.config.TimestampsPerFrame)
	if err != nil {
		return nil, d.wrapResult(err, "Failed to create timestamp query pool")
	}
	return &timestampPool{pool: pool, capacity: d.config.TimestampsPerFrame}, nil
}

func (p *timestampPool) write(d *Device, cb driver.CommandBuffer, stage driver.PipelineStage) uint32 {
	if p.used == p.capacity {
		abort("Exceeded Config.TimestampsPerFrame [%d]", p.capacity)
	}
	if !p.reset {
		d.drv.CmdResetQueryPool(cb, p.pool, 0, p.capacity)
		p.reset = true
	}
	q := p.used
	d.drv.CmdWriteTimestamp(cb, stage, p.pool, q)
	p.used++
	return q
}

// readback returns the timestamps written during the slot's previous use, the
// pool is then ready for the next frame.
func (p *timestampPool) readback(d *Device) ([]uint64, error) {
	defer func() {
		p.used = 0
		p.reset = false
	}()
	if p.used == 0 {
		return nil, nil
	}
	values, err := d.drv.GetQueryPoolResults(p.pool, 0, p.used)
	if err != nil {
		return nil, d.wrapResult(err, "Failed to read back %d timestamps", p.used)
	}
	return values, nil
}

func (p *timestampPool) destroy(d *Device) {
	d.drv.DestroyQueryPool(p.pool)
}
