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

	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
)

type QueueType uint8

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
	queueTypeCount
)

func (t QueueType) String() string {
	switch t {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("QueueType(%d)", uint8(t))
	}
}

type pendingWait struct {
	info driver.SemaphoreSubmitInfo
	// owned waits are binary semaphores from the SemaphoreManager, they are
	// destroyed once the submission consuming them retires.
	owned bool
}

type queueState struct {
	typ    QueueType
	queue  driver.Queue
	family uint32
	waits  []pendingWait
	// needsFence is set by anything submitted or waited on the queue since the
	// last frame end, the frame end must then fence the queue.
	needsFence bool
}

func (q *queueState) waitInfos() []driver.SemaphoreSubmitInfo {
	if len(q.waits) == 0 {
		return nil
	}
	infos := make([]driver.SemaphoreSubmitInfo, len(q.waits))
	for i, w := range q.waits {
		infos[i] = w.info
	}
	return infos
}

type queueFamilies struct {
	graphics, compute, transfer, sparse int
}

// selectQueueFamilies prefers dedicated compute and transfer families so the
// three logical queues run asynchronously where the hardware allows it.
func selectQueueFamilies(families []driver.QueueFamily) (queueFamilies, error) {
	sel := queueFamilies{-1, -1, -1, -1}
	find := func(want, without driver.QueueFlags) int {
		for i, f := range families {
			if f.QueueCount > 0 && f.Flags.HasBits(want) && (f.Flags&without) == 0 {
				return i
			}
		}
		return -1
	}

	if sel.graphics = find(driver.QueueGraphicsBit|driver.QueueComputeBit, 0); sel.graphics < 0 {
		return sel, debug.Errorf("No queue family supports graphics and compute")
	}
	if sel.compute = find(driver.QueueComputeBit, driver.QueueGraphicsBit); sel.compute < 0 {
		sel.compute = sel.graphics
	}
	if sel.transfer = find(driver.QueueTransferBit, driver.QueueGraphicsBit|driver.QueueComputeBit); sel.transfer < 0 {
		if sel.transfer = find(driver.QueueTransferBit, driver.QueueGraphicsBit); sel.transfer < 0 {
			sel.transfer = sel.graphics
		}
	}
	if families[sel.graphics].Flags.HasBits(driver.QueueSparseBindingBit) {
		sel.sparse = sel.graphics
	} else {
		sel.sparse = find(driver.QueueSparseBindingBit, 0)
	}
	return sel, nil
}

func (d *Device) initQueues() error {
	sel, err := selectQueueFamilies(d.props.QueueFamilies)
	if err != nil {
		return err
	}
	for t, i := range [queueTypeCount]int{sel.graphics, sel.compute, sel.transfer} {
		family := d.props.QueueFamilies[i].Index
		d.queues[t] = queueState{
			typ:    QueueType(t),
			queue:  d.drv.GetQueue(family, 0),
			family: family,
		}
		instance.logger.VPrintf("%s queue: family %d", QueueType(t), family)
	}
	if sel.sparse >= 0 && d.props.SparseBinding {
		d.sparseFamily = d.props.QueueFamilies[sel.sparse].Index
		d.sparseQueue = d.drv.GetQueue(d.sparseFamily, 0)
		instance.logger.VPrintf("sparse queue: family %d", d.sparseFamily)
	}
	return nil
}

// QueueFamily returns the family index backing the logical queue t.
func (d *Device) QueueFamily(t QueueType) uint32 {
	d.noCopy.Check()
	if t >= queueTypeCount {
		abort("Invalid queue type: %d", t)
	}
	return d.queues[t].family
}

// WaitIdle blocks until every queue is idle and runs the callbacks of every
// fence signaled in the process.
func (d *Device) WaitIdle() error {
	d.noCopy.Check()
	if err := d.usable(); err != nil {
		return err
	}
	if err := d.drv.DeviceWaitIdle(); err != nil {
		return d.wrapResult(err, "Failed to wait for device idle")
	}
	_, err := d.fences.poll()
	return err
}
