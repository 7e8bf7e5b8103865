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
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/container"
	"goarrg.com/rhi/vkcore/internal/util"
)

type fenceState uint8

const (
	fenceFree fenceState = iota
	fenceRequested
	fenceSubmitted
	fenceObserved
)

func (s fenceState) String() string {
	switch s {
	case fenceFree:
		return "free"
	case fenceRequested:
		return "requested"
	case fenceSubmitted:
		return "submitted"
	case fenceObserved:
		return "observed"
	default:
		return "unknown"
	}
}

/*
FenceManager recycles fences. A fence moves free -> requested -> submitted ->
observed -> free, it is only reset and handed out again once its signal was
observed by the host through Wait or Poll.
*/
type FenceManager struct {
	device    *Device
	free      container.Stack[driver.Fence]
	states    map[driver.Fence]fenceState
	callbacks map[driver.Fence][]func()
	// callback fences in registration order
	pollOrder []driver.Fence
}

func newFenceManager(d *Device) *FenceManager {
	return &FenceManager{
		device:    d,
		states:    map[driver.Fence]fenceState{},
		callbacks: map[driver.Fence][]func(){},
	}
}

// RequestRawFence returns an unsignaled fence, the caller must hand it back
// through Recycle or AddFenceCallback.
func (m *FenceManager) RequestRawFence() (driver.Fence, error) {
	if err := m.device.usable(); err != nil {
		return driver.NullFence, err
	}
	if f, ok := m.free.TryPop(); ok {
		m.states[f] = fenceRequested
		return f, nil
	}
	f, err := m.device.drv.CreateFence(false)
	if err != nil {
		return driver.NullFence, m.device.wrapResult(err, "Failed to create fence")
	}
	instance.logger.VPrintf("Created fence %s", toHex(uint64(f)))
	m.states[f] = fenceRequested
	m.device.stats.FencesCreated++
	return f, nil
}

func (m *FenceManager) RequestFence() (*ScopedFence, error) {
	f, err := m.RequestRawFence()
	if err != nil {
		return nil, err
	}
	s := ScopedFence{manager: m, fence: f}
	s.noCopy.Init()
	return &s, nil
}

func (m *FenceManager) state(f driver.Fence) fenceState {
	s, ok := m.states[f]
	if !ok {
		abort("Fence %s is not owned by the FenceManager", toHex(uint64(f)))
	}
	return s
}

// checkSubmit aborts unless f may be attached to a submission.
func (m *FenceManager) checkSubmit(f driver.Fence) {
	if f == driver.NullFence {
		return
	}
	if s := m.state(f); s != fenceRequested {
		abort("Fence %s submitted while %s, a fence may only be submitted once per request", toHex(uint64(f)), s)
	}
}

func (m *FenceManager) markSubmitted(f driver.Fence) {
	if f != driver.NullFence {
		m.states[f] = fenceSubmitted
	}
}

// Wait blocks until every fence is signaled, fences that were never submitted
// are skipped.
func (m *FenceManager) Wait(fences ...driver.Fence) error {
	if err := m.device.usable(); err != nil {
		return err
	}
	wait := make([]driver.Fence, 0, len(fences))
	for _, f := range fences {
		if m.state(f) == fenceSubmitted {
			wait = append(wait, f)
		}
	}
	if len(wait) == 0 {
		return nil
	}
	if err := m.device.drv.WaitForFences(wait, true, m.device.config.FenceTimeout); err != nil {
		if driver.ResultOf(err) == driver.Timeout {
			return debug.Errorf("Timed out after %v waiting on %d fences", m.device.config.FenceTimeout, len(wait))
		}
		return m.device.wrapResult(err, "Failed to wait on %d fences", len(wait))
	}
	m.device.stats.FenceWaits++
	for _, f := range wait {
		m.states[f] = fenceObserved
		if _, ok := m.callbacks[f]; ok {
			m.complete(f)
		}
	}
	return nil
}

// Recycle resets f and returns it to the pool. Recycling a fence whose signal
// was never observed aborts.
func (m *FenceManager) Recycle(f driver.Fence) {
	switch s := m.state(f); s {
	case fenceRequested:
	case fenceObserved:
		if err := m.device.drv.ResetFences([]driver.Fence{f}); err != nil {
			instance.logger.WPrintf("Failed to reset fence %s, destroying it: %v", toHex(uint64(f)), err)
			m.device.drv.DestroyFence(f)
			delete(m.states, f)
			return
		}
	default:
		abort("Recycle on fence %s while %s, its signal must be observed first", toHex(uint64(f)), s)
	}
	m.states[f] = fenceFree
	m.free.Push(f)
}

// AddFenceCallback registers cb to run once f is observed signaled, f is then
// recycled by the manager.
func (m *FenceManager) AddFenceCallback(f driver.Fence, cb func()) {
	if s := m.state(f); s == fenceFree {
		abort("AddFenceCallback on free fence %s", toHex(uint64(f)))
	}
	if _, ok := m.callbacks[f]; !ok {
		m.pollOrder = append(m.pollOrder, f)
	}
	m.callbacks[f] = append(m.callbacks[f], cb)
}

func (m *FenceManager) complete(f driver.Fence) {
	cbs := m.callbacks[f]
	delete(m.callbacks, f)
	m.pollOrder = slices.DeleteFunc(m.pollOrder, func(e driver.Fence) bool { return e == f })
	for _, cb := range cbs {
		cb()
	}
	m.Recycle(f)
}

// Poll runs the callbacks of every signaled fence and returns how many fences
// completed.
func (m *FenceManager) Poll() (int, error) {
	if err := m.device.usable(); err != nil {
		return 0, err
	}
	return m.poll()
}

func (m *FenceManager) poll() (int, error) {
	n := 0
	for _, f := range slices.Clone(m.pollOrder) {
		if m.state(f) != fenceSubmitted {
			continue
		}
		switch err := m.device.drv.GetFenceStatus(f); driver.ResultOf(err) {
		case driver.Success:
			m.states[f] = fenceObserved
			m.complete(f)
			n++
		case driver.NotReady:
		default:
			return n, m.device.wrapResult(err, "Failed to get fence status")
		}
	}
	return n, nil
}

// Pending returns the number of fences with callbacks that have not fired.
func (m *FenceManager) Pending() int {
	return len(m.pollOrder)
}

func (m *FenceManager) destroy() {
	for f := range m.states {
		m.device.drv.DestroyFence(f)
	}
	m.states = map[driver.Fence]fenceState{}
	m.callbacks = map[driver.Fence][]func(){}
	m.pollOrder = nil
	m.free.Drain()
}

// ScopedFence owns a fence until Close or Release.
//
//	f, err := device.Fences().RequestFence()
//	if err != nil {
//		return err
//	}
//	defer f.Close()
type ScopedFence struct {
	noCopy   util.NoCopy
	manager  *FenceManager
	fence    driver.Fence
	released bool
}

func (f *ScopedFence) Fence() driver.Fence {
	f.noCopy.Check()
	return f.fence
}

// Release gives up ownership, Close becomes a no op and the caller is
// responsible for recycling the fence.
func (f *ScopedFence) Release() driver.Fence {
	f.noCopy.Check()
	f.released = true
	return f.fence
}

// Close waits for the fence if it was submitted and returns it to the pool.
func (f *ScopedFence) Close() error {
	f.noCopy.Check()
	defer f.noCopy.Close()
	if f.released {
		return nil
	}
	if err := f.manager.Wait(f.fence); err != nil {
		return err
	}
	if f.manager.states[f.fence] == fenceFree {
		// recycled after its callbacks ran
		return nil
	}
	f.manager.Recycle(f.fence)
	return nil
}
