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
	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/container"
	"goarrg.com/rhi/vkcore/internal/util"
)

type semaphoreState uint8

const (
	semaphoreFree semaphoreState = iota
	semaphoreRequested
	semaphoreSignaled
	semaphoreWaited
)

func (s semaphoreState) String() string {
	switch s {
	case semaphoreFree:
		return "free"
	case semaphoreRequested:
		return "requested"
	case semaphoreSignaled:
		return "signaled"
	case semaphoreWaited:
		return "waited"
	default:
		return "unknown"
	}
}

type semaphoreInfo struct {
	state semaphoreState
	// frame number that submitted the signal
	frame uint64
}

/*
SemaphoreManager hands out binary semaphores. A binary semaphore is signaled by
exactly one submission and waited on by exactly one, semaphores that served as
a one shot wait edge are destroyed rather than recycled.
*/
type SemaphoreManager struct {
	device *Device
	free   container.Stack[driver.Semaphore]
	infos  map[driver.Semaphore]*semaphoreInfo
}

func newSemaphoreManager(d *Device) *SemaphoreManager {
	return &SemaphoreManager{
		device: d,
		infos:  map[driver.Semaphore]*semaphoreInfo{},
	}
}

func (m *SemaphoreManager) RequestSemaphore() (driver.Semaphore, error) {
	if err := m.device.usable(); err != nil {
		return driver.NullSemaphore, err
	}
	if s, ok := m.free.TryPop(); ok {
		m.infos[s].state = semaphoreRequested
		return s, nil
	}
	s, err := m.device.drv.CreateSemaphore()
	if err != nil {
		return driver.NullSemaphore, m.device.wrapResult(err, "Failed to create semaphore")
	}
	instance.logger.VPrintf("Created semaphore %s", toHex(uint64(s)))
	m.infos[s] = &semaphoreInfo{state: semaphoreRequested}
	m.device.stats.SemaphoresCreated++
	return s, nil
}

// owns reports whether s was handed out by the manager and is still alive.
func (m *SemaphoreManager) owns(s driver.Semaphore) bool {
	_, ok := m.infos[s]
	return ok
}

func (m *SemaphoreManager) checkSignal(s driver.Semaphore) {
	info, ok := m.infos[s]
	if !ok {
		return
	}
	switch info.state {
	case semaphoreRequested:
	case semaphoreSignaled:
		abort("Semaphore %s signaled twice before being waited on", toHex(uint64(s)))
	default:
		abort("Semaphore %s signaled while %s", toHex(uint64(s)), info.state)
	}
}

func (m *SemaphoreManager) markSignaled(s driver.Semaphore, frame uint64) {
	if info, ok := m.infos[s]; ok {
		info.state = semaphoreSignaled
		info.frame = frame
	}
}

func (m *SemaphoreManager) checkWait(s driver.Semaphore) {
	info, ok := m.infos[s]
	if !ok {
		return
	}
	if info.state != semaphoreSignaled {
		abort("Wait on semaphore %s while %s, it must be signaled by a submitted operation first", toHex(uint64(s)), info.state)
	}
}

func (m *SemaphoreManager) markWaited(s driver.Semaphore) {
	if info, ok := m.infos[s]; ok {
		info.state = semaphoreWaited
	}
}

// RecycleSemaphore returns s to the pool. s must either never have been
// signaled, or its wait must have completed on the GPU.
func (m *SemaphoreManager) RecycleSemaphore(s driver.Semaphore) {
	info, ok := m.infos[s]
	if !ok {
		abort("RecycleSemaphore on semaphore %s not owned by the SemaphoreManager", toHex(uint64(s)))
		return
	}
	switch info.state {
	case semaphoreRequested, semaphoreWaited:
	default:
		abort("RecycleSemaphore on semaphore %s while %s", toHex(uint64(s)), info.state)
	}
	info.state = semaphoreFree
	m.free.Push(s)
}

func (m *SemaphoreManager) DestroySemaphore(s driver.Semaphore) {
	info, ok := m.infos[s]
	if !ok {
		abort("DestroySemaphore on semaphore %s not owned by the SemaphoreManager", toHex(uint64(s)))
		return
	}
	if info.state == semaphoreFree {
		abort("DestroySemaphore on pooled semaphore %s", toHex(uint64(s)))
	}
	m.device.drv.DestroySemaphore(s)
	delete(m.infos, s)
	m.device.stats.SemaphoresDestroyed++
}

// destroyStale destroys the semaphores in signaled that were signaled by frame
// and never waited on, their signal is known complete.
func (m *SemaphoreManager) destroyStale(signaled []driver.Semaphore, frame uint64) {
	for _, s := range signaled {
		if info, ok := m.infos[s]; ok && info.state == semaphoreSignaled && info.frame == frame {
			instance.logger.VPrintf("Destroying semaphore %s that was never waited on", toHex(uint64(s)))
			m.DestroySemaphore(s)
		}
	}
}

func (m *SemaphoreManager) destroy() {
	for s := range m.infos {
		m.device.drv.DestroySemaphore(s)
	}
	m.infos = map[driver.Semaphore]*semaphoreInfo{}
	m.free.Drain()
}

// TimelineSemaphore is a monotonically increasing GPU/host counter, waits on it
// are never consumed so they are never destroyed by the submission path.
type TimelineSemaphore struct {
	noCopy        util.NoCopy
	device        *Device
	semaphore     driver.Semaphore
	pendingSignal uint64
	value         uint64
}

func (m *SemaphoreManager) NewTimelineSemaphore(initial uint64) (*TimelineSemaphore, error) {
	if err := m.device.usable(); err != nil {
		return nil, err
	}
	if !m.device.props.TimelineSemaphore {
		return nil, debug.ErrorWrapf(driver.ErrorFeatureNotPresent, "Timeline semaphores are not supported by %q", m.device.props.DeviceName)
	}
	sem, err := m.device.drv.CreateTimelineSemaphore(initial)
	if err != nil {
		return nil, m.device.wrapResult(err, "Failed to create timeline semaphore")
	}
	s := TimelineSemaphore{device: m.device, semaphore: sem, pendingSignal: initial, value: initial}
	s.noCopy.Init()
	return &s, nil
}

func (s *TimelineSemaphore) Semaphore() driver.Semaphore {
	s.noCopy.Check()
	return s.semaphore
}

func (s *TimelineSemaphore) Value() (uint64, error) {
	s.noCopy.Check()
	v, err := s.device.drv.GetSemaphoreValue(s.semaphore)
	if err != nil {
		return s.value, s.device.wrapResult(err, "Failed to get semaphore value")
	}
	s.value = v
	return v, nil
}

// NextSignal reserves the next value and returns a signal for a submission.
func (s *TimelineSemaphore) NextSignal(stage driver.PipelineStage) driver.SemaphoreSubmitInfo {
	s.noCopy.Check()
	s.pendingSignal++
	return driver.SemaphoreSubmitInfo{Semaphore: s.semaphore, Value: s.pendingSignal, Stage: stage}
}

// PendingValue is the last value reserved by NextSignal or Signal.
func (s *TimelineSemaphore) PendingValue() uint64 {
	s.noCopy.Check()
	return s.pendingSignal
}

// Signal signals the next value from the host.
func (s *TimelineSemaphore) Signal() (uint64, error) {
	s.noCopy.Check()
	// this ensures we signal in order
	if err := s.Wait(s.pendingSignal); err != nil {
		return 0, err
	}
	s.pendingSignal++
	if err := s.device.drv.SignalSemaphore(s.semaphore, s.pendingSignal); err != nil {
		return 0, s.device.wrapResult(err, "Failed to signal semaphore")
	}
	s.value = s.pendingSignal
	return s.value, nil
}

func (s *TimelineSemaphore) Wait(value uint64) error {
	s.noCopy.Check()
	if s.value >= value {
		return nil
	}
	if err := s.device.drv.WaitSemaphore(s.semaphore, value, s.device.config.FenceTimeout); err != nil {
		if driver.ResultOf(err) == driver.Timeout {
			return debug.Errorf("Timed out after %v waiting on semaphore value %d", s.device.config.FenceTimeout, value)
		}
		return s.device.wrapResult(err, "Failed to wait on semaphore")
	}
	s.value = value
	return nil
}

func (s *TimelineSemaphore) Destroy() {
	s.noCopy.Check()
	if err := s.Wait(s.pendingSignal); err != nil {
		instance.logger.WPrintf("Destroying timeline semaphore with pending signals: %v", err)
	}
	s.device.drv.DestroySemaphore(s.semaphore)
	s.noCopy.Close()
}
