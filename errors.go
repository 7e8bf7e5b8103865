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
)

// ErrorDeviceLost is fatal, once returned every later call on the Device fails
// with it.
type ErrorDeviceLost struct{}

func (ErrorDeviceLost) Is(target error) bool {
	_, ok := target.(ErrorDeviceLost)
	return ok
}

func (ErrorDeviceLost) Error() string {
	return "Device Lost"
}

type ErrorOutOfMemory struct {
	Result driver.Result
}

func (ErrorOutOfMemory) Is(target error) bool {
	_, ok := target.(ErrorOutOfMemory)
	return ok
}

func (e ErrorOutOfMemory) Error() string {
	if e.Result == driver.ErrorOutOfHostMemory {
		return "Out Of Host Memory"
	}
	return "Out Of Device Memory"
}

// ErrorSparseBind is returned when the driver rejects a sparse bind, the image
// is left exactly as it was so the caller may fall back to a non sparse image.
type ErrorSparseBind struct{}

func (ErrorSparseBind) Is(target error) bool {
	_, ok := target.(ErrorSparseBind)
	return ok
}

func (ErrorSparseBind) Error() string {
	return "Sparse Bind Failed"
}

type ErrorResizePending struct{}

func (ErrorResizePending) Is(target error) bool {
	_, ok := target.(ErrorResizePending)
	return ok
}

func (ErrorResizePending) Error() string {
	return "Sparse Resize Pending"
}

type ErrorDeviceDestroyed struct{}

func (ErrorDeviceDestroyed) Is(target error) bool {
	_, ok := target.(ErrorDeviceDestroyed)
	return ok
}

func (ErrorDeviceDestroyed) Error() string {
	return "Device Destroyed"
}

// wrapResult classifies a driver error, device lost is latched on d.
func (d *Device) wrapResult(err error, format string, args ...any) error {
	switch r := driver.ResultOf(err); {
	case r == driver.ErrorDeviceLost:
		if !d.lost {
			d.lost = true
			instance.logger.EPrintf("Device lost: "+format, args...)
		}
		return debug.ErrorWrapf(ErrorDeviceLost{}, format, args...)
	case r.IsOutOfMemory():
		return debug.ErrorWrapf(ErrorOutOfMemory{Result: r}, format, args...)
	default:
		return debug.ErrorWrapf(err, format, args...)
	}
}

// usable returns the error every operation fails with once the device is lost or destroyed.
func (d *Device) usable() error {
	if d.destroyed {
		return debug.ErrorWrapf(ErrorDeviceDestroyed{}, "Device used after Destroy")
	}
	if d.lost {
		return debug.ErrorWrapf(ErrorDeviceLost{}, "Device was lost")
	}
	return nil
}
