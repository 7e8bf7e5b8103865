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
	"bytes"
	"fmt"
	"strings"

	"goarrg.com/rhi/vkcore/driver"
)

type VendorID uint32

const (
	VendorAMD    VendorID = 0x1002
	VendorNVIDIA VendorID = 0x10de
	VendorIntel  VendorID = 0x8086
)

func (id VendorID) String() string {
	switch id {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	default:
		return fmt.Sprintf("Unknown: 0x%04X", uint32(id))
	}
}

func queueFlagsString(f driver.QueueFlags) string {
	var names []string
	for _, b := range []struct {
		bit  driver.QueueFlags
		name string
	}{
		{driver.QueueGraphicsBit, "GRAPHICS"},
		{driver.QueueComputeBit, "COMPUTE"},
		{driver.QueueTransferBit, "TRANSFER"},
		{driver.QueueSparseBindingBit, "SPARSE_BINDING"},
	} {
		if hasBits(f, b.bit) {
			names = append(names, b.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

func memoryPropertyString(f driver.MemoryPropertyFlags) string {
	var names []string
	if hasBits(f, driver.MemoryPropertyDeviceLocal) {
		names = append(names, "DEVICE_LOCAL")
	}
	if hasBits(f, driver.MemoryPropertyHostVisible) {
		names = append(names, "HOST_VISIBLE")
	}
	if hasBits(f, driver.MemoryPropertyHostCoherent) {
		names = append(names, "HOST_COHERENT")
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// deviceProperties is what gets logged at device creation.
type deviceProperties struct {
	props  driver.Properties
	queues map[string]uint32
}

func (d *Device) describe() *deviceProperties {
	p := deviceProperties{props: d.props, queues: map[string]uint32{}}
	for _, q := range d.queues {
		p.queues[q.typ.String()] = q.family
	}
	if d.sparseQueue != 0 {
		p.queues["sparse"] = d.sparseFamily
	}
	return &p
}

func (p *deviceProperties) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"DeviceName\": %q,", p.props.DeviceName))
	buff.WriteString(fmt.Sprintf("\"VendorID\": %q,", VendorID(p.props.VendorID).String()))
	buff.WriteString(fmt.Sprintf("\"API\": %q,", vkAPI2String(p.props.API)))
	buff.WriteString(fmt.Sprintf("\"Limits\": %s,", jsonString(p.props.Limits)))

	buff.WriteString("\"QueueFamilies\": [")
	for _, f := range p.props.QueueFamilies {
		buff.WriteString(fmt.Sprintf("{\"Index\": %d, \"Flags\": %q, \"QueueCount\": %d},", f.Index, queueFlagsString(f.Flags), f.QueueCount))
	}
	if len(p.props.QueueFamilies) > 0 {
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")

	buff.WriteString("\"MemoryTypes\": [")
	for _, t := range p.props.MemoryTypes {
		buff.WriteString(fmt.Sprintf("{\"Flags\": %q, \"HeapIndex\": %d},", memoryPropertyString(t.PropertyFlags), t.HeapIndex))
	}
	if len(p.props.MemoryTypes) > 0 {
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")

	buff.WriteString("\"Queues\": {")
	err := mapRunFuncSorted(p.queues, func(k string, v uint32) error {
		buff.WriteString(fmt.Sprintf("%q: %d,", k, v))
		return nil
	})
	if err == nil {
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("},")

	buff.WriteString(fmt.Sprintf("\"SparseBinding\": %t,", p.props.SparseBinding))
	buff.WriteString(fmt.Sprintf("\"SparseResidencyImage2D\": %t,", p.props.SparseResidencyImage2D))
	buff.WriteString(fmt.Sprintf("\"TimelineSemaphore\": %t", p.props.TimelineSemaphore))

	buff.WriteString("}")
	return buff.Bytes(), nil
}
