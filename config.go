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
	"time"

	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/util"
)

const (
	DefaultMemoryBlockSize    uint64 = 64 << 20
	DefaultMemoryPageSize     uint64 = 64 << 10
	DefaultTimestampsPerFrame uint32 = 64
)

type Config struct {
	// MaxFramesInFlight is the number of frame slots, it bounds how many frames
	// of GPU work may be outstanding.
	MaxFramesInFlight int32
	// NumThreads is the number of recording threads command and query pools
	// are sharded for.
	NumThreads int32
	// FenceTimeout bounds every host fence wait, zero waits forever.
	FenceTimeout time.Duration

	MemoryBlockSize    uint64
	MemoryPageSize     uint64
	TimestampsPerFrame uint32
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"MaxFramesInFlight\": %d,", c.MaxFramesInFlight))
	buff.WriteString(fmt.Sprintf("\"NumThreads\": %d,", c.NumThreads))
	if c.FenceTimeout == driver.Infinite {
		buff.WriteString("\"FenceTimeout\": \"infinite\",")
	} else {
		buff.WriteString(fmt.Sprintf("\"FenceTimeout\": %q,", c.FenceTimeout.String()))
	}
	buff.WriteString(fmt.Sprintf("\"MemoryBlockSize\": %q,", toHex(c.MemoryBlockSize)))
	buff.WriteString(fmt.Sprintf("\"MemoryPageSize\": %q,", toHex(c.MemoryPageSize)))
	buff.WriteString(fmt.Sprintf("\"TimestampsPerFrame\": %d", c.TimestampsPerFrame))
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() {
	if c.MaxFramesInFlight <= 0 {
		abort("Config.MaxFramesInFlight must be >= 1")
	}
	if c.NumThreads <= 0 {
		abort("Config.NumThreads must be >= 1")
	}
	if c.FenceTimeout == 0 {
		c.FenceTimeout = driver.Infinite
	} else if c.FenceTimeout < 0 && c.FenceTimeout != driver.Infinite {
		abort("Config.FenceTimeout must be positive")
	}
	if c.MemoryBlockSize == 0 {
		c.MemoryBlockSize = DefaultMemoryBlockSize
	}
	if c.MemoryPageSize == 0 {
		c.MemoryPageSize = DefaultMemoryPageSize
	}
	if !util.IsPowerOfTwo(c.MemoryBlockSize) || !util.IsPowerOfTwo(c.MemoryPageSize) {
		abort("Config.MemoryBlockSize [%d] and Config.MemoryPageSize [%d] must be powers of two", c.MemoryBlockSize, c.MemoryPageSize)
	}
	if c.MemoryBlockSize < c.MemoryPageSize*64 {
		abort("Config.MemoryBlockSize [%d] must hold at least 64 pages", c.MemoryBlockSize)
	}
	if c.TimestampsPerFrame == 0 {
		c.TimestampsPerFrame = DefaultTimestampsPerFrame
	}
}
