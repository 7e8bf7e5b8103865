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
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

type Stats struct {
	FramesBegun uint64
	FramesEnded uint64

	FencesCreated       int
	FenceWaits          int
	SemaphoresCreated   int
	SemaphoresDestroyed int

	Submits         int
	EmptySubmits    int
	SwapchainSplits int

	SparseBinds      int
	SparseBindErrors int
	ResidentPages    int

	DestroyersRun int
}

func (d *Device) Stats() Stats {
	d.noCopy.Check()
	return d.stats
}

// StatsJSON returns the device counters, the arena sizes and the memory
// allocator occupancy as one JSON object.
func (d *Device) StatsJSON() []byte {
	d.noCopy.Check()
	w := jwriter.NewWriter()
	obj := w.Object()

	frames := obj.Name("frames").Object()
	frames.Name("inFlight").Int(len(d.frames))
	frames.Name("begun").Float64(float64(d.stats.FramesBegun))
	frames.Name("ended").Float64(float64(d.stats.FramesEnded))
	frames.End()

	sync := obj.Name("sync").Object()
	sync.Name("fencesCreated").Int(d.stats.FencesCreated)
	sync.Name("fenceWaits").Int(d.stats.FenceWaits)
	sync.Name("fenceCallbacksPending").Int(d.fences.Pending())
	sync.Name("semaphoresCreated").Int(d.stats.SemaphoresCreated)
	sync.Name("semaphoresDestroyed").Int(d.stats.SemaphoresDestroyed)
	sync.End()

	submits := obj.Name("submits").Object()
	submits.Name("submits").Int(d.stats.Submits)
	submits.Name("emptySubmits").Int(d.stats.EmptySubmits)
	submits.Name("swapchainSplits").Int(d.stats.SwapchainSplits)
	submits.End()

	sparse := obj.Name("sparse").Object()
	sparse.Name("binds").Int(d.stats.SparseBinds)
	sparse.Name("bindErrors").Int(d.stats.SparseBindErrors)
	sparse.Name("residentPages").Int(d.stats.ResidentPages)
	sparse.End()

	arenas := obj.Name("arenas").Object()
	arenas.Name("buffers").Int(d.buffers.Len())
	arenas.Name("images").Int(d.images.Len())
	arenas.End()

	obj.Name("destroyersRun").Int(d.stats.DestroyersRun)

	alloc := obj.Name("allocator").Object()
	d.allocator.PrintStats(&alloc)
	alloc.End()

	obj.End()
	return w.Bytes()
}
