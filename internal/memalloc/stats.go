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

package memalloc

import (
	"slices"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/maps"
)

type Stats struct {
	BlockCount      int
	BlockReuses     int
	DedicatedCount  int
	AllocationCount int
	AllocatedBytes  uint64
	DeviceBytes     uint64
}

func (a *Allocator) Stats() Stats {
	return a.stats
}

// PrintStats writes the allocator totals followed by per memory type block
// occupancy into json.
func (a *Allocator) PrintStats(json *jwriter.ObjectState) {
	json.Name("blockCount").Int(a.stats.BlockCount)
	json.Name("blockReuses").Int(a.stats.BlockReuses)
	json.Name("dedicatedCount").Int(a.stats.DedicatedCount)
	json.Name("allocationCount").Int(a.stats.AllocationCount)
	json.Name("allocatedBytes").Float64(float64(a.stats.AllocatedBytes))
	json.Name("deviceBytes").Float64(float64(a.stats.DeviceBytes))

	types := json.Name("memoryTypes").Array()
	keys := maps.Keys(a.lists)
	slices.Sort(keys)
	for _, k := range keys {
		l := a.lists[k]
		obj := types.Object()
		obj.Name("memoryTypeIndex").Int(int(k))
		obj.Name("cachedEmptyBlock").Bool(l.empty != nil)
		blocks := obj.Name("blocks").Array()
		for _, b := range l.blocks {
			bo := blocks.Object()
			bo.Name("id").Int(b.id)
			bo.Name("allocations").Int(b.live)
			bo.Name("usedPages").Int(b.pages.Len() - b.pages.Rem())
			bo.Name("totalPages").Int(b.pages.Len())
			bo.End()
		}
		blocks.End()
		obj.End()
	}
	types.End()
}

func (a *Allocator) StatsJSON() []byte {
	w := jwriter.NewWriter()
	obj := w.Object()
	a.PrintStats(&obj)
	obj.End()
	return w.Bytes()
}
