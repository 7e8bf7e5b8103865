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

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

func TestShutdownReportsAllocator(t *testing.T) {
	sim := simdriver.New(simdriver.Options{})
	device, err := vkcore.NewDevice(sim, vkcore.Config{MaxFramesInFlight: 2, NumThreads: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := run(sim, device, 4, 1, gmath.Extent3u32{X: 512, Y: 512, Z: 1}, 1); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	shutdown(&out, sim, device)

	var stats struct {
		Allocator struct {
			BlockCount int
		}
	}
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Allocator.BlockCount == 0 {
		t.Fatalf("allocator stats printed after the allocator was destroyed: %s", out.String())
	}
	if v := sim.Violations(); len(v) > 0 {
		t.Fatalf("violations: %v", v)
	}
}
