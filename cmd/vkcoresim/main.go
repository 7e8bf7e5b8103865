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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	"goarrg.com/rhi/vkcore"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
	"goarrg.com/rhi/vkcore/driver/vkdriver"
)

var flags flag.FlagSet

type extent gmath.Extent3u32

func (e *extent) UnmarshalText(data []byte) error {
	parts := strings.Split(string(data), "x")
	if len(parts) != 2 {
		return debug.Errorf("Extent string not in the format \"WxH\"")
	}
	w, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid extent string")
	}
	h, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid extent string")
	}
	*e = extent{X: uint32(w), Y: uint32(h), Z: 1}
	return nil
}

func (e extent) MarshalText() (text []byte, err error) {
	return fmt.Appendf(nil, "%dx%d", e.X, e.Y), nil
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags.Usage = help
	flags.Init("", flag.ExitOnError)

	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")

	frames := flags.Int("frames", 16, "Number of frames to simulate.")
	inFlight := flags.Int("frames-in-flight", 2, "Sets vkcore.Config.MaxFramesInFlight.")
	threads := flags.Int("threads", 1, "Sets vkcore.Config.NumThreads, every thread records one command buffer per queue per frame.")
	numImages := flags.Int("images", 4, "Number of sparse images streamed in and out.")
	layers := flags.Uint("layers", 1, "Array layers of every sparse image.")
	singleMipTail := flags.Bool("single-mip-tail", false, "Simulate a device that packs the mip tail of every layer into one region.")
	autoComplete := flags.Bool("auto-complete", false, "Complete GPU work on submit instead of when the host waits on it.")
	useVulkan := flags.Bool("vulkan", false, "Run on the first vulkan device instead of the simulated GPU, the sparse images are skipped when it lacks sparse residency.")
	validation := flags.Bool("validation", false, "Enable the khronos validation layer, implies -vulkan.")

	size := extent{}
	flags.TextVar(&size, "extent", extent{X: 2048, Y: 2048, Z: 1}, "Sets the extent of every sparse image in the format \"WxH\".")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		panic(err)
	}

	if *v {
		debug.SetLevel(debug.LogLevelInfo)
	} else if *vv {
		debug.SetLevel(debug.LogLevelVerbose)
	}

	var drv driver.Driver
	var sim *simdriver.Device
	if *useVulkan || *validation {
		vkd, err := vkdriver.New(vkdriver.Options{
			ApplicationName: "vkcoresim",
			Validation:      *validation,
			DeviceIndex:     -1,
		})
		if err != nil {
			debug.EPrintf("%v", err)
			os.Exit(1)
		}
		drv = vkd
	} else {
		sim = simdriver.New(simdriver.Options{
			SingleMipTail: *singleMipTail,
			AutoComplete:  *autoComplete,
		})
		drv = sim
	}

	device, err := vkcore.NewDevice(drv, vkcore.Config{
		MaxFramesInFlight: int32(*inFlight),
		NumThreads:        int32(*threads),
	})
	if err != nil {
		debug.EPrintf("%v", err)
		drv.Destroy()
		os.Exit(1)
	}

	if err := run(drv, device, *frames, *numImages, gmath.Extent3u32(size), uint32(*layers)); err != nil {
		debug.EPrintf("%v", err)
		device.Destroy()
		drv.Destroy()
		os.Exit(1)
	}
	shutdown(os.Stdout, drv, device)

	if sim == nil {
		return
	}
	if violations := sim.Violations(); len(violations) > 0 {
		for _, msg := range violations {
			debug.EPrintf("%s", msg)
		}
		os.Exit(1)
	}
}

// shutdown writes the device stats to w then destroys device and drv, the
// allocator stats are gone once the device is destroyed.
func shutdown(w io.Writer, drv driver.Driver, device *vkcore.Device) {
	fmt.Fprintf(w, "%s\n", device.StatsJSON())
	device.Destroy()
	drv.Destroy()
}

func run(drv driver.Driver, device *vkcore.Device, frames, numImages int, size gmath.Extent3u32, layers uint32) error {
	mips := uint32(0)
	for e := max(size.X, size.Y); e > 0; e >>= 1 {
		mips++
	}

	if !device.Properties().SparseResidencyImage2D {
		debug.WPrintf("%q has no sparse residency, skipping sparse images", device.Properties().DeviceName)
		numImages = 0
	}
	images := make([]vkcore.Handle, numImages)
	for i := range images {
		h, err := device.CreateSparseImage(driver.ImageCreateInfo{
			Name:        fmt.Sprintf("sparse_%d", i),
			Format:      driver.FormatBC7UnormBlock,
			Extent:      size,
			MipLevels:   mips,
			ArrayLayers: layers,
			Usage:       driver.ImageUsageSampled | driver.ImageUsageTransferDst,
		})
		if err != nil {
			return err
		}
		images[i] = h
	}
	defer func() {
		for _, h := range images {
			device.DestroyImage(h)
		}
	}()

	graphicsQueue := drv.GetQueue(device.QueueFamily(vkcore.QueueGraphics), 0)
	for n := 0; n < frames; n++ {
		frame, err := device.BeginFrame()
		if err != nil {
			return err
		}

		// stand in for the presentation engine
		acquire, err := drv.CreateSemaphore()
		if err != nil {
			return err
		}
		if err := drv.QueueSubmit(graphicsQueue, []driver.SubmitInfo{{
			Signals: []driver.SemaphoreSubmitInfo{{Semaphore: acquire}},
		}}, driver.NullFence); err != nil {
			return err
		}
		frame.SetSwapchainAcquire(acquire)
		frame.QueueDestroy(vkcore.DestroyFunc(func() { drv.DestroySemaphore(acquire) }))

		for i, h := range images {
			_, tail, pending := device.SparseResidency(h)
			if pending {
				continue
			}
			target := uint32(0)
			if (n+i)%2 == 1 {
				target = tail
			}
			if err := device.ChangeMipLevel(h, target); err != nil && !errors.Is(err, vkcore.ErrorSparseBind{}) {
				return err
			}
		}

		for thread := 0; thread < int(device.Config().NumThreads); thread++ {
			for _, t := range []vkcore.QueueType{vkcore.QueueTransfer, vkcore.QueueCompute, vkcore.QueueGraphics} {
				cb, err := frame.RequestCommandBuffer(t, thread)
				if err != nil {
					return err
				}
				// a thread's timestamps have to stay on one queue
				if t == vkcore.QueueGraphics {
					if _, err := cb.WriteTimestamp(driver.PipelineStageTopOfPipe); err != nil {
						return err
					}
					if _, err := cb.WriteTimestamp(driver.PipelineStageBottomOfPipe); err != nil {
						return err
					}
					if thread == 0 {
						cb.UseSwapchain()
					}
				}
				if _, err := device.Submit(cb, 0, driver.NullFence); err != nil {
					return err
				}
			}
		}

		debug.VPrintf("frame %d slot %d timestamps: %v", frame.Number(), frame.Index(), frame.Timestamps(0))
		if err := frame.End(); err != nil {
			return err
		}
	}
	return device.WaitIdle()
}

func help() {
	fmt.Fprintf(os.Stderr, "vkcoresim drives a vkcore.Device on a simulated GPU or a vulkan device.\n"+
		"\nEvery frame records one command buffer per queue and thread, submits through the swapchain split,\n"+
		"and streams the mip levels of a set of sparse images in and out. Device statistics are printed as JSON\n"+
		"and any misuse the simulated driver detected is reported.\n"+
		"\n")
	args := ""
	flags.VisitAll(func(f *flag.Flag) {
		n, u := flag.UnquoteUsage(f)
		if f.DefValue != "" {
			u += "\n\nDefaults to \"" + f.DefValue + "\"."
		}
		args += "\t-" + f.Name + " " + n + "\n\t\t" + strings.ReplaceAll(strings.TrimSpace(u), "\n", "\n\t\t") + "\n"
	})
	fmt.Fprintf(os.Stderr, "Usage:\n\t%s [arguments]\n\nArguments:\n%s", filepath.Base(os.Args[0]), args)
}
