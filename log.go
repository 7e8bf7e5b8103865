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
	"goarrg.com"
	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/internal/util"
)

type platform struct{}

func (platform) Abort()                           { panic("Fatal Error") }
func (platform) AbortPopup(f string, args ...any) { panic("Fatal Error") }

// state is shared by every Device, it only holds what has to be reachable from
// places that have no Device, abort and logging.
type state struct {
	platform goarrg.PlatformInterface
	logger   *debug.Logger
}

var instance = state{
	platform: platform{},
	logger:   debug.NewLogger("vkcore"),
}

func abort(fmt string, args ...any) {
	instance.logger.EPrintf(fmt, args...)
	instance.platform.Abort()
}

// SetPlatform installs the handler invoked on programmer errors, the default
// handler panics.
func SetPlatform(p goarrg.PlatformInterface) {
	instance.platform = p
	util.Init(p)
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}
