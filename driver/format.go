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

package driver

import "fmt"

// Format values are VkFormat values.
const (
	FormatUndefined          Format = 0
	FormatR8Unorm            Format = 9
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32G32B32A32Sfloat Format = 109
	FormatBC1RGBUnormBlock   Format = 131
	FormatBC1RGBAUnormBlock  Format = 133
	FormatBC3UnormBlock      Format = 137
	FormatBC5UnormBlock      Format = 141
	FormatBC7UnormBlock      Format = 145
	FormatBC7SrgbBlock       Format = 146
)

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "VK_FORMAT_UNDEFINED"
	case FormatR8Unorm:
		return "VK_FORMAT_R8_UNORM"
	case FormatR8G8B8A8Unorm:
		return "VK_FORMAT_R8G8B8A8_UNORM"
	case FormatR8G8B8A8Srgb:
		return "VK_FORMAT_R8G8B8A8_SRGB"
	case FormatB8G8R8A8Unorm:
		return "VK_FORMAT_B8G8R8A8_UNORM"
	case FormatR16G16B16A16Sfloat:
		return "VK_FORMAT_R16G16B16A16_SFLOAT"
	case FormatR32G32B32A32Sfloat:
		return "VK_FORMAT_R32G32B32A32_SFLOAT"
	case FormatBC1RGBUnormBlock:
		return "VK_FORMAT_BC1_RGB_UNORM_BLOCK"
	case FormatBC1RGBAUnormBlock:
		return "VK_FORMAT_BC1_RGBA_UNORM_BLOCK"
	case FormatBC3UnormBlock:
		return "VK_FORMAT_BC3_UNORM_BLOCK"
	case FormatBC5UnormBlock:
		return "VK_FORMAT_BC5_UNORM_BLOCK"
	case FormatBC7UnormBlock:
		return "VK_FORMAT_BC7_UNORM_BLOCK"
	case FormatBC7SrgbBlock:
		return "VK_FORMAT_BC7_SRGB_BLOCK"
	default:
		return fmt.Sprintf("VkFormat(%d)", uint32(f))
	}
}
