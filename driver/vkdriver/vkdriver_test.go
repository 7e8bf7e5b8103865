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

package vkdriver

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"goarrg.com/rhi/vkcore/driver"
)

func TestTable(t *testing.T) {
	tbl := newTable[string]()
	a := tbl.insert("a")
	b := tbl.insert("b")
	if a == 0 || a == b {
		t.Fatalf("insert returned ids %d and %d", a, b)
	}
	if got := tbl.get(b); got != "b" {
		t.Fatalf("get(%d) = %q, want \"b\"", b, got)
	}
	if got := tbl.remove(a); got != "a" {
		t.Fatalf("remove(%d) = %q, want \"a\"", a, got)
	}
	if c := tbl.insert("c"); c == a || c == b {
		t.Fatalf("insert reused id %d", c)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("get on a removed id did not panic")
			}
		}()
		tbl.get(a)
	}()
}

func TestResult(t *testing.T) {
	tests := []struct {
		ret  vk.Result
		want driver.Result
	}{
		{vk.NotReady, driver.NotReady},
		{vk.Timeout, driver.Timeout},
		{vk.ErrorOutOfDeviceMemory, driver.ErrorOutOfDeviceMemory},
		{vk.ErrorDeviceLost, driver.ErrorDeviceLost},
		{vk.ErrorFeatureNotPresent, driver.ErrorFeatureNotPresent},
	}
	if err := result(vk.Success); err != nil {
		t.Fatalf("result(Success) = %v", err)
	}
	for _, test := range tests {
		if got := driver.ResultOf(result(test.ret)); got != test.want {
			t.Errorf("result(%d) = %s, want %s", test.ret, got, test.want)
		}
	}
}

func TestTimeout(t *testing.T) {
	if got := timeoutNS(int64(driver.Infinite)); got != vk.MaxUint64 {
		t.Fatalf("timeoutNS(Infinite) = %d", got)
	}
	if got := timeoutNS(1000); got != 1000 {
		t.Fatalf("timeoutNS(1000) = %d", got)
	}
	if boolean(true) != vk.True || boolean(false) != vk.False {
		t.Fatal("boolean does not map to vk.True and vk.False")
	}
}
