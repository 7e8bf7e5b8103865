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

/*
Package memalloc sub allocates device memory for buffers, images and sparse pages.

Memory is handed out in fixed size pages from large blocks, one block list per
memory type. Requests larger than half a block, or with an alignment larger than
a page, get a dedicated allocation. Each list keeps at most one empty block
around so that a streaming workload that frees and reallocates pages every frame
does not hit the driver allocator.
*/
package memalloc

import (
	"slices"

	"github.com/cockroachdb/errors"
	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/container"
	"goarrg.com/rhi/vkcore/internal/util"
	"golang.org/x/exp/maps"
)

var (
	ErrNoMemoryType    = errors.New("no compatible memory type")
	ErrInvalidRequest  = errors.New("invalid allocation request")
	ErrDoubleFree      = errors.New("allocation freed twice")
	ErrLiveAllocations = errors.New("allocator destroyed with live allocations")
)

// Memory is the subset of driver.Driver used by the allocator.
type Memory interface {
	AllocateMemory(size uint64, memoryTypeIndex uint32) (driver.DeviceMemory, error)
	FreeMemory(driver.DeviceMemory)
}

type Options struct {
	BlockSize uint64
	PageSize  uint64
}

type Allocation struct {
	Memory driver.DeviceMemory
	Offset uint64
	Size   uint64

	typeIndex uint32
	block     *block
	first     int
	pages     int
}

func (a Allocation) Dedicated() bool {
	return a.block == nil
}

func (a Allocation) MemoryTypeIndex() uint32 {
	return a.typeIndex
}

type block struct {
	id     int
	memory driver.DeviceMemory
	pages  container.Bitmap[uint64]
	live   int
}

type blockList struct {
	typeIndex uint32
	blocks    []*block
	empty     *block
}

type Allocator struct {
	logger  *debug.Logger
	mem     Memory
	types   []driver.MemoryType
	options Options

	lists     map[uint32]*blockList
	dedicated map[driver.DeviceMemory]uint64
	nextBlock int

	stats Stats
}

func New(mem Memory, types []driver.MemoryType, o Options) (*Allocator, error) {
	if !util.IsPowerOfTwo(o.PageSize) || !util.IsPowerOfTwo(o.BlockSize) {
		return nil, errors.Newf("block size %d and page size %d must be powers of two", o.BlockSize, o.PageSize)
	}
	if o.BlockSize < o.PageSize*64 {
		return nil, errors.Newf("block size %d must hold at least 64 pages of %d bytes", o.BlockSize, o.PageSize)
	}
	return &Allocator{
		logger:    debug.NewLogger("vkcore", "memalloc"),
		mem:       mem,
		types:     slices.Clone(types),
		options:   o,
		lists:     map[uint32]*blockList{},
		dedicated: map[driver.DeviceMemory]uint64{},
	}, nil
}

func (a *Allocator) PageSize() uint64 {
	return a.options.PageSize
}

// FindMemoryType returns the first memory type allowed by typeBits that has every
// flag in required set.
func (a *Allocator) FindMemoryType(typeBits uint32, required driver.MemoryPropertyFlags) (uint32, error) {
	for i, t := range a.types {
		if typeBits&(1<<i) != 0 && t.PropertyFlags.HasBits(required) {
			return uint32(i), nil
		}
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "type bits %#x with properties %#x", typeBits, required)
}

func (a *Allocator) Allocate(req driver.MemoryRequirements, required driver.MemoryPropertyFlags) (Allocation, error) {
	if req.Size == 0 {
		return Allocation{}, errors.Wrap(ErrInvalidRequest, "zero size")
	}
	if req.Alignment != 0 && !util.IsPowerOfTwo(req.Alignment) {
		return Allocation{}, errors.Wrapf(ErrInvalidRequest, "alignment %d is not a power of two", req.Alignment)
	}
	typeIndex, err := a.FindMemoryType(req.MemoryTypeBits, required)
	if err != nil {
		return Allocation{}, err
	}

	if req.Size > a.options.BlockSize/2 || req.Alignment > a.options.PageSize {
		return a.allocateDedicated(typeIndex, req.Size)
	}

	pages := int(util.DivCeil(req.Size, a.options.PageSize))
	list := a.list(typeIndex)
	for _, b := range list.blocks {
		if first, ok := b.pages.SearchRange(pages); ok {
			return a.claim(list, b, first, pages, req.Size), nil
		}
	}

	b, err := a.newBlock(list)
	if err != nil {
		return Allocation{}, err
	}
	first, _ := b.pages.SearchRange(pages)
	return a.claim(list, b, first, pages, req.Size), nil
}

func (a *Allocator) list(typeIndex uint32) *blockList {
	l, ok := a.lists[typeIndex]
	if !ok {
		l = &blockList{typeIndex: typeIndex}
		a.lists[typeIndex] = l
	}
	return l
}

func (a *Allocator) newBlock(l *blockList) (*block, error) {
	if l.empty != nil {
		b := l.empty
		l.empty = nil
		l.blocks = append(l.blocks, b)
		a.stats.BlockReuses++
		return b, nil
	}

	mem, err := a.mem.AllocateMemory(a.options.BlockSize, l.typeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d byte block of memory type %d", a.options.BlockSize, l.typeIndex)
	}
	b := &block{id: a.nextBlock, memory: mem}
	a.nextBlock++
	b.pages.Grow(int(a.options.BlockSize/a.options.PageSize) / 64)
	l.blocks = append(l.blocks, b)

	a.stats.BlockCount++
	a.stats.DeviceBytes += a.options.BlockSize
	a.logger.VPrintf("new block %d of memory type %d", b.id, l.typeIndex)
	return b, nil
}

func (a *Allocator) claim(l *blockList, b *block, first, pages int, size uint64) Allocation {
	for i := first; i < first+pages; i++ {
		b.pages.Set(i)
	}
	b.live++
	a.stats.AllocationCount++
	a.stats.AllocatedBytes += uint64(pages) * a.options.PageSize
	return Allocation{
		Memory:    b.memory,
		Offset:    uint64(first) * a.options.PageSize,
		Size:      size,
		typeIndex: l.typeIndex,
		block:     b,
		first:     first,
		pages:     pages,
	}
}

func (a *Allocator) allocateDedicated(typeIndex uint32, size uint64) (Allocation, error) {
	mem, err := a.mem.AllocateMemory(size, typeIndex)
	if err != nil {
		return Allocation{}, errors.Wrapf(err, "allocate %d byte dedicated memory of type %d", size, typeIndex)
	}
	a.dedicated[mem] = size
	a.stats.DedicatedCount++
	a.stats.AllocationCount++
	a.stats.AllocatedBytes += size
	a.stats.DeviceBytes += size
	return Allocation{Memory: mem, Size: size, typeIndex: typeIndex}, nil
}

func (a *Allocator) Free(alloc Allocation) error {
	if alloc.block == nil {
		size, ok := a.dedicated[alloc.Memory]
		if !ok {
			return errors.Wrapf(ErrDoubleFree, "dedicated memory %d", alloc.Memory)
		}
		delete(a.dedicated, alloc.Memory)
		a.mem.FreeMemory(alloc.Memory)
		a.stats.DedicatedCount--
		a.stats.AllocationCount--
		a.stats.AllocatedBytes -= size
		a.stats.DeviceBytes -= size
		return nil
	}

	b := alloc.block
	for i := alloc.first; i < alloc.first+alloc.pages; i++ {
		if !b.pages.IsSet(i) {
			return errors.Wrapf(ErrDoubleFree, "page %d of block %d", i, b.id)
		}
	}
	for i := alloc.first; i < alloc.first+alloc.pages; i++ {
		b.pages.Unset(i)
	}
	b.live--
	a.stats.AllocationCount--
	a.stats.AllocatedBytes -= uint64(alloc.pages) * a.options.PageSize

	if b.live == 0 {
		l := a.lists[alloc.typeIndex]
		l.blocks = slices.DeleteFunc(l.blocks, func(e *block) bool { return e == b })
		if l.empty == nil {
			l.empty = b
		} else {
			a.releaseBlock(b)
		}
	}
	return nil
}

func (a *Allocator) releaseBlock(b *block) {
	a.mem.FreeMemory(b.memory)
	a.stats.BlockCount--
	a.stats.DeviceBytes -= a.options.BlockSize
	a.logger.VPrintf("released block %d", b.id)
}

// Destroy frees every block, live allocations are reported and their memory
// freed with the rest.
func (a *Allocator) Destroy() error {
	var err error
	if a.stats.AllocationCount > 0 {
		err = errors.Wrapf(ErrLiveAllocations, "%d allocations", a.stats.AllocationCount)
		a.logger.WPrintf("%v", err)
	}

	keys := maps.Keys(a.lists)
	slices.Sort(keys)
	for _, k := range keys {
		l := a.lists[k]
		for _, b := range l.blocks {
			a.releaseBlock(b)
		}
		if l.empty != nil {
			a.releaseBlock(l.empty)
		}
	}
	for mem := range a.dedicated {
		a.mem.FreeMemory(mem)
	}
	a.lists = map[uint32]*blockList{}
	a.dedicated = map[driver.DeviceMemory]uint64{}
	a.stats = Stats{}
	return err
}
