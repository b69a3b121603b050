package buddy

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/cloudwego/pagealloc/unsafex"
)

// Allocator is a buddy page allocator over a caller-supplied arena.
//
// The arena is split into pages of a fixed size. Requests are served in
// blocks of 2^(rank-1) pages; larger free blocks are split on demand and
// freed blocks are merged with their free buddy on release.
//
// Allocator is not safe for concurrent use. Callers must serialize every
// method, e.g. with one mutex around the whole allocator.
//
// Memory handed out by the allocator belongs to the caller until it is freed.
// The allocator never reads or writes the arena itself; all bookkeeping is
// kept out of band.
type Allocator struct {
	// arena is the managed memory, exactly pages*pageSize bytes.
	arena []byte

	// base is a cached pointer to the start of the arena.
	base unsafe.Pointer

	pages     int
	pageSize  int
	pageShift int
	maxRank   int

	// ranks holds the rank of the block each page belongs to, 0 if unset.
	ranks []uint8

	// allocated holds an explicit allocated flag per page, so that double
	// frees and unknown pointers are rejected instead of corrupting state.
	allocated bitmap

	free freeLists
}

// New creates an allocator with the default page size (4KB) and max rank (16)
// managing the first pages pages of arena.
func New(arena []byte, pages int) (*Allocator, error) {
	return NewWithPageSize(arena, pages, PageSize, MaxRank)
}

// NewWithPageSize creates an allocator with a custom page size and max rank.
// pageSize must be a power of two and maxRank must be in [1, 31].
func NewWithPageSize(arena []byte, pages, pageSize, maxRank int) (*Allocator, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size must be a power of two, got %d", ErrInvalidArgument, pageSize)
	}
	if maxRank < 1 || maxRank > maxRankLimit {
		return nil, fmt.Errorf("%w: max rank must be in [1, %d], got %d", ErrInvalidArgument, maxRankLimit, maxRank)
	}
	a := &Allocator{
		pageSize:  pageSize,
		pageShift: bits.TrailingZeros(uint(pageSize)),
		maxRank:   maxRank,
	}
	if err := a.Init(arena, pages); err != nil {
		return nil, err
	}
	return a, nil
}

// Init (re)initializes the allocator over the first pages pages of arena.
// Every previous allocation is forgotten.
//
// A zero Allocator uses the default page size and max rank.
// pages must be in [1, PagesForRank(maxRank)] and arena must hold at least
// pages*pageSize bytes.
func (a *Allocator) Init(arena []byte, pages int) error {
	if a.pageSize == 0 {
		a.pageSize, a.pageShift, a.maxRank = PageSize, bits.TrailingZeros(PageSize), MaxRank
	}
	if len(arena) == 0 {
		return fmt.Errorf("%w: empty arena", ErrInvalidArgument)
	}
	if maxPages := PagesForRank(a.maxRank); pages < 1 || pages > maxPages {
		return fmt.Errorf("%w: page count must be in [1, %d], got %d", ErrInvalidArgument, maxPages, pages)
	}
	if len(arena)>>a.pageShift < pages {
		return fmt.Errorf("%w: arena of %d bytes cannot hold %d pages of %d bytes",
			ErrInvalidArgument, len(arena), pages, a.pageSize)
	}

	size := pages << a.pageShift
	a.arena = arena[:size:size]
	a.base = unsafex.SliceData(a.arena)
	a.pages = pages

	if cap(a.ranks) < pages {
		a.ranks = make([]uint8, pages)
	} else {
		a.ranks = a.ranks[:pages]
		for i := range a.ranks {
			a.ranks[i] = 0
		}
	}
	a.allocated = newBitmap(a.allocated, pages)
	a.free.init(a.maxRank, pages)

	a.partition()
	return nil
}

// partition carves the pool into maximal power-of-two blocks, largest first.
// Each block starts at a multiple of its own size.
func (a *Allocator) partition() {
	for idx, remaining := 0, a.pages; remaining > 0; {
		rank := min(bits.Len(uint(remaining)), a.maxRank)
		for idx&(PagesForRank(rank)-1) != 0 {
			rank--
		}
		a.stamp(idx, rank)
		a.free.push(rank, idx)
		n := PagesForRank(rank)
		idx += n
		remaining -= n
	}
}

// Reset returns the allocator to the state right after Init.
// It is a no-op on an allocator that was never initialized.
func (a *Allocator) Reset() {
	if a.pages == 0 {
		return
	}
	_ = a.Init(a.arena, a.pages)
}

// Close detaches the allocator from its arena. Page size and max rank are
// kept; every other operation fails until Init is called again.
func (a *Allocator) Close() {
	a.arena = nil
	a.base = nil
	a.pages = 0
	a.ranks = nil
	a.allocated = nil
	a.free = freeLists{}
}

// AllocPages allocates a block of PagesForRank(rank) pages and returns a
// pointer to its first byte. The block offset from the arena start is a
// multiple of the block size.
func (a *Allocator) AllocPages(rank int) (unsafe.Pointer, error) {
	idx, err := a.alloc(rank)
	if err != nil {
		return nil, err
	}
	return a.pageAddr(idx), nil
}

// Alloc is AllocPages returning the block as a slice whose length and
// capacity are the block size in bytes.
func (a *Allocator) Alloc(rank int) ([]byte, error) {
	idx, err := a.alloc(rank)
	if err != nil {
		return nil, err
	}
	off := idx << a.pageShift
	end := off + PagesForRank(rank)<<a.pageShift
	return a.arena[off:end:end], nil
}

func (a *Allocator) alloc(rank int) (int, error) {
	if rank < 1 || rank > a.maxRank {
		return -1, ErrInvalidRank
	}

	// Find the smallest non-empty rank >= rank
	current := rank
	for current <= a.maxRank && a.free.len(current) == 0 {
		current++
	}
	if current > a.maxRank {
		return -1, ErrOutOfMemory
	}
	idx := a.free.pop(current)

	// Split until we reach the requested rank.
	// The lower half keeps idx, the upper half becomes a free block one rank down.
	for current > rank {
		current--
		upper := idx + PagesForRank(current)
		a.stamp(upper, current)
		a.free.push(current, upper)
	}

	a.stamp(idx, rank)
	a.allocated.setRange(idx, PagesForRank(rank), true)
	return idx, nil
}

// FreePages returns the block starting at p to the allocator and merges it
// with its free buddies as far as possible.
//
// p must be a pointer returned by AllocPages (or the data pointer of a slice
// returned by Alloc) that has not been freed since. Anything else, including
// a second free of the same block, fails with ErrInvalidArgument and leaves
// the allocator untouched. The caller must not touch the block afterwards.
func (a *Allocator) FreePages(p unsafe.Pointer) error {
	idx, ok := a.blockIndex(p)
	if !ok {
		return ErrInvalidArgument
	}
	rank := int(a.ranks[idx])
	a.allocated.setRange(idx, PagesForRank(rank), false)

	for rank < a.maxRank {
		size := PagesForRank(rank)
		// idx is aligned to size, so the buddy is the other half of the
		// 2*size region: idx+size for a lower half, idx-size for an upper half.
		buddy := idx ^ size
		if buddy+size > a.pages || !a.isFreeBlock(buddy, rank) {
			break
		}
		a.free.remove(rank, buddy)
		idx &^= size
		rank++
	}

	a.stamp(idx, rank)
	a.free.push(rank, idx)
	return nil
}

// Free is FreePages for a slice returned by Alloc.
// Only the data pointer of b is used; it may be resliced to zero length.
func (a *Allocator) Free(b []byte) error {
	return a.FreePages(unsafex.SliceData(b))
}

// QueryRank returns the rank of the block containing p, free or allocated.
// p may point anywhere inside the pool.
func (a *Allocator) QueryRank(p unsafe.Pointer) (int, error) {
	off, ok := a.offset(p)
	if !ok {
		return 0, ErrInvalidArgument
	}
	return int(a.ranks[off>>a.pageShift]), nil
}

// Rank is QueryRank for the data pointer of b.
func (a *Allocator) Rank(b []byte) (int, error) {
	return a.QueryRank(unsafex.SliceData(b))
}

// FreeCount returns the number of free blocks of the given rank.
func (a *Allocator) FreeCount(rank int) (int, error) {
	if rank < 1 || rank > a.maxRank {
		return 0, ErrInvalidArgument
	}
	return a.free.len(rank), nil
}

// Available returns the total free bytes.
func (a *Allocator) Available() int {
	free := 0
	for r := 1; r <= a.maxRank; r++ {
		free += a.free.len(r) * PagesForRank(r)
	}
	return free << a.pageShift
}

// Pages returns the number of pages managed by the allocator.
func (a *Allocator) Pages() int { return a.pages }

// PageSize returns the page size in bytes.
func (a *Allocator) PageSize() int { return a.pageSize }

// MaxRank returns the highest rank the allocator serves.
func (a *Allocator) MaxRank() int { return a.maxRank }

// Stats is a point-in-time summary of an Allocator.
type Stats struct {
	TotalPages     int
	FreePages      int
	AllocatedPages int
	// FreeBlocks[r] is the number of free blocks of rank r; FreeBlocks[0] is unused.
	FreeBlocks []int
}

// Stats returns a summary of the allocator's state.
func (a *Allocator) Stats() Stats {
	s := Stats{
		TotalPages: a.pages,
		FreeBlocks: make([]int, a.maxRank+1),
	}
	for r := 1; r <= a.maxRank; r++ {
		n := a.free.len(r)
		s.FreeBlocks[r] = n
		s.FreePages += n * PagesForRank(r)
	}
	s.AllocatedPages = a.allocated.count()
	return s
}

// offset returns the byte offset of p in the arena, and false if p is outside it.
func (a *Allocator) offset(p unsafe.Pointer) (int, bool) {
	off, ok := unsafex.Offset(a.base, p)
	if !ok || off >= uintptr(len(a.arena)) {
		return 0, false
	}
	return int(off), true
}

// blockIndex returns the first page index of the allocated block starting at p.
func (a *Allocator) blockIndex(p unsafe.Pointer) (int, bool) {
	off, ok := a.offset(p)
	if !ok || off&(a.pageSize-1) != 0 {
		return 0, false
	}
	idx := off >> a.pageShift
	rank := int(a.ranks[idx])
	if rank < 1 || rank > a.maxRank || !a.allocated.isSet(idx) {
		return 0, false
	}
	// Must be the head of its block, not a page inside it
	if idx&(PagesForRank(rank)-1) != 0 {
		return 0, false
	}
	return idx, true
}

// isFreeBlock reports whether a free block of the given rank starts at idx.
func (a *Allocator) isFreeBlock(idx, rank int) bool {
	return a.free.linked(idx) && int(a.ranks[idx]) == rank
}

// stamp records rank for every page of the block starting at idx.
func (a *Allocator) stamp(idx, rank int) {
	r := uint8(rank)
	pages := a.ranks[idx : idx+PagesForRank(rank)]
	for i := range pages {
		pages[i] = r
	}
}

func (a *Allocator) pageAddr(idx int) unsafe.Pointer {
	return unsafe.Add(a.base, idx<<a.pageShift)
}
