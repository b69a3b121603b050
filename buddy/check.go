package buddy

import (
	"fmt"
	"io"
	"math/bits"
	"strconv"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"
)

// Check walks the whole pool and verifies the bookkeeping:
//   - every page belongs to exactly one aligned block with a uniform rank and state
//   - every free block is on the stack of its rank and nothing else is
//   - no two buddies of the same rank are both free
//   - free pages plus allocated pages equal the pool size
//
// It returns an error wrapping ErrCorrupt describing the first violation.
// Check is O(pages) and meant for tests and debugging.
func (a *Allocator) Check() error {
	freeBlocks := make([]int, a.maxRank+1)
	freePages, usedPages := 0, 0

	for idx := 0; idx < a.pages; {
		rank := int(a.ranks[idx])
		if rank < 1 || rank > a.maxRank {
			return fmt.Errorf("%w: page %d has rank %d", ErrCorrupt, idx, rank)
		}
		size := PagesForRank(rank)
		if idx&(size-1) != 0 {
			return fmt.Errorf("%w: rank %d block at page %d is misaligned", ErrCorrupt, rank, idx)
		}
		if idx+size > a.pages {
			return fmt.Errorf("%w: rank %d block at page %d overruns the pool", ErrCorrupt, rank, idx)
		}
		used := a.allocated.isSet(idx)
		for i := idx + 1; i < idx+size; i++ {
			if int(a.ranks[i]) != rank || a.allocated.isSet(i) != used {
				return fmt.Errorf("%w: page %d disagrees with its block head %d", ErrCorrupt, i, idx)
			}
			if a.free.linked(i) {
				return fmt.Errorf("%w: page %d inside a block is on a free list", ErrCorrupt, i)
			}
		}
		if used == a.free.linked(idx) {
			return fmt.Errorf("%w: block at page %d allocated=%t linked=%t", ErrCorrupt, idx, used, !used)
		}
		if used {
			usedPages += size
		} else {
			freePages += size
			freeBlocks[rank]++
			if rank < a.maxRank {
				if buddy := idx ^ size; buddy+size <= a.pages && a.isFreeBlock(buddy, rank) {
					return fmt.Errorf("%w: free buddies at pages %d and %d were not merged", ErrCorrupt, idx, buddy)
				}
			}
		}
		idx += size
	}

	for r := 1; r <= a.maxRank; r++ {
		n := 0
		var err error
		a.free.each(r, func(idx int) bool {
			if int(a.ranks[idx]) != r {
				err = fmt.Errorf("%w: rank %d list holds page %d of rank %d", ErrCorrupt, r, idx, a.ranks[idx])
				return false
			}
			n++
			return n <= a.pages
		})
		if err != nil {
			return err
		}
		if n != a.free.len(r) || n != freeBlocks[r] {
			return fmt.Errorf("%w: rank %d list has %d entries, counter %d, pool walk %d",
				ErrCorrupt, r, n, a.free.len(r), freeBlocks[r])
		}
	}

	if freePages+usedPages != a.pages || usedPages != a.allocated.count() {
		return fmt.Errorf("%w: free %d + allocated %d pages != %d", ErrCorrupt, freePages, usedPages, a.pages)
	}
	return nil
}

// Fingerprint returns a hash of the page metadata: the rank map and the
// allocated flags. Two allocators over pools of the same size with the same
// fingerprint have the same blocks in the same states. Free list order is
// not included.
func (a *Allocator) Fingerprint() uint64 {
	return xxhash3.Hash(a.ranks) ^ bits.RotateLeft64(xxhash3.Hash(a.allocated), 32)
}

// Dump writes the free lists to w, one line per rank, top of stack first:
//
//	rank 3 pages=4 free=2 [12 4]
func (a *Allocator) Dump(w io.Writer) error {
	buf := mcache.Malloc(0, 256)
	defer func() { mcache.Free(buf) }()

	for r := 1; r <= a.maxRank; r++ {
		buf = append(buf[:0], "rank "...)
		buf = strconv.AppendInt(buf, int64(r), 10)
		buf = append(buf, " pages="...)
		buf = strconv.AppendInt(buf, int64(PagesForRank(r)), 10)
		buf = append(buf, " free="...)
		buf = strconv.AppendInt(buf, int64(a.free.len(r)), 10)
		buf = append(buf, " ["...)
		first := true
		a.free.each(r, func(idx int) bool {
			if !first {
				buf = append(buf, ' ')
			}
			first = false
			buf = strconv.AppendInt(buf, int64(idx), 10)
			return true
		})
		buf = append(buf, "]\n"...)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
