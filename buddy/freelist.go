package buddy

const (
	// none terminates a list.
	none int32 = -1
	// unlinked marks a page that heads no free block.
	unlinked int32 = -2
)

// freeLists holds one LIFO stack of free blocks per rank.
//
// The stacks live out of band: each block is named by the index of its first
// page, and the links are threaded through per-page next/prev arrays instead
// of through the free memory itself. Pushing and popping at the head keeps
// the same order an intrusive singly-linked stack would have, while prev
// makes removing an arbitrary block (a buddy during merge) O(1).
type freeLists struct {
	heads  []int32 // per rank, heads[0] unused
	counts []int   // per rank
	next   []int32 // per page
	prev   []int32 // per page, unlinked if the page heads no free block
}

func (l *freeLists) init(maxRank, pages int) {
	l.heads = resize(l.heads, maxRank+1)
	l.counts = make([]int, maxRank+1)
	l.next = resize(l.next, pages)
	l.prev = resize(l.prev, pages)
	for i := range l.heads {
		l.heads[i] = none
	}
	for i := range l.prev {
		l.next[i] = none
		l.prev[i] = unlinked
	}
}

func resize(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}

// push makes the block at idx the new top of the rank's stack.
func (l *freeLists) push(rank, idx int) {
	head := l.heads[rank]
	l.next[idx] = head
	l.prev[idx] = none
	if head != none {
		l.prev[head] = int32(idx)
	}
	l.heads[rank] = int32(idx)
	l.counts[rank]++
}

// pop removes and returns the top of the rank's stack, or -1 if it is empty.
func (l *freeLists) pop(rank int) int {
	head := l.heads[rank]
	if head == none {
		return -1
	}
	l.remove(rank, int(head))
	return int(head)
}

// remove unlinks the block at idx from the rank's stack.
// The block must currently be on that stack.
func (l *freeLists) remove(rank, idx int) {
	next, prev := l.next[idx], l.prev[idx]
	if prev == none {
		l.heads[rank] = next
	} else {
		l.next[prev] = next
	}
	if next != none {
		l.prev[next] = prev
	}
	l.next[idx] = none
	l.prev[idx] = unlinked
	l.counts[rank]--
}

// linked reports whether the page at idx heads a block on some stack.
func (l *freeLists) linked(idx int) bool {
	return l.prev[idx] != unlinked
}

// len returns the number of blocks on the rank's stack.
func (l *freeLists) len(rank int) int {
	if rank >= len(l.counts) {
		return 0
	}
	return l.counts[rank]
}

// each visits the rank's stack from top to bottom until fn returns false.
func (l *freeLists) each(rank int, fn func(idx int) bool) {
	if rank >= len(l.heads) {
		return
	}
	for i := l.heads[rank]; i != none; i = l.next[i] {
		if !fn(int(i)) {
			return
		}
	}
}
