package buddy

import "math/bits"

// bitmap records the allocated flag of each page, one bit per page.
type bitmap []byte

func newBitmap(old bitmap, n int) bitmap {
	size := (n + 7) >> 3
	if cap(old) < size {
		return make(bitmap, size)
	}
	b := old[:size]
	for i := range b {
		b[i] = 0
	}
	return b
}

// isSet returns true if page idx is allocated.
func (b bitmap) isSet(idx int) bool {
	return b[idx>>3]&(1<<(idx&7)) != 0
}

// setRange marks count pages starting at idx as allocated (set=true) or free (set=false).
func (b bitmap) setRange(idx, count int, set bool) {
	if count <= 0 {
		return
	}
	end := idx + count
	startByte := idx >> 3
	endByte := (end - 1) >> 3

	firstMask := byte(0xFF) << (idx & 7)
	lastMask := byte(0xFF) >> (7 - ((end - 1) & 7))

	if startByte == endByte {
		b.apply(startByte, firstMask&lastMask, set)
		return
	}

	b.apply(startByte, firstMask, set)
	fill := byte(0)
	if set {
		fill = 0xFF
	}
	for i := startByte + 1; i < endByte; i++ {
		b[i] = fill
	}
	b.apply(endByte, lastMask, set)
}

func (b bitmap) apply(i int, mask byte, set bool) {
	if set {
		b[i] |= mask
	} else {
		b[i] &^= mask
	}
}

// count returns the number of allocated pages.
func (b bitmap) count() int {
	n := 0
	for _, x := range b {
		n += bits.OnesCount8(x)
	}
	return n
}
