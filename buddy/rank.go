package buddy

import "math/bits"

const (
	// PageSize is the default page size in bytes.
	PageSize = 4096

	// MaxRank is the default highest rank. A rank-r block spans 2^(r-1) pages.
	MaxRank = 16

	// MaxPages is the default pool capacity in pages, one maximal block.
	MaxPages = 1 << (MaxRank - 1)

	// maxRankLimit keeps page indices within int32 and ranks within uint8.
	maxRankLimit = 31
)

// PagesForRank returns the number of pages in a block of the given rank.
func PagesForRank(rank int) int {
	return 1 << (rank - 1)
}

// RankForPages returns the smallest rank whose block holds at least n pages.
func RankForPages(n int) int {
	if n <= 1 {
		return 1
	}
	return bits.Len(uint(n-1)) + 1
}
