package buddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeListsPushPop(t *testing.T) {
	var l freeLists
	l.init(4, 16)

	assert.Equal(t, -1, l.pop(1))
	l.push(1, 3)
	l.push(1, 7)
	l.push(1, 5)
	assert.Equal(t, 3, l.len(1))
	assert.Equal(t, []int{5, 7, 3}, entries(&l, 1))

	assert.Equal(t, 5, l.pop(1))
	assert.Equal(t, 7, l.pop(1))
	assert.Equal(t, 3, l.pop(1))
	assert.Equal(t, -1, l.pop(1))
	assert.Zero(t, l.len(1))
	assert.False(t, l.linked(3))
}

func TestFreeListsRemove(t *testing.T) {
	tests := []struct {
		name   string
		remove int
		want   []int
	}{
		{"top", 4, []int{3, 2, 1}},
		{"middle", 2, []int{4, 3, 1}},
		{"bottom", 1, []int{4, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l freeLists
			l.init(2, 8)
			for _, i := range []int{1, 2, 3, 4} {
				l.push(2, i)
			}
			require.True(t, l.linked(tt.remove))
			l.remove(2, tt.remove)
			assert.False(t, l.linked(tt.remove))
			assert.Equal(t, tt.want, entries(&l, 2))
			assert.Equal(t, 3, l.len(2))

			// order of the rest is untouched, so pops follow it
			for _, want := range tt.want {
				assert.Equal(t, want, l.pop(2))
			}
		})
	}
}

func TestFreeListsRanksIndependent(t *testing.T) {
	var l freeLists
	l.init(3, 8)
	l.push(1, 0)
	l.push(2, 2)
	l.push(3, 4)
	assert.Equal(t, []int{0}, entries(&l, 1))
	assert.Equal(t, []int{2}, entries(&l, 2))
	assert.Equal(t, []int{4}, entries(&l, 3))

	// out of range ranks behave as empty
	assert.Zero(t, l.len(10))
	assert.Empty(t, entries(&l, 10))
}

func TestFreeListsReinit(t *testing.T) {
	var l freeLists
	l.init(3, 8)
	l.push(2, 6)
	l.init(3, 4)
	assert.Zero(t, l.len(2))
	assert.Len(t, l.prev, 4)
	for i := 0; i < 4; i++ {
		assert.False(t, l.linked(i))
	}
}

// helpers

func entries(l *freeLists, rank int) []int {
	var out []int
	l.each(rank, func(idx int) bool {
		out = append(out, idx)
		return true
	})
	return out
}
