/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package arena provides page-granular backing memory for a buddy pool.
//
// On unix an Arena is an anonymous private mapping, so it is page aligned and
// lives outside the Go heap. Elsewhere, or when requested with NewHeap, it is
// an uninitialized heap slice.
package arena

import (
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// ErrReleased is returned by Release on an arena that was already released.
var ErrReleased = errors.New("arena: released")

// Arena is a contiguous run of pages.
type Arena struct {
	data     []byte
	pages    int
	pageSize int
	mapped   bool
}

// New returns an arena of pages pages of pageSize bytes, mapped from the OS
// where supported.
func New(pages, pageSize int) (*Arena, error) {
	size, err := arenaSize(pages, pageSize)
	if err != nil {
		return nil, err
	}
	data, mapped, err := mmap(size)
	if err != nil {
		return nil, fmt.Errorf("arena: map %d bytes: %w", size, err)
	}
	return &Arena{data: data, pages: pages, pageSize: pageSize, mapped: mapped}, nil
}

// NewHeap returns an arena backed by the Go heap. Its contents are not zeroed.
func NewHeap(pages, pageSize int) (*Arena, error) {
	size, err := arenaSize(pages, pageSize)
	if err != nil {
		return nil, err
	}
	return &Arena{data: dirtmake.Bytes(size, size), pages: pages, pageSize: pageSize}, nil
}

func arenaSize(pages, pageSize int) (int, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return 0, fmt.Errorf("arena: page size must be a power of two, got %d", pageSize)
	}
	if pages <= 0 || pages > maxSize/pageSize {
		return 0, fmt.Errorf("arena: invalid page count %d", pages)
	}
	return pages * pageSize, nil
}

const maxSize = int(^uint(0) >> 1)

// Bytes returns the arena memory, nil after Release.
func (a *Arena) Bytes() []byte { return a.data }

// Pages returns the number of pages in the arena.
func (a *Arena) Pages() int { return a.pages }

// PageSize returns the page size in bytes.
func (a *Arena) PageSize() int { return a.pageSize }

// Mapped reports whether the arena is an OS mapping rather than heap memory.
func (a *Arena) Mapped() bool { return a.mapped }

// Release returns the memory to the OS (mapped) or drops the reference (heap).
// Every slice obtained from Bytes must be dead before Release is called.
func (a *Arena) Release() error {
	if a.data == nil {
		return ErrReleased
	}
	data := a.data
	a.data = nil
	if a.mapped {
		return munmap(data)
	}
	return nil
}
