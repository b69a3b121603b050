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

// Package pagepool owns a page arena and the buddy allocator that manages it,
// and serializes every call with a single mutex.
package pagepool

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/cloudwego/pagealloc/arena"
	"github.com/cloudwego/pagealloc/buddy"
)

// ErrClosed is returned by every operation on a closed Pool.
var ErrClosed = errors.New("pagepool: closed")

type options struct {
	pageSize int
	maxRank  int
	heap     bool
	logger   *slog.Logger
}

// Option configures a Pool.
type Option func(*options)

// WithPageSize sets the page size in bytes. Default buddy.PageSize.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithMaxRank sets the highest rank. Default buddy.MaxRank.
func WithMaxRank(r int) Option {
	return func(o *options) { o.maxRank = r }
}

// WithHeap backs the pool with Go heap memory instead of an OS mapping.
func WithHeap() Option {
	return func(o *options) { o.heap = true }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Pool is a fixed-size page pool safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	arena  *arena.Arena
	alloc  *buddy.Allocator
	log    *slog.Logger
	closed bool
}

// New maps pages pages and initializes a buddy allocator over them.
func New(pages int, opts ...Option) (*Pool, error) {
	o := options{pageSize: buddy.PageSize, maxRank: buddy.MaxRank}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	newArena := arena.New
	if o.heap {
		newArena = arena.NewHeap
	}
	ar, err := newArena(pages, o.pageSize)
	if err != nil {
		return nil, err
	}
	a, err := buddy.NewWithPageSize(ar.Bytes(), pages, o.pageSize, o.maxRank)
	if err != nil {
		_ = ar.Release()
		return nil, err
	}

	o.logger.Info("pagepool opened",
		"pages", pages, "page_size", o.pageSize, "max_rank", o.maxRank, "mapped", ar.Mapped())
	return &Pool{arena: ar, alloc: a, log: o.logger}, nil
}

// Alloc returns a block of buddy.PagesForRank(rank) pages.
func (p *Pool) Alloc(rank int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	b, err := p.alloc.Alloc(rank)
	if err != nil {
		p.log.Debug("alloc failed", "rank", rank, "available", p.alloc.Available(), "err", err)
		return nil, err
	}
	return b, nil
}

// Free returns a block obtained from Alloc. b must not be used afterwards.
func (p *Pool) Free(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.alloc.Free(b); err != nil {
		p.log.Debug("free rejected", "len", len(b), "err", err)
		return err
	}
	return nil
}

// Rank returns the rank of the block containing b[0].
func (p *Pool) Rank(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.alloc.Rank(b)
}

// FreeCount returns the number of free blocks of the given rank.
func (p *Pool) FreeCount(rank int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.alloc.FreeCount(rank)
}

// Stats returns a summary of the pool, zero after Close.
func (p *Pool) Stats() buddy.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return buddy.Stats{}
	}
	return p.alloc.Stats()
}

// Check verifies the allocator bookkeeping, see buddy.Allocator.Check.
func (p *Pool) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.alloc.Check()
}

// Close releases the arena. Every block handed out by the pool becomes
// invalid. Calling Close twice returns ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	s := p.alloc.Stats()
	p.alloc.Close()
	p.log.Info("pagepool closed", "pages", s.TotalPages, "allocated_pages", s.AllocatedPages)
	return p.arena.Release()
}
