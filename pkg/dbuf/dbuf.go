// Package dbuf provides a two-slot publish buffer shared between one writer
// (the control thread) and any number of polling readers (lcore workers).
//
// The writer stages a complete value into the update half and then flips the
// reference index with a single atomic store. Readers only ever load the
// reference half, so they see either the previous generation or the new one,
// never a partially written value. Staged values are treated as immutable
// once stored: the writer replaces a half, it never edits one in place.
package dbuf

import "sync/atomic"

// DoubleBuffered holds two generations of a value of type T.
type DoubleBuffered[T any] struct {
	halves [2]atomic.Pointer[T]
	ref    atomic.Uint32
	upd    uint32 // writer only
}

// New returns a buffer whose reference and update halves both hold initial.
func New[T any](initial T) *DoubleBuffered[T] {
	d := &DoubleBuffered[T]{upd: 1}
	v := initial
	d.halves[0].Store(&v)
	d.halves[1].Store(&v)
	return d
}

// Read returns the published value. The result must not be modified.
func (d *DoubleBuffered[T]) Read() T {
	return *d.halves[d.ref.Load()].Load()
}

// Staged returns the value currently sitting in the update half.
func (d *DoubleBuffered[T]) Staged() T {
	return *d.halves[d.upd].Load()
}

// Stage replaces the update half. Readers are unaffected until Commit.
func (d *DoubleBuffered[T]) Stage(v T) {
	d.halves[d.upd].Store(&v)
}

// Commit publishes the update half. The previous reference half becomes the
// new update half and is reset to track the published value, so a later
// Stage starts from the current generation.
func (d *DoubleBuffered[T]) Commit() {
	old := d.ref.Load()
	d.ref.Store(d.upd)
	d.upd = old
	d.halves[d.upd].Store(d.halves[d.ref.Load()].Load())
}

// RefIndex returns the index of the published half.
func (d *DoubleBuffered[T]) RefIndex() int { return int(d.ref.Load()) }

// UpdIndex returns the index of the half written by Stage.
func (d *DoubleBuffered[T]) UpdIndex() int { return int(d.upd) }

// Snapshot is a saved copy of both halves and both indices.
type Snapshot[T any] struct {
	Ref    uint32
	Upd    uint32
	Halves [2]T
}

// Snapshot captures the buffer so it can later be handed to Restore.
func (d *DoubleBuffered[T]) Snapshot() Snapshot[T] {
	return Snapshot[T]{
		Ref:    d.ref.Load(),
		Upd:    d.upd,
		Halves: [2]T{*d.halves[0].Load(), *d.halves[1].Load()},
	}
}

// Restore overwrites both halves and both indices from s. Halves are
// replaced before the reference index is stored.
func (d *DoubleBuffered[T]) Restore(s Snapshot[T]) {
	h0, h1 := s.Halves[0], s.Halves[1]
	d.halves[0].Store(&h0)
	d.halves[1].Store(&h1)
	d.upd = s.Upd
	d.ref.Store(s.Ref)
}
