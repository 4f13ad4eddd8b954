// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package slotmap is a Go implementation of a dense slot map: a container
// that hands out stable, generation-checked handles to inserted values
// while keeping the values themselves packed contiguously for fast
// iteration. See https://docs.rs/slotmap for the Rust rendition of the
// idea and
// https://seanmiddleditch.github.io/data-structures-for-game-developers-the-slot-map/
// for the original write-up.
//
// # Slot maps
//
// A slot map replaces raw pointers (or raw indices) into a growable array
// with small {slot, generation} handles. Remembering a position in a
// plain array is fragile: removing an element shifts or reuses positions,
// and a remembered index silently aliases whatever data lands there next
// (the classic ABA problem for index-based references). A slot map
// detects this instead: every handle carries the generation of the slot
// it was issued from, and a handle whose generation no longer matches is
// reported as stale rather than resolved.
//
// The structure is three arrays that grow in lock-step:
//
//	slots:  [ {redirect, gen} | {redirect, gen} | ... ]   one per slot
//	values: [ v | v | v | .  | .  ]                       live prefix, packed
//	erase:  [ i | i | i | .  | .  ]                       owner slot per value
//
// The slot table is the indirection layer. An occupied slot's redirect is
// the position of its value in the packed values array. A free slot's
// redirect links to the next free slot, threading an intrusive free list
// through the table itself; no separate list allocation is needed. The
// erase table is parallel to the values array and records which slot owns
// the value at each position, so a removal can fix up the one slot whose
// value it moves without scanning the table.
//
// Removal keeps the values array packed by swapping: the last live value
// is moved into the vacated position, the moved value's owning slot is
// redirected (found through the erase table in O(1)), the freed slot's
// generation is bumped to invalidate outstanding handles, and the slot is
// pushed onto the free list. Iteration therefore always walks a gap-free
// prefix, at the cost of not preserving positional order across removals.
//
// # Implementation
//
// The slot index and generation share the unsigned integer type parameter
// I. The width of I is a deliberate configuration choice: it bounds both
// the maximum capacity of the map and how many free/occupied cycles a
// slot goes through before its generation wraps and a sufficiently old
// stale handle could alias a new value. uint16 keeps the per-slot
// overhead at 4 bytes and suits maps up to 65535 entries; uint32 buys a
// 4 billion entry range and a much larger anti-aliasing margin.
//
// Generation 0 is reserved as the invalid sentinel so that the zero
// Handle can never resolve; freshly allocated slots start at generation 1
// and the bump on free wraps around 0.
package slotmap

import (
	"fmt"
	"math"
	"strings"
)

const (
	debug = false

	// minCapacity is the capacity allocated by the first growth of an
	// empty map.
	minCapacity = 8
)

// Uint constrains the unsigned integer types usable as the slot index and
// generation type of a Map.
type Uint interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// Handle is a stable reference to a value stored in a Map, issued by
// Insert and accepted by Get, Ptr, Contains, and Remove. Handles are
// opaque and comparable; equality is structural. The zero Handle is
// invalid and is never issued.
type Handle[I Uint] struct {
	slot I
	gen  I
}

func (h Handle[I]) String() string {
	return fmt.Sprintf("slot=%d gen=%d", h.slot, h.gen)
}

// Slot is one slot table record: the indirection between a Handle and the
// storage position of its value. While a slot is occupied, redirect is
// the position of its value in the packed values array; while it is free,
// redirect links to the next free slot. gen counts the slot's
// occupied->free transitions and invalidates handles issued for earlier
// occupancies.
type Slot[I Uint] struct {
	redirect I
	gen      I
}

// Map is a dense slot map from handles to values with Insert, Get, Ptr,
// Remove, and Values operations. Insert returns a Handle through which
// the value is addressed from then on; using a handle after its value was
// removed fails with ErrStaleHandle rather than aliasing newer data. Live
// values are kept packed in a contiguous prefix of the backing array,
// exposed by Values for allocation-free iteration.
//
// A Map is NOT goroutine-safe.
type Map[V any, I Uint] struct {
	// The allocator to use for the slots, values, and erase slices.
	allocator Allocator[V, I]
	// slots is the indirection table and the free list carrier. Its
	// length is the map's capacity.
	slots []Slot[I]
	// values[:used] are the live values, packed with no gaps.
	values []V
	// erase is parallel to values; erase[i] is the index of the slot
	// that owns values[i].
	erase []I
	// free is the head of the free list, freeEnd if the list is empty.
	// The list is empty exactly when used == len(slots).
	free I
	// used is the number of live values.
	used int
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. The zero value for a Map is not usable.
func New[V any, I Uint](initialCapacity int, options ...option[V, I]) *Map[V, I] {
	m := &Map[V, I]{
		allocator: defaultAllocator[V, I]{},
		free:      freeEnd[I](),
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity > 0 {
		m.grow(initialCapacity)
	}

	m.checkInvariants()
	return m
}

// Close closes the map, releasing its arrays back to the configured
// allocator. It is unnecessary to close a map using the default
// allocator. It is invalid to use a Map after it has been closed, though
// Close itself is idempotent.
func (m *Map[V, I]) Close() {
	if m.slots != nil {
		m.allocator.FreeSlots(m.slots)
		m.allocator.FreeValues(m.values)
		m.allocator.FreeErase(m.erase)
		m.slots, m.values, m.erase = nil, nil, nil
	}
	m.used = 0
	m.free = freeEnd[I]()
	m.allocator = nil
}

// Insert adds value to the map and returns a stable handle for it. The
// handle resolves to the value until the value is removed. Insert
// allocates only if the map is at capacity; it panics if the map already
// holds the maximum number of values addressable by the index type I.
func (m *Map[V, I]) Insert(value V) Handle[I] {
	if m.used == len(m.slots) {
		newCapacity := 2 * len(m.slots)
		if newCapacity < minCapacity {
			newCapacity = minCapacity
		}
		if maxCap := maxCapacity[I](); newCapacity > maxCap {
			if len(m.slots) == maxCap {
				panic(fmt.Sprintf("slotmap: map full: %d slots exhaust the slot index type", maxCap))
			}
			newCapacity = maxCap
		}
		m.grow(newCapacity)
	}

	// Pop the head of the free list and point it at the first position
	// past the live prefix, where the value is placed.
	idx := m.free
	s := &m.slots[idx]
	m.free = s.redirect

	s.redirect = I(m.used)
	m.values[m.used] = value
	m.erase[m.used] = idx
	m.used++

	if debug {
		fmt.Printf("insert: slot=%d gen=%d pos=%d\n", idx, s.gen, m.used-1)
	}

	m.checkInvariants()
	return Handle[I]{slot: idx, gen: s.gen}
}

// Remove removes the value referenced by h. It fails with
// ErrInvalidHandle or ErrStaleHandle exactly as Get does, in which case
// the map is left unchanged. Removal keeps the values array packed by
// moving the last live value into the vacated position; the value each
// remaining live handle resolves to is unaffected.
func (m *Map[V, I]) Remove(h Handle[I]) error {
	s, err := m.lookup(h)
	if err != nil {
		return err
	}

	pos := int(s.redirect)
	m.used--
	if pos != m.used {
		// Move the last live value into the vacated position and repoint
		// the slot that owns it, before s itself is recycled below.
		m.values[pos] = m.values[m.used]
		m.erase[pos] = m.erase[m.used]
		m.slots[m.erase[pos]].redirect = I(pos)
	}
	var zero V
	m.values[m.used] = zero // release the value for GC

	s.gen = nextGen(s.gen)
	s.redirect = m.free
	m.free = h.slot

	if debug {
		fmt.Printf("remove: slot=%d pos=%d used=%d\n", h.slot, pos, m.used)
	}

	m.checkInvariants()
	return nil
}

// Get returns a copy of the value referenced by h. It fails with
// ErrInvalidHandle if h was never issued by this map (in particular for
// the zero Handle) and with ErrStaleHandle if the value was removed since
// h was issued. Get has no side effects.
func (m *Map[V, I]) Get(h Handle[I]) (V, error) {
	s, err := m.lookup(h)
	if err != nil {
		var zero V
		return zero, err
	}
	return m.values[s.redirect], nil
}

// Ptr returns a pointer to the value referenced by h, validating h
// exactly as Get does. The pointer may be used to mutate the value in
// place, but it is invalidated by any subsequent Insert, Remove, Reserve,
// Clear, or Close: the value may move within the array or the array may
// be reallocated.
func (m *Map[V, I]) Ptr(h Handle[I]) (*V, error) {
	s, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	return &m.values[s.redirect], nil
}

// Contains reports whether h currently resolves to a live value.
func (m *Map[V, I]) Contains(h Handle[I]) bool {
	_, err := m.lookup(h)
	return err == nil
}

// lookup resolves h to its slot record.
func (m *Map[V, I]) lookup(h Handle[I]) (*Slot[I], error) {
	// Generation 0 is never issued, and neither is a slot index at or
	// beyond the capacity high-water mark.
	if h.gen == 0 || uint64(h.slot) >= uint64(len(m.slots)) {
		return nil, ErrInvalidHandle
	}
	s := &m.slots[h.slot]
	if s.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return s, nil
}

// Clear removes every value from the map without shrinking its capacity.
// The generation of every slot is bumped, so every handle issued before
// the call fails afterwards. Clear is O(capacity), cheaper than removing
// the values one at a time.
func (m *Map[V, I]) Clear() {
	var zero V
	for i := 0; i < m.used; i++ {
		m.values[i] = zero
	}
	m.used = 0

	// Rebuild the free list from scratch over the full capacity.
	for i := range m.slots {
		m.slots[i].redirect = I(i) + 1
		m.slots[i].gen = nextGen(m.slots[i].gen)
	}
	if n := len(m.slots); n > 0 {
		m.slots[n-1].redirect = freeEnd[I]()
		m.free = 0
	}

	m.checkInvariants()
}

// Reserve grows the map's capacity to at least n; it never shrinks. All
// live values and handles are preserved. Reserve panics if n exceeds the
// range addressable by the slot index type I, since handles could not
// reference the added slots.
func (m *Map[V, I]) Reserve(n int) {
	if n <= len(m.slots) {
		return
	}
	m.grow(n)
	m.checkInvariants()
}

// Values returns the live values as a slice of length Len(), in no
// particular order. The slice aliases the map's packed storage: elements
// may be mutated in place, but the slice must not be appended to, and any
// subsequent Insert, Remove, Reserve, Clear, or Close invalidates it.
// Removals reorder the remaining values, so positions within the slice
// are not stable.
func (m *Map[V, I]) Values() []V {
	return m.values[:m.used]
}

// All calls yield sequentially for the handle and value of each live
// entry. If yield returns false, All stops the iteration. The map must
// not be mutated during the iteration.
func (m *Map[V, I]) All(yield func(h Handle[I], v *V) bool) {
	for i := 0; i < m.used; i++ {
		idx := m.erase[i]
		h := Handle[I]{slot: idx, gen: m.slots[idx].gen}
		if !yield(h, &m.values[i]) {
			return
		}
	}
}

// Len returns the number of live values in the map.
func (m *Map[V, I]) Len() int {
	return m.used
}

// Cap returns the map's capacity: the number of values it can hold
// without growing.
func (m *Map[V, I]) Cap() int {
	return len(m.slots)
}

// grow resizes the three arrays to newCapacity in lock-step and threads
// the added slots onto the head of the free list. The caller ensures
// newCapacity > len(m.slots).
func (m *Map[V, I]) grow(newCapacity int) {
	if maxCap := maxCapacity[I](); newCapacity > maxCap {
		panic(fmt.Sprintf("slotmap: capacity %d exceeds the %d addressable by the slot index type",
			newCapacity, maxCap))
	}

	oldCapacity := len(m.slots)
	oldSlots, oldValues, oldErase := m.slots, m.values, m.erase

	m.slots = m.allocator.AllocSlots(newCapacity)
	m.values = m.allocator.AllocValues(newCapacity)
	m.erase = m.allocator.AllocErase(newCapacity)
	copy(m.slots, oldSlots)
	copy(m.values, oldValues)
	copy(m.erase, oldErase)

	// Each new slot links to the slot after it; the last new slot links
	// to the prior free list head (freeEnd if there was none).
	for i := oldCapacity; i < newCapacity-1; i++ {
		m.slots[i] = Slot[I]{redirect: I(i) + 1, gen: 1}
	}
	m.slots[newCapacity-1] = Slot[I]{redirect: m.free, gen: 1}
	m.free = I(oldCapacity)

	if oldCapacity > 0 {
		m.allocator.FreeSlots(oldSlots)
		m.allocator.FreeValues(oldValues)
		m.allocator.FreeErase(oldErase)
	}

	if debug {
		fmt.Printf("grow: capacity=%d->%d free-head=%d\n", oldCapacity, newCapacity, m.free)
	}
}

// nextGen increments a generation, wrapping around the reserved invalid
// value 0.
func nextGen[I Uint](g I) I {
	g++
	if g == 0 {
		g = 1
	}
	return g
}

// freeEnd returns the free list terminator for index type I. Capacities
// are capped at maxCapacity, so the all-ones value is never a valid slot
// index.
func freeEnd[I Uint]() I {
	return ^I(0)
}

// maxCapacity returns the largest capacity addressable by index type I.
func maxCapacity[I Uint]() int {
	if v := uint64(^I(0)); v < math.MaxInt {
		return int(v)
	}
	return math.MaxInt
}

func (m *Map[V, I]) checkInvariants() {
	if invariants {
		// The three arrays grow in lock-step.
		if len(m.values) != len(m.slots) || len(m.erase) != len(m.slots) {
			panic(fmt.Sprintf("invariant failed: array lengths diverged: slots=%d values=%d erase=%d\n%s",
				len(m.slots), len(m.values), len(m.erase), m.debugString()))
		}
		if m.used > len(m.slots) {
			panic(fmt.Sprintf("invariant failed: %d values live in %d slots\n%s",
				m.used, len(m.slots), m.debugString()))
		}

		// Every live position's owning slot points back at it, with a
		// generation that resolves.
		for pos := 0; pos < m.used; pos++ {
			idx := m.erase[pos]
			if uint64(idx) >= uint64(len(m.slots)) {
				panic(fmt.Sprintf("invariant failed: erase(%d)=%d out of range\n%s",
					pos, idx, m.debugString()))
			}
			s := m.slots[idx]
			if int(s.redirect) != pos {
				panic(fmt.Sprintf("invariant failed: slot %d owns position %d but redirects to %d\n%s",
					idx, pos, s.redirect, m.debugString()))
			}
			if s.gen == 0 {
				panic(fmt.Sprintf("invariant failed: occupied slot %d has generation 0\n%s",
					idx, m.debugString()))
			}
		}

		// The free list visits exactly capacity-used distinct slots and
		// terminates at the sentinel.
		visited := make([]bool, len(m.slots))
		n := 0
		for i := m.free; i != freeEnd[I](); i = m.slots[i].redirect {
			if uint64(i) >= uint64(len(m.slots)) {
				panic(fmt.Sprintf("invariant failed: free list link %d out of range\n%s",
					i, m.debugString()))
			}
			if visited[i] {
				panic(fmt.Sprintf("invariant failed: free list cycles through slot %d\n%s",
					i, m.debugString()))
			}
			visited[i] = true
			n++
		}
		if n != len(m.slots)-m.used {
			panic(fmt.Sprintf("invariant failed: free list holds %d slots, expected %d\n%s",
				n, len(m.slots)-m.used, m.debugString()))
		}
	}
}

func (m *Map[V, I]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  free-head=%d\n", len(m.slots), m.used, m.free)
	for i, s := range m.slots {
		fmt.Fprintf(&buf, "  slot %4d: redirect=%d gen=%d\n", i, s.redirect, s.gen)
	}
	for pos := 0; pos < m.used; pos++ {
		fmt.Fprintf(&buf, "  pos  %4d: owner=%d value=%v\n", pos, m.erase[pos], m.values[pos])
	}
	return buf.String()
}
