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

package slotmap

// option provide an interface to do work on Map while it is being created.
type option[V any, I Uint] interface {
	apply(m *Map[V, I])
}

// Allocator specifies an interface for allocating and releasing memory
// used by a Map. The default allocator utilizes Go's builtin make() and
// allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that the
// slots, values, and erase slices be freed then Map.Close must be called
// in order to ensure the Free methods are called.
type Allocator[V any, I Uint] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[I], n).
	AllocSlots(n int) []Slot[I]

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// AllocErase should return a slice equivalent to make([]I, n).
	AllocErase(n int) []I

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[I])

	// FreeValues can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)

	// FreeErase can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocErase.
	FreeErase(v []I)
}

type defaultAllocator[V any, I Uint] struct{}

func (defaultAllocator[V, I]) AllocSlots(n int) []Slot[I] {
	return make([]Slot[I], n)
}

func (defaultAllocator[V, I]) AllocValues(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[V, I]) AllocErase(n int) []I {
	return make([]I, n)
}

func (defaultAllocator[V, I]) FreeSlots(v []Slot[I]) {
}

func (defaultAllocator[V, I]) FreeValues(v []V) {
}

func (defaultAllocator[V, I]) FreeErase(v []I) {
}

type allocatorOption[V any, I Uint] struct {
	allocator Allocator[V, I]
}

func (op allocatorOption[V, I]) apply(m *Map[V, I]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Map[V,I].
func WithAllocator[V any, I Uint](allocator Allocator[V, I]) option[V, I] {
	return allocatorOption[V, I]{allocator}
}
