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

import (
	"fmt"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

// The runtimeMap benchmarks approximate a slot map with a builtin map
// keyed by a monotonically increasing id, which is the structure a slot
// map typically replaces.

var sink int64

func benchSizes(f func(b *testing.B, n int)) func(b *testing.B) {
	return func(b *testing.B) {
		for _, n := range []int{16, 128, 1024, 8192, 131072} {
			b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
				f(b, n)
			})
		}
	}
}

func BenchmarkInsertGrow(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapInsertGrow))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapInsertGrow))
}

func benchmarkSlotMapInsertGrow(b *testing.B, n int) {
	ctrs := perfbench.Open(b)
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		m := New[int64, uint32](0)
		for j := 0; j < n; j++ {
			m.Insert(int64(j))
		}
		sink += int64(m.Len())
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapInsertGrow(b *testing.B, n int) {
	ctrs := perfbench.Open(b)
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		m := make(map[uint32]int64)
		for j := 0; j < n; j++ {
			m[uint32(j)] = int64(j)
		}
		sink += int64(len(m))
	}
	ctrs.Stop()
}

func BenchmarkInsertPreAllocate(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapInsertPreAllocate))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapInsertPreAllocate))
}

func benchmarkSlotMapInsertPreAllocate(b *testing.B, n int) {
	ctrs := perfbench.Open(b)
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		m := New[int64, uint32](n)
		for j := 0; j < n; j++ {
			m.Insert(int64(j))
		}
		sink += int64(m.Len())
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapInsertPreAllocate(b *testing.B, n int) {
	ctrs := perfbench.Open(b)
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		m := make(map[uint32]int64, n)
		for j := 0; j < n; j++ {
			m[uint32(j)] = int64(j)
		}
		sink += int64(len(m))
	}
	ctrs.Stop()
}

func BenchmarkGetHit(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapGetHit))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
}

func benchmarkSlotMapGetHit(b *testing.B, n int) {
	m := New[int64, uint32](n)
	handles := make([]Handle[uint32], n)
	for i := range handles {
		handles[i] = m.Insert(int64(i))
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		v, _ := m.Get(handles[i%n])
		sink += v
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int) {
	m := make(map[uint32]int64, n)
	for i := 0; i < n; i++ {
		m[uint32(i)] = int64(i)
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		sink += m[uint32(i%n)]
	}
	ctrs.Stop()
}

func BenchmarkGetStale(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapGetStale))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
}

func benchmarkSlotMapGetStale(b *testing.B, n int) {
	m := New[int64, uint32](n)
	handles := make([]Handle[uint32], n)
	for i := range handles {
		handles[i] = m.Insert(int64(i))
	}
	for _, h := range handles {
		if err := m.Remove(h); err != nil {
			b.Fatal(err)
		}
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		if _, err := m.Get(handles[i%n]); err == nil {
			b.Fatal("expected stale handle")
		}
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int) {
	m := make(map[uint32]int64, n)
	for i := 0; i < n; i++ {
		m[uint32(i)] = int64(i)
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		sink += m[uint32(n+i%n)]
	}
	ctrs.Stop()
}

func BenchmarkChurn(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapChurn))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapChurn))
}

func benchmarkSlotMapChurn(b *testing.B, n int) {
	m := New[int64, uint32](n)
	handles := make([]Handle[uint32], n)
	for i := range handles {
		handles[i] = m.Insert(int64(i))
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		j := i % n
		_ = m.Remove(handles[j])
		handles[j] = m.Insert(int64(i))
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapChurn(b *testing.B, n int) {
	m := make(map[uint32]int64, n)
	keys := make([]uint32, n)
	for i := 0; i < n; i++ {
		keys[i] = uint32(i)
		m[keys[i]] = int64(i)
	}
	next := uint32(n)

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		keys[j] = next
		m[next] = int64(i)
		next++
	}
	ctrs.Stop()
}

func BenchmarkIter(b *testing.B) {
	b.Run("impl=slotMap", benchSizes(benchmarkSlotMapIter))
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapIter))
}

func benchmarkSlotMapIter(b *testing.B, n int) {
	m := New[int64, uint32](n)
	for i := 0; i < n; i++ {
		m.Insert(int64(i))
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		for _, v := range m.Values() {
			sink += v
		}
	}
	ctrs.Stop()
}

func benchmarkRuntimeMapIter(b *testing.B, n int) {
	m := make(map[uint32]int64, n)
	for i := 0; i < n; i++ {
		m[uint32(i)] = int64(i)
	}

	ctrs := perfbench.Open(b)
	b.ResetTimer()
	ctrs.Start()
	for i := 0; i < b.N; i++ {
		for _, v := range m {
			sink += v
		}
	}
	ctrs.Stop()
}
