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

import "errors"

var (
	// ErrInvalidHandle is returned when a handle is structurally
	// malformed and was never issued by the map: its generation is the
	// reserved zero sentinel (true of the zero Handle), or its slot
	// index is beyond every slot the map has ever allocated.
	ErrInvalidHandle = errors.New("slotmap: invalid handle")

	// ErrStaleHandle is returned when a handle's generation does not
	// match its slot's current generation: the value the handle
	// referenced was removed, and the slot may have been reused, since
	// the handle was issued.
	ErrStaleHandle = errors.New("slotmap: stale handle")
)
