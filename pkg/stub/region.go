// Copyright 2026 The gVisor Authors.
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

package stub

import "gvisor.dev/rmstub/pkg/lowmem"

// Tracker records where the stub currently lives and who owns that memory.
//
// allocated implies that location came from the base-memory allocator and
// must be freed through it before it is superseded.
type Tracker struct {
	location  lowmem.Virt
	allocated bool

	// installed is false until a location is recorded. Until then the
	// master image is the only copy.
	installed bool
}

// NewTracker returns a tracker reporting fallback until something is
// installed.
func NewTracker(fallback lowmem.Virt) Tracker {
	return Tracker{location: fallback}
}

// Location returns the address of the current copy.
func (t *Tracker) Location() lowmem.Virt {
	return t.location
}

// MarkInstalled records a new current location.
func (t *Tracker) MarkInstalled(addr lowmem.Virt, allocated bool) {
	t.location = addr
	t.allocated = allocated
	t.installed = true
}

// Allocated returns true iff the current location was obtained from the
// allocator.
func (t *Tracker) Allocated() bool {
	return t.allocated
}

// Installed returns true iff a location has been recorded.
func (t *Tracker) Installed() bool {
	return t.installed
}
