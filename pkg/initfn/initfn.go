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

// Package initfn sequences the startup, post-relocation and shutdown hooks of
// the components of a boot program.
//
// Components register an ordered (init, late init, exit) triple and,
// separately, a post-relocation hook. Initialise runs every init hook in
// order and then every late init hook in order. PostReloc runs the
// post-relocation hooks in order once the relocation subsystem has moved the
// program. Shutdown runs the exit hooks in reverse order.
package initfn

import (
	"fmt"
	"sort"

	"gvisor.dev/rmstub/pkg/log"
)

// Well known orders. Lower orders run first at startup and last at shutdown.
const (
	// OrderEarly is for hooks that everything else depends on.
	OrderEarly = 1

	// OrderStub is the order of the real-mode stub. It runs before the
	// console so that real-mode output is available to it.
	OrderStub = 2

	// OrderConsole is for console setup.
	OrderConsole = 3

	// OrderNormal is the default order.
	OrderNormal = 10
)

// Fn is an init, late init and exit triple. Any of the hooks may be nil.
type Fn struct {
	Name     string
	Order    int
	Init     func()
	LateInit func()
	Exit     func()
}

// PostRelocFn is a hook run immediately after relocation.
type PostRelocFn struct {
	Name  string
	Order int
	Fn    func() error
}

// Registry holds registered hooks.
//
// Registry is not safe for concurrent use; hooks run on the single thread of
// the boot program.
type Registry struct {
	fns       []Fn
	postReloc []PostRelocFn

	// initialised is true between Initialise and Shutdown.
	initialised bool
}

// Register adds fn. It panics if called after Initialise.
func (r *Registry) Register(fn Fn) {
	if r.initialised {
		panic(fmt.Sprintf("init function %q registered after initialisation", fn.Name))
	}
	r.fns = append(r.fns, fn)
	sort.SliceStable(r.fns, func(i, j int) bool { return r.fns[i].Order < r.fns[j].Order })
}

// RegisterPostReloc adds a post-relocation hook.
func (r *Registry) RegisterPostReloc(fn PostRelocFn) {
	r.postReloc = append(r.postReloc, fn)
	sort.SliceStable(r.postReloc, func(i, j int) bool { return r.postReloc[i].Order < r.postReloc[j].Order })
}

// Initialised returns true iff Initialise has run and Shutdown has not.
func (r *Registry) Initialised() bool {
	return r.initialised
}

// Initialise runs all init hooks, then all late init hooks. Calling it again
// before Shutdown is a no-op.
func (r *Registry) Initialise() {
	if r.initialised {
		return
	}
	r.initialised = true
	for _, fn := range r.fns {
		if fn.Init != nil {
			log.Debugf("Init %q", fn.Name)
			fn.Init()
		}
	}
	for _, fn := range r.fns {
		if fn.LateInit != nil {
			log.Debugf("Late init %q", fn.Name)
			fn.LateInit()
		}
	}
}

// PostReloc runs the post-relocation hooks in order, stopping at the first
// failure.
func (r *Registry) PostReloc() error {
	for _, fn := range r.postReloc {
		log.Debugf("Post relocation %q", fn.Name)
		if err := fn.Fn(); err != nil {
			return fmt.Errorf("post relocation hook %q: %w", fn.Name, err)
		}
	}
	return nil
}

// Shutdown runs the exit hooks in reverse order. It is a no-op if Initialise
// has not run.
func (r *Registry) Shutdown() {
	if !r.initialised {
		return
	}
	for i := len(r.fns) - 1; i >= 0; i-- {
		if fn := r.fns[i]; fn.Exit != nil {
			log.Debugf("Exit %q", fn.Name)
			fn.Exit()
		}
	}
	r.initialised = false
}
