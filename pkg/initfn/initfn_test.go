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

package initfn

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	calls []string
}

func (r *recorder) hook(name string) func() {
	return func() { r.calls = append(r.calls, name) }
}

func (r *recorder) fn(name string, order int) Fn {
	return Fn{
		Name:     name,
		Order:    order,
		Init:     r.hook("init " + name),
		LateInit: r.hook("late " + name),
		Exit:     r.hook("exit " + name),
	}
}

func TestOrdering(t *testing.T) {
	var rec recorder
	var reg Registry
	reg.Register(rec.fn("console", OrderConsole))
	reg.Register(rec.fn("stub", OrderStub))
	reg.Register(rec.fn("net", OrderNormal))
	reg.Register(Fn{Name: "exitonly", Order: OrderEarly, Exit: rec.hook("exit exitonly")})

	reg.Initialise()
	reg.Initialise()
	if !reg.Initialised() {
		t.Errorf("Initialised() = false after Initialise")
	}
	reg.Shutdown()
	reg.Shutdown()

	want := []string{
		"init stub", "init console", "init net",
		"late stub", "late console", "late net",
		"exit net", "exit console", "exit stub", "exit exitonly",
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("unexpected call order (-want +got):\n%s", diff)
	}
}

func TestShutdownWithoutInit(t *testing.T) {
	var rec recorder
	var reg Registry
	reg.Register(rec.fn("stub", OrderStub))
	reg.Shutdown()
	if len(rec.calls) != 0 {
		t.Errorf("Shutdown without Initialise ran %v", rec.calls)
	}
}

func TestRegisterAfterInitialise(t *testing.T) {
	var reg Registry
	reg.Initialise()
	defer func() {
		if recover() == nil {
			t.Errorf("Register after Initialise did not panic")
		}
	}()
	reg.Register(Fn{Name: "late"})
}

func TestPostReloc(t *testing.T) {
	var reg Registry
	var calls []string
	errBoom := errors.New("boom")
	reg.RegisterPostReloc(PostRelocFn{Name: "b", Order: OrderNormal, Fn: func() error {
		calls = append(calls, "b")
		return errBoom
	}})
	reg.RegisterPostReloc(PostRelocFn{Name: "a", Order: OrderStub, Fn: func() error {
		calls = append(calls, "a")
		return nil
	}})
	reg.RegisterPostReloc(PostRelocFn{Name: "c", Order: OrderNormal, Fn: func() error {
		calls = append(calls, "c")
		return nil
	}})

	err := reg.PostReloc()
	if !errors.Is(err, errBoom) {
		t.Fatalf("PostReloc() = %v, want %v", err, errBoom)
	}
	if diff := cmp.Diff([]string{"a", "b"}, calls); diff != "" {
		t.Errorf("unexpected calls (-want +got):\n%s", diff)
	}
}
