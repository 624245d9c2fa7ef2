// Copyright 2025 Google LLC
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

package host_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu/host"
)

func TestPostOrder(t *testing.T) {
	loop := host.New()
	var got []int
	for i := 0; i < 5; i++ {
		loop.Post(func() { got = append(got, i) })
	}
	if err := loop.RunUntilIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, got); diff != "" {
		t.Errorf("tasks run out of order: (-want,+got):\n%s", diff)
	}
}

func TestPostFromTask(t *testing.T) {
	loop := host.New()
	var got []string
	loop.Post(func() {
		got = append(got, "first")
		loop.Post(func() { got = append(got, "third") })
	})
	loop.Post(func() { got = append(got, "second") })
	if err := loop.RunUntilIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Errorf("tasks run out of order: (-want,+got):\n%s", diff)
	}
}

func TestHold(t *testing.T) {
	loop := host.New()
	release := loop.Hold()
	var mu sync.Mutex
	ran := false
	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Post(func() {
			mu.Lock()
			ran = true
			mu.Unlock()
			release()
			release()
		})
	}()
	if err := loop.RunUntilIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Errorf("loop returned before the task posted by a held operation ran")
	}
	if holds, tasks := loop.Pending(); holds != 0 || tasks != 0 {
		t.Errorf("got %d holds and %d tasks, want none", holds, tasks)
	}
}

func TestRunContext(t *testing.T) {
	loop := host.New()
	defer loop.Hold()()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got error %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestClose(t *testing.T) {
	loop := host.Start()
	release := loop.Hold()
	done := make(chan struct{})
	go func() {
		loop.Close()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("loop closed while held")
	case <-time.After(10 * time.Millisecond):
	}
	ran := make(chan struct{})
	if !loop.Post(func() { close(ran) }) {
		t.Fatal("held loop rejected a task")
	}
	<-ran
	release()
	<-done
	if loop.Post(func() {}) {
		t.Errorf("closed loop accepted a task")
	}
	if err := loop.Run(context.Background()); !errors.Is(err, host.ErrClosed) {
		t.Errorf("got error %v, want %v", err, host.ErrClosed)
	}
}
