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

package platform

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
)

// Buffer is a device buffer allocated by a session.
type Buffer struct {
	sess     *Session
	buf      driver.Buffer
	released atomic.Bool
}

// NewBuffer allocates a device buffer of size bytes.
func (s *Session) NewBuffer(size int) (*Buffer, error) {
	buf, err := s.ctx.NewBuffer(size)
	if err != nil {
		s.log.Error(err, "cannot allocate device buffer", "bytes", size)
		return nil, &gpgpu.DeviceError{Op: "allocate", Err: err}
	}
	s.liveBuffers.Add(1)
	return &Buffer{sess: s, buf: buf}, nil
}

// Size of the buffer in bytes.
func (b *Buffer) Size() int {
	return b.buf.Size()
}

// OnDeviceBuffer returns the driver buffer.
func (b *Buffer) OnDeviceBuffer() driver.Buffer {
	return b.buf
}

// Upload copies host data into the buffer. Upload blocks until the copy completes.
func (b *Buffer) Upload(data []byte) error {
	if len(data) > b.Size() {
		return errors.Errorf("cannot upload %d bytes into a buffer of %d bytes", len(data), b.Size())
	}
	if err := b.sess.queue.Write(b.buf, data); err != nil {
		b.sess.log.Error(err, "cannot upload data to the device", "bytes", len(data))
		return &gpgpu.DeviceError{Op: "upload", Err: err}
	}
	return nil
}

// ReadInto enqueues a copy of the buffer into dst once all events in waitFor completed.
// ReadInto does not block.
func (b *Buffer) ReadInto(dst []byte, waitFor []driver.Event) (driver.Event, error) {
	ev, err := b.sess.queue.Read(b.buf, dst, waitFor)
	if err != nil {
		b.sess.log.Error(err, "cannot enqueue readback", "bytes", len(dst))
		return nil, &gpgpu.DeviceError{Op: "readback", Err: err}
	}
	return ev, nil
}

// Release the buffer. Calling Release more than once has no effect.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return nil
	}
	b.sess.liveBuffers.Add(-1)
	if err := b.buf.Release(); err != nil {
		return &gpgpu.DeviceError{Op: "release", Err: err}
	}
	return nil
}

// String representation of the buffer.
func (b *Buffer) String() string {
	return fmt.Sprintf("device buffer: %d bytes on %s", b.Size(), b.sess.dev.Name())
}
