// Copyright 2025 Edgeo SCADA
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

package bacnet

import "fmt"

// DefaultHeadroom leaves room for a BVLC header, a full NPCI and one
// inserted SRC block in front of the payload.
const DefaultHeadroom = 64

// Buffer is a byte window over a fixed backing array with reserved space in
// front of the data, so headers can be prepended or stripped without copying
// the payload.
type Buffer struct {
	data  []byte
	start int
	end   int
}

// NewBuffer returns an empty buffer with the given headroom and capacity
// for size bytes of data.
func NewBuffer(headroom, size int) *Buffer {
	return &Buffer{
		data:  make([]byte, headroom+size),
		start: headroom,
		end:   headroom,
	}
}

// BufferFrom copies pdu into a new buffer with the given headroom
func BufferFrom(pdu []byte, headroom int) *Buffer {
	b := NewBuffer(headroom, len(pdu))
	b.end += copy(b.data[b.start:], pdu)
	return b
}

// Bytes returns the current data window. It is invalidated by Push and Pull.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

// Len returns the length of the data window
func (b *Buffer) Len() int {
	return b.end - b.start
}

// Headroom returns how many bytes can still be pushed in front
func (b *Buffer) Headroom() int {
	return b.start
}

// Push grows the window by n bytes at the front and returns the new window
func (b *Buffer) Push(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: push %d", ErrBufferTooSmall, n)
	}
	if n > b.start {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNoHeadroom, n, b.start)
	}
	b.start -= n
	return b.Bytes(), nil
}

// Pull shrinks the window by n bytes at the front
func (b *Buffer) Pull(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("%w: pull %d of %d", ErrBufferTooSmall, n, b.Len())
	}
	b.start += n
	return nil
}

// Append copies p to the tail of the window
func (b *Buffer) Append(p []byte) error {
	if len(p) > len(b.data)-b.end {
		return fmt.Errorf("%w: append %d, tailroom %d", ErrBufferTooSmall, len(p), len(b.data)-b.end)
	}
	b.end += copy(b.data[b.end:], p)
	return nil
}
