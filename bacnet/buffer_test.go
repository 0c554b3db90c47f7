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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	b := NewBuffer(4, 8)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 4, b.Headroom())

	require.NoError(t, b.Append([]byte{3, 4}))
	hdr, err := b.Push(2)
	require.NoError(t, err)
	hdr[0], hdr[1] = 1, 2
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())
	assert.Equal(t, 2, b.Headroom())

	_, err = b.Push(3)
	assert.ErrorIs(t, err, ErrNoHeadroom)

	require.NoError(t, b.Pull(3))
	assert.Equal(t, []byte{4}, b.Bytes())
	assert.ErrorIs(t, b.Pull(2), ErrBufferTooSmall)
	assert.ErrorIs(t, b.Append(make([]byte, 7)), ErrBufferTooSmall)
}

func TestBufferFromCopies(t *testing.T) {
	pdu := []byte{1, 2, 3}
	b := BufferFrom(pdu, DefaultHeadroom)
	b.Bytes()[0] = 9
	assert.Equal(t, byte(1), pdu[0])
	assert.Equal(t, DefaultHeadroom, b.Headroom())
}
