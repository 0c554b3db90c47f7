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
)

func TestNextWhoisInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval uint32
		past     uint32
		want     uint32
	}{
		{"retry on time grows", 10, 10, 17},
		{"grows again", 17, 17, 29},
		{"reaches the ceiling", 266, 266, WhoisIntervalMax},
		{"stays at the ceiling", WhoisIntervalMax, 100, WhoisIntervalMax},
		{"long silence shrinks", WhoisIntervalMax, 2 * WhoisIntervalMax, 75},
		{"very long silence floors", 20, 100 * WhoisIntervalMax, WhoisIntervalMin},
		{"interval above ceiling clamps", 1000, 10, WhoisIntervalMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextWhoisInterval(tt.interval, tt.past))
		})
	}
}

func TestNextWhoisIntervalMonotonic(t *testing.T) {
	interval := uint32(WhoisIntervalMin)
	for i := 0; i < 50; i++ {
		next := nextWhoisInterval(interval, interval)
		assert.GreaterOrEqual(t, next, interval)
		assert.LessOrEqual(t, next, uint32(WhoisIntervalMax))
		interval = next
	}
	assert.Equal(t, uint32(WhoisIntervalMax), interval)
}

func TestRetryIntervalSmallStep(t *testing.T) {
	assert.Equal(t, uint32(11), retryInterval(10, 10, 10, 300, 1))
	assert.Equal(t, uint32(5), retryInterval(5, 5, 5, 5, 3))
}
