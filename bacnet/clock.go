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

import "time"

// Clock supplies the monotonic seconds counter used to age routes and
// debounce Who-Is-Router queries. Values may wrap; callers compare them by
// unsigned difference.
type Clock interface {
	Seconds() uint32
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a Clock counting seconds since its creation
func NewMonotonicClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Seconds() uint32 {
	return uint32(time.Since(c.start) / time.Second)
}

// elapsed is wraparound safe
func elapsed(now, then uint32) uint32 {
	return now - then
}
