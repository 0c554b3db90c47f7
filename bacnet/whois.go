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
	"github.com/jellydator/ttlcache/v3"
)

// Who-Is-Router debounce bounds, in seconds
const (
	WhoisIntervalMin = 10
	WhoisIntervalMax = 300

	// MaxWhoisLog bounds the number of networks with a pending query
	MaxWhoisLog = 250
)

// whoisTry debounces Who-Is-Router queries for one unresolved network
type whoisTry struct {
	network  uint16
	interval uint32
	sent     uint32
}

func newWhoisLog(capacity int) *ttlcache.Cache[uint16, *whoisTry] {
	return ttlcache.New[uint16, *whoisTry](
		ttlcache.WithCapacity[uint16, *whoisTry](uint64(capacity)),
		ttlcache.WithDisableTouchOnHit[uint16, *whoisTry](),
	)
}

// nextWhoisInterval grows the query interval while answers keep failing to
// arrive and shrinks it back when the previous query is long past. The step
// is three quarters of the current interval, scaled by how early the retry
// came; the result stays within [WhoisIntervalMin, WhoisIntervalMax].
func nextWhoisInterval(interval, past uint32) uint32 {
	return retryInterval(interval, past, WhoisIntervalMin, WhoisIntervalMax, interval*3/4)
}

func retryInterval(interval, past, lo, hi, step uint32) uint32 {
	if hi == 0 {
		hi = 1
	}
	if lo > hi {
		lo = hi
	}
	if interval < lo {
		interval = lo
	} else if interval > hi {
		interval = hi
	}

	if past >= hi {
		dec := uint64(step) * uint64(past-hi) / uint64(hi)
		if dec > uint64(interval-lo) {
			return lo
		}
		return interval - uint32(dec)
	}
	if interval == hi {
		return interval
	}

	inc := uint64(step) * uint64(hi-past) / uint64(hi-interval)
	switch {
	case inc <= 1:
		interval++
	case uint64(hi-interval) <= inc:
		interval = hi
	default:
		interval += uint32(inc)
	}
	return interval
}
