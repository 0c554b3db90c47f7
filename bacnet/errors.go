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
	"errors"
)

// Sentinel errors
var (
	ErrInvalidNPDU       = errors.New("bacnet: invalid NPDU")
	ErrInvalidBVLC       = errors.New("bacnet: invalid BVLC header")
	ErrInvalidAddress    = errors.New("bacnet: invalid address")
	ErrInvalidPriority   = errors.New("bacnet: invalid priority")
	ErrInvalidNetwork    = errors.New("bacnet: invalid network number")
	ErrInvalidPayload    = errors.New("bacnet: invalid network message payload")
	ErrBufferTooSmall    = errors.New("bacnet: buffer too small")
	ErrNoHeadroom        = errors.New("bacnet: no buffer headroom")
	ErrSourcePresent     = errors.New("bacnet: SRC field already present")
	ErrDestinationAbsent = errors.New("bacnet: DST field absent")
	ErrNoRoute           = errors.New("bacnet: no route to network")
	ErrRouteBusy         = errors.New("bacnet: route busy")
	ErrDirectEntry       = errors.New("bacnet: direct route entry")
	ErrDuplicateEntry    = errors.New("bacnet: route entry already present")
	ErrWrongSource       = errors.New("bacnet: update from wrong source")
	ErrNotRouter         = errors.New("bacnet: not routing")
	ErrInvalidPort       = errors.New("bacnet: invalid port")
	ErrRoutingLoop       = errors.New("bacnet: route points back to ingress port")
	ErrHopCountExhausted = errors.New("bacnet: hop count exhausted")
	ErrInvalidConfig     = errors.New("bacnet: invalid configuration")
)

// IsNoRoute returns true if the error indicates an unknown destination network
func IsNoRoute(err error) bool {
	return errors.Is(err, ErrNoRoute)
}

// IsRouteBusy returns true if the error indicates a congested route
func IsRouteBusy(err error) bool {
	return errors.Is(err, ErrRouteBusy)
}

// IsMalformed returns true if the error came from decoding bad wire input
func IsMalformed(err error) bool {
	return errors.Is(err, ErrInvalidNPDU) || errors.Is(err, ErrInvalidBVLC) ||
		errors.Is(err, ErrInvalidPayload)
}
