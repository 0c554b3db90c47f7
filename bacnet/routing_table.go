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
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jellydator/ttlcache/v3"
)

// Routing table limits
const (
	// MaxRouteEntries bounds direct plus learned entries
	MaxRouteEntries = 1000

	// RouteBusyTimeout is how long, in seconds, a busy route stays busy
	// without news before the next lookup clears it
	RouteBusyTimeout = 30
)

// Reachability is a routing table event reported for a network
type Reachability uint8

const (
	// Reachable is learned from I-Am-Router or Router-Available
	Reachable Reachability = iota
	// UnreachableTemporarily is learned from Router-Busy or a busy reject
	UnreachableTemporarily
	// UnreachablePermanently is learned from a no-route reject
	UnreachablePermanently
	// ReachableReverse is learned from the SRC field of passing traffic
	ReachableReverse
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case UnreachableTemporarily:
		return "unreachable-temporarily"
	case UnreachablePermanently:
		return "unreachable-permanently"
	case ReachableReverse:
		return "reachable-reverse"
	}
	return fmt.Sprintf("reachability(%d)", uint8(r))
}

// RouteEntry is one row of the routing table. NextHop is empty for the
// network a port is directly attached to.
type RouteEntry struct {
	Network uint16 `json:"network" yaml:"network"`
	Port    int    `json:"port" yaml:"port"`
	Direct  bool   `json:"direct" yaml:"direct"`
	NextHop []byte `json:"next_hop,omitempty" yaml:"next_hop,omitempty"`
	Busy    bool   `json:"busy" yaml:"busy"`
	Touched uint32 `json:"touched" yaml:"touched"`
}

// PendingQuery is a network for which Who-Is-Router queries are debounced
type PendingQuery struct {
	Network  uint16 `json:"network" yaml:"network"`
	Interval uint32 `json:"interval" yaml:"interval"`
	Sent     uint32 `json:"sent" yaml:"sent"`
}

// RoutingTable maps network numbers to the port and next hop that reach
// them. Learned entries are kept in recency order and the least recently
// touched one is evicted when the table is full; direct entries are never
// evicted or changed after startup.
type RoutingTable struct {
	mu sync.RWMutex

	clock      Clock
	logger     *slog.Logger
	metrics    *Metrics
	maxEntries int

	direct  map[uint16]*RouteEntry
	dynamic *simplelru.LRU[uint16, *RouteEntry]
	byPort  map[int]map[uint16]struct{}
	whois   *ttlcache.Cache[uint16, *whoisTry]
}

// NewRoutingTable creates an empty routing table
func NewRoutingTable(opts ...Option) *RoutingTable {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newRoutingTable(o)
}

func newRoutingTable(o *routerOptions) *RoutingTable {
	t := &RoutingTable{
		clock:      o.clock,
		logger:     o.logger,
		metrics:    o.metrics,
		maxEntries: o.maxRouteEntries,
		direct:     make(map[uint16]*RouteEntry),
		byPort:     make(map[int]map[uint16]struct{}),
		whois:      newWhoisLog(o.maxWhoisLog),
	}
	// One spare slot: the table evicts by its own count, which includes
	// direct entries, so the LRU must never evict on its own.
	t.dynamic, _ = simplelru.NewLRU[uint16, *RouteEntry](o.maxRouteEntries+1, t.onEvict)
	return t
}

func (t *RoutingTable) onEvict(_ uint16, e *RouteEntry) {
	t.unindex(e)
}

func (t *RoutingTable) index(e *RouteEntry) {
	nets, ok := t.byPort[e.Port]
	if !ok {
		nets = make(map[uint16]struct{})
		t.byPort[e.Port] = nets
	}
	nets[e.Network] = struct{}{}
}

func (t *RoutingTable) unindex(e *RouteEntry) {
	delete(t.byPort[e.Port], e.Network)
}

func (t *RoutingTable) lookup(dnet uint16) *RouteEntry {
	if e, ok := t.direct[dnet]; ok {
		return e
	}
	if e, ok := t.dynamic.Peek(dnet); ok {
		return e
	}
	return nil
}

func (t *RoutingTable) touch(e *RouteEntry, stamp bool, now uint32) {
	if !e.Direct {
		t.dynamic.Get(e.Network)
	}
	if stamp {
		e.Touched = now
	}
}

func (t *RoutingTable) busyExpired(e *RouteEntry, now uint32) bool {
	return e.Busy && elapsed(now, e.Touched) >= RouteBusyTimeout
}

func (t *RoutingTable) size() int {
	return len(t.direct) + t.dynamic.Len()
}

func (t *RoutingTable) updateGauges() {
	if t.metrics == nil {
		return
	}
	t.metrics.RouteEntries.Set(int64(t.size()))
	t.metrics.WhoisPending.Set(int64(t.whois.Len()))
}

func (t *RoutingTable) evictOverflow() {
	for t.size() > t.maxEntries {
		dnet, _, ok := t.dynamic.RemoveOldest()
		if !ok {
			return
		}
		t.logger.Warn("routing table full, evicted route", slog.Uint64("network", uint64(dnet)))
	}
}

func (t *RoutingTable) addDynamic(dnet uint16, port int, mac []byte, busy bool, now uint32) {
	e := &RouteEntry{
		Network: dnet,
		Port:    port,
		NextHop: bytes.Clone(mac),
		Busy:    busy,
		Touched: now,
	}
	t.dynamic.Add(dnet, e)
	t.index(e)
	t.evictOverflow()
	t.whois.Delete(dnet)
}

func cloneEntry(e *RouteEntry) RouteEntry {
	out := *e
	out.NextHop = bytes.Clone(e.NextHop)
	return out
}

// AddDirectEntry records the network a port is attached to
func (t *RoutingTable) AddDirectEntry(dnet uint16, port int) error {
	if dnet == LocalNetwork || dnet == BroadcastNetwork {
		return fmt.Errorf("%w: %d", ErrInvalidNetwork, dnet)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lookup(dnet) != nil {
		return fmt.Errorf("%w: network %d", ErrDuplicateEntry, dnet)
	}

	e := &RouteEntry{
		Network: dnet,
		Port:    port,
		Direct:  true,
		Touched: t.clock.Seconds(),
	}
	t.direct[dnet] = e
	t.index(e)
	t.evictOverflow()
	t.whois.Delete(dnet)
	t.updateGauges()

	t.logger.Debug("direct route added", slog.Uint64("network", uint64(dnet)), slog.Int("port", port))
	return nil
}

// UpdateDynamicEntry applies a reachability event for dnet reported by the
// router at mac on port.
func (t *RoutingTable) UpdateDynamicEntry(dnet uint16, state Reachability, port int, mac []byte) error {
	if dnet == LocalNetwork || dnet == BroadcastNetwork {
		return fmt.Errorf("%w: %d", ErrInvalidNetwork, dnet)
	}
	if state > ReachableReverse {
		return fmt.Errorf("bacnet: invalid reachability %d", state)
	}
	if len(mac) == 0 || len(mac) > MaxMACLength {
		return fmt.Errorf("%w: next hop length %d", ErrInvalidAddress, len(mac))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.updateGauges()

	now := t.clock.Seconds()
	e := t.lookup(dnet)
	log := t.logger.With(slog.Uint64("network", uint64(dnet)), slog.String("event", state.String()))

	switch {
	case e == nil:
		if state == UnreachablePermanently {
			log.Debug("duplicate route delete")
			return nil
		}
		t.addDynamic(dnet, port, mac, state == UnreachableTemporarily, now)
		log.Debug("route added", slog.Int("port", port))
		return nil

	case e.Direct:
		log.Warn("dynamic update to direct route refused")
		return fmt.Errorf("%w: network %d", ErrDirectEntry, dnet)

	case e.Port == port && bytes.Equal(e.NextHop, mac):
		switch state {
		case UnreachablePermanently:
			t.dynamic.Remove(dnet)
			log.Debug("route deleted")
		case UnreachableTemporarily:
			if !e.Busy {
				log.Debug("route busy")
				e.Busy = true
			}
			t.touch(e, true, now)
		case Reachable:
			if e.Busy {
				log.Debug("route available")
				e.Busy = false
			}
			t.touch(e, true, now)
		case ReachableReverse:
			// Reverse traffic does not end a fresh busy period
			if t.busyExpired(e, now) {
				log.Debug("route busy timed out")
				e.Busy = false
			}
			t.touch(e, !e.Busy, now)
		}
		return nil

	case state == UnreachablePermanently:
		log.Warn("route delete from wrong source", slog.Int("port", port))
		return fmt.Errorf("%w: network %d", ErrWrongSource, dnet)

	default:
		log.Debug("route changed", slog.Int("from_port", e.Port), slog.Int("to_port", port))
		t.unindex(e)
		e.Port = port
		e.NextHop = bytes.Clone(mac)
		e.Busy = state == UnreachableTemporarily
		e.Touched = now
		t.dynamic.Add(dnet, e)
		t.index(e)
		return nil
	}
}

// FindEntry looks up dnet, clearing an expired busy flag on the way
func (t *RoutingTable) FindEntry(dnet uint16) (RouteEntry, bool) {
	now := t.clock.Seconds()

	t.mu.RLock()
	e := t.lookup(dnet)
	if e == nil {
		t.mu.RUnlock()
		return RouteEntry{}, false
	}
	if !t.busyExpired(e, now) {
		out := cloneEntry(e)
		t.mu.RUnlock()
		return out, true
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	e = t.lookup(dnet)
	if e == nil {
		return RouteEntry{}, false
	}
	if t.busyExpired(e, now) {
		t.logger.Debug("route busy timed out", slog.Uint64("network", uint64(dnet)))
		e.Busy = false
	}
	return cloneEntry(e), true
}

// TryFindEntry looks up dnet like FindEntry. On a miss it reports whether
// a Who-Is-Router query is due: the first miss always is, later misses
// only once the current backoff interval has elapsed.
func (t *RoutingTable) TryFindEntry(dnet uint16) (entry RouteEntry, found, query bool) {
	return t.tryFindEntry(dnet, false)
}

// tryFindEntry with force set restarts the backoff window unconditionally,
// as done when a query for dnet is being forwarded on someone else's behalf.
func (t *RoutingTable) tryFindEntry(dnet uint16, force bool) (RouteEntry, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.updateGauges()

	now := t.clock.Seconds()
	if e := t.lookup(dnet); e != nil {
		if t.busyExpired(e, now) {
			t.logger.Debug("route busy timed out", slog.Uint64("network", uint64(dnet)))
			e.Busy = false
		}
		return cloneEntry(e), true, false
	}

	item := t.whois.Get(dnet)
	if item == nil {
		t.whois.Set(dnet, &whoisTry{network: dnet, interval: WhoisIntervalMin, sent: now}, ttlcache.NoTTL)
		return RouteEntry{}, false, true
	}

	w := item.Value()
	past := elapsed(now, w.sent)
	if !force && past < w.interval {
		return RouteEntry{}, false, false
	}
	w.interval = nextWhoisInterval(w.interval, past)
	w.sent = now
	t.whois.Set(dnet, w, ttlcache.NoTTL)
	return RouteEntry{}, false, true
}

// ReachableNetsExcludingPort lists every network reachable through ports
// other than port, direct networks included.
func (t *RoutingTable) ReachableNetsExcludingPort(port int) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var nets []uint16
	for p, set := range t.byPort {
		if p == port {
			continue
		}
		for dnet := range set {
			nets = append(nets, dnet)
		}
	}
	return capNetworks(nets)
}

// ReachableNets lists the networks routed through port
func (t *RoutingTable) ReachableNets(port int) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nets := make([]uint16, 0, len(t.byPort[port]))
	for dnet := range t.byPort[port] {
		nets = append(nets, dnet)
	}
	slices.Sort(nets)
	return nets
}

// ReachableNetsOnMAC marks every route through the router at mac on port
// busy or available and returns the affected networks.
func (t *RoutingTable) ReachableNetsOnMAC(port int, mac []byte, busy bool) []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Seconds()
	var nets []uint16
	for dnet := range t.byPort[port] {
		e := t.lookup(dnet)
		if e == nil || e.Direct || !bytes.Equal(e.NextHop, mac) {
			continue
		}
		e.Busy = busy
		t.touch(e, true, now)
		nets = append(nets, dnet)
	}
	return capNetworks(nets)
}

func capNetworks(nets []uint16) []uint16 {
	slices.Sort(nets)
	if len(nets) > MaxNetworksPerMessage {
		nets = nets[:MaxNetworksPerMessage]
	}
	return nets
}

// Entries returns a copy of the table: direct entries by network, then
// learned entries from least to most recently touched.
func (t *RoutingTable) Entries() []RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RouteEntry, 0, t.size())
	direct := make([]uint16, 0, len(t.direct))
	for dnet := range t.direct {
		direct = append(direct, dnet)
	}
	slices.Sort(direct)
	for _, dnet := range direct {
		out = append(out, cloneEntry(t.direct[dnet]))
	}
	for _, e := range t.dynamic.Values() {
		out = append(out, cloneEntry(e))
	}
	return out
}

// PendingQueries returns the networks with an unanswered Who-Is-Router
func (t *RoutingTable) PendingQueries() []PendingQuery {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := t.whois.Items()
	out := make([]PendingQuery, 0, len(items))
	for _, item := range items {
		w := item.Value()
		out = append(out, PendingQuery{Network: w.network, Interval: w.interval, Sent: w.sent})
	}
	slices.SortFunc(out, func(a, b PendingQuery) int { return int(a.Network) - int(b.Network) })
	return out
}

// Len returns the number of routes
func (t *RoutingTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size()
}
