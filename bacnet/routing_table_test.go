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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	macA = []byte{0x0A}
	macB = []byte{0x0B}
)

func newTestTable(opts ...Option) (*RoutingTable, *fakeClock) {
	clock := &fakeClock{now: 5000}
	opts = append([]Option{WithClock(clock), WithLogger(testLogger())}, opts...)
	return NewRoutingTable(opts...), clock
}

func TestRoutingTableDirectEntry(t *testing.T) {
	table, _ := newTestTable()

	require.NoError(t, table.AddDirectEntry(10, 1))
	e, ok := table.FindEntry(10)
	require.True(t, ok)
	assert.True(t, e.Direct)
	assert.Equal(t, 1, e.Port)
	assert.Empty(t, e.NextHop)

	assert.ErrorIs(t, table.AddDirectEntry(10, 0), ErrDuplicateEntry)
	assert.ErrorIs(t, table.AddDirectEntry(LocalNetwork, 0), ErrInvalidNetwork)
	assert.ErrorIs(t, table.AddDirectEntry(BroadcastNetwork, 0), ErrInvalidNetwork)

	assert.ErrorIs(t, table.UpdateDynamicEntry(10, Reachable, 0, macA), ErrDirectEntry)
	assert.ErrorIs(t, table.UpdateDynamicEntry(10, UnreachablePermanently, 1, nil), ErrInvalidAddress)
	e, ok = table.FindEntry(10)
	require.True(t, ok)
	assert.True(t, e.Direct)
}

func TestRoutingTableStateMachine(t *testing.T) {
	table, clock := newTestTable()

	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 0, macA))
	e, ok := table.FindEntry(30)
	require.True(t, ok)
	assert.False(t, e.Direct)
	assert.False(t, e.Busy)
	assert.Equal(t, macA, e.NextHop)
	assert.Equal(t, uint32(5000), e.Touched)

	clock.Advance(5)
	require.NoError(t, table.UpdateDynamicEntry(30, UnreachableTemporarily, 0, macA))
	e, _ = table.FindEntry(30)
	assert.True(t, e.Busy)
	assert.Equal(t, uint32(5005), e.Touched)

	clock.Advance(RouteBusyTimeout - 1)
	e, _ = table.FindEntry(30)
	assert.True(t, e.Busy, "busy until the timeout elapses")

	clock.Advance(1)
	e, _ = table.FindEntry(30)
	assert.False(t, e.Busy)

	require.NoError(t, table.UpdateDynamicEntry(30, UnreachablePermanently, 0, macA))
	_, ok = table.FindEntry(30)
	assert.False(t, ok)

	require.NoError(t, table.UpdateDynamicEntry(30, UnreachablePermanently, 0, macA))
	assert.Equal(t, 0, table.Len())
}

func TestRoutingTableAvailableClearsBusy(t *testing.T) {
	table, _ := newTestTable()

	require.NoError(t, table.UpdateDynamicEntry(30, UnreachableTemporarily, 0, macA))
	e, _ := table.FindEntry(30)
	require.True(t, e.Busy, "a busy report for an unknown network creates a busy route")

	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 0, macA))
	e, _ = table.FindEntry(30)
	assert.False(t, e.Busy)
}

func TestRoutingTableReverseKeepsBusy(t *testing.T) {
	table, clock := newTestTable()

	require.NoError(t, table.UpdateDynamicEntry(30, UnreachableTemporarily, 0, macA))
	clock.Advance(10)
	require.NoError(t, table.UpdateDynamicEntry(30, ReachableReverse, 0, macA))

	e, _ := table.FindEntry(30)
	assert.True(t, e.Busy)
	assert.Equal(t, uint32(5000), e.Touched, "reverse traffic does not extend a busy period")

	clock.Advance(RouteBusyTimeout)
	require.NoError(t, table.UpdateDynamicEntry(30, ReachableReverse, 0, macA))
	e, _ = table.FindEntry(30)
	assert.False(t, e.Busy)
	assert.Equal(t, uint32(5040), e.Touched)
}

func TestRoutingTableWrongSourceDelete(t *testing.T) {
	table, _ := newTestTable()
	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 0, macA))

	err := table.UpdateDynamicEntry(30, UnreachablePermanently, 0, macB)
	assert.ErrorIs(t, err, ErrWrongSource)
	err = table.UpdateDynamicEntry(30, UnreachablePermanently, 1, macA)
	assert.ErrorIs(t, err, ErrWrongSource)

	e, ok := table.FindEntry(30)
	require.True(t, ok)
	assert.Equal(t, 0, e.Port)
	assert.Equal(t, macA, e.NextHop)
}

func TestRoutingTableRouteChange(t *testing.T) {
	table, clock := newTestTable()
	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 0, macA))

	clock.Advance(3)
	require.NoError(t, table.UpdateDynamicEntry(30, UnreachableTemporarily, 1, macB))

	e, ok := table.FindEntry(30)
	require.True(t, ok)
	assert.Equal(t, 1, e.Port)
	assert.Equal(t, macB, e.NextHop)
	assert.True(t, e.Busy)
	assert.Equal(t, uint32(5003), e.Touched)

	assert.Empty(t, table.ReachableNets(0))
	assert.Equal(t, []uint16{30}, table.ReachableNets(1))
}

func TestRoutingTableEviction(t *testing.T) {
	table, _ := newTestTable(WithMaxRouteEntries(4))

	require.NoError(t, table.AddDirectEntry(10, 0))
	for _, dnet := range []uint16{31, 32, 33} {
		require.NoError(t, table.UpdateDynamicEntry(dnet, Reachable, 1, macA))
	}
	require.Equal(t, 4, table.Len())

	// Touch 31 so 32 becomes the least recently used
	require.NoError(t, table.UpdateDynamicEntry(31, Reachable, 1, macA))
	require.NoError(t, table.UpdateDynamicEntry(34, Reachable, 1, macA))

	assert.Equal(t, 4, table.Len())
	_, ok := table.FindEntry(32)
	assert.False(t, ok)
	_, ok = table.FindEntry(10)
	assert.True(t, ok, "direct entries are never evicted")
	assert.Equal(t, []uint16{31, 33, 34}, table.ReachableNets(1))

	var order []uint16
	for _, e := range table.Entries() {
		order = append(order, e.Network)
	}
	assert.Equal(t, []uint16{10, 33, 31, 34}, order)
}

func TestRoutingTableEvictionAtDefaultCapacity(t *testing.T) {
	table, _ := newTestTable()

	for dnet := uint16(1); dnet <= MaxRouteEntries+1; dnet++ {
		require.NoError(t, table.UpdateDynamicEntry(dnet, Reachable, 0, macA))
	}

	assert.Equal(t, MaxRouteEntries, table.Len())
	_, ok := table.FindEntry(1)
	assert.False(t, ok)
	_, ok = table.FindEntry(MaxRouteEntries + 1)
	assert.True(t, ok)
}

func TestRoutingTableReachableNets(t *testing.T) {
	table, _ := newTestTable()

	require.NoError(t, table.AddDirectEntry(10, 0))
	require.NoError(t, table.AddDirectEntry(20, 1))
	require.NoError(t, table.UpdateDynamicEntry(40, Reachable, 1, macA))
	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 1, macB))
	require.NoError(t, table.UpdateDynamicEntry(50, Reachable, 0, macA))

	assert.Equal(t, []uint16{20, 30, 40}, table.ReachableNetsExcludingPort(0))
	assert.Equal(t, []uint16{10, 50}, table.ReachableNetsExcludingPort(1))
	assert.Equal(t, []uint16{10, 20, 30, 40, 50}, table.ReachableNetsExcludingPort(NoPort))

	nets := table.ReachableNetsOnMAC(1, macA, true)
	assert.Equal(t, []uint16{40}, nets)
	e, _ := table.FindEntry(40)
	assert.True(t, e.Busy)
	e, _ = table.FindEntry(30)
	assert.False(t, e.Busy)
	e, _ = table.FindEntry(50)
	assert.False(t, e.Busy, "same MAC on another port is a different router")

	assert.Equal(t, []uint16{40}, table.ReachableNetsOnMAC(1, macA, false))
	e, _ = table.FindEntry(40)
	assert.False(t, e.Busy)

	assert.Empty(t, table.ReachableNetsOnMAC(0, macB, true))
}

func TestRoutingTableReachableNetsCapped(t *testing.T) {
	table, _ := newTestTable()
	for dnet := uint16(1); dnet <= MaxNetworksPerMessage+10; dnet++ {
		require.NoError(t, table.UpdateDynamicEntry(dnet, Reachable, 1, macA))
	}
	assert.Len(t, table.ReachableNetsExcludingPort(0), MaxNetworksPerMessage)
}

func TestRoutingTableWhoisDebounce(t *testing.T) {
	table, clock := newTestTable()

	_, found, query := table.TryFindEntry(30)
	assert.False(t, found)
	assert.True(t, query, "first miss queries")

	_, _, query = table.TryFindEntry(30)
	assert.False(t, query)

	clock.Advance(WhoisIntervalMin - 1)
	_, _, query = table.TryFindEntry(30)
	assert.False(t, query)

	clock.Advance(1)
	_, _, query = table.TryFindEntry(30)
	assert.True(t, query, "window elapsed")

	pending := table.PendingQueries()
	require.Len(t, pending, 1)
	assert.Equal(t, uint16(30), pending[0].Network)
	assert.Equal(t, uint32(17), pending[0].Interval)

	for i := 0; i < 20; i++ {
		clock.Advance(table.PendingQueries()[0].Interval)
		_, _, query = table.TryFindEntry(30)
		require.True(t, query)
		interval := table.PendingQueries()[0].Interval
		require.GreaterOrEqual(t, interval, uint32(WhoisIntervalMin))
		require.LessOrEqual(t, interval, uint32(WhoisIntervalMax))
	}
	assert.Equal(t, uint32(WhoisIntervalMax), table.PendingQueries()[0].Interval)

	// An answer clears the pending query
	require.NoError(t, table.UpdateDynamicEntry(30, Reachable, 0, macA))
	assert.Empty(t, table.PendingQueries())
	e, found, query := table.TryFindEntry(30)
	assert.True(t, found)
	assert.False(t, query)
	assert.Equal(t, macA, e.NextHop)
}

func TestRoutingTableWhoisForced(t *testing.T) {
	table, _ := newTestTable()

	_, _, query := table.tryFindEntry(30, false)
	require.True(t, query)
	_, _, query = table.tryFindEntry(30, true)
	assert.True(t, query, "forwarded queries are never debounced")
}

func TestRoutingTableWhoisLogBounded(t *testing.T) {
	table, _ := newTestTable(WithMaxWhoisLog(2))

	for _, dnet := range []uint16{30, 31, 32} {
		_, _, query := table.TryFindEntry(dnet)
		require.True(t, query)
	}

	pending := table.PendingQueries()
	require.Len(t, pending, 2)
	assert.Equal(t, uint16(31), pending[0].Network)
	assert.Equal(t, uint16(32), pending[1].Network)
}

func TestRoutingTableConcurrentAccess(t *testing.T) {
	table, clock := newTestTable()
	require.NoError(t, table.AddDirectEntry(10, 0))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				dnet := uint16(100 + i%50)
				_ = table.UpdateDynamicEntry(dnet, Reachability(i%4), 1, macA)
				clock.Advance(1)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				table.FindEntry(uint16(100 + i%50))
				table.TryFindEntry(uint16(200 + i%10))
				table.ReachableNetsExcludingPort(0)
				table.Entries()
			}
		}()
	}
	wg.Wait()

	_, ok := table.FindEntry(10)
	assert.True(t, ok)
}
