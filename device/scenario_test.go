// scenario_test
//
// End-to-end scenarios over whole devices: basic LAG bring-up, preferred
// aggregator migration, wait-to-restore, and conversation-sensitive
// distribution.
package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/sim"
)

func newTwoBridges(t *testing.T) (*Simulation, *Device, *Device) {
	t.Helper()
	ctx := sim.NewTestSimCtx()
	s := NewSimulation(ctx)
	b0 := NewBridgeDevice(ctx, 0, 8)
	b1 := NewBridgeDevice(ctx, 1, 8)
	s.AddDevice(b0)
	s.AddDevice(b1)
	return s, b0, b1
}

func TestBasicLag(t *testing.T) {
	s, b0, b1 := newTwoBridges(t)

	s.RunUntil(10)
	s.Connect(0, 0, 1, 0, 5)
	s.RunUntil(100)
	s.Connect(0, 1, 1, 1, 5)
	s.RunUntil(200)
	s.Connect(0, 2, 1, 2, 5)
	s.RunUntil(250)

	for _, d := range []*Device{b0, b1} {
		agg := d.Lag.Aggregators[0]
		require.Equal(t, []uint16{1, 2, 3}, agg.DistributingLinks(), "device %d", d.SysNum)
		for i := 0; i < 3; i++ {
			p := d.Lag.AggPorts[i]
			assert.Equal(t, 0, p.AttachedAggId, "device %d port %d", d.SysNum, p.PortNum)
			assert.True(t, p.IsDistributing(), "device %d port %d", d.SysNum, p.PortNum)
		}
	}

	s.RunUntil(300)
	s.Disconnect(0, 0)
	s.Step()

	// within one tick the survivors keep distributing and the map covers
	// only links 2 and 3
	agg := b0.Lag.Aggregators[0]
	assert.Equal(t, []uint16{2, 3}, agg.DistributingLinks())
	assert.True(t, b0.Lag.AggPorts[1].IsDistributing())
	assert.True(t, b0.Lag.AggPorts[2].IsDistributing())
	for cid := 0; cid < 4096; cid++ {
		l := agg.ConversationLink(uint16(cid))
		require.True(t, l == 2 || l == 3, "cid %d on link %d", cid, l)
	}
}

func TestPreferredAggregator(t *testing.T) {
	s, b0, b1 := newTwoBridges(t)

	s.RunUntil(10)
	s.Connect(0, 1, 1, 2, 5)
	s.RunUntil(100)
	s.Connect(0, 2, 1, 3, 5)
	s.RunUntil(200)
	s.Connect(0, 3, 1, 1, 5)
	s.RunUntil(400)

	// the LAG sits on the preferred aggregator of the lowest port (101)
	// on both bridges: aggregator 201
	for _, d := range []*Device{b0, b1} {
		for _, i := range []int{1, 2, 3} {
			p := d.Lag.AggPorts[i]
			assert.Equal(t, 1, p.AttachedAggId, "device %d port %d", d.SysNum, p.PortNum)
			assert.True(t, p.IsDistributing(), "device %d port %d", d.SysNum, p.PortNum)
		}
		assert.Equal(t, []uint16{2, 3, 4}, d.Lag.Aggregators[1].DistributingLinks())
	}
}

func TestWaitToRestoreNonRevertive(t *testing.T) {
	s, b0, b1 := newTwoBridges(t)

	b0.Lag.AggPorts[1].SetWTRTime(30 | 0x8000)
	b0.Lag.AggPorts[2].SetWTRTime(30 | 0x8000)

	s.RunUntil(10)
	s.Connect(0, 0, 1, 0, 5)
	s.Connect(0, 1, 1, 1, 5)
	s.Connect(0, 2, 1, 2, 5)
	s.RunUntil(100)

	for i := 0; i < 3; i++ {
		require.True(t, b0.Lag.AggPorts[i].IsDistributing(), "port %d", 100+i)
	}

	// drop and restore the two non-revertive ports: they must not rejoin
	s.Disconnect(0, 1)
	s.Disconnect(0, 2)
	s.RunUntil(115)
	s.Connect(0, 1, 1, 1, 5)
	s.Connect(0, 2, 1, 2, 5)
	s.RunUntil(215)

	assert.True(t, b0.Lag.AggPorts[0].IsDistributing())
	assert.Equal(t, lacp.LacpAggStandby, b0.Lag.AggPorts[1].Selected())
	assert.Equal(t, lacp.LacpAggStandby, b0.Lag.AggPorts[2].Selected())
	assert.False(t, b0.Lag.AggPorts[1].IsCollecting())
	assert.False(t, b0.Lag.AggPorts[2].IsCollecting())
	assert.False(t, b1.Lag.AggPorts[1].IsDistributing())

	// only when the remaining port drops do all become revertive and the
	// held ports rejoin
	s.Disconnect(0, 0)
	s.RunUntil(280)
	assert.True(t, b0.Lag.AggPorts[1].IsDistributing())
	assert.True(t, b0.Lag.AggPorts[2].IsDistributing())

	// the revertive port returns and all three carry traffic again
	s.Connect(0, 0, 1, 0, 5)
	s.RunUntil(350)
	for i := 0; i < 3; i++ {
		assert.True(t, b0.Lag.AggPorts[i].IsDistributing(), "port %d", 100+i)
	}
}

func cidTag(vid uint16) sim.VlanTag {
	return sim.VlanTag{EtherType: sim.CVlanEtherType, Vid: vid}
}

// send9Frames generates the distribution test burst: one untagged frame
// and eight C-VLAN-tagged frames with VIDs 0 through 7.
func send9Frames(stn *sim.EndStn) {
	stn.GenerateTestFrame()
	for vid := uint16(0); vid < 8; vid++ {
		stn.GenerateTestFrame(cidTag(vid))
	}
}

func distributionsFor(la *lacp.LinkAgg, aggId int) []uint16 {
	var links []uint16
	for _, ev := range la.Distributions {
		if ev.AggId == aggId {
			links = append(links, ev.Link)
		}
	}
	return links
}

func TestAdminTableDistributionAndDigest(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	s := NewSimulation(ctx)
	b0 := NewBridgeDevice(ctx, 0, 8)
	b1 := NewBridgeDevice(ctx, 1, 8)
	e2 := NewEndStnDevice(ctx, 2, 4)
	s.AddDevice(b0)
	s.AddDevice(b1)
	s.AddDevice(e2)

	s.RunUntil(10)
	for i := 0; i < 4; i++ {
		s.Connect(0, i, 1, i, 5)
	}
	s.Connect(2, 0, 0, 6, 5)
	s.RunUntil(80)

	// links 1..4 between the bridges, end station on bridge 0
	require.Equal(t, []uint16{1, 2, 3, 4}, b0.Lag.Aggregators[0].DistributingLinks())
	require.True(t, e2.Lag.AggPorts[0].IsDistributing())

	// renumber two links into the high spread slots and switch both ends
	// of the bridge LAG to C-VID conversation IDs
	b0.Lag.AggPorts[0].SetLinkNumberID(17)
	b0.Lag.AggPorts[1].SetLinkNumberID(25)
	b0.Lag.Aggregators[0].SetPortAlgorithm(lacp.LagAlgorithmCVid)
	b1.Lag.Aggregators[0].SetPortAlgorithm(lacp.LagAlgorithmCVid)
	s.RunUntil(120)

	require.Equal(t, []uint16{3, 4, 17, 25}, b0.Lag.Aggregators[0].DistributingLinks())
	require.False(t, b0.Lag.Aggregators[0].DiscardWrongConversation)

	b0.Lag.Distributions = nil
	send9Frames(e2.Stn)
	s.RunUntil(140)

	// nine frames spread per the conversation map: untagged and VID 0
	// are conversation 0
	assert.Equal(t, []uint16{3, 3, 17, 3, 3, 4, 3, 17, 17},
		distributionsFor(b0.Lag, 200))

	// administering a conversation table changes the digest and trips
	// discard-wrong-conversation on both ends until the peer matches
	before := b0.Lag.Aggregators[0].ConvListDigest
	table := map[uint16][]uint16{
		0: {3, 2, 1}, 1: {2, 1, 0}, 2: {2, 0}, 3: {2},
		4: {0}, 5: {1}, 6: {1, 0}, 7: {3, 1, 2},
	}
	for cid, links := range table {
		b0.Lag.Aggregators[0].SetConversationAdminLink(cid, links)
	}
	b0.Lag.Aggregators[0].SetConvLinkMap(lacp.ConvLinkMapAdminTable)
	assert.NotEqual(t, before, b0.Lag.Aggregators[0].ConvListDigest)

	s.RunUntil(170)
	assert.True(t, b0.Lag.Aggregators[0].DiscardWrongConversation)
	assert.True(t, b1.Lag.Aggregators[0].DiscardWrongConversation)

	// matching the admin table on the far end restores agreement
	for cid, links := range table {
		b1.Lag.Aggregators[0].SetConversationAdminLink(cid, links)
	}
	b1.Lag.Aggregators[0].SetConvLinkMap(lacp.ConvLinkMapAdminTable)
	s.RunUntil(200)
	assert.False(t, b0.Lag.Aggregators[0].DiscardWrongConversation)
	assert.False(t, b1.Lag.Aggregators[0].DiscardWrongConversation)
}

func TestDualHomingStarvation(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	s := NewSimulation(ctx)
	b0 := NewBridgeDevice(ctx, 0, 8)
	b1 := NewBridgeDevice(ctx, 1, 8)
	b2 := NewBridgeDevice(ctx, 2, 8)
	s.AddDevice(b0)
	s.AddDevice(b1)
	s.AddDevice(b2)

	// bridge 0 may only form one LAG: every aggregator except the first
	// gets a key no port shares
	for i := 1; i < 8; i++ {
		b0.Lag.Aggregators[i].SetActorAdminKey(lacp.UnusedAggregatorKey)
	}

	s.RunUntil(10)
	s.Connect(0, 0, 1, 0, 5)
	s.Connect(0, 3, 1, 3, 5)
	s.Connect(0, 2, 2, 2, 5)
	s.RunUntil(100)

	// the bridge 1 LAG owns the only aggregator; the bridge 2 link
	// starves
	assert.True(t, b0.Lag.AggPorts[0].IsDistributing())
	assert.True(t, b0.Lag.AggPorts[3].IsDistributing())
	assert.Equal(t, lacp.LacpAggUnSelected, b0.Lag.AggPorts[2].Selected())
	assert.Equal(t, -1, b0.Lag.AggPorts[2].AttachedAggId)

	// dropping the active LAG lets the starved link take over
	s.Disconnect(0, 0)
	s.Disconnect(0, 3)
	s.RunUntil(200)
	assert.True(t, b0.Lag.AggPorts[2].IsDistributing())
	assert.Equal(t, 0, b0.Lag.AggPorts[2].AttachedAggId)
}
