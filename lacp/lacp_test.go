// lacp_test
package lacp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srhaddock/drni/sim"
)

type testSystem struct {
	la   *LinkAgg
	macs []*sim.Mac
}

func newTestSystem(ctx *sim.SimCtx, sysNum, nPorts int) *testSystem {
	sysId := LacpSystem{ActorSystem: sim.MacAddr{0, 0, 0x55, byte(sysNum), 0, 0}}
	ts := &testSystem{
		la: NewLinkAgg(ctx, sysNum, sysId, nPorts, LacpActorSystemLacpVersion),
	}
	for i := 0; i < nPorts; i++ {
		m := sim.NewMac(ctx, sysNum*100+i, sim.MacAddr{0, 0, 0x55, byte(sysNum), 0, byte(i + 1)})
		ts.macs = append(ts.macs, m)
		ts.la.BindMac(i, m)
	}
	return ts
}

// step runs one full tick over the given systems in the driver's phase
// order.
func step(ctx *sim.SimCtx, systems ...*testSystem) {
	for _, s := range systems {
		s.la.TimerTick()
	}
	for _, s := range systems {
		s.la.RxPeriodicPhase()
	}
	for _, s := range systems {
		s.la.SelectionPhase()
	}
	for _, s := range systems {
		s.la.MuxTxPhase()
	}
	for _, s := range systems {
		s.la.DrPhase()
	}
	for _, s := range systems {
		for _, m := range s.macs {
			m.Transmit()
		}
	}
	ctx.Time++
}

func run(ctx *sim.SimCtx, ticks int, systems ...*testSystem) {
	for i := 0; i < ticks; i++ {
		step(ctx, systems...)
	}
}

// checkInvariants asserts the structural invariants that must hold at any
// tick.
func checkInvariants(t *testing.T, la *LinkAgg) {
	t.Helper()
	for _, p := range la.AggPorts {
		if p.IsCollecting() {
			require.GreaterOrEqual(t, p.AttachedAggId, 0,
				"port %d collecting without aggregator", p.PortNum)
			require.True(t, LacpStateIsSet(p.PartnerOper.State, LacpStateSyncBit),
				"port %d collecting without partner sync", p.PortNum)
		}
	}
	for _, agg := range la.Aggregators {
		var lagId *LagId
		for _, idx := range agg.PortList {
			p := la.AggPorts[idx]
			if p.Selected() != LacpAggSelected {
				continue
			}
			id := p.LagId()
			if lagId == nil {
				lagId = &id
			} else {
				require.Equal(t, *lagId, id,
					"aggregator %d holds mixed LAGIDs", agg.AggId)
			}
		}
		links := agg.DistributingLinks()
		for cid := 0; cid < 4096; cid++ {
			l := agg.ConversationLink(uint16(cid))
			if l == 0 {
				continue
			}
			require.Contains(t, links, l,
				"aggregator %d maps cid %d to non-distributing link %d", agg.AggId, cid, l)
		}
	}
}

func TestTwoSystemConvergence(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)
	b := newTestSystem(ctx, 1, 4)

	sim.Connect(a.macs[0], b.macs[0], 5)
	run(ctx, 40, a, b)

	pa := a.la.AggPorts[0]
	pb := b.la.AggPorts[0]
	assert.Equal(t, LacpMuxmStateDistributing, pa.MuxmState)
	assert.Equal(t, LacpMuxmStateDistributing, pb.MuxmState)
	assert.Equal(t, 0, pa.AttachedAggId)
	assert.Equal(t, 0, pb.AttachedAggId)

	// partners learned each other
	assert.Equal(t, b.la.SystemId, pa.PartnerOper.System)
	assert.Equal(t, a.la.SystemId, pb.PartnerOper.System)
	assert.False(t, LacpStateIsSet(pa.ActorOper.State, LacpStateDefaultedBit))

	checkInvariants(t, a.la)
	checkInvariants(t, b.la)
}

func TestThreeLinkLag(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)
	b := newTestSystem(ctx, 1, 4)

	sim.Connect(a.macs[0], b.macs[0], 5)
	sim.Connect(a.macs[1], b.macs[1], 5)
	sim.Connect(a.macs[2], b.macs[2], 5)
	run(ctx, 60, a, b)

	agg := a.la.Aggregators[0]
	assert.Equal(t, []uint16{1, 2, 3}, agg.DistributingLinks())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0, a.la.AggPorts[i].AttachedAggId, "port %d", 100+i)
		assert.Equal(t, LacpMuxmStateDistributing, a.la.AggPorts[i].MuxmState)
	}
	checkInvariants(t, a.la)
	checkInvariants(t, b.la)

	// link drop redistributes immediately
	sim.Disconnect(a.macs[0])
	step(ctx, a, b)
	assert.Equal(t, []uint16{2, 3}, agg.DistributingLinks())
	assert.Equal(t, LacpMuxmStateDistributing, a.la.AggPorts[1].MuxmState)
	assert.Equal(t, LacpMuxmStateDistributing, a.la.AggPorts[2].MuxmState)
	for cid := 0; cid < 4096; cid++ {
		l := agg.ConversationLink(uint16(cid))
		require.True(t, l == 2 || l == 3, "cid %d on link %d", cid, l)
	}
}

func TestSelectionSolitaryUntilPartnerKnown(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)

	// two enabled ports with defaulted partners must not group
	for i := 0; i < 2; i++ {
		p := a.la.AggPorts[i]
		p.PortEnabled = true
	}
	a.la.runSelection()
	assert.Equal(t, 0, a.la.AggPorts[0].SelectedAggId)
	assert.Equal(t, 1, a.la.AggPorts[1].SelectedAggId)
}

func TestSelectionPreferredAggregatorOfLowestPort(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 6)

	partner := LacpSystem{ActorSystem: sim.MacAddr{0, 0, 0x66, 0, 0, 0}}
	for _, i := range []int{1, 2, 3} {
		p := a.la.AggPorts[i]
		p.PortEnabled = true
		LacpStateClear(&p.ActorOper.State, LacpStateDefaultedBit)
		p.PartnerOper.System = partner
		p.PartnerOper.Key = 0x99
		p.PartnerOper.State = LacpStateAggregatibleUp &^ LacpStateDefaultedBit
	}
	a.la.runSelection()

	// the group lands on the preferred aggregator of port 101
	for _, i := range []int{1, 2, 3} {
		assert.Equal(t, 1, a.la.AggPorts[i].SelectedAggId, "port %d", 100+i)
		assert.Equal(t, LacpAggSelected, a.la.AggPorts[i].Selected())
	}
}

func TestSelectionKeyMismatchStarvation(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)

	p := a.la.AggPorts[0]
	p.PortEnabled = true
	p.SetActorAdminKey(0x0999) // no aggregator carries this key

	a.la.runSelection()
	assert.Equal(t, LacpAggUnSelected, p.Selected())
	assert.Equal(t, -1, p.SelectedAggId)

	// giving one aggregator the key resolves the starvation
	a.la.Aggregators[2].SetActorAdminKey(0x0999)
	a.la.runSelection()
	assert.Equal(t, 2, p.SelectedAggId)
}

func TestSelectionEviction(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)

	// port 101 solitary, parked on aggregator 200 (not its preferred)
	intruder := a.la.AggPorts[1]
	intruder.PortEnabled = true
	a.la.runSelection()
	require.Equal(t, 1, intruder.SelectedAggId)

	// force it onto aggregator index 0 to simulate an earlier occupancy
	intruder.SelectedAggId = 0
	intruder.AttachedAggId = 0
	a.la.Aggregators[0].attachPort(intruder)

	// port 100 comes up; its preferred aggregator is index 0
	owner := a.la.AggPorts[0]
	owner.PortEnabled = true
	a.la.runSelection()

	assert.Equal(t, 0, owner.SelectedAggId)
	// the intruder is reassigned to its own preferred aggregator; since it
	// is still attached to 0 it is first unselected to migrate
	assert.Equal(t, LacpAggUnSelected, intruder.Selected())
}

func TestTxRateLimit(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 1)
	b := newTestSystem(ctx, 1, 1)
	sim.Connect(a.macs[0], b.macs[0], 5)
	step(ctx, a, b)

	p := a.la.AggPorts[0]
	require.True(t, p.IsPortEnabled())

	// force five transmissions within one fast periodic interval: only
	// three may go out
	p.Counters.LacpOutPkts = 0
	p.txCnt = 0
	for i := 0; i < 5; i++ {
		p.nttFlag = true
		p.runTxMachine()
	}
	assert.Equal(t, uint64(3), p.Counters.LacpOutPkts)
	// the held-back NTT survives for the next interval
	assert.True(t, p.nttFlag)
}

func TestPeriodicIntervalFollowsPartnerTimeout(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 1)
	p := a.la.AggPorts[0]
	p.PortEnabled = true

	// partner short timeout: fast periodic
	LacpStateSet(&p.PartnerOper.State, LacpStateTimeoutBit)
	p.runPtxMachine() // NoPeriodic -> FastPeriodic
	p.runPtxMachine()
	assert.Equal(t, LacpPtxmStateFastPeriodic, p.PtxmState)
	assert.Equal(t, LacpFastPeriodicTime, p.periodicInterval)

	// partner long timeout: slow periodic
	LacpStateClear(&p.PartnerOper.State, LacpStateTimeoutBit)
	p.runPtxMachine()
	assert.Equal(t, LacpPtxmStateSlowPeriodic, p.PtxmState)
	assert.Equal(t, LacpSlowPeriodicTime, p.periodicInterval)
}

func TestRxMachineExpiryPath(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 1)
	b := newTestSystem(ctx, 1, 1)
	sim.Connect(a.macs[0], b.macs[0], 5)
	run(ctx, 40, a, b)

	p := a.la.AggPorts[0]
	require.Equal(t, LacpRxmStateCurrent, p.RxmState)

	// silence the partner: disconnecting drops its queued PDUs, then expiry
	// runs
	sim.Disconnect(b.macs[0])
	// a's side keeps carrier down too, so instead disable b only:
	// reconnect and stop b from transmitting by disabling lacp
	sim.Connect(a.macs[0], b.macs[0], 5)
	b.la.AggPorts[0].lacpEnabled = false
	run(ctx, 10, a, b)

	// current-while (short, 3s) has long expired
	assert.NotEqual(t, LacpRxmStateCurrent, a.la.AggPorts[0].RxmState)
	assert.True(t, LacpStateIsSet(a.la.AggPorts[0].ActorOper.State, LacpStateDefaultedBit))
}

func TestAdminWritesCommuteWithinTick(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)
	b := newTestSystem(ctx, 1, 4)

	apply1 := func(la *LinkAgg) {
		la.AggPorts[1].SetActorAdminKey(0x0246)
		la.Aggregators[1].SetActorAdminKey(0x0246)
		la.AggPorts[2].SetLinkNumberID(18)
		la.Aggregators[0].SetPortAlgorithm(LagAlgorithmCVid)
	}
	apply2 := func(la *LinkAgg) {
		la.Aggregators[0].SetPortAlgorithm(LagAlgorithmCVid)
		la.AggPorts[2].SetLinkNumberID(18)
		la.Aggregators[1].SetActorAdminKey(0x0246)
		la.AggPorts[1].SetActorAdminKey(0x0246)
	}
	apply1(a.la)
	apply2(b.la)

	// the same final state regardless of write order
	assert.Equal(t, a.la.AggPorts[1].ActorOper.Key, b.la.AggPorts[1].ActorOper.Key)
	assert.Equal(t, a.la.Aggregators[1].ActorAdminKey, b.la.Aggregators[1].ActorAdminKey)
	assert.Equal(t, a.la.AggPorts[2].LinkNumberID, b.la.AggPorts[2].LinkNumberID)
	assert.Equal(t, a.la.Aggregators[0].PortAlgorithm, b.la.Aggregators[0].PortAlgorithm)
	assert.Equal(t, a.la.Aggregators[0].ConvListDigest, b.la.Aggregators[0].ConvListDigest)
}

func TestDuplicateLinkNumberExcluded(t *testing.T) {
	ctx := sim.NewTestSimCtx()
	a := newTestSystem(ctx, 0, 4)
	b := newTestSystem(ctx, 1, 4)

	sim.Connect(a.macs[0], b.macs[0], 5)
	sim.Connect(a.macs[1], b.macs[1], 5)
	run(ctx, 60, a, b)

	agg := a.la.Aggregators[0]
	require.Equal(t, []uint16{1, 2}, agg.DistributingLinks())

	// duplicate link number: the higher port is excluded from
	// distribution until repaired
	a.la.AggPorts[1].SetLinkNumberID(1)
	assert.Equal(t, []uint16{1}, agg.DistributingLinks())

	a.la.AggPorts[1].SetLinkNumberID(2)
	assert.Equal(t, []uint16{1, 2}, agg.DistributingLinks())
}
