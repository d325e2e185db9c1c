// linkagg
package lacp

import (
	"github.com/srhaddock/drni/sim"
)

// DistRelay is the coupling point between the LinkAgg shim and a
// Distributed Relay configured on one of its Aggregators.  The concrete
// type lives in the drcp package; the shim only drives its phases and
// routes DRCPDUs arriving on Intra-Relay Ports.
type DistRelay interface {
	// HasIpp reports whether the port arena index is one of the relay's
	// Intra-Relay Ports.
	HasIpp(portIndex int) bool

	// RxDrcpdu delivers a DRCPDU frame received on an IPP.  Runs in the
	// per-port receive phase.
	RxDrcpdu(portIndex int, f *sim.Frame)

	// Run performs the relay's per-tick phase: gateway owner
	// recomputation and the DRCPDU transmit decision.
	Run()

	// TimerTick decrements the relay's timers.
	TimerTick()
}

// ConvDistEvent records one distribution decision, kept in a short ring
// for scenario inspection.
type ConvDistEvent struct {
	Time  int
	AggId int
	Cid   uint16
	Link  uint16
}

// LinkAgg is the Link Aggregation shim of one system: the arena of
// Aggregation Ports and Aggregators plus the Selection Logic that binds
// them.  Attachment is expressed by arena indices, so a port migrating
// between Aggregators is a single index swap.
type LinkAgg struct {
	ctx *sim.SimCtx

	SysNum   int
	SystemId LacpSystem

	AggPorts    []*LaAggPort
	Aggregators []*LaAggregator
	DistRelays  []DistRelay // parallel to Aggregators, sparse

	Distributions []ConvDistEvent
}

// NewLinkAgg builds the shim with one AggPort/Aggregator pair per Mac,
// numbered the way the simulator names them: ports from 100, aggregators
// from 200.
func NewLinkAgg(ctx *sim.SimCtx, sysNum int, systemId LacpSystem, nPorts int, version uint8) *LinkAgg {
	la := &LinkAgg{
		ctx:      ctx,
		SysNum:   sysNum,
		SystemId: systemId,
	}
	for i := 0; i < nPorts; i++ {
		la.AggPorts = append(la.AggPorts, newLaAggPort(la, i, uint16(100+i), version))
		la.Aggregators = append(la.Aggregators, newLaAggregator(la, i, 200+i))
		la.DistRelays = append(la.DistRelays, nil)
	}
	return la
}

// BindMac attaches the Mac below the given port.
func (la *LinkAgg) BindMac(portIndex int, m *sim.Mac) {
	la.AggPorts[portIndex].Mac = m
}

// TimerTick decrements every timer in the shim.
func (la *LinkAgg) TimerTick() {
	for _, p := range la.AggPorts {
		p.timerTick()
	}
	for _, r := range la.DistRelays {
		if r != nil {
			r.TimerTick()
		}
	}
}

// RxPeriodicPhase runs, for every port in index order, frame classification
// followed by the Receive and Periodic Transmission machines.  DRCPDUs
// received on IPPs are handed to their Distributed Relay in this same
// phase.
func (la *LinkAgg) RxPeriodicPhase() {
	for _, p := range la.AggPorts {
		p.refreshCarrier()

		var pdus []*LacpPdu
		if p.Mac != nil {
			for f := p.Mac.Indication(); f != nil; f = p.Mac.Indication() {
				switch {
				case f.Da == sim.DrcpDA:
					if r := la.relayForIpp(p.Index); r != nil {
						r.RxDrcpdu(p.Index, f)
					}
				case IsLacpFrame(f, p.ProtocolDA):
					pdu := DecodeLacpPdu(f.Payload)
					if pdu == nil {
						p.Counters.LacpRxErrors++
						continue
					}
					pdus = append(pdus, pdu)
				case f.EtherType == sim.SlowProtocolsEtherType:
					p.Counters.LacpUnknownErrors++
				default:
					p.dataRx = append(p.dataRx, f)
				}
			}
		}

		if p.IppEnabled {
			continue
		}
		p.runRxMachine(pdus)
		p.runPtxMachine()
	}
}

// SelectionPhase runs the Selection Logic once for the shim.
func (la *LinkAgg) SelectionPhase() {
	la.runSelection()
}

// MuxTxPhase runs the Mux and Transmit machines for every port.
func (la *LinkAgg) MuxTxPhase() {
	for _, p := range la.AggPorts {
		if p.IppEnabled {
			continue
		}
		p.runMuxMachine()
		p.runTxMachine()
	}
}

// DrPhase runs the Distributed Relay phase: gateway recomputation and
// DRCPDU transmission.
func (la *LinkAgg) DrPhase() {
	for _, r := range la.DistRelays {
		if r != nil {
			r.Run()
		}
	}
}

func (la *LinkAgg) relayForIpp(portIndex int) DistRelay {
	for _, r := range la.DistRelays {
		if r != nil && r.HasIpp(portIndex) {
			return r
		}
	}
	return nil
}

// aggFor resolves the aggregator whose conversation parameters a port
// advertises: the one it is attached to, else selected for, else its
// like-indexed pair when the keys agree.
func (la *LinkAgg) aggFor(p *LaAggPort) *LaAggregator {
	if p.AttachedAggId >= 0 {
		return la.Aggregators[p.AttachedAggId]
	}
	if p.SelectedAggId >= 0 {
		return la.Aggregators[p.SelectedAggId]
	}
	pair := la.Aggregators[p.Index]
	if pair.ActorAdminKey == p.ActorOper.Key {
		return pair
	}
	return nil
}

// detectPortMoved flags any other port still recording the partner
// identity that port p just learned: its partner has moved to p's link.
func (la *LinkAgg) detectPortMoved(p *LaAggPort) {
	for _, q := range la.AggPorts {
		if q == p || q.IppEnabled {
			continue
		}
		if LacpStateIsSet(q.ActorOper.State, LacpStateDefaultedBit) {
			continue
		}
		if q.PartnerOper.System == p.PartnerOper.System &&
			q.PartnerOper.Port == p.PartnerOper.Port {
			q.portMoved = true
		}
	}
}

func (la *LinkAgg) recordDistribution(agg *LaAggregator, cid uint16, link uint16) {
	la.Distributions = append(la.Distributions, ConvDistEvent{
		Time:  la.ctx.Time,
		AggId: agg.AggId,
		Cid:   cid,
		Link:  link,
	})
	if len(la.Distributions) > 256 {
		la.Distributions = la.Distributions[len(la.Distributions)-256:]
	}
}

// FindAggById locates an aggregator by its external identifier.
func (la *LinkAgg) FindAggById(aggId int) *LaAggregator {
	for _, a := range la.Aggregators {
		if a.AggId == aggId {
			return a
		}
	}
	return nil
}

// FindPortByNum locates a port by its port number.
func (la *LinkAgg) FindPortByNum(portNum uint16) *LaAggPort {
	for _, p := range la.AggPorts {
		if p.PortNum == portNum {
			return p
		}
	}
	return nil
}
