// MUX MACHINE 802.1ax-2014 Section 6.4.15, independent control variant
package lacp

const (
	LacpMuxmStateDetached = iota + 1
	LacpMuxmStateWaiting
	LacpMuxmStateAttached
	LacpMuxmStateCollecting
	LacpMuxmStateDistributing
)

var MuxmStateStrMap = map[int]string{
	LacpMuxmStateDetached:     "Detached",
	LacpMuxmStateWaiting:      "Waiting",
	LacpMuxmStateAttached:     "Attached",
	LacpMuxmStateCollecting:   "Collecting",
	LacpMuxmStateDistributing: "Distributing",
}

// runMuxMachine advances the Mux machine until its state settles for this
// tick.  Selection has already run, so aggSelected, SelectedAggId and ready
// reflect this tick's grouping.
func (p *LaAggPort) runMuxMachine() {
	for {
		prev := p.MuxmState
		sel := p.aggSelected
		partnerSync := LacpStateIsSet(p.PartnerOper.State, LacpStateSyncBit)
		partnerCollecting := LacpStateIsSet(p.PartnerOper.State, LacpStateCollectingBit)

		switch p.MuxmState {
		case LacpMuxmStateDetached:
			if (sel == LacpAggSelected || sel == LacpAggStandby) && p.SelectedAggId >= 0 {
				p.muxmSetState(LacpMuxmStateWaiting)
			}
		case LacpMuxmStateWaiting:
			if sel == LacpAggUnSelected || p.SelectedAggId < 0 {
				p.muxmSetState(LacpMuxmStateDetached)
				break
			}
			// STANDBY holds the port in WAITING, ready to attach when
			// its selection changes to SELECTED
			if sel == LacpAggSelected && p.ready {
				p.muxmSetState(LacpMuxmStateAttached)
			}
		case LacpMuxmStateAttached:
			if sel != LacpAggSelected || p.SelectedAggId != p.AttachedAggId {
				p.muxmSetState(LacpMuxmStateDetached)
				break
			}
			if partnerSync {
				p.muxmSetState(LacpMuxmStateCollecting)
			}
		case LacpMuxmStateCollecting:
			if sel != LacpAggSelected || p.SelectedAggId != p.AttachedAggId {
				p.muxmSetState(LacpMuxmStateDetached)
				break
			}
			if !partnerSync {
				p.muxmSetState(LacpMuxmStateAttached)
				break
			}
			// a revertive wait-to-restore holds the port just short of
			// DISTRIBUTING until the timer runs out
			if partnerCollecting && !p.wtrWaiting {
				p.muxmSetState(LacpMuxmStateDistributing)
			}
		case LacpMuxmStateDistributing:
			if sel != LacpAggSelected || p.SelectedAggId != p.AttachedAggId {
				p.muxmSetState(LacpMuxmStateDetached)
				break
			}
			if !partnerSync || !partnerCollecting {
				p.muxmSetState(LacpMuxmStateCollecting)
			}
		}
		if p.MuxmState == prev {
			return
		}
	}
}

func (p *LaAggPort) muxmSetState(s int) {
	if s == p.MuxmState {
		return
	}
	p.ctx.Log.Debugf("Time %d: MUXM port %d: %s -> %s",
		p.ctx.Time, p.PortNum, MuxmStateStrMap[p.MuxmState], MuxmStateStrMap[s])
	p.MuxmState = s

	switch s {
	case LacpMuxmStateDetached:
		p.detachMuxFromAggregator()
		LacpStateClear(&p.ActorOper.State,
			LacpStateSyncBit|LacpStateCollectingBit|LacpStateDistributingBit)
		p.readyN = false
		p.ready = false
		p.nttFlag = true
	case LacpMuxmStateWaiting:
		p.waitWhileTimer = LacpAggregateWaitTime
		p.readyN = false
	case LacpMuxmStateAttached:
		p.attachMuxToAggregator()
		LacpStateSet(&p.ActorOper.State, LacpStateSyncBit)
		LacpStateClear(&p.ActorOper.State, LacpStateCollectingBit|LacpStateDistributingBit)
		p.nttFlag = true
	case LacpMuxmStateCollecting:
		LacpStateSet(&p.ActorOper.State, LacpStateCollectingBit)
		LacpStateClear(&p.ActorOper.State, LacpStateDistributingBit)
		p.nttFlag = true
		if p.AttachedAggId >= 0 {
			p.la.Aggregators[p.AttachedAggId].updateConversationLinks()
		}
	case LacpMuxmStateDistributing:
		LacpStateSet(&p.ActorOper.State, LacpStateDistributingBit)
		p.nttFlag = true
		if p.AttachedAggId >= 0 {
			p.la.Aggregators[p.AttachedAggId].updateConversationLinks()
		}
	}
}

func (p *LaAggPort) attachMuxToAggregator() {
	if p.SelectedAggId < 0 || p.AttachedAggId == p.SelectedAggId {
		return
	}
	agg := p.la.Aggregators[p.SelectedAggId]
	agg.attachPort(p)
	p.AttachedAggId = p.SelectedAggId
	p.lastAggId = p.SelectedAggId
}

func (p *LaAggPort) detachMuxFromAggregator() {
	if p.AttachedAggId < 0 {
		return
	}
	agg := p.la.Aggregators[p.AttachedAggId]
	agg.detachPort(p)
	p.AttachedAggId = -1
}
