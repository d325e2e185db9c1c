// RX MACHINE 802.1ax-2014 Section 6.4.12
package lacp

// rxm states
const (
	LacpRxmStateInitialize = iota + 1
	LacpRxmStatePortDisabled
	LacpRxmStateExpired
	LacpRxmStateLacpDisabled
	LacpRxmStateDefaulted
	LacpRxmStateCurrent
)

var RxmStateStrMap = map[int]string{
	LacpRxmStateInitialize:   "Initialize",
	LacpRxmStatePortDisabled: "PortDisabled",
	LacpRxmStateExpired:      "Expired",
	LacpRxmStateLacpDisabled: "LacpDisabled",
	LacpRxmStateDefaulted:    "Defaulted",
	LacpRxmStateCurrent:      "Current",
}

func (p *LaAggPort) rxmSetState(s int) {
	if s == p.RxmState {
		return
	}
	p.ctx.Log.Debugf("Time %d: RXM port %d: %s -> %s",
		p.ctx.Time, p.PortNum, RxmStateStrMap[p.RxmState], RxmStateStrMap[s])
	p.RxmState = s

	switch s {
	case LacpRxmStateInitialize:
		p.setSelected(LacpAggUnSelected)
		LacpStateClear(&p.ActorOper.State, LacpStateExpiredBit)
		p.portMoved = false
	case LacpRxmStatePortDisabled:
		LacpStateClear(&p.PartnerOper.State, LacpStateSyncBit)
	case LacpRxmStateExpired:
		LacpStateClear(&p.PartnerOper.State, LacpStateSyncBit)
		LacpStateSet(&p.PartnerOper.State, LacpStateTimeoutBit)
		p.currentWhileTimer = LacpShortTimeoutTime
		LacpStateSet(&p.ActorOper.State, LacpStateExpiredBit)
	case LacpRxmStateLacpDisabled:
		p.recordDefault()
		LacpStateClear(&p.PartnerOper.State, LacpStateAggregationBit)
		LacpStateClear(&p.ActorOper.State, LacpStateExpiredBit)
	case LacpRxmStateDefaulted:
		p.updateDefaultSelected()
		p.recordDefault()
		LacpStateClear(&p.ActorOper.State, LacpStateExpiredBit)
	case LacpRxmStateCurrent:
		LacpStateClear(&p.ActorOper.State, LacpStateExpiredBit)
	}
}

// runRxMachine advances the Receive machine one tick, consuming the LACPDUs
// delivered to this port since the previous tick.
func (p *LaAggPort) runRxMachine(pdus []*LacpPdu) {
	// global transitions, evaluated until the state settles
	for {
		prev := p.RxmState
		switch {
		case p.portMoved:
			p.rxmSetState(LacpRxmStateInitialize)
		case p.RxmState == LacpRxmStateInitialize:
			p.rxmSetState(LacpRxmStatePortDisabled)
		case !p.PortEnabled:
			if p.RxmState != LacpRxmStatePortDisabled {
				p.rxmSetState(LacpRxmStatePortDisabled)
			}
		case p.RxmState == LacpRxmStatePortDisabled && p.lacpEnabled:
			p.rxmSetState(LacpRxmStateExpired)
		case p.RxmState == LacpRxmStatePortDisabled && !p.lacpEnabled:
			p.rxmSetState(LacpRxmStateLacpDisabled)
		case p.RxmState == LacpRxmStateLacpDisabled && p.lacpEnabled:
			p.rxmSetState(LacpRxmStatePortDisabled)
		case p.RxmState == LacpRxmStateExpired && p.currentWhileTimer == 0:
			p.rxmSetState(LacpRxmStateDefaulted)
		case p.RxmState == LacpRxmStateCurrent && p.currentWhileTimer == 0:
			p.rxmSetState(LacpRxmStateExpired)
		}
		if p.RxmState == prev {
			break
		}
	}

	if !p.PortEnabled || !p.lacpEnabled {
		return
	}
	for _, pdu := range pdus {
		switch p.RxmState {
		case LacpRxmStateExpired, LacpRxmStateDefaulted, LacpRxmStateCurrent:
			p.Counters.LacpInPkts++
			p.updateSelected(pdu)
			p.updateNTT(pdu)
			p.recordPdu(pdu)
			p.rxmSetState(LacpRxmStateCurrent)
		}
	}
}

// recordPdu: 802.1ax Section 6.4.9
//
// Record the actor information from the packet as the partner operational
// parameters, determine partner sync, and capture the version 2 TLVs.
func (p *LaAggPort) recordPdu(pdu *LacpPdu) {
	LacpCopyLacpPortInfo(&pdu.Actor, &p.PartnerOper)
	LacpStateClear(&p.ActorOper.State, LacpStateDefaultedBit)

	// Partner Oper Sync is TRUE when either
	// 1) the PDU's partner view matches our actor operational parameters
	//    and the PDU actor state Sync is TRUE, or
	// 2) the PDU actor is individual and its Sync is TRUE,
	// and in both cases somebody is active:
	// 3) PDU actor Activity TRUE, or both our Activity and the PDU's
	//    partner-view Activity are TRUE.
	if ((LacpLacpPortInfoIsEqual(&pdu.Partner, &p.ActorOper, LacpStateAggregationBit) &&
		LacpStateIsSet(pdu.Actor.State, LacpStateSyncBit)) ||
		(!LacpStateIsSet(pdu.Actor.State, LacpStateAggregationBit) &&
			LacpStateIsSet(pdu.Actor.State, LacpStateSyncBit))) &&
		(LacpStateIsSet(pdu.Actor.State, LacpStateActivityBit) ||
			(LacpStateIsSet(p.ActorOper.State, LacpStateActivityBit) &&
				LacpStateIsSet(pdu.Partner.State, LacpStateActivityBit))) {
		LacpStateSet(&p.PartnerOper.State, LacpStateSyncBit)
	} else {
		LacpStateClear(&p.PartnerOper.State, LacpStateSyncBit)
	}

	// current-while restarted per the received timeout bit
	if LacpStateIsSet(pdu.Actor.State, LacpStateTimeoutBit) {
		p.currentWhileTimer = LacpShortTimeoutTime
	} else {
		p.currentWhileTimer = LacpLongTimeoutTime
	}
	p.currentWhileTimeout = p.currentWhileTimer

	p.PartnerVersion = pdu.Version
	if pdu.HasV2Tlvs {
		p.PartnerPortAlgorithm = pdu.PortAlgorithm
		p.PartnerConvDigest = pdu.ConvListDigest
		p.partnerDigestKnown = true
		p.partnerLinkNumber = pdu.LinkNumberID
	} else {
		p.partnerDigestKnown = false
		p.partnerLinkNumber = 0
	}
	p.updateOperLinkNumber()
	if p.AttachedAggId >= 0 {
		p.la.Aggregators[p.AttachedAggId].recordPartnerVersion2(p)
	}

	// another port still holding this partner's identity has seen its
	// partner move here
	p.la.detectPortMoved(p)
}

// recordDefault: 802.1ax Section 6.4.9
//
// Adopt the partner admin parameters as the partner operational values,
// set Defaulted, and treat the defaulted partner as in sync.
func (p *LaAggPort) recordDefault() {
	LacpCopyLacpPortInfo(&p.partnerAdmin, &p.PartnerOper)
	LacpStateSet(&p.ActorOper.State, LacpStateDefaultedBit)
	LacpStateSet(&p.PartnerOper.State, LacpStateSyncBit)
	p.PartnerVersion = 1
	p.partnerDigestKnown = false
	p.partnerLinkNumber = 0
	p.updateOperLinkNumber()
}

// updateSelected: 802.1ax Section 6.4.9
//
// If the PDU's actor parameters no longer match the recorded partner
// operational parameters the LAG ID has changed: UNSELECTED.
func (p *LaAggPort) updateSelected(pdu *LacpPdu) {
	if !LacpLacpPortInfoIsEqual(&pdu.Actor, &p.PartnerOper, LacpStateAggregationBit) {
		p.setSelected(LacpAggUnSelected)
	}
}

// updateDefaultSelected: 802.1ax Section 6.4.9
func (p *LaAggPort) updateDefaultSelected() {
	if !LacpLacpPortInfoIsEqual(&p.partnerAdmin, &p.PartnerOper, LacpStateAggregationBit) {
		p.setSelected(LacpAggUnSelected)
	}
}

// updateNTT: 802.1ax Section 6.4.9
//
// If the partner's view of us is stale, schedule a LACPDU.
func (p *LaAggPort) updateNTT(pdu *LacpPdu) {
	const nttStateCompare uint8 = (LacpStateActivityBit | LacpStateTimeoutBit |
		LacpStateAggregationBit | LacpStateSyncBit)

	if !LacpLacpPortInfoIsEqual(&pdu.Partner, &p.ActorOper, nttStateCompare) {
		p.nttFlag = true
	}
}
