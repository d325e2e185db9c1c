// port
package lacp

import (
	"github.com/srhaddock/drni/sim"
)

// 802.1ax Section 6.4.7
// Port attributes associated with an aggregator
type LaAggPort struct {
	ctx *sim.SimCtx
	la  *LinkAgg

	// 802.1ax-2014 Section 6.3.4:
	// Link Aggregation Control uses a Port Identifier comprising the
	// concatenation of a Port Priority and a Port Number.
	PortNum      uint16
	portPriority uint16

	// arena index within the owning LinkAgg shim
	Index int

	// the Mac serving this port
	Mac *sim.Mac

	// administrative variables, 802.1ax Section 7.3.2
	LinkNumberID uint16 // admin link number
	WTRTime      uint16 // high bit set selects non-revertive mode
	ProtocolDA   sim.MacAddr
	LacpVersion  uint8

	// operational link number; the partner's advertised number is adopted
	// when the partner system has the numerically lower system id
	OperLinkNumber    uint16
	partnerLinkNumber uint16

	// TRUE when the port is designated an Intra-Relay Port.  IPPs run
	// DRCP and are excluded from the Selection Logic.
	IppEnabled bool

	PortEnabled  bool
	prevEnabled  bool
	lacpEnabled  bool
	portMoved    bool

	// administrative and operational parameter sets, 802.1ax Section 6.4.2.3
	actorAdmin   LacpPortInfo
	ActorOper    LacpPortInfo
	partnerAdmin LacpPortInfo
	PartnerOper  LacpPortInfo

	// partner version 2 information
	PartnerVersion       uint8
	PartnerPortAlgorithm LagAlgorithm
	PartnerConvDigest    [16]byte
	partnerDigestKnown   bool

	// selection state
	aggSelected   int // LacpAggSelected / LacpAggStandby / LacpAggUnSelected
	SelectedAggId int // aggregator arena index chosen by Selection, -1 none
	AttachedAggId int // aggregator the mux is attached to, -1 none
	lastAggId     int // most recent aggregator, kept for WTR group release
	readyN        bool
	ready         bool
	nttFlag       bool

	// machine states
	RxmState   int
	PtxmState  int
	MuxmState  int

	// timers, tick countdowns
	currentWhileTimer   int
	currentWhileTimeout int
	periodicTimer       int
	periodicInterval    int
	waitWhileTimer      int
	txCnt               int
	txLimitTimer        int

	// wait-to-restore
	wtrTimer   int
	wtrWaiting bool
	linkFailed bool

	// data-plane frames pending collection by the Aggregator
	dataRx []*sim.Frame

	Counters LacpCounters
}

func newLaAggPort(la *LinkAgg, index int, portNum uint16, version uint8) *LaAggPort {
	p := &LaAggPort{
		ctx:           la.ctx,
		la:            la,
		Index:         index,
		PortNum:       portNum,
		portPriority:  0x80,
		ProtocolDA:    sim.SlowProtocolsDA,
		LacpVersion:   version,
		LinkNumberID:  uint16(index + 1),
		lacpEnabled:   true,
		SelectedAggId: -1,
		AttachedAggId: -1,
		lastAggId:     -1,
		aggSelected:   LacpAggUnSelected,
		RxmState:      LacpRxmStateInitialize,
		PtxmState:     LacpPtxmStateNoPeriodic,
		MuxmState:     LacpMuxmStateDetached,
	}
	p.OperLinkNumber = p.LinkNumberID

	p.actorAdmin.System = la.SystemId
	p.actorAdmin.Key = DefaultActorKey
	p.actorAdmin.PortPri = p.portPriority
	p.actorAdmin.Port = portNum
	p.actorAdmin.State = LacpStateActorDefault
	p.ActorOper = p.actorAdmin
	// no partner yet: the port is solitary until the Receive machine
	// records one
	LacpStateSet(&p.ActorOper.State, LacpStateDefaultedBit)

	p.partnerAdmin.State = LacpStateAggregatibleUp
	p.PartnerOper = p.partnerAdmin
	return p
}

// PortId is the 32-bit priority||number identifier.
func (p *LaAggPort) PortId() uint32 {
	return uint32(p.portPriority)<<16 | uint32(p.PortNum)
}

func (p *LaAggPort) NonRevertive() bool { return p.WTRTime&0x8000 != 0 }
func (p *LaAggPort) wtrValue() int      { return int(p.WTRTime & 0x7FFF) }

// Selected returns the current selection state of the port.
func (p *LaAggPort) Selected() int { return p.aggSelected }

// setSelected records a new selection state, forcing NTT on any loss of
// selection so the partner learns promptly (an UNSELECTED port that stays
// silent leaves the partner stuck on a stale LAGID).
func (p *LaAggPort) setSelected(sel int) {
	if sel == p.aggSelected {
		return
	}
	p.aggSelected = sel
	if sel == LacpAggUnSelected {
		p.nttFlag = true
	}
}

// timerTick decrements every running timer by one tick.
func (p *LaAggPort) timerTick() {
	if p.currentWhileTimer > 0 {
		p.currentWhileTimer--
	}
	if p.periodicTimer > 0 {
		p.periodicTimer--
	}
	if p.waitWhileTimer > 0 {
		p.waitWhileTimer--
	}
	if p.txLimitTimer > 0 {
		p.txLimitTimer--
		if p.txLimitTimer == 0 {
			p.txCnt = 0
		}
	}
	if p.wtrTimer > 0 {
		p.wtrTimer--
		if p.wtrTimer == 0 && !p.NonRevertive() {
			p.wtrWaiting = false
		}
	}
}

// refreshCarrier samples the Mac and reacts to carrier edges: a rising edge
// arms the wait-to-restore machinery, a falling edge records the link
// failure and re-arms non-revertive mode.
func (p *LaAggPort) refreshCarrier() {
	p.prevEnabled = p.PortEnabled
	p.PortEnabled = p.Mac != nil && p.Mac.Operational()

	if p.PortEnabled && !p.prevEnabled {
		// wait-to-restore guards recovery from a failure, not the first
		// bring-up
		if p.linkFailed && (p.wtrValue() > 0 || p.NonRevertive()) {
			p.wtrTimer = p.wtrValue()
			p.wtrWaiting = true
		}
		p.linkFailed = false
	}
	if !p.PortEnabled && p.prevEnabled {
		p.linkFailed = true
		if p.NonRevertive() {
			p.wtrWaiting = true
		}
		p.wtrTimer = 0
	}
}

// LagId computes the identity tuple the Selection Logic groups by.  A port
// whose partner information is defaulted is solitary: its LAGID carries its
// own port identifier so it cannot group until it learns a real partner.
// An individual port (either end's aggregation bit clear) carries both port
// identifiers.
func (p *LaAggPort) LagId() LagId {
	id := LagId{
		ActorSystem: p.ActorOper.System.Id(),
		ActorKey:    p.ActorOper.Key,
	}
	if LacpStateIsSet(p.ActorOper.State, LacpStateDefaultedBit) {
		id.ActorPort = p.PortId()
		return id
	}
	id.PartnerSys = p.PartnerOper.System.Id()
	id.PartnerKey = p.PartnerOper.Key
	individual := !LacpStateIsSet(p.ActorOper.State, LacpStateAggregationBit) ||
		!LacpStateIsSet(p.PartnerOper.State, LacpStateAggregationBit)
	if individual {
		id.ActorPort = p.PortId()
		id.PartnerPort = uint32(p.PartnerOper.PortPri)<<16 | uint32(p.PartnerOper.Port)
	}
	return id
}

// administrative surface

// SetActorAdminKey changes the port's admin key.  The operational key
// follows, the port reselects, and the partner is told.
func (p *LaAggPort) SetActorAdminKey(key uint16) {
	p.actorAdmin.Key = key
	p.ActorOper.Key = key
	p.setSelected(LacpAggUnSelected)
	p.nttFlag = true
}

// SetActorAdminState replaces the admin state bits (activity, timeout,
// aggregation).  Changing the aggregation bit changes the LAGID, so the
// port reselects.
func (p *LaAggPort) SetActorAdminState(state uint8) {
	changed := (p.actorAdmin.State ^ state) & (LacpStateActivityBit | LacpStateTimeoutBit | LacpStateAggregationBit)
	p.actorAdmin.State = state
	p.ActorOper.State = (p.ActorOper.State &^ (LacpStateActivityBit | LacpStateTimeoutBit | LacpStateAggregationBit)) |
		(state & (LacpStateActivityBit | LacpStateTimeoutBit | LacpStateAggregationBit))
	if changed&LacpStateAggregationBit != 0 {
		p.setSelected(LacpAggUnSelected)
	}
	p.nttFlag = true
}

func (p *LaAggPort) ActorAdminState() uint8 { return p.actorAdmin.State }

// SetActorSystem rewrites the actor system identity presented by this
// port.  Used when a Distributed Relay virtualizes the port's aggregator.
func (p *LaAggPort) SetActorSystem(sys LacpSystem, key uint16) {
	p.actorAdmin.System = sys
	p.ActorOper.System = sys
	p.actorAdmin.Key = key
	p.ActorOper.Key = key
	// partner must resync on the new LAGID
	LacpStateClear(&p.PartnerOper.State, LacpStateSyncBit)
	p.setSelected(LacpAggUnSelected)
	p.nttFlag = true
}

// SetWTRTime sets the wait-to-restore time in seconds; the high bit selects
// non-revertive mode.
func (p *LaAggPort) SetWTRTime(wtr uint16) {
	p.WTRTime = wtr
	if wtr == 0 {
		p.wtrTimer = 0
		p.wtrWaiting = false
	}
}

// SetLinkNumberID assigns the admin link number.  Duplicates within an
// aggregator are detected when the distribution map is rebuilt.
func (p *LaAggPort) SetLinkNumberID(n uint16) {
	p.LinkNumberID = n
	p.updateOperLinkNumber()
	if p.AttachedAggId >= 0 {
		p.la.Aggregators[p.AttachedAggId].updateConversationLinks()
	}
	p.nttFlag = true
}

// updateOperLinkNumber chooses between the local and the partner's
// advertised link number: the system with the numerically lower system id
// dictates link numbering for the LAG.
func (p *LaAggPort) updateOperLinkNumber() {
	prev := p.OperLinkNumber
	p.OperLinkNumber = p.LinkNumberID
	if p.partnerLinkNumber != 0 &&
		!LacpStateIsSet(p.ActorOper.State, LacpStateDefaultedBit) &&
		p.PartnerOper.System.Id() < p.ActorOper.System.Id() {
		p.OperLinkNumber = p.partnerLinkNumber
	}
	if prev != p.OperLinkNumber && p.AttachedAggId >= 0 {
		p.la.Aggregators[p.AttachedAggId].updateConversationLinks()
	}
}

// IsPortEnabled is true when the port has carrier.
func (p *LaAggPort) IsPortEnabled() bool { return p.PortEnabled }

// TakeDataFrames hands over the data-plane frames received on this port
// since the last call.  Used by a Distributed Relay collecting from its
// Intra-Relay Ports.
func (p *LaAggPort) TakeDataFrames() []*sim.Frame {
	f := p.dataRx
	p.dataRx = nil
	return f
}

// IsDistributing reports whether the mux has reached DISTRIBUTING.
func (p *LaAggPort) IsDistributing() bool { return p.MuxmState == LacpMuxmStateDistributing }

// IsCollecting reports whether the mux is COLLECTING or beyond.
func (p *LaAggPort) IsCollecting() bool {
	return p.MuxmState == LacpMuxmStateCollecting || p.MuxmState == LacpMuxmStateDistributing
}
