// relay
//
// The Distributed Relay, 802.1ax-2014 Clause 9: DRCP state per
// Intra-Relay Port, the emulated-system consensus that lets two DR systems
// present one LACP identity, and the partition of gateway conversations
// between the peers.
package drcp

import (
	"crypto/md5"

	"github.com/bits-and-blooms/bitset"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/sim"
)

// GatewayEdit is one remembered administrative edit to the gateway
// vectors, kept per touched Conversation ID to diagnose edit/edit races
// with the DRCPDU exchange.
type GatewayEdit struct {
	Time  int
	Field string // "enable" or "preference"
	Value bool
}

// IppState is the DRCP receive state of one Intra-Relay Port.
type IppState struct {
	PortIndex int
	LinkNum   uint16

	State         int
	currentWhile  int
	periodicTimer int
	ntt           bool

	NbrValid      bool
	NbrCompatible bool
	NbrSystem     lacp.LacpSystem
	NbrKey        uint16
	NbrPortalSys  lacp.LacpSystem
	NbrPortalKey  uint16
	NbrGatewayAlg lacp.LagAlgorithm
	NbrCscd       bool
	NbrDrState    uint8

	NbrEnable           *bitset.BitSet
	NbrPref             *bitset.BitSet
	NbrAdvertisedDigest [16]byte

	NbrSeq   uint32 // neighbor's latest vector sequence
	AckedSeq uint32 // highest of our sequence numbers the neighbor acked
}

type DistributedRelay struct {
	ctx *sim.SimCtx
	la  *lacp.LinkAgg

	AggIndex    int
	DrniPortIdx []int
	Ipps        []*IppState

	HomeSystem lacp.LacpSystem
	HomeKey    uint16

	AdminDrniSystem lacp.LacpSystem
	AdminDrniKey    uint16

	// operational emulated identity, valid while DR_PAIRED
	DrniSystem lacp.LacpSystem
	DrniKey    uint16

	DrState int

	HomeAdminGatewayAlgorithm   lacp.LagAlgorithm
	HomeAdminCscdGatewayControl bool
	HomeAdminGatewayEnable      *bitset.BitSet
	HomeAdminGatewayPreference  *bitset.BitSet

	homeSeq uint32

	GatewayOwner [4096]uint8
	Inconsistent *bitset.BitSet

	// stale neighbor vectors (advertised digest does not match what we
	// hold) suspend forwarding entirely until the vectors arrive
	nbrVectorsStale bool

	EditHistory map[uint16][]GatewayEdit

	appliedSystem lacp.LacpSystem
	appliedKey    uint16
	appliedPsn    uint16

	rxPending []*sim.Frame

	FramesGatewayDrop uint64
	FramesIppTx       uint64
}

// NewDistributedRelay configures a Distributed Relay over the given
// Aggregator of the shim.  drniPorts are the arena indices of the ports the
// virtualized Aggregator serves; ippPorts carry DRCP to the peer.  A zero
// adminSystem defers the emulated identity to the lower of the paired home
// system ids.
func NewDistributedRelay(ctx *sim.SimCtx, la *lacp.LinkAgg, aggIndex int,
	adminSystem lacp.LacpSystem, adminKey uint16, drniPorts, ippPorts []int) *DistributedRelay {

	agg := la.Aggregators[aggIndex]
	dr := &DistributedRelay{
		ctx:                        ctx,
		la:                         la,
		AggIndex:                   aggIndex,
		DrniPortIdx:                append([]int(nil), drniPorts...),
		HomeSystem:                 la.SystemId,
		HomeKey:                    agg.ActorAdminKey,
		AdminDrniSystem:            adminSystem,
		AdminDrniKey:               adminKey,
		DrState:                    DrStateSolo,
		HomeAdminGatewayEnable:     bitset.New(4096),
		HomeAdminGatewayPreference: bitset.New(4096),
		Inconsistent:               bitset.New(4096),
		EditHistory:                make(map[uint16][]GatewayEdit),
		homeSeq:                    1,
		appliedSystem:              la.SystemId,
		appliedKey:                 agg.ActorAdminKey,
	}
	// defaults: every conversation enabled and preferred, so a pair with
	// untouched admin vectors converges on the lower system id as the
	// single gateway
	dr.HomeAdminGatewayEnable.SetAll()
	dr.HomeAdminGatewayPreference.SetAll()

	for i, idx := range ippPorts {
		p := la.AggPorts[idx]
		p.IppEnabled = true
		dr.Ipps = append(dr.Ipps, &IppState{
			PortIndex: idx,
			LinkNum:   uint16(i + 1),
			State:     IppStateInit,
			NbrEnable: bitset.New(4096),
			NbrPref:   bitset.New(4096),
		})
	}
	la.DistRelays[aggIndex] = dr
	return dr
}

// lacp.DistRelay plumbing

func (dr *DistributedRelay) HasIpp(portIndex int) bool {
	for _, ipp := range dr.Ipps {
		if ipp.PortIndex == portIndex {
			return true
		}
	}
	return false
}

func (dr *DistributedRelay) TimerTick() {
	for _, ipp := range dr.Ipps {
		if ipp.currentWhile > 0 {
			ipp.currentWhile--
		}
		if ipp.periodicTimer > 0 {
			ipp.periodicTimer--
		}
	}
}

// RxDrcpdu processes one DRCPDU delivered on an IPP during the receive
// phase.
func (dr *DistributedRelay) RxDrcpdu(portIndex int, f *sim.Frame) {
	pdu := DecodeDrcpPdu(f.Payload)
	if pdu == nil {
		dr.ctx.Log.Warnf("Time %d: DR sys %d malformed DRCPDU on port %d",
			dr.ctx.Time, dr.la.SysNum, portIndex)
		return
	}
	var ipp *IppState
	for _, i := range dr.Ipps {
		if i.PortIndex == portIndex {
			ipp = i
			break
		}
	}
	if ipp == nil {
		return
	}

	ipp.NbrValid = true
	ipp.NbrSystem = pdu.HomeSystem
	ipp.NbrKey = pdu.HomeKey
	ipp.NbrPortalSys = pdu.PortalSystem
	ipp.NbrPortalKey = pdu.PortalKey
	ipp.NbrGatewayAlg = pdu.GatewayAlg
	ipp.NbrCscd = pdu.Flags&DrcpFlagCscdGatewayControl != 0
	ipp.NbrDrState = pdu.DrState
	ipp.NbrAdvertisedDigest = pdu.GatewayDigest

	// portal identity must agree before the peers emulate one system; a
	// zero admin portal defers identity and key to the lower home system
	ipp.NbrCompatible = pdu.PortalSystem == dr.AdminDrniSystem &&
		(dr.AdminDrniSystem == lacp.LacpSystem{} || pdu.PortalKey == dr.AdminDrniKey) &&
		pdu.HomeSystem != dr.HomeSystem
	if !ipp.NbrCompatible {
		dr.ctx.Log.Debugf("Time %d: DR sys %d peer portal mismatch on port %d",
			dr.ctx.Time, dr.la.SysNum, portIndex)
	}

	if pdu.Flags&DrcpFlagVectorsPresent != 0 {
		fromBytes(ipp.NbrEnable, pdu.GatewayEnable[:])
		fromBytes(ipp.NbrPref, pdu.GatewayPreference[:])
	}
	if pdu.Sequence != ipp.NbrSeq {
		ipp.NbrSeq = pdu.Sequence
		ipp.ntt = true // acknowledge promptly
	}
	if pdu.Ack > ipp.AckedSeq {
		ipp.AckedSeq = pdu.Ack
	}

	ipp.State = IppStateCurrent
	ipp.currentWhile = DrcpShortTimeoutTime
}

// Run is the Distributed Relay phase: IPP state maintenance, the
// DR_SOLO/DR_PAIRED decision, gateway-owner recomputation, and the DRCPDU
// transmit decision.
func (dr *DistributedRelay) Run() {
	for _, ipp := range dr.Ipps {
		p := dr.la.AggPorts[ipp.PortIndex]
		if !p.IsPortEnabled() {
			if ipp.State != IppStateInit {
				dr.ippSetState(ipp, IppStateInit)
				ipp.NbrValid = false
				ipp.AckedSeq = 0
			}
			continue
		}
		switch ipp.State {
		case IppStateInit:
			dr.ippSetState(ipp, IppStateExpired)
			ipp.currentWhile = DrcpShortTimeoutTime
			ipp.ntt = true
		case IppStateExpired:
			if ipp.currentWhile == 0 {
				dr.ippSetState(ipp, IppStateDefaulted)
				ipp.NbrValid = false
				ipp.AckedSeq = 0
			}
		case IppStateCurrent:
			if ipp.currentWhile == 0 {
				dr.ippSetState(ipp, IppStateExpired)
				ipp.currentWhile = DrcpShortTimeoutTime
				ipp.ntt = true
			}
		}
		if ipp.periodicTimer == 0 {
			ipp.ntt = true
			ipp.periodicTimer = DrcpFastPeriodicTime
		}
	}

	dr.updateDrState()
	dr.recomputeGatewayOwners()

	for _, ipp := range dr.Ipps {
		p := dr.la.AggPorts[ipp.PortIndex]
		if !ipp.ntt || !p.IsPortEnabled() {
			continue
		}
		ipp.ntt = false
		dr.transmitDrcpPdu(ipp, p)
	}
}

func (dr *DistributedRelay) ippSetState(ipp *IppState, s int) {
	if s == ipp.State {
		return
	}
	dr.ctx.Log.Debugf("Time %d: DRCP sys %d ipp %d: %s -> %s",
		dr.ctx.Time, dr.la.SysNum, ipp.PortIndex, IppStateStrMap[ipp.State], IppStateStrMap[s])
	ipp.State = s
}

// updateDrState decides DR_SOLO versus DR_PAIRED and keeps the virtualized
// Aggregator presenting the right identity.  An incompatible but current
// peer suspends a paired relay rather than letting two views fight.
func (dr *DistributedRelay) updateDrState() {
	paired := false
	incompatible := false
	var nbr lacp.LacpSystem
	for _, ipp := range dr.Ipps {
		if ipp.State == IppStateCurrent && ipp.NbrValid {
			if ipp.NbrCompatible {
				paired = true
				nbr = ipp.NbrSystem
			} else {
				incompatible = true
			}
		}
	}

	prev := dr.DrState
	switch {
	case paired:
		dr.DrState = DrStatePaired
	case incompatible && prev == DrStatePaired:
		dr.DrState = DrStateSuspend
	case incompatible:
		dr.DrState = DrStateSolo
	default:
		dr.DrState = DrStateSolo
	}
	if dr.DrState != prev {
		dr.ctx.Log.Debugf("Time %d: DR sys %d %s -> %s",
			dr.ctx.Time, dr.la.SysNum, DrStateStrMap[prev], DrStateStrMap[dr.DrState])
	}

	if dr.DrState == DrStatePaired {
		sys := dr.AdminDrniSystem
		key := dr.AdminDrniKey
		if (sys == lacp.LacpSystem{}) {
			// no administered portal identity: the lower home system
			// lends the portal its id and key
			sys = dr.HomeSystem
			key = dr.HomeKey
			if nbr.Id() < sys.Id() {
				sys = nbr
				key = dr.nbrKeyFor(nbr)
			}
		}
		// portal system number 1 or 2, carried in the high bits of the
		// presented port numbers so the two systems' ports stay distinct
		// within the emulated system
		psn := uint16(1)
		if dr.HomeSystem.Id() > nbr.Id() {
			psn = 2
		}
		dr.DrniSystem = sys
		dr.DrniKey = key
		dr.applyPortalIdentity(sys, key, psn)
	} else {
		dr.applyPortalIdentity(dr.HomeSystem, dr.HomeKey, 0)
	}
}

func (dr *DistributedRelay) nbrKeyFor(nbr lacp.LacpSystem) uint16 {
	for _, ipp := range dr.Ipps {
		if ipp.NbrValid && ipp.NbrSystem == nbr {
			return ipp.NbrKey
		}
	}
	return dr.HomeKey
}

// applyPortalIdentity rewrites the actor identity the virtualized
// Aggregator and its ports present, renumbering the ports under the
// portal system number.  The remote partners see a LAGID change and
// resync onto the new identity.
func (dr *DistributedRelay) applyPortalIdentity(sys lacp.LacpSystem, key uint16, psn uint16) {
	if sys == dr.appliedSystem && key == dr.appliedKey && psn == dr.appliedPsn {
		return
	}
	dr.ctx.Log.Debugf("Time %d: DR sys %d presenting system %s key 0x%x psn %d",
		dr.ctx.Time, dr.la.SysNum, sys.ActorSystem, key, psn)
	dr.appliedSystem = sys
	dr.appliedKey = key
	dr.appliedPsn = psn

	agg := dr.la.Aggregators[dr.AggIndex]
	agg.SetPortalIdentity(sys, key)
	for _, idx := range dr.DrniPortIdx {
		p := dr.la.AggPorts[idx]
		p.SetActorSystem(sys, key)
		p.ActorOper.Port = (p.PortNum & 0x0FFF) | psn<<12
	}
}

// recomputeGatewayOwners applies the consensus rule per Conversation ID:
//
//	neither peer enabled            -> none
//	exactly one enabled             -> that peer
//	both enabled, one preference    -> the preferring peer
//	both enabled, both prefer       -> the lower DR system id
//	both enabled, neither prefers   -> retain previous owner, inconsistent
//
// Both peers evaluate the same symmetric function of the four admin
// bitsets, so a paired relay converges within two DRCP intervals of the
// last admin edit.
func (dr *DistributedRelay) recomputeGatewayOwners() {
	ipp := dr.activePeer()
	if dr.DrState != DrStatePaired || ipp == nil {
		// solo: home owns whatever it enables
		for cid := 0; cid < 4096; cid++ {
			if dr.HomeAdminGatewayEnable.Test(uint(cid)) {
				dr.GatewayOwner[cid] = GatewayHome
			} else {
				dr.GatewayOwner[cid] = GatewayNone
			}
		}
		dr.Inconsistent.ClearAll()
		dr.nbrVectorsStale = false
		return
	}

	dr.nbrVectorsStale = vectorDigest(ipp.NbrEnable, ipp.NbrPref) != ipp.NbrAdvertisedDigest
	if dr.nbrVectorsStale {
		// hold forwarding until the peer's vectors arrive
		return
	}

	homeLower := dr.HomeSystem.Id() < ipp.NbrSystem.Id()
	for cid := 0; cid < 4096; cid++ {
		he := dr.HomeAdminGatewayEnable.Test(uint(cid))
		pe := ipp.NbrEnable.Test(uint(cid))
		hp := dr.HomeAdminGatewayPreference.Test(uint(cid))
		pp := ipp.NbrPref.Test(uint(cid))

		inconsistent := false
		var owner uint8
		switch {
		case !he && !pe:
			owner = GatewayNone
		case he && !pe:
			owner = GatewayHome
		case pe && !he:
			owner = GatewayPeer
		case hp && !pp:
			owner = GatewayHome
		case pp && !hp:
			owner = GatewayPeer
		case hp && pp:
			if homeLower {
				owner = GatewayHome
			} else {
				owner = GatewayPeer
			}
		default:
			// both enabled, neither claims: keep what was agreed last
			owner = dr.GatewayOwner[cid]
			inconsistent = true
		}
		dr.GatewayOwner[cid] = owner
		if inconsistent {
			dr.Inconsistent.Set(uint(cid))
		} else {
			dr.Inconsistent.Clear(uint(cid))
		}
	}
}

// activePeer returns the current compatible IPP, preferring the lowest.
func (dr *DistributedRelay) activePeer() *IppState {
	for _, ipp := range dr.Ipps {
		if ipp.State == IppStateCurrent && ipp.NbrValid && ipp.NbrCompatible {
			return ipp
		}
	}
	return nil
}

func (dr *DistributedRelay) transmitDrcpPdu(ipp *IppState, p *lacp.LaAggPort) {
	agg := dr.la.Aggregators[dr.AggIndex]
	pdu := &DrcpPdu{
		Version:      1,
		DrState:      uint8(dr.DrState),
		HomeSystem:   dr.HomeSystem,
		HomeKey:      dr.HomeKey,
		PortalSystem: dr.AdminDrniSystem,
		PortalKey:    dr.AdminDrniKey,
		GatewayAlg:   dr.HomeAdminGatewayAlgorithm,
		GatewayDigest: vectorDigest(dr.HomeAdminGatewayEnable,
			dr.HomeAdminGatewayPreference),
		AggPartnerSystem: agg.PartnerSystem,
		AggPartnerKey:    agg.PartnerKey,
		PortConvDigest:   agg.ConvListDigest,
		Sequence:         dr.homeSeq,
		Ack:              ipp.NbrSeq,
	}
	if dr.HomeAdminCscdGatewayControl {
		pdu.Flags |= DrcpFlagCscdGatewayControl
	}
	if ipp.AckedSeq < dr.homeSeq {
		pdu.Flags |= DrcpFlagVectorsPresent
		toBytes(dr.HomeAdminGatewayEnable, pdu.GatewayEnable[:])
		toBytes(dr.HomeAdminGatewayPreference, pdu.GatewayPreference[:])
	}

	data := EncodeDrcpPdu(pdu)
	if data == nil {
		return
	}
	p.Mac.Request(&sim.Frame{
		Da:        sim.DrcpDA,
		Sa:        p.Mac.Addr,
		EtherType: sim.SlowProtocolsEtherType,
		Payload:   data,
	})
}

// administrative surface

func (dr *DistributedRelay) SetHomeAdminGatewayAlgorithm(alg lacp.LagAlgorithm) {
	dr.HomeAdminGatewayAlgorithm = alg
	dr.nttAll()
}

func (dr *DistributedRelay) SetHomeAdminCscdGatewayControl(ena bool) {
	dr.HomeAdminCscdGatewayControl = ena
	dr.nttAll()
}

// SetHomeAdminGatewayEnable replaces the enable vector, recording the
// per-CID edits.
func (dr *DistributedRelay) SetHomeAdminGatewayEnable(bs *bitset.BitSet) {
	dr.recordVectorEdits("enable", dr.HomeAdminGatewayEnable, bs)
	dr.HomeAdminGatewayEnable = bs.Clone()
	dr.vectorEdited()
}

// SetHomeAdminGatewayPreference replaces the preference vector, recording
// the per-CID edits.
func (dr *DistributedRelay) SetHomeAdminGatewayPreference(bs *bitset.BitSet) {
	dr.recordVectorEdits("preference", dr.HomeAdminGatewayPreference, bs)
	dr.HomeAdminGatewayPreference = bs.Clone()
	dr.vectorEdited()
}

func (dr *DistributedRelay) HomeGatewayEnable() *bitset.BitSet {
	return dr.HomeAdminGatewayEnable.Clone()
}

func (dr *DistributedRelay) HomeGatewayPreference() *bitset.BitSet {
	return dr.HomeAdminGatewayPreference.Clone()
}

func (dr *DistributedRelay) vectorEdited() {
	dr.homeSeq++
	dr.nttAll()
}

func (dr *DistributedRelay) nttAll() {
	for _, ipp := range dr.Ipps {
		ipp.ntt = true
	}
}

func (dr *DistributedRelay) recordVectorEdits(field string, old, new_ *bitset.BitSet) {
	for cid := uint(0); cid < 4096; cid++ {
		if old.Test(cid) == new_.Test(cid) {
			continue
		}
		c := uint16(cid)
		hist := append(dr.EditHistory[c], GatewayEdit{
			Time:  dr.ctx.Time,
			Field: field,
			Value: new_.Test(cid),
		})
		if len(hist) > GatewayEditHistoryDepth {
			hist = hist[len(hist)-GatewayEditHistoryDepth:]
		}
		dr.EditHistory[c] = hist
	}
}

// Iss toward the Bridge or End Station above

func (dr *DistributedRelay) Operational() bool {
	return dr.la.Aggregators[dr.AggIndex].Operational() || dr.DrState == DrStatePaired
}

// Request carries a frame from the client downward.  While paired, only
// conversations whose gateway is here go down the local aggregator; a
// conversation gatewayed on the peer crosses the IRP when CSCD is active
// on both ends, and is otherwise left to the peer's own copy of the
// traffic.
func (dr *DistributedRelay) Request(f *sim.Frame) {
	agg := dr.la.Aggregators[dr.AggIndex]
	if dr.DrState != DrStatePaired {
		agg.Request(f)
		return
	}
	cid := lacp.ConvID(dr.HomeAdminGatewayAlgorithm, f)
	if dr.nbrVectorsStale || dr.Inconsistent.Test(uint(cid)) {
		dr.FramesGatewayDrop++
		return
	}
	switch dr.GatewayOwner[cid] {
	case GatewayHome:
		agg.Request(f)
	case GatewayPeer:
		if dr.cscdActive() {
			dr.ippRequest(cid, f)
		} else {
			dr.FramesGatewayDrop++
		}
	default:
		dr.FramesGatewayDrop++
	}
}

// Indication collects upward traffic: frames from the aggregator whose
// gateway is here rise to the client, frames gatewayed on the peer cross
// the IRP, and frames arriving over the IRP follow the same split.
func (dr *DistributedRelay) Indication() *sim.Frame {
	if len(dr.rxPending) == 0 {
		dr.collect()
	}
	if len(dr.rxPending) == 0 {
		return nil
	}
	f := dr.rxPending[0]
	dr.rxPending = dr.rxPending[1:]
	return f
}

func (dr *DistributedRelay) collect() {
	agg := dr.la.Aggregators[dr.AggIndex]
	for f := agg.Indication(); f != nil; f = agg.Indication() {
		dr.steerUp(f, true)
	}
	for _, ipp := range dr.Ipps {
		p := dr.la.AggPorts[ipp.PortIndex]
		for _, f := range p.TakeDataFrames() {
			dr.steerUp(f, false)
		}
	}
}

func (dr *DistributedRelay) steerUp(f *sim.Frame, fromAggregator bool) {
	if dr.DrState != DrStatePaired {
		dr.rxPending = append(dr.rxPending, f)
		return
	}
	cid := lacp.ConvID(dr.HomeAdminGatewayAlgorithm, f)
	if dr.nbrVectorsStale || dr.Inconsistent.Test(uint(cid)) {
		dr.FramesGatewayDrop++
		return
	}
	switch dr.GatewayOwner[cid] {
	case GatewayHome:
		dr.rxPending = append(dr.rxPending, f)
	case GatewayPeer:
		if fromAggregator {
			// our link, their gateway: hand across the IRP
			dr.ippRequest(cid, f)
		} else {
			// relayed here for our aggregator links under CSCD
			dr.la.Aggregators[dr.AggIndex].Request(f)
		}
	default:
		dr.FramesGatewayDrop++
	}
}

// ippRequest chooses the Intra-Relay Port link for the conversation using
// the same admin-table machinery the Aggregator uses, then transmits.
func (dr *DistributedRelay) ippRequest(cid uint16, f *sim.Frame) {
	var active []uint16
	byLink := make(map[uint16]*IppState)
	for _, ipp := range dr.Ipps {
		p := dr.la.AggPorts[ipp.PortIndex]
		if p.IsPortEnabled() {
			active = append(active, ipp.LinkNum)
			byLink[ipp.LinkNum] = ipp
		}
	}
	if len(active) == 0 {
		dr.FramesGatewayDrop++
		return
	}
	agg := dr.la.Aggregators[dr.AggIndex]
	conv := lacp.BuildConvLinkMap(agg.ConvLinkMap, active, agg.AdminConvLinkMap)
	ipp := byLink[conv[cid]]
	if ipp == nil {
		dr.FramesGatewayDrop++
		return
	}
	dr.FramesIppTx++
	dr.la.AggPorts[ipp.PortIndex].Mac.Request(f)
}

func (dr *DistributedRelay) cscdActive() bool {
	ipp := dr.activePeer()
	return dr.HomeAdminCscdGatewayControl && ipp != nil && ipp.NbrCscd
}

// vector helpers

func toBytes(bs *bitset.BitSet, out []byte) {
	for i := uint(0); i < 4096; i++ {
		if bs.Test(i) {
			out[i/8] |= 1 << (i % 8)
		}
	}
}

func fromBytes(bs *bitset.BitSet, in []byte) {
	bs.ClearAll()
	for i := uint(0); i < 4096; i++ {
		if in[i/8]&(1<<(i%8)) != 0 {
			bs.Set(i)
		}
	}
}

func vectorDigest(enable, pref *bitset.BitSet) [16]byte {
	var buf [1024]byte
	toBytes(enable, buf[0:512])
	toBytes(pref, buf[512:1024])
	return md5.Sum(buf[:])
}
