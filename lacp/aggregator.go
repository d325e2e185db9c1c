// aggregator
package lacp

import (
	"sort"

	"github.com/srhaddock/drni/sim"
)

// 802.1ax-2014 Section 6.4.6 Variables associated with each Aggregator
type LaAggregator struct {
	ctx *sim.SimCtx
	la  *LinkAgg

	// 802.1ax Section 7.3.1.1
	AggId int
	Index int // arena index within the owning LinkAgg shim

	ActorAdminSystem LacpSystem
	ActorOperSystem  LacpSystem
	ActorAdminKey    uint16
	ActorOperKey     uint16

	PartnerSystem LacpSystem
	PartnerKey    uint16

	Enabled bool

	// conversation-sensitive distribution, 802.1ax Section 8.2
	PortAlgorithm            LagAlgorithm
	PartnerPortAlgorithm     LagAlgorithm
	ConvLinkMap              ConvLinkMapType
	AdminConvLinkMap         map[uint16][]uint16
	ConvListDigest           [16]byte
	PartnerConvDigest        [16]byte
	partnerDigestKnown       bool
	AdminDiscardWrongConv    bool
	DiscardWrongConversation bool

	CollectorMaxDelay uint16

	// attached ports by arena index, ascending port number
	PortList []int

	conversationLink [4096]uint16
	activeLinks      []uint16
	linkToPort       map[uint16]int

	rxPending []*sim.Frame

	Stats LacpAggrigatorStats
}

type LacpAggrigatorStats struct {
	// does not include lacp or marker pdus
	FramesTx   uint64
	FramesRx   uint64
	FramesDrop uint64
}

func newLaAggregator(la *LinkAgg, index int, aggId int) *LaAggregator {
	a := &LaAggregator{
		ctx:              la.ctx,
		la:               la,
		AggId:            aggId,
		Index:            index,
		ActorAdminSystem: la.SystemId,
		ActorOperSystem:  la.SystemId,
		ActorAdminKey:    DefaultActorKey,
		ActorOperKey:     DefaultActorKey,
		Enabled:          true,
		AdminConvLinkMap: make(map[uint16][]uint16),
		linkToPort:       make(map[uint16]int),
	}
	a.ConvListDigest = ConvListDigest(a.ConvLinkMap, a.AdminConvLinkMap)
	return a
}

// Operational is true while at least one attached port is distributing.
func (agg *LaAggregator) Operational() bool {
	return len(agg.activeLinks) > 0 && agg.Enabled
}

// DistributingLinks returns the current distributing link numbers in
// ascending order.
func (agg *LaAggregator) DistributingLinks() []uint16 {
	return append([]uint16(nil), agg.activeLinks...)
}

// ConversationLink exposes one entry of the CID to link map.
func (agg *LaAggregator) ConversationLink(cid uint16) uint16 {
	return agg.conversationLink[cid&0xFFF]
}

func (agg *LaAggregator) attachPort(p *LaAggPort) {
	for _, idx := range agg.PortList {
		if idx == p.Index {
			return
		}
	}
	agg.PortList = append(agg.PortList, p.Index)
	sort.Slice(agg.PortList, func(i, j int) bool {
		return agg.la.AggPorts[agg.PortList[i]].PortNum < agg.la.AggPorts[agg.PortList[j]].PortNum
	})
	agg.PartnerSystem = p.PartnerOper.System
	agg.PartnerKey = p.PartnerOper.Key
	agg.ActorOperKey = p.ActorOper.Key
	agg.recordPartnerVersion2(p)
	agg.updateConversationLinks()
}

func (agg *LaAggregator) detachPort(p *LaAggPort) {
	for i, idx := range agg.PortList {
		if idx == p.Index {
			agg.PortList = append(agg.PortList[:i], agg.PortList[i+1:]...)
			break
		}
	}
	if len(agg.PortList) == 0 {
		agg.PartnerSystem = LacpSystem{}
		agg.PartnerKey = 0
	}
	agg.updateConversationLinks()
}

// updateConversationLinks rebuilds the active link set and the CID to link
// vector.  Duplicate link numbers are an InvalidConfig condition: reported
// and the higher-numbered port excluded until the numbering is repaired.
func (agg *LaAggregator) updateConversationLinks() {
	agg.activeLinks = agg.activeLinks[:0]
	agg.linkToPort = make(map[uint16]int)
	for _, idx := range agg.PortList {
		p := agg.la.AggPorts[idx]
		if !p.IsDistributing() {
			continue
		}
		link := p.OperLinkNumber
		if link == 0 {
			continue
		}
		if _, dup := agg.linkToPort[link]; dup {
			agg.ctx.Log.Warnf("Time %d: Aggregator %d duplicate link number %d on port %d",
				agg.ctx.Time, agg.AggId, link, p.PortNum)
			continue
		}
		agg.linkToPort[link] = idx
		agg.activeLinks = append(agg.activeLinks, link)
	}
	sort.Slice(agg.activeLinks, func(i, j int) bool { return agg.activeLinks[i] < agg.activeLinks[j] })
	agg.conversationLink = BuildConvLinkMap(agg.ConvLinkMap, agg.activeLinks, agg.AdminConvLinkMap)
}

// recordPartnerVersion2 captures the partner's conversation-sensitive
// parameters from a port's latest LACPDU and re-evaluates agreement.
func (agg *LaAggregator) recordPartnerVersion2(p *LaAggPort) {
	agg.PartnerPortAlgorithm = p.PartnerPortAlgorithm
	agg.partnerDigestKnown = p.partnerDigestKnown
	if p.partnerDigestKnown {
		agg.PartnerConvDigest = p.PartnerConvDigest
	}
	agg.updateDiscardWrongConversation()
}

// updateDiscardWrongConversation: the two ends distribute a conversation
// over a link only when they share the port algorithm and their digests
// match; until then every misrouted frame is discarded.
func (agg *LaAggregator) updateDiscardWrongConversation() {
	dwc := agg.AdminDiscardWrongConv
	if agg.partnerDigestKnown {
		if agg.PartnerPortAlgorithm != agg.PortAlgorithm ||
			agg.PartnerConvDigest != agg.ConvListDigest {
			dwc = true
		}
	}
	if dwc != agg.DiscardWrongConversation {
		agg.ctx.Log.Debugf("Time %d: Aggregator %d DWC %v -> %v",
			agg.ctx.Time, agg.AggId, agg.DiscardWrongConversation, dwc)
		agg.DiscardWrongConversation = dwc
	}
}

// administrative surface

func (agg *LaAggregator) SetActorAdminKey(key uint16) {
	agg.ActorAdminKey = key
	agg.ActorOperKey = key
	// attached ports whose keys no longer match must reselect
	for _, idx := range append([]int(nil), agg.PortList...) {
		p := agg.la.AggPorts[idx]
		if p.ActorOper.Key != key {
			p.setSelected(LacpAggUnSelected)
		}
	}
}

func (agg *LaAggregator) SetActorSystem(sys LacpSystem) {
	agg.ActorAdminSystem = sys
	agg.ActorOperSystem = sys
	for _, idx := range append([]int(nil), agg.PortList...) {
		agg.la.AggPorts[idx].setSelected(LacpAggUnSelected)
	}
}

// SetPortalIdentity rewrites the identity this Aggregator presents while a
// Distributed Relay virtualizes it.  The admin key follows so the Selection
// Logic keeps matching the portal's ports.
func (agg *LaAggregator) SetPortalIdentity(sys LacpSystem, key uint16) {
	agg.ActorOperSystem = sys
	agg.ActorAdminKey = key
	agg.ActorOperKey = key
}

func (agg *LaAggregator) SetEnabled(ena bool) {
	agg.Enabled = ena
	if !ena {
		for _, idx := range append([]int(nil), agg.PortList...) {
			agg.la.AggPorts[idx].setSelected(LacpAggUnSelected)
		}
	}
}

func (agg *LaAggregator) SetPortAlgorithm(alg LagAlgorithm) {
	agg.PortAlgorithm = alg
	agg.updateDiscardWrongConversation()
	agg.nttAttached()
}

// SetConvLinkMap selects the conversation to link map algorithm.
func (agg *LaAggregator) SetConvLinkMap(m ConvLinkMapType) {
	agg.ConvLinkMap = m
	agg.ConvListDigest = ConvListDigest(agg.ConvLinkMap, agg.AdminConvLinkMap)
	agg.updateConversationLinks()
	agg.updateDiscardWrongConversation()
	agg.nttAttached()
}

// SetConversationAdminLink administers the ordered link preference list of
// one Conversation ID.
func (agg *LaAggregator) SetConversationAdminLink(cid uint16, links []uint16) {
	if len(links) == 0 {
		delete(agg.AdminConvLinkMap, cid&0xFFF)
	} else {
		agg.AdminConvLinkMap[cid&0xFFF] = append([]uint16(nil), links...)
	}
	agg.ConvListDigest = ConvListDigest(agg.ConvLinkMap, agg.AdminConvLinkMap)
	agg.updateConversationLinks()
	agg.updateDiscardWrongConversation()
	agg.nttAttached()
}

func (agg *LaAggregator) SetAdminDiscardWrongConversation(dwc bool) {
	agg.AdminDiscardWrongConv = dwc
	agg.updateDiscardWrongConversation()
}

func (agg *LaAggregator) nttAttached() {
	for _, idx := range agg.PortList {
		agg.la.AggPorts[idx].nttFlag = true
	}
}

// Iss toward the client above

// Request distributes a frame onto the link its Conversation ID selects.
// CIDs mapped to link 0 are discarded.
func (agg *LaAggregator) Request(f *sim.Frame) {
	if !agg.Operational() {
		agg.Stats.FramesDrop++
		return
	}
	cid := ConvID(agg.PortAlgorithm, f)
	link := agg.conversationLink[cid]
	idx, ok := agg.linkToPort[link]
	if link == 0 || !ok {
		agg.Stats.FramesDrop++
		return
	}
	p := agg.la.AggPorts[idx]
	agg.Stats.FramesTx++
	agg.la.recordDistribution(agg, cid, link)
	p.Mac.Request(f)
}

// Indication collects frames from the attached collecting ports.  With
// discard-wrong-conversation set, a frame arriving on a link the local map
// would not have chosen for its CID is dropped.
func (agg *LaAggregator) Indication() *sim.Frame {
	if len(agg.rxPending) == 0 {
		agg.collect()
	}
	if len(agg.rxPending) == 0 {
		return nil
	}
	f := agg.rxPending[0]
	agg.rxPending = agg.rxPending[1:]
	return f
}

func (agg *LaAggregator) collect() {
	for _, idx := range agg.PortList {
		p := agg.la.AggPorts[idx]
		if !p.IsCollecting() {
			p.dataRx = nil
			continue
		}
		for _, f := range p.dataRx {
			if agg.DiscardWrongConversation {
				cid := ConvID(agg.PortAlgorithm, f)
				if agg.conversationLink[cid] != p.OperLinkNumber {
					agg.Stats.FramesDrop++
					continue
				}
			}
			agg.Stats.FramesRx++
			agg.rxPending = append(agg.rxPending, f)
		}
		p.dataRx = nil
	}
}
