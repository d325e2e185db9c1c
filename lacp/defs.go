// defs
package lacp

import (
	"github.com/srhaddock/drni/sim"
)

// 6.4.4 Constants, in ticks (one tick == one second)
// number of seconds between periodic transmissions using Short Timeouts
const LacpFastPeriodicTime = 1

// number of seconds between periodic transmissions using Long Timeouts
const LacpSlowPeriodicTime = 30

// number of seconds before invalidating received LACPDU info when using
// Short Timeouts (3 x LacpFastPeriodicTime)
// Lacp State Timeout == 1
const LacpShortTimeoutTime = 3

// number of seconds before invalidating received LACPDU info when using
// Long Timeouts (3 x LacpSlowPeriodicTime)
// Lacp State Timeout == 0
const LacpLongTimeoutTime = 90

// number of seconds to delay aggregation to allow multiple links to
// aggregate simultaneously
const LacpAggregateWaitTime = 2

// maximum number of LACPDUs transmitted in one fast periodic interval
const LacpTxLimit = 3

// the version number of the Actor LACP implementation
const LacpActorSystemLacpVersion uint8 = 0x02

const (
	LacpStateActivityBit = 1 << iota
	LacpStateTimeoutBit
	LacpStateAggregationBit
	LacpStateSyncBit
	LacpStateCollectingBit
	LacpStateDistributingBit
	LacpStateDefaultedBit
	LacpStateExpiredBit
)

// default actor admin state: active, short timeout, aggregatable
const LacpStateActorDefault uint8 = (LacpStateActivityBit |
	LacpStateTimeoutBit |
	LacpStateAggregationBit)

// default partner admin state used while no LACPDUs have been received
const LacpStateAggregatibleUp uint8 = (LacpStateActivityBit |
	LacpStateAggregationBit |
	LacpStateSyncBit |
	LacpStateCollectingBit |
	LacpStateDistributingBit |
	LacpStateDefaultedBit)

func LacpStateSet(currState *uint8, stateBits uint8) {
	*currState |= stateBits
}

func LacpStateClear(currState *uint8, stateBits uint8) {
	*currState &= ^(stateBits)
}

func LacpStateIsSet(currState uint8, stateBits uint8) bool {
	return (currState & stateBits) == stateBits
}

// LacpSystem is the 64-bit system identifier: 16-bit priority
// concatenated with the 48-bit system MAC address.
type LacpSystem struct {
	ActorSystemPriority uint16
	ActorSystem         sim.MacAddr
}

// Id packs the system priority and MAC into the 64-bit comparison value of
// 802.1ax Section 6.3.2; a numerically lower value is a higher priority
// system.
func (s LacpSystem) Id() uint64 {
	id := uint64(s.ActorSystemPriority) << 48
	for i := 0; i < 6; i++ {
		id |= uint64(s.ActorSystem[i]) << uint(40-8*i)
	}
	return id
}

func LacpSystemFromId(id uint64) LacpSystem {
	var s LacpSystem
	s.ActorSystemPriority = uint16(id >> 48)
	for i := 0; i < 6; i++ {
		s.ActorSystem[i] = byte(id >> uint(40-8*i))
	}
	return s
}

// LacpPortInfo is the actor or partner parameter set carried per port and
// per LACPDU TLV.
type LacpPortInfo struct {
	System  LacpSystem
	Key     uint16
	PortPri uint16
	Port    uint16
	State   uint8
}

// LacpCopyLacpPortInfo:
// Copy the LacpPortInfo data from->to
func LacpCopyLacpPortInfo(fromPortInfoPtr *LacpPortInfo, toPortInfoPtr *LacpPortInfo) {
	*toPortInfoPtr = *fromPortInfoPtr
}

// LacpLacpPortInfoIsEqual:
// Compare the LacpPortInfo data except be selective
// about the State bits that are being compared against
func LacpLacpPortInfoIsEqual(aPortInfoPtr *LacpPortInfo, bPortInfoPtr *LacpPortInfo, stateBits uint8) bool {
	return aPortInfoPtr.System.ActorSystem == bPortInfoPtr.System.ActorSystem &&
		aPortInfoPtr.System.ActorSystemPriority == bPortInfoPtr.System.ActorSystemPriority &&
		aPortInfoPtr.Port == bPortInfoPtr.Port &&
		aPortInfoPtr.PortPri == bPortInfoPtr.PortPri &&
		aPortInfoPtr.Key == bPortInfoPtr.Key &&
		(aPortInfoPtr.State&stateBits) == (bPortInfoPtr.State&stateBits)
}

// LagId determines whether two Aggregation Ports may share an Aggregator.
// Individual ports carry their port identifiers; aggregatable ports zero
// them (802.1ax Section 6.3.6).
type LagId struct {
	ActorSystem uint64
	ActorKey    uint16
	ActorPort   uint32
	PartnerSys  uint64
	PartnerKey  uint16
	PartnerPort uint32
}

// Indicates on a port what state
// the aggSelected is in
const (
	LacpAggSelected = iota + 1
	LacpAggStandby
	LacpAggUnSelected
)

// LagAlgorithm identifies how a frame maps to a Conversation ID.
//
//	Algorithm         Value
//	Unspecified         0
//	C-VID               1
//	S-VID               2
//	I-SID               3
//	DA hash             4
//	DA+SA hash          5
type LagAlgorithm uint32

const (
	LagAlgorithmUnspecified LagAlgorithm = iota
	LagAlgorithmCVid
	LagAlgorithmSVid
	LagAlgorithmISid
	LagAlgorithmDaHash
	LagAlgorithmDaSaHash
)

// ConvID derives the frame's Conversation ID under the given algorithm.
// UNSPECIFIED maps every frame to conversation 0.
func ConvID(alg LagAlgorithm, f *sim.Frame) uint16 {
	switch alg {
	case LagAlgorithmCVid:
		return f.OuterVid(sim.CVlanEtherType) & 0xFFF
	case LagAlgorithmSVid:
		return f.OuterVid(sim.SVlanEtherType) & 0xFFF
	case LagAlgorithmISid:
		// the toy frames carry no I-tag; the low payload bytes stand in
		if len(f.Payload) >= 2 {
			return (uint16(f.Payload[0])<<8 | uint16(f.Payload[1])) & 0xFFF
		}
		return 0
	case LagAlgorithmDaHash:
		return macHash(f.Da, sim.MacAddr{})
	case LagAlgorithmDaSaHash:
		return macHash(f.Da, f.Sa)
	default:
		return 0
	}
}

func macHash(da, sa sim.MacAddr) uint16 {
	var h uint32
	for i := 0; i < 6; i++ {
		h = h*31 + uint32(da[i])
		h = h*31 + uint32(sa[i])
	}
	return uint16(h^(h>>12)) & 0xFFF
}

type LacpCounters struct {
	LacpInPkts        uint64
	LacpOutPkts       uint64
	LacpRxErrors      uint64
	LacpTxErrors      uint64
	LacpUnknownErrors uint64
}

// default administrative values shared by the device builders
const (
	DefaultActorKey       uint16 = 0x0111
	UnusedAggregatorKey   uint16 = 0x0EEE
	DefaultCollectorDelay uint16 = 0
)
