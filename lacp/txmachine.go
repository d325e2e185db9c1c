// TX MACHINE 802.1ax-2014 Section 6.4.16
package lacp

import (
	"github.com/srhaddock/drni/sim"
)

// runTxMachine transmits one LACPDU when NTT is set, subject to the rate
// limit of no more than three LACPDUs per fast periodic interval.  When the
// limiter holds a transmission back NTT stays set, so the PDU goes out as
// soon as the window reopens.
func (p *LaAggPort) runTxMachine() {
	if !p.nttFlag || !p.PortEnabled || !p.lacpEnabled {
		if !p.PortEnabled {
			p.nttFlag = false
		}
		return
	}
	if p.txCnt >= LacpTxLimit {
		return
	}
	p.txCnt++
	if p.txLimitTimer == 0 {
		p.txLimitTimer = LacpFastPeriodicTime
	}
	p.nttFlag = false
	p.transmitLacpPdu()
}

// transmitLacpPdu builds the PDU from the operational parameter sets and
// queues it on the port's Mac.
func (p *LaAggPort) transmitLacpPdu() {
	pdu := &LacpPdu{
		Version:           p.LacpVersion,
		Actor:             p.ActorOper,
		Partner:           p.PartnerOper,
		CollectorMaxDelay: DefaultCollectorDelay,
	}
	if p.LacpVersion >= 2 {
		pdu.LinkNumberID = p.LinkNumberID
		if agg := p.la.aggFor(p); agg != nil {
			pdu.PortAlgorithm = agg.PortAlgorithm
			pdu.ConvListDigest = agg.ConvListDigest
		}
	}

	data := EncodeLacpPdu(pdu)
	if data == nil {
		p.Counters.LacpTxErrors++
		return
	}
	p.Counters.LacpOutPkts++
	p.Mac.Request(&sim.Frame{
		Da:        p.ProtocolDA,
		Sa:        p.Mac.Addr,
		EtherType: sim.SlowProtocolsEtherType,
		Payload:   data,
	})
}
