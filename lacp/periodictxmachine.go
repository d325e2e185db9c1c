// The Periodic Transmission Machine is described in 802.1ax-2014 Section 6.4.13
package lacp

const (
	LacpPtxmStateNoPeriodic = iota + 1
	LacpPtxmStateFastPeriodic
	LacpPtxmStateSlowPeriodic
	LacpPtxmStatePeriodicTx
)

var PtxmStateStrMap = map[int]string{
	LacpPtxmStateNoPeriodic:   "NoPeriodic",
	LacpPtxmStateFastPeriodic: "FastPeriodic",
	LacpPtxmStateSlowPeriodic: "SlowPeriodic",
	LacpPtxmStatePeriodicTx:   "PeriodicTx",
}

// runPtxMachine advances the Periodic Transmission machine one tick.
// Periodic transmission runs whenever the port and LACP are enabled and at
// least one of the two systems is active; the interval follows the
// partner's LACP_Timeout bit.
func (p *LaAggPort) runPtxMachine() {
	noPeriodic := !p.PortEnabled || !p.lacpEnabled ||
		(!LacpStateIsSet(p.ActorOper.State, LacpStateActivityBit) &&
			!LacpStateIsSet(p.PartnerOper.State, LacpStateActivityBit))

	if noPeriodic {
		if p.PtxmState != LacpPtxmStateNoPeriodic {
			p.ptxmSetState(LacpPtxmStateNoPeriodic)
			p.periodicTimer = 0
		}
		return
	}

	partnerShort := LacpStateIsSet(p.PartnerOper.State, LacpStateTimeoutBit)
	interval := LacpSlowPeriodicTime
	want := LacpPtxmStateSlowPeriodic
	if partnerShort {
		interval = LacpFastPeriodicTime
		want = LacpPtxmStateFastPeriodic
	}

	switch p.PtxmState {
	case LacpPtxmStateNoPeriodic:
		// UCT into fast periodic
		p.ptxmSetState(LacpPtxmStateFastPeriodic)
		p.periodicInterval = LacpFastPeriodicTime
		p.periodicTimer = LacpFastPeriodicTime
	case LacpPtxmStateFastPeriodic, LacpPtxmStateSlowPeriodic:
		if p.PtxmState != want {
			// a switch from slow to fast transmits immediately
			if want == LacpPtxmStateFastPeriodic {
				p.ptxmSetState(LacpPtxmStatePeriodicTx)
				p.nttFlag = true
			}
			p.ptxmSetState(want)
			p.periodicInterval = interval
			p.periodicTimer = interval
			return
		}
		if p.periodicTimer == 0 {
			p.ptxmSetState(LacpPtxmStatePeriodicTx)
			p.nttFlag = true
			p.ptxmSetState(want)
			p.periodicInterval = interval
			p.periodicTimer = interval
		}
	}
}

func (p *LaAggPort) ptxmSetState(s int) {
	if s == p.PtxmState {
		return
	}
	p.ctx.Log.Debugf("Time %d: PTXM port %d: %s -> %s",
		p.ctx.Time, p.PortNum, PtxmStateStrMap[p.PtxmState], PtxmStateStrMap[s])
	p.PtxmState = s
}
