// bridge
package sim

// BridgePort binds one bridge relay port to whatever Iss serves it: a Mac,
// an Aggregator, or a Distributed Relay.  Ports whose Iss is nil (because
// their Mac was absorbed into a LAG or an IPP) are skipped by the relay.
type BridgePort struct {
	PortId int
	Iss    Iss
}

// Bridge is a deliberately thin C-VLAN relay: frames received on one
// operational port are flooded to every other operational port.  No
// learning, no filtering database; the simulator exists to exercise the
// aggregation sublayer below it.
type Bridge struct {
	ctx      *SimCtx
	VlanType uint16
	BPorts   []*BridgePort
	FramesRx uint64
	FramesTx uint64
	RxLog    map[int][]*Frame // frames seen per port, for inspection
}

func NewBridge(ctx *SimCtx, vlanType uint16, nPorts int) *Bridge {
	b := &Bridge{
		ctx:      ctx,
		VlanType: vlanType,
		RxLog:    make(map[int][]*Frame),
	}
	for i := 0; i < nPorts; i++ {
		b.BPorts = append(b.BPorts, &BridgePort{PortId: i})
	}
	return b
}

// Run performs one relay pass: drain each port and flood.
func (b *Bridge) Run() {
	for i, bp := range b.BPorts {
		if bp.Iss == nil {
			continue
		}
		for f := bp.Iss.Indication(); f != nil; f = bp.Iss.Indication() {
			b.FramesRx++
			b.RxLog[i] = append(b.RxLog[i], f)
			if len(b.RxLog[i]) > 64 {
				b.RxLog[i] = b.RxLog[i][len(b.RxLog[i])-64:]
			}
			for j, out := range b.BPorts {
				if j == i || out.Iss == nil || !out.Iss.Operational() {
					continue
				}
				b.FramesTx++
				out.Iss.Request(f.Clone())
			}
		}
	}
}
