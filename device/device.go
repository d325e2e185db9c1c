// device
package device

import (
	"github.com/srhaddock/drni/drcp"
	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/sim"
)

// Device owns the Macs of one simulated system, its Link Aggregation shim,
// and the Bridge or End Station component above, plus any Distributed
// Relays configured on its aggregators.
type Device struct {
	Ctx    *sim.SimCtx
	SysNum int

	Macs   []*sim.Mac
	Lag    *lacp.LinkAgg
	Brg    *sim.Bridge
	Stn    *sim.EndStn
	Relays []*drcp.DistributedRelay
}

func systemAddr(sysNum int) sim.MacAddr {
	return sim.MacAddr{0x00, 0x00, 0x55, byte(sysNum), 0x00, 0x00}
}

func macAddr(sysNum, macIdx int) sim.MacAddr {
	return sim.MacAddr{0x00, 0x00, 0x55, byte(sysNum), 0x00, byte(macIdx + 1)}
}

func newDevice(ctx *sim.SimCtx, sysNum, nMacs int) *Device {
	d := &Device{Ctx: ctx, SysNum: sysNum}
	for i := 0; i < nMacs; i++ {
		d.Macs = append(d.Macs, sim.NewMac(ctx, sysNum*100+i, macAddr(sysNum, i)))
	}
	sysId := lacp.LacpSystem{ActorSystem: systemAddr(sysNum)}
	d.Lag = lacp.NewLinkAgg(ctx, sysNum, sysId, nMacs, lacp.LacpActorSystemLacpVersion)
	for i := 0; i < nMacs; i++ {
		d.Lag.BindMac(i, d.Macs[i])
	}
	return d
}

// NewBridgeDevice builds a device with a C-VLAN bridge component and one
// bridge port per Mac, each served by the like-indexed Aggregator.
func NewBridgeDevice(ctx *sim.SimCtx, sysNum, nMacs int) *Device {
	d := newDevice(ctx, sysNum, nMacs)
	d.Brg = sim.NewBridge(ctx, sim.CVlanEtherType, nMacs)
	for i := 0; i < nMacs; i++ {
		d.Brg.BPorts[i].Iss = d.Lag.Aggregators[i]
	}
	return d
}

// NewEndStnDevice builds a device with an end station component bound to
// the first Aggregator; all its ports share the default key and aggregate
// there.
func NewEndStnDevice(ctx *sim.SimCtx, sysNum, nMacs int) *Device {
	d := newDevice(ctx, sysNum, nMacs)
	d.Stn = sim.NewEndStn(ctx, systemAddr(sysNum))
	d.Stn.PIss = d.Lag.Aggregators[0]
	return d
}

// ConfigDistRelay configures a Distributed Relay over the Aggregator at
// aggIndex: the next numDrniPorts ports become the portal's aggregation
// ports and the numIrp ports after those carry DRCP to the peer.  The
// client above rebinds from the Aggregator to the relay.
func (d *Device) ConfigDistRelay(aggIndex, numDrniPorts, numIrp int,
	adminSystem lacp.LacpSystem, adminKey uint16, firstLinkNum uint16) *drcp.DistributedRelay {

	// the portal aggregator's key must be unique in the system; make it
	// unique between systems as well so mispairings are visible
	aggKey := (lacp.DefaultActorKey & 0xF000) | uint16(d.SysNum)<<8 | uint16(aggIndex+1)
	if adminKey == 0 {
		adminKey = aggKey
	}

	agg := d.Lag.Aggregators[aggIndex]
	agg.SetActorAdminKey(aggKey)

	var drniPorts, ippPorts []int
	for i := 0; i < numDrniPorts; i++ {
		idx := aggIndex + i
		p := d.Lag.AggPorts[idx]
		p.SetActorAdminKey(aggKey)
		p.SetLinkNumberID(firstLinkNum + uint16(i))
		drniPorts = append(drniPorts, idx)
	}
	for i := 0; i < numIrp; i++ {
		ippPorts = append(ippPorts, aggIndex+numDrniPorts+i)
	}

	dr := drcp.NewDistributedRelay(d.Ctx, d.Lag, aggIndex, adminSystem, adminKey, drniPorts, ippPorts)
	// while solo the relay presents the portal aggregator's own key
	d.Relays = append(d.Relays, dr)

	if d.Brg != nil {
		d.Brg.BPorts[aggIndex].Iss = dr
		for i := aggIndex + 1; i < aggIndex+numDrniPorts+numIrp && i < len(d.Brg.BPorts); i++ {
			d.Brg.BPorts[i].Iss = nil
		}
	}
	if d.Stn != nil {
		d.Stn.PIss = dr
	}
	return dr
}

// per-tick phases, in the driver's fixed order

func (d *Device) TimerTick()       { d.Lag.TimerTick() }
func (d *Device) RxPeriodicPhase() { d.Lag.RxPeriodicPhase() }
func (d *Device) SelectionPhase()  { d.Lag.SelectionPhase() }
func (d *Device) MuxTxPhase()      { d.Lag.MuxTxPhase() }
func (d *Device) DrPhase()         { d.Lag.DrPhase() }

func (d *Device) RelayPhase() {
	if d.Brg != nil {
		d.Brg.Run()
	}
	if d.Stn != nil {
		d.Stn.Run()
	}
}

func (d *Device) Transmit() {
	for _, m := range d.Macs {
		m.Transmit()
	}
}

// DisconnectAll takes down every remaining link on the device.
func (d *Device) DisconnectAll() {
	for _, m := range d.Macs {
		if m.Operational() {
			sim.Disconnect(m)
		}
	}
}
