// simulation
package device

import (
	"github.com/srhaddock/drni/sim"
)

// Simulation owns the device vector and steps them through the fixed
// per-tick visit order:
//
//	1. timer decrement across all devices
//	2. per device, per port: Receive then Periodic (DRCPDU receive on
//	   IPPs runs in this phase)
//	3. per shim: Selection Logic
//	4. per port: Mux then Transmit
//	5. per Distributed Relay: gateway recomputation and DRCPDU transmit
//	6. Bridge and End Station relay
//	7. per Mac: advance in-flight frames, deliver arrivals
//
// Nothing suspends mid-tick; convergence relies purely on this ordering.
type Simulation struct {
	Ctx     *sim.SimCtx
	Devices []*Device
}

func NewSimulation(ctx *sim.SimCtx) *Simulation {
	return &Simulation{Ctx: ctx}
}

func (s *Simulation) AddDevice(d *Device) {
	s.Devices = append(s.Devices, d)
}

// Connect joins two device Macs with the given propagation delay.
func (s *Simulation) Connect(devA, macA, devB, macB, delay int) {
	sim.Connect(s.Devices[devA].Macs[macA], s.Devices[devB].Macs[macB], delay)
}

// Disconnect takes down the link on the given device Mac.
func (s *Simulation) Disconnect(dev, mac int) {
	sim.Disconnect(s.Devices[dev].Macs[mac])
}

// Step advances the simulation one tick.
func (s *Simulation) Step() {
	for _, d := range s.Devices {
		d.TimerTick()
	}
	for _, d := range s.Devices {
		d.RxPeriodicPhase()
	}
	for _, d := range s.Devices {
		d.SelectionPhase()
	}
	for _, d := range s.Devices {
		d.MuxTxPhase()
	}
	for _, d := range s.Devices {
		d.DrPhase()
	}
	for _, d := range s.Devices {
		d.RelayPhase()
	}
	for _, d := range s.Devices {
		d.Transmit()
	}
	s.Ctx.Time++
}

// RunTicks advances the simulation n ticks.
func (s *Simulation) RunTicks(n int) {
	for i := 0; i < n; i++ {
		s.Step()
	}
}

// RunUntil advances until the simulation clock reaches t.
func (s *Simulation) RunUntil(t int) {
	for s.Ctx.Time < t {
		s.Step()
	}
}
