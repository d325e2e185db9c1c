// config
//
// YAML topology and scenario description for the command line driver.
package device

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/srhaddock/drni/sim"
)

type DeviceDesc struct {
	Type string `yaml:"type"` // "bridge" or "endstn"
	Macs int    `yaml:"macs"`
}

type EndpointDesc struct {
	Device int `yaml:"device"`
	Mac    int `yaml:"mac"`
}

type EventDesc struct {
	Time   int          `yaml:"time"`
	Action string       `yaml:"action"` // "connect" or "disconnect"
	A      EndpointDesc `yaml:"a"`
	B      EndpointDesc `yaml:"b"`
	Delay  int          `yaml:"delay"`
}

type ScenarioDesc struct {
	Debug   int          `yaml:"debug"`
	Devices []DeviceDesc `yaml:"devices"`
	Events  []EventDesc  `yaml:"events"`
	Run     int          `yaml:"run"`
}

// ReadScenario loads and validates a scenario description.
func ReadScenario(filename string) (*ScenarioDesc, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var desc ScenarioDesc
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Validate reports every problem in the description at once.
func (sd *ScenarioDesc) Validate() error {
	var result *multierror.Error
	if len(sd.Devices) == 0 {
		result = multierror.Append(result, fmt.Errorf("no devices"))
	}
	for i, dd := range sd.Devices {
		if dd.Type != "bridge" && dd.Type != "endstn" {
			result = multierror.Append(result, fmt.Errorf("device %d: unknown type %q", i, dd.Type))
		}
		if dd.Macs < 1 {
			result = multierror.Append(result, fmt.Errorf("device %d: needs at least one mac", i))
		}
	}
	checkEp := func(evIdx int, ep EndpointDesc) {
		if ep.Device < 0 || ep.Device >= len(sd.Devices) {
			result = multierror.Append(result, fmt.Errorf("event %d: device %d out of range", evIdx, ep.Device))
			return
		}
		if ep.Mac < 0 || ep.Mac >= sd.Devices[ep.Device].Macs {
			result = multierror.Append(result, fmt.Errorf("event %d: mac %d out of range on device %d", evIdx, ep.Mac, ep.Device))
		}
	}
	for i, ev := range sd.Events {
		switch ev.Action {
		case "connect":
			checkEp(i, ev.A)
			checkEp(i, ev.B)
			if ev.Delay < 1 {
				result = multierror.Append(result, fmt.Errorf("event %d: connect needs delay >= 1", i))
			}
		case "disconnect":
			checkEp(i, ev.A)
		default:
			result = multierror.Append(result, fmt.Errorf("event %d: unknown action %q", i, ev.Action))
		}
		if ev.Time < 0 {
			result = multierror.Append(result, fmt.Errorf("event %d: negative time", i))
		}
	}
	if sd.Run <= 0 {
		result = multierror.Append(result, fmt.Errorf("run length must be positive"))
	}
	return result.ErrorOrNil()
}

// Build instantiates the described devices into a simulation.
func (sd *ScenarioDesc) Build() *Simulation {
	ctx := sim.NewSimCtx(sd.Debug)
	s := NewSimulation(ctx)
	for i, dd := range sd.Devices {
		if dd.Type == "bridge" {
			s.AddDevice(NewBridgeDevice(ctx, i, dd.Macs))
		} else {
			s.AddDevice(NewEndStnDevice(ctx, i, dd.Macs))
		}
	}
	return s
}

// Play runs the scenario to completion, applying events at their ticks.
func (sd *ScenarioDesc) Play(s *Simulation) {
	for s.Ctx.Time < sd.Run {
		for _, ev := range sd.Events {
			if ev.Time != s.Ctx.Time {
				continue
			}
			switch ev.Action {
			case "connect":
				s.Connect(ev.A.Device, ev.A.Mac, ev.B.Device, ev.B.Mac, ev.Delay)
			case "disconnect":
				s.Disconnect(ev.A.Device, ev.A.Mac)
			}
		}
		s.Step()
	}
}
