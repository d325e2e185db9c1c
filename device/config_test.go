// config_test
package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioYaml = `
debug: 0
run: 60
devices:
  - type: bridge
    macs: 4
  - type: bridge
    macs: 4
events:
  - time: 10
    action: connect
    a: {device: 0, mac: 0}
    b: {device: 1, mac: 0}
    delay: 5
  - time: 40
    action: disconnect
    a: {device: 0, mac: 0}
`

func TestReadScenarioAndPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYaml), 0o644))

	desc, err := ReadScenario(path)
	require.NoError(t, err)
	require.Len(t, desc.Devices, 2)

	s := desc.Build()
	desc.Play(s)
	assert.Equal(t, 60, s.Ctx.Time)

	// the link came up, converged, and went away again
	assert.False(t, s.Devices[0].Lag.Aggregators[0].Operational())
	assert.Greater(t, s.Devices[0].Lag.AggPorts[0].Counters.LacpOutPkts, uint64(0))
}

func TestScenarioValidation(t *testing.T) {
	bad := &ScenarioDesc{
		Devices: []DeviceDesc{{Type: "router", Macs: 0}},
		Events: []EventDesc{
			{Time: 1, Action: "connect", A: EndpointDesc{Device: 5}, B: EndpointDesc{}, Delay: 0},
			{Time: -1, Action: "teleport"},
		},
	}
	err := bad.Validate()
	require.Error(t, err)
	// every problem is reported, not just the first
	assert.Contains(t, err.Error(), "unknown type")
	assert.Contains(t, err.Error(), "out of range")
	assert.Contains(t, err.Error(), "unknown action")
	assert.Contains(t, err.Error(), "run length")
}
