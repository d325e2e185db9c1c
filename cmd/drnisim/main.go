// drnisim runs a link aggregation scenario described in YAML.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srhaddock/drni/device"
)

var debugOverride int

var rootCmd = &cobra.Command{
	Use:   "drnisim",
	Short: "IEEE 802.1AX link aggregation and DRNI simulator",
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := device.ReadScenario(args[0])
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("debug") {
			desc.Debug = debugOverride
		}
		s := desc.Build()
		desc.Play(s)

		for _, d := range s.Devices {
			for _, agg := range d.Lag.Aggregators {
				if !agg.Operational() {
					continue
				}
				fmt.Printf("Time %d: device %d aggregator %d links %v DWC %v\n",
					s.Ctx.Time, d.SysNum, agg.AggId, agg.DistributingLinks(),
					agg.DiscardWrongConversation)
			}
		}
		return nil
	},
}

func main() {
	runCmd.Flags().IntVar(&debugOverride, "debug", 0, "log verbosity, overrides the scenario file")
	rootCmd.AddCommand(runCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
