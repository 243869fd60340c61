// Command simctl is the terminal replacement for the GUI inspector that
// stays out of scope: it loads a network config, spawns the fleet,
// optionally drives a scripted sequence of controller commands, and
// renders the event stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "simctl",
	Short: "Drive a simulated drone-mesh network",
	Long: `simctl loads a network config, spawns the simulated fleet, and
drives it: running a scripted sequence of timed commands, or issuing a
single one-shot command and reporting whether it would be accepted.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every forwarded packet, not just drops/sessions")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(crashCmd)
	rootCmd.AddCommand(setPDRCmd)
	rootCmd.AddCommand(addLinkCmd)
	rootCmd.AddCommand(removeLinkCmd)
}
