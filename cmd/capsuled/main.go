// Command capsuled is the supervisor daemon: it owns the pool manager and
// hypervisor driver for a host and exposes them over a gRPC control plane.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "capsuled",
		Short: "capsuled runs the sandboxed-execution supervisor daemon",
		Long:  "capsuled owns a host's pool manager and hypervisor driver and exposes Invoke/Stats/Shutdown over a gRPC control plane.",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (flags below override it)")

	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
