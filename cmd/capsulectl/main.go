// Command capsulectl is the operator CLI for a running capsuled instance: it
// dials the gRPC control plane and drives Invoke, Stats, and Shutdown from
// the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	controlAddr string
	timeout     time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "capsulectl",
		Short: "capsulectl drives a capsuled control plane from the command line",
	}
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "127.0.0.1:9090", "capsuled gRPC control-plane address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "RPC deadline")

	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(shutdownCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
