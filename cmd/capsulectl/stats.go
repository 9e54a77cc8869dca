package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/capsule/internal/controlplane"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <profile_key>",
		Short: "Report a profile's pool size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", controlAddr, err)
			}
			defer conn.Close()

			req := &controlplane.StatsRequest{ProfileKey: args[0]}
			resp := new(controlplane.StatsResponse)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := conn.Invoke(ctx, method("Stats"), req, resp); err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if !resp.Found {
				fmt.Printf("no pool for profile %q yet\n", args[0])
				return nil
			}
			fmt.Printf("all=%d available=%d in_use=%d\n", resp.All, resp.Available, resp.InUse)
			return nil
		},
	}
	return cmd
}

func shutdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Tear down every pool and the hypervisor driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", controlAddr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := conn.Invoke(ctx, method("Shutdown"), &controlplane.ShutdownRequest{}, new(controlplane.ShutdownResponse)); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			fmt.Println("shutdown requested")
			return nil
		},
	}
	return cmd
}
