package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/capsule/internal/controlplane"
)

func invokeCmd() *cobra.Command {
	var (
		fsPaths    []string
		net        string
		cpuMillis  int
		memMB      int
		deps       []string
		argsJSON   string
		kwargsJSON string
	)

	cmd := &cobra.Command{
		Use:   "invoke <function_ref>",
		Short: "Invoke a function through the control plane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs []any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}
			callKwargs := map[string]any{}
			if kwargsJSON != "" {
				if err := json.Unmarshal([]byte(kwargsJSON), &callKwargs); err != nil {
					return fmt.Errorf("parse --kwargs: %w", err)
				}
			}

			conn, err := dial(controlAddr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", controlAddr, err)
			}
			defer conn.Close()

			req := &controlplane.InvokeRequest{
				FunctionRef: args[0],
				Profile: controlplane.ProfileSpec{
					FS:           fsPaths,
					Net:          net,
					CPUMillis:    cpuMillis,
					MemMB:        memMB,
					Dependencies: deps,
				},
				Args:   callArgs,
				Kwargs: callKwargs,
			}
			resp := new(controlplane.InvokeResponse)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := conn.Invoke(ctx, method("Invoke"), req, resp); err != nil {
				return fmt.Errorf("invoke: %w", err)
			}
			if !resp.Success {
				return fmt.Errorf("remote call failed: [%s] %s", resp.ErrorKind, resp.ErrorMessage)
			}
			out, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Printf("%s\n", out)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fsPaths, "fs-path", nil, "allowed filesystem path (repeatable)")
	cmd.Flags().StringVar(&net, "net", "none", "network policy: none, https-only, all")
	cmd.Flags().IntVar(&cpuMillis, "cpu-millis", 1000, "CPU time budget in milliseconds")
	cmd.Flags().IntVar(&memMB, "mem-mb", 128, "memory budget in megabytes")
	cmd.Flags().StringArrayVar(&deps, "dep", nil, "allowed dependency (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON array of positional arguments")
	cmd.Flags().StringVar(&kwargsJSON, "kwargs", "", "JSON object of keyword arguments")

	return cmd
}
