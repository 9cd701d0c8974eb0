// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rapidaai/mediacore/pkg/manifest"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.json>",
		Short: "Parse and build a pipeline manifest, reporting any invariant violation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			m, err := manifest.Parse(data)
			if err != nil {
				return err
			}
			reg, err := buildNodeRegistry()
			if err != nil {
				return err
			}
			g, err := manifest.Build(m, reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest valid: %d nodes, topological order: %v\n", len(g.Nodes), g.Order)
			return nil
		},
	}
}
