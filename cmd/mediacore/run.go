// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rapidaai/mediacore/pkg/ingest"
	"github.com/rapidaai/mediacore/pkg/manifest"
	"github.com/rapidaai/mediacore/pkg/pipelineerr"
	"github.com/rapidaai/mediacore/pkg/runner"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
	"github.com/rapidaai/mediacore/pkg/wire"
)

func newRunCmd() *cobra.Command {
	var (
		inputURI string
		output   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <manifest.json>",
		Short: "Run a manifest in unary mode against one input item and print one output",
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

			ingestReg, err := buildIngestRegistry()
			if err != nil {
				return err
			}
			ctx := context.Background()
			var cancel context.CancelFunc
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			src, err := ingest.OpenURI(ingestReg, inputURI, nil)
			if err != nil {
				return fmt.Errorf("open input %q: %w", inputURI, err)
			}
			items, errs := ingest.Selected(ctx, src, ingest.DefaultTrackSelection())

			var first runtimedata.RuntimeData
		waitForFirst:
			for {
				select {
				case item, ok := <-items:
					if !ok {
						return pipelineerr.New(pipelineerr.KindNodeProcess, "", "input source produced no items", nil)
					}
					first = item.Data
					break waitForFirst
				case err, ok := <-errs:
					if ok && err != nil {
						return err
					}
					if !ok {
						// errs closing with no error just means the source
						// finished cleanly; keep waiting on items, which
						// either already has data buffered or will close
						// too (handled above).
						errs = nil
					}
				}
			}
			_ = src.Close()

			r := runner.New(reg, nil, runner.Config{})
			out, err := r.RunUnary(ctx, g, &runtimedata.TransportData{Payload: first})
			if err != nil {
				return err
			}

			encoded, err := wire.Encode(out.Payload)
			if err != nil {
				return fmt.Errorf("encode output: %w", err)
			}
			if output == "" || output == "-" {
				_, err = os.Stdout.Write(encoded)
				return err
			}
			return os.WriteFile(output, encoded, 0o644)
		},
	}

	cmd.Flags().StringVar(&inputURI, "input", "-", "input URI: file path, file://…, or - for stdin")
	cmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "session deadline (0 = no deadline)")
	return cmd
}
