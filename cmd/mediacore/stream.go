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
	"github.com/rapidaai/mediacore/pkg/runner"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
	"github.com/rapidaai/mediacore/pkg/wire"
)

func newStreamCmd() *cobra.Command {
	var (
		inputURI string
		output   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stream <manifest.json>",
		Short: "Open a streaming session against a manifest, feeding it from an ingest source until EOF or SIGINT/SIGTERM",
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

			ctx, cancel := signalContext()
			defer cancel()

			src, err := ingest.OpenURI(ingestReg, inputURI, nil)
			if err != nil {
				return fmt.Errorf("open input %q: %w", inputURI, err)
			}
			defer src.Close()
			items, srcErrs := ingest.Selected(ctx, src, ingest.DefaultTrackSelection())

			r := runner.New(reg, nil, runner.Config{})
			sess, err := r.OpenStream(ctx, g, "", timeout)
			if err != nil {
				return err
			}
			defer sess.Close()

			out, err := openOutput(output)
			if err != nil {
				return err
			}
			defer out.Close()

			go feedSession(ctx, sess, items, srcErrs)
			return drainSession(ctx, sess, out)
		},
	}

	cmd.Flags().StringVar(&inputURI, "input", "-", "input URI: file path, file://…, or - for stdin")
	cmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "session deadline (0 = no deadline)")
	return cmd
}

// feedSession pushes every ingested item into sess until items closes, an
// ingest error arrives, or ctx is cancelled, then closes the session —
// §4.6's end-of-input signal for a streaming run.
func feedSession(ctx context.Context, sess *runner.Session, items <-chan ingest.Item, errs <-chan error) {
	defer sess.Close()
	for {
		select {
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := sess.SendInput(ctx, &runtimedata.TransportData{Payload: item.Data}); err != nil {
				return
			}
		case err, ok := <-errs:
			if !ok {
				// A source closes errs on a clean finish; keep forwarding
				// until items closes too.
				errs = nil
				continue
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "mediacore: ingest error:", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainSession prints every produced output frame until the session ends,
// then surfaces its terminal error (if any) as this command's result.
func drainSession(ctx context.Context, sess *runner.Session, out *os.File) error {
	for {
		td, ok, err := sess.RecvOutput(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		encoded, encErr := wire.Encode(td.Payload)
		if encErr != nil {
			return fmt.Errorf("encode output: %w", encErr)
		}
		if _, err := out.Write(encoded); err != nil {
			return err
		}
	}
}

func openOutput(path string) (*os.File, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil
	}
	return os.Create(path)
}
