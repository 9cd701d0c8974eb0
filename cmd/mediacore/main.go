// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command mediacore is the smoke-test harness around the pipeline core:
// manifest validation, a one-shot unary run, and a streaming run, each
// surfacing the distinct exit codes §6 requires of any host CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rapidaai/mediacore/pkg/pipelineerr"
)

// Exit codes per §6's "Exit conditions": success, manifest validation
// error, node execution error, timeout, cancelled.
const (
	exitSuccess            = 0
	exitManifestValidation = 1
	exitNodeExecution      = 2
	exitTimeout            = 3
	exitCancelled          = 4
)

func main() {
	root := &cobra.Command{
		Use:           "mediacore",
		Short:         "mediacore drives a pipeline manifest: validate, run (unary), or stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newStreamCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mediacore:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a pipelineerr.Error's Kind to one of §6's five exit
// codes; an unclassified error is treated as a node execution failure.
func exitCodeFor(err error) int {
	var pe *pipelineerr.Error
	if errors.As(err, &pe) {
		switch {
		case pe.IsBuildTime():
			return exitManifestValidation
		case pe.Kind == pipelineerr.KindTimeout:
			return exitTimeout
		case pe.Kind == pipelineerr.KindCancelled:
			return exitCancelled
		default:
			return exitNodeExecution
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exitTimeout
	}
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}
	return exitNodeExecution
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the shape
// every long-running subcommand (stream) watches for an operator-driven
// shutdown.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
