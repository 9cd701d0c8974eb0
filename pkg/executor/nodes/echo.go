// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package nodes

import (
	"context"

	"github.com/rapidaai/mediacore/pkg/executor"
	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

// NewEcho builds a trivial passthrough NativeExecutor: its output is
// always exactly its input. Used by §8 scenario 3 (unary echo) and as a
// minimal fixture for exercising the runner/registry/manifest machinery
// without a real DSP dependency.
func NewEcho() *executor.NativeExecutor {
	unary := func(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
		return []runtimedata.RuntimeData{input}, nil
	}
	return executor.NewNative(unary, nil)
}
