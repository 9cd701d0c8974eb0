// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediacore/pkg/runtimedata"
)

type fakeExecutor struct{}

func (fakeExecutor) Initialize(ctx context.Context, init InitContext) error { return nil }
func (fakeExecutor) ProcessUnary(ctx context.Context, input runtimedata.RuntimeData) ([]runtimedata.RuntimeData, error) {
	return []runtimedata.RuntimeData{input}, nil
}
func (fakeExecutor) OpenStream(ctx context.Context, init InitContext) (StreamHandle, error) {
	return nil, nil
}
func (fakeExecutor) Cleanup(ctx context.Context) error { return nil }

func fakeFactory(params json.RawMessage) (NodeExecutor, error) {
	return fakeExecutor{}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", CategoryNative, fakeFactory))

	assert.True(t, r.Has("echo"))
	assert.False(t, r.Has("missing"))

	factory, category, ok := r.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, CategoryNative, category)
	assert.NotNil(t, factory)
}

func TestRegisterRejectsNameClash(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", CategoryNative, fakeFactory))
	err := r.Register("echo", CategoryNative, fakeFactory)
	assert.Error(t, err)
}

func TestRegisterRejectsEmptyNameOrNilFactory(t *testing.T) {
	r := New()
	assert.Error(t, r.Register("", CategoryNative, fakeFactory))
	assert.Error(t, r.Register("echo", CategoryNative, nil))
}

func TestFreezeRejectsFurtherRegistration(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", CategoryNative, fakeFactory))
	r.Freeze()
	err := r.Register("resample", CategoryNative, fakeFactory)
	assert.Error(t, err)
}

func TestRegisterBulkStopsAtFirstFailure(t *testing.T) {
	r := New()
	err := r.RegisterBulk([]RegistrationSpec{
		{TypeName: "a", Category: CategoryNative, Factory: fakeFactory},
		{TypeName: "a", Category: CategoryNative, Factory: fakeFactory},
		{TypeName: "b", Category: CategoryNative, Factory: fakeFactory},
	})
	assert.Error(t, err)
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("b"))
}

func TestNewConstructsExecutorViaFactory(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", CategoryNative, fakeFactory))

	exec, err := r.New("echo", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.IsType(t, fakeExecutor{}, exec)
}

func TestNewRejectsUnknownType(t *testing.T) {
	r := New()
	_, err := r.New("ghost", nil)
	assert.Error(t, err)
}

func TestTypeNamesSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("vad", CategoryNative, fakeFactory))
	require.NoError(t, r.Register("echo", CategoryNative, fakeFactory))
	require.NoError(t, r.Register("resample", CategoryNative, fakeFactory))

	assert.Equal(t, []string{"echo", "resample", "vad"}, r.TypeNames())
}
