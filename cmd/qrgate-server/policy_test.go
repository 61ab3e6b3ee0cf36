package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

func TestAccessPolicy_ProdWithoutPoliciesWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	p := accessPolicy("prod", nil, zap.New(core))
	assert.True(t, p.AllowAll)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "no access policy configured")
}

func TestAccessPolicy_DevWithoutPoliciesIsQuiet(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	p := accessPolicy("dev", nil, zap.New(core))
	assert.True(t, p.AllowAll)
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestAccessPolicy_RestrictsListedActionTypes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := accessPolicy("prod", map[string][]string{
		types.ActionHostelCheckin: {"warden-1"},
	}, zap.New(core))
	assert.False(t, p.AllowAll)
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	hostel := types.ActionPoint{ID: "ap-hostel", ActionType: types.ActionHostelCheckin}
	ok, err := p.Authorize(context.Background(), "warden-1", hostel)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Authorize(context.Background(), "stu-1", hostel)
	require.NoError(t, err)
	assert.False(t, ok)

	mess := types.ActionPoint{ID: "ap-mess", ActionType: types.ActionMessEntry}
	ok, err = p.Authorize(context.Background(), "stu-1", mess)
	require.NoError(t, err)
	assert.True(t, ok)
}
