package parameters

import (
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString("rnn, cells=128,,learning_rate=3e-4,trunk=nips")
	require.Equal(t, Params{"rnn": "", "cells": "128", "learning_rate": "3e-4", "trunk": "nips"}, params)
	require.Empty(t, NewFromConfigString(""))
}

func TestGetAndPopParamOr(t *testing.T) {
	params := NewFromConfigString("rnn,categorical=false,cells=128,learning_rate=3e-4,seed=-7,name=pong")

	rnn, err := GetParamOr(params, "rnn", false)
	require.NoError(t, err)
	require.True(t, rnn)
	require.Contains(t, params, "rnn")

	categorical, err := PopParamOr(params, "categorical", true)
	require.NoError(t, err)
	require.False(t, categorical)
	require.NotContains(t, params, "categorical")

	cells, err := PopParamOr(params, "cells", 256)
	require.NoError(t, err)
	require.Equal(t, 128, cells)

	lr, err := PopParamOr(params, "learning_rate", float32(0))
	require.NoError(t, err)
	require.InDelta(t, 3e-4, lr, 1e-9)

	seed, err := PopParamOr(params, "seed", int64(0))
	require.NoError(t, err)
	require.Equal(t, int64(-7), seed)

	name, err := PopParamOr(params, "name", "")
	require.NoError(t, err)
	require.Equal(t, "pong", name)

	missing, err := PopParamOr(params, "missing", 0.5)
	require.NoError(t, err)
	require.Equal(t, 0.5, missing)

	require.Error(t, params.CheckAllUsed())
	_, _ = PopParamOr(params, "rnn", false)
	require.NoError(t, params.CheckAllUsed())
}

func TestParseErrors(t *testing.T) {
	params := NewFromConfigString("cells=many,rnn=maybe,lr=")
	_, err := GetParamOr(params, "cells", 1)
	require.Error(t, err)
	_, err = GetParamOr(params, "rnn", false)
	require.Error(t, err)
	_, err = PopParamOr(params, "lr", 1.0)
	require.Error(t, err)
	require.Contains(t, params, "lr", "failed parsing must not consume the parameter")
}

func TestClone(t *testing.T) {
	params := NewFromConfigString("a=1,b=2")
	clone := params.Clone()
	delete(clone, "a")
	require.Len(t, params, 2)
	require.Len(t, clone, 1)
}
