// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dense

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParse(t *testing.T) {
	for ii, name := range []string{"relu", "leaky_relu", "gelu", "geglu"} {
		act, err := ParseActivation(name)
		require.NoError(t, err)
		assert.Equal(t, Activation(ii), act)
		assert.Equal(t, name, act.String())
	}
	act, err := ParseActivation("Leaky_ReLU")
	require.NoError(t, err)
	assert.Equal(t, ActivationLeakyRelu, act)
	_, err = ParseActivation("swish")
	assert.True(t, modelerrors.IsConfiguration(err))

	norm, err := ParseNormalization("")
	require.NoError(t, err)
	assert.Equal(t, NormalizationNone, norm)
	norm, err = ParseNormalization("layernorm")
	require.NoError(t, err)
	assert.Equal(t, NormalizationLayer, norm)
	norm, err = ParseNormalization("batchnorm")
	require.NoError(t, err)
	assert.Equal(t, NormalizationBatch, norm)

	// Unknown normalizations fail instead of silently normalizing nothing.
	_, err = ParseNormalization("groupnorm")
	assert.True(t, modelerrors.IsConfiguration(err))
}

func TestBlockLayout(t *testing.T) {
	ctx := context.New()

	block, err := New(ctx.In("plain"), 3, 2).Done()
	require.NoError(t, err)
	assert.Equal(t, []LayerKind{KindLinear, KindActivation}, block.Kinds())
	assert.NotNil(t, block.Linear().Biases)

	block, err = New(ctx.In("norm_first"), 3, 2).Dropout(0.5).BatchNorm(true).Done()
	require.NoError(t, err)
	assert.Equal(t, []LayerKind{KindNormalize, KindDropout, KindLinear, KindActivation}, block.Kinds())
	assert.Equal(t, 3, block.Layers[0].(*Normalize).Width)
	assert.Nil(t, block.Linear().Biases, "no bias expected with batch normalization")

	block, err = New(ctx.In("linear_first"), 3, 2).Dropout(0.5).BatchNorm(true).LinearFirst(true).Done()
	require.NoError(t, err)
	assert.Equal(t, []LayerKind{KindLinear, KindActivation, KindNormalize, KindDropout}, block.Kinds())
	assert.Equal(t, 2, block.Layers[2].(*Normalize).Width)

	block, err = New(ctx.In("linear_first_no_dropout"), 3, 2).LinearFirst(true).Done()
	require.NoError(t, err)
	assert.Equal(t, []LayerKind{KindLinear, KindActivation}, block.Kinds())

	// Variables are created in the scope given.
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/plain", "weights"))
	assert.Nil(t, ctx.GetVariableByScopeAndName("/norm_first", "biases"))
}

func TestBlockErrors(t *testing.T) {
	ctx := context.New()
	_, err := New(ctx.In("geglu"), 4, 4).Activation(ActivationGeglu).Done()
	assert.True(t, modelerrors.IsConfiguration(err))
	_, err = New(ctx.In("dropout"), 4, 4).Dropout(1.0).Done()
	assert.True(t, modelerrors.IsConfiguration(err))
	_, err = New(ctx.In("dropout"), 4, 4).Dropout(-0.1).Done()
	assert.True(t, modelerrors.IsConfiguration(err))
	_, err = New(ctx.In("zero"), 0, 4).Done()
	assert.True(t, modelerrors.IsConfiguration(err))

	// Creating the same block twice in a checked context is reported, not panicked.
	_, err = New(ctx.In("twice"), 4, 4).Done()
	require.NoError(t, err)
	require.NotPanics(t, func() { _, err = New(ctx.In("twice"), 4, 4).Done() })
	assert.Error(t, err)

	_, err = NewActivationLayer(ActivationGeglu, 5)
	assert.True(t, modelerrors.IsConfiguration(err))
	layer, err := NewActivationLayer(ActivationGeglu, 6)
	require.NoError(t, err)
	assert.Equal(t, 3, layer.OutputDim)
}

func TestGEGLU(t *testing.T) {
	graphtest.RunTestGraphFn(t, "GEGLU", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float32{{1, 2, 0, 1}, {-1, 3, 2, -10}})
		inputs = []*Node{x}
		outputs = []*Node{GEGLU(x)}
		return
	}, []any{
		// gelu(0)=0, gelu(1)=0.841345, gelu(2)=1.954500, gelu(-10)~=0.
		[][]float32{{0, 2 * 0.841345}, {-1.954500, 0}},
	}, 1e-4)
}

func TestBlockApply(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	block, err := New(ctx.In("dense"), 3, 2).Activation(ActivationLeakyRelu).Done()
	require.NoError(t, err)
	linear := block.Linear()
	require.NoError(t, linear.Weights.SetValue(tensors.FromValue([][]float32{{1, 0}, {0, -1}, {1, 1}})))
	require.NoError(t, linear.Biases.SetValue(tensors.FromValue([]float32{0.5, -1})))

	output := must.M1(context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return block.Apply(x)
	}, [][]float32{{1, 2, 3}, {0, 0, 0}}))
	// Row 0: [1+3+0.5, -2+3-1] = [4.5, 0]; row 1: [0.5, -1] -> leaky relu -> [0.5, -0.01].
	want := [][]float32{{4.5, 0}, {0.5, -0.01}}
	require.True(t, xslices.SlicesInDelta(output.Value(), want, xslices.Epsilon),
		"want=%v, got=%s", want, output.GoStr())

	// Rank-3 inputs contract only the last axis.
	output = must.M1(context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return linear.Apply(x)
	}, [][][]float32{{{1, 2, 3}}, {{0, 0, 0}}}))
	assert.Equal(t, []int{2, 1, 2}, output.Shape().Dimensions)
}

func TestNormalizeApply(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	layerNorm := NewNormalize(ctx.In("layer"), NormalizationLayer, 2)
	none := NewNormalize(ctx.In("none"), NormalizationNone, 2)
	outputs := must.M1(context.ExecOnceN(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		return []*Node{layerNorm.Apply(x), none.Apply(x)}
	}, [][]float32{{1, 3}, {-2, 2}}))
	require.True(t, xslices.SlicesInDelta(outputs[0].Value(), [][]float32{{-1, 1}, {-1, 1}}, 1e-3),
		"got %s", outputs[0].GoStr())
	require.Equal(t, [][]float32{{1, 3}, {-2, 2}}, outputs[1].Value())
}

func TestPaddedTable(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	table := ctx.In("emb").VariableWithShape("embeddings", shapes.Make(dtypes.Float32, 3, 2))

	// A freshly initialized table: the padding row is zero, the others hold the variable rows.
	output := must.M1(context.ExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return PaddedTable(x.Graph(), table)
	}, float32(0)))
	assert.Equal(t, []int{4, 2}, output.Shape().Dimensions)
	padded := output.Value().([][]float32)
	assert.Equal(t, []float32{0, 0}, padded[0])
	assert.Equal(t, table.MustValue().Value(), padded[1:])
}
