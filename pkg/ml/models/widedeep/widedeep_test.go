// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package widedeep

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/widedeep/pkg/ml/data/columns"
	"github.com/gomlx/widedeep/pkg/ml/layers/mlp"
	"github.com/gomlx/widedeep/pkg/ml/models/tabmlp"
	"github.com/gomlx/widedeep/pkg/ml/models/tabtransformer"
	"github.com/gomlx/widedeep/pkg/ml/models/wide"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

const numRows = 32

// syntheticData returns wide ids, shaped [numRows, 2] in the range [1, 6], and deep rows with
// columns (a, b, c): a and b are categorical with cardinality 3, and c is continuous.
func syntheticData() (wideX [][]int32, deepX [][]float32, a []int32, c []float32) {
	rng := rand.New(rand.NewSource(42))
	wideX = make([][]int32, numRows)
	deepX = make([][]float32, numRows)
	a = make([]int32, numRows)
	c = make([]float32, numRows)
	for ii := range numRows {
		a[ii] = int32(ii % 3)
		b := int32(rng.Intn(3))
		c[ii] = float32(rng.NormFloat64())
		wideX[ii] = []int32{1 + a[ii], 4 + b}
		deepX[ii] = []float32{float32(a[ii]), float32(b), c[ii]}
	}
	return
}

func deepIndex() columns.Index {
	return columns.MustNewIndex("a", "b", "c")
}

func newTabMlp(t *testing.T, ctx *context.Context) *tabmlp.TabMlp {
	deep, err := tabmlp.New(ctx, deepIndex()).
		Embeddings(
			columns.EmbeddingSpec{Column: "a", Cardinality: 3, Dim: 4},
			columns.EmbeddingSpec{Column: "b", Cardinality: 3, Dim: 4}).
		Continuous("c").
		HiddenDims(16, 8).
		Done()
	require.NoError(t, err)
	return deep
}

func newModel(t *testing.T, backend backends.Backend, predDim int) *WideDeep {
	ctx := context.New()
	w, err := wide.New(ctx.In("wide"), 6, predDim)
	require.NoError(t, err)
	model, err := New(ctx, backend).
		Wide(w).
		Deep(newTabMlp(t, ctx.In("deep"))).
		PredDim(predDim).
		Done()
	require.NoError(t, err)
	return model
}

func fitOptions() FitOptions {
	return FitOptions{Epochs: 3, BatchSize: 8, Shuffle: true, Seed: 7}
}

func TestFitCycle(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wideX, deepX, a, c := syntheticData()
	inputs := Inputs{Wide: wideX, Deep: []any{deepX}}

	t.Run("regression", func(t *testing.T) {
		model := newModel(t, backend, 1)
		require.NoError(t, model.Compile(Regression))
		history, err := model.Fit(inputs, c, fitOptions())
		require.NoError(t, err)
		assert.Len(t, history.Loss, 3)

		values, err := model.PredictValues(inputs)
		require.NoError(t, err)
		assert.Len(t, values, numRows)

		predictions, err := model.Predict(inputs)
		require.NoError(t, err)
		assert.Equal(t, []int{numRows}, predictions.Shape().Dimensions)

		_, err = model.PredictProba(inputs)
		require.Error(t, err)
		assert.True(t, modelerrors.IsUnsupportedOperation(err))
		_, err = model.PredictLabels(inputs)
		assert.True(t, modelerrors.IsUnsupportedOperation(err))

		results, err := model.Evaluate(inputs, c)
		require.NoError(t, err)
		assert.NotEmpty(t, results)
	})

	t.Run("binary", func(t *testing.T) {
		model := newModel(t, backend, 1)
		require.NoError(t, model.Compile(Binary))
		labels := make([]float32, numRows)
		for ii, x := range a {
			if x > 0 {
				labels[ii] = 1
			}
		}
		history, err := model.Fit(inputs, labels, fitOptions())
		require.NoError(t, err)
		assert.Len(t, history.Loss, 3)
		assert.Len(t, history.Metrics["Moving Average Accuracy"], 3)

		predicted, err := model.PredictLabels(inputs)
		require.NoError(t, err)
		require.Len(t, predicted, numRows)
		for _, label := range predicted {
			assert.Contains(t, []int32{0, 1}, label)
		}

		proba, err := model.PredictProba(inputs)
		require.NoError(t, err)
		require.Len(t, proba, numRows)
		for ii, row := range proba {
			require.Len(t, row, 2)
			assert.InDelta(t, 1.0, row[0]+row[1], 1e-5)
			assert.Equal(t, row[1] > BinaryThreshold, predicted[ii] == 1)
		}

		// Rows don't share capacity: appending to one row leaves the next one intact.
		second := append([]float32(nil), proba[1]...)
		extended := append(proba[0], 42)
		assert.Len(t, extended, 3)
		assert.Equal(t, second, proba[1])

		results, err := model.Evaluate(inputs, labels)
		require.NoError(t, err)
		assert.Contains(t, results, "Mean Accuracy")

		// Targets must be 0 or 1.
		_, err = model.Fit(inputs, c, fitOptions())
		assert.True(t, modelerrors.IsConfiguration(err))
	})

	t.Run("multiclass", func(t *testing.T) {
		model := newModel(t, backend, 3)
		require.NoError(t, model.Compile(Multiclass))
		history, err := model.Fit(inputs, a, fitOptions())
		require.NoError(t, err)
		assert.Len(t, history.Loss, 3)

		predicted, err := model.PredictLabels(inputs)
		require.NoError(t, err)
		require.Len(t, predicted, numRows)
		proba, err := model.PredictProba(inputs)
		require.NoError(t, err)
		require.Len(t, proba, numRows)
		for ii, row := range proba {
			require.Len(t, row, 3)
			var sum float32
			best := 0
			for class, p := range row {
				sum += p
				if p > row[best] {
					best = class
				}
			}
			assert.InDelta(t, 1.0, sum, 1e-5)
			assert.Equal(t, int32(best), predicted[ii])
		}

		// Classes must be in the range [0, 3).
		invalid := make([]int, numRows)
		invalid[5] = 3
		_, err = model.Fit(inputs, invalid, fitOptions())
		assert.True(t, modelerrors.IsConfiguration(err))
	})
}

func TestDeepHead(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wideX, deepX, _, c := syntheticData()
	ctx := context.New()
	w := must.M1(wide.New(ctx.In("wide"), 6, 1))
	deepMlp := newTabMlp(t, ctx.In("deep_mlp"))
	deepTransformer, err := tabtransformer.New(ctx.In("deep_transformer"), deepIndex()).
		Categorical(
			columns.CategoricalSpec{Column: "a", Cardinality: 3},
			columns.CategoricalSpec{Column: "b", Cardinality: 3}).
		Continuous("c").
		EmbeddingDim(4).
		NumHeads(2).
		NumBlocks(1).
		MLPHiddenDims(8).
		Done()
	require.NoError(t, err)
	head, err := mlp.New(ctx.In("deephead"), deepMlp.OutputDim()+deepTransformer.OutputDim(), 8).Done()
	require.NoError(t, err)

	model, err := New(ctx, backend).
		Wide(w).
		Deep(deepMlp, deepTransformer).
		DeepHead(head).
		Done()
	require.NoError(t, err)
	require.NoError(t, model.Compile(Regression))
	inputs := Inputs{Wide: wideX, Deep: []any{deepX, deepX}}
	history, err := model.Fit(inputs, c, FitOptions{Epochs: 2, BatchSize: 16})
	require.NoError(t, err)
	assert.Len(t, history.Loss, 2)
	values, err := model.PredictValues(inputs)
	require.NoError(t, err)
	assert.Len(t, values, numRows)
}

func TestTabTransformerOnly(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	_, deepX, a, _ := syntheticData()
	ctx := context.New()
	deep, err := tabtransformer.New(ctx.In("deep"), deepIndex()).
		Categorical(
			columns.CategoricalSpec{Column: "a", Cardinality: 3},
			columns.CategoricalSpec{Column: "b", Cardinality: 3}).
		Continuous("c").
		EmbeddingDim(8).
		NumHeads(2).
		NumBlocks(2).
		TransformerActivation("geglu").
		MLPHiddenDims(16).
		Done()
	require.NoError(t, err)
	model, err := New(ctx, backend).Deep(deep).PredDim(3).Done()
	require.NoError(t, err)
	require.NoError(t, model.Compile(Multiclass))
	inputs := Inputs{Deep: []any{deepX}}
	_, err = model.Fit(inputs, a, fitOptions())
	require.NoError(t, err)
	proba, err := model.PredictProba(inputs)
	require.NoError(t, err)
	assert.Len(t, proba, numRows)
	assert.Len(t, proba[0], 3)
}

func TestErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wideX, deepX, _, c := syntheticData()

	method, err := ParseMethod("Binary")
	require.NoError(t, err)
	assert.Equal(t, Binary, method)
	assert.Equal(t, "multiclass", Multiclass.String())
	_, err = ParseMethod("ranking")
	assert.True(t, modelerrors.IsConfiguration(err))

	// Nothing to merge.
	_, err = New(context.New(), backend).Done()
	assert.True(t, modelerrors.IsConfiguration(err))

	// Wide output dim doesn't match predDim.
	ctx := context.New()
	w := must.M1(wide.New(ctx.In("wide"), 6, 2))
	_, err = New(ctx, backend).Wide(w).Done()
	assert.True(t, modelerrors.IsConfiguration(err))

	// Deep head with the wrong input dimension.
	ctx = context.New()
	deep := newTabMlp(t, ctx.In("deep"))
	head := must.M1(mlp.New(ctx.In("deephead"), deep.OutputDim()+1, 4).Done())
	_, err = New(ctx, backend).Deep(deep).DeepHead(head).Done()
	assert.True(t, modelerrors.IsConfiguration(err))

	model := newModel(t, backend, 1)
	inputs := Inputs{Wide: wideX, Deep: []any{deepX}}
	_, err = model.Fit(inputs, c, fitOptions())
	assert.True(t, modelerrors.IsConfiguration(err), "Fit before Compile")
	_, err = model.Predict(inputs)
	assert.True(t, modelerrors.IsConfiguration(err), "Predict before Compile")
	assert.True(t, modelerrors.IsConfiguration(model.Compile(Multiclass)), "multiclass requires predDim >= 2")
	require.NoError(t, model.Compile(Regression))

	_, err = model.Fit(Inputs{Deep: []any{deepX}}, c, fitOptions())
	assert.True(t, modelerrors.IsConfiguration(err), "missing wide input")
	_, err = model.Fit(Inputs{Wide: wideX, Deep: []any{deepX, deepX}}, c, fitOptions())
	assert.True(t, modelerrors.IsConfiguration(err), "too many deep inputs")
	_, err = model.Fit(Inputs{Wide: wideX[:10], Deep: []any{deepX}}, c, fitOptions())
	assert.True(t, modelerrors.IsConfiguration(err), "number of rows mismatch")
	_, err = model.Fit(inputs, c[:10], fitOptions())
	assert.True(t, modelerrors.IsConfiguration(err), "number of targets mismatch")
	_, err = model.Fit(inputs, c, FitOptions{Epochs: 0, BatchSize: 8})
	assert.True(t, modelerrors.IsConfiguration(err), "invalid epochs")

	ctx = context.New()
	ctx.SetParam(ParamRegressionLoss, "hinge")
	model, err = New(ctx, backend).Wide(must.M1(wide.New(ctx.In("wide"), 6, 1))).Done()
	require.NoError(t, err)
	assert.True(t, modelerrors.IsConfiguration(model.Compile(Regression)))
	ctx.SetParam(ParamRegressionLoss, "huber")
	require.NoError(t, model.Compile(Regression))
}
