// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"testing"

	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	labels := []int32{0, 0, 1, 1, 2, 2}
	predicted := []int32{0, 1, 1, 1, 2, 0}
	r, err := Classification(predicted, labels)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, r.Classes)
	assert.Equal(t, ClassMetrics{TruePos: 1, FalsePos: 1, FalseNeg: 1, TrueNeg: 3}, r.PerClass[0])
	assert.Equal(t, ClassMetrics{TruePos: 2, FalsePos: 1, FalseNeg: 0, TrueNeg: 3}, r.PerClass[1])
	assert.Equal(t, ClassMetrics{TruePos: 1, FalsePos: 0, FalseNeg: 1, TrueNeg: 4}, r.PerClass[2])
	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-9)

	// F1: class 0 = 0.5, class 1 = 0.8, class 2 = 2/3.
	assert.InDelta(t, (0.5+0.8+2.0/3.0)/3, r.MacroF1, 1e-9)
	// With a single label per example micro-F1 equals the accuracy.
	assert.InDelta(t, r.Accuracy, r.MicroF1, 1e-9)
	r.Log()

	// Classes only seen in predictions are reported.
	r, err = Classification([]int32{3, 0}, []int32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 3}, r.Classes)
	assert.Equal(t, 0.0, r.PerClass[1].F1Score())

	_, err = Classification([]int32{1}, []int32{1, 0})
	assert.True(t, modelerrors.IsConfiguration(err))
	_, err = Classification(nil, nil)
	assert.True(t, modelerrors.IsConfiguration(err))
}

func TestRegression(t *testing.T) {
	r, err := Regression([]float32{1, 2, 3, 5}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, r.MSE, 1e-9)
	assert.InDelta(t, 0.5, r.RMSE, 1e-9)
	assert.InDelta(t, 0.25, r.MAE, 1e-9)
	// Sum of squared residuals 1, total sum of squares 5.
	assert.InDelta(t, 0.8, r.RSquared, 1e-9)
	r.Log()

	r, err = Regression([]float32{1, 2}, []float32{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.RSquared, 1e-9)

	_, err = Regression([]float32{1}, nil)
	assert.True(t, modelerrors.IsConfiguration(err))
}
