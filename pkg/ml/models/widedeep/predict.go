// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package widedeep

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
)

// BinaryThreshold is the probability above which a binary prediction is labeled 1.
const BinaryThreshold = 0.5

// predictionsGraph returns the hard predictions, shaped [batchSize], and the probabilities:
//   - Regression: the values (float32) and the values again, since there are no probabilities.
//   - Binary: labels (int32) thresholded on the probability, and probabilities [batchSize, 2] as (1-p, p).
//   - Multiclass: arg-max labels (int32) and the softmax probabilities [batchSize, numClasses].
func (m *WideDeep) predictionsGraph(_ *context.Context, inputs []*Node) []*Node {
	logits := m.logitsGraph(inputs)
	batchSize := logits.Shape().Dimensions[0]
	switch m.method {
	case Binary:
		p := Sigmoid(logits)
		labels := ConvertDType(GreaterThan(p, ConstAs(p, BinaryThreshold)), dtypes.Int32)
		return []*Node{Reshape(labels, batchSize), Concatenate([]*Node{OneMinus(p), p}, -1)}
	case Multiclass:
		return []*Node{ArgMax(logits, -1, dtypes.Int32), Softmax(logits, -1)}
	default:
		values := Reshape(logits, batchSize)
		return []*Node{values, values}
	}
}

// predict executes the predictions graph. It must be called with the mutex locked.
func (m *WideDeep) predict(inputs Inputs) (predictions, probabilities *tensors.Tensor, err error) {
	if !m.compiled {
		return nil, nil, modelerrors.Configurationf("WideDeep prediction called before Compile")
	}
	inputTensors, _, err := m.inputTensors(inputs)
	if err != nil {
		return nil, nil, err
	}
	if m.predictExec == nil {
		m.predictExec, err = context.NewExec(m.backend, m.ctx, m.predictionsGraph)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to create WideDeep prediction executor")
		}
	}
	args := make([]any, len(inputTensors))
	for ii, t := range inputTensors {
		args[ii] = t
	}
	predictions, probabilities, err = m.predictExec.Exec2(args...)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "WideDeep prediction failed")
	}
	return predictions, probabilities, nil
}

// Predict returns the hard predictions, shaped [batchSize]: float32 values for regression, int32 labels for
// binary (probability thresholded at BinaryThreshold) and multiclass (arg-max).
func (m *WideDeep) Predict(inputs Inputs) (*tensors.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	predictions, _, err := m.predict(inputs)
	return predictions, err
}

// PredictValues returns the predicted values of a regression model.
func (m *WideDeep) PredictValues(inputs Inputs) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled && m.method != Regression {
		return nil, modelerrors.UnsupportedOperationf("PredictValues requires a regression model, got %s", m.method)
	}
	predictions, _, err := m.predict(inputs)
	if err != nil {
		return nil, err
	}
	return tensors.MustCopyFlatData[float32](predictions), nil
}

// PredictLabels returns the predicted labels of a binary or multiclass model.
func (m *WideDeep) PredictLabels(inputs Inputs) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled && !m.method.HasProbabilities() {
		return nil, modelerrors.UnsupportedOperationf("PredictLabels requires a binary or multiclass model, got %s",
			m.method)
	}
	predictions, _, err := m.predict(inputs)
	if err != nil {
		return nil, err
	}
	return tensors.MustCopyFlatData[int32](predictions), nil
}

// PredictProba returns the class probabilities, one row per example: (1-p, p) for binary models and
// the softmax of the logits for multiclass models.
//
// It returns an error wrapping modelerrors.ErrUnsupportedOperation for regression models.
func (m *WideDeep) PredictProba(inputs Inputs) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled && !m.method.HasProbabilities() {
		return nil, modelerrors.UnsupportedOperationf("PredictProba is not supported for %s models", m.method)
	}
	_, probabilities, err := m.predict(inputs)
	if err != nil {
		return nil, err
	}
	flat := tensors.MustCopyFlatData[float32](probabilities)
	numClasses := probabilities.Shape().Dimensions[1]
	rows := make([][]float32, probabilities.Shape().Dimensions[0])
	for ii := range rows {
		rows[ii] = flat[ii*numClasses : (ii+1)*numClasses : (ii+1)*numClasses]
	}
	return rows, nil
}
