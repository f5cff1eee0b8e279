// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package widedeep

import (
	"math"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamRegressionLoss is the context hyperparameter that selects the regression loss:
	// "mse" (default), "mae" or "huber".
	ParamRegressionLoss = "widedeep_regression_loss"

	// ParamHuberDelta is the context hyperparameter with the delta of the "huber" regression loss. Default is 1.0.
	ParamHuberDelta = "widedeep_huber_delta"

	// DefaultOptimizer is used if optimizers.ParamOptimizer is not set in the context.
	DefaultOptimizer = "adam"

	// DefaultLearningRate is used if optimizers.ParamLearningRate is not set in the context.
	DefaultLearningRate = 1e-3
)

// Compile fixes the loss, the optimizer and the metrics for the given method.
//
// Regression and binary require PredDim 1, multiclass requires PredDim >= 2 (the number of classes).
// The optimizer is read from the context (see optimizers.FromContext), defaulting to DefaultOptimizer with
// DefaultLearningRate.
func (m *WideDeep) Compile(method Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lossFn train.LossFn
	var trainMetrics, evalMetrics []metrics.Interface
	switch method {
	case Regression, Binary:
		if m.predDim != 1 {
			return modelerrors.Configurationf("method %s requires predDim 1, got %d", method, m.predDim)
		}
	case Multiclass:
		if m.predDim < 2 {
			return modelerrors.Configurationf("method %s requires predDim >= 2 (number of classes), got %d",
				method, m.predDim)
		}
	default:
		return modelerrors.Configurationf("unknown method %s", method)
	}

	switch method {
	case Regression:
		lossName := context.GetParamOr(m.ctx, ParamRegressionLoss, "mse")
		switch lossName {
		case "mse":
			lossFn = losses.MeanSquaredError
		case "mae":
			lossFn = losses.MeanAbsoluteError
		case "huber":
			lossFn = train.LossFn(losses.MakeHuberLoss(context.GetParamOr(m.ctx, ParamHuberDelta, 1.0)))
		default:
			return modelerrors.Configurationf("unknown regression loss %q set in %q, valid values are \"mse\", "+
				"\"mae\" and \"huber\"", lossName, ParamRegressionLoss)
		}
	case Binary:
		lossFn = losses.BinaryCrossentropyLogits
		trainMetrics = []metrics.Interface{
			metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)}
		evalMetrics = []metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")}
	case Multiclass:
		lossFn = losses.SparseCategoricalCrossEntropyLogits
		trainMetrics = []metrics.Interface{
			metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)}
		evalMetrics = []metrics.Interface{metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")}
	}

	if _, found := m.ctx.GetParam(optimizers.ParamOptimizer); !found {
		m.ctx.SetParam(optimizers.ParamOptimizer, DefaultOptimizer)
	}
	if _, found := m.ctx.GetParam(optimizers.ParamLearningRate); !found {
		m.ctx.SetParam(optimizers.ParamLearningRate, DefaultLearningRate)
	}
	optName := context.GetParamOr(m.ctx, optimizers.ParamOptimizer, DefaultOptimizer)
	if _, found := optimizers.KnownOptimizers[optName]; !found {
		return modelerrors.Configurationf("unknown optimizer %q set in %q", optName, optimizers.ParamOptimizer)
	}

	err := exceptions.TryCatch[error](func() {
		m.trainer = train.NewTrainer(m.backend, m.ctx, m.modelGraph, lossFn,
			optimizers.FromContext(m.ctx), trainMetrics, evalMetrics)
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to compile WideDeep for %s", method)
	}
	m.method = method
	m.compiled = true
	m.predictExec = nil
	klog.V(1).Infof("WideDeep compiled for %s, optimizer %q", method, optName)
	return nil
}

// Inputs to the model: the wide ids (if the model has a wide component), and one input per deep component.
//
// Values can be *tensors.Tensor or anything tensors.FromAnyValue accepts, like [][]float32 or [][]int32.
// All must have the same number of rows.
type Inputs struct {
	Wide any
	Deep []any
}

// FitOptions configure the training loop.
type FitOptions struct {
	// Epochs is the number of passes over the data. Must be >= 1.
	Epochs int

	// BatchSize is the number of rows per training step. The last batch of an epoch may be smaller.
	BatchSize int

	// Shuffle the rows at every epoch.
	Shuffle bool

	// Seed for the shuffling and for the context random number generator (used by dropout). 0 leaves them as is.
	Seed int64

	// Verbose attaches a progress bar to the training loop.
	Verbose bool
}

// DefaultFitOptions returns 10 epochs of batches of 32 rows, shuffled.
func DefaultFitOptions() FitOptions {
	return FitOptions{Epochs: 10, BatchSize: 32, Shuffle: true}
}

// History of a Fit call.
type History struct {
	// Loss is the mean batch loss per epoch.
	Loss []float64

	// Metrics holds, per train metric name, its value at the end of each epoch.
	Metrics map[string][]float64
}

// Fit trains the model on the inputs and targets.
//
// For regression target holds the values, for binary the labels 0 or 1, and for multiclass the class
// labels in [0, PredDim). It can be a []float32, []float64, []int32, []int or a *tensors.Tensor.
func (m *WideDeep) Fit(inputs Inputs, target any, opts FitOptions) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.compiled {
		return nil, modelerrors.Configurationf("WideDeep.Fit called before Compile")
	}
	if opts.Epochs < 1 || opts.BatchSize < 1 {
		return nil, modelerrors.Configurationf("WideDeep.Fit requires Epochs >= 1 and BatchSize >= 1, got %d and %d",
			opts.Epochs, opts.BatchSize)
	}
	ds, err := m.dataset("widedeep_train", inputs, target)
	if err != nil {
		return nil, err
	}
	ds.BatchSize(opts.BatchSize, false)
	if opts.Shuffle {
		ds.Shuffle()
	}
	if opts.Seed != 0 {
		ds.WithRand(rand.New(rand.NewSource(opts.Seed)))
		m.ctx.SetRNGStateFromSeed(opts.Seed)
	}

	history := &History{Metrics: make(map[string][]float64)}
	trainMetrics := m.trainer.TrainMetrics()
	var lossSum float64
	var numSteps int
	var lastValues []float64
	endEpoch := func(epoch int) {
		if numSteps == 0 {
			return
		}
		loss := lossSum / float64(numSteps)
		history.Loss = append(history.Loss, loss)
		for ii, metric := range trainMetrics {
			if ii < len(lastValues) {
				history.Metrics[metric.Name()] = append(history.Metrics[metric.Name()], lastValues[ii])
			}
		}
		klog.V(1).Infof("WideDeep epoch %d/%d: loss=%.6g", epoch+1, opts.Epochs, loss)
		lossSum, numSteps = 0, 0
	}
	currentEpoch := 0
	loop := train.NewLoop(m.trainer)
	loop.OnStep("widedeep_history", 0, func(loop *train.Loop, stepMetrics []*tensors.Tensor) error {
		if loop.Epoch != currentEpoch {
			endEpoch(currentEpoch)
			currentEpoch = loop.Epoch
		}
		lastValues = lastValues[:0]
		for _, value := range stepMetrics {
			lastValues = append(lastValues, scalarValue(value))
		}
		lossSum += lastValues[0]
		numSteps++
		return nil
	})
	loop.OnEnd("widedeep_history", 0, func(loop *train.Loop, _ []*tensors.Tensor) error {
		endEpoch(currentEpoch)
		return nil
	})
	if opts.Verbose {
		commandline.AttachProgressBar(loop)
	}
	if _, err = loop.RunEpochs(ds, opts.Epochs); err != nil {
		return nil, errors.WithMessage(err, "WideDeep.Fit failed")
	}

	// Update batch normalization averages, if they are used.
	averagesDS, err := m.dataset("widedeep_averages", inputs, target)
	if err != nil {
		return nil, err
	}
	averagesDS.BatchSize(opts.BatchSize, false)
	updated, err := batchnorm.UpdateAverages(m.trainer, averagesDS)
	if err != nil {
		return nil, errors.WithMessage(err, "WideDeep.Fit failed to update batch normalization averages")
	}
	if updated {
		klog.V(1).Infof("WideDeep updated batch normalization mean/variance averages")
	}
	m.predictExec = nil
	return history, nil
}

// Evaluate the model on the inputs and targets, returning the evaluation metrics (including the mean loss)
// by name.
func (m *WideDeep) Evaluate(inputs Inputs, target any) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.compiled {
		return nil, modelerrors.Configurationf("WideDeep.Evaluate called before Compile")
	}
	ds, err := m.dataset("widedeep_eval", inputs, target)
	if err != nil {
		return nil, err
	}
	ds.BatchSize(evalBatchSize, false)
	values, err := m.trainer.Eval(ds)
	if err != nil {
		return nil, errors.WithMessage(err, "WideDeep.Evaluate failed")
	}
	results := make(map[string]float64, len(values))
	for ii, metric := range m.trainer.EvalMetrics() {
		results[metric.Name()] = scalarValue(values[ii])
	}
	return results, nil
}

const evalBatchSize = 1024

// dataset creates an in-memory dataset with the inputs and targets.
func (m *WideDeep) dataset(name string, inputs Inputs, target any) (*datasets.InMemoryDataset, error) {
	inputTensors, numRows, err := m.inputTensors(inputs)
	if err != nil {
		return nil, err
	}
	labels, err := m.labelsTensor(target, numRows)
	if err != nil {
		return nil, err
	}
	dsInputs := make([]any, len(inputTensors))
	for ii, t := range inputTensors {
		dsInputs[ii] = t
	}
	ds, err := datasets.InMemoryFromData(m.backend, name, dsInputs, []any{labels})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create dataset %q", name)
	}
	return ds, nil
}

// inputTensors converts the inputs to tensors, in the order the model takes them, and checks that they
// all have the same number of rows.
func (m *WideDeep) inputTensors(inputs Inputs) (inputTensors []*tensors.Tensor, numRows int, err error) {
	if (inputs.Wide != nil) != (m.wide != nil) {
		return nil, 0, modelerrors.Configurationf("WideDeep has wide component=%v, but wide input given=%v",
			m.wide != nil, inputs.Wide != nil)
	}
	if len(inputs.Deep) != len(m.deep) {
		return nil, 0, modelerrors.Configurationf("WideDeep has %d deep components, but %d deep inputs were given",
			len(m.deep), len(inputs.Deep))
	}
	values := make([]any, 0, m.numInputs())
	if inputs.Wide != nil {
		values = append(values, inputs.Wide)
	}
	values = append(values, inputs.Deep...)
	inputTensors = make([]*tensors.Tensor, len(values))
	for ii, value := range values {
		if inputTensors[ii], err = toTensor(value); err != nil {
			return nil, 0, errors.WithMessagef(err, "WideDeep input #%d", ii)
		}
		shape := inputTensors[ii].Shape()
		if shape.Rank() != 2 {
			return nil, 0, modelerrors.Configurationf("WideDeep input #%d must be shaped [numRows, numColumns], got %s",
				ii, shape)
		}
		if ii == 0 {
			numRows = shape.Dimensions[0]
		} else if shape.Dimensions[0] != numRows {
			return nil, 0, modelerrors.Configurationf("WideDeep input #%d has %d rows, but input #0 has %d rows",
				ii, shape.Dimensions[0], numRows)
		}
	}
	if numRows == 0 {
		return nil, 0, modelerrors.Configurationf("WideDeep inputs have no rows")
	}
	return inputTensors, numRows, nil
}

// labelsTensor converts target to the labels tensor expected by the loss, shaped [numRows, 1]:
// float32 for regression and binary, int32 for multiclass.
func (m *WideDeep) labelsTensor(target any, numRows int) (*tensors.Tensor, error) {
	var values []float64
	switch v := target.(type) {
	case []float32:
		values = make([]float64, len(v))
		for ii, x := range v {
			values[ii] = float64(x)
		}
	case []float64:
		values = v
	case []int32:
		values = make([]float64, len(v))
		for ii, x := range v {
			values[ii] = float64(x)
		}
	case []int:
		values = make([]float64, len(v))
		for ii, x := range v {
			values[ii] = float64(x)
		}
	case *tensors.Tensor:
		err := exceptions.TryCatch[error](func() { values = flatToFloat64(v.Value()) })
		if err != nil {
			return nil, errors.WithMessage(err, "WideDeep target tensor")
		}
	default:
		return nil, modelerrors.Configurationf("WideDeep target of type %T not supported", target)
	}
	if len(values) != numRows {
		return nil, modelerrors.Configurationf("WideDeep target has %d values, but inputs have %d rows",
			len(values), numRows)
	}

	switch m.method {
	case Regression:
		data := make([]float32, numRows)
		for ii, x := range values {
			data[ii] = float32(x)
		}
		return tensors.FromFlatDataAndDimensions(data, numRows, 1), nil
	case Binary:
		data := make([]float32, numRows)
		for ii, x := range values {
			if x != 0 && x != 1 {
				return nil, modelerrors.Configurationf("binary target #%d must be 0 or 1, got %g", ii, x)
			}
			data[ii] = float32(x)
		}
		return tensors.FromFlatDataAndDimensions(data, numRows, 1), nil
	default:
		data := make([]int32, numRows)
		for ii, x := range values {
			if x != math.Trunc(x) || x < 0 || int(x) >= m.predDim {
				return nil, modelerrors.Configurationf("multiclass target #%d must be a class in [0, %d), got %g",
					ii, m.predDim, x)
			}
			data[ii] = int32(x)
		}
		return tensors.FromFlatDataAndDimensions(data, numRows, 1), nil
	}
}

// toTensor converts a value to a tensor, returning an error instead of panicking.
func toTensor(value any) (t *tensors.Tensor, err error) {
	if t, ok := value.(*tensors.Tensor); ok {
		return t, nil
	}
	err = exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(value) })
	return
}

// flatToFloat64 converts slices (of any rank) of the common numeric types to a flat []float64.
func flatToFloat64(value any) []float64 {
	switch v := value.(type) {
	case []float32:
		out := make([]float64, len(v))
		for ii, x := range v {
			out[ii] = float64(x)
		}
		return out
	case []float64:
		return v
	case []int32:
		out := make([]float64, len(v))
		for ii, x := range v {
			out[ii] = float64(x)
		}
		return out
	case []int64:
		out := make([]float64, len(v))
		for ii, x := range v {
			out[ii] = float64(x)
		}
		return out
	case [][]float32:
		var out []float64
		for _, row := range v {
			out = append(out, flatToFloat64(row)...)
		}
		return out
	case [][]float64:
		var out []float64
		for _, row := range v {
			out = append(out, row...)
		}
		return out
	case [][]int32:
		var out []float64
		for _, row := range v {
			out = append(out, flatToFloat64(row)...)
		}
		return out
	case [][]int64:
		var out []float64
		for _, row := range v {
			out = append(out, flatToFloat64(row)...)
		}
		return out
	}
	exceptions.Panicf("unsupported target values of type %T", value)
	return nil
}

// scalarValue converts a scalar tensor, like a metric value, to float64.
func scalarValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return math.NaN()
}
