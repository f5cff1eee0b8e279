// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation scores predictions against their targets after inference:
// per-class counts and F1 scores for classification, and error measures for regression.
//
// It complements the in-graph metrics used during training with reports that are easy to log or inspect.
package evaluation

import (
	"math"
	"slices"

	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// ClassMetrics counts the outcomes of one class, taken as the positive class.
type ClassMetrics struct {
	TruePos, FalsePos, FalseNeg, TrueNeg int
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Precision is TruePos / (TruePos + FalsePos), or 0 if the class was never predicted.
func (m ClassMetrics) Precision() float64 { return safeRatio(m.TruePos, m.TruePos+m.FalsePos) }

// Recall is TruePos / (TruePos + FalseNeg), or 0 if the class never occurs.
func (m ClassMetrics) Recall() float64 { return safeRatio(m.TruePos, m.TruePos+m.FalseNeg) }

// F1Score is the harmonic mean of Precision and Recall.
func (m ClassMetrics) F1Score() float64 {
	precision, recall := m.Precision(), m.Recall()
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// ClassificationReport holds the per-class metrics and the aggregates of a classification.
type ClassificationReport struct {
	// Classes are sorted, and include every class present either in the labels or in the predictions.
	Classes []int32

	// PerClass metrics, indexed like Classes.
	PerClass []ClassMetrics

	Accuracy, MicroF1, MacroF1 float64
	NumExamples                int
}

// Classification scores the predicted labels against the true labels.
func Classification(predicted, labels []int32) (*ClassificationReport, error) {
	if len(predicted) != len(labels) {
		return nil, modelerrors.Configurationf("got %d predictions for %d labels", len(predicted), len(labels))
	}
	if len(labels) == 0 {
		return nil, modelerrors.Configurationf("no examples to evaluate")
	}
	classSet := make(map[int32]bool)
	for ii := range labels {
		classSet[labels[ii]] = true
		classSet[predicted[ii]] = true
	}
	r := &ClassificationReport{NumExamples: len(labels)}
	for class := range classSet {
		r.Classes = append(r.Classes, class)
	}
	slices.Sort(r.Classes)
	r.PerClass = make([]ClassMetrics, len(r.Classes))
	classIdx := func(class int32) int {
		idx, _ := slices.BinarySearch(r.Classes, class)
		return idx
	}

	var correct int
	for ii, label := range labels {
		labelIdx := classIdx(label)
		if predicted[ii] == label {
			correct++
			r.PerClass[labelIdx].TruePos++
		} else {
			r.PerClass[labelIdx].FalseNeg++
			r.PerClass[classIdx(predicted[ii])].FalsePos++
		}
	}
	var micro ClassMetrics
	for ii := range r.PerClass {
		m := &r.PerClass[ii]
		m.TrueNeg = r.NumExamples - m.TruePos - m.FalsePos - m.FalseNeg
		r.MacroF1 += m.F1Score()
		micro.TruePos += m.TruePos
		micro.FalsePos += m.FalsePos
		micro.FalseNeg += m.FalseNeg
	}
	r.MacroF1 /= float64(len(r.PerClass))
	r.MicroF1 = micro.F1Score()
	r.Accuracy = float64(correct) / float64(r.NumExamples)
	return r, nil
}

// Log the report with klog.
func (r *ClassificationReport) Log() {
	for ii, class := range r.Classes {
		m := r.PerClass[ii]
		klog.Infof("class %d: TP=%d FP=%d TN=%d FN=%d precision=%.4f recall=%.4f F1=%.4f",
			class, m.TruePos, m.FalsePos, m.TrueNeg, m.FalseNeg, m.Precision(), m.Recall(), m.F1Score())
	}
	klog.Infof("%d examples: accuracy=%.4f microF1=%.4f macroF1=%.4f",
		r.NumExamples, r.Accuracy, r.MicroF1, r.MacroF1)
}

// RegressionReport holds error measures of a regression.
type RegressionReport struct {
	MSE, RMSE, MAE, RSquared float64
	NumExamples              int
}

// Regression scores the predicted values against the targets.
func Regression(predicted, targets []float32) (*RegressionReport, error) {
	if len(predicted) != len(targets) {
		return nil, modelerrors.Configurationf("got %d predictions for %d targets", len(predicted), len(targets))
	}
	if len(targets) == 0 {
		return nil, modelerrors.Configurationf("no examples to evaluate")
	}
	estimates := make([]float64, len(predicted))
	values := make([]float64, len(targets))
	squared := make([]float64, len(targets))
	absolute := make([]float64, len(targets))
	for ii := range targets {
		estimates[ii] = float64(predicted[ii])
		values[ii] = float64(targets[ii])
		diff := estimates[ii] - values[ii]
		squared[ii] = diff * diff
		absolute[ii] = math.Abs(diff)
	}
	r := &RegressionReport{
		MSE:         stat.Mean(squared, nil),
		MAE:         stat.Mean(absolute, nil),
		RSquared:    stat.RSquaredFrom(estimates, values, nil),
		NumExamples: len(targets),
	}
	r.RMSE = math.Sqrt(r.MSE)
	return r, nil
}

// Log the report with klog.
func (r *RegressionReport) Log() {
	klog.Infof("%d examples: MSE=%.6g RMSE=%.6g MAE=%.6g R²=%.4f", r.NumExamples, r.MSE, r.RMSE, r.MAE, r.RSquared)
}
