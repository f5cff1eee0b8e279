// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package wide implements the linear (wide) component of a Wide & Deep model.
//
// Its input is a matrix of ids shaped [batchSize, numWideColumns], where each id indexes a (column, value)
// pair -- see tabular.WidePreprocessor. Id 0 is reserved for padding and unseen values, and always contributes
// zero. Each id is looked up in a table shaped [wideDim+1, predDim] (see dense.PaddedTable), and the rows of all
// columns are summed, plus a bias.
//
// This is equivalent to a linear model over the one-hot encoding of the wide columns, without ever building the
// one-hot encoding.
package wide

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/widedeep/pkg/ml/layers/dense"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
)

// Wide is the linear component. It is immutable after creation.
type Wide struct {
	wideDim, predDim int
	table, bias      *context.Variable
}

// New creates the wide component variables in the scope of ctx: a table shaped [wideDim, predDim], holding
// the rows of ids 1..wideDim, and a zero initialized bias shaped [predDim].
//
// wideDim is the number of distinct (column, value) ids, not counting the padding id 0.
func New(ctx *context.Context, wideDim, predDim int) (w *Wide, err error) {
	return NewWithDType(ctx, wideDim, predDim, dtypes.Float32)
}

// NewWithDType is like New, but with the given dtype for the variables.
func NewWithDType(ctx *context.Context, wideDim, predDim int, dtype dtypes.DType) (w *Wide, err error) {
	if wideDim < 1 || predDim < 1 {
		return nil, modelerrors.Configurationf("wide component requires wideDim >= 1 and predDim >= 1, got %d and %d",
			wideDim, predDim)
	}
	w = &Wide{wideDim: wideDim, predDim: predDim}
	err = exceptions.TryCatch[error](func() {
		ctx = ctx.In("wide_linear")
		w.table = ctx.VariableWithShape("embeddings", shapes.Make(dtype, wideDim, predDim))
		w.bias = ctx.VariableWithValue("bias", tensors.FromShape(shapes.Make(dtype, predDim)))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create wide component variables")
	}
	return w, nil
}

// Apply the wide component to the ids x, shaped [batchSize, numWideColumns]. Float ids are converted.
// It returns the logits shaped [batchSize, predDim].
func (w *Wide) Apply(x *Node) *Node {
	g := x.Graph()
	ids := ConvertDType(x, dtypes.Int32)
	if ids.Rank() == 1 {
		ids = ExpandAxes(ids, -1)
	}
	table := dense.PaddedTable(g, w.table)
	// [batchSize, numWideColumns, predDim]
	rows := Gather(table, ExpandAxes(ids, -1))
	output := ReduceSum(rows, 1)
	return Add(output, ExpandAxes(w.bias.ValueGraph(g), 0))
}

// WideDim is the number of (column, value) ids, not counting padding.
func (w *Wide) WideDim() int { return w.wideDim }

// OutputDim is the number of outputs, predDim.
func (w *Wide) OutputDim() int { return w.predDim }

// Table returns the variable shaped [wideDim, predDim]: row i-1 holds the weights of id i.
func (w *Wide) Table() *context.Variable { return w.table }

// Bias returns the variable shaped [predDim].
func (w *Wide) Bias() *context.Variable { return w.bias }
