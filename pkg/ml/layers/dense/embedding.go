// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dense

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// PaddedTable returns the lookup table of an embedding variable holding the rows of ids 1..numIds, shaped
// [numIds, dim]. A constant zero row is prepended for id 0 (padding or unseen), so it reads zeros and
// receives no gradient. The result is shaped [numIds+1, dim].
func PaddedTable(g *Graph, table *context.Variable) *Node {
	value := table.ValueGraph(g)
	padding := Zeros(g, shapes.Make(value.DType(), 1, value.Shape().Dimensions[1]))
	return Concatenate([]*Node{padding, value}, 0)
}
