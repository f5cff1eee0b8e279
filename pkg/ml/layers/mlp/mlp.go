// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mlp stacks dense blocks into a multi-layer perceptron.
//
// Given the dimensions [d0, d1, ..., dN-1] it creates N-1 dense blocks, block i mapping d_i to d_i+1
// features, each in its own "dense_layer_<i>" scope.
package mlp

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/widedeep/pkg/ml/layers/dense"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
)

// Config of an MLP, created with New and finalized with Done.
type Config struct {
	ctx                                  *context.Context
	dims                                 []int
	activation                           dense.Activation
	dropout                              float64
	dropoutPerLayer                      []float64
	batchNorm, batchNormLast, linearFirst bool
	dtype                                dtypes.DType
}

// New starts the configuration of an MLP with the given dimensions: the first is the input width,
// the last is the output width. At least 2 dimensions are required.
//
// The defaults are: relu activation, no dropout, no batch normalization and normalization-first blocks.
func New(ctx *context.Context, dims ...int) *Config {
	return &Config{
		ctx:        ctx,
		dims:       slices.Clone(dims),
		activation: dense.ActivationRelu,
		dtype:      dtypes.Float32,
	}
}

// Activation used by every block.
func (c *Config) Activation(activation dense.Activation) *Config {
	c.activation = activation
	return c
}

// Dropout rate used by every block. It resets any per-layer rates set with DropoutPerLayer.
func (c *Config) Dropout(rate float64) *Config {
	c.dropout = rate
	c.dropoutPerLayer = nil
	return c
}

// DropoutPerLayer sets one dropout rate per block: it must have exactly len(dims)-1 values.
func (c *Config) DropoutPerLayer(rates ...float64) *Config {
	c.dropoutPerLayer = slices.Clone(rates)
	if c.dropoutPerLayer == nil {
		c.dropoutPerLayer = []float64{}
	}
	return c
}

// BatchNorm enables batch normalization in the blocks. See also BatchNormLast.
func (c *Config) BatchNorm(batchNorm bool) *Config {
	c.batchNorm = batchNorm
	return c
}

// BatchNormLast sets whether the last block also uses batch normalization, when BatchNorm is enabled.
func (c *Config) BatchNormLast(batchNormLast bool) *Config {
	c.batchNormLast = batchNormLast
	return c
}

// LinearFirst selects the Linear -> Activation -> Normalize -> Dropout ordering for every block.
func (c *Config) LinearFirst(linearFirst bool) *Config {
	c.linearFirst = linearFirst
	return c
}

// DType of the variables.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// Done validates the configuration and creates the blocks (and their variables).
func (c *Config) Done() (*MLP, error) {
	if len(c.dims) < 2 {
		return nil, modelerrors.Configurationf("MLP requires at least 2 dimensions (input and output), got %v", c.dims)
	}
	numLayers := len(c.dims) - 1
	rates := c.dropoutPerLayer
	if rates == nil {
		rates = make([]float64, numLayers)
		for ii := range rates {
			rates[ii] = c.dropout
		}
	} else if len(rates) != numLayers {
		return nil, modelerrors.Configurationf("MLP with dimensions %v has %d layers, but %d dropout rates were given",
			c.dims, numLayers, len(rates))
	}

	m := &MLP{dims: slices.Clone(c.dims), blocks: make([]*dense.Block, numLayers)}
	for ii := range numLayers {
		isLast := ii == numLayers-1
		block, err := dense.New(c.ctx.Inf("dense_layer_%d", ii), c.dims[ii], c.dims[ii+1]).
			Activation(c.activation).
			Dropout(rates[ii]).
			BatchNorm(c.batchNorm && (!isLast || c.batchNormLast)).
			LinearFirst(c.linearFirst).
			DType(c.dtype).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "MLP layer #%d", ii)
		}
		m.blocks[ii] = block
	}
	return m, nil
}

// MLP is a sequence of dense blocks.
type MLP struct {
	dims   []int
	blocks []*dense.Block
}

// Apply the blocks in sequence. The last axis of x must have dimension InputDim.
func (m *MLP) Apply(x *Node) *Node {
	for _, block := range m.blocks {
		x = block.Apply(x)
	}
	return x
}

// Blocks returns the dense blocks, in order.
func (m *MLP) Blocks() []*dense.Block { return m.blocks }

// Dims returns the dimensions of the MLP, including the input dimension.
func (m *MLP) Dims() []int { return slices.Clone(m.dims) }

// InputDim is the expected width of the input.
func (m *MLP) InputDim() int { return m.dims[0] }

// OutputDim is the width of the output.
func (m *MLP) OutputDim() int { return m.dims[len(m.dims)-1] }
