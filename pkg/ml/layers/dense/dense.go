// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dense builds the basic unit of the tabular MLPs: a dense block, an explicit ordered list of
// layers (normalization, dropout, linear and activation) applied in sequence.
//
// Two orderings are supported:
//
//   - Linear first: Linear -> Activation -> Normalize(output) -> Dropout.
//   - Normalize first (default): Normalize(input) -> Dropout -> Linear -> Activation.
//
// Example:
//
//	block, err := dense.New(ctx.In("dense_layer_0"), 16, 8).
//		Activation(dense.ActivationLeakyRelu).
//		Dropout(0.1).
//		BatchNorm(true).
//		Done()
//	if err != nil {
//		return err
//	}
//	...
//	output := block.Apply(input)
package dense

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
)

// LayerKind enumerates the variants of Layer.
type LayerKind int

const (
	KindNormalize LayerKind = iota
	KindDropout
	KindLinear
	KindActivation
)

// String implements fmt.Stringer.
func (k LayerKind) String() string {
	switch k {
	case KindNormalize:
		return "Normalize"
	case KindDropout:
		return "Dropout"
	case KindLinear:
		return "Linear"
	case KindActivation:
		return "Activation"
	}
	return fmt.Sprintf("LayerKind(%d)", int(k))
}

// Layer is one stage of a Block. It is one of *Normalize, *Dropout, *Linear or *ActivationLayer.
type Layer interface {
	Kind() LayerKind
	Apply(x *Node) *Node
}

// Linear is a fully connected layer over the last axis of its input: x·W (+ b).
//
// Its variables are created when the layer is created, in the scope of the context given.
type Linear struct {
	InputDim, OutputDim int
	Weights             *context.Variable

	// Biases is nil if the layer has no bias term.
	Biases *context.Variable
}

// NewLinear creates a Linear layer with weights shaped [inputDim, outputDim] and, if useBias
// is set, zero initialized biases shaped [outputDim].
//
// It returns an error if the variables already exist in the context scope and the context is checked.
func NewLinear(ctx *context.Context, inputDim, outputDim int, dtype dtypes.DType, useBias bool) (linear *Linear, err error) {
	if inputDim < 1 || outputDim < 1 {
		return nil, modelerrors.Configurationf("linear layer requires positive dimensions, got input=%d, output=%d",
			inputDim, outputDim)
	}
	err = exceptions.TryCatch[error](func() {
		linear = &Linear{InputDim: inputDim, OutputDim: outputDim}
		linear.Weights = ctx.VariableWithShape("weights", shapes.Make(dtype, inputDim, outputDim))
		if useBias {
			linear.Biases = ctx.VariableWithValue("biases", tensors.FromShape(shapes.Make(dtype, outputDim)))
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create linear layer variables in scope %q", ctx.Scope())
	}
	return linear, nil
}

// Kind implements Layer.
func (l *Linear) Kind() LayerKind { return KindLinear }

// Apply implements Layer. The input can have any rank >= 1, only the last axis is contracted.
func (l *Linear) Apply(x *Node) *Node {
	g := x.Graph()
	weights := l.Weights.ValueGraph(g)
	x = DotGeneral(x, []int{-1}, nil, weights, []int{0}, nil)
	if l.Biases != nil {
		bias := l.Biases.ValueGraph(g)
		expandedBiasShape := x.Shape().Clone()
		for ii := range expandedBiasShape.Dimensions[:x.Rank()-1] {
			expandedBiasShape.Dimensions[ii] = 1
		}
		x = Add(x, ReshapeWithShape(bias, expandedBiasShape))
	}
	return x
}

// Dropout randomly zeroes values during training, and rescales the remaining ones by 1/(1-p).
// It is a no-op during inference.
type Dropout struct {
	ctx  *context.Context
	Rate float64
}

// NewDropout creates a dropout layer with the given rate.
func NewDropout(ctx *context.Context, rate float64) *Dropout {
	return &Dropout{ctx: ctx.Checked(false), Rate: rate}
}

// Kind implements Layer.
func (d *Dropout) Kind() LayerKind { return KindDropout }

// Apply implements Layer.
func (d *Dropout) Apply(x *Node) *Node {
	if d.Rate <= 0 {
		return x
	}
	return layers.DropoutNormalize(d.ctx, x, Scalar(x.Graph(), x.DType(), d.Rate), true)
}

// Config for a dense Block, created with New and finalized with Done.
type Config struct {
	ctx                    *context.Context
	inputDim, outputDim    int
	activation             Activation
	dropout                float64
	batchNorm, linearFirst bool
	dtype                  dtypes.DType
}

// New starts the configuration of a dense block from inputDim to outputDim features.
//
// The defaults are: relu activation, no dropout, no batch normalization, normalization first and Float32.
// Call Done to create the block and its variables, in the scope of ctx.
func New(ctx *context.Context, inputDim, outputDim int) *Config {
	return &Config{
		ctx:        ctx,
		inputDim:   inputDim,
		outputDim:  outputDim,
		activation: ActivationRelu,
		dtype:      dtypes.Float32,
	}
}

// Activation sets the activation applied after the linear layer. The gated ActivationGeglu is not accepted.
func (c *Config) Activation(activation Activation) *Config {
	c.activation = activation
	return c
}

// Dropout sets the dropout rate. A rate of 0 means no dropout layer is included.
func (c *Config) Dropout(rate float64) *Config {
	c.dropout = rate
	return c
}

// BatchNorm sets whether a batch normalization layer is included. When set, the linear layer has no bias.
func (c *Config) BatchNorm(batchNorm bool) *Config {
	c.batchNorm = batchNorm
	return c
}

// LinearFirst selects the Linear -> Activation -> Normalize -> Dropout ordering.
// The default is Normalize -> Dropout -> Linear -> Activation.
func (c *Config) LinearFirst(linearFirst bool) *Config {
	c.linearFirst = linearFirst
	return c
}

// DType of the variables created. Default is Float32.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// Done validates the configuration, creates the variables of the linear layer and returns the Block.
func (c *Config) Done() (*Block, error) {
	if c.activation.IsGated() {
		return nil, modelerrors.Configurationf("activation %s is only supported in transformer feed-forward layers, "+
			"not in dense blocks", c.activation)
	}
	if c.inputDim < 1 || c.outputDim < 1 {
		return nil, modelerrors.Configurationf("dense block requires positive dimensions, got input=%d, output=%d",
			c.inputDim, c.outputDim)
	}
	if c.dropout < 0 || c.dropout >= 1 {
		return nil, modelerrors.Configurationf("dense block dropout must be in the range [0, 1), got %g", c.dropout)
	}

	linear, err := NewLinear(c.ctx, c.inputDim, c.outputDim, c.dtype, !c.batchNorm)
	if err != nil {
		return nil, err
	}
	activation, err := NewActivationLayer(c.activation, c.outputDim)
	if err != nil {
		return nil, err
	}
	var dropout Layer
	if c.dropout > 0 {
		dropout = NewDropout(c.ctx, c.dropout)
	}
	normalization := NormalizationNone
	if c.batchNorm {
		normalization = NormalizationBatch
	}

	block := &Block{InputDim: c.inputDim, OutputDim: c.outputDim}
	add := func(layer Layer) {
		if layer != nil {
			block.Layers = append(block.Layers, layer)
		}
	}
	if c.linearFirst {
		add(linear)
		add(activation)
		if c.batchNorm {
			add(NewNormalize(c.ctx, normalization, c.outputDim))
		}
		add(dropout)
	} else {
		if c.batchNorm {
			add(NewNormalize(c.ctx, normalization, c.inputDim))
		}
		add(dropout)
		add(linear)
		add(activation)
	}
	return block, nil
}

// Block is an ordered list of layers, applied in sequence.
type Block struct {
	InputDim, OutputDim int
	Layers              []Layer
}

// Apply the layers in order. The last axis of x must have dimension InputDim.
func (b *Block) Apply(x *Node) *Node {
	for _, layer := range b.Layers {
		x = layer.Apply(x)
	}
	return x
}

// Kinds returns the kind of each layer, in order.
func (b *Block) Kinds() []LayerKind {
	kinds := make([]LayerKind, len(b.Layers))
	for ii, layer := range b.Layers {
		kinds[ii] = layer.Kind()
	}
	return kinds
}

// Linear returns the linear layer of the block.
func (b *Block) Linear() *Linear {
	for _, layer := range b.Layers {
		if linear, ok := layer.(*Linear); ok {
			return linear
		}
	}
	return nil
}
