// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tabmlp implements the TabMlp deep component: categorical columns are embedded in their own tables,
// continuous columns are normalized, and the concatenation of both feeds an MLP.
//
// The input is a raw matrix shaped [batchSize, numColumns] where the position of each column is given by
// a columns.Index. Categorical columns hold ids in the range [0, cardinality-1]; they are looked up in
// row id+1 of their padded table (see dense.PaddedTable), row 0 being a constant zero for padding and
// unseen values (id = -1).
//
// Example:
//
//	index := columns.MustNewIndex("a", "b", "c", "d", "e")
//	model, err := tabmlp.New(ctx.In("deep"), index).
//		Embeddings(
//			columns.EmbeddingSpec{Column: "a", Cardinality: 4, Dim: 8},
//			columns.EmbeddingSpec{Column: "b", Cardinality: 4, Dim: 8}).
//		Continuous("e").
//		HiddenDims(8, 4).
//		Done()
//	...
//	output := model.Apply(x) // [batchSize, 4]
//
// Default values are taken from the context hyperparameters (Param* constants), and can be overridden
// with the builder methods.
package tabmlp

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/widedeep/pkg/ml/data/columns"
	"github.com/gomlx/widedeep/pkg/ml/layers/dense"
	"github.com/gomlx/widedeep/pkg/ml/layers/mlp"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamEmbeddingDropout is the context hyperparameter with the dropout rate applied to the concatenated
	// embeddings. Default is 0.1.
	ParamEmbeddingDropout = "tabmlp_embed_dropout"

	// ParamContinuousNormalization is the context hyperparameter with the normalization applied to the
	// continuous columns: "batchnorm", "layernorm" or "none". Default is "batchnorm".
	ParamContinuousNormalization = "tabmlp_continuous_normalization"

	// ParamHiddenDims is the context hyperparameter with the widths of the MLP hidden layers ([]int).
	// Default is [200, 100].
	ParamHiddenDims = "tabmlp_hidden_dims"

	// ParamActivation is the context hyperparameter with the MLP activation: "relu", "leaky_relu" or "gelu".
	// Default is "relu".
	ParamActivation = "tabmlp_activation"

	// ParamDropout is the context hyperparameter with the dropout rate of every MLP layer. Default is 0.1.
	ParamDropout = "tabmlp_dropout"

	// ParamBatchNorm is the context hyperparameter that enables batch normalization in the MLP. Default is false.
	ParamBatchNorm = "tabmlp_batchnorm"

	// ParamBatchNormLast is the context hyperparameter that enables batch normalization in the last MLP layer,
	// if ParamBatchNorm is set. Default is false.
	ParamBatchNormLast = "tabmlp_batchnorm_last"

	// ParamLinearFirst is the context hyperparameter that selects the Linear -> Activation -> Normalize -> Dropout
	// ordering of the MLP layers. Default is false.
	ParamLinearFirst = "tabmlp_linear_first"
)

// Config for a TabMlp, created with New and finalized with Done.
type Config struct {
	ctx        *context.Context
	index      columns.Index
	embeddings []columns.EmbeddingSpec
	continuous []string

	embeddingDropout        float64
	continuousNormalization string
	hiddenDims              []int
	activation              string
	dropout                 float64
	dropoutPerLayer         []float64
	batchNorm               bool
	batchNormLast           bool
	linearFirst             bool
	dtype                   dtypes.DType
}

// New starts the configuration of a TabMlp over inputs whose columns are laid out by index.
//
// At least one embedding or one continuous column must be configured before calling Done.
func New(ctx *context.Context, index columns.Index) *Config {
	return &Config{
		ctx:                     ctx,
		index:                   index,
		embeddingDropout:        context.GetParamOr(ctx, ParamEmbeddingDropout, 0.1),
		continuousNormalization: context.GetParamOr(ctx, ParamContinuousNormalization, "batchnorm"),
		hiddenDims:              context.GetParamOr(ctx, ParamHiddenDims, []int{200, 100}),
		activation:              context.GetParamOr(ctx, ParamActivation, "relu"),
		dropout:                 context.GetParamOr(ctx, ParamDropout, 0.1),
		batchNorm:               context.GetParamOr(ctx, ParamBatchNorm, false),
		batchNormLast:           context.GetParamOr(ctx, ParamBatchNormLast, false),
		linearFirst:             context.GetParamOr(ctx, ParamLinearFirst, false),
		dtype:                   dtypes.Float32,
	}
}

// Embeddings sets the categorical columns to embed. The order of the specs is the order in which the
// embeddings are concatenated.
func (c *Config) Embeddings(specs ...columns.EmbeddingSpec) *Config {
	c.embeddings = slices.Clone(specs)
	return c
}

// Continuous sets the continuous columns, concatenated in the order given after the embeddings.
func (c *Config) Continuous(names ...string) *Config {
	c.continuous = slices.Clone(names)
	return c
}

// ContinuousNormalization sets the normalization of the continuous columns: "batchnorm", "layernorm" or "none".
func (c *Config) ContinuousNormalization(name string) *Config {
	c.continuousNormalization = name
	return c
}

// HiddenDims sets the widths of the MLP layers. The last one is the output width of the TabMlp.
func (c *Config) HiddenDims(dims ...int) *Config {
	c.hiddenDims = slices.Clone(dims)
	return c
}

// Activation of the MLP layers, by name: "relu", "leaky_relu" or "gelu".
func (c *Config) Activation(name string) *Config {
	c.activation = name
	return c
}

// Dropout rate of every MLP layer.
func (c *Config) Dropout(rate float64) *Config {
	c.dropout = rate
	c.dropoutPerLayer = nil
	return c
}

// DropoutPerLayer sets one dropout rate per MLP layer: one per hidden dimension.
func (c *Config) DropoutPerLayer(rates ...float64) *Config {
	c.dropoutPerLayer = slices.Clone(rates)
	if c.dropoutPerLayer == nil {
		c.dropoutPerLayer = []float64{}
	}
	return c
}

// EmbeddingDropout sets the dropout rate applied to the concatenated embeddings.
func (c *Config) EmbeddingDropout(rate float64) *Config {
	c.embeddingDropout = rate
	return c
}

// BatchNorm enables batch normalization in the MLP layers.
func (c *Config) BatchNorm(batchNorm bool) *Config {
	c.batchNorm = batchNorm
	return c
}

// BatchNormLast enables batch normalization also in the last MLP layer.
func (c *Config) BatchNormLast(batchNormLast bool) *Config {
	c.batchNormLast = batchNormLast
	return c
}

// LinearFirst selects the Linear -> Activation -> Normalize -> Dropout ordering of the MLP layers.
func (c *Config) LinearFirst(linearFirst bool) *Config {
	c.linearFirst = linearFirst
	return c
}

// DType of the variables and of the feature vectors. Default is Float32.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// Done validates the configuration, creates the embedding tables and the MLP, and returns the TabMlp.
func (c *Config) Done() (*TabMlp, error) {
	if err := c.index.Validate(); err != nil {
		return nil, err
	}
	if len(c.embeddings) == 0 && len(c.continuous) == 0 {
		return nil, modelerrors.Configurationf("TabMlp requires at least one embedding or one continuous column")
	}
	if err := columns.ValidateEmbeddings(c.index, c.embeddings); err != nil {
		return nil, err
	}
	if err := columns.ValidateContinuous(c.index, c.continuous, c.embeddings); err != nil {
		return nil, err
	}
	activation, err := dense.ParseActivation(c.activation)
	if err != nil {
		return nil, err
	}
	normalization, err := dense.ParseNormalization(c.continuousNormalization)
	if err != nil {
		return nil, err
	}
	if len(c.hiddenDims) == 0 {
		return nil, modelerrors.Configurationf("TabMlp requires at least one hidden dimension")
	}
	if c.embeddingDropout < 0 || c.embeddingDropout >= 1 {
		return nil, modelerrors.Configurationf("TabMlp embedding dropout must be in the range [0, 1), got %g",
			c.embeddingDropout)
	}

	m := &TabMlp{
		embeddings: slices.Clone(c.embeddings),
		continuous: slices.Clone(c.continuous),
		tables:     make(map[string]*context.Variable, len(c.embeddings)),
		dtype:      c.dtype,
	}
	for _, spec := range c.embeddings {
		pos, _ := c.index.Position(spec.Column)
		m.embeddingPositions = append(m.embeddingPositions, pos)
		m.embeddingsWidth += spec.Dim
	}
	m.continuousPositions, _ = c.index.Positions(c.continuous...)
	m.inputDim = m.embeddingsWidth + len(c.continuous)

	// One table per categorical column, holding the rows of ids 1..cardinality. Id 0 (padding) is constant.
	err = exceptions.TryCatch[error](func() {
		for _, spec := range c.embeddings {
			tableCtx := c.ctx.In("emb_layer_" + context.EscapeScopeName(spec.Column))
			m.tables[spec.Column] = tableCtx.VariableWithShape("embeddings",
				shapes.Make(c.dtype, spec.Cardinality, spec.Dim))
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create TabMlp embedding tables")
	}
	if len(c.embeddings) > 0 && c.embeddingDropout > 0 {
		m.embeddingDropout = dense.NewDropout(c.ctx.In("embedding_dropout"), c.embeddingDropout)
	}
	if len(c.continuous) > 0 {
		m.continuousNormalization = dense.NewNormalize(c.ctx.In("continuous_normalization"),
			normalization, len(c.continuous))
	}

	mlpConfig := mlp.New(c.ctx.In("mlp"), append([]int{m.inputDim}, c.hiddenDims...)...).
		Activation(activation).
		BatchNorm(c.batchNorm).
		BatchNormLast(c.batchNormLast).
		LinearFirst(c.linearFirst).
		DType(c.dtype)
	if c.dropoutPerLayer != nil {
		mlpConfig.DropoutPerLayer(c.dropoutPerLayer...)
	} else {
		mlpConfig.Dropout(c.dropout)
	}
	m.mlp, err = mlpConfig.Done()
	if err != nil {
		return nil, errors.WithMessage(err, "TabMlp")
	}
	klog.V(2).Infof("TabMlp in scope %q: %d embeddings (width %d), %d continuous columns, MLP %v",
		c.ctx.Scope(), len(c.embeddings), m.embeddingsWidth, len(c.continuous), m.mlp.Dims())
	return m, nil
}

// TabMlp is the configured deep component. It is immutable after creation.
type TabMlp struct {
	embeddings          []columns.EmbeddingSpec
	embeddingPositions  []int
	embeddingsWidth     int
	tables              map[string]*context.Variable
	embeddingDropout    *dense.Dropout
	continuous          []string
	continuousPositions []int

	continuousNormalization *dense.Normalize
	inputDim                int
	mlp                     *mlp.MLP
	dtype                   dtypes.DType
}

// Apply the TabMlp to the raw input x, shaped [batchSize, numColumns]. It returns [batchSize, OutputDim()].
func (m *TabMlp) Apply(x *Node) *Node {
	g := x.Graph()
	var features []*Node
	if len(m.embeddings) > 0 {
		embedded := make([]*Node, len(m.embeddings))
		for ii, spec := range m.embeddings {
			pos := m.embeddingPositions[ii]
			ids := ConvertDType(Slice(x, AxisRange(), AxisRange(pos, pos+1)), dtypes.Int32)
			ids = AddScalar(ids, 1)
			embedded[ii] = Gather(dense.PaddedTable(g, m.tables[spec.Column]), ids)
		}
		embeddings := Concatenate(embedded, -1)
		if m.embeddingDropout != nil {
			embeddings = m.embeddingDropout.Apply(embeddings)
		}
		features = append(features, embeddings)
	}
	if len(m.continuous) > 0 {
		parts := make([]*Node, len(m.continuousPositions))
		for ii, pos := range m.continuousPositions {
			parts[ii] = Slice(x, AxisRange(), AxisRange(pos, pos+1))
		}
		continuous := ConvertDType(Concatenate(parts, -1), m.dtype)
		features = append(features, m.continuousNormalization.Apply(continuous))
	}
	return m.mlp.Apply(Concatenate(features, -1))
}

// OutputDim is the width of the output: the last hidden dimension.
func (m *TabMlp) OutputDim() int { return m.mlp.OutputDim() }

// InputDim is the width of the feature vector fed to the MLP: the sum of the embedding dimensions
// plus the number of continuous columns.
func (m *TabMlp) InputDim() int { return m.inputDim }

// EmbeddingTable returns the table variable, shaped [cardinality, dim], for the given categorical column.
// Row i holds the embedding of category i. The padding row for unseen values is a constant zero, not part of the variable.
func (m *TabMlp) EmbeddingTable(column string) (table *context.Variable, found bool) {
	table, found = m.tables[column]
	return
}

// Embeddings returns the embedding specs, in concatenation order.
func (m *TabMlp) Embeddings() []columns.EmbeddingSpec { return slices.Clone(m.embeddings) }

// Continuous returns the continuous columns, in concatenation order.
func (m *TabMlp) Continuous() []string { return slices.Clone(m.continuous) }

// MLP returns the MLP fed by the concatenated features.
func (m *TabMlp) MLP() *mlp.MLP { return m.mlp }
