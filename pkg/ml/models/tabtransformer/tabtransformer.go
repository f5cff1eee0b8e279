// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tabtransformer implements the TabTransformer deep component.
//
// Every categorical column is embedded with the same dimension, and the sequence of column embeddings
// [batchSize, numCategorical, embeddingDim] is contextualized by a stack of transformer encoder blocks
// (self-attention and feed-forward, each followed by a residual connection and layer normalization).
// The result is flattened, concatenated with the layer normalized continuous columns, and fed to an MLP.
//
// Like tabmlp, categorical ids are looked up at row id+1 of their padded tables, row 0 being a constant
// zero for padding and unseen values.
package tabtransformer

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/widedeep/pkg/ml/data/columns"
	"github.com/gomlx/widedeep/pkg/ml/layers/dense"
	"github.com/gomlx/widedeep/pkg/ml/layers/mlp"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamEmbeddingDim is the context hyperparameter with the dimension shared by all categorical embeddings.
	// Default is 32.
	ParamEmbeddingDim = "tabtransformer_embedding_dim"

	// ParamNumHeads is the context hyperparameter with the number of attention heads. Default is 8.
	ParamNumHeads = "tabtransformer_num_heads"

	// ParamNumBlocks is the context hyperparameter with the number of encoder blocks. Default is 6.
	ParamNumBlocks = "tabtransformer_num_blocks"

	// ParamActivation is the context hyperparameter with the activation of the feed-forward layers:
	// "relu", "leaky_relu", "gelu" or "geglu". Default is "gelu".
	ParamActivation = "tabtransformer_activation"
)

// Config for a TabTransformer, created with New and finalized with Done.
type Config struct {
	ctx         *context.Context
	index       columns.Index
	categorical []columns.CategoricalSpec
	continuous  []string

	embeddingDim, numHeads, numBlocks int
	attentionDropout, ffDropout       float64
	ffMultiplier                      int
	transformerActivation             string
	mlpHiddenDims                     []int
	mlpActivation                     string
	mlpDropout                        float64
	dtype                             dtypes.DType
}

// New starts the configuration of a TabTransformer over inputs whose columns are laid out by index.
func New(ctx *context.Context, index columns.Index) *Config {
	return &Config{
		ctx:                   ctx,
		index:                 index,
		embeddingDim:          context.GetParamOr(ctx, ParamEmbeddingDim, 32),
		numHeads:              context.GetParamOr(ctx, ParamNumHeads, 8),
		numBlocks:             context.GetParamOr(ctx, ParamNumBlocks, 6),
		attentionDropout:      0.1,
		ffDropout:             0.1,
		ffMultiplier:          4,
		transformerActivation: context.GetParamOr(ctx, ParamActivation, "gelu"),
		mlpActivation:         "relu",
		mlpDropout:            0.1,
		dtype:                 dtypes.Float32,
	}
}

// Categorical sets the categorical columns. At least one is required.
func (c *Config) Categorical(specs ...columns.CategoricalSpec) *Config {
	c.categorical = slices.Clone(specs)
	return c
}

// Continuous sets the continuous columns, concatenated after the transformer output.
func (c *Config) Continuous(names ...string) *Config {
	c.continuous = slices.Clone(names)
	return c
}

// EmbeddingDim sets the dimension of the categorical embeddings. It must be divisible by the number of heads.
func (c *Config) EmbeddingDim(dim int) *Config {
	c.embeddingDim = dim
	return c
}

// NumHeads sets the number of attention heads.
func (c *Config) NumHeads(numHeads int) *Config {
	c.numHeads = numHeads
	return c
}

// NumBlocks sets the number of encoder blocks.
func (c *Config) NumBlocks(numBlocks int) *Config {
	c.numBlocks = numBlocks
	return c
}

// AttentionDropout sets the dropout rate of the attention coefficients.
func (c *Config) AttentionDropout(rate float64) *Config {
	c.attentionDropout = rate
	return c
}

// FeedForwardDropout sets the dropout rate after the feed-forward activation.
func (c *Config) FeedForwardDropout(rate float64) *Config {
	c.ffDropout = rate
	return c
}

// FeedForwardMultiplier sets the width of the feed-forward hidden layer, as a multiple of the embedding dimension.
func (c *Config) FeedForwardMultiplier(multiplier int) *Config {
	c.ffMultiplier = multiplier
	return c
}

// TransformerActivation sets the activation of the feed-forward layers, by name.
// The gated "geglu" is accepted here, and it doubles the width of the first feed-forward linear layer.
func (c *Config) TransformerActivation(name string) *Config {
	c.transformerActivation = name
	return c
}

// MLPHiddenDims sets the hidden dimensions of the MLP on top of the transformer. If not set,
// it defaults to [4*l, 2*l], where l is the width of the MLP input.
func (c *Config) MLPHiddenDims(dims ...int) *Config {
	c.mlpHiddenDims = slices.Clone(dims)
	return c
}

// MLPActivation sets the activation of the MLP on top of the transformer.
func (c *Config) MLPActivation(name string) *Config {
	c.mlpActivation = name
	return c
}

// MLPDropout sets the dropout rate of the MLP layers.
func (c *Config) MLPDropout(rate float64) *Config {
	c.mlpDropout = rate
	return c
}

// DType of the variables. Default is Float32.
func (c *Config) DType(dtype dtypes.DType) *Config {
	c.dtype = dtype
	return c
}

// Done validates the configuration and creates the TabTransformer and its variables.
func (c *Config) Done() (*TabTransformer, error) {
	if err := c.index.Validate(); err != nil {
		return nil, err
	}
	if len(c.categorical) == 0 {
		return nil, modelerrors.Configurationf("TabTransformer requires at least one categorical column")
	}
	if c.embeddingDim < 1 || c.numHeads < 1 || c.numBlocks < 1 || c.ffMultiplier < 1 {
		return nil, modelerrors.Configurationf("TabTransformer requires positive embeddingDim (%d), numHeads (%d), "+
			"numBlocks (%d) and feed-forward multiplier (%d)", c.embeddingDim, c.numHeads, c.numBlocks, c.ffMultiplier)
	}
	if c.embeddingDim%c.numHeads != 0 {
		return nil, modelerrors.Configurationf("TabTransformer embeddingDim (%d) must be divisible by numHeads (%d)",
			c.embeddingDim, c.numHeads)
	}
	for _, rate := range []float64{c.attentionDropout, c.ffDropout, c.mlpDropout} {
		if rate < 0 || rate >= 1 {
			return nil, modelerrors.Configurationf("TabTransformer dropout rates must be in the range [0, 1), got %g", rate)
		}
	}
	embeddings := make([]columns.EmbeddingSpec, len(c.categorical))
	for ii, spec := range c.categorical {
		embeddings[ii] = spec.WithDim(c.embeddingDim)
	}
	if err := columns.ValidateEmbeddings(c.index, embeddings); err != nil {
		return nil, err
	}
	if err := columns.ValidateContinuous(c.index, c.continuous, embeddings); err != nil {
		return nil, err
	}
	ffActivation, err := dense.ParseActivation(c.transformerActivation)
	if err != nil {
		return nil, err
	}
	mlpActivation, err := dense.ParseActivation(c.mlpActivation)
	if err != nil {
		return nil, err
	}

	m := &TabTransformer{
		embeddings:   embeddings,
		continuous:   slices.Clone(c.continuous),
		embeddingDim: c.embeddingDim,
		numHeads:     c.numHeads,
		tables:       make(map[string]*context.Variable, len(embeddings)),
		dtype:        c.dtype,
	}
	m.categoricalPositions = make([]int, len(embeddings))
	for ii, spec := range embeddings {
		m.categoricalPositions[ii], _ = c.index.Position(spec.Column)
	}
	m.continuousPositions, _ = c.index.Positions(c.continuous...)

	err = exceptions.TryCatch[error](func() {
		for _, spec := range embeddings {
			tableCtx := c.ctx.In("emb_layer_" + context.EscapeScopeName(spec.Column))
			m.tables[spec.Column] = tableCtx.VariableWithShape("embeddings",
				shapes.Make(c.dtype, spec.Cardinality, spec.Dim))
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create TabTransformer embedding tables")
	}

	m.blocks = make([]*encoderBlock, c.numBlocks)
	for ii := range c.numBlocks {
		m.blocks[ii], err = c.newEncoderBlock(c.ctx.Inf("encoder_block_%d", ii), ffActivation)
		if err != nil {
			return nil, errors.WithMessagef(err, "TabTransformer encoder block #%d", ii)
		}
	}
	if len(c.continuous) > 0 {
		m.continuousNormalization = dense.NewNormalize(c.ctx.In("continuous_normalization"),
			dense.NormalizationLayer, len(c.continuous))
	}

	m.inputDim = len(embeddings)*c.embeddingDim + len(c.continuous)
	hiddenDims := c.mlpHiddenDims
	if len(hiddenDims) == 0 {
		hiddenDims = []int{4 * m.inputDim, 2 * m.inputDim}
	}
	m.mlp, err = mlp.New(c.ctx.In("mlp"), append([]int{m.inputDim}, hiddenDims...)...).
		Activation(mlpActivation).
		Dropout(c.mlpDropout).
		DType(c.dtype).
		Done()
	if err != nil {
		return nil, errors.WithMessage(err, "TabTransformer")
	}
	klog.V(2).Infof("TabTransformer in scope %q: %d categorical columns embedded in %d dims, %d blocks of %d heads, MLP %v",
		c.ctx.Scope(), len(embeddings), c.embeddingDim, c.numBlocks, c.numHeads, m.mlp.Dims())
	return m, nil
}

// encoderBlock is one transformer encoder block: self-attention and feed-forward, each followed by
// a residual connection and layer normalization.
type encoderBlock struct {
	attentionCtx          *context.Context
	attentionDropout      float64
	attentionNorm, ffNorm *dense.Normalize
	ffIn, ffOut           *dense.Linear
	ffActivation          *dense.ActivationLayer
	ffDropout             *dense.Dropout
}

func (c *Config) newEncoderBlock(ctx *context.Context, activation dense.Activation) (*encoderBlock, error) {
	ffDim := c.embeddingDim * c.ffMultiplier
	ffInDim := ffDim
	if activation.IsGated() {
		ffInDim = 2 * ffDim
	}
	b := &encoderBlock{
		attentionCtx:     ctx.In("attention").Checked(false),
		attentionDropout: c.attentionDropout,
		attentionNorm:    dense.NewNormalize(ctx.In("attention_norm"), dense.NormalizationLayer, c.embeddingDim),
		ffNorm:           dense.NewNormalize(ctx.In("ff_norm"), dense.NormalizationLayer, c.embeddingDim),
	}
	var err error
	if b.ffIn, err = dense.NewLinear(ctx.In("ff_in"), c.embeddingDim, ffInDim, c.dtype, true); err != nil {
		return nil, err
	}
	if b.ffActivation, err = dense.NewActivationLayer(activation, ffInDim); err != nil {
		return nil, err
	}
	if b.ffOut, err = dense.NewLinear(ctx.In("ff_out"), ffDim, c.embeddingDim, c.dtype, true); err != nil {
		return nil, err
	}
	if c.ffDropout > 0 {
		b.ffDropout = dense.NewDropout(ctx.In("ff_dropout"), c.ffDropout)
	}
	return b, nil
}

func (b *encoderBlock) apply(x *Node, numHeads int) *Node {
	embeddingDim := x.Shape().Dimensions[x.Rank()-1]
	attended := attention.SelfAttention(b.attentionCtx, x, numHeads, embeddingDim/numHeads).
		WithDropout(Scalar(x.Graph(), x.DType(), b.attentionDropout)).
		Done()
	x = b.attentionNorm.Apply(Add(x, attended))

	ff := b.ffActivation.Apply(b.ffIn.Apply(x))
	if b.ffDropout != nil {
		ff = b.ffDropout.Apply(ff)
	}
	ff = b.ffOut.Apply(ff)
	return b.ffNorm.Apply(Add(x, ff))
}

// TabTransformer is the configured deep component. It is immutable after creation.
type TabTransformer struct {
	embeddings              []columns.EmbeddingSpec
	categoricalPositions    []int
	tables                  map[string]*context.Variable
	embeddingDim, numHeads  int
	blocks                  []*encoderBlock
	continuous              []string
	continuousPositions     []int
	continuousNormalization *dense.Normalize
	inputDim                int
	mlp                     *mlp.MLP
	dtype                   dtypes.DType
}

// Apply the TabTransformer to the raw input x, shaped [batchSize, numColumns]. It returns [batchSize, OutputDim()].
func (m *TabTransformer) Apply(x *Node) *Node {
	g := x.Graph()
	batchSize := x.Shape().Dimensions[0]
	embedded := make([]*Node, len(m.embeddings))
	for ii, spec := range m.embeddings {
		pos := m.categoricalPositions[ii]
		ids := AddScalar(ConvertDType(Slice(x, AxisRange(), AxisRange(pos, pos+1)), dtypes.Int32), 1)
		// [batchSize, 1, embeddingDim]
		embedded[ii] = ExpandAxes(Gather(dense.PaddedTable(g, m.tables[spec.Column]), ids), 1)
	}
	sequence := Concatenate(embedded, 1)
	for _, block := range m.blocks {
		sequence = block.apply(sequence, m.numHeads)
	}
	features := []*Node{Reshape(sequence, batchSize, len(m.embeddings)*m.embeddingDim)}
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

// OutputDim is the width of the output: the last MLP hidden dimension.
func (m *TabTransformer) OutputDim() int { return m.mlp.OutputDim() }

// InputDim is the width of the MLP input: numCategorical*embeddingDim plus the number of continuous columns.
func (m *TabTransformer) InputDim() int { return m.inputDim }

// NumBlocks returns the number of encoder blocks.
func (m *TabTransformer) NumBlocks() int { return len(m.blocks) }

// EmbeddingTable returns the table variable, shaped [cardinality, embeddingDim], for the given categorical column.
// Row i holds the embedding of category i.
func (m *TabTransformer) EmbeddingTable(column string) (table *context.Variable, found bool) {
	table, found = m.tables[column]
	return
}

// MLP returns the MLP on top of the transformer.
func (m *TabTransformer) MLP() *mlp.MLP { return m.mlp }
