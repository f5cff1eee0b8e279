// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package widedeep joins a wide (linear) component with one or more deep components into one model,
// and trains it for regression, binary or multiclass prediction.
//
// All components must be created under the same context.Context given to New (in sub-scopes of it),
// since the trainer optimizes every trainable variable of that context.
//
// Example:
//
//	ctx := context.New()
//	w := must.M1(wide.New(ctx.In("wide"), widePrep.WideDim(), 1))
//	deep := must.M1(tabmlp.New(ctx.In("deep"), tabPrep.ColumnIndex()).
//		Embeddings(tabPrep.EmbeddingSpecs()...).
//		Continuous(tabPrep.ContinuousColumns...).
//		Done())
//	model := must.M1(widedeep.New(ctx, backend).Wide(w).Deep(deep).Done())
//	must.M(model.Compile(widedeep.Binary))
//	history := must.M1(model.Fit(widedeep.Inputs{Wide: wideX, Deep: []any{deepX}}, labels, widedeep.DefaultFitOptions()))
package widedeep

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/widedeep/pkg/ml/layers/dense"
	"github.com/gomlx/widedeep/pkg/ml/models/wide"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Component is a deep component: it maps its input to a [batchSize, OutputDim()] tensor.
// Both *tabmlp.TabMlp and *tabtransformer.TabTransformer implement it.
type Component interface {
	Apply(x *Node) *Node
	OutputDim() int
}

// Head is a component applied to the concatenated outputs of the deep components, like *mlp.MLP.
type Head interface {
	Component
	InputDim() int
}

// Config for a WideDeep model, created with New and finalized with Done.
type Config struct {
	ctx      *context.Context
	backend  backends.Backend
	wide     *wide.Wide
	deep     []Component
	deepHead Head
	predDim  int
}

// New starts the configuration of a WideDeep model. The merge layers are created in ctx, which must be the
// same (root) context under which the components were created.
func New(ctx *context.Context, backend backends.Backend) *Config {
	return &Config{ctx: ctx, backend: backend, predDim: 1}
}

// Wide sets the wide component. It is optional, and its OutputDim must match PredDim.
func (c *Config) Wide(w *wide.Wide) *Config {
	c.wide = w
	return c
}

// Deep adds deep components. Their inputs are given in the same order in Inputs.Deep.
func (c *Config) Deep(components ...Component) *Config {
	c.deep = append(c.deep, components...)
	return c
}

// DeepHead sets an optional head applied to the concatenation of the deep components outputs.
// Its InputDim must be the sum of the deep components OutputDim.
func (c *Config) DeepHead(head Head) *Config {
	c.deepHead = head
	return c
}

// PredDim sets the number of outputs: 1 for regression and binary, the number of classes for multiclass.
// Default is 1.
func (c *Config) PredDim(predDim int) *Config {
	c.predDim = predDim
	return c
}

// Done validates the configuration and creates the merge layers.
func (c *Config) Done() (*WideDeep, error) {
	if c.backend == nil {
		return nil, modelerrors.Configurationf("WideDeep requires a backend")
	}
	if c.predDim < 1 {
		return nil, modelerrors.Configurationf("WideDeep predDim must be >= 1, got %d", c.predDim)
	}
	if c.wide == nil && len(c.deep) == 0 {
		return nil, modelerrors.Configurationf("WideDeep requires a wide component or at least one deep component")
	}
	if c.wide != nil && c.wide.OutputDim() != c.predDim {
		return nil, modelerrors.Configurationf("WideDeep wide component has output dim %d, but predDim is %d",
			c.wide.OutputDim(), c.predDim)
	}
	m := &WideDeep{
		ctx:      c.ctx,
		backend:  c.backend,
		wide:     c.wide,
		deep:     c.deep,
		deepHead: c.deepHead,
		predDim:  c.predDim,
	}
	var err error
	if c.deepHead != nil {
		if len(c.deep) == 0 {
			return nil, modelerrors.Configurationf("WideDeep deep head requires deep components")
		}
		var deepDim int
		for _, component := range c.deep {
			deepDim += component.OutputDim()
		}
		if c.deepHead.InputDim() != deepDim {
			return nil, modelerrors.Configurationf("WideDeep deep head input dim is %d, but the deep components output %d",
				c.deepHead.InputDim(), deepDim)
		}
		m.headLinear, err = dense.NewLinear(c.ctx.In("deephead_linear"), c.deepHead.OutputDim(), c.predDim,
			dtypes.Float32, true)
		if err != nil {
			return nil, errors.WithMessage(err, "WideDeep deep head merge layer")
		}
	} else {
		m.deepLinears = make([]*dense.Linear, len(c.deep))
		for ii, component := range c.deep {
			m.deepLinears[ii], err = dense.NewLinear(c.ctx.Inf("deep_linear_%d", ii), component.OutputDim(), c.predDim,
				dtypes.Float32, true)
			if err != nil {
				return nil, errors.WithMessagef(err, "WideDeep merge layer for deep component #%d", ii)
			}
		}
	}
	klog.Infof("WideDeep model: wide=%v, %d deep component(s), deep head=%v, predDim=%d, %s parameters created",
		c.wide != nil, len(c.deep), c.deepHead != nil, c.predDim, humanize.Comma(int64(c.ctx.NumParameters())))
	return m, nil
}

// WideDeep is the joint model. Compile must be called before Fit or any of the prediction methods.
//
// Its methods are serialized with a mutex, so it can be shared, but calls don't run concurrently.
type WideDeep struct {
	mu sync.Mutex

	ctx         *context.Context
	backend     backends.Backend
	wide        *wide.Wide
	deep        []Component
	deepHead    Head
	deepLinears []*dense.Linear
	headLinear  *dense.Linear
	predDim     int

	method      Method
	compiled    bool
	trainer     *train.Trainer
	predictExec *context.Exec
}

// PredDim returns the number of outputs of the model.
func (m *WideDeep) PredDim() int { return m.predDim }

// Method returns the method the model was compiled with, and whether it was compiled at all.
func (m *WideDeep) Method() (method Method, compiled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.method, m.compiled
}

// numInputs is the number of input tensors the model takes: the wide input (if any) followed by
// one per deep component.
func (m *WideDeep) numInputs() int {
	n := len(m.deep)
	if m.wide != nil {
		n++
	}
	return n
}

// logitsGraph builds the model: the wide logits plus the deep logits, merged either per deep component
// or through the deep head.
func (m *WideDeep) logitsGraph(inputs []*Node) *Node {
	var logits *Node
	add := func(x *Node) {
		if logits == nil {
			logits = x
		} else {
			logits = Add(logits, x)
		}
	}
	if m.wide != nil {
		add(m.wide.Apply(inputs[0]))
		inputs = inputs[1:]
	}
	if len(m.deep) == 0 {
		return logits
	}
	deepOutputs := make([]*Node, len(m.deep))
	for ii, component := range m.deep {
		deepOutputs[ii] = component.Apply(ConvertDType(inputs[ii], dtypes.Float32))
	}
	if m.deepHead != nil {
		merged := deepOutputs[0]
		if len(deepOutputs) > 1 {
			merged = Concatenate(deepOutputs, -1)
		}
		add(m.headLinear.Apply(m.deepHead.Apply(merged)))
	} else {
		for ii, output := range deepOutputs {
			add(m.deepLinears[ii].Apply(output))
		}
	}
	return logits
}

// modelGraph implements train.ModelFn.
func (m *WideDeep) modelGraph(_ *context.Context, _ any, inputs []*Node) []*Node {
	return []*Node{m.logitsGraph(inputs)}
}
