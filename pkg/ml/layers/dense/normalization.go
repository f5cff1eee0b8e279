// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dense

import (
	"fmt"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
)

// Normalization is an enum of the normalizations applied to feature vectors.
type Normalization int

const (
	NormalizationNone Normalization = iota
	NormalizationBatch
	NormalizationLayer
)

const (
	// NormalizationEpsilon is added to the variance of the normalized values.
	NormalizationEpsilon = 1e-5

	// BatchNormMomentum is the momentum of the moving averages of mean and variance kept by batch normalization.
	BatchNormMomentum = 0.9
)

var normalizationNames = []string{"none", "batchnorm", "layernorm"}

// String implements fmt.Stringer.
func (n Normalization) String() string {
	if n < 0 || int(n) >= len(normalizationNames) {
		return fmt.Sprintf("Normalization(%d)", int(n))
	}
	return normalizationNames[n]
}

// ParseNormalization converts a name to a Normalization: "batchnorm", "layernorm", "none" or "" (same as "none").
//
// Any other name fails with an error of kind modelerrors.ErrConfiguration, as opposed to silently skipping the
// normalization.
func ParseNormalization(name string) (Normalization, error) {
	lowered := strings.ToLower(name)
	if lowered == "" {
		return NormalizationNone, nil
	}
	for ii, known := range normalizationNames {
		if lowered == known {
			return Normalization(ii), nil
		}
	}
	return NormalizationNone, modelerrors.Configurationf("unknown normalization %q, valid values are %q",
		name, normalizationNames)
}

// Normalize normalizes the feature axis (the last) of its input.
//
// Batch normalization keeps moving averages used at inference, layer normalization behaves
// the same in training and inference. Their variables are created in the layer's scope the
// first time it is applied.
type Normalize struct {
	ctx           *context.Context
	Normalization Normalization
	Width         int
}

// NewNormalize creates a normalization layer for feature vectors of the given width.
func NewNormalize(ctx *context.Context, normalization Normalization, width int) *Normalize {
	return &Normalize{
		ctx:           ctx.Checked(false),
		Normalization: normalization,
		Width:         width,
	}
}

// Kind implements Layer.
func (n *Normalize) Kind() LayerKind { return KindNormalize }

// Apply implements Layer.
func (n *Normalize) Apply(x *Node) *Node {
	switch n.Normalization {
	case NormalizationBatch:
		return batchnorm.New(n.ctx, x, -1).
			Momentum(BatchNormMomentum).
			Epsilon(NormalizationEpsilon).
			Done()
	case NormalizationLayer:
		return layers.LayerNormalization(n.ctx, x, -1).
			Epsilon(NormalizationEpsilon).
			Done()
	default:
		return x
	}
}
