// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dense

import (
	"fmt"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
)

// Activation is an enum of the activations supported by dense blocks and transformer feed-forward layers.
type Activation int

const (
	ActivationRelu Activation = iota
	ActivationLeakyRelu
	ActivationGelu

	// ActivationGeglu is the gated GELU: it halves the width of its input. It is only accepted
	// by the transformer feed-forward layers, never by a dense block.
	ActivationGeglu
)

// LeakyReluSlope is the slope used for negative values by ActivationLeakyRelu.
const LeakyReluSlope = 0.01

var activationNames = []string{"relu", "leaky_relu", "gelu", "geglu"}

// String implements fmt.Stringer, and returns the snake-case name of the activation.
func (a Activation) String() string {
	if a < 0 || int(a) >= len(activationNames) {
		return fmt.Sprintf("Activation(%d)", int(a))
	}
	return activationNames[a]
}

// IsGated returns whether the activation splits its input in halves (value and gates).
func (a Activation) IsGated() bool { return a == ActivationGeglu }

// ParseActivation converts a name to an Activation. Names are case-insensitive.
// Unknown names return an error of kind modelerrors.ErrConfiguration.
func ParseActivation(name string) (Activation, error) {
	lowered := strings.ToLower(name)
	for ii, known := range activationNames {
		if lowered == known {
			return Activation(ii), nil
		}
	}
	return ActivationRelu, modelerrors.Configurationf("unknown activation %q, valid values are %q", name, activationNames)
}

// GEGLU splits the last axis of x into two halves, values and gates, and returns values * gelu(gates).
//
// The last dimension of x must be even.
func GEGLU(x *Node) *Node {
	parts := Split(x, -1, 2)
	return Mul(parts[0], activations.Gelu(parts[1]))
}

// ActivationLayer applies an activation function. It has no variables.
type ActivationLayer struct {
	Activation          Activation
	InputDim, OutputDim int
}

// NewActivationLayer creates an activation layer for inputs of the given width.
//
// For ActivationGeglu the width must be even, and the output width is width/2.
func NewActivationLayer(activation Activation, width int) (*ActivationLayer, error) {
	if width < 1 {
		return nil, modelerrors.Configurationf("activation %s requires a positive width, got %d", activation, width)
	}
	layer := &ActivationLayer{Activation: activation, InputDim: width, OutputDim: width}
	switch activation {
	case ActivationRelu, ActivationLeakyRelu, ActivationGelu:
	case ActivationGeglu:
		if width%2 != 0 {
			return nil, modelerrors.Configurationf("activation geglu requires an even width, got %d", width)
		}
		layer.OutputDim = width / 2
	default:
		return nil, modelerrors.Configurationf("invalid activation %s", activation)
	}
	return layer, nil
}

// Kind implements Layer.
func (l *ActivationLayer) Kind() LayerKind { return KindActivation }

// Apply implements Layer.
func (l *ActivationLayer) Apply(x *Node) *Node {
	switch l.Activation {
	case ActivationLeakyRelu:
		return activations.LeakyReluWith(x, LeakyReluSlope)
	case ActivationGelu:
		return activations.Gelu(x)
	case ActivationGeglu:
		return GEGLU(x)
	default:
		return activations.Relu(x)
	}
}
