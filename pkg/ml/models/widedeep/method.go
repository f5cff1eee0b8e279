// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package widedeep

import (
	"fmt"
	"strings"

	"github.com/gomlx/widedeep/pkg/support/modelerrors"
)

// Method is the prediction task the model is compiled for.
type Method int

const (
	Regression Method = iota
	Binary
	Multiclass
)

var methodNames = []string{"regression", "binary", "multiclass"}

// String implements fmt.Stringer.
func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod converts "regression", "binary" or "multiclass" (case-insensitive) to a Method.
func ParseMethod(name string) (Method, error) {
	lower := strings.ToLower(name)
	for ii, known := range methodNames {
		if lower == known {
			return Method(ii), nil
		}
	}
	return 0, modelerrors.Configurationf("unknown method %q, valid values are %q", name, methodNames)
}

// HasProbabilities returns whether PredictProba is supported for the method.
func (m Method) HasProbabilities() bool { return m == Binary || m == Multiclass }
