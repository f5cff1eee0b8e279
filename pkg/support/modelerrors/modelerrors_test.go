// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package modelerrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	err := Configurationf("activation %q not allowed", "geglu")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.False(t, IsUnsupportedOperation(err))
	assert.Contains(t, err.Error(), `activation "geglu" not allowed`)

	// Further wrapping keeps the kind.
	err = errors.WithMessage(UnsupportedOperationf("PredictProba on %s", "regression"), "widedeep")
	assert.True(t, IsUnsupportedOperation(err))
	assert.False(t, IsConfiguration(err))

	err = UnknownColumnf("column %q", "z")
	assert.True(t, IsUnknownColumn(err))
	assert.True(t, errors.Is(err, ErrUnknownColumn))
}
