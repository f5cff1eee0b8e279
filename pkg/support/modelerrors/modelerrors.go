// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package modelerrors defines the kinds of errors returned when building, compiling or using
// the wide & deep models.
//
// Errors are wrapped around one of the sentinel values below with github.com/pkg/errors, so
// callers check their kind with errors.Is:
//
//	model, err := tabmlp.New(ctx, index).HiddenDims(8, 4).Done()
//	if errors.Is(err, modelerrors.ErrConfiguration) {
//		...
//	}
package modelerrors

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned at construction (or compile) time for invalid combinations of
	// configuration: unknown activation or normalization names, gated activations outside of
	// transformers, odd widths for gated activations, zero-width feature vectors, etc.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedOperation is returned when an operation is not defined for the way the model
	// was compiled -- e.g.: class probabilities of a regression model.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUnknownColumn is returned when a column name is not found in a column index.
	ErrUnknownColumn = errors.New("unknown column")
)

// Configurationf returns an error of kind ErrConfiguration with the formatted message.
func Configurationf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// UnsupportedOperationf returns an error of kind ErrUnsupportedOperation with the formatted message.
func UnsupportedOperationf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedOperation, format, args...)
}

// UnknownColumnf returns an error of kind ErrUnknownColumn with the formatted message.
func UnknownColumnf(format string, args ...any) error {
	return errors.Wrapf(ErrUnknownColumn, format, args...)
}

// IsConfiguration reports whether err is (or wraps) ErrConfiguration.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsUnsupportedOperation reports whether err is (or wraps) ErrUnsupportedOperation.
func IsUnsupportedOperation(err error) bool { return errors.Is(err, ErrUnsupportedOperation) }

// IsUnknownColumn reports whether err is (or wraps) ErrUnknownColumn.
func IsUnknownColumn(err error) bool { return errors.Is(err, ErrUnknownColumn) }
