// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package columns describes how the columns of a raw tabular input tensor are laid out and used:
// the Index mapping column names to their position in the feature axis, and the specs of
// categorical (embedded) and continuous columns.
package columns

import (
	"slices"
	"sort"

	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
)

// Index maps a column name to its position in the feature axis (the last axis) of the input tensor.
//
// Positions must be unique, non-negative and cover the contiguous range 0..len(Index)-1. See Validate.
type Index map[string]int

// NewIndex creates an Index from the ordered list of column names: the first name maps to 0, the second to 1, etc.
func NewIndex(names ...string) (Index, error) {
	index := make(Index, len(names))
	for ii, name := range names {
		if _, found := index[name]; found {
			return nil, modelerrors.Configurationf("column %q given more than once", name)
		}
		index[name] = ii
	}
	return index, nil
}

// MustNewIndex is like NewIndex, but panics on error.
func MustNewIndex(names ...string) Index {
	index, err := NewIndex(names...)
	if err != nil {
		panic(err)
	}
	return index
}

// Validate checks that positions are unique, non-negative and contiguous.
func (index Index) Validate() error {
	if len(index) == 0 {
		return modelerrors.Configurationf("column index is empty")
	}
	seen := make([]string, len(index))
	for _, name := range xslices.SortedKeys(index) {
		pos := index[name]
		if pos < 0 || pos >= len(index) {
			return modelerrors.Configurationf("column index position %d for column %q out of range [0, %d) -- "+
				"positions must be unique and contiguous", pos, name, len(index))
		}
		if seen[pos] != "" {
			return modelerrors.Configurationf("columns %q and %q share the same position %d in the column index",
				seen[pos], name, pos)
		}
		seen[pos] = name
	}
	return nil
}

// Position of the column name, or an error of kind modelerrors.ErrUnknownColumn if it is not in the index.
func (index Index) Position(name string) (int, error) {
	pos, found := index[name]
	if !found {
		return 0, modelerrors.UnknownColumnf("column %q not found in column index (known columns: %q)",
			name, index.Names())
	}
	return pos, nil
}

// Positions of each of the column names, in the order given. It fails on the first unknown column.
func (index Index) Positions(names ...string) ([]int, error) {
	positions := make([]int, len(names))
	for ii, name := range names {
		pos, err := index.Position(name)
		if err != nil {
			return nil, err
		}
		positions[ii] = pos
	}
	return positions, nil
}

// Names returns the column names ordered by their position.
func (index Index) Names() []string {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return index[names[i]] < index[names[j]] })
	return names
}

// Len returns the number of columns, which is also the expected size of the feature axis of the input.
func (index Index) Len() int { return len(index) }

// EmbeddingSpec describes a categorical column that is embedded in a table of its own.
//
// The raw value of the column holds the category id in the range [0, Cardinality-1].
type EmbeddingSpec struct {
	Column      string
	Cardinality int
	Dim         int
}

// Validate checks that the spec refers to a column in the index and has valid dimensions.
func (spec EmbeddingSpec) Validate(index Index) error {
	if _, err := index.Position(spec.Column); err != nil {
		return errors.WithMessage(err, "invalid embedding spec")
	}
	if spec.Cardinality < 1 {
		return modelerrors.Configurationf("embedding spec for column %q has cardinality %d, it must be >= 1",
			spec.Column, spec.Cardinality)
	}
	if spec.Dim < 1 {
		return modelerrors.Configurationf("embedding spec for column %q has dimension %d, it must be >= 1",
			spec.Column, spec.Dim)
	}
	return nil
}

// CategoricalSpec describes a categorical column embedded with a dimension shared by all columns, as in
// transformer based models.
type CategoricalSpec struct {
	Column      string
	Cardinality int
}

// WithDim converts the CategoricalSpec to an EmbeddingSpec with the given dimension.
func (spec CategoricalSpec) WithDim(dim int) EmbeddingSpec {
	return EmbeddingSpec{Column: spec.Column, Cardinality: spec.Cardinality, Dim: dim}
}

// ValidateEmbeddings validates each spec and checks that no column is embedded twice.
func ValidateEmbeddings(index Index, specs []EmbeddingSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(index); err != nil {
			return err
		}
		if seen[spec.Column] {
			return modelerrors.Configurationf("column %q has more than one embedding spec", spec.Column)
		}
		seen[spec.Column] = true
	}
	return nil
}

// ValidateContinuous checks that every continuous column is in the index, is listed only once,
// and is not also a categorical (embedded) column.
func ValidateContinuous(index Index, continuous []string, specs []EmbeddingSpec) error {
	categorical := make([]string, 0, len(specs))
	for _, spec := range specs {
		categorical = append(categorical, spec.Column)
	}
	seen := make(map[string]bool, len(continuous))
	for _, name := range continuous {
		if _, err := index.Position(name); err != nil {
			return errors.WithMessage(err, "invalid continuous column")
		}
		if seen[name] {
			return modelerrors.Configurationf("continuous column %q listed more than once", name)
		}
		seen[name] = true
		if slices.Contains(categorical, name) {
			return modelerrors.Configurationf("column %q is both continuous and categorical", name)
		}
	}
	return nil
}
