// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tabular converts gota DataFrames to the raw matrices consumed by the wide and deep components.
//
// TabPreprocessor produces the deep input: categorical columns become integer ids, continuous columns
// (optionally standardized) are kept as values, and it builds the matching columns.Index and embedding specs.
//
// WidePreprocessor produces the wide input: one id per (column, value) pair, with 0 reserved for unseen values.
//
// Both preprocessors learn their vocabularies and statistics with Fit, on the training data only, and then
// convert any DataFrame with Transform.
package tabular

import (
	"math"
	"slices"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/widedeep/pkg/ml/data/columns"
	"github.com/gomlx/widedeep/pkg/support/modelerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// UnseenCategory is the id given to categorical values not seen during Fit. The deep components
// map it to their padding embedding row.
const UnseenCategory = -1

// MaxEmbeddingDim caps the embedding dimension of the default rule, see EmbeddingDimFor.
const MaxEmbeddingDim = 600

// EmbeddingDimFor returns the default embedding dimension for a categorical column with the given
// cardinality: min(MaxEmbeddingDim, round(1.6 * cardinality^0.56)).
func EmbeddingDimFor(cardinality int) int {
	dim := int(math.Round(1.6 * math.Pow(float64(cardinality), 0.56)))
	return max(1, min(MaxEmbeddingDim, dim))
}

// checkColumns returns an error if any of the names is not a column of df.
func checkColumns(df dataframe.DataFrame, names []string) error {
	if df.Err != nil {
		return errors.Wrap(df.Err, "invalid DataFrame")
	}
	dfNames := df.Names()
	for _, name := range names {
		if !slices.Contains(dfNames, name) {
			return modelerrors.UnknownColumnf("column %q not in DataFrame with columns %q", name, dfNames)
		}
	}
	return nil
}

// buildVocabulary returns the sorted distinct values of the column.
func buildVocabulary(col series.Series) []string {
	seen := make(map[string]bool)
	var values []string
	for _, value := range col.Records() {
		if !seen[value] {
			seen[value] = true
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return values
}

// TabPreprocessor converts a DataFrame to the raw input of the deep components: a matrix shaped
// [numRows, len(CategoricalColumns)+len(ContinuousColumns)], with the categorical columns first.
type TabPreprocessor struct {
	// CategoricalColumns are converted to ids in [0, cardinality), following the sorted order of their values.
	CategoricalColumns []string

	// ContinuousColumns are converted to float32.
	ContinuousColumns []string

	// EmbeddingDims overrides the embedding dimension (EmbeddingDimFor) of categorical columns.
	EmbeddingDims map[string]int

	// Scale standardizes the continuous columns with the mean and standard deviation seen in Fit.
	Scale bool

	vocabularies []map[string]int
	means, stds  []float64
	fitted       bool
}

// Fit learns the vocabularies of the categorical columns and the statistics of the continuous columns.
func (p *TabPreprocessor) Fit(df dataframe.DataFrame) error {
	if len(p.CategoricalColumns)+len(p.ContinuousColumns) == 0 {
		return modelerrors.Configurationf("TabPreprocessor has no columns configured")
	}
	if _, err := columns.NewIndex(append(slices.Clone(p.CategoricalColumns), p.ContinuousColumns...)...); err != nil {
		return err
	}
	if err := checkColumns(df, append(slices.Clone(p.CategoricalColumns), p.ContinuousColumns...)); err != nil {
		return err
	}
	if df.Nrow() == 0 {
		return modelerrors.Configurationf("TabPreprocessor.Fit requires at least one row")
	}
	for column, dim := range p.EmbeddingDims {
		if !slices.Contains(p.CategoricalColumns, column) {
			return modelerrors.UnknownColumnf("embedding dimension given for %q, which is not a categorical column",
				column)
		}
		if dim < 1 {
			return modelerrors.Configurationf("embedding dimension for %q must be >= 1, got %d", column, dim)
		}
	}

	p.vocabularies = make([]map[string]int, len(p.CategoricalColumns))
	for ii, column := range p.CategoricalColumns {
		values := buildVocabulary(df.Col(column))
		vocab := make(map[string]int, len(values))
		for id, value := range values {
			vocab[value] = id
		}
		p.vocabularies[ii] = vocab
		klog.V(2).Infof("TabPreprocessor: column %q has %d categories", column, len(values))
	}
	p.means = make([]float64, len(p.ContinuousColumns))
	p.stds = make([]float64, len(p.ContinuousColumns))
	for ii, column := range p.ContinuousColumns {
		col := df.Col(column)
		if slices.ContainsFunc(col.Float(), math.IsNaN) {
			return modelerrors.Configurationf("continuous column %q has non-numeric or missing values", column)
		}
		p.means[ii] = col.Mean()
		p.stds[ii] = col.StdDev()
		if p.stds[ii] == 0 || math.IsNaN(p.stds[ii]) {
			p.stds[ii] = 1
		}
	}
	p.fitted = true
	return nil
}

// Transform converts df to the raw matrix. Categorical values not seen in Fit become UnseenCategory.
func (p *TabPreprocessor) Transform(df dataframe.DataFrame) ([][]float32, error) {
	if !p.fitted {
		return nil, modelerrors.Configurationf("TabPreprocessor.Transform called before Fit")
	}
	if err := checkColumns(df, append(slices.Clone(p.CategoricalColumns), p.ContinuousColumns...)); err != nil {
		return nil, err
	}
	numRows := df.Nrow()
	numCategorical := len(p.CategoricalColumns)
	rows := make([][]float32, numRows)
	flat := make([]float32, numRows*(numCategorical+len(p.ContinuousColumns)))
	width := numCategorical + len(p.ContinuousColumns)
	for row := range rows {
		rows[row] = flat[row*width : (row+1)*width : (row+1)*width]
	}
	for colIdx, column := range p.CategoricalColumns {
		vocab := p.vocabularies[colIdx]
		for row, value := range df.Col(column).Records() {
			id, found := vocab[value]
			if !found {
				id = UnseenCategory
			}
			rows[row][colIdx] = float32(id)
		}
	}
	for ii, column := range p.ContinuousColumns {
		for row, value := range df.Col(column).Float() {
			if math.IsNaN(value) {
				return nil, modelerrors.Configurationf("continuous column %q has a non-numeric or missing value "+
					"in row %d", column, row)
			}
			if p.Scale {
				value = (value - p.means[ii]) / p.stds[ii]
			}
			rows[row][numCategorical+ii] = float32(value)
		}
	}
	return rows, nil
}

// FitTransform is Fit followed by Transform on the same DataFrame.
func (p *TabPreprocessor) FitTransform(df dataframe.DataFrame) ([][]float32, error) {
	if err := p.Fit(df); err != nil {
		return nil, err
	}
	return p.Transform(df)
}

// ColumnIndex returns the position of each column in the transformed matrix.
func (p *TabPreprocessor) ColumnIndex() columns.Index {
	return columns.MustNewIndex(append(slices.Clone(p.CategoricalColumns), p.ContinuousColumns...)...)
}

// Cardinality returns the number of categories of a categorical column seen in Fit.
func (p *TabPreprocessor) Cardinality(column string) (int, error) {
	if !p.fitted {
		return 0, modelerrors.Configurationf("TabPreprocessor not fitted")
	}
	idx := slices.Index(p.CategoricalColumns, column)
	if idx < 0 {
		return 0, modelerrors.UnknownColumnf("%q is not a categorical column", column)
	}
	return len(p.vocabularies[idx]), nil
}

// CategoricalSpecs returns the categorical columns with their cardinalities, for the TabTransformer.
// It returns nil if not fitted.
func (p *TabPreprocessor) CategoricalSpecs() []columns.CategoricalSpec {
	if !p.fitted {
		return nil
	}
	specs := make([]columns.CategoricalSpec, len(p.CategoricalColumns))
	for ii, column := range p.CategoricalColumns {
		specs[ii] = columns.CategoricalSpec{Column: column, Cardinality: len(p.vocabularies[ii])}
	}
	return specs
}

// EmbeddingSpecs returns the categorical columns with their cardinalities and embedding dimensions, for TabMlp.
// It returns nil if not fitted.
func (p *TabPreprocessor) EmbeddingSpecs() []columns.EmbeddingSpec {
	categorical := p.CategoricalSpecs()
	if categorical == nil {
		return nil
	}
	specs := make([]columns.EmbeddingSpec, len(categorical))
	for ii, spec := range categorical {
		dim, found := p.EmbeddingDims[spec.Column]
		if !found {
			dim = EmbeddingDimFor(spec.Cardinality)
		}
		specs[ii] = spec.WithDim(dim)
	}
	return specs
}

// WidePreprocessor converts a DataFrame to the input of the wide component: a matrix shaped
// [numRows, len(Columns)] of ids, one per (column, value) pair, in the range [1, WideDim()].
// Values not seen in Fit are mapped to 0.
type WidePreprocessor struct {
	Columns []string

	encodings []map[string]int32
	wideDim   int
}

// Fit assigns an id to every distinct (column, value) pair, following the column order and then the
// sorted order of the values.
func (p *WidePreprocessor) Fit(df dataframe.DataFrame) error {
	if len(p.Columns) == 0 {
		return modelerrors.Configurationf("WidePreprocessor has no columns configured")
	}
	if _, err := columns.NewIndex(p.Columns...); err != nil {
		return err
	}
	if err := checkColumns(df, p.Columns); err != nil {
		return err
	}
	p.encodings = make([]map[string]int32, len(p.Columns))
	nextID := int32(1)
	for ii, column := range p.Columns {
		values := buildVocabulary(df.Col(column))
		encoding := make(map[string]int32, len(values))
		for _, value := range values {
			encoding[value] = nextID
			nextID++
		}
		p.encodings[ii] = encoding
	}
	p.wideDim = int(nextID) - 1
	klog.V(2).Infof("WidePreprocessor: %d columns, wideDim=%d", len(p.Columns), p.wideDim)
	return nil
}

// Transform converts df to the wide ids.
func (p *WidePreprocessor) Transform(df dataframe.DataFrame) ([][]int32, error) {
	if p.encodings == nil {
		return nil, modelerrors.Configurationf("WidePreprocessor.Transform called before Fit")
	}
	if err := checkColumns(df, p.Columns); err != nil {
		return nil, err
	}
	numRows := df.Nrow()
	width := len(p.Columns)
	flat := make([]int32, numRows*width)
	rows := make([][]int32, numRows)
	for row := range rows {
		rows[row] = flat[row*width : (row+1)*width : (row+1)*width]
	}
	for colIdx, column := range p.Columns {
		encoding := p.encodings[colIdx]
		for row, value := range df.Col(column).Records() {
			rows[row][colIdx] = encoding[value]
		}
	}
	return rows, nil
}

// FitTransform is Fit followed by Transform on the same DataFrame.
func (p *WidePreprocessor) FitTransform(df dataframe.DataFrame) ([][]int32, error) {
	if err := p.Fit(df); err != nil {
		return nil, err
	}
	return p.Transform(df)
}

// WideDim returns the number of (column, value) ids, not counting the unseen id 0. It is 0 before Fit.
func (p *WidePreprocessor) WideDim() int { return p.wideDim }
