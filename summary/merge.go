// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package summary merges the statistics files of association tests into
// combined, multiple-testing corrected reports.
package summary

import (
	"context"
	goerrors "errors"
	"fmt"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Input names the statistics files of one association test and the segment
// and phenotype it was run on. Perm and Means are optional.
type Input struct {
	Gender    string `tsv:"gender"`
	Ethnic    string `tsv:"ethnic"`
	Phenotype string `tsv:"phenotype"`
	Primary   string `tsv:"primary"`
	Perm      string `tsv:"perm"`
	Means     string `tsv:"means"`
}

func (in Input) String() string {
	return fmt.Sprintf("%s/%s/%s", in.Gender, in.Ethnic, in.Phenotype)
}

// Shape is the column layout of merged records.
type Shape int

const (
	// PrimaryOnly has no companion columns.
	PrimaryOnly Shape = iota
	// WithPerm adds permutation p-values.
	WithPerm
	// WithMeans adds genotype group means.
	WithMeans
	// WithPermMeans adds both.
	WithPermMeans
)

// ShapeOf returns the shape that merging in must produce.
func ShapeOf(in Input) Shape {
	switch {
	case in.Perm != "" && in.Means != "":
		return WithPermMeans
	case in.Perm != "":
		return WithPerm
	case in.Means != "":
		return WithMeans
	}
	return PrimaryOnly
}

// HasPerm reports whether s carries permutation p-values.
func (s Shape) HasPerm() bool { return s == WithPerm || s == WithPermMeans }

// HasMeans reports whether s carries genotype group means.
func (s Shape) HasMeans() bool { return s == WithMeans || s == WithPermMeans }

// Columns returns the report header of s.
func (s Shape) Columns() []string {
	cols := append(append([]string{}, qassocHeader...), "P'")
	if s.HasPerm() {
		cols = append(cols, "PERM_P_1", "PERM_P_2")
	}
	cols = append(cols, "gender", "ethnic", "phenotype")
	if s.HasMeans() {
		cols = append(cols, "G11", "G12", "G22")
	}
	return cols
}

// Record is a merged association result for one variant.
type Record struct {
	CHR, SNP                  string
	BP, NMISS                 int64
	Beta, SE, R2, T           float64
	P, PCorrected             float64
	Perm1, Perm2              float64
	Gender, Ethnic, Phenotype string
	G11, G12, G22             string
}

// Significant reports whether r passes at alpha: the family-wise
// permutation p-value when s has one, the corrected p-value otherwise.
func (r *Record) Significant(s Shape, alpha float64) bool {
	if s.HasPerm() {
		return r.Perm2 < alpha
	}
	return r.PCorrected < alpha
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatInt(v int64) string {
	if v < 0 {
		return "NA"
	}
	return strconv.FormatInt(v, 10)
}

func (r *Record) cells(s Shape) []string {
	c := []string{r.CHR, r.SNP, formatInt(r.BP), formatInt(r.NMISS),
		formatFloat(r.Beta), formatFloat(r.SE), formatFloat(r.R2), formatFloat(r.T),
		formatFloat(r.P), formatFloat(r.PCorrected)}
	if s.HasPerm() {
		c = append(c, formatFloat(r.Perm1), formatFloat(r.Perm2))
	}
	c = append(c, r.Gender, r.Ethnic, r.Phenotype)
	if s.HasMeans() {
		c = append(c, r.G11, r.G12, r.G22)
	}
	return c
}

// Merged holds the records of one association test.
type Merged struct {
	Input   Input
	Shape   Shape
	Columns []string
	Records []Record
	// Means holds every row of the means file, not only MEAN rows.
	Means []MeansRow
}

// IsShapeMismatch reports whether err is a ShapeError.
func IsShapeMismatch(err error) bool {
	var e *ShapeError
	return goerrors.As(err, &e)
}

// Merge reads the files of in and joins primary records with permutation
// p-values and MEAN rows of the means file on (CHR, SNP). Records missing
// from a supplied companion file are dropped. PCorrected is P * factor.
func Merge(ctx context.Context, in Input, factor float64) (*Merged, error) {
	assoc, err := readAssoc(ctx, in.Primary)
	if err != nil {
		return nil, err
	}
	m := &Merged{Input: in, Shape: ShapeOf(in)}
	cols := append(append([]string{}, qassocHeader...), "P'")

	var perm map[key][2]float64
	if in.Perm != "" {
		if perm, err = readPerm(ctx, in.Perm); err != nil {
			return nil, err
		}
		cols = append(cols, "PERM_P_1", "PERM_P_2")
	}
	cols = append(cols, "gender", "ethnic", "phenotype")
	var means map[key]MeansRow
	if in.Means != "" {
		if m.Means, err = readMeans(ctx, in.Means); err != nil {
			return nil, err
		}
		means = map[key]MeansRow{}
		for _, r := range m.Means {
			if r.Value == "MEAN" {
				means[key{r.CHR, r.SNP}] = r
			}
		}
		if len(means) == 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: no MEAN rows", in.Means))
		}
		cols = append(cols, "G11", "G12", "G22")
	}
	if want := m.Shape.Columns(); !equal(cols, want) {
		return nil, &ShapeError{Path: in.Primary, Want: want, Got: cols}
	}
	m.Columns = cols

	m.Records = make([]Record, 0, len(assoc))
	for _, a := range assoc {
		k := key{a.chr, a.snp}
		r := Record{
			CHR: a.chr, SNP: a.snp, BP: a.bp, NMISS: a.nmiss,
			Beta: a.beta, SE: a.se, R2: a.r2, T: a.t,
			P: a.p, PCorrected: a.p * factor,
			Perm1: math.NaN(), Perm2: math.NaN(),
			Gender: in.Gender, Ethnic: in.Ethnic, Phenotype: in.Phenotype,
		}
		if perm != nil {
			p, ok := perm[k]
			if !ok {
				continue
			}
			r.Perm1, r.Perm2 = p[0], p[1]
		}
		if means != nil {
			g, ok := means[k]
			if !ok {
				continue
			}
			r.G11, r.G12, r.G22 = g.G11, g.G12, g.G22
		}
		m.Records = append(m.Records, r)
	}
	if n := len(assoc) - len(m.Records); n > 0 {
		log.Printf("%s: %d of %d variants missing from companion files", in, n, len(assoc))
	}
	return m, nil
}

// Correct recomputes PCorrected with factor.
func (m *Merged) Correct(factor float64) {
	for i := range m.Records {
		m.Records[i].PCorrected = m.Records[i].P * factor
	}
}
