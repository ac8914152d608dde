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
package summary

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// DefaultAlpha is the family-wise significance level.
const DefaultAlpha = 0.05

// Options configures Summarize.
type Options struct {
	// Prefix of every report path.
	Prefix string
	// Factor is the multiple-testing correction factor, e.g. the number of
	// independent variants.
	Factor float64
	Alpha  float64
}

// Report is a written report file.
type Report struct {
	Path string
	Rows int
}

// Summarize merges every input and writes, for the corrected (Prefix) and
// uncorrected (Prefix-uncorrected) modes:
//
//   <prefix>-q.tsv                      all records
//   <prefix>-q-significant.tsv          significant records
//   <prefix>-qt_means.tsv               means rows, if any input has them
//   <prefix>-qt_means-significant.tsv   means rows of significant variants
//
// Records are concatenated in input order. All inputs must merge to the
// same shape; a mismatch fails with a ShapeError and nothing is written.
func Summarize(ctx context.Context, inputs []Input, opts Options) ([]Report, error) {
	merged := make([]*Merged, len(inputs))
	for i, in := range inputs {
		m, err := Merge(ctx, in, opts.Factor)
		if err != nil {
			return nil, err
		}
		if i > 0 && m.Shape != merged[0].Shape {
			return nil, &ShapeError{Path: in.Primary, Want: merged[0].Columns, Got: m.Columns}
		}
		merged[i] = m
	}
	alpha := opts.Alpha
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	var reports []Report
	for _, mode := range []struct {
		prefix string
		factor float64
	}{{opts.Prefix, opts.Factor}, {opts.Prefix + "-uncorrected", 1}} {
		for _, m := range merged {
			m.Correct(mode.factor)
		}
		r, err := writeReports(ctx, mode.prefix, merged, alpha)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r...)
	}
	return reports, nil
}

func writeReports(ctx context.Context, prefix string, merged []*Merged, alpha float64) ([]Report, error) {
	shape := PrimaryOnly
	if len(merged) > 0 {
		shape = merged[0].Shape
	}
	var (
		all, sig        [][]string
		means, sigMeans [][]string
	)
	for _, m := range merged {
		sigKeys := map[key]bool{}
		for i := range m.Records {
			r := &m.Records[i]
			c := r.cells(shape)
			all = append(all, c)
			if r.Significant(shape, alpha) {
				sig = append(sig, c)
				sigKeys[key{r.CHR, r.SNP}] = true
			}
		}
		for _, r := range m.Means {
			c := []string{r.CHR, r.SNP, r.Value, r.G11, r.G12, r.G22, m.Input.Gender, m.Input.Ethnic, m.Input.Phenotype}
			means = append(means, c)
			if sigKeys[key{r.CHR, r.SNP}] {
				sigMeans = append(sigMeans, c)
			}
		}
	}
	reports := []Report{
		{prefix + "-q.tsv", len(all)},
		{prefix + "-q-significant.tsv", len(sig)},
	}
	tables := [][][]string{all, sig}
	headers := [][]string{shape.Columns(), shape.Columns()}
	if shape.HasMeans() {
		meansCols := append(append([]string{}, meansHeader...), "gender", "ethnic", "phenotype")
		reports = append(reports,
			Report{prefix + "-qt_means.tsv", len(means)},
			Report{prefix + "-qt_means-significant.tsv", len(sigMeans)})
		tables = append(tables, means, sigMeans)
		headers = append(headers, meansCols, meansCols)
	}
	for i, r := range reports {
		if err := writeTable(ctx, r.Path, headers[i], tables[i]); err != nil {
			return nil, err
		}
		log.Printf("%s: %d rows", r.Path, r.Rows)
	}
	return reports, nil
}

func writeTable(ctx context.Context, path string, header []string, rows [][]string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	for _, row := range append([][]string{header}, rows...) {
		for _, c := range row {
			w.WriteString(c)
		}
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
