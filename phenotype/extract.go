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
package phenotype

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/table"
	"golang.org/x/sync/errgroup"
)

// DefaultMinValidity is the smallest fraction of parseable values for a
// column to be considered a phenotype.
const DefaultMinValidity = 0.9

// Field is an accepted phenotype written to a narrow table.
type Field struct {
	Column
	// Path is the narrow table: FID, IID and the value, tab separated with
	// a header.
	Path string
	// Rows is the number of individuals written.
	Rows int
}

// Label returns the wide-table header the field was taken from.
func (f Field) Label() string { return f.Header }

// Extractor selects, validates and writes phenotype columns.
type Extractor struct {
	// MinValidity defaults to DefaultMinValidity.
	MinValidity float64
	// Parallelism bounds concurrent narrow-table writes. Values <= 0 mean one.
	Parallelism int
}

// Row is one line of a narrow table.
type Row struct {
	FID, IID string
	Value    float64
}

// Extract reads the wide table at widePath and writes one narrow table
// <outPrefix>_<header>.txt per accepted field, restricted to the samples of
// d. Columns with validity below the threshold are skipped and logged. A
// table without an identifier column fails with a MissingIdentifierError.
func (e *Extractor) Extract(ctx context.Context, d plink.Dataset, widePath, outPrefix string) ([]Field, error) {
	wide, err := table.ReadAll(ctx, widePath)
	if err != nil {
		return nil, err
	}
	headers, err := ClassifyHeaders(widePath, wide.Header)
	if err != nil {
		return nil, err
	}
	samples, err := plink.ReadFam(ctx, d)
	if err != nil {
		return nil, err
	}
	log.Printf("%s: %d candidate phenotype fields, id column %s", widePath, len(headers.Columns), headers.IDHeader)
	minValidity := e.MinValidity
	if minValidity <= 0 {
		minValidity = DefaultMinValidity
	}
	ids := wide.Column(headers.IDIndex)

	var (
		accepted []Field
		rows     [][]Row
	)
	for _, c := range headers.Columns {
		vals, validity := Clean(wide.Column(c.Index))
		c.Validity = validity
		if validity < minValidity {
			log.Printf("%s: skipping %s, only %.1f%% of values are numbers", widePath, c.Header, 100*validity)
			continue
		}
		r := join(samples, ids, vals)
		accepted = append(accepted, Field{Column: c, Path: fmt.Sprintf("%s_%s.txt", outPrefix, c.Header), Rows: len(r)})
		rows = append(rows, r)
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range accepted {
		i := i
		g.Go(func() error {
			return WriteNarrow(gctx, accepted[i].Path, accepted[i].Header, rows[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Printf("%s: accepted %d of %d phenotype fields", widePath, len(accepted), len(headers.Columns))
	return accepted, nil
}

// join keeps the samples with a non-null value, in manifest order. The first
// row of an individual in the wide table wins.
func join(samples []plink.Sample, ids []string, vals []float64) []Row {
	byID := make(map[string]float64, len(ids))
	for i, id := range ids {
		if _, dup := byID[id]; !dup {
			byID[id] = vals[i]
		}
	}
	var rows []Row
	for _, s := range samples {
		if v, ok := byID[s.IID]; ok && !math.IsNaN(v) {
			rows = append(rows, Row{FID: s.FID, IID: s.IID, Value: v})
		}
	}
	return rows
}

// WriteNarrow writes rows to path under the header FID, IID, label.
func WriteNarrow(ctx context.Context, path, label string, rows []Row) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("FID")
	w.WriteString("IID")
	w.WriteString(label)
	if err = w.EndLine(); err != nil {
		return err
	}
	for _, r := range rows {
		w.WriteString(r.FID)
		w.WriteString(r.IID)
		w.WriteString(strconv.FormatFloat(r.Value, 'f', -1, 64))
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadNarrow reads a table written by WriteNarrow. It returns the value
// label and the rows.
func ReadNarrow(ctx context.Context, path string) (string, []Row, error) {
	r, err := table.Open(ctx, path)
	if err != nil {
		return "", nil, err
	}
	defer r.Close() // nolint: errcheck
	header := r.Header()
	if len(header) != 3 || header[0] != "FID" || header[1] != "IID" {
		return "", nil, errors.E(errors.Invalid, fmt.Sprintf("%s: not a phenotype table, header %v", path, header))
	}
	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		v, ok := ParseValue(rec[2])
		if !ok {
			return "", nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: bad value %q", path, line, rec[2]))
		}
		rows = append(rows, Row{FID: rec[0], IID: rec[1], Value: v})
	}
	return header[2], rows, nil
}
