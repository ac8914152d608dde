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
	"bufio"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

var (
	qassocHeader = []string{"CHR", "SNP", "BP", "NMISS", "BETA", "SE", "R2", "T", "P"}
	mpermHeader  = []string{"CHR", "SNP", "EMP1", "EMP2"}
	meansHeader  = []string{"CHR", "SNP", "VALUE", "G11", "G12", "G22"}
)

// key identifies a variant across the statistics files of one test.
type key struct{ chr, snp string }

// assocRow is a line of a primary (.qassoc) file.
type assocRow struct {
	chr, snp  string
	bp, nmiss int64
	beta, se  float64
	r2, t, p  float64
}

// MeansRow is a line of a per-genotype means (.qassoc.means) file.
type MeansRow struct {
	CHR, SNP, Value string
	G11, G12, G22   string
}

// readFields reads a whitespace-padded engine output file. Runs of blanks
// separate fields. The header must be exactly want and every row must have
// len(want) fields; anything else is a ShapeError.
func readFields(ctx context.Context, path string, want []string) (rows [][]string, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := bufio.NewScanner(in.Reader(ctx))
	sc.Buffer(make([]byte, 1<<16), 1<<24)
	line, header := 0, false
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if !header {
			header = true
			if !equal(fields, want) {
				return nil, &ShapeError{Path: path, Want: want, Got: fields}
			}
			continue
		}
		if len(fields) != len(want) {
			return nil, &ShapeError{Path: path, Line: line, Want: want, Got: fields}
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s:%d", path, line)
	}
	if !header {
		return nil, &ShapeError{Path: path, Want: want}
	}
	return rows, nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// parseFloat accepts the engine's "NA" as NaN.
func parseFloat(s string) (float64, error) {
	if s == "NA" || s == "nan" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int64, error) {
	if s == "NA" {
		return -1, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func readAssoc(ctx context.Context, path string) ([]assocRow, error) {
	rows, err := readFields(ctx, path, qassocHeader)
	if err != nil {
		return nil, err
	}
	out := make([]assocRow, len(rows))
	for i, f := range rows {
		r := assocRow{chr: f[0], snp: f[1]}
		var errs [7]error
		r.bp, errs[0] = parseInt(f[2])
		r.nmiss, errs[1] = parseInt(f[3])
		r.beta, errs[2] = parseFloat(f[4])
		r.se, errs[3] = parseFloat(f[5])
		r.r2, errs[4] = parseFloat(f[6])
		r.t, errs[5] = parseFloat(f[7])
		r.p, errs[6] = parseFloat(f[8])
		for _, err := range errs {
			if err != nil {
				return nil, errors.Wrapf(err, "%s: record %d", path, i+1)
			}
		}
		out[i] = r
	}
	return out, nil
}

// readPerm returns EMP1 and EMP2 by variant.
func readPerm(ctx context.Context, path string) (map[key][2]float64, error) {
	rows, err := readFields(ctx, path, mpermHeader)
	if err != nil {
		return nil, err
	}
	perm := make(map[key][2]float64, len(rows))
	for i, f := range rows {
		emp1, err := parseFloat(f[2])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: record %d", path, i+1)
		}
		emp2, err := parseFloat(f[3])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: record %d", path, i+1)
		}
		perm[key{f[0], f[1]}] = [2]float64{emp1, emp2}
	}
	return perm, nil
}

func readMeans(ctx context.Context, path string) ([]MeansRow, error) {
	rows, err := readFields(ctx, path, meansHeader)
	if err != nil {
		return nil, err
	}
	out := make([]MeansRow, len(rows))
	for i, f := range rows {
		out[i] = MeansRow{CHR: f[0], SNP: f[1], Value: f[2], G11: f[3], G12: f[4], G22: f[5]}
	}
	return out, nil
}

// ShapeError reports statistics that do not have the expected columns.
type ShapeError struct {
	Path string
	// Line is 0 for a header mismatch.
	Line int
	Want []string
	Got  []string
}

func (e *ShapeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: expected %d fields %v, got %v", e.Path, e.Line, len(e.Want), e.Want, e.Got)
	}
	return fmt.Sprintf("%s: expected columns %v, got %v", e.Path, e.Want, e.Got)
}
