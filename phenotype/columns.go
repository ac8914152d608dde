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

// Package phenotype turns a wide phenotype table, one identifier column plus
// any number of f.<field>.<instance>.<array> columns, into validated narrow
// per-field tables that the association test can consume.
package phenotype

import (
	goerrors "errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

var (
	fieldPattern = regexp.MustCompile(`^f\.(\d+)\.(\d+)\.(\d+)$`)
	idPattern    = regexp.MustCompile(`^f\.eid`)
	// Signed decimal numbers; exponents, infinities and NaN are not values.
	decimalPattern = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)$`)
)

// Column is a candidate phenotype column of a wide table.
type Column struct {
	FieldID  string
	Instance int
	Array    int
	Header   string
	// Index is the position of the column in the wide table.
	Index int
	// Validity is the fraction of parseable values, set by Clean.
	Validity float64
}

func (c Column) atMost(o Column) bool {
	return c.Instance < o.Instance || (c.Instance == o.Instance && c.Array <= o.Array)
}

// Headers is the classification of a wide table header.
type Headers struct {
	IDHeader string
	IDIndex  int
	// Columns holds one column per field id, in order of first appearance.
	Columns []Column
}

// MissingIdentifierError reports a wide table without an individual id
// column.
type MissingIdentifierError struct {
	Table string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("%s: no column matches %q", e.Table, idPattern.String())
}

// IsMissingIdentifier reports whether err is a MissingIdentifierError.
func IsMissingIdentifier(err error) bool {
	var e *MissingIdentifierError
	return goerrors.As(err, &e)
}

// ClassifyHeaders finds the identifier column and one canonical column per
// field id. Headers are scanned once, left to right: a field's first header
// is retained, and a later header replaces it when its (instance, array)
// pair is equal or smaller. The first identifier column wins.
func ClassifyHeaders(tableName string, header []string) (Headers, error) {
	h := Headers{IDIndex: -1}
	byField := map[string]int{}
	for i, name := range header {
		if m := fieldPattern.FindStringSubmatch(name); m != nil {
			inst, err1 := strconv.Atoi(m[2])
			arr, err2 := strconv.Atoi(m[3])
			if err1 != nil || err2 != nil {
				continue
			}
			c := Column{FieldID: m[1], Instance: inst, Array: arr, Header: name, Index: i}
			j, ok := byField[c.FieldID]
			switch {
			case !ok:
				byField[c.FieldID] = len(h.Columns)
				h.Columns = append(h.Columns, c)
			case c.atMost(h.Columns[j]):
				h.Columns[j] = c
			}
			continue
		}
		if h.IDIndex < 0 && idPattern.MatchString(name) {
			h.IDHeader, h.IDIndex = name, i
		}
	}
	if h.IDIndex < 0 {
		return Headers{}, &MissingIdentifierError{Table: tableName}
	}
	return h, nil
}

// ParseValue parses a signed decimal phenotype value. Anything else,
// including blanks and "NA", is a null.
func ParseValue(s string) (float64, bool) {
	if !decimalPattern.MatchString(s) {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// Clean parses raw values; nulls are NaN. It returns the parsed values and
// the fraction of non-null ones. An empty column has validity 0.
func Clean(raw []string) ([]float64, float64) {
	vals := make([]float64, len(raw))
	for i, s := range raw {
		vals[i], _ = ParseValue(s)
	}
	if len(vals) == 0 {
		return vals, 0
	}
	nulls := floats.Count(math.IsNaN, vals)
	return vals, float64(len(vals)-nulls) / float64(len(vals))
}
