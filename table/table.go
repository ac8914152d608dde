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

// Package table reads the header-bearing tables that describe individuals:
// reference codings, per-individual info tables and wide phenotype tables.
// The reader is chosen by file extension:
//
//   .csv           comma separated
//   .tsv, .tab     tab separated
//   .txt           separated by runs of whitespace
//   .xlsx          first sheet of a spreadsheet
//
// A trailing .gz on any delimited format is decompressed transparently.
// Every other extension fails with errors.NotSupported.
package table

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"
)

// Format identifies a table encoding.
type Format int

const (
	// Unknown is returned for unrecognized extensions.
	Unknown Format = iota
	// CSV is comma separated text.
	CSV
	// TSV is tab separated text.
	TSV
	// Whitespace is text separated by runs of blanks.
	Whitespace
	// XLSX is an Office Open XML spreadsheet.
	XLSX
)

// DetectFormat guesses the format of path from its extension. The second
// result reports a trailing .gz.
func DetectFormat(path string) (Format, bool) {
	lower := strings.ToLower(path)
	gz := strings.HasSuffix(lower, ".gz")
	lower = strings.TrimSuffix(lower, ".gz")
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return CSV, gz
	case strings.HasSuffix(lower, ".tsv"), strings.HasSuffix(lower, ".tab"):
		return TSV, gz
	case strings.HasSuffix(lower, ".txt"):
		return Whitespace, gz
	case strings.HasSuffix(lower, ".xlsx") && !gz:
		return XLSX, false
	}
	return Unknown, gz
}

// IsUnsupportedFormat reports whether err was caused by an unrecognized table
// extension.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(errors.NotSupported, err)
}

// Reader streams the rows of a table. The first row is the header.
type Reader struct {
	Path   string
	header []string
	next   func() ([]string, error)
	close  func() error
}

// Header returns the column names, with surrounding blanks removed.
func (r *Reader) Header() []string { return r.header }

// Read returns the next data row, or io.EOF. Rows are padded with empty
// cells to the width of the header. The returned slice is owned by the
// caller.
func (r *Reader) Read() ([]string, error) {
	for {
		row, err := r.next()
		if err != nil {
			return nil, err
		}
		if isBlank(row) {
			continue
		}
		for len(row) < len(r.header) {
			row = append(row, "")
		}
		return row, nil
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.close() }

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// Open opens the table at path and reads its header row.
func Open(ctx context.Context, path string) (*Reader, error) {
	format, gz := DetectFormat(path)
	if format == Unknown {
		return nil, errors.E(errors.NotSupported, fmt.Sprintf("unsupported table format: %s", path))
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &Reader{Path: path, close: func() error { return in.Close(ctx) }}
	var src io.Reader = in.Reader(ctx)
	if gz {
		zr, err := gzip.NewReader(src)
		if err != nil {
			_ = in.Close(ctx)
			return nil, errors.E(errors.Invalid, fmt.Sprintf("open %s", path), err)
		}
		src = zr
		r.close = func() error {
			err := zr.Close()
			if e := in.Close(ctx); e != nil && err == nil {
				err = e
			}
			return err
		}
	}
	switch format {
	case CSV:
		cr := csv.NewReader(src)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		r.next = func() ([]string, error) {
			row, err := cr.Read()
			return trimAll(row), err
		}
	case TSV:
		tr := tsv.NewReader(src)
		tr.FieldsPerRecord = -1
		tr.LazyQuotes = true
		r.next = func() ([]string, error) {
			row, err := tr.Reader.Read()
			return trimAll(row), err
		}
	case Whitespace:
		sc := bufio.NewScanner(src)
		sc.Buffer(make([]byte, 1<<20), 1<<30)
		r.next = func() ([]string, error) {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			return strings.Fields(sc.Text()), nil
		}
	case XLSX:
		rows, err := readSheet(src)
		if err != nil {
			_ = r.close()
			return nil, errors.E(errors.Invalid, fmt.Sprintf("read spreadsheet %s", path), err)
		}
		r.next = func() ([]string, error) {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			row := trimAll(rows[0])
			rows = rows[1:]
			return row, nil
		}
	}
	header, err := r.next()
	for err == nil && isBlank(header) {
		header, err = r.next()
	}
	if err != nil {
		_ = r.close()
		if err == io.EOF {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: empty table", path))
		}
		return nil, errors.E(fmt.Sprintf("read header of %s", path), err)
	}
	r.header = header
	return r, nil
}

func readSheet(src io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	return f.GetRows(sheets[0])
}

// Table is a fully materialized table.
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
}

// ReadAll reads the whole table at path into memory.
func ReadAll(ctx context.Context, path string) (*Table, error) {
	r, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	t := &Table{Path: path, Header: r.Header()}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = r.Close()
			return nil, errors.E(fmt.Sprintf("read %s", path), err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, r.Close()
}

// Column returns the values of column i.
func (t *Table) Column(i int) []string {
	col := make([]string, len(t.Rows))
	for j, row := range t.Rows {
		col[j] = row[i]
	}
	return col
}
