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
package phenotype_test

import (
	"context"
	"io/ioutil"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/grailbio/gwas/phenotype"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHeaders(t *testing.T) {
	h, err := phenotype.ClassifyHeaders("w", []string{"f.eid", "f.100.0.0", "f.100.1.0", "f.200.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "f.eid", h.IDHeader)
	require.Len(t, h.Columns, 2)
	assert.Equal(t, "100", h.Columns[0].FieldID)
	assert.Equal(t, "f.100.0.0", h.Columns[0].Header)
	assert.Equal(t, 1, h.Columns[0].Index)
	assert.Equal(t, "f.200.0.0", h.Columns[1].Header)
}

func TestClassifyHeadersRunningMinimum(t *testing.T) {
	tests := []struct {
		header []string
		want   string
	}{
		{[]string{"f.eid", "f.5.2.0", "f.5.1.1", "f.5.1.0"}, "f.5.1.0"},
		{[]string{"f.eid", "f.5.1.0", "f.6.0.0", "f.5.0.2"}, "f.5.0.2"},
		{[]string{"f.eid", "f.5.0.1", "f.5.3.0"}, "f.5.0.1"},
	}
	for _, test := range tests {
		h, err := phenotype.ClassifyHeaders("w", test.header)
		require.NoError(t, err)
		var got []string
		for _, c := range h.Columns {
			got = append(got, c.Header)
		}
		assert.Contains(t, got, test.want, "%v", test.header)
	}
}

func TestClassifyHeadersMissingID(t *testing.T) {
	_, err := phenotype.ClassifyHeaders("wide.txt", []string{"eid", "f.1.0.0"})
	assert.True(t, phenotype.IsMissingIdentifier(err), "err=%v", err)
}

func TestClean(t *testing.T) {
	vals, validity := phenotype.Clean([]string{"1", "-2.5", "+3", ".5", "", "NA", "abc", "1e3", "7.", "--1"})
	assert.InDelta(t, 0.5, validity, 1e-9)
	assert.Equal(t, []float64{1, -2.5, 3, 0.5}, vals[:4])
	assert.Equal(t, 7.0, vals[8])
	for _, i := range []int{4, 5, 6, 7, 9} {
		assert.True(t, math.IsNaN(vals[i]), "%d", i)
	}
	_, validity = phenotype.Clean(nil)
	assert.Equal(t, 0.0, validity)
}

func writeFam(t *testing.T, dir string) plink.Dataset {
	d := plink.Dataset{Prefix: filepath.Join(dir, "cohort")}
	require.NoError(t, plink.WriteFam(context.Background(), d, []plink.Sample{
		{FID: "F1", IID: "1", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
		{FID: "F2", IID: "2", Father: "0", Mother: "0", Sex: "2", Phenotype: "-9"},
		{FID: "F3", IID: "3", Father: "0", Mother: "0", Sex: "2", Phenotype: "-9"},
		{FID: "F4", IID: "4", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
	}))
	return d
}

func TestExtract(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	d := writeFam(t, tempDir)

	var wide string
	wide += "f.eid f.100.0.0 f.100.1.0 f.200.0.0 f.300.0.0 other\n"
	for _, row := range []string{
		"1 1.5 9 10 a x",
		"2 2.5 9 NA 1 x",
		"3 3.5 9 12 b x",
		"5 4.5 9 13 c x",
		"6 5.5 9 14 d x",
		"7 6.5 9 15 e x",
		"8 7.5 9 16 f x",
		"9 8.5 9 17 g x",
		"10 9.5 9 18 h x",
		"11 10.5 9 19 i x",
	} {
		wide += row + "\n"
	}
	widePath := filepath.Join(tempDir, "wide.txt")
	require.NoError(t, ioutil.WriteFile(widePath, []byte(wide), 0644))

	e := &phenotype.Extractor{Parallelism: 2}
	fields, err := e.Extract(ctx, d, widePath, filepath.Join(tempDir, "cohort"))
	require.NoError(t, err)
	// f.200 has 90% valid values and is accepted; f.300 has 10% and is not.
	require.Len(t, fields, 2)
	assert.Equal(t, "f.100.0.0", fields[0].Label())
	assert.Equal(t, filepath.Join(tempDir, "cohort_f.100.0.0.txt"), fields[0].Path)
	assert.Equal(t, 3, fields[0].Rows)
	assert.Equal(t, 1.0, fields[0].Validity)
	assert.Equal(t, "f.200.0.0", fields[1].Label())
	assert.InDelta(t, 0.9, fields[1].Validity, 1e-9)

	label, rows, err := phenotype.ReadNarrow(ctx, fields[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "f.200.0.0", label)
	// Individual 2 has NA, 4 is absent from the wide table.
	assert.Equal(t, []phenotype.Row{{FID: "F1", IID: "1", Value: 10}, {FID: "F3", IID: "3", Value: 12}}, rows)
}

func TestExtractMissingID(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	d := writeFam(t, tempDir)
	widePath := filepath.Join(tempDir, "wide.csv")
	require.NoError(t, ioutil.WriteFile(widePath, []byte("id,f.1.0.0\n1,2\n"), 0644))
	_, err := (&phenotype.Extractor{}).Extract(context.Background(), d, widePath, filepath.Join(tempDir, "x"))
	assert.True(t, phenotype.IsMissingIdentifier(err), "err=%v", err)
}

func TestNarrowRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	rows := []phenotype.Row{
		{FID: "F2", IID: "2", Value: -0.125},
		{FID: "F1", IID: "1", Value: 1234567.5},
		{FID: "F3", IID: "3", Value: 0},
	}
	path := filepath.Join(tempDir, "p_f.1.0.0.txt")
	require.NoError(t, phenotype.WriteNarrow(ctx, path, "f.1.0.0", rows))
	label, got, err := phenotype.ReadNarrow(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "f.1.0.0", label)
	sortRows := func(r []phenotype.Row) {
		sort.Slice(r, func(i, j int) bool { return r[i].IID < r[j].IID })
	}
	sortRows(rows)
	sortRows(got)
	assert.Equal(t, rows, got)
}
