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
package assoc_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/gwas/assoc"
	"github.com/grailbio/gwas/phenotype"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/segment"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSegment(t *testing.T, dir, eth string, ids ...string) segment.Segment {
	ctx := context.Background()
	d := plink.Dataset{Prefix: filepath.Join(dir, "in-"+eth)}
	require.NoError(t, plink.WriteFam(ctx, d, []plink.Sample{
		{FID: "f1", IID: "i1", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
	}))
	var variants []plink.Variant
	for i, id := range ids {
		variants = append(variants, plink.Variant{Chr: "1", ID: id, CM: "0", BP: fmt.Sprint(i + 1), Allele: [2]string{"A", "C"}})
	}
	require.NoError(t, plink.WriteBim(ctx, d, variants))
	require.NoError(t, ioutil.WriteFile(d.Bed(), []byte("bed"), 0644))
	return segment.New(d).WithTag(segment.Ethnic, eth)
}

func TestRun(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	segs := []segment.Segment{
		newSegment(t, tempDir, "A", "rs1", "rs2"),
		newSegment(t, tempDir, "B", "rs1").WithTag(segment.Gender, "male"),
	}
	fields := []phenotype.Field{
		{Column: phenotype.Column{FieldID: "1", Header: "f.1.0.0"}, Path: filepath.Join(tempDir, "p_f.1.0.0.txt")},
		{Column: phenotype.Column{FieldID: "2", Header: "f.2.0.0"}, Path: filepath.Join(tempDir, "p_f.2.0.0.txt")},
	}
	engine := &plink.FakeEngine{Fail: func(args []string) error {
		if strings.Contains(args[1], "in-B") && args[3] == fields[1].Path {
			return &plink.ExitError{Args: args, Code: 1}
		}
		return nil
	}}
	r := &assoc.Runner{Engine: engine, Dir: tempDir, Parallelism: 2, Mperm: 100}
	inputs := r.Run(context.Background(), assoc.Tests(segs, fields))
	require.Len(t, inputs, 3)
	var got []string
	for _, in := range inputs {
		got = append(got, in.Gender+"/"+in.Ethnic+"/"+in.Phenotype)
		assert.True(t, strings.HasSuffix(in.Primary, ".qassoc"), in.Primary)
		assert.Equal(t, in.Primary+".mperm", in.Perm)
		assert.Equal(t, in.Primary+".means", in.Means)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"both/A/f.1.0.0", "both/A/f.2.0.0", "male/B/f.1.0.0"}, got)

	r.Mperm = 0
	inputs = r.Run(context.Background(), assoc.Tests(segs[:1], fields[:1]))
	require.Len(t, inputs, 1)
	assert.Empty(t, inputs[0].Perm)
}

func TestCorrectionFactor(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	segs := []segment.Segment{
		newSegment(t, tempDir, "A", "rs1", "ld1", "ld2", "rs2"),
		newSegment(t, tempDir, "B", "rs1", "rs2", "rs3"),
	}
	e := &plink.FakeEngine{}
	n, err := assoc.CorrectionFactor(ctx, e, tempDir, segs, false, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = assoc.CorrectionFactor(ctx, e, tempDir, segs, true, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = assoc.CorrectionFactor(ctx, e, tempDir, nil, false, 1)
	assert.Error(t, err)
}
