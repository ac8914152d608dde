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
package plink

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFam(t *testing.T) {
	samples, err := parseFam(strings.NewReader("F1 I1 0 0 1 -9\n\nF2\tI2\n"), "x.fam")
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{FID: "F1", IID: "I1", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
		{FID: "F2", IID: "I2", Father: "0", Mother: "0", Sex: "0", Phenotype: "-9"},
	}, samples)

	_, err = parseFam(strings.NewReader("lonely\n"), "x.fam")
	assert.True(t, errors.Is(errors.Invalid, err), "err=%v", err)
}

func TestDatasetRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	d := Dataset{Prefix: filepath.Join(tempDir, "ds")}
	assert.Error(t, d.Validate(ctx))

	samples := []Sample{
		{FID: "F1", IID: "I1", Father: "0", Mother: "0", Sex: "2", Phenotype: "-9"},
		{FID: "F2", IID: "I2", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
	}
	variants := []Variant{
		{Chr: "1", ID: "rs1", CM: "0", BP: "100", Allele: [2]string{"A", "G"}},
		{Chr: "2", ID: "rs2", CM: "0", BP: "200", Allele: [2]string{"C", "T"}},
	}
	require.NoError(t, WriteFam(ctx, d, samples))
	require.NoError(t, WriteBim(ctx, d, variants))
	require.NoError(t, ioutil.WriteFile(d.Bed(), []byte("bed"), 0644))
	require.NoError(t, d.Validate(ctx))

	gotSamples, err := ReadFam(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, samples, gotSamples)
	gotVariants, err := ReadBim(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, variants, gotVariants)
	n, err := CountVariants(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSideFiles(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	keepPath := filepath.Join(tempDir, "keep.txt")
	require.NoError(t, WriteKeepList(ctx, keepPath, []Sample{{FID: "F1", IID: "I1"}, {FID: "F2", IID: "I2"}}))
	data, err := ioutil.ReadFile(keepPath)
	require.NoError(t, err)
	assert.Equal(t, "FID\tIID\nF1\tI1\nF2\tI2\n", string(data))
	keep, err := ReadKeepList(ctx, keepPath)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{FID: "F1", IID: "I1"}, {FID: "F2", IID: "I2"}}, keep)

	sexPath := filepath.Join(tempDir, "sex.txt")
	updates := []SexUpdate{{FID: "F1", IID: "I1", Code: SexMale}, {FID: "F2", IID: "I2", Code: SexFemale}}
	require.NoError(t, WriteSexUpdates(ctx, sexPath, updates))
	got, err := ReadSexUpdates(ctx, sexPath)
	require.NoError(t, err)
	assert.Equal(t, updates, got)
}

func TestFakeEngineMAFExhausted(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	in := Dataset{Prefix: filepath.Join(tempDir, "in")}
	require.NoError(t, WriteFam(ctx, in, []Sample{{FID: "F", IID: "I", Father: "0", Mother: "0", Sex: "0", Phenotype: "-9"}}))
	require.NoError(t, WriteBim(ctx, in, []Variant{{Chr: "1", ID: FakeRarePrefix + "1", CM: "0", BP: "1", Allele: [2]string{"A", "C"}}}))
	require.NoError(t, ioutil.WriteFile(in.Bed(), nil, 0644))

	e := &FakeEngine{}
	_, err := MAF(in, Dataset{Prefix: filepath.Join(tempDir, "out")}, 0.01).Run(ctx, e)
	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, ExitNoVariants, code)
	assert.Len(t, e.Calls(), 1)
}
