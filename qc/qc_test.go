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
package qc_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/qc"
	"github.com/grailbio/gwas/segment"
	"github.com/grailbio/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurvivors(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	var (
		running, peak int32
		mu            sync.Mutex
		dropped       []int
	)
	got := qc.Survivors(context.Background(), items, 4,
		func(_ context.Context, i int) (string, error) {
			n := atomic.AddInt32(&running, 1)
			defer atomic.AddInt32(&running, -1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			if i%7 == 0 {
				return "", errors.E(errors.Invalid, "fail")
			}
			return fmt.Sprint(i), nil
		},
		func(i int, err error) {
			mu.Lock()
			dropped = append(dropped, i)
			mu.Unlock()
		})

	// 0, 7, ..., 98 fail.
	assert.Len(t, got, 100-15)
	seen := map[string]bool{}
	for _, s := range got {
		assert.False(t, seen[s], s)
		seen[s] = true
	}
	assert.Equal(t, "1", got[0])
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Len(t, dropped, 15)
}

func TestSurvivorsEmpty(t *testing.T) {
	got := qc.Survivors(context.Background(), nil, 0,
		func(context.Context, int) (int, error) { return 0, nil }, nil)
	assert.Empty(t, got)
}

// newSegment writes a segment with two samples and the given variant ids.
func newSegment(t *testing.T, dir, label string, ids ...string) segment.Segment {
	ctx := context.Background()
	d := plink.Dataset{Prefix: filepath.Join(dir, "in-"+label)}
	require.NoError(t, plink.WriteFam(ctx, d, []plink.Sample{
		{FID: "f1", IID: "i1", Father: "0", Mother: "0", Sex: "1", Phenotype: "-9"},
		{FID: "f2", IID: "i2", Father: "0", Mother: "0", Sex: "2", Phenotype: "-9"},
	}))
	var variants []plink.Variant
	for i, id := range ids {
		variants = append(variants, plink.Variant{Chr: "1", ID: id, CM: "0", BP: fmt.Sprint(100 * (i + 1)), Allele: [2]string{"A", "G"}})
	}
	require.NoError(t, plink.WriteBim(ctx, d, variants))
	require.NoError(t, ioutil.WriteFile(d.Bed(), []byte("bed"), 0644))
	return segment.New(d).WithTag(segment.Ethnic, label)
}

func labels(segs []segment.Segment) []string {
	var l []string
	for _, s := range segs {
		l = append(l, s.Tag(segment.Ethnic))
	}
	sort.Strings(l)
	return l
}

func variantIDs(t *testing.T, s segment.Segment) []string {
	variants, err := plink.ReadBim(context.Background(), s.Dataset)
	require.NoError(t, err)
	var ids []string
	for _, v := range variants {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestApply(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	segs := []segment.Segment{
		newSegment(t, tempDir, "A", "rs1", "miss1", "hwe1", "rare1"),
		newSegment(t, tempDir, "B", "rs2", "rare2"),
		newSegment(t, tempDir, "C", "rare3"),
		newSegment(t, tempDir, "D", "rs4"),
	}
	engine := &plink.FakeEngine{
		Fail: func(args []string) error {
			if strings.Contains(args[1], "in-D") {
				return &plink.ExitError{Args: args, Code: 2}
			}
			return nil
		},
	}
	reg := prometheus.NewRegistry()
	r := &qc.Runner{Engine: engine, Dir: tempDir, Parallelism: 3, Metrics: qc.NewMetrics(reg)}

	got := r.Apply(ctx, segs, qc.Stage{Kind: qc.Missingness, Threshold: 0.02})
	assert.Equal(t, []string{"A", "B", "C"}, labels(got))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.Metrics.Dropped.WithLabelValues("missingness", "error")))

	got = r.ApplyAll(ctx, got, qc.DefaultStages(0.02, 1e-6, 0.01)[1:]...)
	// C has only rare variants and is dropped by MAF with ExitNoVariants.
	require.Equal(t, []string{"A", "B"}, labels(got))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.Metrics.Dropped.WithLabelValues("maf", "no_variants")))
	assert.Equal(t, 2.0, promtest.ToFloat64(r.Metrics.Survived.WithLabelValues("maf")))
	for _, s := range got {
		assert.Equal(t, []string{"missingness", "hwe", "maf"}, s.Provenance)
		assert.NoError(t, s.Dataset.Validate(ctx))
		if s.Tag(segment.Ethnic) == "A" {
			assert.Equal(t, []string{"rs1"}, variantIDs(t, s))
		}
	}
	// Inputs are untouched.
	assert.Equal(t, []string{"rs1", "miss1", "hwe1", "rare1"}, variantIDs(t, segs[0]))
}

func TestApplyIdempotent(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	segs := []segment.Segment{
		newSegment(t, tempDir, "A", "rs1", "rare1", "rs2"),
		newSegment(t, tempDir, "B", "rs3", "rare2"),
	}
	r := &qc.Runner{Engine: &plink.FakeEngine{}, Dir: tempDir, Parallelism: 2}
	for _, stage := range qc.DefaultStages(0.02, 1e-6, 0.01) {
		once := r.Apply(ctx, segs, stage)
		twice := r.Apply(ctx, once, stage)
		require.Equal(t, labels(once), labels(twice))
		for _, a := range once {
			for _, b := range twice {
				if a.Tag(segment.Ethnic) != b.Tag(segment.Ethnic) {
					continue
				}
				assert.NotEqual(t, a.Dataset, b.Dataset)
				assert.Equal(t, variantIDs(t, a), variantIDs(t, b))
				sa, err := plink.ReadFam(ctx, a.Dataset)
				require.NoError(t, err)
				sb, err := plink.ReadFam(ctx, b.Dataset)
				require.NoError(t, err)
				assert.Equal(t, sa, sb)
			}
		}
	}
}

func TestApplyCanceled(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	segs := []segment.Segment{newSegment(t, tempDir, "A", "rs1")}
	r := &qc.Runner{Engine: &plink.FakeEngine{}, Dir: tempDir}
	assert.Empty(t, r.Apply(ctx, segs, qc.Stage{Kind: qc.HWE, Threshold: 1e-6}))
}
