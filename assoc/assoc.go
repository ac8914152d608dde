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

// Package assoc runs quantitative association tests of phenotypes against
// population segments and computes the multiple-testing correction factor.
package assoc

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gwas/phenotype"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/qc"
	"github.com/grailbio/gwas/segment"
	"github.com/grailbio/gwas/summary"
)

// Test is one association test.
type Test struct {
	Segment segment.Segment
	Field   phenotype.Field
}

func (t Test) String() string { return fmt.Sprintf("%s x %s", t.Segment, t.Field.Label()) }

// Runner runs association tests.
type Runner struct {
	Engine      plink.Engine
	Dir         string
	Parallelism int
	// Mperm is the number of max(T) permutations; 0 disables them.
	Mperm int
}

// Tests pairs every segment with every field.
func Tests(segs []segment.Segment, fields []phenotype.Field) []Test {
	tests := make([]Test, 0, len(segs)*len(fields))
	for _, s := range segs {
		for _, f := range fields {
			tests = append(tests, Test{s, f})
		}
	}
	return tests
}

// Run runs every test and returns the summarizer inputs of those that
// succeeded. Failed tests are logged and skipped.
func (r *Runner) Run(ctx context.Context, tests []Test) []summary.Input {
	inputs := qc.Survivors(ctx, tests, r.Parallelism,
		func(ctx context.Context, t Test) (summary.Input, error) {
			stage := "assoc-" + t.Field.Label()
			out, err := plink.Assoc{
				In:    t.Segment.Dataset,
				Pheno: t.Field.Path,
				Mperm: r.Mperm,
				Out:   t.Segment.Output(r.Dir, stage).Prefix,
			}.Run(ctx, r.Engine)
			if err != nil {
				return summary.Input{}, err
			}
			gender := t.Segment.Tag(segment.Gender)
			if gender == "" {
				gender = segment.Both
			}
			return summary.Input{
				Gender:    gender,
				Ethnic:    t.Segment.Tag(segment.Ethnic),
				Phenotype: t.Field.Label(),
				Primary:   out.Primary,
				Perm:      out.Perm,
				Means:     out.Means,
			}, nil
		},
		func(t Test, err error) {
			log.Printf("warning: association test %s failed: %v", t, err)
		})
	log.Printf("association: %d of %d tests succeeded", len(inputs), len(tests))
	return inputs
}

// CorrectionFactor returns the Bonferroni factor for segs: the largest
// variant count among them or, with ldPrune, the largest number of variants
// left by LD pruning. Segments whose pruning fails are ignored; if every one
// fails the result is an error.
func CorrectionFactor(ctx context.Context, e plink.Engine, dir string, segs []segment.Segment, ldPrune bool, parallelism int) (int, error) {
	if len(segs) == 0 {
		return 0, errors.E(errors.Invalid, "no segments to compute a correction factor for")
	}
	counts := qc.Survivors(ctx, segs, parallelism,
		func(ctx context.Context, s segment.Segment) (int, error) {
			if !ldPrune {
				return plink.CountVariants(ctx, s.Dataset)
			}
			return plink.DefaultIndepPairwise(s.Dataset, s.Output(dir, "indep-pairwise").Prefix).Run(ctx, e)
		},
		func(s segment.Segment, err error) {
			log.Printf("warning: %s: correction factor: %v", s, err)
		})
	if len(counts) == 0 {
		return 0, errors.E(errors.Unavailable, "correction factor failed for every segment")
	}
	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	log.Printf("correction factor %d over %d segments (ld pruning: %v)", max, len(counts), ldPrune)
	return max, nil
}
