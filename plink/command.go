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
	"strconv"

	"github.com/grailbio/base/file"
)

// Command is an engine invocation that reads one binary fileset and writes
// another with --make-bed.
type Command struct {
	In    Dataset
	Out   Dataset
	Flags []string
}

// Args returns the engine command line:
//   --bfile <in> <flags...> --make-bed --out <out>
func (c Command) Args() []string {
	args := make([]string, 0, len(c.Flags)+5)
	args = append(args, "--bfile", c.In.Prefix)
	args = append(args, c.Flags...)
	return append(args, "--make-bed", "--out", c.Out.Prefix)
}

// Run invokes the engine and checks that the output fileset is complete
// before reporting success.
func (c Command) Run(ctx context.Context, e Engine) (Dataset, error) {
	if err := e.Run(ctx, c.Args()...); err != nil {
		return Dataset{}, err
	}
	if err := c.Out.Validate(ctx); err != nil {
		return Dataset{}, err
	}
	return c.Out, nil
}

// FormatThreshold renders a threshold the way it is passed on the engine
// command line.
func FormatThreshold(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

// Keep restricts in to the samples listed in keepList.
func Keep(in Dataset, keepList string, out Dataset) Command {
	return Command{In: in, Out: out, Flags: []string{"--keep", keepList}}
}

// Missingness removes variants and samples whose missing call rate exceeds t.
func Missingness(in, out Dataset, t float64) Command {
	return Command{In: in, Out: out, Flags: []string{"--geno", FormatThreshold(t), "--mind", FormatThreshold(t)}}
}

// HWE removes variants failing the mid-p Hardy-Weinberg test at t.
func HWE(in, out Dataset, t float64) Command {
	return Command{In: in, Out: out, Flags: []string{"--hwe", FormatThreshold(t), "midp"}}
}

// MAF removes variants with minor allele frequency below t. The engine exits
// with ExitNoVariants when nothing survives.
func MAF(in, out Dataset, t float64) Command {
	return Command{In: in, Out: out, Flags: []string{"--maf", FormatThreshold(t)}}
}

// SexFilter optionally restricts an --update-sex invocation to one sex.
type SexFilter int

const (
	// NoSexFilter keeps every sample.
	NoSexFilter SexFilter = iota
	// FilterMales keeps male samples only.
	FilterMales
	// FilterFemales keeps female samples only.
	FilterFemales
)

// UpdateSex patches the sex column of in from mapping.
func UpdateSex(in Dataset, mapping string, out Dataset, filter SexFilter) Command {
	flags := []string{"--update-sex", mapping}
	switch filter {
	case FilterMales:
		flags = append(flags, "--filter-males")
	case FilterFemales:
		flags = append(flags, "--filter-females")
	}
	return Command{In: in, Out: out, Flags: flags}
}

// AssocOutput lists the files written by a quantitative association test.
// Perm and Means are empty when the engine did not produce them.
type AssocOutput struct {
	Primary string
	Perm    string
	Means   string
}

// Assoc is a quantitative association test with per-genotype means and,
// when Mperm > 0, max(T) permutation.
type Assoc struct {
	In    Dataset
	Pheno string
	Mperm int
	Out   string
}

// Args returns
//   --bfile <in> --pheno <file> --assoc qt-means [mperm=<n>] --out <name>
func (a Assoc) Args() []string {
	args := []string{"--bfile", a.In.Prefix, "--pheno", a.Pheno, "--assoc", "qt-means"}
	if a.Mperm > 0 {
		args = append(args, "mperm="+strconv.Itoa(a.Mperm))
	}
	return append(args, "--out", a.Out)
}

// Run invokes the association test. The primary statistics file must exist
// afterwards; companion files are reported only if present.
func (a Assoc) Run(ctx context.Context, e Engine) (AssocOutput, error) {
	if err := e.Run(ctx, a.Args()...); err != nil {
		return AssocOutput{}, err
	}
	out := AssocOutput{Primary: a.Out + ".qassoc"}
	if _, err := file.Stat(ctx, out.Primary); err != nil {
		return AssocOutput{}, err
	}
	if a.Mperm > 0 {
		if _, err := file.Stat(ctx, a.Out+".qassoc.mperm"); err == nil {
			out.Perm = a.Out + ".qassoc.mperm"
		}
	}
	if _, err := file.Stat(ctx, a.Out+".qassoc.means"); err == nil {
		out.Means = a.Out + ".qassoc.means"
	}
	return out, nil
}

// IndepPairwise is an LD pruning run. Its result is the number of variants in
// <Out>.prune.in.
type IndepPairwise struct {
	In     Dataset
	Window int
	Step   int
	R2     float64
	Out    string
}

// DefaultIndepPairwise returns the window/step/r² used for the Bonferroni
// correction factor.
func DefaultIndepPairwise(in Dataset, out string) IndepPairwise {
	return IndepPairwise{In: in, Window: 50, Step: 5, R2: 0.2, Out: out}
}

// Args returns --bfile <in> --indep-pairwise <w> <s> <r2> --out <out>.
func (p IndepPairwise) Args() []string {
	return []string{"--bfile", p.In.Prefix, "--indep-pairwise",
		strconv.Itoa(p.Window), strconv.Itoa(p.Step), FormatThreshold(p.R2), "--out", p.Out}
}

// Run prunes and returns the independent-SNP count.
func (p IndepPairwise) Run(ctx context.Context, e Engine) (int, error) {
	if err := e.Run(ctx, p.Args()...); err != nil {
		return 0, err
	}
	return CountLines(ctx, p.Out+".prune.in")
}
