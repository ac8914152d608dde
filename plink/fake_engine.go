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
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Variant id prefixes the fake engine treats as failing a filter.
const (
	FakeMissingPrefix = "miss"
	FakeHWEPrefix     = "hwe"
	FakeRarePrefix    = "rare"
	FakeLDPrefix      = "ld"
)

// FakeEngine is only for unittests. It implements the subset of the engine
// command contract used by this module by rewriting .fam/.bim files:
//
//   --keep            keeps the listed samples
//   --update-sex      patches the sex column; --filter-males/--filter-females
//   --geno/--mind     drops variants whose id starts with FakeMissingPrefix
//   --hwe             drops variants whose id starts with FakeHWEPrefix
//   --maf             drops variants whose id starts with FakeRarePrefix, and
//                     exits with ExitNoVariants if none are left
//   --assoc           writes .qassoc (and .mperm/.means) files
//   --indep-pairwise  lists variants not starting with FakeLDPrefix
type FakeEngine struct {
	// Fail, if non-nil, is consulted before each invocation. A non-nil result
	// is returned in place of running the command.
	Fail func(args []string) error
	// PValue returns the association p-value reported for a variant. The
	// default is 0.5 for every variant.
	PValue func(variantID string) float64

	mu    sync.Mutex
	calls [][]string
}

// Calls returns a copy of the argument lists of all invocations so far.
func (f *FakeEngine) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([][]string, len(f.calls))
	copy(calls, f.calls)
	return calls
}

type fakeArgs struct {
	bfile, out, keep, updateSex, pheno string
	filterMales, filterFemales          bool
	geno, hwe, maf, assoc, makeBed      bool
	mperm                               int
	indep                               bool
}

func parseFakeArgs(args []string) (fakeArgs, error) {
	var a fakeArgs
	next := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", errors.E(errors.Invalid, fmt.Sprintf("%s: missing value", args[i]))
		}
		return args[i+1], nil
	}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--bfile":
			a.bfile, err = next(i)
			i++
		case "--out":
			a.out, err = next(i)
			i++
		case "--keep":
			a.keep, err = next(i)
			i++
		case "--update-sex":
			a.updateSex, err = next(i)
			i++
		case "--pheno":
			a.pheno, err = next(i)
			i++
		case "--filter-males":
			a.filterMales = true
		case "--filter-females":
			a.filterFemales = true
		case "--geno", "--mind":
			a.geno = true
			i++
		case "--hwe":
			a.hwe = true
			i++
		case "midp", "qt-means":
		case "--maf":
			a.maf = true
			i++
		case "--make-bed":
			a.makeBed = true
		case "--assoc":
			a.assoc = true
		case "--indep-pairwise":
			a.indep = true
			i += 3
		default:
			if strings.HasPrefix(args[i], "mperm=") {
				a.mperm, err = strconv.Atoi(strings.TrimPrefix(args[i], "mperm="))
				break
			}
			err = errors.E(errors.NotSupported, fmt.Sprintf("fake engine: unsupported argument %q", args[i]))
		}
		if err != nil {
			return a, err
		}
	}
	if a.bfile == "" || a.out == "" {
		return a, errors.E(errors.Invalid, "fake engine: --bfile and --out are required")
	}
	return a, nil
}

// Run implements Engine.
func (f *FakeEngine) Run(ctx context.Context, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Fail != nil {
		if err := f.Fail(args); err != nil {
			return err
		}
	}
	a, err := parseFakeArgs(args)
	if err != nil {
		return err
	}
	in := Dataset{Prefix: a.bfile}
	samples, err := ReadFam(ctx, in)
	if err != nil {
		return err
	}
	variants, err := ReadBim(ctx, in)
	if err != nil {
		return err
	}
	switch {
	case a.assoc:
		return f.writeAssoc(ctx, a, samples, variants)
	case a.indep:
		return writeLines(ctx, a.out+".prune.in", variantIDs(dropPrefix(variants, FakeLDPrefix)))
	}
	if a.keep != "" {
		keep, err := ReadKeepList(ctx, a.keep)
		if err != nil {
			return err
		}
		set := map[[2]string]bool{}
		for _, s := range keep {
			set[[2]string{s.FID, s.IID}] = true
		}
		var kept []Sample
		for _, s := range samples {
			if set[[2]string{s.FID, s.IID}] {
				kept = append(kept, s)
			}
		}
		samples = kept
	}
	if a.updateSex != "" {
		updates, err := ReadSexUpdates(ctx, a.updateSex)
		if err != nil {
			return err
		}
		codes := map[[2]string]string{}
		for _, u := range updates {
			codes[[2]string{u.FID, u.IID}] = u.Code
		}
		for i, s := range samples {
			if c, ok := codes[[2]string{s.FID, s.IID}]; ok {
				samples[i].Sex = c
			}
		}
	}
	if a.filterMales || a.filterFemales {
		want := SexMale
		if a.filterFemales {
			want = SexFemale
		}
		var kept []Sample
		for _, s := range samples {
			if s.Sex == want {
				kept = append(kept, s)
			}
		}
		samples = kept
	}
	if a.geno {
		variants = dropPrefix(variants, FakeMissingPrefix)
	}
	if a.hwe {
		variants = dropPrefix(variants, FakeHWEPrefix)
	}
	if a.maf {
		variants = dropPrefix(variants, FakeRarePrefix)
		if len(variants) == 0 {
			return &ExitError{Args: args, Code: ExitNoVariants}
		}
	}
	if !a.makeBed {
		return nil
	}
	out := Dataset{Prefix: a.out}
	if err := WriteFam(ctx, out, samples); err != nil {
		return err
	}
	if err := WriteBim(ctx, out, variants); err != nil {
		return err
	}
	return writeLines(ctx, out.Bed(), []string{fmt.Sprintf("fake %d x %d", len(samples), len(variants))})
}

func (f *FakeEngine) pvalue(id string) float64 {
	if f.PValue == nil {
		return 0.5
	}
	return f.PValue(id)
}

func (f *FakeEngine) writeAssoc(ctx context.Context, a fakeArgs, samples []Sample, variants []Variant) error {
	lines := []string{fmt.Sprintf("%4s %11s %10s %8s %10s %10s %10s %8s %12s ",
		"CHR", "SNP", "BP", "NMISS", "BETA", "SE", "R2", "T", "P")}
	for _, v := range variants {
		lines = append(lines, fmt.Sprintf("%4s %11s %10s %8d %10.4f %10.4f %10.4g %8.4f %12.4g ",
			v.Chr, v.ID, v.BP, len(samples), 0.1, 0.05, 0.01, 2.0, f.pvalue(v.ID)))
	}
	if err := writeLines(ctx, a.out+".qassoc", lines); err != nil {
		return err
	}
	if a.mperm > 0 {
		lines = []string{fmt.Sprintf("%4s %11s %12s %12s ", "CHR", "SNP", "EMP1", "EMP2")}
		for _, v := range variants {
			p := f.pvalue(v.ID)
			lines = append(lines, fmt.Sprintf("%4s %11s %12.4g %12.4g ", v.Chr, v.ID, p, p))
		}
		if err := writeLines(ctx, a.out+".qassoc.mperm", lines); err != nil {
			return err
		}
	}
	lines = []string{fmt.Sprintf("%4s %11s %6s %10s %10s %10s", "CHR", "SNP", "VALUE", "G11", "G12", "G22")}
	for _, v := range variants {
		for _, row := range [][4]string{
			{"GENO", v.Allele[0] + "/" + v.Allele[0], v.Allele[0] + "/" + v.Allele[1], v.Allele[1] + "/" + v.Allele[1]},
			{"COUNTS", "1", "2", "3"},
			{"FREQ", "0.1667", "0.3333", "0.5"},
			{"MEAN", "1.5", "2.5", "3.5"},
			{"SD", "0.1", "0.2", "0.3"},
		} {
			lines = append(lines, fmt.Sprintf("%4s %11s %6s %10s %10s %10s", v.Chr, v.ID, row[0], row[1], row[2], row[3]))
		}
	}
	return writeLines(ctx, a.out+".qassoc.means", lines)
}

func dropPrefix(variants []Variant, prefix string) []Variant {
	var kept []Variant
	for _, v := range variants {
		if !strings.HasPrefix(v.ID, prefix) {
			kept = append(kept, v)
		}
	}
	return kept
}

func variantIDs(variants []Variant) []string {
	ids := make([]string, len(variants))
	for i, v := range variants {
		ids[i] = v.ID
	}
	return ids
}

func writeLines(ctx context.Context, path string, lines []string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := bufio.NewWriter(out.Writer(ctx))
	for _, l := range lines {
		if _, err = w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
