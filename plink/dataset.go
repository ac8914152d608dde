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
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Dataset names a binary fileset by its path prefix: the genotype calls
// (.bed), the variant metadata (.bim) and the sample manifest (.fam).
type Dataset struct {
	Prefix string
}

// Bed returns the path of the genotype call file.
func (d Dataset) Bed() string { return d.Prefix + ".bed" }

// Bim returns the path of the variant metadata file.
func (d Dataset) Bim() string { return d.Prefix + ".bim" }

// Fam returns the path of the sample manifest.
func (d Dataset) Fam() string { return d.Prefix + ".fam" }

func (d Dataset) String() string { return d.Prefix }

// Validate checks that all three members of the fileset exist.
func (d Dataset) Validate(ctx context.Context) error {
	for _, path := range []string{d.Bed(), d.Bim(), d.Fam()} {
		if _, err := file.Stat(ctx, path); err != nil {
			return errors.E(errors.NotExist, fmt.Sprintf("incomplete fileset %s", d.Prefix), err)
		}
	}
	return nil
}

// Sample is one row of a .fam manifest.
type Sample struct {
	FID, IID       string
	Father, Mother string
	Sex            string
	Phenotype      string
}

// ReadFam reads the sample manifest of d. Rows must have at least the family
// and sample id; missing trailing columns are filled with plink's "unknown"
// values.
func ReadFam(ctx context.Context, d Dataset) (samples []Sample, err error) {
	in, err := file.Open(ctx, d.Fam())
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	return parseFam(in.Reader(ctx), d.Fam())
}

func parseFam(r io.Reader, path string) ([]Sample, error) {
	var samples []Sample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expect at least FID and IID, found %q", path, line, sc.Text()))
		}
		s := Sample{FID: fields[0], IID: fields[1], Father: "0", Mother: "0", Sex: "0", Phenotype: "-9"}
		for i, dst := range []*string{&s.Father, &s.Mother, &s.Sex, &s.Phenotype} {
			if len(fields) > i+2 {
				*dst = fields[i+2]
			}
		}
		samples = append(samples, s)
	}
	return samples, sc.Err()
}

// WriteFam writes samples as a .fam manifest of d.
func WriteFam(ctx context.Context, d Dataset, samples []Sample) (err error) {
	out, err := file.Create(ctx, d.Fam())
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	for _, s := range samples {
		w.WriteString(s.FID)
		w.WriteString(s.IID)
		w.WriteString(s.Father)
		w.WriteString(s.Mother)
		w.WriteString(s.Sex)
		w.WriteString(s.Phenotype)
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// CountLines returns the number of nonblank lines in path. It is used to
// count variants in a .bim file and independent SNPs in a .prune.in file.
func CountLines(ctx context.Context, path string) (n int, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := bufio.NewScanner(in.Reader(ctx))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

// CountVariants returns the number of variants in d.
func CountVariants(ctx context.Context, d Dataset) (int, error) {
	return CountLines(ctx, d.Bim())
}

// Variant is one row of a .bim file.
type Variant struct {
	Chr    string
	ID     string
	CM     string
	BP     string
	Allele [2]string
}

// ReadBim reads the variant metadata of d.
func ReadBim(ctx context.Context, d Dataset) (variants []Variant, err error) {
	in, err := file.Open(ctx, d.Bim())
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := bufio.NewScanner(in.Reader(ctx))
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 6 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: expect 6 columns, found %d", d.Bim(), line, len(fields)))
		}
		variants = append(variants, Variant{
			Chr: fields[0], ID: fields[1], CM: fields[2], BP: fields[3],
			Allele: [2]string{fields[4], fields[5]},
		})
	}
	return variants, sc.Err()
}

// WriteBim writes variants as the .bim file of d.
func WriteBim(ctx context.Context, d Dataset, variants []Variant) (err error) {
	out, err := file.Create(ctx, d.Bim())
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	for _, v := range variants {
		w.WriteString(v.Chr)
		w.WriteString(v.ID)
		w.WriteString(v.CM)
		w.WriteString(v.BP)
		w.WriteString(v.Allele[0])
		w.WriteString(v.Allele[1])
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
