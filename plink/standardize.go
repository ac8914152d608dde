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
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Standardize turns the genotype input at path into a binary fileset.
//
// A .vcf or .vcf.gz is converted with half calls treated as missing, a .ped
// (with a sibling .map) is converted with --file, and a .bed is used in place
// once its .bim and .fam siblings are confirmed. The converted fileset is
// written to out.
func Standardize(ctx context.Context, e Engine, path string, out Dataset) (Dataset, error) {
	switch {
	case strings.HasSuffix(path, ".vcf"), strings.HasSuffix(path, ".vcf.gz"):
		log.Printf("standardize: converting %s to %s", path, out)
		args := []string{"--vcf", path, "--make-bed", "--vcf-half-call", "missing", "--out", out.Prefix}
		if err := e.Run(ctx, args...); err != nil {
			return Dataset{}, errors.E(fmt.Sprintf("convert %s", path), err)
		}
		return out, out.Validate(ctx)
	case strings.HasSuffix(path, ".ped"):
		root := strings.TrimSuffix(path, ".ped")
		if _, err := file.Stat(ctx, root+".map"); err != nil {
			return Dataset{}, errors.E(errors.NotExist, fmt.Sprintf("%s requires %s.map", path, root), err)
		}
		log.Printf("standardize: converting %s to %s", path, out)
		args := []string{"--file", root, "--make-bed", "--out", out.Prefix}
		if err := e.Run(ctx, args...); err != nil {
			return Dataset{}, errors.E(fmt.Sprintf("convert %s", path), err)
		}
		return out, out.Validate(ctx)
	case strings.HasSuffix(path, ".bed"):
		in := Dataset{Prefix: strings.TrimSuffix(path, ".bed")}
		if err := in.Validate(ctx); err != nil {
			return Dataset{}, err
		}
		return in, nil
	}
	return Dataset{}, errors.E(errors.NotSupported, fmt.Sprintf("unsupported genotype input %s: expect .vcf, .vcf.gz, .ped or .bed", path))
}
