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
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Sex codes accepted by --update-sex.
const (
	SexUnknown = "0"
	SexMale    = "1"
	SexFemale  = "2"
)

// SexUpdate is one row of an --update-sex mapping file.
type SexUpdate struct {
	FID, IID string
	Code     string
}

// WriteKeepList writes the (FID, IID) membership list consumed by --keep.
// The list is tab separated with a "FID IID" header row.
func WriteKeepList(ctx context.Context, path string, samples []Sample) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("FID")
	w.WriteString("IID")
	if err = w.EndLine(); err != nil {
		return err
	}
	for _, s := range samples {
		w.WriteString(s.FID)
		w.WriteString(s.IID)
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadKeepList reads a list written by WriteKeepList. A leading "FID IID"
// header row is skipped.
func ReadKeepList(ctx context.Context, path string) (samples []Sample, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := bufio.NewScanner(in.Reader(ctx))
	first := true
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if first && fields[0] == "FID" && fields[1] == "IID" {
			first = false
			continue
		}
		first = false
		samples = append(samples, Sample{FID: fields[0], IID: fields[1]})
	}
	return samples, sc.Err()
}

// WriteSexUpdates writes an --update-sex mapping: FID, IID and sex code per
// row, without a header.
func WriteSexUpdates(ctx context.Context, path string, updates []SexUpdate) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	for _, u := range updates {
		w.WriteString(u.FID)
		w.WriteString(u.IID)
		w.WriteString(u.Code)
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadSexUpdates reads a mapping written by WriteSexUpdates.
func ReadSexUpdates(ctx context.Context, path string) (updates []SexUpdate, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := bufio.NewScanner(in.Reader(ctx))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		updates = append(updates, SexUpdate{FID: fields[0], IID: fields[1], Code: fields[2]})
	}
	return updates, sc.Err()
}
