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
package segment

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ahmetb/go-linq"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/reference"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what a failed per-label extraction does to the
// division call.
type FailurePolicy int

const (
	// AbortOnFailure fails the whole division when any label fails.
	AbortOnFailure FailurePolicy = iota
	// DropOnFailure drops the failed label and keeps the others.
	DropOnFailure
)

func (p FailurePolicy) String() string {
	if p == DropOnFailure {
		return "drop"
	}
	return "abort"
}

// Divider partitions segments by demographic labels.
type Divider struct {
	Engine plink.Engine
	// Dir receives side files and extracted filesets.
	Dir    string
	Policy FailurePolicy
	// Parallelism bounds concurrent engine invocations. Values <= 0 mean one.
	Parallelism int
}

func (d *Divider) limit() int {
	if d.Parallelism <= 0 {
		return 1
	}
	return d.Parallelism
}

func (d *Divider) sideFile(kind string) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%s.txt", kind, uuid.New().String()))
}

type member struct {
	sample plink.Sample
	label  string
}

// DivideByCategory splits seg into one segment per label of dim found among
// its samples. Samples without an assignment are left out. The memberships of
// the returned segments are pairwise disjoint; their order is unspecified.
func (d *Divider) DivideByCategory(ctx context.Context, seg Segment, dim string, assign reference.Assignments) ([]Segment, error) {
	samples, err := plink.ReadFam(ctx, seg.Dataset)
	if err != nil {
		return nil, err
	}
	var members []member
	for _, s := range samples {
		if label, ok := assign[s.IID]; ok {
			members = append(members, member{s, label})
		}
	}
	if len(members) < len(samples) {
		log.Printf("%s: %d of %d samples have no %s label", seg.Dataset, len(samples)-len(members), len(samples), dim)
	}
	var groups []linq.Group
	linq.From(members).
		GroupByT(
			func(m member) string { return m.label },
			func(m member) plink.Sample { return m.sample },
		).
		OrderByT(func(g linq.Group) string { return g.Key.(string) }).
		ToSlice(&groups)

	stage := "divide-" + dim
	results := make([]*Segment, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit())
	for i, group := range groups {
		i, label := i, group.Key.(string)
		keep := make([]plink.Sample, len(group.Group))
		for j, s := range group.Group {
			keep[j] = s.(plink.Sample)
		}
		g.Go(func() error {
			sub := seg.WithTag(dim, label)
			out, err := d.extract(gctx, seg.Dataset, keep, sub.Output(d.Dir, stage))
			if err != nil {
				if d.Policy == DropOnFailure {
					log.Printf("warning: %s: dropping %s=%s: %v", seg.Dataset, dim, label, err)
					return nil
				}
				return errors.E(fmt.Sprintf("extract %s=%s from %s", dim, label, seg.Dataset), err)
			}
			derived := sub.Derive(stage, out)
			results[i] = &derived
			log.Debug.Printf("%s: %s=%s: %d samples", out, dim, label, len(keep))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	segs := make([]Segment, 0, len(results))
	for _, r := range results {
		if r != nil {
			segs = append(segs, *r)
		}
	}
	log.Printf("%s: divided by %s into %d segments", seg.Dataset, dim, len(segs))
	return segs, nil
}

func (d *Divider) extract(ctx context.Context, in plink.Dataset, keep []plink.Sample, out plink.Dataset) (plink.Dataset, error) {
	path := d.sideFile("keep")
	if err := plink.WriteKeepList(ctx, path, keep); err != nil {
		return plink.Dataset{}, err
	}
	return plink.Keep(in, path, out).Run(ctx, d.Engine)
}

// UpdateSex patches the sex code of every sample of seg from its gender
// label (see SexCode). Without partition it returns a single segment tagged
// gender=both. With partition it returns the male and female subsets of the
// patched dataset.
func (d *Divider) UpdateSex(ctx context.Context, seg Segment, assign reference.Assignments, partition bool) ([]Segment, error) {
	samples, err := plink.ReadFam(ctx, seg.Dataset)
	if err != nil {
		return nil, err
	}
	var updates []plink.SexUpdate
	for _, s := range samples {
		if label, ok := assign[s.IID]; ok {
			updates = append(updates, plink.SexUpdate{FID: s.FID, IID: s.IID, Code: SexCode(label)})
		}
	}
	mapping := d.sideFile("sex")
	if err := plink.WriteSexUpdates(ctx, mapping, updates); err != nil {
		return nil, err
	}
	both := seg.WithTag(Gender, Both)
	patched, err := plink.UpdateSex(seg.Dataset, mapping, both.Output(d.Dir, "update-sex"), plink.NoSexFilter).Run(ctx, d.Engine)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("update sex of %s", seg.Dataset), err)
	}
	both = both.Derive("update-sex", patched)
	log.Printf("%s: patched sex of %d of %d samples", patched, len(updates), len(samples))
	if !partition {
		return []Segment{both}, nil
	}

	filters := []struct {
		label  string
		filter plink.SexFilter
	}{{"male", plink.FilterMales}, {"female", plink.FilterFemales}}
	var (
		wg   sync.WaitGroup
		once errors.Once
		segs = make([]*Segment, len(filters))
	)
	for i, f := range filters {
		wg.Add(1)
		go func(i int, label string, filter plink.SexFilter) {
			defer wg.Done()
			sub := seg.WithTag(Gender, label)
			out, err := plink.UpdateSex(patched, mapping, sub.Output(d.Dir, "filter-sex"), filter).Run(ctx, d.Engine)
			if err != nil {
				if d.Policy == DropOnFailure {
					log.Printf("warning: %s: dropping %s=%s: %v", patched, Gender, label, err)
					return
				}
				once.Set(errors.E(fmt.Sprintf("filter %s samples of %s", label, patched), err))
				return
			}
			s := both.WithTag(Gender, label).Derive("filter-sex", out)
			segs[i] = &s
		}(i, f.label, f.filter)
	}
	wg.Wait()
	if err := once.Err(); err != nil {
		return nil, err
	}
	var result []Segment
	for _, s := range segs {
		if s != nil {
			result = append(result, *s)
		}
	}
	return result, nil
}

// Labels returns the distinct labels of dim among segs, sorted.
func Labels(segs []Segment, dim string) []string {
	seen := map[string]bool{}
	var labels []string
	for _, s := range segs {
		if l := s.Tag(dim); !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)
	return labels
}
