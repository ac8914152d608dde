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

// Package segment defines population segments, demographically tagged
// subsets of a genotype dataset, and the operations that create them from a
// full dataset.
package segment

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/gwas/plink"
)

// Demographic dimensions a segment can be tagged with.
const (
	Ethnic = "ethnic"
	Gender = "gender"
)

// Both tags a gender dimension that was patched but not partitioned.
const Both = "both"

// Segment is a demographically tagged subset of the genotype dataset with
// its own materialized fileset. Segments are values: every operation returns
// new segments and leaves its inputs untouched.
type Segment struct {
	// Tags maps each dimension to the label of this segment.
	Tags map[string]string
	// Dataset is a complete .bed/.bim/.fam triple.
	Dataset plink.Dataset
	// Provenance lists the stages that produced Dataset, oldest first.
	Provenance []string
}

// New returns an untagged segment over d.
func New(d plink.Dataset) Segment {
	return Segment{Tags: map[string]string{}, Dataset: d}
}

// Tag returns the label of dim, or "" if s is not tagged with dim.
func (s Segment) Tag(dim string) string { return s.Tags[dim] }

// WithTag returns a copy of s with dim set to label.
func (s Segment) WithTag(dim, label string) Segment {
	tags := make(map[string]string, len(s.Tags)+1)
	for k, v := range s.Tags {
		tags[k] = v
	}
	tags[dim] = label
	return Segment{Tags: tags, Dataset: s.Dataset, Provenance: s.Provenance}
}

// Derive returns the segment produced from s by stage, now backed by d.
func (s Segment) Derive(stage string, d plink.Dataset) Segment {
	prov := make([]string, len(s.Provenance), len(s.Provenance)+1)
	copy(prov, s.Provenance)
	return Segment{Tags: s.Tags, Dataset: d, Provenance: append(prov, stage)}
}

// Output returns the fileset that stage should write for s under dir. The
// name depends on the tags and the whole provenance of s, so re-applying a
// stage never overwrites its own input.
func (s Segment) Output(dir, stage string) plink.Dataset {
	path := make([]string, 0, len(s.Provenance)+1)
	path = append(append(path, s.Provenance...), stage)
	return plink.Dataset{Prefix: filepath.Join(dir, name(s.Tags, path))}
}

// Key returns the canonical "dim=label,..." form of the tags.
func (s Segment) Key() string { return key(s.Tags) }

func (s Segment) String() string {
	return fmt.Sprintf("{%s %s}", s.Key(), s.Dataset)
}

func key(tags map[string]string) string {
	dims := make([]string, 0, len(tags))
	for d := range tags {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = d + "=" + tags[d]
	}
	return strings.Join(parts, ",")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}

// Name returns a file name for the output of stage on a segment with the
// given tags. Labels are sanitized for use in paths; the trailing
// fingerprint of the unsanitized tags and stage keeps names of distinct
// (tags, stage) pairs apart.
func Name(tags map[string]string, stage string) string {
	return name(tags, []string{stage})
}

func name(tags map[string]string, stages []string) string {
	stage := stages[len(stages)-1]
	dims := make([]string, 0, len(tags))
	for d := range tags {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	parts := make([]string, 0, len(dims)+2)
	for _, d := range dims {
		parts = append(parts, sanitize(d)+"-"+sanitize(tags[d]))
	}
	if len(parts) == 0 {
		parts = append(parts, "all")
	}
	fp := farm.Fingerprint64([]byte(key(tags) + "|" + strings.Join(stages, "/")))
	parts = append(parts, sanitize(stage), fmt.Sprintf("%08x", uint32(fp)))
	return strings.Join(parts, ".")
}

// SexCode maps a gender label to the engine's sex code.
func SexCode(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "male", "m":
		return plink.SexMale
	case "female", "f":
		return plink.SexFemale
	}
	return plink.SexUnknown
}
