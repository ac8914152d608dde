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

// Package reference resolves loosely labeled demographic tables into
// canonical population labels.
//
// A reference (coding) table maps raw category codes to labels, optionally
// with a parent code per row. An info table assigns a raw code to each
// individual. Column roles are recognized by name; see DiscoverRoles.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/gwas/table"
)

// Options controls resolution of a reference table.
type Options struct {
	// Loose collapses every code onto its immediate parent: the effective
	// code of a row is its parent code unless that is a root sentinel. Only
	// one parent link is followed.
	Loose bool
	// RootSentinels are parent codes meaning "no parent".
	RootSentinels []string
	// Roles overrides ReferenceRoles.
	Roles []RoleSpec
}

// DefaultOptions is the strict, unhierarchical resolution.
var DefaultOptions = Options{RootSentinels: []string{"", "0", "-1"}}

// Mapping is the bidirectional raw code <-> label association produced from
// a reference table. It is immutable once built.
type Mapping struct {
	labels map[string]string
	codes  map[string][]string
	sorted []string
}

// Label returns the label of raw code.
func (m *Mapping) Label(code string) (string, bool) {
	l, ok := m.labels[code]
	return l, ok
}

// Codes returns the raw codes resolving to label, in table order.
func (m *Mapping) Codes(label string) []string { return m.codes[label] }

// Labels returns the distinct labels in sorted order.
func (m *Mapping) Labels() []string { return m.sorted }

// Len returns the number of raw codes.
func (m *Mapping) Len() int { return len(m.labels) }

// normalizeLabel turns underscore-separated reference labels into words.
func normalizeLabel(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}

// Resolve builds the code -> label mapping of ref.
func Resolve(ref *table.Table, opts Options) (*Mapping, error) {
	specs := opts.Roles
	if specs == nil {
		specs = ReferenceRoles
	}
	cols, err := DiscoverRoles(ref.Path, ref.Header, specs)
	if err != nil {
		return nil, err
	}
	if opts.Loose && !cols.Has(Parent) {
		return nil, &MissingColumnError{Table: ref.Path, Role: Parent, Pattern: parentPattern.String()}
	}
	root := map[string]bool{}
	for _, s := range opts.RootSentinels {
		root[s] = true
	}

	literal := map[string]string{}
	var order []string
	for _, row := range ref.Rows {
		code := row[cols[Code]]
		if code == "" {
			continue
		}
		if _, dup := literal[code]; dup {
			log.Debug.Printf("%s: duplicate code %q, keeping first", ref.Path, code)
			continue
		}
		literal[code] = normalizeLabel(row[cols[Label]])
		order = append(order, code)
	}

	m := &Mapping{labels: map[string]string{}, codes: map[string][]string{}}
	for i, row := range ref.Rows {
		code := row[cols[Code]]
		if _, done := m.labels[code]; code == "" || done {
			continue
		}
		effective := code
		if opts.Loose {
			if parent := row[cols[Parent]]; !root[parent] {
				effective = parent
			}
		}
		label, ok := literal[effective]
		if !ok {
			log.Printf("warning: %s row %d: parent code %q of %q is not in the table; using its own label",
				ref.Path, i+2, effective, code)
			label = literal[code]
		}
		m.labels[code] = label
	}
	for _, code := range order {
		label := m.labels[code]
		m.codes[label] = append(m.codes[label], code)
	}
	for label := range m.codes {
		m.sorted = append(m.sorted, label)
	}
	sort.Strings(m.sorted)
	log.Debug.Printf("%s: resolved %d codes into %d labels (loose=%v)", ref.Path, len(m.labels), len(m.sorted), opts.Loose)
	return m, nil
}

// Load reads and resolves the reference table at path.
func Load(ctx context.Context, path string, opts Options) (*Mapping, error) {
	ref, err := table.ReadAll(ctx, path)
	if err != nil {
		return nil, err
	}
	return Resolve(ref, opts)
}

// Assignments maps individual (sample) ids to labels.
type Assignments map[string]string

// Assign resolves the code of every individual in info through m. Rows with
// an empty or unknown code are left unassigned.
func Assign(info *table.Table, m *Mapping) (Assignments, error) {
	cols, err := DiscoverRoles(info.Path, info.Header, InfoRoles)
	if err != nil {
		return nil, err
	}
	a := Assignments{}
	unknown := 0
	for _, row := range info.Rows {
		id, code := row[cols[IndividualID]], row[cols[Code]]
		label, ok := m.Label(code)
		if id == "" || !ok {
			unknown++
			continue
		}
		a[id] = label
	}
	if unknown > 0 {
		log.Printf("%s: %d of %d individuals have no resolvable code", info.Path, unknown, len(info.Rows))
	}
	return a, nil
}

// LoadAssignments resolves the reference table at refPath and applies it to
// the info table at infoPath. Every error is fatal for the run.
func LoadAssignments(ctx context.Context, refPath, infoPath string, opts Options) (*Mapping, Assignments, error) {
	m, err := Load(ctx, refPath, opts)
	if err != nil {
		return nil, nil, err
	}
	info, err := table.ReadAll(ctx, infoPath)
	if err != nil {
		return nil, nil, err
	}
	a, err := Assign(info, m)
	if err != nil {
		return nil, nil, err
	}
	if len(a) == 0 {
		return nil, nil, fmt.Errorf("%s: no individual resolves through %s", infoPath, refPath)
	}
	return m, a, nil
}
