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
package reference_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/gwas/reference"
	"github.com/grailbio/gwas/table"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ethnicRef = &table.Table{
	Path:   "coding1001.tsv",
	Header: []string{"coding", "meaning", "node_id", "parent_id"},
	Rows: [][]string{
		{"1", "White", "1", "0"},
		{"1001", "British", "2", "1"},
		{"1002", "Irish", "3", "1"},
		{"2", "Mixed", "4", "0"},
		{"2001", "White_and_Black_Caribbean", "5", "2"},
		{"5", "Chinese", "6", "-1"},
		{"9001", "Orphan", "7", "77"},
	},
}

func TestResolveStrict(t *testing.T) {
	m, err := reference.Resolve(ethnicRef, reference.DefaultOptions)
	require.NoError(t, err)
	label, ok := m.Label("2001")
	assert.True(t, ok)
	assert.Equal(t, "White and Black Caribbean", label)
	label, _ = m.Label("1001")
	assert.Equal(t, "British", label)
	assert.Equal(t, 7, m.Len())
	assert.Len(t, m.Labels(), 7)
	_, ok = m.Label("3")
	assert.False(t, ok)
}

func TestResolveLoose(t *testing.T) {
	opts := reference.DefaultOptions
	opts.Loose = true
	m, err := reference.Resolve(ethnicRef, opts)
	require.NoError(t, err)
	for code, want := range map[string]string{
		"1": "White", "1001": "White", "1002": "White",
		"2": "Mixed", "2001": "Mixed",
		"5": "Chinese",
		// Unknown parent falls back to the row's own label.
		"9001": "Orphan",
	} {
		got, ok := m.Label(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, got, code)
	}
	assert.Equal(t, []string{"Chinese", "Mixed", "Orphan", "White"}, m.Labels())
	assert.Equal(t, []string{"1", "1001", "1002"}, m.Codes("White"))
}

func TestResolveLooseOneLevel(t *testing.T) {
	ref := &table.Table{
		Header: []string{"coding", "meaning", "parent_id"},
		Rows: [][]string{
			{"1", "Top", "0"},
			{"10", "Middle", "1"},
			{"100", "Leaf", "10"},
		},
	}
	opts := reference.DefaultOptions
	opts.Loose = true
	m, err := reference.Resolve(ref, opts)
	require.NoError(t, err)
	label, _ := m.Label("100")
	assert.Equal(t, "Middle", label)
}

func TestResolveLooseNeedsParent(t *testing.T) {
	ref := &table.Table{Header: []string{"coding", "meaning"}, Rows: [][]string{{"1", "A"}}}
	opts := reference.DefaultOptions
	opts.Loose = true
	_, err := reference.Resolve(ref, opts)
	assert.True(t, reference.IsMissingColumn(err), "err=%v", err)
}

func TestLoadAssignments(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	refPath := filepath.Join(tempDir, "ref.csv")
	infoPath := filepath.Join(tempDir, "info.tsv")
	require.NoError(t, ioutil.WriteFile(refPath, []byte("coding,meaning\n1,A\n2,B\n3,C\n"), 0644))
	require.NoError(t, ioutil.WriteFile(infoPath,
		[]byte("f.eid\tethnic\ni1\t1\ni2\t1\ni3\t2\ni4\t2\ni5\t3\ni6\t3\ni7\t8\n"), 0644))

	m, a, err := reference.LoadAssignments(ctx, refPath, infoPath, reference.DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, m.Labels())
	assert.Equal(t, reference.Assignments{
		"i1": "A", "i2": "A", "i3": "B", "i4": "B", "i5": "C", "i6": "C",
	}, a)
}

func TestLoadUnsupported(t *testing.T) {
	_, err := reference.Load(context.Background(), "ref.json", reference.DefaultOptions)
	assert.True(t, table.IsUnsupportedFormat(err), "err=%v", err)
}
