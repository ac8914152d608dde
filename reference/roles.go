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
package reference

import (
	goerrors "errors"
	"fmt"
	"regexp"
)

// Role is the meaning of a column in a reference or info table.
type Role int

const (
	// Code holds the raw category code.
	Code Role = iota
	// Label holds the human-readable category name.
	Label
	// IndividualID holds the sample id of an individual.
	IndividualID
	// Parent holds the code of the enclosing category.
	Parent
)

func (r Role) String() string {
	switch r {
	case Code:
		return "CODE"
	case Label:
		return "LABEL"
	case IndividualID:
		return "INDIVIDUAL_ID"
	case Parent:
		return "PARENT_ID"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// RoleSpec describes how to recognize the column playing Role. A column
// matches if Pattern matches its name and Exclude (if set) does not.
type RoleSpec struct {
	Role     Role
	Pattern  *regexp.Regexp
	Exclude  *regexp.Regexp
	Required bool
}

func (s RoleSpec) matches(name string) bool {
	return s.Pattern.MatchString(name) && (s.Exclude == nil || !s.Exclude.MatchString(name))
}

var (
	codePattern   = regexp.MustCompile(`(?i)cod(e|ing)`)
	labelPattern  = regexp.MustCompile(`(?i)mean`)
	idPattern     = regexp.MustCompile(`(?i)id`)
	parentPattern = regexp.MustCompile(`(?i)original|parent`)
	// Info tables name the code column after the coding, the attribute, or a
	// field.instance.array identifier.
	infoCodePattern = regexp.MustCompile(`(?i)cod(e|ing)|ethnic|gender|sex|^f\.\d+\.\d+\.\d+$`)
)

// ReferenceRoles recognizes the columns of a coding table, in priority
// order. The parent column is only required in loose mode; see
// Options.Loose.
var ReferenceRoles = []RoleSpec{
	{Role: Code, Pattern: codePattern, Exclude: parentPattern, Required: true},
	{Role: Label, Pattern: labelPattern, Required: true},
	{Role: Parent, Pattern: parentPattern},
}

// InfoRoles recognizes the columns of a per-individual info table.
var InfoRoles = []RoleSpec{
	{Role: IndividualID, Pattern: idPattern, Required: true},
	{Role: Code, Pattern: infoCodePattern, Exclude: parentPattern, Required: true},
}

// MissingColumnError reports a required role with no matching column.
type MissingColumnError struct {
	Table   string
	Role    Role
	Pattern string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: no column matches %s (pattern %q)", e.Table, e.Role, e.Pattern)
}

// IsMissingColumn reports whether err is a MissingColumnError.
func IsMissingColumn(err error) bool {
	var e *MissingColumnError
	return goerrors.As(err, &e)
}

// Columns maps each discovered role to its column index.
type Columns map[Role]int

// Has reports whether role was discovered.
func (c Columns) Has(role Role) bool {
	_, ok := c[role]
	return ok
}

// DiscoverRoles assigns columns of header to roles. Specs are evaluated in
// order; each takes the leftmost matching column not already taken by an
// earlier spec. The first required spec without a match yields a
// *MissingColumnError.
func DiscoverRoles(tableName string, header []string, specs []RoleSpec) (Columns, error) {
	cols := Columns{}
	taken := make([]bool, len(header))
	for _, spec := range specs {
		found := -1
		for i, name := range header {
			if !taken[i] && spec.matches(name) {
				found = i
				break
			}
		}
		if found < 0 {
			if spec.Required {
				return nil, &MissingColumnError{Table: tableName, Role: spec.Role, Pattern: spec.Pattern.String()}
			}
			continue
		}
		taken[found] = true
		cols[spec.Role] = found
	}
	return cols, nil
}
