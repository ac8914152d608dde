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

// Package qc applies quality-control filters to population segments.
//
// Every filter is an engine invocation per segment. Invocations run
// concurrently and independently; a segment whose invocation fails is
// dropped from the result and never retried.
package qc

import (
	"context"

	"github.com/grailbio/base/traverse"
)

// Survivors calls fn on every item, running at most parallelism calls at a
// time, and returns the results of the calls that succeeded in input order.
// Each failed item is passed to drop (if non-nil) and left out of the
// result. Survivors itself never fails; once ctx is done the remaining
// calls are expected to fail fast.
func Survivors[T, R any](ctx context.Context, items []T, parallelism int,
	fn func(context.Context, T) (R, error), drop func(T, error)) []R {
	if parallelism <= 0 {
		parallelism = 1
	}
	results := make([]R, len(items))
	ok := make([]bool, len(items))
	_ = traverse.Limit(parallelism).Each(len(items), func(i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			if drop != nil {
				drop(items[i], err)
			}
			return nil
		}
		results[i], ok[i] = r, true
		return nil
	})
	survivors := make([]R, 0, len(items))
	for i, r := range results {
		if ok[i] {
			survivors = append(survivors, r)
		}
	}
	return survivors
}
