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
package summary

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// WriteManifest records inputs so that Summarize can be rerun without the
// rest of the pipeline.
func WriteManifest(ctx context.Context, path string, inputs []Input) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewRowWriter(out.Writer(ctx))
	for i := range inputs {
		if err = w.Write(&inputs[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadManifest reads a file written by WriteManifest.
func ReadManifest(ctx context.Context, path string) (inputs []Input, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := tsv.NewReader(in.Reader(ctx))
	r.HasHeaderRow = true
	r.UseHeaderNames = true
	for {
		var input Input
		if err = r.Read(&input); err != nil {
			if err == io.EOF {
				return inputs, nil
			}
			return nil, err
		}
		inputs = append(inputs, input)
	}
}
