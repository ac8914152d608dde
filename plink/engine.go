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
	goerrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// ExitNoVariants is the exit status plink uses when a filter leaves no
// variants in the output fileset.
const ExitNoVariants = 12

// Engine runs one synchronous invocation of the genotype-statistics engine.
// A nil error means the invocation exited with status 0.
type Engine interface {
	Run(ctx context.Context, args ...string) error
}

// ExitError reports an engine invocation that ran to completion with a
// nonzero exit status.
type ExitError struct {
	Args []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("plink %s: exit status %d", strings.Join(e.Args, " "), e.Code)
}

// ExitCode extracts the engine exit status from err. The second result is
// false if err does not carry an exit status, e.g., because the process could
// not be started or was killed by cancellation.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if goerrors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// Exec runs the engine as a child process. Stdout is always discarded.
type Exec struct {
	// Path is the absolute path of the plink executable.
	Path string
	// Timeout bounds each invocation. Zero means no bound other than the
	// context passed to Run.
	Timeout time.Duration
	// Stderr receives the engine's diagnostics. Nil discards them.
	Stderr io.Writer
}

// Run implements Engine.
func (e *Exec) Run(ctx context.Context, args ...string) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Stderr = e.Stderr
	log.Debug.Printf("exec: %s %s", e.Path, strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		return nil
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.E(errors.Timeout, fmt.Sprintf("plink %s", strings.Join(args, " ")), err)
	case context.Canceled:
		return errors.E(errors.Canceled, fmt.Sprintf("plink %s", strings.Join(args, " ")), err)
	}
	var exitErr *exec.ExitError
	if goerrors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return &ExitError{Args: args, Code: exitErr.ExitCode()}
	}
	return errors.E(errors.Unavailable, fmt.Sprintf("plink %s", strings.Join(args, " ")), err)
}

// Lookup resolves the engine executable. An empty name means "plink" on
// $PATH; a name containing a path separator must name an existing file.
func Lookup(name string) (string, error) {
	if name == "" {
		name = "plink"
	}
	if strings.ContainsRune(name, filepath.Separator) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", errors.E(errors.NotExist, "plink executable", abs, err)
		}
		return abs, nil
	}
	path, err := lookpath.Look(envvar.SliceToMap(os.Environ()), name)
	if err != nil {
		return "", errors.E(errors.NotExist, fmt.Sprintf("%s not found in PATH", name), err)
	}
	return path, nil
}
