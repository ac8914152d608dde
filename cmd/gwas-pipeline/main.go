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
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/gwas/phenotype"
	"github.com/grailbio/gwas/pipeline"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/reference"
	"github.com/grailbio/gwas/summary"
	"v.io/x/lib/cmdline"
)

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "run",
		Short: "Run the whole pipeline",
		Long: `
Run reads its settings from -config (TOML or YAML), then from GWAS_*
environment variables, then from the flags below.`,
	}
	configPath := cmd.Flags.String("config", "", "TOML or YAML configuration file")
	var cfg pipeline.Config
	cmd.Flags.StringVar(&cfg.Input, "input", "", "Genotype input: .vcf, .vcf.gz, .ped or .bed")
	cmd.Flags.StringVar(&cfg.WorkDir, "work-dir", "", "Directory for intermediate filesets")
	cmd.Flags.StringVar(&cfg.OutputPrefix, "out", "", "Report path prefix")
	cmd.Flags.StringVar(&cfg.Plink, "plink", "", "plink executable; defaults to plink on PATH")
	cmd.Flags.IntVar(&cfg.Parallelism, "parallelism", 0, "Maximum concurrent engine invocations")
	cmd.Flags.IntVar(&cfg.Mperm, "mperm", 0, "Number of max(T) permutations; 0 disables them")
	cmd.Flags.BoolVar(&cfg.LDCorrect, "ld-correct", false, "Use the LD-pruned variant count as the correction factor")
	cmd.Flags.StringVar(&cfg.Metrics, "metrics", "", "Write Prometheus metrics to this file")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("run takes no arguments, but got %v", argv)
		}
		ctx := vcontext.Background()
		loaded, err := pipeline.LoadConfig(ctx, *configPath)
		if err != nil {
			return err
		}
		cmd.Flags.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "input":
				loaded.Input = cfg.Input
			case "work-dir":
				loaded.WorkDir = cfg.WorkDir
			case "out":
				loaded.OutputPrefix = cfg.OutputPrefix
			case "plink":
				loaded.Plink = cfg.Plink
			case "parallelism":
				loaded.Parallelism = cfg.Parallelism
			case "mperm":
				loaded.Mperm = cfg.Mperm
			case "ld-correct":
				loaded.LDCorrect = cfg.LDCorrect
			case "metrics":
				loaded.Metrics = cfg.Metrics
			}
		})
		engine, err := pipeline.NewEngine(loaded)
		if err != nil {
			return err
		}
		res, err := pipeline.Run(ctx, loaded, engine)
		if err != nil {
			return err
		}
		for _, r := range res.Reports {
			fmt.Fprintf(env.Stdout, "%s\t%d\n", r.Path, r.Rows)
		}
		return nil
	})
	return cmd
}

func newCmdResolve() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "resolve",
		Short:    "Print the labels a reference table resolves to",
		ArgsName: "reference [info]",
		ArgsLong: `
With one argument, print code and label for every code of the reference
table. With an info table as well, print individual id and label.`,
	}
	loose := cmd.Flags.Bool("loose", false, "Collapse codes onto their parent code")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 1 || len(argv) > 2 {
			return fmt.Errorf("resolve takes reference [info], but got %v", argv)
		}
		ctx := vcontext.Background()
		opts := reference.DefaultOptions
		opts.Loose = *loose
		if len(argv) == 1 {
			m, err := reference.Load(ctx, argv[0], opts)
			if err != nil {
				return err
			}
			for _, label := range m.Labels() {
				for _, code := range m.Codes(label) {
					fmt.Fprintf(env.Stdout, "%s\t%s\n", code, label)
				}
			}
			return nil
		}
		_, a, err := reference.LoadAssignments(ctx, argv[0], argv[1], opts)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(a))
		for id := range a {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(env.Stdout, "%s\t%s\n", id, a[id])
		}
		return nil
	})
	return cmd
}

func newCmdPhenotypes() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "phenotypes",
		Short:    "Extract narrow phenotype tables from a wide table",
		ArgsName: "dataset-prefix wide-table",
	}
	out := cmd.Flags.String("out", "", "Output prefix; defaults to the dataset prefix")
	minValidity := cmd.Flags.Float64("min-validity", phenotype.DefaultMinValidity, "Smallest fraction of numeric values for a column to be kept")
	parallelism := cmd.Flags.Int("parallelism", 4, "Maximum concurrent table writes")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("phenotypes takes dataset-prefix wide-table, but got %v", argv)
		}
		prefix := *out
		if prefix == "" {
			prefix = argv[0]
		}
		e := &phenotype.Extractor{MinValidity: *minValidity, Parallelism: *parallelism}
		fields, err := e.Extract(vcontext.Background(), plink.Dataset{Prefix: argv[0]}, argv[1], prefix)
		if err != nil {
			return err
		}
		for _, f := range fields {
			fmt.Fprintf(env.Stdout, "%s\t%s\t%d\t%.3f\n", f.Label(), f.Path, f.Rows, f.Validity)
		}
		return nil
	})
	return cmd
}

func newCmdSummarize() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "summarize",
		Short:    "Merge association results listed in a manifest into reports",
		ArgsName: "manifest",
	}
	out := cmd.Flags.String("out", "summary", "Report path prefix")
	factor := cmd.Flags.Float64("factor", 1, "Bonferroni correction factor")
	alpha := cmd.Flags.Float64("alpha", summary.DefaultAlpha, "Significance level")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("summarize takes a manifest path, but got %v", argv)
		}
		ctx := vcontext.Background()
		inputs, err := summary.ReadManifest(ctx, argv[0])
		if err != nil {
			return err
		}
		reports, err := summary.Summarize(ctx, inputs, summary.Options{Prefix: *out, Factor: *factor, Alpha: *alpha})
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Fprintf(env.Stdout, "%s\t%d\n", r.Path, r.Rows)
		}
		return nil
	})
	return cmd
}

func main() {
	shutdown := grail.Init()
	cmdline.HideGlobalFlagsExcept()
	root := &cmdline.Command{
		Name:     "gwas-pipeline",
		Short:    "Stratified quality control and association testing of genotype data",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdRun(),
			newCmdResolve(),
			newCmdPhenotypes(),
			newCmdSummarize(),
		},
	}
	env := cmdline.EnvFromOS()
	err := cmdline.ParseAndRun(root, env, os.Args[1:])
	shutdown()
	os.Exit(cmdline.ExitCode(err, env.Stderr))
}
