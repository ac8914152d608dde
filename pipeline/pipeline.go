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

// Package pipeline wires the stages of a genome-wide association run:
// input standardization, ethnic and gender division, quality control,
// phenotype extraction, association tests and summarization.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gwas/assoc"
	"github.com/grailbio/gwas/phenotype"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/qc"
	"github.com/grailbio/gwas/reference"
	"github.com/grailbio/gwas/segment"
	"github.com/grailbio/gwas/summary"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// ManifestName is the association manifest written under the work dir.
const ManifestName = "assoc-manifest.tsv"

// Result describes a finished run.
type Result struct {
	Dataset  plink.Dataset
	Segments []segment.Segment
	Fields   []phenotype.Field
	Inputs   []summary.Input
	Factor   int
	Reports  []summary.Report
}

// NewEngine returns the engine described by cfg.
func NewEngine(cfg Config) (plink.Engine, error) {
	path, err := plink.Lookup(cfg.Plink)
	if err != nil {
		return nil, err
	}
	return &plink.Exec{Path: path, Timeout: cfg.EngineTimeout}, nil
}

type metrics struct {
	*qc.Metrics
	segments prometheus.Gauge
	fields   prometheus.Gauge
	tests    *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	f := promauto.With(reg)
	return &metrics{
		Metrics: qc.NewMetrics(reg),
		segments: f.NewGauge(prometheus.GaugeOpts{
			Name: "gwas_segments",
			Help: "Segments entering quality control.",
		}),
		fields: f.NewGauge(prometheus.GaugeOpts{
			Name: "gwas_phenotype_fields",
			Help: "Accepted phenotype fields.",
		}),
		tests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gwas_association_tests_total",
			Help: "Association tests by outcome.",
		}, []string{"outcome"}),
	}
}

// Run runs the whole pipeline with engine. Configuration problems, bad
// reference tables and summarization shape mismatches abort the run; failed
// segments and rejected phenotype columns only shrink it.
func Run(ctx context.Context, cfg Config, engine plink.Engine) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	if cfg.Metrics != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(cfg.Metrics, reg); err != nil {
				log.Error.Printf("write metrics %s: %v", cfg.Metrics, err)
			}
		}()
	}
	// The engine writes through local paths.
	for _, dir := range []string{"", "segments", "qc", "ld", "assoc"} {
		if err := os.MkdirAll(filepath.Join(cfg.WorkDir, dir), 0755); err != nil {
			return nil, errors.E(fmt.Sprintf("create work dir %s", cfg.WorkDir), err)
		}
	}
	res := &Result{}

	var err error
	res.Dataset, err = plink.Standardize(ctx, engine, cfg.Input, plink.Dataset{Prefix: filepath.Join(cfg.WorkDir, "input")})
	if err != nil {
		return nil, err
	}

	// Reference resolution and phenotype extraction are independent; the
	// first fatal error cancels the others.
	var ethnic, gender reference.Assignments
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		opts := reference.Options{Loose: cfg.LooseEthnic, RootSentinels: cfg.RootSentinels}
		_, a, err := reference.LoadAssignments(gctx, cfg.EthnicReference, cfg.EthnicInfo, opts)
		ethnic = a
		return err
	})
	if cfg.GenderMode != GenderNone {
		g.Go(func() error {
			opts := reference.Options{RootSentinels: cfg.RootSentinels}
			_, a, err := reference.LoadAssignments(gctx, cfg.GenderReference, cfg.GenderInfo, opts)
			gender = a
			return err
		})
	}
	g.Go(func() error {
		e := &phenotype.Extractor{MinValidity: cfg.MinValidity, Parallelism: cfg.Parallelism}
		fields, err := e.Extract(gctx, res.Dataset, cfg.Phenotypes, filepath.Join(cfg.WorkDir, "phenotype"))
		res.Fields = fields
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(res.Fields) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: no usable phenotype column", cfg.Phenotypes))
	}
	m.fields.Set(float64(len(res.Fields)))

	segs, err := divide(ctx, cfg, engine, res.Dataset, ethnic, gender)
	if err != nil {
		return nil, err
	}
	m.segments.Set(float64(len(segs)))

	qcDir := filepath.Join(cfg.WorkDir, "qc")
	runner := &qc.Runner{Engine: engine, Dir: qcDir, Parallelism: cfg.Parallelism, Metrics: m.Metrics}
	res.Segments = runner.ApplyAll(ctx, segs, qc.DefaultStages(cfg.Missingness, cfg.HWE, cfg.MAF)...)
	if len(res.Segments) == 0 {
		return nil, errors.E(errors.Invalid, "no segment survived quality control")
	}

	res.Factor, err = assoc.CorrectionFactor(ctx, engine, filepath.Join(cfg.WorkDir, "ld"), res.Segments, cfg.LDCorrect, cfg.Parallelism)
	if err != nil {
		return nil, err
	}
	tests := assoc.Tests(res.Segments, res.Fields)
	ar := &assoc.Runner{Engine: engine, Dir: filepath.Join(cfg.WorkDir, "assoc"), Parallelism: cfg.Parallelism, Mperm: cfg.Mperm}
	res.Inputs = ar.Run(ctx, tests)
	m.tests.WithLabelValues("ok").Add(float64(len(res.Inputs)))
	m.tests.WithLabelValues("failed").Add(float64(len(tests) - len(res.Inputs)))
	if len(res.Inputs) == 0 {
		return nil, errors.E(errors.Invalid, "every association test failed")
	}
	if err := summary.WriteManifest(ctx, filepath.Join(cfg.WorkDir, ManifestName), res.Inputs); err != nil {
		return nil, err
	}
	res.Reports, err = summary.Summarize(ctx, res.Inputs, summary.Options{
		Prefix: cfg.OutputPrefix,
		Factor: float64(res.Factor),
		Alpha:  cfg.Alpha,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("done: %d segments, %d phenotypes, %d reports", len(res.Segments), len(res.Fields), len(res.Reports))
	return res, nil
}

// divide splits the dataset by ethnic label, then each ethnic segment by
// gender according to cfg.GenderMode.
func divide(ctx context.Context, cfg Config, engine plink.Engine, d plink.Dataset, ethnic, gender reference.Assignments) ([]segment.Segment, error) {
	policy := segment.AbortOnFailure
	if cfg.DropFailedLabels {
		policy = segment.DropOnFailure
	}
	div := &segment.Divider{Engine: engine, Dir: filepath.Join(cfg.WorkDir, "segments"), Policy: policy, Parallelism: cfg.Parallelism}
	segs, err := div.DivideByCategory(ctx, segment.New(d), segment.Ethnic, ethnic)
	if err != nil {
		return nil, err
	}
	if cfg.GenderMode == GenderNone {
		return segs, nil
	}
	var out []segment.Segment
	for _, s := range segs {
		var sub []segment.Segment
		switch cfg.GenderMode {
		case GenderDivide:
			sub, err = div.DivideByCategory(ctx, s, segment.Gender, gender)
		default:
			sub, err = div.UpdateSex(ctx, s, gender, cfg.GenderMode == GenderPartition)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}
