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
package qc

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/gwas/plink"
	"github.com/grailbio/gwas/segment"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind identifies a quality-control filter.
type Kind int

const (
	// Missingness removes variants and samples with too many missing calls.
	Missingness Kind = iota
	// HWE removes variants out of Hardy-Weinberg equilibrium.
	HWE
	// MAF removes rare variants.
	MAF
)

func (k Kind) String() string {
	switch k {
	case Missingness:
		return "missingness"
	case HWE:
		return "hwe"
	case MAF:
		return "maf"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stage is a filter kind with its threshold.
type Stage struct {
	Kind      Kind
	Threshold float64
}

// Name is the provenance entry of the stage.
func (s Stage) Name() string { return s.Kind.String() }

// Command returns the engine invocation filtering in into out.
func (s Stage) Command(in, out plink.Dataset) plink.Command {
	switch s.Kind {
	case HWE:
		return plink.HWE(in, out, s.Threshold)
	case MAF:
		return plink.MAF(in, out, s.Threshold)
	}
	return plink.Missingness(in, out, s.Threshold)
}

// benign reports whether err is the expected outcome of s rather than a
// failure: a MAF filter that leaves no variants.
func (s Stage) benign(err error) bool {
	code, ok := plink.ExitCode(err)
	return s.Kind == MAF && ok && code == plink.ExitNoVariants
}

// DefaultStages returns the missingness, HWE and MAF stages in pipeline order.
func DefaultStages(missingness, hwe, maf float64) []Stage {
	return []Stage{{Missingness, missingness}, {HWE, hwe}, {MAF, maf}}
}

// Metrics counts segments per stage.
type Metrics struct {
	Survived *prometheus.CounterVec
	Dropped  *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the qc metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Survived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gwas_qc_segments_survived_total",
			Help: "Segments that passed a quality-control stage.",
		}, []string{"stage"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gwas_qc_segments_dropped_total",
			Help: "Segments dropped by a quality-control stage.",
		}, []string{"stage", "reason"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gwas_qc_engine_seconds",
			Help:    "Duration of engine invocations per stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"stage"}),
	}
}

// Runner applies stages to segments.
type Runner struct {
	Engine      plink.Engine
	Dir         string
	Parallelism int
	// Metrics, if set, is updated by every Apply.
	Metrics *Metrics
}

// Apply filters every segment with stage and returns the survivors. Each
// survivor carries the tags of its input, a new dataset under r.Dir and the
// stage appended to its provenance. Survivor order is unspecified.
func (r *Runner) Apply(ctx context.Context, segs []segment.Segment, stage Stage) []segment.Segment {
	name := stage.Name()
	survivors := Survivors(ctx, segs, r.Parallelism,
		func(ctx context.Context, s segment.Segment) (segment.Segment, error) {
			start := time.Now()
			out, err := stage.Command(s.Dataset, s.Output(r.Dir, name)).Run(ctx, r.Engine)
			if r.Metrics != nil {
				r.Metrics.Duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
			if err != nil {
				return segment.Segment{}, err
			}
			return s.Derive(name, out), nil
		},
		func(s segment.Segment, err error) {
			reason := "error"
			if stage.benign(err) {
				reason = "no_variants"
				log.Debug.Printf("%s: %s: no variants left at %s", s, name, plink.FormatThreshold(stage.Threshold))
			} else {
				log.Printf("warning: %s: %s failed, dropping segment: %v", s, name, err)
			}
			if r.Metrics != nil {
				r.Metrics.Dropped.WithLabelValues(name, reason).Inc()
			}
		})
	if r.Metrics != nil {
		r.Metrics.Survived.WithLabelValues(name).Add(float64(len(survivors)))
	}
	log.Printf("%s: %d of %d segments survived", name, len(survivors), len(segs))
	return survivors
}

// ApplyAll applies stages in order, each to the survivors of the previous.
func (r *Runner) ApplyAll(ctx context.Context, segs []segment.Segment, stages ...Stage) []segment.Segment {
	for _, stage := range stages {
		segs = r.Apply(ctx, segs, stage)
	}
	return segs
}
