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
package pipeline

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Gender handling modes.
const (
	// GenderNone leaves segments untagged by gender.
	GenderNone = ""
	// GenderDivide partitions segments by gender label with keep lists.
	GenderDivide = "divide"
	// GenderUpdate patches the sex codes in place.
	GenderUpdate = "update"
	// GenderPartition patches the sex codes, then splits males and females.
	GenderPartition = "partition"
)

// Config configures a pipeline run. Every field can be set from a TOML or
// YAML file and overridden by a GWAS_-prefixed environment variable.
type Config struct {
	// Input is a .vcf, .vcf.gz, .ped or .bed genotype file.
	Input   string `toml:"input" yaml:"input" envconfig:"INPUT"`
	WorkDir string `toml:"work_dir" yaml:"work_dir" envconfig:"WORK_DIR"`
	// OutputPrefix prefixes the report files.
	OutputPrefix string `toml:"output_prefix" yaml:"output_prefix" envconfig:"OUTPUT_PREFIX"`

	EthnicReference string   `toml:"ethnic_reference" yaml:"ethnic_reference" envconfig:"ETHNIC_REFERENCE"`
	EthnicInfo      string   `toml:"ethnic_info" yaml:"ethnic_info" envconfig:"ETHNIC_INFO"`
	LooseEthnic     bool     `toml:"loose_ethnic" yaml:"loose_ethnic" envconfig:"LOOSE_ETHNIC"`
	RootSentinels   []string `toml:"root_sentinels" yaml:"root_sentinels" envconfig:"ROOT_SENTINELS"`
	GenderReference string   `toml:"gender_reference" yaml:"gender_reference" envconfig:"GENDER_REFERENCE"`
	GenderInfo      string   `toml:"gender_info" yaml:"gender_info" envconfig:"GENDER_INFO"`
	GenderMode      string   `toml:"gender_mode" yaml:"gender_mode" envconfig:"GENDER_MODE"`
	// DropFailedLabels drops a label whose extraction fails instead of
	// failing the run.
	DropFailedLabels bool `toml:"drop_failed_labels" yaml:"drop_failed_labels" envconfig:"DROP_FAILED_LABELS"`

	Phenotypes  string  `toml:"phenotypes" yaml:"phenotypes" envconfig:"PHENOTYPES"`
	MinValidity float64 `toml:"min_validity" yaml:"min_validity" envconfig:"MIN_VALIDITY"`

	Missingness float64 `toml:"missingness" yaml:"missingness" envconfig:"MISSINGNESS"`
	HWE         float64 `toml:"hwe" yaml:"hwe" envconfig:"HWE"`
	MAF         float64 `toml:"maf" yaml:"maf" envconfig:"MAF"`

	Alpha     float64 `toml:"alpha" yaml:"alpha" envconfig:"ALPHA"`
	Mperm     int     `toml:"mperm" yaml:"mperm" envconfig:"MPERM"`
	LDCorrect bool    `toml:"ld_correct" yaml:"ld_correct" envconfig:"LD_CORRECT"`

	Plink         string        `toml:"plink" yaml:"plink" envconfig:"PLINK"`
	Parallelism   int           `toml:"parallelism" yaml:"parallelism" envconfig:"PARALLELISM"`
	EngineTimeout time.Duration `toml:"engine_timeout" yaml:"engine_timeout" envconfig:"ENGINE_TIMEOUT"`
	// Metrics, if set, receives the run's counters in the Prometheus text
	// format.
	Metrics string `toml:"metrics" yaml:"metrics" envconfig:"METRICS"`
}

// DefaultConfig holds the default thresholds.
var DefaultConfig = Config{
	RootSentinels: []string{"", "0", "-1"},
	MinValidity:   0.9,
	Missingness:   0.02,
	HWE:           1e-6,
	MAF:           0.01,
	Alpha:         0.05,
	Parallelism:   4,
}

// LoadConfig reads DefaultConfig overridden by the file at path (.toml,
// .yaml or .yml; empty for none) and then by GWAS_* environment variables.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	cfg := DefaultConfig
	cfg.RootSentinels = append([]string(nil), DefaultConfig.RootSentinels...)
	if path != "" {
		data, err := readFile(ctx, path)
		if err != nil {
			return cfg, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return cfg, errors.E(errors.Invalid, fmt.Sprintf("parse %s", path), err)
			}
		case ".yaml", ".yml":
			if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
				return cfg, errors.E(errors.Invalid, fmt.Sprintf("parse %s", path), err)
			}
		default:
			return cfg, errors.E(errors.NotSupported, fmt.Sprintf("unsupported config format: %s", path))
		}
	}
	if err := envconfig.Process("gwas", &cfg); err != nil {
		return cfg, errors.E(errors.Invalid, "environment", err)
	}
	return cfg, nil
}

func readFile(ctx context.Context, path string) (data []byte, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	return ioutil.ReadAll(in.Reader(ctx))
}

// Validate checks that cfg describes a runnable pipeline.
func (c *Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"input": c.Input, "work_dir": c.WorkDir, "output_prefix": c.OutputPrefix,
		"ethnic_reference": c.EthnicReference, "ethnic_info": c.EthnicInfo, "phenotypes": c.Phenotypes,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.E(errors.Invalid, fmt.Sprintf("missing required settings: %s", strings.Join(missing, ", ")))
	}
	switch c.GenderMode {
	case GenderNone:
	case GenderDivide, GenderUpdate, GenderPartition:
		if c.GenderReference == "" || c.GenderInfo == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("gender_mode %q needs gender_reference and gender_info", c.GenderMode))
		}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("unknown gender_mode %q", c.GenderMode))
	}
	for _, t := range []struct {
		name string
		v    float64
	}{{"missingness", c.Missingness}, {"hwe", c.HWE}, {"maf", c.MAF}, {"alpha", c.Alpha}, {"min_validity", c.MinValidity}} {
		if t.v <= 0 || t.v > 1 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s must be in (0, 1], got %v", t.name, t.v))
		}
	}
	if c.Mperm < 0 || c.Parallelism < 0 || c.EngineTimeout < 0 {
		return errors.E(errors.Invalid, "mperm, parallelism and engine_timeout must not be negative")
	}
	return nil
}
