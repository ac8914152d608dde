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
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigTOML(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "gwas.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
input = "cohort.bed"
maf = 0.05
gender_mode = "partition"
engine_timeout = "5m"
root_sentinels = ["0"]
`), 0644))
	t.Setenv("GWAS_PARALLELISM", "16")
	t.Setenv("GWAS_MAF", "0.2")

	cfg, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cohort.bed", cfg.Input)
	assert.Equal(t, 0.2, cfg.MAF)
	assert.Equal(t, 16, cfg.Parallelism)
	assert.Equal(t, GenderPartition, cfg.GenderMode)
	assert.Equal(t, 5*time.Minute, cfg.EngineTimeout)
	assert.Equal(t, []string{"0"}, cfg.RootSentinels)
	// Untouched defaults.
	assert.Equal(t, 1e-6, cfg.HWE)
	assert.Equal(t, 0.05, cfg.Alpha)
	assert.Equal(t, []string{"", "0", "-1"}, DefaultConfig.RootSentinels)
}

func TestLoadConfigYAML(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "gwas.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("input: cohort.vcf.gz\nhwe: 0.00001\nld_correct: true\nengine_timeout: 30s\n"), 0644))
	cfg, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cohort.vcf.gz", cfg.Input)
	assert.Equal(t, 0.00001, cfg.HWE)
	assert.True(t, cfg.LDCorrect)
	assert.Equal(t, 30*time.Second, cfg.EngineTimeout)

	require.NoError(t, ioutil.WriteFile(path, []byte("bogus: 1\n"), 0644))
	_, err = LoadConfig(context.Background(), path)
	assert.True(t, errors.Is(errors.Invalid, err), "err=%v", err)
}

func TestLoadConfigUnsupported(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "gwas.json")
	require.NoError(t, ioutil.WriteFile(path, []byte("{}"), 0644))
	_, err := LoadConfig(context.Background(), path)
	assert.True(t, errors.Is(errors.NotSupported, err), "err=%v", err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig
	assert.Error(t, cfg.Validate())

	cfg.Input, cfg.WorkDir, cfg.OutputPrefix = "x.bed", "/tmp/w", "/tmp/w/summary"
	cfg.EthnicReference, cfg.EthnicInfo, cfg.Phenotypes = "r.csv", "i.csv", "p.txt"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.GenderMode = GenderUpdate
	assert.Error(t, bad.Validate())
	bad.GenderReference, bad.GenderInfo = "g.csv", "gi.csv"
	assert.NoError(t, bad.Validate())
	bad.GenderMode = "shuffle"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MAF = 0
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.Mperm = -1
	assert.Error(t, bad.Validate())
}
