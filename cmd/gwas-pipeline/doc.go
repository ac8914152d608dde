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

/*
gwas-pipeline runs a genome-wide association study on a genotype dataset:
it splits the cohort by ethnic (and optionally gender) labels, filters each
segment for missingness, Hardy-Weinberg equilibrium and minor allele
frequency, tests every accepted phenotype for association, and writes
Bonferroni-corrected summary reports.

The statistics are computed by an external plink executable, found on PATH
or given with -plink / GWAS_PLINK.

Sample usage:
gwas-pipeline run -config gwas.toml
gwas-pipeline resolve -loose coding1001.tsv ethnic.csv
gwas-pipeline phenotypes -out work/pheno work/input phenotypes.txt
gwas-pipeline summarize -factor 412345 -out summary work/assoc-manifest.tsv
*/
package main
