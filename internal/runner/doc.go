// Package runner executes scraper units in a deterministic order and merges
// what they produce into per level results.
//
// Units run in three tiers: the names the caller prioritises, then the units
// that feed the population registry, then everything else, each tier in
// registration order. A failed unit is replaced by cached results from a
// previous run when its level is available there, otherwise its columns are
// left out and the failure is reported in the run's ErrorList.
//
// Results are merged in registration order regardless of the order or
// concurrency units ran with, so the same inputs always produce the same
// output.
package runner
