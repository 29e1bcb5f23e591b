// Package app wires the scraper run together and manages its lifecycle.
//
// Initialization follows a fixed order:
//
//	1. Load configuration from environment and files
//	2. Initialize logging and telemetry
//	3. Build the source readers, catalog and admin matcher
//	4. Load the region table and the fallback results
//	5. Register the units of the scraper document with a runner
//
// Run performs one run and writes its results. Serve performs one run and
// then serves the results over HTTP until its context ends.
package app
