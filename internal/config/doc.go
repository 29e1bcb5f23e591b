// Package config loads the run configuration and the scraper documents.
//
// # Configuration Sources
//
// The run configuration is loaded in this order, later sources winning:
//
//	1. Defaults from struct tags
//	2. Environment variables
//	3. The YAML config file, when one is given
//
// # Environment Variables
//
// All environment variables use the HDX_ prefix:
//
//	HDX_LOGGING_LEVEL=debug
//	HDX_RUN_TODAY=2024-03-01
//	HDX_RUN_FALLBACK_FILE=previous.json
//	HDX_MATCHING_THRESHOLD=0.85
//	HDX_SERVER_ADDR=:8080
//
// # Scraper Documents
//
// Scraper definitions live in a separate YAML document keyed by scraper
// name. Declaration order is kept, since it decides run order and which
// source record wins for a tag:
//
//	scrapers:
//	  population:
//	    dataset: world-bank-population
//	    admin: [Country Code]
//	    date: Year
//	    date_type: year
//	    input: [Population]
//	    output: [Population]
//	    output_hxl: ["#population"]
//
// Documents are validated with go-playground/validator before use.
package config
