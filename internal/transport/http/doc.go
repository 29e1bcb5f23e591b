// Package http serves the results of scraper runs over HTTP.
//
// Handlers stay thin: they read from a Service and render JSON through
// chi/render. Application errors are mapped to status codes by
// errors.ToAPIError.
//
//	GET  /healthz             liveness
//	GET  /metrics             Prometheus exposition, when enabled
//	GET  /api/results         merged results of every level
//	GET  /api/results/{level} merged result of one level
//	GET  /api/tables          tables written by time series
//	GET  /api/tables/{name}   one table, header and tag rows first
//	GET  /api/sources         every source record of the last run
//	GET  /api/states          unit states of the last run
//	POST /api/runs            start a run and wait for it
package http
