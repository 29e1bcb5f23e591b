// Package shared holds code used by several packages but owned by none.
//
// The testutil subpackage provides a slog capture handler and the admin and
// row fixtures that scraper, runner and selection tests share.
package shared
