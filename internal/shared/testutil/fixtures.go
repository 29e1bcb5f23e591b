package testutil

import (
	"hdxscraper/internal/admin"
	"hdxscraper/internal/reader"
)

// AdminUnits returns a small reference table with three countries and two
// provinces of Afghanistan.
func AdminUnits() []admin.Unit {
	return []admin.Unit{
		{Code: "AFG", Name: "Afghanistan", Level: 0},
		{Code: "MMR", Name: "Myanmar", Level: 0, Aliases: []string{"Burma"}},
		{Code: "SYR", Name: "Syrian Arab Republic", Level: 0, Aliases: []string{"Syria"}},
		{Code: "AF01", Name: "Kabul", Parent: "AFG", Level: 1},
		{Code: "AF02", Name: "Kapisa", Parent: "AFG", Level: 1},
	}
}

// Matcher returns a TableMatcher over AdminUnits. It panics on error.
func Matcher() *admin.TableMatcher {
	m, err := admin.NewTableMatcher(AdminUnits(), admin.MatcherOptions{})
	if err != nil {
		panic(err)
	}
	return m
}

// Rows builds rows from a header line and value lines.
func Rows(headers []string, lines ...[]any) []reader.Row {
	rows := make([]reader.Row, 0, len(lines))
	for _, line := range lines {
		row := make(reader.Row, len(headers))
		for i, h := range headers {
			if i < len(line) {
				row[h] = line[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Table returns a MemoryReader grid for the same header and value lines,
// with every cell rendered as text.
func Table(headers []string, lines ...[]string) [][]string {
	grid := make([][]string, 0, len(lines)+1)
	grid = append(grid, headers)
	grid = append(grid, lines...)
	return grid
}
