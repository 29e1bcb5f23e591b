package reader

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	apperrors "hdxscraper/internal/errors"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SheetsReader reads Google Sheets tabs through the Sheets API.
type SheetsReader struct {
	service *sheets.Service
	logger  *slog.Logger
}

// NewSheetsReader creates a reader authenticated with service account
// credentials, or with an API key when no credentials are given.
func NewSheetsReader(ctx context.Context, credentialsJSON []byte, apiKey string, logger *slog.Logger) (*SheetsReader, error) {
	var opt option.ClientOption
	switch {
	case len(credentialsJSON) > 0:
		opt = option.WithCredentialsJSON(credentialsJSON)
	case apiKey != "":
		opt = option.WithAPIKey(apiKey)
	default:
		return nil, apperrors.NewConfigError("google sheets needs credentials or an api key", nil)
	}
	service, err := sheets.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsReader{service: service, logger: loggerOrDefault(logger)}, nil
}

// SpreadsheetID extracts the spreadsheet id from a sheets URL or a
// gsheet://id locator.
func SpreadsheetID(url string) (string, bool) {
	if id, ok := strings.CutPrefix(url, "gsheet://"); ok {
		id, _, _ = strings.Cut(id, "/")
		return id, id != ""
	}
	m := spreadsheetIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Read implements Reader
func (r *SheetsReader) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	id, ok := SpreadsheetID(src.URL)
	if !ok {
		return Headers{}, nil, apperrors.NewConfigError(fmt.Sprintf("not a google sheets url: %s", src.URL), nil)
	}
	sheetRange := src.Sheet
	if sheetRange == "" {
		meta, err := r.service.Spreadsheets.Get(id).Context(ctx).Do()
		if err != nil {
			return Headers{}, nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("spreadsheet %s", id), err)
		}
		if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
			return Headers{}, nil, apperrors.NewFormatError(fmt.Sprintf("spreadsheet %s has no sheets", id), nil)
		}
		sheetRange = meta.Sheets[0].Properties.Title
	}
	resp, err := r.service.Spreadsheets.Values.Get(id, sheetRange).Context(ctx).Do()
	if err != nil {
		return Headers{}, nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("sheet %s of %s", sheetRange, id), err)
	}
	records := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rec := make([]string, len(row))
		for j, cell := range row {
			rec[j] = cellString(cell)
		}
		records[i] = rec
	}
	r.logger.Debug("sheet_selected",
		slog.String("source", src.Name),
		slog.String("sheet", sheetRange),
		slog.Int("rows", len(records)))
	return bindGrid(src, &sliceRecords{records: records}, r.logger)
}
