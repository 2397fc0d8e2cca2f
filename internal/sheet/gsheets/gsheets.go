// Package gsheets reads worksheets through the Google Sheets v4 API.
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetcast/internal/sheet"
)

type Config struct {
	SpreadsheetKey  string
	CredentialsFile string
	// Options are appended after the credential options. Tests use them to
	// point the client at a fake endpoint.
	Options []option.ClientOption
}

// Source reads ranges of one spreadsheet with a read-only service account.
type Source struct {
	key string
	svc *sheets.Service
}

func New(ctx context.Context, cfg Config) (*Source, error) {
	key := strings.TrimSpace(cfg.SpreadsheetKey)
	if key == "" {
		return nil, errors.New("gsheets: spreadsheet key is empty")
	}
	opts := make([]option.ClientOption, 0, 2+len(cfg.Options))
	if cred := strings.TrimSpace(cfg.CredentialsFile); cred != "" {
		opts = append(opts, option.WithCredentialsFile(cred))
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	opts = append(opts, cfg.Options...)

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gsheets: %w", err)
	}
	return &Source{key: key, svc: svc}, nil
}

func (s *Source) Read(ctx context.Context, name string, ranges ...string) ([]sheet.Grid, error) {
	qualified := make([]string, len(ranges))
	for i, r := range ranges {
		qualified[i] = quoteSheet(name) + "!" + r
	}
	resp, err := s.svc.Spreadsheets.Values.BatchGet(s.key).
		Ranges(qualified...).
		MajorDimension("ROWS").
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.ValueRanges) != len(ranges) {
		return nil, fmt.Errorf("gsheets: got %d value ranges, want %d", len(resp.ValueRanges), len(ranges))
	}

	out := make([]sheet.Grid, len(resp.ValueRanges))
	for i, vr := range resp.ValueRanges {
		g := make(sheet.Grid, 0, len(vr.Values))
		for _, row := range vr.Values {
			cells := make([]string, len(row))
			for j, v := range row {
				if v != nil {
					cells[j] = fmt.Sprint(v)
				}
			}
			g = append(g, cells)
		}
		out[i] = g
	}
	return out, nil
}

// quoteSheet wraps a worksheet title in single quotes for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// classify marks errors that a retry cannot fix.
// Throttling, server errors and network failures stay transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusRequestTimeout, gerr.Code >= 500:
			return fmt.Errorf("gsheets: %w", err)
		case gerr.Code >= 400:
			// 400 is what the API returns for an unknown worksheet ("Unable to parse range").
			return sheet.Permanent(fmt.Errorf("gsheets: %w", err))
		}
	}
	return fmt.Errorf("gsheets: %w", err)
}
