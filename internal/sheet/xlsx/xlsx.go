// Package xlsx reads worksheets from a local .xlsx workbook.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"sheetcast/internal/sheet"
)

// Source opens the workbook on every Read so edits show up on the next run.
type Source struct {
	path string
}

func New(path string) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("xlsx: workbook path is empty")
	}
	return &Source{path: path}, nil
}

func (s *Source) Read(ctx context.Context, name string, ranges ...string) ([]sheet.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wb, err := excelize.OpenFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, sheet.Permanent(fmt.Errorf("open workbook: %w", err))
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = wb.Close() }()

	if idx, err := wb.GetSheetIndex(name); err != nil || idx < 0 {
		return nil, sheet.Permanent(fmt.Errorf("worksheet %q not found in %s", name, s.path))
	}

	out := make([]sheet.Grid, 0, len(ranges))
	for _, a1 := range ranges {
		rect, err := sheet.ParseRange(a1)
		if err != nil {
			return nil, sheet.Permanent(err)
		}
		g, err := readRect(wb, name, rect)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func readRect(wb *excelize.File, name string, r sheet.Rect) (sheet.Grid, error) {
	g := make(sheet.Grid, 0, r.Height())
	for row := r.Row1; row <= r.Row2; row++ {
		cells := make([]string, 0, r.Width())
		for col := r.Col1; col <= r.Col2; col++ {
			axis, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return nil, sheet.Permanent(err)
			}
			v, err := wb.GetCellValue(name, axis)
			if err != nil {
				return nil, fmt.Errorf("read %s!%s: %w", name, axis, err)
			}
			cells = append(cells, v)
		}
		g = append(g, cells)
	}
	return g, nil
}
