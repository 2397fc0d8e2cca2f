package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Layout names where a worksheet keeps its parts.
type Layout struct {
	HeaderRange  string
	DataRange    string
	CategoryCell string
	DayCell      string
	MaxRows      int
}

func DefaultLayout() Layout {
	return Layout{
		HeaderRange:  "C1:F1",
		DataRange:    "C2:F11",
		CategoryCell: "A2",
		DayCell:      "B2",
		MaxRows:      10,
	}
}

// Rect is a parsed A1 range, 1-based and inclusive.
type Rect struct {
	Col1, Row1 int
	Col2, Row2 int
}

func (r Rect) Width() int  { return r.Col2 - r.Col1 + 1 }
func (r Rect) Height() int { return r.Row2 - r.Row1 + 1 }

// ParseRange parses "C1:F1" or a single cell "A2".
func ParseRange(a1 string) (Rect, error) {
	a1 = strings.TrimSpace(a1)
	from, to, isRange := strings.Cut(a1, ":")
	if !isRange {
		to = from
	}
	c1, r1, err := excelize.CellNameToCoordinates(from)
	if err != nil {
		return Rect{}, fmt.Errorf("range %q: %w", a1, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(to)
	if err != nil {
		return Rect{}, fmt.Errorf("range %q: %w", a1, err)
	}
	if c2 < c1 || r2 < r1 {
		return Rect{}, fmt.Errorf("range %q: end before start", a1)
	}
	return Rect{Col1: c1, Row1: r1, Col2: c2, Row2: r2}, nil
}

// Normalize fills defaults and checks the ranges parse.
// The header range must be a single row; the data range must be as wide as it.
func (l Layout) Normalize() (Layout, error) {
	def := DefaultLayout()
	if strings.TrimSpace(l.HeaderRange) == "" {
		l.HeaderRange = def.HeaderRange
	}
	if strings.TrimSpace(l.DataRange) == "" {
		l.DataRange = def.DataRange
	}
	if strings.TrimSpace(l.CategoryCell) == "" {
		l.CategoryCell = def.CategoryCell
	}
	if strings.TrimSpace(l.DayCell) == "" {
		l.DayCell = def.DayCell
	}

	hdr, err := ParseRange(l.HeaderRange)
	if err != nil {
		return l, err
	}
	if hdr.Height() != 1 {
		return l, fmt.Errorf("header range %q must be a single row", l.HeaderRange)
	}
	data, err := ParseRange(l.DataRange)
	if err != nil {
		return l, err
	}
	if data.Width() != hdr.Width() {
		return l, fmt.Errorf("data range %q must be %d columns wide", l.DataRange, hdr.Width())
	}
	for _, c := range []string{l.CategoryCell, l.DayCell} {
		r, err := ParseRange(c)
		if err != nil {
			return l, err
		}
		if r.Width() != 1 || r.Height() != 1 {
			return l, fmt.Errorf("%q must be a single cell", c)
		}
	}
	if l.MaxRows <= 0 || l.MaxRows > data.Height() {
		l.MaxRows = data.Height()
	}
	return l, nil
}

// Width is the number of header columns.
func (l Layout) Width() int {
	r, err := ParseRange(l.HeaderRange)
	if err != nil {
		return 0
	}
	return r.Width()
}
