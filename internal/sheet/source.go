package sheet

import (
	"context"
	"errors"
	"fmt"
)

// Grid is a rectangular-ish block of cell values, row-major.
// Sources may omit trailing empty cells and rows.
type Grid [][]string

// Source reads A1 ranges of one worksheet. One call is one attempt.
type Source interface {
	Read(ctx context.Context, sheet string, ranges ...string) ([]Grid, error)
}

// ErrPermanent marks source errors that retrying cannot fix (missing
// worksheet, no access).
var ErrPermanent = errors.New("permanent source error")

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Cell returns the value at (row, col) or "" when absent.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}
