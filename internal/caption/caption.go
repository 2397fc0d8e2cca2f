// Package caption renders worksheet rows into a post caption.
package caption

import "strings"

// Separator is the default line placed between row blocks.
var Separator = strings.Repeat("-", 30)

// Compose renders each row as "header: value" lines and joins row blocks
// with a separator line. Rows shorter than headers render missing cells as "".
// The result is deterministic for equal inputs.
func Compose(headers []string, rows [][]string, separator string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(separator)
			b.WriteString("\n")
		}
		for j, h := range headers {
			if j > 0 {
				b.WriteString("\n")
			}
			v := ""
			if j < len(row) {
				v = row[j]
			}
			b.WriteString(h)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return b.String()
}
