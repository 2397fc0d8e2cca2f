// Package asset maps a worksheet's category and day to its image file.
package asset

import (
	"path/filepath"
	"strings"
)

// Ext is the image file extension.
const Ext = ".png"

// Resolve returns <root>/<category>/<lowercased day>.png.
// Category case is kept; existence is checked later by the publisher.
func Resolve(root, category, day string) string {
	return filepath.Join(root, category, strings.ToLower(day)+Ext)
}
