// Package ui provides the embedded conversion page.
package ui

import (
	_ "embed"
)

// IndexHTML is the single page that lists formats and submits conversions.
//
//go:embed index.html
var IndexHTML []byte
