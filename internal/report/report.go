// Package report renders scan results for people and machines: JSON for
// tooling, Markdown for review, SARIF 2.1.0 for code-scanning uploads.
package report

import (
	"fmt"

	"github.com/hydrasec/hydra/internal/scan"
)

// Format names a renderer
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatSARIF    Format = "sarif"
)

// Renderer turns one scan result into bytes
type Renderer interface {
	Format() Format
	Render(res *scan.Result) ([]byte, error)
}

// For returns the renderer for a format name
func For(format string) (Renderer, error) {
	switch Format(format) {
	case FormatJSON:
		return JSONRenderer{}, nil
	case FormatMarkdown, "md":
		return MarkdownRenderer{}, nil
	case FormatSARIF:
		return SARIFRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
