package extract

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// MarkdownRenderer converts a cleaned content subtree to CommonMark for
// storage alongside the plain text.
type MarkdownRenderer struct {
	conv *converter.Converter
}

// NewMarkdownRenderer builds the converter with the commonmark and table
// plugins.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Render converts content HTML to markdown. Empty input renders to empty
// output without error.
func (r *MarkdownRenderer) Render(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	md, err := r.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return md, nil
}
