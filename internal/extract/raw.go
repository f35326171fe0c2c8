package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// RawStrategy is the last-resort fallback: strip scripts and styles, take
// everything else. Always produces something on parseable HTML, at the cost
// of navigation and boilerplate noise in the text.
type RawStrategy struct{}

// NewRawStrategy constructs the strategy.
func NewRawStrategy() *RawStrategy {
	return &RawStrategy{}
}

// Method identifies the strategy.
func (s *RawStrategy) Method() archive.ExtractionMethod {
	return archive.MethodRaw
}

// Extract flattens the whole body to text.
func (s *RawStrategy) Extract(_ context.Context, _ string, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(padBlockTags(string(body)))))
	if err != nil {
		return Result{}, fmt.Errorf("parse document: %w", err)
	}

	doc.Find("script, style, noscript, template").Remove()

	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		text = normalizeText(doc.Text())
	}
	if text == "" {
		return Result{}, fmt.Errorf("document has no text")
	}

	return Result{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		BodyText: text,
	}, nil
}
