package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Selectors tried in order for the main content region.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	"#content",
	"#main-content",
	".post-content",
	".entry-content",
	".article-body",
	".content",
}

// Chrome elements removed before text extraction.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template", "iframe",
	"nav", "header", "footer", "aside", "form",
	".sidebar", ".comments", ".related", ".share", ".advertisement",
}

// DOMStrategy is the general-purpose extractor: strip boilerplate, then take
// the densest known content region, falling back to body.
type DOMStrategy struct{}

// NewDOMStrategy constructs the strategy.
func NewDOMStrategy() *DOMStrategy {
	return &DOMStrategy{}
}

// Method identifies the strategy.
func (s *DOMStrategy) Method() archive.ExtractionMethod {
	return archive.MethodDOM
}

// Extract selects the main content region and flattens it to text.
func (s *DOMStrategy) Extract(_ context.Context, _ string, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(padBlockTags(string(body)))))
	if err != nil {
		return Result{}, fmt.Errorf("parse document: %w", err)
	}

	for _, sel := range boilerplateSelectors {
		doc.Find(sel).Remove()
	}

	region := doc.Find("body")
	for _, sel := range contentSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			region = found.First()
			break
		}
	}

	text := normalizeText(region.Text())
	if text == "" {
		return Result{}, fmt.Errorf("no text content in document")
	}

	html, err := goquery.OuterHtml(region)
	if err != nil {
		html = ""
	}

	return Result{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		BodyText: text,
		HTML:     html,
	}, nil
}
