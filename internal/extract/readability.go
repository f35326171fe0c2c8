package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// ReadabilityStrategy runs the Mozilla readability port. Highest precision on
// article-shaped pages, fails on anything it cannot find a content root in.
type ReadabilityStrategy struct{}

// NewReadabilityStrategy constructs the strategy.
func NewReadabilityStrategy() *ReadabilityStrategy {
	return &ReadabilityStrategy{}
}

// Method identifies the strategy.
func (s *ReadabilityStrategy) Method() archive.ExtractionMethod {
	return archive.MethodReadability
}

// Extract parses the snapshot with readability and flattens the content
// subtree to text.
func (s *ReadabilityStrategy) Extract(_ context.Context, pageURL string, body []byte) (Result, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return Result{}, fmt.Errorf("readability parse: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return Result{}, fmt.Errorf("readability found no content root")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padBlockTags(article.Content)))
	if err != nil {
		return Result{}, fmt.Errorf("parse content subtree: %w", err)
	}

	return Result{
		Title:    article.Title,
		BodyText: normalizeText(doc.Text()),
		HTML:     article.Content,
	}, nil
}
