package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// News-specific content containers, most specific first.
var newsBodySelectors = []string{
	"[itemprop=articleBody]",
	".article-content",
	".story-body",
	".article__body",
	"article",
}

// NewsStrategy targets news CMS markup: OpenGraph metadata for the title and
// schema.org or publisher-specific containers for the body. Fails unless the
// page self-identifies as an article.
type NewsStrategy struct{}

// NewNewsStrategy constructs the strategy.
func NewNewsStrategy() *NewsStrategy {
	return &NewsStrategy{}
}

// Method identifies the strategy.
func (s *NewsStrategy) Method() archive.ExtractionMethod {
	return archive.MethodNews
}

// Extract reads article markup and OpenGraph metadata.
func (s *NewsStrategy) Extract(_ context.Context, _ string, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(padBlockTags(string(body)))))
	if err != nil {
		return Result{}, fmt.Errorf("parse document: %w", err)
	}

	if !looksLikeArticle(doc) {
		return Result{}, fmt.Errorf("page does not identify as an article")
	}

	for _, sel := range []string{"script", "style", "noscript", "figure figcaption ~ *", "aside"} {
		doc.Find(sel).Remove()
	}

	var region *goquery.Selection
	for _, sel := range newsBodySelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			region = found.First()
			break
		}
	}
	if region == nil {
		return Result{}, fmt.Errorf("no article body container")
	}

	text := normalizeText(region.Text())
	if text == "" {
		return Result{}, fmt.Errorf("article body is empty")
	}

	html, err := goquery.OuterHtml(region)
	if err != nil {
		html = ""
	}

	return Result{
		Title:    newsTitle(doc),
		BodyText: text,
		HTML:     html,
	}, nil
}

func looksLikeArticle(doc *goquery.Document) bool {
	if ogType, _ := doc.Find(`meta[property="og:type"]`).Attr("content"); strings.EqualFold(ogType, "article") {
		return true
	}
	if doc.Find(`meta[property="article:published_time"]`).Length() > 0 {
		return true
	}
	if doc.Find("[itemprop=articleBody]").Length() > 0 {
		return true
	}
	return false
}

func newsTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
