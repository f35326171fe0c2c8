// Package extract turns archived HTML snapshots into clean article text. A
// chain of strategies runs in precision order, each guarded by its own
// circuit breaker, and the first result clearing the quality threshold wins.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Result is one strategy's raw output before scoring.
type Result struct {
	Title    string
	BodyText string
	// HTML is the cleaned content subtree when the strategy preserved one.
	// Feeds the structure score and markdown rendering; may be empty.
	HTML string
}

// Strategy extracts article content from one snapshot body.
type Strategy interface {
	Method() archive.ExtractionMethod
	Extract(ctx context.Context, pageURL string, body []byte) (Result, error)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeText collapses whitespace runs left behind by tag stripping.
func normalizeText(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// blockTagRe matches opening and closing block-level tags, keeping their
// attributes intact. The \b anchor stops "li" from also hitting "link".
var blockTagRe = regexp.MustCompile(`(?i)(</?(?:div|p|br|li|td|tr|h[1-6])\b[^>]*>)`)

// padBlockTags inserts spaces around block elements so that stripping tags
// does not weld adjacent words together. Tags pass through unchanged so
// selectors still see their ids, classes, and roles.
func padBlockTags(html string) string {
	return blockTagRe.ReplaceAllString(html, " $1 ")
}
