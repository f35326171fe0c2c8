package filter

import "regexp"

// staticAssetExtensions lists file extensions that never carry article-like
// content and are dropped before any other check.
var staticAssetExtensions = map[string]struct{}{
	".css":   {},
	".js":    {},
	".mjs":   {},
	".map":   {},
	".png":   {},
	".jpg":   {},
	".jpeg":  {},
	".gif":   {},
	".webp":  {},
	".svg":   {},
	".ico":   {},
	".woff":  {},
	".woff2": {},
	".ttf":   {},
	".eot":   {},
	".otf":   {},
	".mp3":   {},
	".mp4":   {},
	".avi":   {},
	".mov":   {},
	".zip":   {},
	".gz":    {},
	".rar":   {},
	".exe":   {},
	".swf":   {},
}

// listPagePatterns match pagination, admin, search, and archive listing URLs.
// These pages index content rather than carry it, so extraction effort on
// them is wasted. First match wins; patterns are evaluated against the URL
// path and query.
var listPagePatterns = []*regexp.Regexp{
	// Pagination.
	regexp.MustCompile(`(?i)[?&]page=\d+`),
	regexp.MustCompile(`(?i)[?&]p=\d+`),
	regexp.MustCompile(`(?i)[?&]paged=\d+`),
	regexp.MustCompile(`(?i)[?&]offset=\d+`),
	regexp.MustCompile(`(?i)[?&]start=\d+`),
	regexp.MustCompile(`(?i)/page/\d+/?$`),
	regexp.MustCompile(`(?i)/p/\d+/?$`),
	regexp.MustCompile(`(?i)-page-\d+\.`),
	regexp.MustCompile(`(?i)_page_?\d+\.`),

	// Admin and login surfaces.
	regexp.MustCompile(`(?i)/wp-admin(/|$)`),
	regexp.MustCompile(`(?i)/wp-login\.php`),
	regexp.MustCompile(`(?i)/wp-json(/|$)`),
	regexp.MustCompile(`(?i)/xmlrpc\.php`),
	regexp.MustCompile(`(?i)/admin(/|$)`),
	regexp.MustCompile(`(?i)/administrator(/|$)`),
	regexp.MustCompile(`(?i)/login(/|$)`),
	regexp.MustCompile(`(?i)/signin(/|$)`),
	regexp.MustCompile(`(?i)/signup(/|$)`),
	regexp.MustCompile(`(?i)/register(/|$)`),
	regexp.MustCompile(`(?i)/logout(/|$)`),
	regexp.MustCompile(`(?i)/cgi-bin/`),

	// Search and faceted listings.
	regexp.MustCompile(`(?i)/search(/|$|\?)`),
	regexp.MustCompile(`(?i)[?&]q=`),
	regexp.MustCompile(`(?i)[?&]s=`),
	regexp.MustCompile(`(?i)[?&]query=`),
	regexp.MustCompile(`(?i)[?&]search=`),
	regexp.MustCompile(`(?i)[?&]filter=`),
	regexp.MustCompile(`(?i)[?&]sort(by)?=`),
	regexp.MustCompile(`(?i)[?&]order(by)?=`),

	// Category, tag, and author listings.
	regexp.MustCompile(`(?i)/category/`),
	regexp.MustCompile(`(?i)/categories/`),
	regexp.MustCompile(`(?i)/tag/`),
	regexp.MustCompile(`(?i)/tags/`),
	regexp.MustCompile(`(?i)/topics?/[^/]+/?$`),
	regexp.MustCompile(`(?i)/author/`),
	regexp.MustCompile(`(?i)/label/`),
	regexp.MustCompile(`(?i)/section/[^/]+/?$`),

	// Date archive listings (year or year/month, no slug after).
	regexp.MustCompile(`(?i)/\d{4}/?$`),
	regexp.MustCompile(`(?i)/\d{4}/\d{1,2}/?$`),
	regexp.MustCompile(`(?i)/archives?(/|$)`),
	regexp.MustCompile(`(?i)[?&]m=\d{6}`),
	regexp.MustCompile(`(?i)[?&]year=\d{4}`),

	// Feeds, sitemaps, and machine endpoints.
	regexp.MustCompile(`(?i)/feed/?$`),
	regexp.MustCompile(`(?i)/rss/?$`),
	regexp.MustCompile(`(?i)/atom/?$`),
	regexp.MustCompile(`(?i)/sitemap[^/]*\.xml`),
	regexp.MustCompile(`(?i)/robots\.txt$`),
}

// researchTLDs are TLD suffixes favored by the priority scorer.
var researchTLDs = []string{
	".gov",
	".edu",
	".mil",
	".int",
	".ac.uk",
	".edu.au",
	".gov.uk",
}

// researchKeywords boost URLs that look like substantive publications.
var researchKeywords = []string{
	"research",
	"study",
	"report",
	"paper",
	"publication",
	"journal",
	"analysis",
	"whitepaper",
	"findings",
	"survey",
	"statistics",
	"dataset",
}
