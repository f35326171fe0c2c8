package extract

import (
	"strings"
	"unicode"
)

// Stopword samples per language. Hit ratio against these is a cheap but
// serviceable language signal for archived web text.
var stopwords = map[string][]string{
	"en": {
		"the", "and", "of", "to", "in", "is", "that", "for", "with", "was",
		"are", "this", "have", "from", "not", "but", "they", "his", "her",
	},
	"es": {
		"el", "la", "de", "que", "y", "en", "los", "del", "las", "por",
		"con", "una", "para", "como", "más", "sus", "este", "pero",
	},
	"fr": {
		"le", "la", "les", "des", "et", "en", "un", "une", "que", "qui",
		"dans", "pour", "par", "sur", "avec", "pas", "plus", "sont",
	},
	"de": {
		"der", "die", "das", "und", "ist", "von", "mit", "den", "auf",
		"ein", "eine", "nicht", "auch", "sich", "dem", "werden", "aus",
	},
}

var stopwordIndex = buildStopwordIndex()

func buildStopwordIndex() map[string]map[string]struct{} {
	idx := make(map[string]map[string]struct{}, len(stopwords))
	for lang, words := range stopwords {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		idx[lang] = set
	}
	return idx
}

// detectLanguage guesses the dominant language of text and returns an ISO
// 639-1 code plus a confidence in [0,1]. Unknown or too-short text yields
// ("und", 0).
func detectLanguage(text string) (string, float64) {
	tokens := tokenize(text)
	if len(tokens) < 10 {
		return "und", 0
	}

	bestLang, bestHits := "und", 0
	for lang, set := range stopwordIndex {
		hits := 0
		for _, tok := range tokens {
			if _, ok := set[tok]; ok {
				hits++
			}
		}
		if hits > bestHits {
			bestLang, bestHits = lang, hits
		}
	}
	if bestHits == 0 {
		return "und", 0
	}

	// Natural prose lands around a 1-in-4 stopword ratio; scale so that
	// ratio maps to full confidence.
	confidence := float64(bestHits) / float64(len(tokens)) * 4
	if confidence > 1 {
		confidence = 1
	}
	return bestLang, confidence
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
