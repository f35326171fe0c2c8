package extract

import (
	"strings"
)

// Quality score component weights.
const (
	weightLength      = 0.25
	weightStructure   = 0.35
	weightReadability = 0.20
	weightLanguage    = 0.15

	weightTotal = weightLength + weightStructure + weightReadability + weightLanguage
)

// Word counts the length component saturates at.
const fullLengthWords = 400

// scoreQuality rates one extraction result in [0,1]. Each component is
// normalized to [0,1] before weighting; the weighted sum is normalized by the
// total weight so a perfect result scores 1.0.
func scoreQuality(res Result, langConfidence float64) float64 {
	words := strings.Fields(res.BodyText)

	sum := weightLength*lengthScore(len(words)) +
		weightStructure*structureScore(res) +
		weightReadability*readabilityScore(words, res.BodyText) +
		weightLanguage*langConfidence
	score := sum / weightTotal
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

func lengthScore(wordCount int) float64 {
	if wordCount <= 0 {
		return 0
	}
	s := float64(wordCount) / fullLengthWords
	if s > 1 {
		return 1
	}
	return s
}

// structureScore rewards a title and real paragraph segmentation. When the
// strategy preserved content HTML, paragraph and heading tags are counted
// there; otherwise blank-line splits in the text stand in.
func structureScore(res Result) float64 {
	score := 0.0
	if strings.TrimSpace(res.Title) != "" {
		score += 0.3
	}

	paragraphs := 0
	headings := 0
	if res.HTML != "" {
		lower := strings.ToLower(res.HTML)
		paragraphs = strings.Count(lower, "<p")
		for _, tag := range []string{"<h1", "<h2", "<h3", "<h4"} {
			headings += strings.Count(lower, tag)
		}
	} else {
		for _, block := range strings.Split(res.BodyText, "\n\n") {
			if strings.TrimSpace(block) != "" {
				paragraphs++
			}
		}
	}

	p := float64(paragraphs) / 5
	if p > 1 {
		p = 1
	}
	score += 0.5 * p
	if headings > 0 {
		score += 0.2
	}
	if score > 1 {
		return 1
	}
	return score
}

// readabilityScore peaks when average sentence length sits in the 8 to 30
// word range typical of edited prose, and decays toward the degenerate
// extremes of tag soup (very long runs) or menu text (very short runs).
func readabilityScore(words []string, text string) float64 {
	if len(words) == 0 {
		return 0
	}
	sentences := countSentences(text)
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(len(words)) / float64(sentences)

	switch {
	case avg >= 8 && avg <= 30:
		return 1
	case avg < 8:
		return avg / 8
	case avg > 120:
		return 0.1
	default:
		// Linear falloff from 1.0 at 30 words to 0.1 at 120.
		return 1 - 0.9*(avg-30)/90
	}
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}
