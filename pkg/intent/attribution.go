package intent

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultStopWords is the default stop-word set used for both Jaccard
// utterance-id attribution and semantic-fingerprint deduplication (spec.md
// §9: "the, is, a, an, of, to, in, on, ..."). Exposed as a package var so
// callers can narrow/widen it per spec.md §10's open-question decision on
// over-aggressive deduplication.
var DefaultStopWords = map[string]bool{
	"the": true, "is": true, "a": true, "an": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "for": true,
	"and": true, "or": true, "but": true, "with": true, "it": true,
	"this": true, "that": true, "be": true, "are": true, "was": true,
	"were": true, "i": true, "you": true, "he": true, "she": true,
}

var wordBoundaryRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits on alphanumeric word boundaries.
func tokenize(s string) []string {
	return wordBoundaryRe.FindAllString(strings.ToLower(s), -1)
}

// significantWords tokenizes s and removes stop words, per the
// attribution/dedup fallback described in spec.md §9.
func significantWords(s string, stopWords map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, w := range tokenize(s) {
		if stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// jaccard computes the Jaccard similarity between two word sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Fingerprint returns the sorted, stop-word-stripped significant-word set of
// text, joined with a separator unlikely to appear in a word (spec.md §9's
// "semantic fingerprint").
func Fingerprint(text string, stopWords map[string]bool) string {
	words := significantWords(text, stopWords)
	sorted := make([]string, 0, len(words))
	for w := range words {
		sorted = append(sorted, w)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

// AttributeUtteranceID implements spec.md §4.4's attribution fallback: prefer
// the classifier's own utterance_id if it names one of the candidates;
// otherwise pick the candidate whose text has maximum Jaccard overlap with
// sourceText. Returns "" if candidates is empty.
func AttributeUtteranceID(classifierID, sourceText string, candidates map[string]string, stopWords map[string]bool) string {
	if classifierID != "" {
		if _, ok := candidates[classifierID]; ok {
			return classifierID
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	sourceWords := significantWords(sourceText, stopWords)
	bestID := ""
	bestScore := -1.0
	// Iterate candidate ids in sorted order for determinism when scores tie.
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		text := candidates[id]
		score := jaccard(sourceWords, significantWords(text, stopWords))
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	return bestID
}
