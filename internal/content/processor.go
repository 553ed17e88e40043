package content

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nomadbarefoot/surf/internal/types"
)

var (
	spaceRun       = regexp.MustCompile(`[ \t]+`)
	ellipsisRun    = regexp.MustCompile(`\.{3,}`)
	spaceBeforeEnd = regexp.MustCompile(`\s+([.!?])`)
)

// Normalize cleans extracted text: collapses whitespace runs, strips
// navigation tokens and footer boilerplate, squeezes ellipses, fixes spacing
// before terminal punctuation, and drops empty lines. Normalize is
// idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(pats *Patterns, text string) string {
	if text == "" {
		return ""
	}

	if pats.navTokens != nil {
		text = pats.navTokens.ReplaceAllString(text, "")
	}
	if pats.footerPhrases != nil {
		text = pats.footerPhrases.ReplaceAllString(text, "")
	}

	text = ellipsisRun.ReplaceAllString(text, "...")
	text = spaceBeforeEnd.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// Meaningfulness thresholds. Text is considered meaningful when it clears
// all three.
const (
	meaningfulMinChars = 100
	meaningfulMinWords = 10
	meaningfulMinScore = 0.3
)

// Quality computes the content quality metrics: counts plus an additive
// score in [0,1] built from length, word density, unique-word diversity,
// and domain-term hits.
func Quality(pats *Patterns, text string) types.QualityMetrics {
	if text == "" {
		return types.QualityMetrics{}
	}

	words := strings.Fields(text)
	wordCount := len(words)
	lineCount := len(strings.Split(text, "\n"))
	charCount := len(text)

	score := 0.0

	switch {
	case charCount > 500:
		score += 0.3
	case charCount > 100:
		score += 0.1
	}

	switch {
	case wordCount > 50:
		score += 0.2
	case wordCount > 10:
		score += 0.1
	}

	unique := make(map[string]struct{}, wordCount)
	for _, w := range words {
		unique[strings.ToLower(w)] = struct{}{}
	}
	switch {
	case len(unique) > 20:
		score += 0.2
	case len(unique) > 5:
		score += 0.1
	}

	meaningfulHits := 0
	for _, re := range pats.meaningful {
		meaningfulHits += len(re.FindAllStringIndex(text, -1))
	}
	if meaningfulHits > 0 {
		score += 0.3
	}

	if score > 1.0 {
		score = 1.0
	}

	return types.QualityMetrics{
		WordCount:  wordCount,
		LineCount:  lineCount,
		CharCount:  charCount,
		Score:      score,
		Meaningful: charCount > meaningfulMinChars && wordCount > meaningfulMinWords && score > meaningfulMinScore,
	}
}

// CAPTCHA content thresholds: pages under captchaShortPage chars are flagged
// outright; pages under captchaSuspectPage chars are flagged when a known
// phrase appears.
const (
	captchaShortPage   = 500
	captchaSuspectPage = 1000
)

// DetectCaptchaText applies the content-side CAPTCHA heuristic. The DOM
// probe half of the detection lives with the executor, which has page
// access; it should be consulted when this returns false.
func DetectCaptchaText(pats *Patterns, text string) (bool, string) {
	charCount := len(text)
	if charCount < captchaShortPage {
		return true, fmt.Sprintf("Insufficient content length: %d chars", charCount)
	}

	if charCount < captchaSuspectPage {
		lower := strings.ToLower(text)
		for _, phrase := range pats.captchaPhrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return true, "CAPTCHA pattern found in low-content page"
			}
		}
	}

	return false, "No CAPTCHA detected"
}

// DetectType scores the text against the five content-kind pattern sets and
// returns the best kind with a confidence in [0,1]. Returns "general" with
// zero confidence when nothing matches.
func DetectType(pats *Patterns, text string) (string, float64) {
	if text == "" {
		return "unknown", 0
	}

	lower := strings.ToLower(text)
	bestKind := "general"
	bestScore := 0
	for _, kind := range sortedKinds(pats.contentTypes) {
		score := 0
		for _, re := range pats.contentTypes[kind] {
			score += len(re.FindAllStringIndex(lower, -1))
		}
		if score > bestScore {
			bestScore = score
			bestKind = kind
		}
	}
	if bestScore == 0 {
		return "general", 0
	}

	// Confidence normalizes match density against text length.
	wordCount := len(strings.Fields(text))
	if wordCount == 0 {
		return bestKind, 0
	}
	confidence := float64(bestScore) / (float64(wordCount) / 100)
	if confidence > 1.0 {
		confidence = 1.0
	}
	return bestKind, confidence
}

// sortedKinds gives deterministic iteration so ties resolve stably.
func sortedKinds(m map[string][]*regexp.Regexp) []string {
	kinds := make([]string, 0, len(m))
	for kind := range m {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

var (
	forumTopicLine  = regexp.MustCompile(`(?m)^([A-Z][^\n]+)$`)
	forumUserRef    = regexp.MustCompile(`@([a-zA-Z0-9_]+)`)
	newsDateRef     = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\w+ \d{1,2}, \d{4}\b`)
	financialSymbol = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	financialPrice  = regexp.MustCompile(`\$\d+\.?\d*|\d+\.?\d*\s*(?:USD|EUR|GBP)`)
	financialPct    = regexp.MustCompile(`\d+\.?\d*%`)
)

// StructuredData is the typed result of structured extraction: the harvested
// elements plus the raw text and its quality metrics.
type StructuredData struct {
	RawContent  string               `json:"raw_content"`
	ContentType string               `json:"content_type"`
	Metrics     types.QualityMetrics `json:"metrics"`
	Elements    map[string][]string  `json:"extracted_elements"`
}

// ExtractStructured harvests kind-specific elements from the text via regex
// patterns: forum topics and user mentions, news headlines and dates, or
// financial symbols, prices, and percentages.
func ExtractStructured(pats *Patterns, text, kind string) StructuredData {
	data := StructuredData{
		RawContent:  text,
		ContentType: kind,
		Metrics:     Quality(pats, text),
		Elements:    map[string][]string{},
	}
	if text == "" {
		return data
	}

	switch kind {
	case types.KindForum:
		var topics []string
		for _, m := range forumTopicLine.FindAllStringSubmatch(text, -1) {
			topic := strings.TrimSpace(m[1])
			if len(topic) > 10 {
				topics = append(topics, topic)
			}
		}
		data.Elements["topics"] = topics
		data.Elements["users"] = uniqueMatches(forumUserRef, text, 1)

	case types.KindNews:
		var headlines []string
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if len(line) <= 20 || len(line) >= 200 {
				continue
			}
			if strings.HasPrefix(line, "http") || strings.HasPrefix(line, "www") ||
				strings.HasPrefix(line, "©") || strings.HasPrefix(line, "Copyright") {
				continue
			}
			headlines = append(headlines, line)
			if len(headlines) == 10 {
				break
			}
		}
		data.Elements["headlines"] = headlines
		data.Elements["dates"] = uniqueMatches(newsDateRef, text, 0)

	case types.KindFinancial:
		data.Elements["stock_symbols"] = uniqueMatches(financialSymbol, text, 0)
		data.Elements["prices"] = uniqueMatches(financialPrice, text, 0)
		data.Elements["percentages"] = uniqueMatches(financialPct, text, 0)
	}

	return data
}

// uniqueMatches collects distinct matches (or submatch group) preserving
// first-seen order.
func uniqueMatches(re *regexp.Regexp, text string, group int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		val := m[group]
		if _, dup := seen[val]; dup {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
