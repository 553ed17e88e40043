package content

import "regexp"

// Chunk is one size-bounded piece of text aligned with a detected semantic
// boundary, plus metadata about it.
type Chunk struct {
	Content    string  `json:"content"`
	Type       string  `json:"chunk_type"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	Confidence float64 `json:"confidence"`
	Size       int     `json:"size"`
	WordCount  int     `json:"word_count"`
	IsSplit    bool    `json:"is_split,omitempty"`
}

// boundaryPatterns matches the semantic boundary kinds the chunker knows.
var boundaryPatterns = map[string]*regexp.Regexp{
	"paragraph": regexp.MustCompile(`\n\s*\n`),
	"sentence":  regexp.MustCompile(`[.!?]+\s+`),
	"heading":   regexp.MustCompile(`\n\s*#{1,6}\s+`),
	"list_item": regexp.MustCompile(`\n\s*[-*•]\s+`),
	"quote":     regexp.MustCompile(`\n\s*>\s+`),
	"table_row": regexp.MustCompile(`\n\s*\|.*\|`),
}

// chunkRules are the per-content-kind size bounds and boundary preferences.
type chunkRules struct {
	minSize    int
	maxSize    int
	boundaries []string
}

var chunkRulesByKind = map[string]chunkRules{
	"news":      {minSize: 100, maxSize: 1000, boundaries: []string{"paragraph", "sentence"}},
	"forum":     {minSize: 50, maxSize: 500, boundaries: []string{"paragraph", "list_item"}},
	"financial": {minSize: 200, maxSize: 800, boundaries: []string{"paragraph", "sentence"}},
	"blog":      {minSize: 150, maxSize: 1200, boundaries: []string{"paragraph", "heading"}},
	"general":   {minSize: 100, maxSize: 1000, boundaries: []string{"paragraph", "sentence"}},
}

type boundary struct {
	pos        int
	kind       string
	confidence float64
}

// ChunkText splits text into semantic chunks for the given content kind.
// Boundaries below confidenceThreshold are skipped; oversized runs split at
// a sentence boundary past the halfway point. The result preserves input
// order.
func ChunkText(text, kind string, confidenceThreshold float64) []Chunk {
	if text == "" {
		return nil
	}

	rules, ok := chunkRulesByKind[kind]
	if !ok {
		rules = chunkRulesByKind["general"]
	}

	boundaries := findBoundaries(text, rules)

	var chunks []Chunk
	start := 0
	for _, b := range boundaries {
		if b.confidence < confidenceThreshold {
			continue
		}
		piece := trimOffsets(text, start, b.pos)
		if piece.length() < rules.minSize {
			continue
		}
		if piece.length() > rules.maxSize {
			chunks = append(chunks, splitLarge(text, piece, rules)...)
		} else {
			chunks = append(chunks, newChunk(text, piece, b.kind, b.confidence, false))
		}
		start = b.pos
	}

	// Tail after the last accepted boundary.
	if start < len(text) {
		piece := trimOffsets(text, start, len(text))
		if piece.length() >= rules.minSize {
			if piece.length() > rules.maxSize {
				chunks = append(chunks, splitLarge(text, piece, rules)...)
			} else {
				chunks = append(chunks, newChunk(text, piece, "remaining", 0.5, false))
			}
		}
	}

	return chunks
}

// findBoundaries locates every preferred-boundary match, position-ordered.
func findBoundaries(text string, rules chunkRules) []boundary {
	var out []boundary
	for _, kind := range rules.boundaries {
		re, ok := boundaryPatterns[kind]
		if !ok {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, boundary{
				pos:        loc[0],
				kind:       kind,
				confidence: boundaryConfidence(text, loc[0], kind),
			})
		}
	}
	// Insertion sort keeps this simple; boundary counts are small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].pos < out[j-1].pos; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

var terminalPunct = regexp.MustCompile(`[.!?]`)

// boundaryConfidence scores a boundary by kind and surrounding density.
func boundaryConfidence(text string, pos int, kind string) float64 {
	confidence := 0.5

	switch kind {
	case "paragraph":
		confidence += 0.3
	case "sentence":
		confidence += 0.2
	case "heading":
		confidence += 0.4
	}

	if countWords(text[:pos]) > 10 && countWords(text[pos:]) > 10 {
		confidence += 0.1
	}

	ctxStart := max(0, pos-50)
	ctxEnd := min(len(text), pos+50)
	if terminalPunct.MatchString(text[ctxStart:ctxEnd]) {
		confidence += 0.1
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// span is a trimmed [start,end) window into the source text.
type span struct {
	start, end int
}

func (s span) length() int { return s.end - s.start }

// trimOffsets shrinks [start,end) past leading and trailing whitespace.
func trimOffsets(text string, start, end int) span {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return span{start: start, end: end}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func newChunk(text string, s span, kind string, confidence float64, isSplit bool) Chunk {
	piece := text[s.start:s.end]
	return Chunk{
		Content:    piece,
		Type:       kind,
		StartIndex: s.start,
		EndIndex:   s.end,
		Confidence: confidence,
		Size:       len(piece),
		WordCount:  countWords(piece),
		IsSplit:    isSplit,
	}
}

// splitLarge cuts an oversized span into max-size pieces, preferring a
// sentence end in the second half of each window.
func splitLarge(text string, s span, rules chunkRules) []Chunk {
	var chunks []Chunk
	cur := s.start
	for cur < s.end {
		windowEnd := min(cur+rules.maxSize, s.end)

		best := windowEnd
		for i := windowEnd - 1; i > cur+rules.maxSize/2 && i > cur; i-- {
			c := text[i]
			if c == '.' || c == '!' || c == '?' {
				best = i + 1
				break
			}
		}

		piece := trimOffsets(text, cur, best)
		if piece.length() >= rules.minSize {
			chunks = append(chunks, newChunk(text, piece, "split", 0.6, true))
		}
		if best == cur {
			break
		}
		cur = best
	}
	return chunks
}

func countWords(s string) int {
	n := 0
	inWord := false
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			inWord = false
		} else if !inWord {
			inWord = true
			n++
		}
	}
	return n
}
